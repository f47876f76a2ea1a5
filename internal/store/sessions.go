package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rogervilla2024/slotfeed-sub001/internal/database"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// SessionStore persists stream sessions in Postgres. Sessions bound one
// continuous broadcast; an open session has ended_at IS NULL.
type SessionStore struct {
	db     database.PostgresConn
	logger logging.Logger
}

func NewSessionStore(db database.PostgresConn, logger logging.Logger) *SessionStore {
	return &SessionStore{db: db, logger: logger}
}

// FindOpen returns the open session for a stream key, or nil when none
// exists. Used for session resumption on rediscovery.
func (s *SessionStore) FindOpen(ctx context.Context, streamKey string) (*models.StreamSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stream_key, started_at, ended_at, baseline_balance
		FROM stream_sessions
		WHERE stream_key = $1 AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`, streamKey)

	var sess models.StreamSession
	var endedAt sql.NullTime
	var baseline sql.NullFloat64
	if err := row.Scan(&sess.ID, &sess.StreamKey, &sess.StartedAt, &endedAt, &baseline); err != nil {
		if err == database.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find open session: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if baseline.Valid {
		sess.BaselineBalance = &baseline.Float64
	}
	return &sess, nil
}

// Open creates a new session for a stream and returns it.
func (s *SessionStore) Open(ctx context.Context, streamKey string, startedAt time.Time) (*models.StreamSession, error) {
	sess := &models.StreamSession{
		ID:        uuid.New().String(),
		StreamKey: streamKey,
		StartedAt: startedAt,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_sessions (id, stream_key, started_at)
		VALUES ($1, $2, $3)`, sess.ID, sess.StreamKey, sess.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"session_id": sess.ID,
		"stream_key": streamKey,
	}).Info("Session opened")
	return sess, nil
}

// Close stamps ended_at on a session.
func (s *SessionStore) Close(ctx context.Context, sessionID string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stream_sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`,
		sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.WithField("session_id", sessionID).Warn("Close on unknown or already-closed session")
	}
	return nil
}

// UpdateBaseline rewrites the session's profit/loss baseline after a
// detected deposit: deposited funds are not winnings.
func (s *SessionStore) UpdateBaseline(ctx context.Context, sessionID string, balance float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stream_sessions SET baseline_balance = $2 WHERE id = $1`,
		sessionID, balance)
	if err != nil {
		return fmt.Errorf("update session baseline: %w", err)
	}
	return nil
}
