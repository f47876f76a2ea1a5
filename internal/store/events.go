package store

import (
	"context"
	"fmt"

	"github.com/rogervilla2024/slotfeed-sub001/internal/database"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// EventSink writes batches of balance events to ClickHouse using the native
// batch API. The table is append-only and keyed by event id, so a
// duplicated batch under at-least-once delivery does not corrupt
// aggregates: downstream queries dedup on event_id.
type EventSink struct {
	conn   database.ClickHouseNativeConn
	logger logging.Logger
}

func NewEventSink(conn database.ClickHouseNativeConn, logger logging.Logger) *EventSink {
	return &EventSink{conn: conn, logger: logger}
}

// WriteBatch inserts all events as a single batch. An empty batch is a
// no-op.
func (s *EventSink) WriteBatch(ctx context.Context, events []models.BalanceEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO balance_events (
			event_id, event_type, stream_key, session_id, worker_id,
			balance, balance_change, bet, win, multiplier,
			confidence, is_bonus, is_valid, rejection_reason, timestamp
		)`)
	if err != nil {
		return fmt.Errorf("prepare balance_events batch: %w", err)
	}

	for _, ev := range events {
		err := batch.Append(
			ev.EventID,
			ev.EventType,
			ev.StreamKey,
			ev.SessionID,
			ev.WorkerID,
			ev.Balance,
			ev.BalanceChange,
			ev.Bet,
			ev.Win,
			ev.Multiplier,
			ev.Confidence,
			ev.IsBonus,
			ev.IsValid,
			ev.RejectionReason,
			ev.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append balance event %s: %w", ev.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send balance_events batch: %w", err)
	}

	s.logger.WithField("events", len(events)).Debug("Flushed balance event batch")
	return nil
}
