package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db, logging.NewLogger()), mock
}

func TestFindOpenReturnsNilWhenNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, stream_key, started_at, ended_at, baseline_balance").
		WithArgs("streamer1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stream_key", "started_at", "ended_at", "baseline_balance"}))

	sess, err := s.FindOpen(context.Background(), "streamer1")
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session, got %+v", sess)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindOpenReturnsSession(t *testing.T) {
	s, mock := newMockStore(t)
	startedAt := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "stream_key", "started_at", "ended_at", "baseline_balance"}).
		AddRow("sess-1", "streamer1", startedAt, nil, 1500.0)
	mock.ExpectQuery("SELECT id, stream_key, started_at, ended_at, baseline_balance").
		WithArgs("streamer1").
		WillReturnRows(rows)

	sess, err := s.FindOpen(context.Background(), "streamer1")
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if sess == nil || sess.ID != "sess-1" {
		t.Fatalf("expected sess-1, got %+v", sess)
	}
	if sess.EndedAt != nil {
		t.Fatal("open session must have nil EndedAt")
	}
	if sess.BaselineBalance == nil || *sess.BaselineBalance != 1500 {
		t.Fatalf("expected baseline 1500, got %v", sess.BaselineBalance)
	}
}

func TestOpenInsertsSession(t *testing.T) {
	s, mock := newMockStore(t)
	startedAt := time.Now().UTC()

	mock.ExpectExec("INSERT INTO stream_sessions").
		WithArgs(sqlmock.AnyArg(), "streamer1", startedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := s.Open(context.Background(), "streamer1", startedAt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected generated session id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseStampsEndedAt(t *testing.T) {
	s, mock := newMockStore(t)
	endedAt := time.Now().UTC()

	mock.ExpectExec("UPDATE stream_sessions SET ended_at").
		WithArgs("sess-1", endedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Close(context.Background(), "sess-1", endedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseAlreadyClosedIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)
	endedAt := time.Now().UTC()

	mock.ExpectExec("UPDATE stream_sessions SET ended_at").
		WithArgs("sess-1", endedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Close(context.Background(), "sess-1", endedAt); err != nil {
		t.Fatalf("close on already-closed session should only warn, got %v", err)
	}
}

func TestUpdateBaseline(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE stream_sessions SET baseline_balance").
		WithArgs("sess-1", 2500.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateBaseline(context.Background(), "sess-1", 2500); err != nil {
		t.Fatalf("update baseline: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
