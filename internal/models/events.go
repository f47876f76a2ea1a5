package models

import "time"

// Balance event types written to the sink and republished for alerting.
const (
	EventBalanceUpdate = "balance_update"
	EventBigWin        = "big_win"
	EventDeposit       = "deposit"
	EventBonusTrigger  = "bonus_trigger"
	EventStreamStart   = "stream_start"
	EventStreamEnd     = "stream_end"
)

// BalanceEvent is the persisted, normalized form of one processed reading.
// EventID makes duplicate batch writes idempotent-safe: the sink table is
// keyed on it and downstream aggregates dedup by event id.
type BalanceEvent struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	StreamKey       string    `json:"stream_key"`
	SessionID       string    `json:"session_id"`
	WorkerID        string    `json:"worker_id"`
	Balance         float64   `json:"balance"`
	BalanceChange   *float64  `json:"balance_change,omitempty"`
	Bet             *float64  `json:"bet,omitempty"`
	Win             *float64  `json:"win,omitempty"`
	Multiplier      *float64  `json:"multiplier,omitempty"`
	Confidence      float64   `json:"confidence"`
	IsBonus         bool      `json:"is_bonus"`
	IsValid         bool      `json:"is_valid"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
