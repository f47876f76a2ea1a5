package models

import "time"

// FrameReading is the structured output of the OCR engine for one frame:
// label matching and numeric extraction have already happened inside the
// engine boundary, the pipeline only sees numbers and confidences.
type FrameReading struct {
	Balance     *float64 `json:"balance,omitempty"`
	Bet         *float64 `json:"bet,omitempty"`
	Win         *float64 `json:"win,omitempty"`
	Confidence  float64  `json:"confidence"`
	IsBonusMode bool     `json:"is_bonus_mode"`
	RawText     []string `json:"raw_text"`
}

// OCRResult is what a worker publishes for a completed job. Never mutated
// after construction.
type OCRResult struct {
	JobID       string    `json:"job_id"`
	StreamKey   string    `json:"stream_key"`
	SessionID   string    `json:"session_id"`
	WorkerID    string    `json:"worker_id"`
	Balance     *float64  `json:"balance,omitempty"`
	Bet         *float64  `json:"bet,omitempty"`
	Win         *float64  `json:"win,omitempty"`
	Confidence  float64   `json:"confidence"`
	IsBonusMode bool      `json:"is_bonus_mode"`
	RawText     []string  `json:"raw_text,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// BalanceReading is the input to the balance processor.
type BalanceReading struct {
	Balance           float64   `json:"balance"`
	Bet               *float64  `json:"bet,omitempty"`
	Win               *float64  `json:"win,omitempty"`
	BalanceConfidence float64   `json:"balance_confidence"`
	BetConfidence     float64   `json:"bet_confidence"`
	WinConfidence     float64   `json:"win_confidence"`
	Timestamp         time.Time `json:"timestamp"`
	FrameRef          string    `json:"frame_ref,omitempty"`
}

// ProcessedBalanceEvent is the balance processor's accept/reject decision
// plus derived values. BalanceChange is nil only for the first reading of a
// session or immediately after a reset.
type ProcessedBalanceEvent struct {
	Balance         float64   `json:"balance"`
	BetAmount       *float64  `json:"bet_amount,omitempty"`
	WinAmount       *float64  `json:"win_amount,omitempty"`
	BalanceChange   *float64  `json:"balance_change,omitempty"`
	IsBonus         bool      `json:"is_bonus"`
	Multiplier      *float64  `json:"multiplier,omitempty"`
	OCRConfidence   float64   `json:"ocr_confidence"`
	IsValid         bool      `json:"is_valid"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
