package processor

import (
	"math"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// Rejection reasons returned in ProcessedBalanceEvent.RejectionReason.
// Rejections are typed outcomes, not errors: the job that produced the
// reading still completes successfully.
const (
	ReasonLowConfidence   = "Low confidence"
	ReasonOutlier         = "Outlier"
	ReasonNegativeBalance = "Negative balance"
	ReasonBetOverBalance  = "Bet exceeds balance"
	ReasonUnconfirmed     = "Unconfirmed jump"
)

// Config tunes the validation gates. The defaults are the values the
// pipeline was calibrated with; override per-deployment, don't re-derive.
type Config struct {
	// ConfidenceThreshold is the minimum averaged OCR confidence.
	ConfidenceThreshold float64
	// OutlierStdThreshold rejects readings whose z-score against the
	// rolling window exceeds it.
	OutlierStdThreshold float64
	// HistoryWindow bounds the rolling window; oldest evicted first.
	HistoryWindow int
	// MinSamplesForOutlier delays the outlier gate until the window has
	// enough samples to be meaningful.
	MinSamplesForOutlier int
	// ZeroVarianceRelDiff is the relative-difference fallback used when the
	// window has zero variance (avoids dividing by a zero stddev).
	ZeroVarianceRelDiff float64
	// BonusMultiplier flags a reading as a bonus when win/bet reaches it.
	BonusMultiplier float64
	// ConfirmJumpRatio, when > 0, requires a reading that differs from the
	// last balance by more than this factor to recur on the next sample
	// (within ConfirmTolerance) before being committed. 0 disables the
	// confirmation step.
	ConfirmJumpRatio float64
	// ConfirmTolerance is the relative tolerance for the recurrence check.
	ConfirmTolerance float64
}

// DefaultConfig returns the production-calibrated gate settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  0.85,
		OutlierStdThreshold:  3.0,
		HistoryWindow:        20,
		MinSamplesForOutlier: 5,
		ZeroVarianceRelDiff:  0.5,
		BonusMultiplier:      10,
		ConfirmJumpRatio:     0,
		ConfirmTolerance:     0.01,
	}
}

// Processor turns raw balance readings into accept/reject decisions and
// derived events. It is synchronous and does no I/O; persistence is the
// caller's explicit step. Per-stream state lives behind a sharded-lock
// store, so it is safe for concurrent callers.
type Processor struct {
	cfg    Config
	states *stateStore
	logger logging.Logger
}

func New(cfg Config, logger logging.Logger) *Processor {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.MinSamplesForOutlier <= 0 {
		cfg.MinSamplesForOutlier = 5
	}
	if cfg.ZeroVarianceRelDiff <= 0 {
		cfg.ZeroVarianceRelDiff = 0.5
	}
	if cfg.BonusMultiplier <= 0 {
		cfg.BonusMultiplier = 10
	}
	return &Processor{cfg: cfg, states: newStateStore(), logger: logger}
}

// ProcessReading runs the gate pipeline for one reading, short-circuiting on
// the first failure: confidence, outlier, domain sanity, confirmation,
// derivation, commit. Only a fully passing reading mutates stream state.
func (p *Processor) ProcessReading(streamKey string, r models.BalanceReading) models.ProcessedBalanceEvent {
	event := models.ProcessedBalanceEvent{
		Balance:       r.Balance,
		BetAmount:     r.Bet,
		WinAmount:     r.Win,
		OCRConfidence: averageConfidence(r),
		Timestamp:     r.Timestamp,
	}

	p.states.withState(streamKey, func(st *streamState) {
		if event.OCRConfidence < p.cfg.ConfidenceThreshold {
			event.RejectionReason = ReasonLowConfidence
			return
		}

		if len(st.history) >= p.cfg.MinSamplesForOutlier && p.isOutlier(st.history, r.Balance) {
			event.RejectionReason = ReasonOutlier
			return
		}

		if r.Balance < 0 {
			event.RejectionReason = ReasonNegativeBalance
			return
		}
		if r.Bet != nil && *r.Bet > r.Balance {
			event.RejectionReason = ReasonBetOverBalance
			return
		}

		// Confirmation runs last: a reading that fails a domain gate is
		// garbage, not a jump awaiting its recurrence.
		if p.cfg.ConfirmJumpRatio > 0 && !p.confirmJump(st, r.Balance) {
			event.RejectionReason = ReasonUnconfirmed
			return
		}

		if st.lastBalance != nil {
			change := r.Balance - *st.lastBalance
			event.BalanceChange = &change
		}
		if r.Bet != nil && r.Win != nil && *r.Bet > 0 {
			multiplier := *r.Win / *r.Bet
			event.Multiplier = &multiplier
			event.IsBonus = multiplier >= p.cfg.BonusMultiplier
		}

		st.history = append(st.history, r.Balance)
		if len(st.history) > p.cfg.HistoryWindow {
			st.history = st.history[len(st.history)-p.cfg.HistoryWindow:]
		}
		balance := r.Balance
		st.lastBalance = &balance
		if r.Bet != nil {
			bet := *r.Bet
			st.lastBet = &bet
		}
		st.pending = nil

		event.IsValid = true
	})

	if !event.IsValid && p.logger != nil {
		p.logger.WithFields(logging.Fields{
			"stream_key": streamKey,
			"balance":    r.Balance,
			"reason":     event.RejectionReason,
		}).Debug("Reading rejected")
	}

	return event
}

// Reset clears the stream's history and last-values so its next reading is
// treated as a first reading. Called on session end.
func (p *Processor) Reset(streamKey string) {
	p.states.reset(streamKey)
}

// isOutlier applies the z-score gate against the rolling window, falling
// back to a relative-difference check when the window has zero variance.
func (p *Processor) isOutlier(history []float64, balance float64) bool {
	mean, stddev := meanStddev(history)
	if stddev == 0 {
		if mean == 0 {
			return balance != 0
		}
		return math.Abs(balance-mean)/math.Abs(mean) > p.cfg.ZeroVarianceRelDiff
	}
	z := (balance - mean) / stddev
	return math.Abs(z) > p.cfg.OutlierStdThreshold
}

// confirmJump requires a value far from the last balance to recur on the
// next sample before acceptance. Returns true when the reading may proceed.
func (p *Processor) confirmJump(st *streamState, balance float64) bool {
	if st.lastBalance == nil || *st.lastBalance == 0 {
		return true
	}
	ratio := balance / *st.lastBalance
	if ratio < p.cfg.ConfirmJumpRatio && ratio > 1/p.cfg.ConfirmJumpRatio {
		return true
	}

	if st.pending != nil && withinTolerance(st.pending.value, balance, p.cfg.ConfirmTolerance) {
		st.pending.count++
		return true
	}
	st.pending = &pendingConfirmation{value: balance, count: 1}
	return false
}

func withinTolerance(a, b, tol float64) bool {
	if a == 0 {
		return b == 0
	}
	return math.Abs(a-b)/math.Abs(a) <= tol
}

// averageConfidence averages the available confidences: balance always
// counts, bet/win only when the field is present.
func averageConfidence(r models.BalanceReading) float64 {
	sum := r.BalanceConfidence
	n := 1
	if r.Bet != nil {
		sum += r.BetConfidence
		n++
	}
	if r.Win != nil {
		sum += r.WinConfidence
		n++
	}
	return sum / float64(n)
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
