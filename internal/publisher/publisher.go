package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rogervilla2024/slotfeed-sub001/internal/kafka"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
	"github.com/rogervilla2024/slotfeed-sub001/internal/processor"
	"github.com/rogervilla2024/slotfeed-sub001/internal/websocket"
)

// Alert kinds on the Redis alert channels.
const (
	AlertKindBigWin  = "bigwin"
	AlertKindDeposit = "deposit"
)

// ResultSource delivers worker results, normally the Redis results bus.
type ResultSource interface {
	Subscribe(ctx context.Context, handler func(models.OCRResult)) error
}

// EventWriter persists event batches, normally the ClickHouse sink.
type EventWriter interface {
	WriteBatch(ctx context.Context, events []models.BalanceEvent) error
}

// BaselineStore rewrites a session's profit/loss baseline after a deposit.
type BaselineStore interface {
	UpdateBaseline(ctx context.Context, sessionID string, balance float64) error
}

// AlertPublisher republishes alert events on Redis pub/sub.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, kind string, ev models.BalanceEvent) error
}

// AlertProducer publishes alert events to Kafka topics. May be nil.
type AlertProducer interface {
	PublishAlert(ctx context.Context, topic string, ev models.BalanceEvent) error
}

// Broadcaster fans events to WebSocket subscribers.
type Broadcaster interface {
	BroadcastEvent(eventType, channel string, data map[string]interface{})
}

// Config tunes event classification and batching.
type Config struct {
	// FlushInterval is the batch flush cadence.
	FlushInterval time.Duration
	// BigWinMultiplier flags a big win when win >= multiplier * previous
	// bet.
	BigWinMultiplier float64
	// DepositRatio flags a deposit when balance >= ratio * previous
	// balance.
	DepositRatio float64
	// RecentLimit bounds the in-memory recent big-win and deposit lists.
	RecentLimit int
}

// DefaultConfig returns the production classification thresholds.
func DefaultConfig() Config {
	return Config{
		FlushInterval:    2 * time.Second,
		BigWinMultiplier: 100,
		DepositRatio:     2.0,
		RecentLimit:      100,
	}
}

// prevValues is what classification compares against: the last accepted
// balance and bet for a stream, captured before the current reading commits.
type prevValues struct {
	balance *float64
	bet     *float64
}

// Publisher consumes worker results, runs them through validation,
// classifies notable events, fans them out and batches everything to the
// sink. One Publisher instance serves the whole process.
type Publisher struct {
	cfg       Config
	validator *processor.Processor
	source    ResultSource
	sink      EventWriter
	sessions  BaselineStore
	alerts    AlertPublisher
	producer  AlertProducer
	hub       Broadcaster
	logger    logging.Logger
	metrics   *metrics.Metrics

	prevMu sync.Mutex
	prev   map[string]prevValues

	bufMu  sync.Mutex
	buffer []models.BalanceEvent

	recentMu       sync.Mutex
	recentBigWins  []models.BalanceEvent
	recentDeposits []models.BalanceEvent
}

func New(cfg Config, validator *processor.Processor, source ResultSource, sink EventWriter, sessions BaselineStore, alerts AlertPublisher, producer AlertProducer, hub Broadcaster, logger logging.Logger, m *metrics.Metrics) *Publisher {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BigWinMultiplier <= 0 {
		cfg.BigWinMultiplier = 100
	}
	if cfg.DepositRatio <= 0 {
		cfg.DepositRatio = 2.0
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 100
	}
	return &Publisher{
		cfg:       cfg,
		validator: validator,
		source:    source,
		sink:      sink,
		sessions:  sessions,
		alerts:    alerts,
		producer:  producer,
		hub:       hub,
		logger:    logger,
		metrics:   m,
		prev:      make(map[string]prevValues),
	}
}

// Run consumes the result stream and flushes batches until ctx is
// cancelled, then performs a final flush so buffered events are not lost on
// shutdown.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.WithField("flush_interval", p.cfg.FlushInterval).Info("Publisher started")

	done := make(chan error, 1)
	go func() {
		done <- p.source.Subscribe(ctx, func(res models.OCRResult) {
			p.HandleResult(ctx, res)
		})
	}()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			<-done
			p.logger.Info("Publisher stopped")
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// HandleResult validates one worker result, classifies it and buffers the
// normalized event. Readings without a balance or carrying a worker error
// are ignored.
func (p *Publisher) HandleResult(ctx context.Context, res models.OCRResult) {
	if res.Error != "" || res.Balance == nil {
		return
	}

	reading := models.BalanceReading{
		Balance:           *res.Balance,
		Bet:               res.Bet,
		Win:               res.Win,
		BalanceConfidence: res.Confidence,
		BetConfidence:     res.Confidence,
		WinConfidence:     res.Confidence,
		Timestamp:         res.Timestamp,
	}

	// Capture previous values before validation commits the new ones.
	p.prevMu.Lock()
	previous := p.prev[res.StreamKey]
	p.prevMu.Unlock()

	processed := p.validator.ProcessReading(res.StreamKey, reading)

	if p.metrics != nil {
		outcome := "accepted"
		if !processed.IsValid {
			outcome = "rejected"
		}
		p.metrics.ReadingsProcessed.WithLabelValues(outcome).Inc()
	}

	event := models.BalanceEvent{
		EventID:         uuid.New().String(),
		EventType:       models.EventBalanceUpdate,
		StreamKey:       res.StreamKey,
		SessionID:       res.SessionID,
		WorkerID:        res.WorkerID,
		Balance:         processed.Balance,
		BalanceChange:   processed.BalanceChange,
		Bet:             processed.BetAmount,
		Win:             processed.WinAmount,
		Multiplier:      processed.Multiplier,
		Confidence:      processed.OCRConfidence,
		IsBonus:         processed.IsBonus,
		IsValid:         processed.IsValid,
		RejectionReason: processed.RejectionReason,
		Timestamp:       processed.Timestamp,
	}

	if processed.IsValid {
		event.EventType = p.classify(ctx, previous, processed, &event)
		p.fanOut(ctx, event, processed)
		p.commitPrev(res.StreamKey, processed)
	}

	p.bufMu.Lock()
	p.buffer = append(p.buffer, event)
	p.bufMu.Unlock()
}

// classify decides the event type against the previous accepted values. A
// big win is a balance increase of at least BigWinMultiplier times the
// previous bet. It is checked first: a huge win doubles the balance too, and
// must not be mistaken for a deposit.
func (p *Publisher) classify(ctx context.Context, previous prevValues, processed models.ProcessedBalanceEvent, event *models.BalanceEvent) string {
	if previous.bet != nil && *previous.bet > 0 &&
		processed.BalanceChange != nil && *processed.BalanceChange > 0 &&
		*processed.BalanceChange/(*previous.bet) >= p.cfg.BigWinMultiplier {
		p.recordBigWin(ctx, *event)
		return models.EventBigWin
	}

	if previous.balance != nil && *previous.balance > 0 &&
		processed.Balance >= p.cfg.DepositRatio*(*previous.balance) {
		p.recordDeposit(ctx, *event)
		return models.EventDeposit
	}

	return models.EventBalanceUpdate
}

func (p *Publisher) recordBigWin(ctx context.Context, event models.BalanceEvent) {
	event.EventType = models.EventBigWin

	p.recentMu.Lock()
	p.recentBigWins = appendBounded(p.recentBigWins, event, p.cfg.RecentLimit)
	p.recentMu.Unlock()

	p.publishAlert(ctx, AlertKindBigWin, kafka.TopicBigWins, event)

	p.logger.WithFields(logging.Fields{
		"stream_key": event.StreamKey,
		"balance":    event.Balance,
		"win":        event.Win,
	}).Info("Big win detected")
}

func (p *Publisher) recordDeposit(ctx context.Context, event models.BalanceEvent) {
	event.EventType = models.EventDeposit

	p.recentMu.Lock()
	p.recentDeposits = appendBounded(p.recentDeposits, event, p.cfg.RecentLimit)
	p.recentMu.Unlock()

	// Deposited funds are not winnings: rewrite the session baseline so
	// profit/loss stays honest.
	if p.sessions != nil {
		if err := p.sessions.UpdateBaseline(ctx, event.SessionID, event.Balance); err != nil {
			p.logger.WithError(err).WithField("session_id", event.SessionID).Error("Baseline rewrite failed")
		}
	}

	p.publishAlert(ctx, AlertKindDeposit, kafka.TopicDeposits, event)

	p.logger.WithFields(logging.Fields{
		"stream_key": event.StreamKey,
		"balance":    event.Balance,
	}).Info("Deposit detected")
}

// publishAlert fans an alert to Redis pub/sub and, when configured, Kafka.
// Alert transports are best-effort: a failure is logged, never propagated
// into the pipeline.
func (p *Publisher) publishAlert(ctx context.Context, kind, topic string, event models.BalanceEvent) {
	if p.alerts != nil {
		if err := p.alerts.PublishAlert(ctx, kind, event); err != nil {
			p.logger.WithError(err).WithField("kind", kind).Error("Redis alert publish failed")
		} else if p.metrics != nil {
			p.metrics.AlertsPublished.WithLabelValues(kind, "redis").Inc()
		}
	}
	if p.producer != nil {
		if err := p.producer.PublishAlert(ctx, topic, event); err != nil {
			p.logger.WithError(err).WithField("topic", topic).Error("Kafka alert publish failed")
		} else if p.metrics != nil {
			p.metrics.AlertsPublished.WithLabelValues(kind, "kafka").Inc()
		}
	}
}

// fanOut broadcasts a valid event to the stream's WebSocket channel. Big
// wins and deposits additionally hit the global alerts channel; a bonus
// round entry gets its own message.
func (p *Publisher) fanOut(ctx context.Context, event models.BalanceEvent, processed models.ProcessedBalanceEvent) {
	if p.hub == nil {
		return
	}

	channel := "stream:" + event.StreamKey
	data := map[string]interface{}{
		"stream_key": event.StreamKey,
		"session_id": event.SessionID,
		"balance":    event.Balance,
		"confidence": event.Confidence,
		"timestamp":  event.Timestamp,
	}
	if event.BalanceChange != nil {
		data["balance_change"] = *event.BalanceChange
	}
	if event.Bet != nil {
		data["bet"] = *event.Bet
	}
	if event.Win != nil {
		data["win"] = *event.Win
	}
	if event.Multiplier != nil {
		data["multiplier"] = *event.Multiplier
	}

	switch event.EventType {
	case models.EventBigWin:
		p.hub.BroadcastEvent(websocket.TypeBigWin, channel, data)
		p.hub.BroadcastEvent(websocket.TypeBigWin, "alerts", data)
	case models.EventDeposit:
		p.hub.BroadcastEvent(websocket.TypeBalanceUpdate, channel, data)
		p.hub.BroadcastEvent(websocket.TypeBalanceUpdate, "alerts", data)
	default:
		p.hub.BroadcastEvent(websocket.TypeBalanceUpdate, channel, data)
	}

	if processed.IsBonus {
		p.hub.BroadcastEvent(websocket.TypeBonusTrigger, channel, data)
	}
}

// commitPrev stores the accepted values for the next classification.
func (p *Publisher) commitPrev(streamKey string, processed models.ProcessedBalanceEvent) {
	balance := processed.Balance
	next := prevValues{balance: &balance}
	if processed.BetAmount != nil {
		bet := *processed.BetAmount
		next.bet = &bet
	} else {
		p.prevMu.Lock()
		next.bet = p.prev[streamKey].bet
		p.prevMu.Unlock()
	}

	p.prevMu.Lock()
	p.prev[streamKey] = next
	p.prevMu.Unlock()
}

// Flush writes the buffered events to the sink as one batch. On sink error
// the events are kept for the next attempt, giving at-least-once delivery;
// the sink table dedups on event id.
func (p *Publisher) Flush(ctx context.Context) {
	p.bufMu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.bufMu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	err := p.sink.WriteBatch(ctx, batch)
	if p.metrics != nil {
		p.metrics.FlushDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}

	if err != nil {
		p.logger.WithError(err).WithField("events", len(batch)).Error("Batch flush failed, retrying next interval")
		if p.metrics != nil {
			p.metrics.EventsFlushed.WithLabelValues("error").Add(float64(len(batch)))
		}
		p.bufMu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.bufMu.Unlock()
		return
	}

	if p.metrics != nil {
		p.metrics.EventsFlushed.WithLabelValues("ok").Add(float64(len(batch)))
	}
}

// Reset clears validation and classification state for a stream. Called
// when its session ends.
func (p *Publisher) Reset(streamKey string) {
	p.validator.Reset(streamKey)

	p.prevMu.Lock()
	delete(p.prev, streamKey)
	p.prevMu.Unlock()
}

// RecentBigWins returns the most recent big-win events, newest last.
func (p *Publisher) RecentBigWins() []models.BalanceEvent {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	return append([]models.BalanceEvent(nil), p.recentBigWins...)
}

// RecentDeposits returns the most recent deposit events, newest last.
func (p *Publisher) RecentDeposits() []models.BalanceEvent {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	return append([]models.BalanceEvent(nil), p.recentDeposits...)
}

func appendBounded(list []models.BalanceEvent, ev models.BalanceEvent, limit int) []models.BalanceEvent {
	list = append(list, ev)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
