package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// Alert topics. Dedicated topics keep alerting consumers from having to
// filter the full balance-update firehose.
const (
	TopicBigWins  = "balance_big_wins"
	TopicDeposits = "balance_deposits"
)

// Producer publishes alert events to Kafka. It is optional: a nil *Producer
// is safe to call and does nothing, so deployments without Kafka simply
// leave KAFKA_BROKERS unset.
type Producer struct {
	client *kgo.Client
	logger logging.Logger
}

// NewProducer creates a Kafka producer for alert events.
func NewProducer(brokers []string, clientID string, logger logging.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

func (p *Producer) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}

// PublishAlert produces one alert event, keyed by stream so per-stream
// ordering holds within a partition.
func (p *Producer) PublishAlert(ctx context.Context, topic string, ev models.BalanceEvent) error {
	if p == nil {
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.StreamKey),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "stream_key", Value: []byte(ev.StreamKey)},
		},
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce alert: %w", err)
	}
	return nil
}

// HealthCheck pings the Kafka brokers.
func (p *Producer) HealthCheck() error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}
