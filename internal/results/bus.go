package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
	"github.com/rogervilla2024/slotfeed-sub001/internal/redisx"
)

// Config tunes the results channel and the latest-reading cache.
type Config struct {
	// Namespace prefixes every key, e.g. "slotfeed".
	Namespace string
	// LatestTTL expires a stalled stream's latest reading so downstream
	// consumers never act on stale data.
	LatestTTL time.Duration
}

// Bus carries OCR results from workers to the publisher over Redis pub/sub
// and maintains a short-lived per-stream "latest accepted reading" key.
type Bus struct {
	client goredis.UniversalClient
	pubsub *redisx.TypedPubSub[models.OCRResult]
	cfg    Config
}

func NewBus(client goredis.UniversalClient, cfg Config, logger *logrus.Logger) *Bus {
	if cfg.Namespace == "" {
		cfg.Namespace = "slotfeed"
	}
	if cfg.LatestTTL == 0 {
		cfg.LatestTTL = 300 * time.Second
	}
	return &Bus{
		client: client,
		pubsub: redisx.NewTypedPubSub[models.OCRResult](client, logger),
		cfg:    cfg,
	}
}

func (b *Bus) channel() string {
	return b.cfg.Namespace + ":results"
}

func (b *Bus) latestKey(streamKey string) string {
	return b.cfg.Namespace + ":latest:" + streamKey
}

// Publish emits the result on the results channel and refreshes the
// stream's latest-reading key.
func (b *Bus) Publish(ctx context.Context, res models.OCRResult) error {
	if err := b.pubsub.Publish(ctx, b.channel(), res); err != nil {
		return err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal latest reading: %w", err)
	}
	if err := b.client.Set(ctx, b.latestKey(res.StreamKey), payload, b.cfg.LatestTTL).Err(); err != nil {
		return fmt.Errorf("set latest reading: %w", err)
	}
	return nil
}

// Latest returns the stream's most recent accepted reading, or nil when none
// exists or the key has expired.
func (b *Bus) Latest(ctx context.Context, streamKey string) (*models.OCRResult, error) {
	payload, err := b.client.Get(ctx, b.latestKey(streamKey)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}

	var res models.OCRResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("unmarshal latest reading: %w", err)
	}
	return &res, nil
}

// Subscribe consumes the results channel until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, handler func(models.OCRResult)) error {
	return b.pubsub.Subscribe(ctx, b.channel(), handler)
}

// AlertChannel returns the pub/sub channel for a given alert kind
// (e.g. "bigwin", "deposit").
func (b *Bus) AlertChannel(kind string) string {
	return b.cfg.Namespace + ":alerts:" + kind
}

// PublishAlert republishes a normalized event on a dedicated alert channel.
func (b *Bus) PublishAlert(ctx context.Context, kind string, ev models.BalanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := b.client.Publish(ctx, b.AlertChannel(kind), payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
