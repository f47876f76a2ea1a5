package results

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

func f64(v float64) *float64 { return &v }

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBus(client, Config{Namespace: "test", LatestTTL: 300 * time.Second}, logging.NewLogger()), mr
}

func testResult(streamKey string, balance float64) models.OCRResult {
	return models.OCRResult{
		JobID:      "job-1",
		StreamKey:  streamKey,
		WorkerID:   "worker-abc",
		Balance:    f64(balance),
		Confidence: 0.95,
		Timestamp:  time.Now().UTC(),
	}
}

func TestPublishUpdatesLatest(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	if err := b.Publish(ctx, testResult("streamer1", 1000)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	latest, err := b.Latest(ctx, "streamer1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Balance == nil || *latest.Balance != 1000 {
		t.Fatalf("expected latest balance 1000, got %+v", latest)
	}
}

func TestLatestNilWhenAbsent(t *testing.T) {
	b, _ := newTestBus(t)

	latest, err := b.Latest(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil for an unseen stream, got %+v", latest)
	}
}

func TestLatestExpires(t *testing.T) {
	b, mr := newTestBus(t)
	ctx := context.Background()

	if err := b.Publish(ctx, testResult("streamer1", 1000)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mr.FastForward(301 * time.Second)

	latest, err := b.Latest(ctx, "streamer1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected expired latest reading, got %+v", latest)
	}
}

func TestPublishOverwritesLatest(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	if err := b.Publish(ctx, testResult("streamer1", 1000)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, testResult("streamer1", 1250)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	latest, err := b.Latest(ctx, "streamer1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || *latest.Balance != 1250 {
		t.Fatalf("expected latest balance 1250, got %+v", latest)
	}
}

func TestSubscribeReceivesPublished(t *testing.T) {
	b, _ := newTestBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan models.OCRResult, 1)
	subDone := make(chan error, 1)
	go func() {
		subDone <- b.Subscribe(ctx, func(res models.OCRResult) {
			select {
			case received <- res:
			default:
			}
		})
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(100 * time.Millisecond)

	if err := b.Publish(ctx, testResult("streamer1", 1000)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case res := <-received:
		if res.StreamKey != "streamer1" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published result")
	}

	cancel()
	if err := <-subDone; err != nil {
		t.Fatalf("subscribe returned error: %v", err)
	}
}

func TestAlertChannelNaming(t *testing.T) {
	b, _ := newTestBus(t)

	if got := b.AlertChannel("bigwin"); got != "test:alerts:bigwin" {
		t.Fatalf("unexpected alert channel %q", got)
	}
}
