package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

func newTestQueue(t *testing.T) (*JobQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, Config{Namespace: "test", LeaseTTL: 90 * time.Second}, logging.NewLogger()), mr
}

func testJob(streamKey, jobID string, priority models.Priority) *models.StreamJob {
	return &models.StreamJob{
		JobID:     jobID,
		StreamKey: streamKey,
		SessionID: "sess-" + streamKey,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

func TestEnqueueDedup(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, testJob("streamer1", "job-1", models.PriorityNormal))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if !ok {
		t.Fatal("first enqueue should succeed")
	}

	ok, err = q.Enqueue(ctx, testJob("streamer1", "job-2", models.PriorityNormal))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if ok {
		t.Fatal("second enqueue for the same stream should be suppressed")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.NormalDepth != 1 {
		t.Fatalf("expected depth 1, got %d", stats.NormalDepth)
	}
	if stats.Counters["deduped"] != 1 {
		t.Fatalf("expected 1 deduped, got %d", stats.Counters["deduped"])
	}
}

func TestEnqueueConcurrentSingleWinner(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := q.Enqueue(ctx, testJob("streamer1", fmt.Sprintf("job-%d", n), models.PriorityNormal))
			if err != nil {
				t.Errorf("enqueue %d: %v", n, err)
				return
			}
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful enqueue, got %d", wins)
	}
}

func TestDequeuePriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testJob("normal-stream", "job-n", models.PriorityNormal)); err != nil {
		t.Fatalf("enqueue normal: %v", err)
	}
	if _, err := q.Enqueue(ctx, testJob("high-stream", "job-h", models.PriorityHigh)); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	job, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job == nil || job.JobID != "job-h" {
		t.Fatalf("expected high-priority job first, got %+v", job)
	}

	job, err = q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job == nil || job.JobID != "job-n" {
		t.Fatalf("expected normal job second, got %+v", job)
	}
}

func TestDequeueTimeoutReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue on empty queue: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job on timeout, got %+v", job)
	}
}

func TestCompleteReleasesLease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := testJob("streamer1", "job-1", models.PriorityNormal)
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Complete(ctx, job); err != nil {
		t.Fatalf("complete: %v", err)
	}

	ok, err := q.Enqueue(ctx, testJob("streamer1", "job-2", models.PriorityNormal))
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !ok {
		t.Fatal("enqueue after complete should succeed")
	}
}

func TestFailReleasesLeaseAndCounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := testJob("streamer1", "job-1", models.PriorityNormal)
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Fail(ctx, job, "ocr: timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Counters["failed"] != 1 {
		t.Fatalf("expected 1 failed, got %d", stats.Counters["failed"])
	}

	ok, err := q.Enqueue(ctx, testJob("streamer1", "job-2", models.PriorityNormal))
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !ok {
		t.Fatal("enqueue after fail should succeed")
	}
}

func TestLeaseExpiresViaTTL(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testJob("streamer1", "job-1", models.PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	mr.FastForward(91 * time.Second)

	ok, err := q.Enqueue(ctx, testJob("streamer1", "job-2", models.PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue after expiry: %v", err)
	}
	if !ok {
		t.Fatal("lease should have expired, enqueue should succeed")
	}
}

func TestClearStaleActiveRespectsBound(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(ctx, testJob(fmt.Sprintf("stream-%d", i), fmt.Sprintf("job-%d", i), models.PriorityNormal)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	// Within bound: nothing cleared.
	cleared, err := q.ClearStaleActive(ctx, 10)
	if err != nil {
		t.Fatalf("clear within bound: %v", err)
	}
	if cleared != 0 {
		t.Fatalf("expected 0 cleared within bound, got %d", cleared)
	}

	// Over bound: all leases wiped.
	cleared, err = q.ClearStaleActive(ctx, 3)
	if err != nil {
		t.Fatalf("clear over bound: %v", err)
	}
	if cleared != 5 {
		t.Fatalf("expected 5 cleared, got %d", cleared)
	}

	active, err := q.ActiveStreams(ctx)
	if err != nil {
		t.Fatalf("active streams: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected empty active set, got %v", active)
	}
}

func TestWorkersHeartbeat(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Heartbeat(ctx, "worker-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	alive, err := q.Workers(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("workers: %v", err)
	}
	if len(alive) != 1 || alive[0] != "worker-a" {
		t.Fatalf("expected [worker-a], got %v", alive)
	}

	if err := q.DeregisterWorker(ctx, "worker-a"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	alive, err = q.Workers(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("workers after deregister: %v", err)
	}
	if len(alive) != 0 {
		t.Fatalf("expected no workers, got %v", alive)
	}
}
