package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

const (
	keyHigh     = "jobs:high"
	keyNormal   = "jobs:normal"
	keyWorkers  = "workers"
	keyCounters = "counters"

	counterEnqueued  = "enqueued"
	counterCompleted = "completed"
	counterFailed    = "failed"
	counterDeduped   = "deduped"
)

// DefaultStaleActiveBound is the sanity bound above which ClearStaleActive
// wipes all leases. Leases normally expire individually via TTL; the sweep
// exists as an operational escape hatch.
const DefaultStaleActiveBound = 20

// Config tunes the queue's Redis key namespace and lease behavior.
type Config struct {
	// Namespace prefixes every key, e.g. "slotfeed".
	Namespace string
	// LeaseTTL bounds how long a stream stays in the active set without
	// Complete/Fail. Should be 2-3x the expected job duration.
	LeaseTTL time.Duration
}

// JobQueue is a Redis-backed priority queue with at-most-one outstanding job
// per stream. The enforcement point is a per-stream lease key written with
// SETNX: concurrent Enqueue calls race on a single atomic Redis command.
type JobQueue struct {
	client goredis.UniversalClient
	cfg    Config
	logger logging.Logger
}

// Stats reports queue depths and cumulative counters for operational
// visibility. Not used for correctness decisions.
type Stats struct {
	HighDepth    int64            `json:"high_depth"`
	NormalDepth  int64            `json:"normal_depth"`
	ActiveCount  int              `json:"active_count"`
	Counters     map[string]int64 `json:"counters"`
	Workers      []string         `json:"workers"`
	WorkersAlive int              `json:"workers_alive"`
}

func New(client goredis.UniversalClient, cfg Config, logger logging.Logger) *JobQueue {
	if cfg.Namespace == "" {
		cfg.Namespace = "slotfeed"
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = 90 * time.Second
	}
	return &JobQueue{client: client, cfg: cfg, logger: logger}
}

func (q *JobQueue) key(suffix string) string {
	return q.cfg.Namespace + ":" + suffix
}

func (q *JobQueue) leaseKey(streamKey string) string {
	return q.key("lease:" + streamKey)
}

// Enqueue inserts a job unless the stream already has an outstanding one.
// Returns false (a no-op, not an error) when the lease is held: that is the
// expected race between the job tick and a slow worker.
func (q *JobQueue) Enqueue(ctx context.Context, job *models.StreamJob) (bool, error) {
	acquired, err := q.client.SetNX(ctx, q.leaseKey(job.StreamKey), job.JobID, q.cfg.LeaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire job lease: %w", err)
	}
	if !acquired {
		q.client.HIncrBy(ctx, q.key(keyCounters), counterDeduped, 1)
		return false, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		q.client.Del(ctx, q.leaseKey(job.StreamKey))
		return false, fmt.Errorf("marshal job: %w", err)
	}

	listKey := q.key(keyNormal)
	if job.Priority == models.PriorityHigh {
		listKey = q.key(keyHigh)
	}

	if err := q.client.RPush(ctx, listKey, payload).Err(); err != nil {
		q.client.Del(ctx, q.leaseKey(job.StreamKey))
		return false, fmt.Errorf("push job: %w", err)
	}

	q.client.HIncrBy(ctx, q.key(keyCounters), counterEnqueued, 1)
	return true, nil
}

// Dequeue blocks up to timeout for the next job, preferring the
// high-priority list. Returns nil (not an error) on timeout.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.StreamJob, error) {
	// BLPOP checks keys in argument order, which is exactly the priority
	// preference we need.
	res, err := q.client.BLPop(ctx, timeout, q.key(keyHigh), q.key(keyNormal)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected blpop reply of %d elements", len(res))
	}

	var job models.StreamJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Complete releases the stream's lease after a successful job.
func (q *JobQueue) Complete(ctx context.Context, job *models.StreamJob) error {
	if err := q.client.Del(ctx, q.leaseKey(job.StreamKey)).Err(); err != nil {
		return fmt.Errorf("release job lease: %w", err)
	}
	return q.client.HIncrBy(ctx, q.key(keyCounters), counterCompleted, 1).Err()
}

// Fail releases the lease and records the failure. Failures are never
// silently dropped: the reason is logged and counted.
func (q *JobQueue) Fail(ctx context.Context, job *models.StreamJob, reason string) error {
	q.logger.WithFields(logging.Fields{
		"job_id":     job.JobID,
		"stream_key": job.StreamKey,
		"reason":     reason,
	}).Warn("Job failed")

	if err := q.client.Del(ctx, q.leaseKey(job.StreamKey)).Err(); err != nil {
		return fmt.Errorf("release job lease: %w", err)
	}
	return q.client.HIncrBy(ctx, q.key(keyCounters), counterFailed, 1).Err()
}

// Heartbeat records worker liveness with the current timestamp.
func (q *JobQueue) Heartbeat(ctx context.Context, workerID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return q.client.HSet(ctx, q.key(keyWorkers), workerID, now).Err()
}

// DeregisterWorker removes a worker from the heartbeat map on shutdown.
func (q *JobQueue) DeregisterWorker(ctx context.Context, workerID string) error {
	return q.client.HDel(ctx, q.key(keyWorkers), workerID).Err()
}

// Workers returns the ids of workers that heartbeated within maxAge.
func (q *JobQueue) Workers(ctx context.Context, maxAge time.Duration) ([]string, error) {
	entries, err := q.client.HGetAll(ctx, q.key(keyWorkers)).Result()
	if err != nil {
		return nil, fmt.Errorf("read worker heartbeats: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	alive := make([]string, 0, len(entries))
	for id, stamp := range entries {
		ts, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			continue
		}
		if ts.After(cutoff) {
			alive = append(alive, id)
		}
	}
	return alive, nil
}

// ActiveStreams returns the stream keys currently holding a lease.
func (q *JobQueue) ActiveStreams(ctx context.Context) ([]string, error) {
	pattern := q.key("lease:*")
	prefix := q.key("lease:")

	var streams []string
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan leases: %w", err)
		}
		for _, k := range keys {
			streams = append(streams, k[len(prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return streams, nil
}

// ClearStaleActive wipes every lease when the active set exceeds the sanity
// bound. Leases self-expire via TTL, so this only fires when something has
// gone badly wrong (e.g. a burst of worker crashes mid-lease-refresh).
// Returns the number of leases cleared.
func (q *JobQueue) ClearStaleActive(ctx context.Context, bound int) (int, error) {
	if bound <= 0 {
		bound = DefaultStaleActiveBound
	}

	streams, err := q.ActiveStreams(ctx)
	if err != nil {
		return 0, err
	}
	if len(streams) <= bound {
		return 0, nil
	}

	keys := make([]string, len(streams))
	for i, s := range streams {
		keys[i] = q.leaseKey(s)
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("clear leases: %w", err)
	}

	q.logger.WithField("cleared", len(keys)).Warn("Cleared stale active set")
	return len(keys), nil
}

// Stats reports depths, active count, counters and live workers.
func (q *JobQueue) Stats(ctx context.Context) (*Stats, error) {
	high, err := q.client.LLen(ctx, q.key(keyHigh)).Result()
	if err != nil {
		return nil, fmt.Errorf("llen high: %w", err)
	}
	normal, err := q.client.LLen(ctx, q.key(keyNormal)).Result()
	if err != nil {
		return nil, fmt.Errorf("llen normal: %w", err)
	}

	active, err := q.ActiveStreams(ctx)
	if err != nil {
		return nil, err
	}

	rawCounters, err := q.client.HGetAll(ctx, q.key(keyCounters)).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	counters := make(map[string]int64, len(rawCounters))
	for k, v := range rawCounters {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			counters[k] = n
		}
	}

	workers, err := q.Workers(ctx, 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Stats{
		HighDepth:    high,
		NormalDepth:  normal,
		ActiveCount:  len(active),
		Counters:     counters,
		Workers:      workers,
		WorkersAlive: len(workers),
	}, nil
}
