package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// FrameSource acquires one raw frame for a stream. External capability.
type FrameSource interface {
	AcquireFrame(ctx context.Context, frameSourceRef string) ([]byte, error)
}

// Engine is the external OCR boundary: it returns an already-structured
// reading, never raw model internals.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (models.FrameReading, error)
}

// JobSource is the slice of the job queue a worker needs.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*models.StreamJob, error)
	Complete(ctx context.Context, job *models.StreamJob) error
	Fail(ctx context.Context, job *models.StreamJob, reason string) error
	Heartbeat(ctx context.Context, workerID string) error
	DeregisterWorker(ctx context.Context, workerID string) error
}

// ResultBus publishes accepted readings and answers last-published lookups.
type ResultBus interface {
	Publish(ctx context.Context, res models.OCRResult) error
	Latest(ctx context.Context, streamKey string) (*models.OCRResult, error)
}

// Config tunes one worker's loop.
type Config struct {
	DequeueTimeout    time.Duration
	HeartbeatInterval time.Duration
	// DropRatioFloor rejects a positive reading whose ratio to the last
	// published balance falls below it: a >95% single-step drop is almost
	// always an OCR misread. Increases are never capped, large wins are a
	// legitimate event in this domain.
	DropRatioFloor float64
}

// DefaultConfig returns the calibrated worker settings.
func DefaultConfig() Config {
	return Config{
		DequeueTimeout:    5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		DropRatioFloor:    0.05,
	}
}

// Worker pulls one job at a time, acquires a frame, runs OCR and publishes
// the result. Workers share no in-process state: all coordination is through
// the queue and the bus.
type Worker struct {
	id      string
	cfg     Config
	jobs    JobSource
	frames  FrameSource
	engine  Engine
	bus     ResultBus
	logger  logging.Logger
	metrics *metrics.Metrics

	lastHeartbeat time.Time
}

func New(cfg Config, jobs JobSource, frames FrameSource, engine Engine, bus ResultBus, logger logging.Logger, m *metrics.Metrics) *Worker {
	if cfg.DequeueTimeout == 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.DropRatioFloor == 0 {
		cfg.DropRatioFloor = 0.05
	}
	return &Worker{
		id:      "worker-" + uuid.New().String()[:8],
		cfg:     cfg,
		jobs:    jobs,
		frames:  frames,
		engine:  engine,
		bus:     bus,
		logger:  logger,
		metrics: m,
	}
}

// ID returns the worker's id as registered in the heartbeat map.
func (w *Worker) ID() string { return w.id }

// Run executes the worker loop until ctx is cancelled, deregistering the
// heartbeat on exit. Transient failures never kill the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("worker_id", w.id).Info("Worker started")
	defer func() {
		deregCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.jobs.DeregisterWorker(deregCtx, w.id); err != nil {
			w.logger.WithError(err).Warn("Failed to deregister worker heartbeat")
		}
		w.logger.WithField("worker_id", w.id).Info("Worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(w.lastHeartbeat) >= w.cfg.HeartbeatInterval {
			if err := w.jobs.Heartbeat(ctx, w.id); err != nil {
				w.logger.WithError(err).Warn("Heartbeat failed")
			}
			w.lastHeartbeat = time.Now()
		}

		job, err := w.jobs.Dequeue(ctx, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.WithError(err).Error("Dequeue failed")
			continue
		}
		if job == nil {
			continue
		}

		w.processJob(ctx, job)
	}
}

// processJob runs one job end to end. Frame or OCR failure marks the job
// failed; a recognized frame with no balance completes without publishing,
// because publishing "no data" would overwrite the last known-good value
// downstream.
func (w *Worker) processJob(ctx context.Context, job *models.StreamJob) {
	image, err := w.frames.AcquireFrame(ctx, job.FrameSourceRef)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("acquire frame: %v", err))
		return
	}

	reading, err := w.engine.Recognize(ctx, image)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("ocr: %v", err))
		return
	}

	if w.metrics != nil {
		w.metrics.OCRConfidence.WithLabelValues(job.Platform).Observe(reading.Confidence)
	}

	if reading.Balance == nil {
		// The frame was readable, the job succeeded; there is just nothing
		// to publish.
		w.completeJob(ctx, job, "no_balance")
		return
	}

	if !w.acceptReading(ctx, job.StreamKey, *reading.Balance) {
		if w.metrics != nil {
			w.metrics.DroppedReadings.WithLabelValues(job.StreamKey).Inc()
		}
		w.completeJob(ctx, job, "dropped")
		return
	}

	res := models.OCRResult{
		JobID:       job.JobID,
		StreamKey:   job.StreamKey,
		SessionID:   job.SessionID,
		WorkerID:    w.id,
		Balance:     reading.Balance,
		Bet:         reading.Bet,
		Win:         reading.Win,
		Confidence:  reading.Confidence,
		IsBonusMode: reading.IsBonusMode,
		RawText:     reading.RawText,
		Timestamp:   time.Now().UTC(),
	}

	if err := w.bus.Publish(ctx, res); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("publish result: %v", err))
		return
	}

	w.completeJob(ctx, job, "published")
}

// acceptReading applies the drop-floor rule against the last published
// balance. A reading below the floor ratio is discarded as a misread; the
// job itself still completes.
func (w *Worker) acceptReading(ctx context.Context, streamKey string, balance float64) bool {
	last, err := w.bus.Latest(ctx, streamKey)
	if err != nil {
		w.logger.WithError(err).WithField("stream_key", streamKey).Warn("Latest reading lookup failed, accepting")
		return true
	}
	if last == nil || last.Balance == nil || *last.Balance <= 0 {
		return true
	}

	ratio := balance / *last.Balance
	if balance > 0 && ratio < w.cfg.DropRatioFloor {
		w.logger.WithFields(logging.Fields{
			"stream_key": streamKey,
			"previous":   *last.Balance,
			"new":        balance,
			"ratio":      ratio,
		}).Warn("Discarding suspected misread: balance dropped below floor ratio")
		return false
	}
	return true
}

func (w *Worker) completeJob(ctx context.Context, job *models.StreamJob, outcome string) {
	if err := w.jobs.Complete(ctx, job); err != nil {
		w.logger.WithError(err).WithField("job_id", job.JobID).Error("Failed to complete job")
		return
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (w *Worker) failJob(ctx context.Context, job *models.StreamJob, reason string) {
	if err := w.jobs.Fail(ctx, job, reason); err != nil {
		w.logger.WithError(err).WithField("job_id", job.JobID).Error("Failed to mark job failed")
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues("failed").Inc()
	}
}

// Pool runs a fixed set of independent workers.
type Pool struct {
	workers []*Worker
}

func NewPool(count int, cfg Config, jobs JobSource, frames FrameSource, engine Engine, bus ResultBus, logger logging.Logger, m *metrics.Metrics) *Pool {
	if count <= 0 {
		count = 1
	}
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = New(cfg, jobs, frames, engine, bus, logger, m)
	}
	return &Pool{workers: workers}
}

// Run blocks until all workers exit.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
