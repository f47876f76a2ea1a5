package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
	"github.com/rogervilla2024/slotfeed-sub001/internal/websocket"
)

// DiscoveryAPI answers whether a target currently has an active broadcast.
type DiscoveryAPI interface {
	GetLiveStatus(ctx context.Context, target string) (models.LiveStatus, error)
}

// JobEnqueuer is the slice of the job queue the coordinator needs. A false
// return means the stream already has an outstanding job; that is the
// queue's dedup doing its job, not a failure.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.StreamJob) (bool, error)
}

// SessionStore persists session open/close and supports resumption.
type SessionStore interface {
	FindOpen(ctx context.Context, streamKey string) (*models.StreamSession, error)
	Open(ctx context.Context, streamKey string, startedAt time.Time) (*models.StreamSession, error)
	Close(ctx context.Context, sessionID string, endedAt time.Time) error
}

// SessionListener is notified when a stream's session ends so per-stream
// validation state can be reset.
type SessionListener interface {
	Reset(streamKey string)
}

// EventBroadcaster fans stream lifecycle events to live subscribers.
type EventBroadcaster interface {
	BroadcastEvent(eventType, channel string, data map[string]interface{})
}

// Config tunes the coordinator's two independent tick loops.
type Config struct {
	// Targets are the stream keys to watch.
	Targets []string
	// Platform stamps produced jobs, e.g. "kick".
	Platform string
	// DiscoveryInterval is the roster refresh cadence.
	DiscoveryInterval time.Duration
	// CallDelay spaces sequential discovery calls to respect the API's
	// rate limits. A deliberate throttle.
	CallDelay time.Duration
	// JobInterval is the job-production cadence.
	JobInterval time.Duration
}

// DefaultConfig returns the standard tick cadences.
func DefaultConfig(targets []string, platform string) Config {
	return Config{
		Targets:           targets,
		Platform:          platform,
		DiscoveryInterval: 30 * time.Second,
		CallDelay:         500 * time.Millisecond,
		JobInterval:       5 * time.Second,
	}
}

// Coordinator discovers live streams, maintains the roster and produces one
// job per live stream each job tick. It never blocks on worker completion;
// flooding is prevented entirely by the queue's per-stream lease.
type Coordinator struct {
	cfg       Config
	discovery DiscoveryAPI
	queue     JobEnqueuer
	sessions  SessionStore
	listener  SessionListener
	hub       EventBroadcaster
	logger    logging.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	roster map[string]*models.MonitoredStream
}

func New(cfg Config, discovery DiscoveryAPI, queue JobEnqueuer, sessions SessionStore, listener SessionListener, hub EventBroadcaster, logger logging.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 30 * time.Second
	}
	if cfg.JobInterval == 0 {
		cfg.JobInterval = 5 * time.Second
	}
	return &Coordinator{
		cfg:       cfg,
		discovery: discovery,
		queue:     queue,
		sessions:  sessions,
		listener:  listener,
		hub:       hub,
		logger:    logger,
		metrics:   m,
		roster:    make(map[string]*models.MonitoredStream),
	}
}

// Run drives both tick loops until ctx is cancelled. The loops are
// independent: a slow discovery sweep never delays job production.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.WithFields(logging.Fields{
		"targets":            len(c.cfg.Targets),
		"discovery_interval": c.cfg.DiscoveryInterval,
		"job_interval":       c.cfg.JobInterval,
	}).Info("Coordinator started")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		// Immediate first sweep so the roster is warm before the first
		// job tick fires.
		c.DiscoveryTick(ctx)

		ticker := time.NewTicker(c.cfg.DiscoveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.DiscoveryTick(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.JobInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.JobTick(ctx)
			}
		}
	}()

	wg.Wait()
	c.logger.Info("Coordinator stopped")
	return nil
}

// DiscoveryTick sweeps every configured target sequentially, spacing calls
// by CallDelay. Discovery failures are transient: logged, target skipped,
// never fatal to the tick.
func (c *Coordinator) DiscoveryTick(ctx context.Context) {
	for i, target := range c.cfg.Targets {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && c.cfg.CallDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.CallDelay):
			}
		}

		status, err := c.discovery.GetLiveStatus(ctx, target)
		if err != nil {
			if c.metrics != nil {
				c.metrics.DiscoveryCalls.WithLabelValues("error").Inc()
			}
			c.logger.WithError(err).WithField("target", target).Warn("Discovery call failed")
			continue
		}
		if c.metrics != nil {
			c.metrics.DiscoveryCalls.WithLabelValues("ok").Inc()
		}

		if status.IsLive {
			c.markLive(ctx, target, status)
		} else {
			c.markOffline(ctx, target)
		}
	}

	if c.metrics != nil {
		c.metrics.LiveStreams.WithLabelValues(c.cfg.Platform).Set(float64(len(c.LiveStreams())))
	}
}

// markLive transitions a target to live, resuming a persisted open session
// when one exists instead of minting a duplicate.
func (c *Coordinator) markLive(ctx context.Context, target string, status models.LiveStatus) {
	c.mu.Lock()
	stream, known := c.roster[target]
	if known && stream.IsLive {
		stream.ViewerCount = status.ViewerCount
		stream.FrameSourceRef = status.FrameSourceRef
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	session, err := c.sessions.FindOpen(ctx, target)
	if err != nil {
		c.logger.WithError(err).WithField("stream_key", target).Error("Session lookup failed")
		return
	}
	startedAt := time.Now().UTC()
	if session == nil {
		session, err = c.sessions.Open(ctx, target, startedAt)
		if err != nil {
			c.logger.WithError(err).WithField("stream_key", target).Error("Session open failed")
			return
		}
	} else {
		startedAt = session.StartedAt
		c.logger.WithFields(logging.Fields{
			"stream_key": target,
			"session_id": session.ID,
		}).Info("Resuming open session")
	}

	c.mu.Lock()
	c.roster[target] = &models.MonitoredStream{
		StreamKey:      target,
		SessionID:      session.ID,
		IsLive:         true,
		ViewerCount:    status.ViewerCount,
		FrameSourceRef: status.FrameSourceRef,
		StartedAt:      startedAt,
	}
	c.mu.Unlock()

	c.logger.WithFields(logging.Fields{
		"stream_key":   target,
		"session_id":   session.ID,
		"viewer_count": status.ViewerCount,
	}).Info("Stream went live")

	if c.hub != nil {
		c.hub.BroadcastEvent(websocket.TypeStreamStart, "stream:"+target, map[string]interface{}{
			"stream_key":   target,
			"session_id":   session.ID,
			"viewer_count": status.ViewerCount,
		})
	}
}

// markOffline closes the session of a previously-live stream and resets its
// validation state.
func (c *Coordinator) markOffline(ctx context.Context, target string) {
	c.mu.Lock()
	stream, known := c.roster[target]
	if !known || !stream.IsLive {
		c.mu.Unlock()
		return
	}
	stream.IsLive = false
	sessionID := stream.SessionID
	startedAt := stream.StartedAt
	c.mu.Unlock()

	endedAt := time.Now().UTC()
	if err := c.sessions.Close(ctx, sessionID, endedAt); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Error("Session close failed")
	}
	if c.listener != nil {
		c.listener.Reset(target)
	}

	duration := endedAt.Sub(startedAt)
	c.logger.WithFields(logging.Fields{
		"stream_key": target,
		"session_id": sessionID,
		"duration":   duration,
	}).Info("Stream went offline")

	if c.hub != nil {
		c.hub.BroadcastEvent(websocket.TypeStreamEnd, "stream:"+target, map[string]interface{}{
			"stream_key":       target,
			"session_id":       sessionID,
			"duration_seconds": duration.Seconds(),
		})
	}
}

// JobTick enqueues one job per currently-live stream. Suppressed duplicates
// are expected and only counted.
func (c *Coordinator) JobTick(ctx context.Context) {
	for _, stream := range c.LiveStreams() {
		job := &models.StreamJob{
			JobID:          uuid.New().String(),
			StreamKey:      stream.StreamKey,
			SessionID:      stream.SessionID,
			FrameSourceRef: stream.FrameSourceRef,
			Platform:       c.cfg.Platform,
			Priority:       models.PriorityNormal,
			CreatedAt:      time.Now().UTC(),
		}

		enqueued, err := c.queue.Enqueue(ctx, job)
		if err != nil {
			c.logger.WithError(err).WithField("stream_key", stream.StreamKey).Error("Enqueue failed")
			continue
		}
		if c.metrics != nil {
			outcome := "enqueued"
			if !enqueued {
				outcome = "deduped"
			}
			c.metrics.JobsEnqueued.WithLabelValues(outcome).Inc()
		}
	}
}

// LiveStreams returns a snapshot of the currently-live roster entries.
func (c *Coordinator) LiveStreams() []models.MonitoredStream {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.MonitoredStream, 0, len(c.roster))
	for _, s := range c.roster {
		if s.IsLive {
			out = append(out, *s)
		}
	}
	return out
}

// Streams returns a snapshot of the full roster for the operational API.
func (c *Coordinator) Streams() []models.MonitoredStream {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.MonitoredStream, 0, len(c.roster))
	for _, s := range c.roster {
		out = append(out, *s)
	}
	return out
}
