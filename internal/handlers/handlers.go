package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rogervilla2024/slotfeed-sub001/internal/coordinator"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
	"github.com/rogervilla2024/slotfeed-sub001/internal/publisher"
	"github.com/rogervilla2024/slotfeed-sub001/internal/queue"
	"github.com/rogervilla2024/slotfeed-sub001/internal/websocket"
)

// Handlers exposes the operational HTTP API and the WebSocket entry point.
type Handlers struct {
	queue       *queue.JobQueue
	coordinator *coordinator.Coordinator
	publisher   *publisher.Publisher
	hub         *websocket.Hub
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func New(q *queue.JobQueue, coord *coordinator.Coordinator, pub *publisher.Publisher, hub *websocket.Hub, logger logging.Logger, m *metrics.Metrics) *Handlers {
	return &Handlers{
		queue:       q,
		coordinator: coord,
		publisher:   pub,
		hub:         hub,
		logger:      logger,
		metrics:     m,
	}
}

// RegisterRoutes attaches all routes to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/queue/stats", h.GetQueueStats)
		api.GET("/streams", h.GetStreams)
		api.GET("/events/bigwins", h.GetRecentBigWins)
		api.GET("/events/deposits", h.GetRecentDeposits)
		api.GET("/hub/stats", h.GetHubStats)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/queue/clear-stale", h.ClearStaleActive)
	}
}

// HandleWebSocket upgrades the connection, pre-subscribing to any channels
// given as ?channels=stream:foo,alerts.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	var initial []string
	if raw := c.Query("channels"); raw != "" {
		for _, ch := range strings.Split(raw, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				initial = append(initial, ch)
			}
		}
	}
	h.hub.ServeWS(c.Writer, c.Request, initial)
}

// GetQueueStats returns queue depths, counters and live workers.
func (h *Handlers) GetQueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read queue stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue stats"})
		return
	}
	if h.metrics != nil {
		h.metrics.QueueDepth.WithLabelValues("high").Set(float64(stats.HighDepth))
		h.metrics.QueueDepth.WithLabelValues("normal").Set(float64(stats.NormalDepth))
		h.metrics.ActiveStreams.WithLabelValues().Set(float64(stats.ActiveCount))
	}
	c.JSON(http.StatusOK, stats)
}

// GetStreams returns the coordinator's roster.
func (h *Handlers) GetStreams(c *gin.Context) {
	streams := h.coordinator.Streams()
	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"count":   len(streams),
	})
}

// GetRecentBigWins returns the most recent big-win events, newest last.
func (h *Handlers) GetRecentBigWins(c *gin.Context) {
	events := h.publisher.RecentBigWins()
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetRecentDeposits returns the most recent deposit events, newest last.
func (h *Handlers) GetRecentDeposits(c *gin.Context) {
	events := h.publisher.RecentDeposits()
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetHubStats returns WebSocket hub connection and subscription counts.
func (h *Handlers) GetHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// ClearStaleActive triggers the lease sweep. Leases self-expire via TTL;
// this endpoint is the operational escape hatch for when they pile up.
// Accepts an optional ?bound= override.
func (h *Handlers) ClearStaleActive(c *gin.Context) {
	bound := 0
	if raw := c.Query("bound"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bound must be a non-negative integer"})
			return
		}
		bound = n
	}

	cleared, err := h.queue.ClearStaleActive(c.Request.Context(), bound)
	if err != nil {
		h.logger.WithError(err).Error("Failed to clear stale active set")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear stale active set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}
