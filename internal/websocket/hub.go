package websocket

import (
	"sync"
	"time"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
)

// Hub is the channel-subscription broadcast manager. It keeps a
// bidirectional index: which channels each connection subscribes to, and
// which connections each channel has. The two directions are always mutated
// together under one lock, so a connection appears in a channel's set iff
// the channel appears in the connection's set.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*Client]map[string]struct{}
	channels map[string]map[*Client]struct{}

	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewHub(logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		conns:    make(map[*Client]map[string]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		logger:   logger,
		metrics:  m,
	}
}

// Connect registers a connection with its initial channel subscriptions.
func (h *Hub) Connect(c *Client, initialChannels []string) {
	h.mu.Lock()
	h.conns[c] = make(map[string]struct{})
	for _, ch := range initialChannels {
		h.subscribeLocked(c, ch)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues("all").Set(float64(total))
	}
	h.logger.WithFields(logging.Fields{
		"client_count": total,
		"channels":     initialChannels,
	}).Info("Client connected")
}

// Disconnect removes the connection from every channel it was in, pruning
// channels left empty, and drops the connection itself. Safe to call twice.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	subs, ok := h.conns[c]
	if ok {
		for ch := range subs {
			h.unsubscribeLocked(c, ch)
		}
		delete(h.conns, c)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues("all").Set(float64(total))
	}
	h.logger.WithField("client_count", total).Info("Client disconnected")
}

// Subscribe adds the connection to a channel. Returns false with no side
// effect when the connection is not registered: that is an expected race
// with Disconnect, not an error.
func (h *Hub) Subscribe(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	h.subscribeLocked(c, channel)
	return true
}

// Unsubscribe removes the connection from a channel. Returns false when the
// connection is not registered.
func (h *Hub) Unsubscribe(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	h.unsubscribeLocked(c, channel)
	return true
}

func (h *Hub) subscribeLocked(c *Client, channel string) {
	h.conns[c][channel] = struct{}{}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
}

func (h *Hub) unsubscribeLocked(c *Client, channel string) {
	delete(h.conns[c], channel)
	if set, ok := h.channels[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.channels, channel)
		}
	}
}

// BroadcastToChannel fans a message out to every connection subscribed to
// the channel. A slow or dying recipient is logged and skipped, never
// aborting the broadcast.
func (h *Hub) BroadcastToChannel(channel string, msg Message) {
	msg.Channel = channel
	payload, err := msg.encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		if !c.enqueue(payload) {
			h.logger.WithField("channel", channel).Warn("Dropping message to slow client")
		}
	}

	if h.metrics != nil {
		h.metrics.HubMessages.WithLabelValues(channel, "out").Add(float64(len(recipients)))
	}
}

// BroadcastToAll sends a message to every registered connection regardless
// of subscriptions.
func (h *Hub) BroadcastToAll(msg Message) {
	payload, err := msg.encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		if !c.enqueue(payload) {
			h.logger.Warn("Dropping broadcast to slow client")
		}
	}
}

// SendTo delivers a message to a single connection. Returns false when the
// connection is not registered or its send buffer is full.
func (h *Hub) SendTo(c *Client, msg Message) bool {
	h.mu.RLock()
	_, ok := h.conns[c]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := msg.encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal message")
		return false
	}
	return c.enqueue(payload)
}

// BroadcastEvent is the convenience entry point the pipeline uses: it wraps
// data in the standard envelope and fans it out.
func (h *Hub) BroadcastEvent(eventType, channel string, data map[string]interface{}) {
	h.BroadcastToChannel(channel, Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// Channels returns the subscriber count per channel.
func (h *Hub) Channels() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.channels))
	for ch, set := range h.channels {
		out[ch] = len(set)
	}
	return out
}

// Stats returns hub statistics for the operational API.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channelStats := make(map[string]int, len(h.channels))
	for ch, set := range h.channels {
		channelStats[ch] = len(set)
	}
	return map[string]interface{}{
		"total_clients":         len(h.conns),
		"channel_subscriptions": channelStats,
	}
}

// subscriptionsOf returns a snapshot of the connection's channels.
func (h *Hub) subscriptionsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := make([]string, 0, len(h.conns[c]))
	for ch := range h.conns[c] {
		subs = append(subs, ch)
	}
	return subs
}
