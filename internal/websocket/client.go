package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection registered with the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger
}

// enqueue places an encoded message on the client's send buffer without
// blocking. Returns false when the buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ServeWS upgrades an HTTP request and registers the connection with the
// hub, optionally pre-subscribed to initial channels.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initialChannels []string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
	}

	h.Connect(client, initialChannels)
	h.SendTo(client, Message{
		Type:               TypeConnected,
		SubscribedChannels: h.subscriptionsOf(client),
	})

	go client.writePump()
	go client.readPump()
}

// readPump reads subscribe/unsubscribe/ping messages until the connection
// drops, then disconnects from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			return
		}

		c.handleMessage(payload)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) handleMessage(payload []byte) {
	var msg clientMessage
	if err := decodeClientMessage(payload, &msg); err != nil {
		c.logger.WithError(err).Warn("Invalid client message")
		return
	}

	switch msg.Type {
	case actionSubscribe:
		if msg.Channel == "" {
			return
		}
		if c.hub.Subscribe(c, msg.Channel) {
			c.hub.SendTo(c, Message{Type: TypeSubscribed, Channel: msg.Channel})
		}

	case actionUnsubscribe:
		if msg.Channel == "" {
			return
		}
		if c.hub.Unsubscribe(c, msg.Channel) {
			c.hub.SendTo(c, Message{Type: TypeUnsubscribed, Channel: msg.Channel})
		}

	case actionPing:
		// Liveness only, no channel semantics.
		c.hub.SendTo(c, Message{Type: TypePong})

	default:
		c.logger.WithField("type", msg.Type).Warn("Unknown client message type")
	}
}

// writePump drains the send buffer to the connection and keeps the
// transport-level ping/pong alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
