package websocket

import (
	"encoding/json"
	"testing"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
)

func newTestHub() *Hub {
	return NewHub(logging.NewLogger(), nil)
}

func newTestClient(h *Hub) *Client {
	return &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		logger: h.logger,
	}
}

func drain(t *testing.T, c *Client) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case payload := <-c.send:
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.Fatalf("undecodable message: %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)
	c := newTestClient(h)

	h.Connect(a, []string{"stream:one"})
	h.Connect(b, []string{"stream:one"})
	h.Connect(c, []string{"stream:two"})

	h.BroadcastToChannel("stream:one", Message{Type: TypeBalanceUpdate})

	if got := drain(t, a); len(got) != 1 || got[0].Type != TypeBalanceUpdate {
		t.Fatalf("subscriber a expected 1 balance_update, got %v", got)
	}
	if got := drain(t, b); len(got) != 1 {
		t.Fatalf("subscriber b expected 1 message, got %v", got)
	}
	if got := drain(t, c); len(got) != 0 {
		t.Fatalf("non-subscriber received %v", got)
	}
}

func TestBroadcastSetsChannel(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	h.Connect(a, []string{"stream:one"})

	h.BroadcastToChannel("stream:one", Message{Type: TypeBigWin})

	got := drain(t, a)
	if len(got) != 1 || got[0].Channel != "stream:one" {
		t.Fatalf("expected channel stamped on the message, got %v", got)
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp stamped on the message")
	}
}

func TestDisconnectPrunesBothDirections(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)

	h.Connect(a, []string{"stream:one", "alerts"})
	h.Connect(b, []string{"stream:one"})

	h.Disconnect(a)

	channels := h.Channels()
	if channels["stream:one"] != 1 {
		t.Fatalf("expected 1 remaining subscriber on stream:one, got %d", channels["stream:one"])
	}
	if _, ok := channels["alerts"]; ok {
		t.Fatal("empty channel should be pruned")
	}

	h.BroadcastToChannel("stream:one", Message{Type: TypeBalanceUpdate})
	if got := drain(t, a); len(got) != 0 {
		t.Fatalf("disconnected client received %v", got)
	}
}

func TestDisconnectTwiceIsSafe(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	h.Connect(a, nil)

	h.Disconnect(a)
	h.Disconnect(a)

	if stats := h.Stats(); stats["total_clients"].(int) != 0 {
		t.Fatalf("expected 0 clients, got %v", stats["total_clients"])
	}
}

func TestSubscribeUnconnectedReturnsFalse(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)

	if h.Subscribe(a, "stream:one") {
		t.Fatal("subscribe on an unregistered connection must return false")
	}
	if len(h.Channels()) != 0 {
		t.Fatal("failed subscribe must not create the channel")
	}
}

func TestSubscribeThenUnsubscribe(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	h.Connect(a, nil)

	if !h.Subscribe(a, "stream:one") {
		t.Fatal("subscribe on a registered connection should succeed")
	}
	if h.Channels()["stream:one"] != 1 {
		t.Fatal("expected subscription recorded")
	}

	if !h.Unsubscribe(a, "stream:one") {
		t.Fatal("unsubscribe on a registered connection should succeed")
	}
	if _, ok := h.Channels()["stream:one"]; ok {
		t.Fatal("channel with no subscribers should be pruned")
	}
}

func TestSendToUnregisteredReturnsFalse(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)

	if h.SendTo(a, Message{Type: TypePong}) {
		t.Fatal("SendTo on an unregistered connection must return false")
	}
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	h := newTestHub()
	slow := &Client{hub: h, send: make(chan []byte, 1), logger: h.logger}
	fast := newTestClient(h)

	h.Connect(slow, []string{"stream:one"})
	h.Connect(fast, []string{"stream:one"})

	// Fill the slow client's buffer; further messages to it are dropped,
	// but the fast client keeps receiving.
	h.BroadcastToChannel("stream:one", Message{Type: TypeBalanceUpdate})
	h.BroadcastToChannel("stream:one", Message{Type: TypeBalanceUpdate})

	if got := drain(t, fast); len(got) != 2 {
		t.Fatalf("fast client expected 2 messages, got %d", len(got))
	}
	if got := drain(t, slow); len(got) != 1 {
		t.Fatalf("slow client expected 1 buffered message, got %d", len(got))
	}
}

func TestBroadcastToAll(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)
	h.Connect(a, []string{"stream:one"})
	h.Connect(b, nil)

	h.BroadcastToAll(Message{Type: TypeStreamEnd})

	if got := drain(t, a); len(got) != 1 {
		t.Fatalf("expected 1 message for a, got %d", len(got))
	}
	if got := drain(t, b); len(got) != 1 {
		t.Fatalf("expected 1 message for b, got %d", len(got))
	}
}
