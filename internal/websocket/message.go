package websocket

import (
	"encoding/json"
	"time"
)

// Server→client message types.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"

	TypeBalanceUpdate = "balance_update"
	TypeBigWin        = "big_win"
	TypeGameChange    = "game_change"
	TypeStreamStart   = "stream_start"
	TypeStreamEnd     = "stream_end"
	TypeBonusTrigger  = "bonus_trigger"
)

// Client→server message types.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// Message is the server→client envelope.
type Message struct {
	Type               string                 `json:"type"`
	Channel            string                 `json:"channel,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
	SubscribedChannels []string               `json:"subscribed_channels,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
}

func (m Message) encode() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return json.Marshal(m)
}

// clientMessage is the client→server envelope: subscribe, unsubscribe or
// ping. Anything else is ignored with a log line.
type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

func decodeClientMessage(payload []byte, msg *clientMessage) error {
	return json.Unmarshal(payload, msg)
}
