package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// inboundMsg is what connected clients may send over a transport.
type inboundMsg struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// HandleInbound interprets one client message and returns the JSON reply the
// transport should write back. Subscription changes take effect immediately.
func (b *Bus) HandleInbound(sub Subscriber, raw []byte) []byte {
	var msg inboundMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorReply("invalid message")
	}

	switch msg.Type {
	case "ping":
		// Echo the client's timestamp so it can measure round-trip time.
		ts := any(time.Now().UTC().Format(time.RFC3339Nano))
		if len(msg.Timestamp) > 0 {
			ts = msg.Timestamp
		}
		return reply(map[string]any{
			"type":      "pong",
			"timestamp": ts,
		})

	case "subscribe":
		if err := b.Subscribe(sub, msg.Channel); err != nil {
			return errorReply(fmt.Sprintf("unknown channel %q", msg.Channel))
		}
		return reply(map[string]any{
			"type":    "subscribed",
			"channel": msg.Channel,
		})

	case "unsubscribe":
		if !ValidChannel(msg.Channel) {
			return errorReply(fmt.Sprintf("unknown channel %q", msg.Channel))
		}
		b.Unsubscribe(sub.ID(), msg.Channel)
		return reply(map[string]any{
			"type":    "unsubscribed",
			"channel": msg.Channel,
		})

	case "get_statistics":
		return reply(map[string]any{
			"type": "statistics",
			"data": b.Stats(),
		})

	default:
		return errorReply(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func reply(v map[string]any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","error":"internal"}`)
	}
	return data
}

func errorReply(detail string) []byte {
	return reply(map[string]any{
		"type":  "error",
		"error": detail,
	})
}
