package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// defaultStreamMaxLen caps mirrored event streams, enforced via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// EventMirror tees bus events into per-channel Redis streams so external
// consumers can replay recent activity. Implements bus.Mirror.
type EventMirror struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventMirror creates an EventMirror backed by the given Client. A
// non-positive maxLen falls back to the default.
func NewEventMirror(c *Client, maxLen int64) *EventMirror {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &EventMirror{rdb: c.Underlying(), maxLen: maxLen}
}

func streamKey(channel string) string {
	return "events:" + channel
}

// Append writes one event payload to the channel's stream with approximate
// trimming.
func (m *EventMirror) Append(ctx context.Context, channel string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := m.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", channel, err)
	}
	return nil
}

// ReadRecent reads up to count events from the channel's stream starting
// after lastID. Use "0" to read from the beginning. Returns an empty slice
// when nothing is available.
func (m *EventMirror) ReadRecent(ctx context.Context, channel, lastID string, count int) ([][]byte, error) {
	args := &redis.XReadArgs{
		Streams: []string{streamKey(channel), lastID},
		Count:   int64(count),
	}

	results, err := m.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", channel, err)
	}

	var payloads [][]byte
	for _, s := range results {
		for _, msg := range s.Messages {
			switch v := msg.Values["payload"].(type) {
			case string:
				payloads = append(payloads, []byte(v))
			case []byte:
				payloads = append(payloads, v)
			}
		}
	}
	return payloads, nil
}
