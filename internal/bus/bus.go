// Package bus fans events out to live subscribers over named channels.
// Transports (the WebSocket layer) register Subscriber implementations;
// the core publishes without knowing what carries the bytes.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traderops/backoffice/internal/domain"
)

// Channel names. ChannelAll receives every event regardless of its channel.
const (
	ChannelDashboard = "dashboard"
	ChannelTrading   = "trading"
	ChannelPositions = "positions"
	ChannelSessions  = "sessions"
	ChannelAll       = "all"
)

// sendTimeout bounds a single delivery. A subscriber that cannot accept a
// message within this window is evicted so one stalled connection never
// blocks the rest.
const sendTimeout = 5 * time.Second

// ValidChannel reports whether name is part of the channel lexicon.
func ValidChannel(name string) bool {
	switch name {
	case ChannelDashboard, ChannelTrading, ChannelPositions, ChannelSessions, ChannelAll:
		return true
	}
	return false
}

// Subscriber is one live consumer of bus events.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Mirror receives a copy of every published event, best effort. Used to tee
// events into a Redis stream for external consumers.
type Mirror interface {
	Append(ctx context.Context, channel string, data []byte) error
}

// Event is the JSON envelope every published message is wrapped in.
type Event struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Subscribers  map[string]int `json:"subscribers"`
	Connections  int            `json:"connections"`
	MessagesSent int64          `json:"messages_sent"`
	SendFailures int64          `json:"send_failures"`
	Evictions    int64          `json:"evictions"`
}

// Bus routes events to subscribers. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger
	mirror Mirror

	mu       sync.RWMutex
	channels map[string]map[string]Subscriber

	sent      atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithMirror tees every published event into m.
func WithMirror(m Mirror) Option {
	return func(b *Bus) { b.mirror = m }
}

// New creates an event bus with all lexicon channels registered.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:   logger.With(slog.String("component", "event_bus")),
		channels: make(map[string]map[string]Subscriber),
	}
	for _, name := range []string{ChannelDashboard, ChannelTrading, ChannelPositions, ChannelSessions, ChannelAll} {
		b.channels[name] = make(map[string]Subscriber)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers sub on the named channel.
func (b *Bus) Subscribe(sub Subscriber, channel string) error {
	if !ValidChannel(channel) {
		return fmt.Errorf("bus: subscribe %s: unknown channel %q: %w", sub.ID(), channel, domain.ErrRequest)
	}

	b.mu.Lock()
	b.channels[channel][sub.ID()] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		slog.String("subscriber", sub.ID()),
		slog.String("channel", channel),
	)
	return nil
}

// Unsubscribe removes the subscriber from one channel only.
func (b *Bus) Unsubscribe(subID, channel string) {
	if !ValidChannel(channel) {
		return
	}
	b.mu.Lock()
	delete(b.channels[channel], subID)
	b.mu.Unlock()
}

// Evict removes the subscriber from every channel. Called when a transport
// closes or a delivery fails.
func (b *Bus) Evict(subID string) {
	b.mu.Lock()
	removed := false
	for _, subs := range b.channels {
		if _, ok := subs[subID]; ok {
			delete(subs, subID)
			removed = true
		}
	}
	b.mu.Unlock()

	if removed {
		b.evictions.Add(1)
		b.logger.Debug("subscriber evicted", slog.String("subscriber", subID))
	}
}

// Publish delivers an event to every subscriber of the channel plus the all
// channel. Publishing to the all channel reaches every subscriber on every
// channel. Deliveries run concurrently with a per-send deadline; a failed
// delivery evicts the subscriber. Publish returns once all sends complete.
func (b *Bus) Publish(ctx context.Context, channel, eventType string, data any) {
	if !ValidChannel(channel) {
		channel = ChannelDashboard
	}

	payload, err := json.Marshal(Event{
		Type:      eventType,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		b.logger.Error("event marshal failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if b.mirror != nil {
		if err := b.mirror.Append(ctx, channel, payload); err != nil {
			b.logger.Warn("event mirror append failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}

	targets := b.snapshot(channel)
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			if err := s.Send(sendCtx, payload); err != nil {
				b.failures.Add(1)
				b.logger.Warn("delivery failed, evicting subscriber",
					slog.String("subscriber", s.ID()),
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				b.Evict(s.ID())
				return
			}
			b.sent.Add(1)
		}(sub)
	}
	wg.Wait()
}

// snapshot collects the delivery set for a channel, deduplicated by id. A
// named channel unions its own members with the all channel; the all channel
// itself spans every subscriber on the bus.
func (b *Bus) snapshot(channel string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sources []map[string]Subscriber
	if channel == ChannelAll {
		for _, subs := range b.channels {
			sources = append(sources, subs)
		}
	} else {
		sources = []map[string]Subscriber{b.channels[channel], b.channels[ChannelAll]}
	}

	seen := make(map[string]struct{})
	var out []Subscriber
	for _, subs := range sources {
		for id, sub := range subs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// Stats returns current subscriber counts and delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := make(map[string]int, len(b.channels))
	unique := make(map[string]struct{})
	for name, chanSubs := range b.channels {
		subs[name] = len(chanSubs)
		for id := range chanSubs {
			unique[id] = struct{}{}
		}
	}
	b.mu.RUnlock()

	return Stats{
		Subscribers:  subs,
		Connections:  len(unique),
		MessagesSent: b.sent.Load(),
		SendFailures: b.failures.Load(),
		Evictions:    b.evictions.Load(),
	}
}
