package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
	"go.uber.org/zap"
)

// Cache keys.
const (
	CacheKeyAssets = "cache:assets:list"
	CacheKeyStats  = "cache:stats"
)

// Handler receives events from a subscribed channel.
type Handler func(ctx context.Context, event domain.Event)

// Subscription identifies one handler registration.
type Subscription struct {
	channel string
	id      uint64
}

func (s *Subscription) Channel() string { return s.channel }

// EventBus decouples the collector from its consumers. Events go out as JSON
// envelopes over the transport; the transport is subscribed to a channel only
// while at least one handler is registered on it.
type EventBus struct {
	transport domain.Transport
	cache     domain.Cache
	logger    *zap.Logger

	// subMu serialises transport subscribe and unsubscribe calls.
	// mu guards the handler sets; it is never held across a transport call
	// because unsubscribe waits for in-flight deliveries, which take mu.
	subMu    sync.Mutex
	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

func NewEventBus(transport domain.Transport, cache domain.Cache, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		transport: transport,
		cache:     cache,
		logger:    logger,
		handlers:  make(map[string]map[uint64]Handler),
	}
}

// Publish sends event on channel. Delivery is fire-and-forget.
func (b *EventBus) Publish(ctx context.Context, channel string, event domain.Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers h on channel.
func (b *EventBus) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	_, ok := b.handlers[channel]
	b.mu.Unlock()

	if !ok {
		if err := b.transport.Subscribe(ctx, channel, b.dispatcher(channel)); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.handlers[channel]
	if !ok {
		set = make(map[uint64]Handler)
		b.handlers[channel] = set
	}
	b.nextID++
	set[b.nextID] = h
	return &Subscription{channel: channel, id: b.nextID}, nil
}

// Unsubscribe removes the handler. Removing the last handler on a channel
// unsubscribes the transport. Unknown subscriptions are ignored.
func (b *EventBus) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if !b.removeHandler(sub) {
		return nil
	}
	if err := b.transport.Unsubscribe(ctx, sub.channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.channel, err)
	}
	return nil
}

// removeHandler drops sub and reports whether its channel is now empty.
func (b *EventBus) removeHandler(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.handlers[sub.channel]
	if !ok {
		return false
	}
	if _, ok := set[sub.id]; !ok {
		return false
	}
	delete(set, sub.id)
	if len(set) > 0 {
		return false
	}
	delete(b.handlers, sub.channel)
	return true
}

// HandlerCount returns the number of handlers registered on channel.
func (b *EventBus) HandlerCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[channel])
}

func (b *EventBus) dispatcher(channel string) func([]byte) {
	return func(payload []byte) {
		event, err := domain.DecodeEvent(payload)
		if err != nil {
			b.logger.Warn("Dropping malformed event", zap.String("channel", channel), zap.Error(err))
			return
		}

		b.mu.Lock()
		hs := make([]Handler, 0, len(b.handlers[channel]))
		for _, h := range b.handlers[channel] {
			hs = append(hs, h)
		}
		b.mu.Unlock()

		for _, h := range hs {
			h(context.Background(), event)
		}
	}
}

// CacheSet stores value as JSON under key.
func (b *EventBus) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return b.cache.Set(ctx, key, raw, ttl)
}

// CacheGet decodes the value under key into dst. A miss returns false.
func (b *EventBus) CacheGet(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := b.cache.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return true, nil
}

func (b *EventBus) InvalidateAll(ctx context.Context) error {
	return b.cache.InvalidateAll(ctx)
}

// Close drops every handler and closes the transport.
func (b *EventBus) Close(ctx context.Context) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	b.handlers = make(map[string]map[uint64]Handler)
	b.mu.Unlock()

	for _, ch := range channels {
		if err := b.transport.Unsubscribe(ctx, ch); err != nil {
			b.logger.Warn("Failed to unsubscribe", zap.String("channel", ch), zap.Error(err))
		}
	}
	return b.transport.Close()
}
