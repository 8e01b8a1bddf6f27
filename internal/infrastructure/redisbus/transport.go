package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("redisbus: transport closed")

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Transport carries broker events over Redis pub/sub.
// Each subscribed channel gets its own PubSub connection and reader goroutine.
type Transport struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

func NewTransport(client *redis.Client, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		client: client,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts delivering messages on channel. A second Subscribe on the
// same channel is a no-op.
func (t *Transport) Subscribe(ctx context.Context, channel string, deliver func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.subs[channel]; ok {
		return nil
	}

	ps := t.client.Subscribe(ctx, channel)
	// Wait for the confirmation so publishes after Subscribe returns are seen.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &subscription{pubsub: ps, done: make(chan struct{})}
	t.subs[channel] = sub

	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			deliver([]byte(msg.Payload))
		}
		t.logger.Debug("redis subscription ended", zap.String("channel", channel))
	}()
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	sub, ok := t.subs[channel]
	delete(t.subs, channel)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return t.stop(ctx, channel, sub)
}

func (t *Transport) stop(ctx context.Context, channel string, sub *subscription) error {
	err := sub.pubsub.Close()
	select {
	case <-sub.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Close drops every subscription. The Redis client is owned by the caller.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for channel, sub := range subs {
		if err := t.stop(ctx, channel, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
