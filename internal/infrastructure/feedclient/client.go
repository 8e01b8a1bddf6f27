package feedclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultBaseDelay    = time.Second
	MaxDelay            = 30 * time.Second
	DefaultMaxAttempts  = 10
	DefaultPingInterval = 30 * time.Second

	writeTimeout = 5 * time.Second
)

var ErrGaveUp = errors.New("feedclient: reconnect attempts exhausted")

// Message is one stream envelope.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Config struct {
	URL              string
	BaseDelay        time.Duration
	MaxAttempts      int
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// Backoff returns the delay before reconnect attempt n (zero based):
// min(base * 2^n, 30s).
func Backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// Client tails the fanout stream and reconnects after unclean closes.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	handler func(Message)
	logger  *zap.Logger

	// wait is replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, handler func(Message), logger *zap.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		handler: handler,
		logger:  logger,
		wait:    sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run delivers stream messages until ctx is cancelled, the server closes the
// stream normally, or MaxAttempts consecutive reconnects fail.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, clean, err := c.session(ctx)
		if ctx.Err() != nil || clean {
			return nil
		}
		if connected {
			attempt = 0
		}
		if attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w (%d attempts): %v", ErrGaveUp, attempt, err)
		}

		delay := Backoff(c.cfg.BaseDelay, attempt)
		attempt++
		c.logger.Warn("Stream disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("delay", delay))
		if err := c.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// session runs one connection. clean reports a normal close from either side.
func (c *Client) session(ctx context.Context) (connected, clean bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.logger.Info("Stream connected", zap.String("url", c.cfg.URL))

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return fn()
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblock the reader with a normal close.
				_ = write(func() error {
					return conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				})
				_ = conn.SetReadDeadline(time.Now().Add(time.Second))
				return
			case <-ticker.C:
				if err := write(func() error { return conn.WriteJSON(map[string]string{"type": "ping"}) }); err != nil {
					c.logger.Debug("Ping failed", zap.Error(err))
				}
			}
		}
	}()

	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, true, nil
			}
			return true, false, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Malformed stream message", zap.Error(err))
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}
