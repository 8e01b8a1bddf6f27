package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/alpha_monitor/internal/domain"
	"github.com/vitos/alpha_monitor/internal/usecase"
	"go.uber.org/zap"
)

// Stream message types.
const (
	MsgInitialData = "initial_data"
	MsgDataUpdate  = "data_update"
	MsgNewCoin     = "new_coin"
	MsgNewFutures  = "new_futures"
	MsgPong        = "pong"

	// Client control messages.
	MsgPing        = "ping"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
)

const (
	DefaultSnapshotInterval  = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultSendBuffer        = 64

	maxClientMessage = 4096
)

var ErrHubClosed = errors.New("fanout hub closed")

// Message is the stream envelope sent to subscribers.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AssetLister provides the full asset list for snapshots.
type AssetLister interface {
	Assets(ctx context.Context) ([]domain.AssetRecord, error)
}

// EventSource is the subscribe side of the broker.
type EventSource interface {
	Subscribe(ctx context.Context, channel string, h usecase.Handler) (*usecase.Subscription, error)
	Unsubscribe(ctx context.Context, sub *usecase.Subscription) error
}

// SubscriberObserver is told the subscriber count whenever it changes.
type SubscriberObserver interface {
	SubscribersChanged(n int)
}

type HubConfig struct {
	SnapshotInterval  time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
}

func (c *HubConfig) applyDefaults() {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Hub relays broker events to every connected stream subscriber.
// Each subscriber has its own send buffer and writer goroutine, so a slow
// connection only loses its own messages.
type Hub struct {
	cfg      HubConfig
	source   EventSource
	assets   AssetLister
	observer SubscriberObserver
	logger   *zap.Logger
	upgrader websocket.Upgrader
	timeNow  func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    []*usecase.Subscription
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(cfg HubConfig, source EventSource, assets AssetLister, observer SubscriberObserver, logger *zap.Logger) *Hub {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		source:   source,
		assets:   assets,
		observer: observer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		timeNow: time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Start subscribes to the broker channels and starts the snapshot and
// heartbeat timers.
func (h *Hub) Start(ctx context.Context) error {
	routes := []struct {
		channel string
		handler usecase.Handler
	}{
		{domain.ChannelPriceUpdate, h.relay(MsgDataUpdate)},
		{domain.ChannelNewCoin, h.relay(MsgNewCoin)},
		{domain.ChannelNewFutures, h.relay(MsgNewFutures)},
		{domain.ChannelDataSync, func(ctx context.Context, _ domain.Event) { h.pushSnapshot(ctx) }},
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.mu.Unlock()

	var subs []*usecase.Subscription
	for _, r := range routes {
		sub, err := h.source.Subscribe(ctx, r.channel, r.handler)
		if err != nil {
			for _, s := range subs {
				_ = h.source.Unsubscribe(ctx, s)
			}
			return err
		}
		subs = append(subs, sub)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.subs = subs
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(2)
	go h.every(loopCtx, h.cfg.SnapshotInterval, h.pushSnapshot)
	go h.every(loopCtx, h.cfg.HeartbeatInterval, func(context.Context) { h.heartbeat() })

	h.logger.Info("Fanout hub started",
		zap.Duration("snapshot_interval", h.cfg.SnapshotInterval),
		zap.Duration("heartbeat_interval", h.cfg.HeartbeatInterval))
	return nil
}

func (h *Hub) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	defer h.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Close stops both timers, drops the broker subscriptions and closes every
// connection. The caller closes the listener afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	cancel := h.cancel
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()

	var errs []error
	for _, s := range subs {
		if err := h.source.Unsubscribe(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	deadline := h.timeNow().Add(time.Second)
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.close()
	}
	h.notify(0)
	h.logger.Info("Fanout hub closed", zap.Int("clients", len(clients)))
	return errors.Join(errs...)
}

// ClientCount returns the number of open subscriber connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	// Queue the snapshot before registering so it is the first message.
	if msg, err := h.snapshotMessage(r.Context(), MsgInitialData); err != nil {
		h.logger.Warn("Failed to build initial snapshot", zap.Error(err))
	} else {
		c.send <- msg
	}

	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), h.timeNow().Add(time.Second))
		c.close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.notify(n)
	h.logger.Info("Subscriber connected", zap.String("remote", c.conn.RemoteAddr().String()), zap.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.notify(n)
		h.logger.Info("Subscriber disconnected", zap.Int("clients", n))
	}
}

func (h *Hub) notify(n int) {
	if h.observer != nil {
		h.observer.SubscribersChanged(n)
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxClientMessage)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.closed() {
				h.logger.Debug("Subscriber read error", zap.Error(err))
			}
			return
		}
		h.handleControl(c, data)
	}
}

func (h *Hub) handleControl(c *client, data []byte) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("Malformed subscriber message", zap.Error(err))
		return
	}

	switch msg.Type {
	case MsgPing:
		pong, err := json.Marshal(Message{Type: MsgPong, Timestamp: h.timeNow()})
		if err != nil {
			return
		}
		h.enqueue(c, pong)
	case MsgSubscribe, MsgUnsubscribe:
		// Topic hints are recorded only; every subscriber gets every message.
		h.logger.Info("Subscriber topic hint", zap.String("type", msg.Type), zap.ByteString("topic", msg.Data))
	default:
		h.logger.Warn("Unknown subscriber message", zap.String("type", msg.Type))
	}
}

func (h *Hub) writePump(c *client) {
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(h.timeNow().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Subscriber write failed", zap.Error(err))
				return
			}
		}
	}
}

// enqueue never blocks; a full buffer drops the message for that client only.
func (h *Hub) enqueue(c *client, msg []byte) {
	if c.closed() {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Debug("Subscriber buffer full, dropping message")
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.closed() {
			h.remove(c)
			continue
		}
		h.enqueue(c, msg)
	}
}

func (h *Hub) relay(msgType string) usecase.Handler {
	return func(_ context.Context, event domain.Event) {
		ts := event.Timestamp
		if ts.IsZero() {
			ts = h.timeNow()
		}
		msg, err := json.Marshal(Message{Type: msgType, Data: event.Data, Timestamp: ts})
		if err != nil {
			h.logger.Warn("Failed to encode stream message", zap.String("type", msgType), zap.Error(err))
			return
		}
		h.broadcast(msg)
	}
}

// pushSnapshot broadcasts the full asset list as a data_update.
func (h *Hub) pushSnapshot(ctx context.Context) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := h.snapshotMessage(ctx, MsgDataUpdate)
	if err != nil {
		h.logger.Warn("Failed to build snapshot", zap.Error(err))
		return
	}
	h.broadcast(msg)
	h.logger.Debug("Snapshot pushed", zap.Int("clients", h.ClientCount()))
}

func (h *Hub) snapshotMessage(ctx context.Context, msgType string) ([]byte, error) {
	records, err := h.assets.Assets(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.AssetRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Data: data, Timestamp: h.timeNow()})
}

// heartbeat pings every open connection and drops the ones already closed.
func (h *Hub) heartbeat() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	// Pings run per connection so one stalled writer cannot hold up the rest.
	deadline := h.timeNow().Add(h.cfg.WriteTimeout)
	var wg sync.WaitGroup
	for _, c := range clients {
		if c.closed() {
			h.remove(c)
			continue
		}
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Debug("Ping failed, dropping subscriber", zap.Error(err))
				h.remove(c)
			}
		}(c)
	}
	wg.Wait()
	h.logger.Debug("Heartbeat", zap.Int("clients", h.ClientCount()))
}
