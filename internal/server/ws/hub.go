// Package ws pushes market events to browser clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	snapshotWait   = 2 * time.Second
)

// busChannels are the signal bus channels the hub relays when it runs
// behind Redis.
var busChannels = []string{
	domain.ChannelMarket,
	domain.ChannelOddsPrefix + "*",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Snapshots looks up the latest snapshot of a market.
type Snapshots interface {
	Get(ctx context.Context, marketID int64) (domain.MarketSnapshot, error)
}

// Config carries metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and routes envelopes to the clients
// subscribed to their channel. Envelopes arrive either from the Redis
// signal bus (bus != nil) or directly through Publish.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	// done is closed when Run returns; pending register and unregister
	// sends give up instead of blocking on a stopped loop.
	done     chan struct{}
	stopOnce sync.Once
	readers  sync.WaitGroup

	bus       domain.SignalBus
	snapshots Snapshots
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHub creates a Hub. bus and snapshots may be nil.
func NewHub(bus domain.SignalBus, snapshots Snapshots, cfg Config, logger *slog.Logger) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		snapshots:  snapshots,
		mode:       cfg.Mode,
		startedAt:  startedAt,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Publish queues an envelope for every client subscribed to channel. It
// never blocks; a full queue drops the envelope.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: payload}:
	default:
		h.logger.WarnContext(ctx, "ws: broadcast queue full, dropping",
			slog.String("channel", channel),
		)
	}
	return nil
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range busChannels {
			go h.relay(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.ClientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.ClientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) && !c.trySend(msg.data) {
					h.logger.Warn("ws: dropping message for slow client",
						slog.String("channel", msg.channel),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards one signal bus channel (or pattern) into the hub.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			target, payload := unwrapBusMessage(channel, data)
			select {
			case h.broadcast <- broadcastMsg{channel: target, data: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// unwrapBusMessage resolves the concrete channel of a pattern subscription
// from the envelope's odds payload.
func unwrapBusMessage(channel string, data []byte) (string, []byte) {
	if !strings.HasSuffix(channel, "*") {
		return channel, data
	}
	var env struct {
		Payload struct {
			MarketID int64 `json:"marketId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Payload.MarketID > 0 {
		return domain.OddsChannel(env.Payload.MarketID), data
	}
	return channel, data
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. Clients start
// subscribed to ch:market.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{domain.ChannelMarket: true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()
	h.readers.Add(1)

	go c.writePump()
	go c.readPump()
}

// subscribeMsg is sent by clients to manage subscriptions:
// {"action":"subscribe","channels":["ch:odds:1"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool

	sendMu sync.Mutex
	closed bool
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client is closed.
func (c *client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.readers.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.Action == "" {
			continue
		}
		for _, ch := range c.apply(msg) {
			c.sendSnapshot(ch)
		}
	}
}

// apply updates the subscription set and returns the channels newly
// subscribed to.
func (c *client) apply(msg subscribeMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			if !c.subs[ch] {
				c.subs[ch] = true
				added = append(added, ch)
			}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
	return added
}

// sendSnapshot pushes the latest odds of a market when the client
// subscribes to its odds channel.
func (c *client) sendSnapshot(channel string) {
	if c.hub.snapshots == nil {
		return
	}
	raw, ok := strings.CutPrefix(channel, domain.ChannelOddsPrefix)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotWait)
	defer cancel()
	snap, err := c.hub.snapshots.Get(ctx, id)
	if err != nil {
		c.hub.logger.Debug("ws: no snapshot for subscription",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	data, err := json.Marshal(SnapshotEnvelope(snap))
	if err != nil {
		return
	}
	c.trySend(data)
}

// SnapshotEnvelope renders a cached snapshot as an odds_update envelope.
func SnapshotEnvelope(snap domain.MarketSnapshot) domain.Envelope {
	return domain.Envelope{
		Type: domain.EventOddsUpdate,
		Payload: domain.OddsUpdate{
			MarketID:  snap.Market.ID,
			Pools:     snap.Market.Pools,
			TotalPool: snap.Market.TotalPool,
			Odds:      snap.Odds,
		},
	}
}

func (c *client) sendHello() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	data, err := json.Marshal(domain.Envelope{
		Type: "connected",
		Payload: map[string]any{
			"mode":          c.hub.mode,
			"uptimeSeconds": uptime,
			"channels":      []string{domain.ChannelMarket},
		},
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
