// Package ws pushes refresh and operation notices to WebSocket clients.
// A client may narrow operation notices to the events it is showing.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	maxEventFilters = 256
)

// Channels are the SignalBus channels relayed to clients.
var Channels = []string{domain.ChannelRefresh, domain.ChannelOperation}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are already checked by the CORS middleware
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope wraps every message sent to clients. Type is a channel name,
// "hello", "subscribed" or "error".
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg changes what a client receives. Events restricts operation
// notices to the listed event contracts; an empty filter means all events.
type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe or unsubscribe
	Channels []string `json:"channels,omitempty"`
	Events   []string `json:"events,omitempty"`
}

// Config describes the service in the hello message sent on connect.
type Config struct {
	Mode      string
	Wallet    string
	StartedAt time.Time
}

// Hub relays SignalBus messages to connected WebSocket clients.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// notice is one bus message ready to send. event is set for operation
// notices so per-client filters need not decode the payload.
type notice struct {
	channel string
	event   string
	frame   []byte
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws")),
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to Channels and relays until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, channel := range Channels {
		in, err := h.bus.Subscribe(ctx, channel)
		if err != nil {
			h.logger.Error("subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.relay(channel, in)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) relay(channel string, in <-chan []byte) {
	for data := range in {
		n, err := newNotice(channel, data)
		if err != nil {
			h.logger.Debug("dropping non-JSON message", slog.String("channel", channel))
			continue
		}
		h.broadcast(n)
	}
}

func newNotice(channel string, data []byte) (notice, error) {
	n := notice{channel: channel}
	if channel == domain.ChannelOperation {
		var probe struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return n, err
		}
		n.event = strings.ToLower(probe.Event)
	}
	frame, err := json.Marshal(Envelope{Type: channel, Payload: data})
	if err != nil {
		return n, err
	}
	n.frame = frame
	return n, nil
}

func (h *Hub) broadcast(n notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(n) {
			continue
		}
		select {
		case c.send <- n.frame:
		default:
			h.logger.Warn("dropping message for slow client", slog.String("channel", n.channel))
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total_clients", total))

	c.reply("hello", map[string]any{
		"mode":           h.cfg.Mode,
		"wallet":         h.cfg.Wallet,
		"channels":       Channels,
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
	})
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", slog.Int("total_clients", total))
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	events map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool, len(Channels)),
		events: make(map[string]bool),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	return c
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) wants(n notice) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.subs[n.channel] {
		return false
	}
	return n.event == "" || len(c.events) == 0 || c.events[n.event]
}

// apply updates the client's subscriptions and returns the resulting state,
// or an error message naming the first unknown channel.
func (c *client) apply(msg subscribeMsg) (map[string]any, string) {
	for _, ch := range msg.Channels {
		if !slices.Contains(Channels, ch) {
			return nil, "unknown channel " + ch
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	on := msg.Action == "subscribe"
	if on {
		added := make(map[string]bool)
		for _, ev := range msg.Events {
			ev = strings.ToLower(strings.TrimSpace(ev))
			if ev != "" && !c.events[ev] {
				added[ev] = true
			}
		}
		if len(c.events)+len(added) > maxEventFilters {
			return nil, fmt.Sprintf("at most %d event filters", maxEventFilters)
		}
	}
	for _, ch := range msg.Channels {
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	for _, ev := range msg.Events {
		ev = strings.ToLower(strings.TrimSpace(ev))
		if ev == "" {
			continue
		}
		if on {
			c.events[ev] = true
		} else {
			delete(c.events, ev)
		}
	}

	channels := make([]string, 0, len(c.subs))
	for _, ch := range Channels {
		if c.subs[ch] {
			channels = append(channels, ch)
		}
	}
	events := make([]string, 0, len(c.events))
	for ev := range c.events {
		events = append(events, ev)
	}
	slices.Sort(events)
	return map[string]any{"channels": channels, "events": events}, ""
}

// reply queues a control message. It never blocks; a full buffer drops it.
func (c *client) reply(kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: kind, Payload: payload})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil || (msg.Action != "subscribe" && msg.Action != "unsubscribe") {
			c.reply("error", map[string]string{"error": "expected {\"action\":\"subscribe|unsubscribe\"}"})
			continue
		}
		state, problem := c.apply(msg)
		if problem != "" {
			c.reply("error", map[string]string{"error": problem})
			continue
		}
		c.reply("subscribed", state)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
