package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/cache/memory"
	"github.com/alanyoungcy/predictstake/internal/domain"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func startHub(t *testing.T) (*Hub, *memory.Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := memory.NewBus()
	hub := NewHub(bus, nil, Config{Mode: "serve", Wallet: "0xaa"})
	go func() { _ = hub.Run(ctx) }()
	require.Eventually(t, func() bool {
		return bus.Subscribers(domain.ChannelRefresh) == 1 && bus.Subscribers(domain.ChannelOperation) == 1
	}, time.Second, 5*time.Millisecond)
	return hub, bus
}

func TestHubRelaysNotices(t *testing.T) {
	hub, bus := startHub(t)
	conn := dial(t, hub)

	hello := readEnvelope(t, conn)
	require.Equal(t, "hello", hello.Type)
	assert.Contains(t, string(hello.Payload), `"mode":"serve"`)

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelOperation, []byte(`{"id":"op-1","to":"confirmed"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelOperation, env.Type)
	assert.JSONEq(t, `{"id":"op-1","to":"confirmed"}`, string(env.Payload))
}

func TestHubHonoursUnsubscribe(t *testing.T) {
	hub, bus := startHub(t)
	conn := dial(t, hub)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelRefresh}}))
	ack := readEnvelope(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	assert.JSONEq(t, `{"channels":["operation"],"events":[]}`, string(ack.Payload))

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelRefresh, []byte(`{"reason":"x"}`)))
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelOperation, []byte(`{"id":"op-2"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelOperation, env.Type)
}

func TestHubFiltersOperationsByEvent(t *testing.T) {
	hub, bus := startHub(t)
	conn := dial(t, hub)
	readEnvelope(t, conn)

	watched := "0x00000000000000000000000000000000000000Ee"
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Events: []string{watched}}))
	ack := readEnvelope(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	assert.Contains(t, string(ack.Payload), strings.ToLower(watched))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.ChannelOperation, []byte(`{"id":"other","event":"0x00000000000000000000000000000000000000ff"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelOperation, []byte(`{"id":"mine","event":"`+watched+`"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelOperation, env.Type)
	assert.Contains(t, string(env.Payload), `"id":"mine"`)

	require.NoError(t, bus.Publish(ctx, domain.ChannelRefresh, []byte(`{"reason":"tick"}`)))
	assert.Equal(t, domain.ChannelRefresh, readEnvelope(t, conn).Type)
}

func TestHubRejectsUnknownChannel(t *testing.T) {
	hub, _ := startHub(t)
	conn := dial(t, hub)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"orders"}}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Type)
	assert.Contains(t, string(env.Payload), "unknown channel orders")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "error", readEnvelope(t, conn).Type)

	for c := range snapshotClients(hub) {
		assert.True(t, c.isSubscribed(domain.ChannelRefresh))
	}
}

func TestClientCapsEventFilters(t *testing.T) {
	c := newClient(nil, nil)
	for i := 0; i < maxEventFilters; i++ {
		_, errMsg := c.apply(subscribeMsg{Action: "subscribe", Events: []string{fmt.Sprintf("0x%040x", i)}})
		require.Empty(t, errMsg)
	}

	_, errMsg := c.apply(subscribeMsg{Action: "subscribe", Events: []string{fmt.Sprintf("0x%040x", maxEventFilters)}})
	assert.Equal(t, fmt.Sprintf("at most %d event filters", maxEventFilters), errMsg)
	assert.Len(t, c.events, maxEventFilters)

	// already present
	_, errMsg = c.apply(subscribeMsg{Action: "subscribe", Events: []string{fmt.Sprintf("0x%040x", 0)}})
	assert.Empty(t, errMsg)

	_, errMsg = c.apply(subscribeMsg{Action: "unsubscribe", Events: []string{fmt.Sprintf("0x%040x", 0)}})
	require.Empty(t, errMsg)
	_, errMsg = c.apply(subscribeMsg{Action: "subscribe", Events: []string{fmt.Sprintf("0x%040x", maxEventFilters)}})
	assert.Empty(t, errMsg)
	assert.Len(t, c.events, maxEventFilters)
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := memory.NewBus()
	hub := NewHub(bus, nil, Config{})
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Subscribers(domain.ChannelOperation) == 1 }, time.Second, 5*time.Millisecond)

	conn := dial(t, hub)
	readEnvelope(t, conn)
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.clientCount())
}

func snapshotClients(h *Hub) map[*client]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[*client]bool, len(h.clients))
	for c := range h.clients {
		out[c] = true
	}
	return out
}
