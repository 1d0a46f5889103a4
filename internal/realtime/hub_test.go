package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/oro/internal/reputation"
	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/scoring"
)

const (
	walletA = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	walletB = "0x1234567890abcdef1234567890abcdef12345678"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func registerClient(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: h, send: make(chan []byte, sendBuffer)}
	client.setSubscription(sub)
	h.register <- client
	return client
}

func record(addr string, level risk.Level) *reputation.WalletRecord {
	return &reputation.WalletRecord{
		Address:     addr,
		Score:       64,
		Tier:        scoring.TierStable,
		RiskLevel:   level,
		RiskFlags:   []risk.Flag{},
		LastUpdated: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionMatches(t *testing.T) {
	updated := &Event{Type: EventScoreUpdated, Address: walletA}
	highRisk := &Event{Type: EventHighRisk, Address: walletB}

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"empty subscription matches all", Subscription{}, updated, true},
		{"type filter match", Subscription{EventTypes: []EventType{EventScoreUpdated}}, updated, true},
		{"type filter miss", Subscription{EventTypes: []EventType{EventHighRisk}}, updated, false},
		{"address filter match ignores case", Subscription{Addresses: []string{"0x" + strings.ToUpper(walletA[2:])}}, updated, true},
		{"address filter miss", Subscription{Addresses: []string{walletA}}, highRisk, false},
		{"both filters", Subscription{EventTypes: []EventType{EventHighRisk}, Addresses: []string{walletB}}, highRisk, true},
		{"malformed addresses are dropped", Subscription{Addresses: []string{"0x1234", walletB}}, updated, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.normalize().matches(tt.ev))
		})
	}
}

func TestHub_Stats_Initial(t *testing.T) {
	assert.Equal(t, Stats{}, testHub().Stats())
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)

	client := registerClient(t, h, Subscription{})
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients)

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients, "peak survives disconnects")
}

func TestHub_PublishScore(t *testing.T) {
	h := runHub(t)
	client := registerClient(t, h, Subscription{})

	h.PublishScore(record(walletA, risk.LevelLow))

	ev := receive(t, client)
	assert.Equal(t, EventScoreUpdated, ev.Type)
	assert.Equal(t, walletA, ev.Address)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(64), data["score"])
	assert.Equal(t, "Stable", data["tier"])
	assert.Equal(t, "LOW", data["riskLevel"])

	assertNothing(t, client)
	assert.Equal(t, int64(1), h.Stats().TotalEvents)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue
	for i := 0; i < sendBuffer+3; i++ {
		h.Broadcast(&Event{Type: EventScoreUpdated, Address: walletA})
	}
	assert.Equal(t, int64(3), h.Stats().DroppedEvents)
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	h := runHub(t)
	slow := &Client{hub: h, send: make(chan []byte)} // unbuffered and never read
	h.register <- slow
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)

	h.PublishScore(record(walletA, risk.LevelLow))
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHub_PublishHighRisk(t *testing.T) {
	h := runHub(t)
	alerts := registerClient(t, h, Subscription{EventTypes: []EventType{EventHighRisk}})

	h.PublishScore(record(walletA, risk.LevelMedium))
	h.PublishScore(record(walletB, risk.LevelHigh))

	ev := receive(t, alerts)
	assert.Equal(t, EventHighRisk, ev.Type)
	assert.Equal(t, walletB, ev.Address)
	assertNothing(t, alerts)
}

func TestHub_AddressFilteredBroadcast(t *testing.T) {
	h := runHub(t)
	watcher := registerClient(t, h, Subscription{Addresses: []string{walletB}})

	h.PublishScore(record(walletA, risk.LevelLow))
	assertNothing(t, watcher)

	h.PublishScore(record(walletB, risk.LevelLow))
	assert.Equal(t, walletB, receive(t, watcher).Address)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	// Upgrades after shutdown are refused.
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, w.Code)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?address=0x" + strings.ToUpper(walletB[2:])

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)

	h.PublishScore(record(walletA, risk.LevelLow))
	h.PublishScore(record(walletB, risk.LevelLow))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventScoreUpdated, ev.Type)
	assert.Equal(t, walletB, ev.Address, "address query filters the stream")

	// A subscription message replaces the filter.
	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []EventType{EventHighRisk}}))
	time.Sleep(50 * time.Millisecond)
	h.PublishScore(record(walletA, risk.LevelLow))
	h.PublishScore(record(walletA, risk.LevelHigh))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventHighRisk, ev.Type)
	assert.Equal(t, walletA, ev.Address)
}

func TestHub_RejectsInvalidAddressFilter(t *testing.T) {
	h := runHub(t)
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws?address=0x1234", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
