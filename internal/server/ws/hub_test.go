package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

type stubSnapshots map[int64]domain.MarketSnapshot

func (s stubSnapshots) Get(_ context.Context, id int64) (domain.MarketSnapshot, error) {
	snap, ok := s[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_SubscribeSnapshotAndPublish(t *testing.T) {
	snaps := stubSnapshots{
		1: {
			Market: domain.Market{ID: 1, Pools: []int64{100, 300}, TotalPool: 400},
			Odds:   []int64{40000, 13333},
		},
	}
	hub := NewHub(nil, snaps, Config{Mode: "server"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "connected", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"ch:odds:1"}}))
	f := readFrame(t, conn)
	assert.Equal(t, "odds_update", f.Type)
	var odds domain.OddsUpdate
	require.NoError(t, json.Unmarshal(f.Payload, &odds))
	assert.Equal(t, []int64{40000, 13333}, odds.Odds)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	ev := domain.MarketEvent{Type: domain.EventMarketCancelled, MarketID: 9}
	payload, err := json.Marshal(ev.Envelope())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, ev.Channel(), payload))
	assert.Equal(t, "market_cancelled", readFrame(t, conn).Type)
}

func TestClient_IsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:market": true, "ch:odds:*": true}}
	assert.True(t, c.isSubscribed("ch:market"))
	assert.True(t, c.isSubscribed("ch:odds:42"))
	assert.False(t, c.isSubscribed("ch:other"))

	added := c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:odds:*"}})
	assert.Empty(t, added)
	assert.False(t, c.isSubscribed("ch:odds:42"))

	added = c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"ch:odds:3", "ch:market"}})
	assert.Equal(t, []string{"ch:odds:3"}, added)
}

func TestUnwrapBusMessage(t *testing.T) {
	data := []byte(`{"type":"odds_update","payload":{"marketId":7,"pools":[1,2]}}`)
	ch, _ := unwrapBusMessage("ch:odds:*", data)
	assert.Equal(t, "ch:odds:7", ch)

	ch, _ = unwrapBusMessage("ch:market", data)
	assert.Equal(t, "ch:market", ch)
}

func TestHub_StopReleasesConnections(t *testing.T) {
	hub := NewHub(nil, nil, Config{Mode: "server"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	handled := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		handled <- struct{}{}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "connected", readFrame(t, conn).Type)
	<-handled

	cancel()
	<-stopped

	// The connected client's read loop exits once the hub is gone.
	readersDone := make(chan struct{})
	go func() {
		hub.readers.Wait()
		close(readersDone)
	}()
	select {
	case <-readersDone:
	case <-time.After(2 * time.Second):
		t.Fatal("client read loop still blocked after hub stopped")
	}

	// A late connection is closed instead of hanging the handler.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWS blocked after hub stopped")
	}
}
