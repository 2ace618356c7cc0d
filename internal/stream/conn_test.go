package stream

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/domain"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		TokensPerConn:    100,
		InitialBackoffMs: 10,
		MaxBackoffMs:     50,
		BackoffJitter:    0,
		PongTimeoutSec:   30,
	}
}

// TestReconnectResubscribesSameTokens drops the first connection after one
// book frame and verifies the reconnect re-sends the identical subscription
// and the pair quote completes once both sides' snapshots have arrived.
func TestReconnectResubscribesSameTokens(t *testing.T) {
	store := book.NewStore()
	store.Track(domain.Market{ID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1", Status: domain.MarketStatusActive})

	subs := make(chan subscribeCommand, 2)
	applied := make(chan struct{}, 4)
	var sessions atomic.Int32

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var sub subscribeCommand
		if err := ws.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub

		n := sessions.Add(1)
		frame := `[{"event_type":"book","asset_id":"yes-1","timestamp":"1700000000001",` +
			`"bids":[{"price":"0.45","size":"50"}],"asks":[{"price":"0.47","size":"50"}]}]`
		if n > 1 {
			frame = `[{"event_type":"book","asset_id":"no-1","timestamp":"1700000000002",` +
				`"bids":[{"price":"0.48","size":"50"}],"asks":[{"price":"0.50","size":"50"}]}]`
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		if n == 1 {
			return // drop the connection
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	onFrame := func(raw []byte) {
		snaps, deltas, err := parseFrame(raw)
		if err != nil {
			t.Errorf("parseFrame: %v", err)
			return
		}
		for i := range snaps {
			store.ApplySnapshot(snaps[i])
		}
		for i := range deltas {
			store.ApplyDelta(deltas[i])
		}
		applied <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cn := newConn(0, url, []string{"yes-1", "no-1"}, testStreamConfig(), onFrame, nil)
	done := make(chan error, 1)
	go func() { done <- cn.run(ctx) }()

	waitSub := func(which string) subscribeCommand {
		select {
		case s := <-subs:
			return s
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s subscription", which)
			return subscribeCommand{}
		}
	}
	first := waitSub("first")
	if first.Type != "market" {
		t.Errorf("subscription type = %q, want market", first.Type)
	}
	second := waitSub("second")
	if !reflect.DeepEqual(second.AssetIDs, first.AssetIDs) {
		t.Errorf("resubscription tokens %v, want %v", second.AssetIDs, first.AssetIDs)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-applied:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for book frames")
		}
	}

	q, ok := store.Quote("cond-1")
	if !ok || !q.Complete {
		t.Fatalf("quote incomplete after reconnect: %+v", q)
	}
	if math.Abs(q.CombinedAsk-(0.47+0.50)) > 1e-9 {
		t.Errorf("combined ask = %v, want %v", q.CombinedAsk, 0.47+0.50)
	}
	if math.Abs(q.CombinedBid-(0.45+0.48)) > 1e-9 {
		t.Errorf("combined bid = %v, want %v", q.CombinedBid, 0.45+0.48)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection loop did not stop on cancel")
	}
}
