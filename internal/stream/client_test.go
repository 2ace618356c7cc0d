package stream

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"polyarb/internal/book"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
)

// stallingMirror blocks every publish until released.
type stallingMirror struct {
	release   chan struct{}
	published chan domain.PairQuote
}

func (m *stallingMirror) PublishQuote(ctx context.Context, q domain.PairQuote) error {
	select {
	case <-m.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.published <- q
	return nil
}

func TestSlowMirrorDoesNotStallApplyPath(t *testing.T) {
	store := book.NewStore()
	store.Track(domain.Market{ID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1", Status: domain.MarketStatusActive})

	mirror := &stallingMirror{release: make(chan struct{}), published: make(chan domain.PairQuote, 128)}
	c := NewClient("ws://unused", testStreamConfig(), nil, store, mirror, metrics.New(), slog.Default())

	frame := []byte(`[{"event_type":"book","asset_id":"yes-1","timestamp":"1700000000001",` +
		`"bids":[{"price":"0.45","size":"50"}],"asks":[{"price":"0.47","size":"50"}]},` +
		`{"event_type":"book","asset_id":"no-1","timestamp":"1700000000001",` +
		`"bids":[{"price":"0.48","size":"50"}],"asks":[{"price":"0.50","size":"50"}]}]`)

	start := time.Now()
	for i := 0; i < 50; i++ {
		c.handleFrame(frame)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handleFrame took %v with a blocked mirror", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.runMirror(ctx)
	close(mirror.release)

	select {
	case q := <-mirror.published:
		if q.MarketID != "cond-1" {
			t.Errorf("published market %q, want cond-1", q.MarketID)
		}
		if q.CombinedAsk != 0.47+0.50 {
			t.Errorf("published combined ask = %v, want %v", q.CombinedAsk, 0.47+0.50)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued quote never reached the mirror")
	}
}
