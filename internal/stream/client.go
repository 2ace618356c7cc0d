// Package stream maintains the websocket market-data connections. Tokens are
// batched across connections, each with its own reconnect cycle; parsed
// updates flow into the book store and market-change signals out to the
// detector.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
	"polyarb/internal/registry"
)

const (
	signalQueueLen   = 1024
	mirrorQueueLen   = 256
	mirrorPublishTTL = 200 * time.Millisecond
)

// Client ties the websocket connections to the book store. It rebuilds the
// connection set whenever the registry announces a membership change.
type Client struct {
	url      string
	cfg      config.StreamConfig
	reg      *registry.Registry
	store    *book.Store
	mirror   domain.PriceMirror // optional
	metrics  *metrics.Metrics
	logger   *slog.Logger
	signals  chan string
	mirrorCh chan domain.PairQuote
}

// NewClient creates a stream client. mirror may be nil.
func NewClient(url string, cfg config.StreamConfig, reg *registry.Registry, store *book.Store, mirror domain.PriceMirror, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		url:      url,
		cfg:      cfg,
		reg:      reg,
		store:    store,
		mirror:   mirror,
		metrics:  m,
		logger:   logger.With("component", "stream"),
		signals:  make(chan string, signalQueueLen),
		mirrorCh: make(chan domain.PairQuote, mirrorQueueLen),
	}
}

// Signals returns the channel of market IDs whose books changed. The queue
// is bounded; when it is full a signal is dropped and counted, which is safe
// because consumers always re-read the current quote.
func (c *Client) Signals() <-chan string {
	return c.signals
}

// Run serves websocket data until ctx is canceled. On every registry change
// the current connections are torn down and a new set is dialed for the new
// token batches.
func (c *Client) Run(ctx context.Context) error {
	if c.mirror != nil {
		go c.runMirror(ctx)
	}
	for {
		markets := c.reg.Markets()
		c.syncStore(markets)

		connCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- c.runConns(connCtx, markets)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-c.reg.Changes():
			c.logger.Info("market set changed, resubscribing")
			cancel()
			<-done
		case err := <-done:
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: connections stopped: %w", err)
		}
	}
}

// runConns dials one connection per token batch and blocks until the first
// fatal error or cancellation.
func (c *Client) runConns(ctx context.Context, markets []domain.Market) error {
	tokens := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		tokens = append(tokens, m.YesTokenID, m.NoTokenID)
	}
	if len(tokens) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < len(tokens); i += c.cfg.TokensPerConn {
		end := i + c.cfg.TokensPerConn
		if end > len(tokens) {
			end = len(tokens)
		}
		id := i / c.cfg.TokensPerConn
		batch := tokens[i:end]

		cn := newConn(id, c.url, batch, c.cfg, c.handleFrame, c.onConnState)
		g.Go(func() error {
			c.logger.Info("connection starting", "conn", id, "tokens", len(batch))
			return cn.run(ctx)
		})
	}
	return g.Wait()
}

func (c *Client) onConnState(id int, s ConnState) {
	c.logger.Debug("connection state", "conn", id, "state", s.String())
	c.metrics.SetConnState(strconv.Itoa(id), s.String())
}

// syncStore reconciles the book store's tracked set with the registry
// snapshot so books of dropped markets are released.
func (c *Client) syncStore(markets []domain.Market) {
	keep := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		keep[m.ID] = struct{}{}
		c.store.Track(m)
	}
	for _, id := range c.store.MarketIDs() {
		if _, ok := keep[id]; !ok {
			c.store.Untrack(id)
		}
	}
	c.metrics.TrackedMarkets.Set(float64(len(markets)))
}

// handleFrame is called from each connection's read goroutine. Updates for a
// given token always arrive on the same connection, so per-token ordering is
// preserved by applying them inline.
func (c *Client) handleFrame(raw []byte) {
	c.metrics.FramesTotal.Inc()

	snaps, deltas, err := parseFrame(raw)
	if err != nil {
		c.logger.Debug("unparseable frame dropped", "error", err)
		return
	}

	for i := range snaps {
		if marketID := c.store.ApplySnapshot(snaps[i]); marketID != "" {
			c.metrics.BookUpdatesTotal.WithLabelValues("snapshot").Inc()
			c.notify(marketID)
		}
	}
	for i := range deltas {
		if marketID := c.store.ApplyDelta(deltas[i]); marketID != "" {
			c.metrics.BookUpdatesTotal.WithLabelValues("delta").Inc()
			c.notify(marketID)
		}
	}
}

// notify signals the detector and queues the fresh quote for the mirror.
// Both are best-effort; neither may stall the read loop.
func (c *Client) notify(marketID string) {
	select {
	case c.signals <- marketID:
	default:
		c.metrics.DroppedSignals.Inc()
	}

	if c.mirror != nil {
		if q, ok := c.store.Quote(marketID); ok && q.Complete {
			select {
			case c.mirrorCh <- q:
			default:
				// Mirror is lagging; the next update supersedes this one.
			}
		}
	}
}

// runMirror drains queued quotes to the mirror off the read path.
func (c *Client) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-c.mirrorCh:
			pubCtx, cancel := context.WithTimeout(ctx, mirrorPublishTTL)
			if err := c.mirror.PublishQuote(pubCtx, q); err != nil {
				c.logger.Debug("quote mirror publish failed", "market_id", q.MarketID, "error", err)
			}
			cancel()
		}
	}
}
