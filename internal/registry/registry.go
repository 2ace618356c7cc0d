// Package registry discovers and refreshes the set of tradable markets. It
// polls the Gamma API on an interval, keeps an immutable snapshot of the
// current set, and announces membership changes so the stream client can
// resubscribe.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"polyarb/internal/config"
	"polyarb/internal/domain"
	"polyarb/internal/platform/polymarket"
)

// Registry maintains the tradable market set. Snapshots are immutable; a
// failed refresh keeps serving the previous one.
type Registry struct {
	gamma  *polymarket.GammaClient
	cfg    config.DiscoveryConfig
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot []domain.Market

	changes chan struct{} // 1-buffered, coalesced change signal
}

// New creates a registry over the given Gamma client.
func New(gamma *polymarket.GammaClient, cfg config.DiscoveryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		gamma:   gamma,
		cfg:     cfg,
		logger:  logger.With("component", "registry"),
		changes: make(chan struct{}, 1),
	}
}

// Run performs an initial discovery and then refreshes on the configured
// interval until ctx is canceled. The initial discovery must succeed; later
// failures are logged and the previous set stays in service.
func (r *Registry) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("market refresh failed, keeping previous set", "error", err)
			}
		}
	}
}

// Refresh fetches the market set once and swaps the snapshot if membership
// changed.
func (r *Registry) Refresh(ctx context.Context) error {
	var (
		fetched []domain.Market
		err     error
	)
	if r.cfg.EventSlug != "" {
		fetched, err = r.gamma.EventMarkets(ctx, r.cfg.EventSlug)
	} else {
		fetched, err = r.gamma.ListMarkets(ctx, r.cfg.MarketLimit, 0)
	}
	if err != nil {
		return err
	}

	markets := make([]domain.Market, 0, len(fetched))
	for _, m := range fetched {
		if !m.Tradable() {
			continue
		}
		markets = append(markets, m)
		if len(markets) >= r.cfg.MaxMarkets {
			break
		}
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	r.mu.Lock()
	changed := !sameSet(r.snapshot, markets)
	prevLen := len(r.snapshot)
	if changed {
		r.snapshot = markets
	}
	r.mu.Unlock()

	if changed {
		r.logger.Info("market set changed", "markets", len(markets), "previous", prevLen)
		select {
		case r.changes <- struct{}{}:
		default:
		}
	}
	return nil
}

// Markets returns a copy of the current market set.
func (r *Registry) Markets() []domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Market, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// Get returns the market with the given ID from the current snapshot.
func (r *Registry) Get(marketID string) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.snapshot {
		if m.ID == marketID {
			return m, true
		}
	}
	return domain.Market{}, false
}

// Changes returns a channel that receives a signal whenever the market set
// changes. Signals are coalesced; consumers re-read Markets on each one.
func (r *Registry) Changes() <-chan struct{} {
	return r.changes
}

// sameSet compares two sorted market slices by ID and token IDs.
func sameSet(a, b []domain.Market) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Tokens() != b[i].Tokens() {
			return false
		}
	}
	return true
}
