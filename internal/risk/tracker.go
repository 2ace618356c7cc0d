// Package risk enforces position limits and tracks per-market exposure. The
// execution engine must reserve capacity before submitting and either commit
// fills or release the reservation afterwards.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"polyarb/internal/config"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
)

// Reservation is capacity held against the limits while a hedge is in
// flight. Exactly one of Commit or Release must follow every successful
// CheckAndReserve.
type Reservation struct {
	MarketID  string
	Direction domain.OpportunityDirection
	Size      float64
	Notional  float64
}

// Tracker is the in-memory position ledger. An optional PositionStore makes
// it durable across restarts.
type Tracker struct {
	cfg     config.TradingConfig
	store   domain.PositionStore // nil disables persistence
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	positions map[string]domain.Position
	reserved  map[string]float64 // in-flight notional per market
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(cfg config.TradingConfig, store domain.PositionStore, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     store,
		metrics:   m,
		logger:    logger.With("component", "risk"),
		positions: make(map[string]domain.Position),
		reserved:  make(map[string]float64),
	}
}

// Load restores persisted positions. Call once before trading starts.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	positions, err := t.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("risk: load positions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		t.positions[p.MarketID] = p
	}
	t.publishNotional()
	t.logger.Info("positions restored", "count", len(positions))
	return nil
}

// CheckAndReserve validates an opportunity against the limits and holds
// capacity for it. For sell opportunities the size is capped at the held
// contracts; the returned reservation carries the size actually granted.
func (t *Tracker) CheckAndReserve(opp domain.Opportunity) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := Reservation{
		MarketID:  opp.Market.ID,
		Direction: opp.Direction,
		Size:      opp.Size,
	}
	pos := t.positions[opp.Market.ID]

	switch opp.Direction {
	case domain.DirectionBuyBoth:
		res.Notional = opp.Size * opp.Combined

		marketCap := t.cfg.MaxPositionFraction * t.cfg.Bankroll
		if pos.Notional()+t.reserved[opp.Market.ID]+res.Notional > marketCap {
			return Reservation{}, fmt.Errorf("risk: %w: market %s notional %.2f + %.2f over cap %.2f",
				domain.ErrRiskLimit, opp.Market.ID, pos.Notional(), res.Notional, marketCap)
		}
		if t.openNotionalLocked()+t.reservedTotalLocked()+res.Notional > t.cfg.Bankroll {
			return Reservation{}, fmt.Errorf("risk: %w: portfolio notional over bankroll %.2f",
				domain.ErrRiskLimit, t.cfg.Bankroll)
		}

	case domain.DirectionSellBoth:
		held := math.Min(pos.YesSize, pos.NoSize)
		if held < t.cfg.MinOrderSize {
			return Reservation{}, fmt.Errorf("risk: %w: only %.0f hedged contracts held in %s",
				domain.ErrRiskLimit, held, opp.Market.ID)
		}
		if res.Size > held {
			res.Size = math.Floor(held)
		}

	default:
		return Reservation{}, fmt.Errorf("risk: %w: unknown direction %q", domain.ErrInvalidOrder, opp.Direction)
	}

	t.reserved[opp.Market.ID] += res.Notional
	return res, nil
}

// Release returns reserved capacity without recording any fill.
func (t *Tracker) Release(res Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(res)
}

// Fill is one leg's confirmed execution.
type Fill struct {
	TokenID string
	Side    domain.OrderSide
	Size    float64
	Price   float64
}

// Commit applies confirmed fills, releases the reservation, and persists the
// updated position. Partial hedges are committed as-is; the resulting
// one-sided exposure is what the unwind procedure works off.
func (t *Tracker) Commit(ctx context.Context, res Reservation, market domain.Market, fills []Fill) {
	t.mu.Lock()
	pos, ok := t.positions[market.ID]
	if !ok {
		pos = domain.Position{MarketID: market.ID}
	}
	for _, f := range fills {
		if f.Size <= 0 {
			continue
		}
		applyFill(&pos, market, f)
	}
	pos.UpdatedAt = time.Now()
	if pos.Flat() {
		delete(t.positions, market.ID)
	} else {
		t.positions[market.ID] = pos
	}
	t.releaseLocked(res)
	t.publishNotional()
	flat := pos.Flat()
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	var err error
	if flat {
		err = t.store.Delete(ctx, market.ID)
	} else {
		err = t.store.Upsert(ctx, pos)
	}
	if err != nil {
		t.logger.Warn("position snapshot persist failed", "market_id", market.ID, "error", err)
	}
}

// Position returns the current exposure in one market.
func (t *Tracker) Position(marketID string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[marketID]
	return pos, ok
}

// Positions returns a copy of all open positions.
func (t *Tracker) Positions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

func (t *Tracker) releaseLocked(res Reservation) {
	t.reserved[res.MarketID] -= res.Notional
	if t.reserved[res.MarketID] <= 0 {
		delete(t.reserved, res.MarketID)
	}
}

func (t *Tracker) openNotionalLocked() float64 {
	total := 0.0
	for _, p := range t.positions {
		total += p.Notional()
	}
	return total
}

func (t *Tracker) reservedTotalLocked() float64 {
	total := 0.0
	for _, r := range t.reserved {
		total += r
	}
	return total
}

func (t *Tracker) publishNotional() {
	t.metrics.OpenNotional.Set(t.openNotionalLocked())
}

// applyFill folds one leg into the position. Buys grow size with a weighted
// average cost; sells shrink size and leave the average cost untouched.
func applyFill(pos *domain.Position, market domain.Market, f Fill) {
	size, cost := &pos.YesSize, &pos.YesAvgCost
	if f.TokenID == market.NoTokenID {
		size, cost = &pos.NoSize, &pos.NoAvgCost
	}

	switch f.Side {
	case domain.OrderSideBuy:
		total := *size + f.Size
		*cost = (*size**cost + f.Size*f.Price) / total
		*size = total
	case domain.OrderSideSell:
		*size -= f.Size
		if *size <= 0 {
			*size = 0
			*cost = 0
		}
	}
}
