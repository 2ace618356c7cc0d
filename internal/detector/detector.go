// Package detector turns book updates into sum-to-one opportunities. It is
// purely event driven: it wakes on market-change signals from the stream and
// never polls.
package detector

import (
	"context"
	"log/slog"
	"math"
	"time"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
)

// MarketSource resolves market metadata for a signal. Satisfied by
// *registry.Registry.
type MarketSource interface {
	Get(marketID string) (domain.Market, bool)
}

// Detector evaluates pair quotes against the profit thresholds and emits
// sized opportunities for the execution engine.
type Detector struct {
	cfg     config.TradingConfig
	store   *book.Store
	reg     MarketSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	signals <-chan string
	out     chan domain.Opportunity
}

// New creates a detector reading market-change signals from signals.
func New(cfg config.TradingConfig, store *book.Store, reg MarketSource, signals <-chan string, m *metrics.Metrics, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		store:   store,
		reg:     reg,
		metrics: m,
		logger:  logger.With("component", "detector"),
		signals: signals,
		out:     make(chan domain.Opportunity, 64),
	}
}

// Opportunities returns the channel of detected opportunities.
func (d *Detector) Opportunities() <-chan domain.Opportunity {
	return d.out
}

// Run consumes signals until ctx is canceled.
func (d *Detector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case marketID := <-d.signals:
			start := time.Now()
			if opp, ok := d.Evaluate(marketID); ok {
				d.metrics.OpportunitiesSeen.WithLabelValues(string(opp.Direction)).Inc()
				d.logger.Info("opportunity detected",
					"market_id", opp.Market.ID,
					"direction", opp.Direction,
					"combined", opp.Combined,
					"edge", opp.Edge,
					"size", opp.Size,
				)
				select {
				case d.out <- opp:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			d.metrics.DetectLatency.Observe(time.Since(start).Seconds())
		}
	}
}

// Evaluate checks one market's current quote. It reports false when the book
// is incomplete, no threshold is crossed, or the profitable size is below
// the minimum order size.
func (d *Detector) Evaluate(marketID string) (domain.Opportunity, bool) {
	market, ok := d.reg.Get(marketID)
	if !ok {
		return domain.Opportunity{}, false
	}
	quote, ok := d.store.Quote(marketID)
	if !ok || !quote.Complete {
		// One-sided or empty books never signal; a missing side would
		// make the combined price meaningless.
		return domain.Opportunity{}, false
	}

	buyThreshold := 1 - d.cfg.MinProfitMargin - d.cfg.FeeBuffer
	sellThreshold := 1 + d.cfg.MinProfitMargin + d.cfg.FeeBuffer

	switch {
	case quote.CombinedAsk < buyThreshold:
		opp := domain.Opportunity{
			Market:     market,
			Direction:  domain.DirectionBuyBoth,
			YesPrice:   quote.Yes.BestAsk.Price,
			NoPrice:    quote.No.BestAsk.Price,
			Combined:   quote.CombinedAsk,
			Edge:       1 - quote.CombinedAsk - d.cfg.FeeBuffer,
			DetectedAt: time.Now(),
		}
		opp.Size = d.size(quote.CombinedAsk, quote.Yes.BestAsk.Size, quote.No.BestAsk.Size)
		return opp, d.viable(opp, market)

	case quote.CombinedBid > sellThreshold:
		opp := domain.Opportunity{
			Market:     market,
			Direction:  domain.DirectionSellBoth,
			YesPrice:   quote.Yes.BestBid.Price,
			NoPrice:    quote.No.BestBid.Price,
			Combined:   quote.CombinedBid,
			Edge:       quote.CombinedBid - 1 - d.cfg.FeeBuffer,
			DetectedAt: time.Now(),
		}
		opp.Size = d.size(quote.CombinedBid, quote.Yes.BestBid.Size, quote.No.BestBid.Size)
		return opp, d.viable(opp, market)
	}
	return domain.Opportunity{}, false
}

// size caps the share count at the thinner best level and at the bankroll
// fraction allowed per position.
func (d *Detector) size(combinedPrice, yesDepth, noDepth float64) float64 {
	bankrollCap := d.cfg.MaxPositionFraction * d.cfg.Bankroll / combinedPrice
	return math.Floor(math.Min(math.Min(yesDepth, noDepth), bankrollCap))
}

func (d *Detector) viable(opp domain.Opportunity, market domain.Market) bool {
	minSize := d.cfg.MinOrderSize
	if market.MinOrderSize > minSize {
		minSize = market.MinOrderSize
	}
	return opp.Size >= minSize && opp.Edge > 0
}
