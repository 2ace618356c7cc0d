// Package executor places hedged order pairs for detected opportunities. At
// most one execution runs per market at any time; both legs go out
// concurrently and a partial hedge is repaired by the unwind procedure.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"polyarb/internal/config"
	"polyarb/internal/detector"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
	"polyarb/internal/risk"
)

// drainTimeout bounds how long an in-flight execution may keep repairing
// its hedge after shutdown begins.
const drainTimeout = 30 * time.Second

// Executor consumes opportunities and turns them into hedged fills.
type Executor struct {
	cfg         config.ExecutionConfig
	gateway     domain.OrderGateway
	det         *detector.Detector
	tracker     *risk.Tracker
	localLimit  *rate.Limiter
	sharedLimit domain.RateLimiter // nil when Redis is not configured
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool // marketID -> execution running

	wg sync.WaitGroup
}

// New creates an executor. sharedLimit may be nil.
func New(cfg config.ExecutionConfig, gateway domain.OrderGateway, det *detector.Detector, tracker *risk.Tracker, sharedLimit domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Executor {
	window := cfg.OrderRateWindow()
	return &Executor{
		cfg:         cfg,
		gateway:     gateway,
		det:         det,
		tracker:     tracker,
		localLimit:  rate.NewLimiter(rate.Every(window/time.Duration(cfg.OrderRateLimit)), cfg.OrderRateLimit),
		sharedLimit: sharedLimit,
		metrics:     m,
		logger:      logger.With("component", "executor"),
		inFlight:    make(map[string]bool),
	}
}

// Run consumes the detector's opportunity channel until ctx is canceled,
// then waits for in-flight executions to finish repairing their hedges.
func (e *Executor) Run(ctx context.Context) error {
	defer e.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp := <-e.det.Opportunities():
			e.dispatch(ctx, opp)
		}
	}
}

// dispatch starts an execution goroutine unless the market already has one
// in flight.
func (e *Executor) dispatch(ctx context.Context, opp domain.Opportunity) {
	if !e.tryLock(opp.Market.ID) {
		e.logger.Debug("execution already in flight, skipping", "market_id", opp.Market.ID)
		e.metrics.ExecutionsTotal.WithLabelValues("skipped").Inc()
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.unlock(opp.Market.ID)
		e.execute(ctx, opp)
	}()
}

// execute runs one full hedge attempt for an opportunity.
func (e *Executor) execute(ctx context.Context, opp domain.Opportunity) {
	// The book may have moved since the signal was queued: confirm the
	// opportunity still stands before committing capital.
	fresh, ok := e.det.Evaluate(opp.Market.ID)
	if !ok || fresh.Direction != opp.Direction {
		e.metrics.ExecutionsTotal.WithLabelValues("skipped").Inc()
		return
	}
	opp = fresh

	res, err := e.tracker.CheckAndReserve(opp)
	if err != nil {
		e.logger.Info("opportunity rejected by risk limits", "market_id", opp.Market.ID, "error", err)
		e.metrics.ExecutionsTotal.WithLabelValues("rejected").Inc()
		return
	}
	opp.Size = res.Size

	side := domain.OrderSideBuy
	if opp.Direction == domain.DirectionSellBoth {
		side = domain.OrderSideSell
	}
	legs := []*leg{
		newLeg(opp.Market, opp.Market.YesTokenID, side, opp.YesPrice, opp.Size),
		newLeg(opp.Market, opp.Market.NoTokenID, side, opp.NoPrice, opp.Size),
	}

	e.logger.Info("executing hedge",
		"market_id", opp.Market.ID,
		"direction", opp.Direction,
		"size", opp.Size,
		"yes_price", opp.YesPrice,
		"no_price", opp.NoPrice,
	)

	// Once any order is out, cancellation must not abandon the hedge:
	// the repair path runs on its own deadline.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(drainTimeout, cancel)
	})
	defer stop()

	g, legCtx := errgroup.WithContext(execCtx)
	for _, l := range legs {
		g.Go(func() error {
			result, err := e.submitWithRetry(legCtx, l.request())
			l.record(result, err)
			return nil
		})
	}
	g.Wait()

	if legs[0].filled() && legs[1].filled() {
		e.commit(execCtx, res, opp.Market, legs)
		e.metrics.ExecutionsTotal.WithLabelValues("filled").Inc()
		e.logger.Info("hedge filled",
			"market_id", opp.Market.ID,
			"yes_fill", legs[0].filledSize,
			"no_fill", legs[1].filledSize,
		)
		return
	}

	if legs[0].filledSize == 0 && legs[1].filledSize == 0 {
		e.cancelResting(execCtx, legs)
		e.tracker.Release(res)
		e.metrics.ExecutionsTotal.WithLabelValues("rejected").Inc()
		e.logger.Warn("hedge failed with no fills",
			"market_id", opp.Market.ID,
			"yes_error", legs[0].errString(),
			"no_error", legs[1].errString(),
		)
		return
	}

	// One leg is exposed. Repair it.
	e.metrics.UnwindsTotal.Inc()
	e.unwind(execCtx, opp, legs)
	e.commit(execCtx, res, opp.Market, legs)
	e.metrics.ExecutionsTotal.WithLabelValues("unwound").Inc()
}

// commit records every confirmed fill, including buy-backs and flattening
// trades from the unwind path.
func (e *Executor) commit(ctx context.Context, res risk.Reservation, market domain.Market, legs []*leg) {
	fills := make([]risk.Fill, 0, 4)
	for _, l := range legs {
		fills = append(fills, l.fills...)
	}
	e.tracker.Commit(ctx, res, market, fills)
}

// cancelResting cancels any accepted-but-unfilled orders.
func (e *Executor) cancelResting(ctx context.Context, legs []*leg) {
	for _, l := range legs {
		if l.orderID != "" && !l.filled() {
			if err := e.gateway.CancelOrder(ctx, l.orderID); err != nil {
				e.logger.Warn("cancel failed", "order_id", l.orderID, "error", err)
			}
		}
	}
}

func (e *Executor) tryLock(marketID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[marketID] {
		return false
	}
	e.inFlight[marketID] = true
	return true
}

func (e *Executor) unlock(marketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, marketID)
}

// leg tracks one side of the hedge through submission and repair.
type leg struct {
	market  domain.Market
	tokenID string
	side    domain.OrderSide
	price   float64
	size    float64

	orderID    string
	filledSize float64
	counted    float64 // cumulative fill reported for orderID
	fills      []risk.Fill
	err        error
}

func newLeg(market domain.Market, tokenID string, side domain.OrderSide, price, size float64) *leg {
	return &leg{market: market, tokenID: tokenID, side: side, price: price, size: size}
}

func (l *leg) request() domain.OrderRequest {
	return domain.OrderRequest{
		ClientID:  uuid.NewString(),
		MarketID:  l.market.ID,
		TokenID:   l.tokenID,
		Side:      l.side,
		Price:     l.price,
		Size:      l.size,
		CreatedAt: time.Now(),
	}
}

func (l *leg) record(res domain.OrderResult, err error) {
	l.err = err
	l.orderID = res.OrderID
	if res.FilledSize > 0 {
		l.addFill(res.FilledSize, res.FilledPrice, l.side)
		l.counted = res.FilledSize
	}
}

// absorb folds a polled fill report into the leg. Reports are cumulative per
// order, so only the delta since the last report counts.
func (l *leg) absorb(res domain.OrderResult) {
	delta := res.FilledSize - l.counted
	if delta <= 0 {
		return
	}
	price := res.FilledPrice
	if price == 0 {
		price = l.price
	}
	l.addFill(delta, price, l.side)
	l.counted = res.FilledSize
}

func (l *leg) addFill(size, price float64, side domain.OrderSide) {
	if side == l.side {
		l.filledSize += size
	} else {
		// A flattening trade reverses prior fills.
		l.filledSize -= size
	}
	l.fills = append(l.fills, risk.Fill{TokenID: l.tokenID, Side: side, Size: size, Price: price})
}

func (l *leg) filled() bool {
	return l.filledSize >= l.size
}

func (l *leg) remaining() float64 {
	return l.size - l.filledSize
}

func (l *leg) errString() string {
	if l.err == nil {
		return ""
	}
	return l.err.Error()
}
