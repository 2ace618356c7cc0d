package executor

import (
	"context"
	"math"
	"time"

	"polyarb/internal/domain"
)

const (
	fillPollInterval = 500 * time.Millisecond
	sizeEpsilon      = 1e-9
)

// fillPoller is implemented by gateways that can report the live fill state
// of a resting order. The dry-run gateway fills instantly and does not need
// it.
type fillPoller interface {
	GetOrder(ctx context.Context, orderID string) (domain.OrderResult, error)
}

// unwind repairs a partially hedged execution. In order it: waits out the
// fill timeout on resting legs, chases each unfilled remainder at a price up
// to the configured slippage worse, and finally flattens whatever one-sided
// exposure is left so no naked leg survives the attempt.
func (e *Executor) unwind(ctx context.Context, opp domain.Opportunity, legs []*leg) {
	e.logger.Warn("partial hedge, starting unwind",
		"market_id", opp.Market.ID,
		"yes_fill", legs[0].filledSize,
		"no_fill", legs[1].filledSize,
	)

	e.awaitFills(ctx, legs)
	e.cancelResting(ctx, legs)

	for _, l := range legs {
		if l.remaining() > sizeEpsilon {
			e.chase(ctx, l)
		}
	}

	matched := math.Min(legs[0].filledSize, legs[1].filledSize)
	for _, l := range legs {
		if excess := l.filledSize - matched; excess > sizeEpsilon {
			e.flatten(ctx, l, excess)
		}
	}
}

// awaitFills polls resting orders until they fill or the fill timeout
// passes.
func (e *Executor) awaitFills(ctx context.Context, legs []*leg) {
	poller, ok := e.gateway.(fillPoller)
	if !ok {
		return
	}

	deadline := time.After(e.cfg.FillTimeout())
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		pending := false
		for _, l := range legs {
			if l.orderID == "" || l.filled() {
				continue
			}
			res, err := poller.GetOrder(ctx, l.orderID)
			if err != nil {
				e.logger.Warn("fill poll failed", "order_id", l.orderID, "error", err)
				continue
			}
			l.absorb(res)
			if !res.Filled() && res.Status != domain.OrderStatusCanceled {
				pending = true
			}
		}
		if !pending {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
		}
	}
}

// chase resubmits a leg's unfilled remainder at a price worse by the
// configured slippage allowance.
func (e *Executor) chase(ctx context.Context, l *leg) {
	price := l.price + e.cfg.UnwindSlippage
	if l.side == domain.OrderSideSell {
		price = l.price - e.cfg.UnwindSlippage
	}

	req := l.request()
	req.Price = price
	req.Size = l.remaining()

	e.logger.Info("chasing unfilled leg",
		"market_id", l.market.ID,
		"token_id", l.tokenID,
		"side", l.side,
		"price", price,
		"size", req.Size,
	)

	res, err := e.submitWithRetry(ctx, req)
	if err != nil {
		e.logger.Warn("chase submission failed", "token_id", l.tokenID, "error", err)
		return
	}
	if res.FilledSize > 0 {
		l.addFill(res.FilledSize, res.FilledPrice, l.side)
	}
	if res.OrderID != "" && !l.filled() {
		if cerr := e.gateway.CancelOrder(ctx, res.OrderID); cerr != nil {
			e.logger.Warn("chase cancel failed", "order_id", res.OrderID, "error", cerr)
		}
	}
}

// flatten closes one leg's one-sided exposure with an aggressive opposite
// order. Failing to flatten is logged loudly; the residual stays visible in
// the position ledger.
func (e *Executor) flatten(ctx context.Context, l *leg, size float64) {
	closeSide := domain.OrderSideSell
	price := l.price - e.cfg.UnwindSlippage
	if l.side == domain.OrderSideSell {
		closeSide = domain.OrderSideBuy
		price = l.price + e.cfg.UnwindSlippage
	}

	req := l.request()
	req.Side = closeSide
	req.Price = price
	req.Size = size

	e.logger.Warn("flattening naked leg",
		"market_id", l.market.ID,
		"token_id", l.tokenID,
		"side", closeSide,
		"price", price,
		"size", size,
	)

	res, err := e.submitWithRetry(ctx, req)
	if err != nil {
		e.logger.Error("flatten failed, position left one-sided",
			"market_id", l.market.ID,
			"token_id", l.tokenID,
			"size", size,
			"error", err,
		)
		return
	}
	if res.FilledSize > 0 {
		l.addFill(res.FilledSize, res.FilledPrice, closeSide)
	}
}
