package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyarb/internal/domain"
)

// submitWithRetry places one leg, retrying transient failures with
// exponential backoff (base, 2x per attempt). A rate-limit denial — the
// exchange's 429 or the shared limiter refusing a slot — is transient like
// any other; terminal rejections and explicit "do not retry" results come
// back immediately.
func (e *Executor) submitWithRetry(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	backoff := time.Duration(e.cfg.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		err := e.throttle(ctx)
		if err == nil {
			var res domain.OrderResult
			res, err = e.gateway.PlaceOrder(ctx, req)
			if err == nil {
				e.metrics.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
				return res, nil
			}
			if domain.Terminal(err) {
				e.metrics.OrdersTotal.WithLabelValues(string(domain.OrderStatusRejected)).Inc()
				return res, err
			}
			if res.Status == domain.OrderStatusRejected && !res.Retryable {
				e.metrics.OrdersTotal.WithLabelValues(string(domain.OrderStatusRejected)).Inc()
				return res, err
			}
		} else if !errors.Is(err, domain.ErrRateLimited) {
			// Only rate-limit denials are worth waiting out; anything else
			// from the throttle is context cancellation.
			return domain.OrderResult{}, err
		}
		lastErr = err

		e.logger.Warn("order submission failed, retrying",
			"client_id", req.ClientID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.OrderResult{}, fmt.Errorf("executor: %d attempts exhausted: %w", e.cfg.RetryAttempts, lastErr)
}

// throttle blocks on the local limiter and consults the shared limiter when
// one is configured. Shared-limiter errors fail open: a Redis outage must
// not halt trading.
func (e *Executor) throttle(ctx context.Context) error {
	if err := e.localLimit.Wait(ctx); err != nil {
		return err
	}
	if e.sharedLimit == nil {
		return nil
	}
	allowed, err := e.sharedLimit.Allow(ctx, "orders", e.cfg.OrderRateLimit, e.cfg.OrderRateWindow())
	if err != nil {
		e.logger.Warn("shared rate limiter unavailable", "error", err)
		return nil
	}
	if !allowed {
		return fmt.Errorf("executor: %w: shared order budget exhausted", domain.ErrRateLimited)
	}
	return nil
}
