package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/detector"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
	"polyarb/internal/risk"
)

// scriptedLimiter answers Allow from a fixed script, then from fallback.
type scriptedLimiter struct {
	mu       sync.Mutex
	answers  []bool
	fallback bool
	calls    int
}

func (s *scriptedLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.answers) == 0 {
		return s.fallback, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scriptedLimiter) consulted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newLimitedExecutor(t *testing.T, gateway domain.OrderGateway, cfg config.ExecutionConfig, shared domain.RateLimiter) *Executor {
	t.Helper()
	m := metrics.New()
	logger := slog.Default()

	store := book.NewStore()
	store.Track(testMarket())
	seedArb(store)

	tradingCfg := config.TradingConfig{
		MinProfitMargin:     0.02,
		MaxPositionFraction: 0.05,
		Bankroll:            10000,
		MinOrderSize:        5,
	}
	det := detector.New(tradingCfg, store, staticMarkets{"cond-1": testMarket()}, make(chan string), m, logger)
	tracker := risk.NewTracker(tradingCfg, nil, m, logger)
	return New(cfg, gateway, det, tracker, shared, m, logger)
}

func TestSubmitRetriesSharedLimiterDenial(t *testing.T) {
	gateway := &scriptedGateway{scripts: map[string][]scriptedCall{}}
	limiter := &scriptedLimiter{answers: []bool{false, false}, fallback: true}
	cfg := testExecConfig()
	cfg.RetryAttempts = 3

	exec := newLimitedExecutor(t, gateway, cfg, limiter)
	res, err := exec.submitWithRetry(context.Background(), domain.OrderRequest{
		MarketID: "cond-1", TokenID: "yes-1", Side: domain.OrderSideBuy, Price: 0.47, Size: 10,
	})
	if err != nil {
		t.Fatalf("submit after limiter recovery: %v", err)
	}
	if res.Status != domain.OrderStatusFilled {
		t.Errorf("status = %v, want filled", res.Status)
	}
	if got := limiter.consulted(); got != 3 {
		t.Errorf("limiter consulted %d times, want 3", got)
	}
	if got := len(gateway.placed("yes-1")); got != 1 {
		t.Errorf("gateway reached %d times, want 1", got)
	}
}

func TestSubmitExhaustsOnPersistentDenial(t *testing.T) {
	gateway := &scriptedGateway{scripts: map[string][]scriptedCall{}}
	limiter := &scriptedLimiter{}
	cfg := testExecConfig()
	cfg.RetryAttempts = 3

	exec := newLimitedExecutor(t, gateway, cfg, limiter)
	_, err := exec.submitWithRetry(context.Background(), domain.OrderRequest{
		MarketID: "cond-1", TokenID: "yes-1", Side: domain.OrderSideBuy, Price: 0.47, Size: 10,
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited after exhausting attempts", err)
	}
	if got := limiter.consulted(); got != 3 {
		t.Errorf("limiter consulted %d times, want one per attempt", got)
	}
	if got := len(gateway.calls); got != 0 {
		t.Errorf("%d orders reached the gateway with the budget exhausted, want 0", got)
	}
}
