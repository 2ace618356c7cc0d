package domain

import (
	"context"
	"time"
)

// OrderGateway submits signed orders to the exchange. Implementations must
// map exchange rejections onto the sentinel errors in this package so the
// execution engine can separate transient failures from terminal ones.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PositionStore persists the current per-market exposure so it survives a
// restart. Only the running ledger is stored, never trade history.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, marketID string) error
	LoadAll(ctx context.Context) ([]Position, error)
}

// PriceMirror publishes top-of-book updates for external monitoring. A nil
// or failing mirror must never stall the apply path.
type PriceMirror interface {
	PublishQuote(ctx context.Context, q PairQuote) error
}

// RateLimiter gates order submissions below the exchange's documented rate
// ceiling.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
