package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the outcome of a submission attempt.
type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderRequest captures one leg of a hedge before submission. ClientID is a
// client-assigned idempotency token; resubmitting with the same ClientID must
// not create a second order. Requests are transient and not retained beyond
// the execution attempt.
type OrderRequest struct {
	ClientID  string
	MarketID  string
	TokenID   string
	Side      OrderSide
	Price     float64
	Size      float64
	CreatedAt time.Time
}

// Notional returns the order's notional value in quote currency.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// OrderResult is the exchange's answer to a submission attempt.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledSize  float64
	FilledPrice float64
	Message     string
	Retryable   bool
}

// Filled reports whether the order filled completely.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
