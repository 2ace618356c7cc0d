package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInvalidMarket     = errors.New("invalid market state")
	ErrSigningFailed     = errors.New("signing failed")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrRiskLimit         = errors.New("risk limit exceeded")
)

// Terminal reports whether a submission error is definitive: retrying cannot
// succeed and the execution engine must surface it without another attempt.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrInvalidMarket)
}
