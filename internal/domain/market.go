package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusClosed MarketStatus = "closed"
)

// Market identifies a binary-outcome contract pair. Instances are created by
// the registry at discovery time and treated as immutable; a market that
// disappears from the discovery feed is dropped on the next registry refresh.
type Market struct {
	ID           string
	Question     string
	Slug         string
	YesTokenID   string
	NoTokenID    string
	TickSize     float64
	MinOrderSize float64
	NegRisk      bool
	Status       MarketStatus
	UpdatedAt    time.Time
}

// Tokens returns the pair's token IDs, YES first.
func (m Market) Tokens() [2]string {
	return [2]string{m.YesTokenID, m.NoTokenID}
}

// Tradable reports whether the market is active and carries both token IDs.
func (m Market) Tradable() bool {
	return m.Status == MarketStatusActive && m.YesTokenID != "" && m.NoTokenID != ""
}
