package domain

import "time"

// Position is the per-market running exposure held by the risk tracker.
// Mutated only after a confirmed fill; read before every submission decision.
type Position struct {
	MarketID   string
	YesSize    float64
	NoSize     float64
	YesAvgCost float64
	NoAvgCost  float64
	UpdatedAt  time.Time
}

// Contracts returns the larger per-token exposure, the figure risk limits are
// applied against.
func (p Position) Contracts() float64 {
	if p.YesSize > p.NoSize {
		return p.YesSize
	}
	return p.NoSize
}

// Notional returns the total entry cost of the position.
func (p Position) Notional() float64 {
	return p.YesSize*p.YesAvgCost + p.NoSize*p.NoAvgCost
}

// Flat reports whether the position carries no exposure on either token.
func (p Position) Flat() bool {
	return p.YesSize == 0 && p.NoSize == 0
}
