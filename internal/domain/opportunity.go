package domain

import "time"

// OpportunityDirection indicates which side of the sum-to-one deviation a
// detected opportunity exploits.
type OpportunityDirection string

const (
	// DirectionBuyBoth: combined ask below 1 minus margin; buy YES and NO.
	DirectionBuyBoth OpportunityDirection = "buy_both"
	// DirectionSellBoth: combined bid above 1 plus margin; sell YES and NO.
	DirectionSellBoth OpportunityDirection = "sell_both"
)

// Opportunity is a candidate arbitrage event emitted by the detector and
// consumed exactly once by the execution engine. It is never persisted or
// retried as the same object; after any state change a fresh evaluation is
// required.
type Opportunity struct {
	Market     Market
	Direction  OpportunityDirection
	YesPrice   float64 // qualifying YES level price
	NoPrice    float64 // qualifying NO level price
	Combined   float64 // YesPrice + NoPrice
	Edge       float64 // deviation from 1.0 net of the fee/slippage buffer
	Size       float64 // contracts per leg
	DetectedAt time.Time
}
