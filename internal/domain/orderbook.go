package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSide identifies which side of the book an update refers to.
type BookSide string

const (
	BookSideBid BookSide = "BUY"
	BookSideAsk BookSide = "SELL"
)

// BookDelta is an incremental orderbook level update for one token.
// Size 0 removes the level.
type BookDelta struct {
	AssetID   string
	Side      BookSide
	Price     float64
	Size      float64
	Timestamp time.Time
}

// BookSnapshot is a full replacement of both sides of a token's book.
type BookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// TokenQuote is the top of book for a single token.
type TokenQuote struct {
	BestBid PriceLevel
	BestAsk PriceLevel
}

// Mid returns the midpoint price, or 0 when either side is empty.
func (q TokenQuote) Mid() float64 {
	if q.BestBid.Price <= 0 || q.BestAsk.Price <= 0 {
		return 0
	}
	return (q.BestBid.Price + q.BestAsk.Price) / 2
}

// TwoSided reports whether both sides of the token's book have at least one
// live level.
func (q TokenQuote) TwoSided() bool {
	return q.BestBid.Size > 0 && q.BestAsk.Size > 0
}

// PairQuote is a consistent read of both tokens of a market pair.
// CombinedAsk is the cost of acquiring the full hedge (YES ask + NO ask);
// CombinedBid is the proceeds from a full exit (YES bid + NO bid). Both are
// only meaningful when Complete is true.
type PairQuote struct {
	MarketID    string
	Yes         TokenQuote
	No          TokenQuote
	CombinedAsk float64
	CombinedBid float64
	Complete    bool
	AsOf        time.Time
}
