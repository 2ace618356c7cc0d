// Package book holds the in-memory market state: one price-indexed orderbook
// side per token side, grouped per market. The stream client's apply path is
// the only writer; the detector and the execution engine's sizing logic read
// consistent pair quotes.
package book

import (
	"sync"
	"time"

	"polyarb/internal/domain"
)

// tokenBook is both sides of one token's book.
type tokenBook struct {
	bids *bookSide
	asks *bookSide
}

func newTokenBook() *tokenBook {
	return &tokenBook{bids: newBidSide(), asks: newAskSide()}
}

func (t *tokenBook) quote() domain.TokenQuote {
	return domain.TokenQuote{BestBid: t.bids.best(), BestAsk: t.asks.best()}
}

// marketBook groups the YES and NO books of a pair under one mutex so a
// quote is never read mid-mutation.
type marketBook struct {
	mu     sync.Mutex
	market domain.Market
	yes    *tokenBook
	no     *tokenBook
	asOf   time.Time
}

func (mb *marketBook) bookFor(tokenID string) *tokenBook {
	switch tokenID {
	case mb.market.YesTokenID:
		return mb.yes
	case mb.market.NoTokenID:
		return mb.no
	}
	return nil
}

// Store is the market state store. It retains no history; only the current
// books and their derived best-of-book values.
type Store struct {
	mu      sync.RWMutex
	markets map[string]*marketBook // marketID -> book pair
	byToken map[string]*marketBook // tokenID  -> owning book pair
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		markets: make(map[string]*marketBook),
		byToken: make(map[string]*marketBook),
	}
}

// Track registers a market pair. Tracking an already-tracked market is a
// no-op so a registry refresh can re-announce the full set.
func (s *Store) Track(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return
	}
	mb := &marketBook{market: m, yes: newTokenBook(), no: newTokenBook()}
	s.markets[m.ID] = mb
	s.byToken[m.YesTokenID] = mb
	s.byToken[m.NoTokenID] = mb
}

// Untrack drops a market and its books.
func (s *Store) Untrack(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.markets[marketID]
	if !ok {
		return
	}
	delete(s.markets, marketID)
	delete(s.byToken, mb.market.YesTokenID)
	delete(s.byToken, mb.market.NoTokenID)
}

// MarketIDs returns the IDs of all tracked markets.
func (s *Store) MarketIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	return ids
}

// ApplyDelta adjusts exactly the referenced price level of one token's side.
// It returns the owning market's ID so the caller can notify the detector,
// or "" if the token is not tracked.
func (s *Store) ApplyDelta(d domain.BookDelta) string {
	s.mu.RLock()
	mb := s.byToken[d.AssetID]
	s.mu.RUnlock()
	if mb == nil {
		return ""
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	tb := mb.bookFor(d.AssetID)
	if tb == nil {
		return ""
	}
	switch d.Side {
	case domain.BookSideBid:
		tb.bids.set(d.Price, d.Size)
	case domain.BookSideAsk:
		tb.asks.set(d.Price, d.Size)
	default:
		return ""
	}
	mb.asOf = d.Timestamp
	return mb.market.ID
}

// ApplySnapshot atomically replaces both sides of one token's book. No price
// level absent from the snapshot survives. It returns the owning market's ID
// or "" if the token is not tracked.
func (s *Store) ApplySnapshot(snap domain.BookSnapshot) string {
	s.mu.RLock()
	mb := s.byToken[snap.AssetID]
	s.mu.RUnlock()
	if mb == nil {
		return ""
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	tb := mb.bookFor(snap.AssetID)
	if tb == nil {
		return ""
	}
	tb.bids.replace(snap.Bids)
	tb.asks.replace(snap.Asks)
	mb.asOf = snap.Timestamp
	return mb.market.ID
}

// Quote returns a consistent pair quote for the market. Complete is false
// until every side of both tokens has at least one live level; combined
// prices are only meaningful when Complete is true.
func (s *Store) Quote(marketID string) (domain.PairQuote, bool) {
	s.mu.RLock()
	mb := s.markets[marketID]
	s.mu.RUnlock()
	if mb == nil {
		return domain.PairQuote{}, false
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	q := domain.PairQuote{
		MarketID: marketID,
		Yes:      mb.yes.quote(),
		No:       mb.no.quote(),
		AsOf:     mb.asOf,
	}
	q.Complete = q.Yes.TwoSided() && q.No.TwoSided()
	if q.Complete {
		q.CombinedAsk = q.Yes.BestAsk.Price + q.No.BestAsk.Price
		q.CombinedBid = q.Yes.BestBid.Price + q.No.BestBid.Price
	}
	return q, true
}

// Market returns the tracked market owning the given token, if any.
func (s *Store) Market(tokenID string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.byToken[tokenID]
	if !ok {
		return domain.Market{}, false
	}
	return mb.market, true
}

// Levels returns a copy of one token's side, best first. The hot path only
// reads Quote.
func (s *Store) Levels(tokenID string, side domain.BookSide) []domain.PriceLevel {
	s.mu.RLock()
	mb := s.byToken[tokenID]
	s.mu.RUnlock()
	if mb == nil {
		return nil
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	tb := mb.bookFor(tokenID)
	if tb == nil {
		return nil
	}
	if side == domain.BookSideBid {
		return tb.bids.snapshot()
	}
	return tb.asks.snapshot()
}
