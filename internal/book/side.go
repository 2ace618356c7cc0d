package book

import (
	"github.com/google/btree"

	"polyarb/internal/domain"
)

const btreeDegree = 8

// bookSide holds one side of a token's book, price-indexed so delta updates
// touch exactly one level. Bids order descending, asks ascending, so Min()
// is always best-of-book for either direction.
type bookSide struct {
	levels *btree.BTreeG[domain.PriceLevel]
}

func newBidSide() *bookSide {
	return &bookSide{levels: btree.NewG(btreeDegree, func(a, b domain.PriceLevel) bool {
		return a.Price > b.Price
	})}
}

func newAskSide() *bookSide {
	return &bookSide{levels: btree.NewG(btreeDegree, func(a, b domain.PriceLevel) bool {
		return a.Price < b.Price
	})}
}

// set inserts or updates the level at the given price. Size 0 removes it.
func (s *bookSide) set(price, size float64) {
	if size <= 0 {
		s.levels.Delete(domain.PriceLevel{Price: price})
		return
	}
	s.levels.ReplaceOrInsert(domain.PriceLevel{Price: price, Size: size})
}

// replace discards every level and installs the given ones.
func (s *bookSide) replace(levels []domain.PriceLevel) {
	s.levels.Clear(false)
	for _, lv := range levels {
		if lv.Size > 0 {
			s.levels.ReplaceOrInsert(lv)
		}
	}
}

// best returns the top level, or a zero PriceLevel when the side is empty.
func (s *bookSide) best() domain.PriceLevel {
	lv, ok := s.levels.Min()
	if !ok {
		return domain.PriceLevel{}
	}
	return lv
}

// snapshot returns every level in book order.
func (s *bookSide) snapshot() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, s.levels.Len())
	s.levels.Ascend(func(lv domain.PriceLevel) bool {
		out = append(out, lv)
		return true
	})
	return out
}
