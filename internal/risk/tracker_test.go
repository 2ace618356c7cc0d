package risk

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"polyarb/internal/config"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
)

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		MinProfitMargin:     0.02,
		MaxPositionFraction: 0.05,
		Bankroll:            1000,
		MinOrderSize:        5,
	}
}

func testMarket() domain.Market {
	return domain.Market{ID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1"}
}

func buyOpp(size float64) domain.Opportunity {
	return domain.Opportunity{
		Market:    testMarket(),
		Direction: domain.DirectionBuyBoth,
		YesPrice:  0.47,
		NoPrice:   0.50,
		Combined:  0.97,
		Size:      size,
	}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(testConfig(), nil, metrics.New(), slog.Default())
}

func TestCheckAndReserveWithinLimit(t *testing.T) {
	tr := newTestTracker(t)

	res, err := tr.CheckAndReserve(buyOpp(50)) // 48.50 notional, cap 50
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if res.Size != 50 {
		t.Errorf("granted size = %v, want 50", res.Size)
	}
}

func TestCheckAndReserveOverMarketCap(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.CheckAndReserve(buyOpp(60)) // 58.20 notional over 50 cap
	if !errors.Is(err, domain.ErrRiskLimit) {
		t.Fatalf("err = %v, want ErrRiskLimit", err)
	}
}

func TestReservationCountsAgainstCap(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.CheckAndReserve(buyOpp(30)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// 29.10 reserved; another 30 shares would breach the 50 market cap.
	if _, err := tr.CheckAndReserve(buyOpp(30)); !errors.Is(err, domain.ErrRiskLimit) {
		t.Fatalf("err = %v, want ErrRiskLimit while capacity reserved", err)
	}
}

func TestReleaseReturnsCapacity(t *testing.T) {
	tr := newTestTracker(t)

	res, err := tr.CheckAndReserve(buyOpp(50))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tr.Release(res)

	if _, err := tr.CheckAndReserve(buyOpp(50)); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestCommitRecordsPosition(t *testing.T) {
	tr := newTestTracker(t)
	market := testMarket()

	res, err := tr.CheckAndReserve(buyOpp(50))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tr.Commit(context.Background(), res, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideBuy, Size: 50, Price: 0.47},
		{TokenID: "no-1", Side: domain.OrderSideBuy, Size: 50, Price: 0.50},
	})

	pos, ok := tr.Position("cond-1")
	if !ok {
		t.Fatal("no position after commit")
	}
	if pos.YesSize != 50 || pos.NoSize != 50 {
		t.Errorf("sizes = %v/%v, want 50/50", pos.YesSize, pos.NoSize)
	}
	if pos.YesAvgCost != 0.47 || pos.NoAvgCost != 0.50 {
		t.Errorf("avg costs = %v/%v, want 0.47/0.50", pos.YesAvgCost, pos.NoAvgCost)
	}
}

func TestSellCappedByHeldContracts(t *testing.T) {
	tr := newTestTracker(t)
	market := testMarket()

	res, _ := tr.CheckAndReserve(buyOpp(40))
	tr.Commit(context.Background(), res, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideBuy, Size: 40, Price: 0.47},
		{TokenID: "no-1", Side: domain.OrderSideBuy, Size: 30, Price: 0.50},
	})

	sell := domain.Opportunity{
		Market:    market,
		Direction: domain.DirectionSellBoth,
		Combined:  1.05,
		Size:      100,
	}
	granted, err := tr.CheckAndReserve(sell)
	if err != nil {
		t.Fatalf("sell reserve: %v", err)
	}
	// Only 30 contracts are fully hedged.
	if granted.Size != 30 {
		t.Errorf("granted sell size = %v, want 30", granted.Size)
	}
}

func TestSellRejectedWithoutPosition(t *testing.T) {
	tr := newTestTracker(t)

	sell := domain.Opportunity{
		Market:    testMarket(),
		Direction: domain.DirectionSellBoth,
		Combined:  1.05,
		Size:      10,
	}
	if _, err := tr.CheckAndReserve(sell); !errors.Is(err, domain.ErrRiskLimit) {
		t.Fatalf("err = %v, want ErrRiskLimit with no holdings", err)
	}
}

func TestCommitSellFlattensPosition(t *testing.T) {
	tr := newTestTracker(t)
	market := testMarket()

	res, _ := tr.CheckAndReserve(buyOpp(20))
	tr.Commit(context.Background(), res, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideBuy, Size: 20, Price: 0.47},
		{TokenID: "no-1", Side: domain.OrderSideBuy, Size: 20, Price: 0.50},
	})

	sellRes, err := tr.CheckAndReserve(domain.Opportunity{
		Market:    market,
		Direction: domain.DirectionSellBoth,
		Combined:  1.05,
		Size:      20,
	})
	if err != nil {
		t.Fatalf("sell reserve: %v", err)
	}
	tr.Commit(context.Background(), sellRes, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideSell, Size: 20, Price: 0.53},
		{TokenID: "no-1", Side: domain.OrderSideSell, Size: 20, Price: 0.52},
	})

	if _, ok := tr.Position("cond-1"); ok {
		t.Error("flat position still tracked after full exit")
	}
}

// fakeStore records persistence calls.
type fakeStore struct {
	upserts int
	deletes int
	seed    []domain.Position
}

func (f *fakeStore) Upsert(ctx context.Context, p domain.Position) error {
	f.upserts++
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, marketID string) error {
	f.deletes++
	return nil
}

func (f *fakeStore) LoadAll(ctx context.Context) ([]domain.Position, error) {
	return f.seed, nil
}

func TestLoadRestoresPositions(t *testing.T) {
	store := &fakeStore{seed: []domain.Position{
		{MarketID: "cond-9", YesSize: 10, NoSize: 10, YesAvgCost: 0.4, NoAvgCost: 0.5},
	}}
	tr := NewTracker(testConfig(), store, metrics.New(), slog.Default())

	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pos, ok := tr.Position("cond-9")
	if !ok {
		t.Fatal("restored position missing")
	}
	if pos.YesSize != 10 {
		t.Errorf("restored yes size = %v, want 10", pos.YesSize)
	}
}

func TestCommitPersistsSnapshot(t *testing.T) {
	store := &fakeStore{}
	tr := NewTracker(testConfig(), store, metrics.New(), slog.Default())
	market := testMarket()

	res, _ := tr.CheckAndReserve(buyOpp(10))
	tr.Commit(context.Background(), res, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideBuy, Size: 10, Price: 0.47},
		{TokenID: "no-1", Side: domain.OrderSideBuy, Size: 10, Price: 0.50},
	})
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1", store.upserts)
	}

	sellRes, _ := tr.CheckAndReserve(domain.Opportunity{
		Market: market, Direction: domain.DirectionSellBoth, Combined: 1.05, Size: 10,
	})
	tr.Commit(context.Background(), sellRes, market, []Fill{
		{TokenID: "yes-1", Side: domain.OrderSideSell, Size: 10, Price: 0.55},
		{TokenID: "no-1", Side: domain.OrderSideSell, Size: 10, Price: 0.52},
	})
	if store.deletes != 1 {
		t.Errorf("deletes = %d, want 1 after going flat", store.deletes)
	}
}
