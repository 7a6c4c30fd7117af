package book

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func scenarioA(t *testing.T) *OrderBook {
	t.Helper()
	b := New("BTC-USD")
	if !b.AddOrder(NewOrder("b1", Buy, d("100.0"), d("1.5"), 0)) {
		t.Fatal("open b1 failed")
	}
	if !b.AddOrder(NewOrder("b2", Buy, d("99.0"), d("2.5"), 0)) {
		t.Fatal("open b2 failed")
	}
	if !b.AddOrder(NewOrder("a1", Sell, d("101.0"), d("1.0"), 0)) {
		t.Fatal("open a1 failed")
	}
	if !b.AddOrder(NewOrder("a2", Sell, d("102.0"), d("2.0"), 0)) {
		t.Fatal("open a2 failed")
	}
	return b
}

func TestScenarioABasicAddBest(t *testing.T) {
	b := scenarioA(t)

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !bid.Equal(d("100.0")) {
		t.Errorf("best_bid = %s, want 100.0", bid)
	}
	if !ask.Equal(d("101.0")) {
		t.Errorf("best_ask = %s, want 101.0", ask)
	}
	if !b.Spread().Equal(d("1.0")) {
		t.Errorf("spread = %s, want 1.0", b.Spread())
	}
	if !b.Midpoint().Equal(d("100.5")) {
		t.Errorf("midpoint = %s, want 100.5", b.Midpoint())
	}

	bids := b.BidLevels(10)
	wantBids := []LevelSnapshot{{Price: d("100.0"), Size: d("1.5")}, {Price: d("99.0"), Size: d("2.5")}}
	assertLevels(t, "bid", bids, wantBids)

	asks := b.AskLevels(10)
	wantAsks := []LevelSnapshot{{Price: d("101.0"), Size: d("1.0")}, {Price: d("102.0"), Size: d("2.0")}}
	assertLevels(t, "ask", asks, wantAsks)
}

func assertLevels(t *testing.T, label string, got, want []LevelSnapshot) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s levels len = %d, want %d (%v)", label, len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Price.Equal(want[i].Price) || !got[i].Size.Equal(want[i].Size) {
			t.Errorf("%s level %d = %+v, want %+v", label, i, got[i], want[i])
		}
	}
}

func TestScenarioBMatchPartialFill(t *testing.T) {
	b := scenarioA(t)

	if !b.ApplyL3(L3Match, "b1", Buy, decimal.Zero, d("0.5")) {
		t.Fatal("match on b1 failed")
	}

	o, ok := b.GetOrder("b1")
	if !ok {
		t.Fatal("b1 should still rest after partial fill")
	}
	if !o.Size.Equal(d("1.0")) {
		t.Errorf("b1.size = %s, want 1.0", o.Size)
	}

	assertLevels(t, "bid", b.BidLevels(1), []LevelSnapshot{{Price: d("100.0"), Size: d("1.0")}})
}

func TestScenarioCMatchFullFill(t *testing.T) {
	b := scenarioA(t)

	if !b.ApplyL3(L3Match, "a1", Sell, decimal.Zero, d("1.0")) {
		t.Fatal("match on a1 failed")
	}

	if _, ok := b.GetOrder("a1"); ok {
		t.Error("a1 should be removed after full fill")
	}
	ask, _ := b.BestAsk()
	if !ask.Equal(d("102.0")) {
		t.Errorf("best_ask = %s, want 102.0", ask)
	}
	if b.AskLevelCount() != 1 {
		t.Errorf("ask_level_count = %d, want 1", b.AskLevelCount())
	}
}

func TestScenarioDL2Delete(t *testing.T) {
	b := scenarioA(t)

	if !b.ApplyL2(Buy, d("100.0"), decimal.Zero) {
		t.Fatal("l2 delete at 100.0 failed")
	}

	bid, _ := b.BestBid()
	if !bid.Equal(d("99.0")) {
		t.Errorf("best_bid = %s, want 99.0", bid)
	}
}

func TestScenarioESnapshotResync(t *testing.T) {
	b := scenarioA(t)
	b.Clear()

	b.ApplySnapshot(
		[]SnapshotLevel{{Price: d("50"), Size: d("1")}},
		[]SnapshotLevel{{Price: d("60"), Size: d("1")}},
	)

	if b.OrderCount() != 2 {
		t.Errorf("order_count = %d, want 2", b.OrderCount())
	}
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !bid.Equal(d("50")) || !ask.Equal(d("60")) {
		t.Errorf("best_bid/best_ask = %s/%s, want 50/60", bid, ask)
	}
	if _, ok := b.GetOrder("b1"); ok {
		t.Error("remnant from before clear() should not be observable")
	}
}

func TestInvariantOrderCountMatchesLevelSum(t *testing.T) {
	b := scenarioA(t)

	sum := levelOrderCount(b.bids) + levelOrderCount(b.asks)
	if sum != b.OrderCount() {
		t.Errorf("sum of level order counts = %d, order_count() = %d", sum, b.OrderCount())
	}
}

func levelOrderCount(levels map[string]*PriceLevel) int {
	total := 0
	for _, l := range levels {
		total += l.OrderCount()
	}
	return total
}

func TestInvariantTotalSizeMatchesOrders(t *testing.T) {
	b := scenarioA(t)
	for _, levels := range []map[string]*PriceLevel{b.bids, b.asks} {
		for _, l := range levels {
			sum := decimal.Zero
			for _, o := range l.Orders() {
				sum = sum.Add(o.Size)
			}
			if !sum.Equal(l.TotalSize()) {
				t.Errorf("level %s total_size = %s, want %s", l.Price(), l.TotalSize(), sum)
			}
		}
	}
}

func TestInvariantBestBidLessThanBestAsk(t *testing.T) {
	b := scenarioA(t)
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if bid.GreaterThan(ask) {
		t.Errorf("best_bid %s > best_ask %s", bid, ask)
	}
}

func TestInvariantEmptyLevelsNeverObservable(t *testing.T) {
	b := scenarioA(t)
	b.ApplyL3(L3Match, "a1", Sell, decimal.Zero, d("1.0"))
	for _, l := range b.AskLevels(-1) {
		if l.Size.IsZero() {
			t.Errorf("observed an empty level at %s", l.Price)
		}
	}
	if _, ok := b.asks[canonicalPrice(d("101.0"))]; ok {
		t.Error("evicted level still present in map")
	}
}

func TestIdempotentCancelRoundTrip(t *testing.T) {
	b := New("BTC-USD")
	before := snapshotCounts(b)

	b.ApplyL3(L3Open, "x1", Buy, d("10"), d("1"))
	b.ApplyL3(L3Done, "x1", Buy, d("10"), decimal.Zero)

	after := snapshotCounts(b)
	if before != after {
		t.Errorf("open+done round trip changed counts: before=%v after=%v", before, after)
	}
}

type counts struct{ orders, bidLevels, askLevels int }

func snapshotCounts(b *OrderBook) counts {
	return counts{b.OrderCount(), b.BidLevelCount(), b.AskLevelCount()}
}

func TestSnapshotReapplyIsNoOp(t *testing.T) {
	b := New("BTC-USD")
	bids := []SnapshotLevel{{Price: d("100"), Size: d("1")}}
	asks := []SnapshotLevel{{Price: d("101"), Size: d("1")}}

	b.ApplySnapshot(bids, asks)
	first := snapshotCounts(b)
	firstBid, _ := b.BestBid()

	b.ApplySnapshot(bids, asks)
	second := snapshotCounts(b)
	secondBid, _ := b.BestBid()

	if first != second || !firstBid.Equal(secondBid) {
		t.Errorf("reapplying the same snapshot changed observable state: %v/%s -> %v/%s", first, firstBid, second, secondBid)
	}
}

func TestAddOrderDuplicateIDRejected(t *testing.T) {
	b := New("BTC-USD")
	b.AddOrder(NewOrder("x1", Buy, d("10"), d("1"), 0))
	if b.AddOrder(NewOrder("x1", Buy, d("10"), d("1"), 0)) {
		t.Error("duplicate id should be rejected")
	}
}

func TestModifyOrderNonPositiveSizeRemoves(t *testing.T) {
	b := New("BTC-USD")
	b.AddOrder(NewOrder("x1", Buy, d("10"), d("1"), 0))
	if !b.ModifyOrder("x1", decimal.Zero) {
		t.Fatal("modify to zero should succeed")
	}
	if _, ok := b.GetOrder("x1"); ok {
		t.Error("order should be gone after modify to zero")
	}
}

func TestCanonicalPriceKeyCollapsesFormatting(t *testing.T) {
	b := New("BTC-USD")
	b.AddOrder(NewOrder("x1", Buy, d("1.50"), d("1"), 0))
	b.AddOrder(NewOrder("x2", Buy, d("1.5"), d("2"), 0))

	if b.BidLevelCount() != 1 {
		t.Errorf("bid_level_count = %d, want 1 (differently-formatted equal prices must share a level)", b.BidLevelCount())
	}
	levels := b.BidLevels(10)
	if len(levels) != 1 || !levels[0].Size.Equal(d("3")) {
		t.Errorf("levels = %+v, want one level totalling 3", levels)
	}
}
