package feed

import (
	"testing"

	"clobbook/internal/registry"
)

func newTestNormalizer() (*registry.Registry, *Normalizer) {
	reg := registry.New()
	norm := NewNormalizer(reg, noopZap(), noopZap(), nil)
	return reg, norm
}

func TestProcessSubscriptionsClosesReady(t *testing.T) {
	_, norm := newTestNormalizer()

	select {
	case <-norm.Ready():
		t.Fatal("ready should not be closed before a subscriptions ack")
	default:
	}

	norm.Process([]byte(`{"type":"subscriptions","channels":[]}`))

	select {
	case <-norm.Ready():
	default:
		t.Fatal("ready should be closed after a subscriptions ack")
	}
}

func TestProcessSnapshotPopulatesBook(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")

	norm.Process([]byte(`{"type":"snapshot","product_id":"BTC-USD",
		"bids":[["100.0","1.5"]],"asks":[["101.0","1.0"]]}`))

	b, ok := reg.Lookup("BTC-USD")
	if !ok {
		t.Fatal("book should exist")
	}
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !bid.Equal(d("100.0")) || !ask.Equal(d("101.0")) {
		t.Errorf("best_bid/best_ask = %s/%s, want 100.0/101.0", bid, ask)
	}
}

func TestProcessL2UpdateAppliesChange(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")
	norm.Process([]byte(`{"type":"snapshot","product_id":"BTC-USD","bids":[],"asks":[]}`))

	norm.Process([]byte(`{"type":"l2update","product_id":"BTC-USD",
		"changes":[["buy","100.0","2.0"]]}`))

	b, _ := reg.Lookup("BTC-USD")
	bid, ok := b.BestBid()
	if !ok || !bid.Equal(d("100.0")) {
		t.Errorf("best_bid = %s, ok=%v, want 100.0/true", bid, ok)
	}
}

func TestProcessTickerNeverMutatesBook(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")
	norm.Process([]byte(`{"type":"snapshot","product_id":"BTC-USD",
		"bids":[["100.0","1.0"]],"asks":[["101.0","1.0"]]}`))

	norm.Process([]byte(`{"type":"ticker","product_id":"BTC-USD",
		"best_bid":"99.0","best_bid_size":"1","best_ask":"102.0","best_ask_size":"1"}`))

	b, _ := reg.Lookup("BTC-USD")
	bid, _ := b.BestBid()
	if !bid.Equal(d("100.0")) {
		t.Errorf("best_bid changed to %s after a ticker message, want it untouched at 100.0", bid)
	}

	summary, ok := norm.Ticker("BTC-USD")
	if !ok || summary.BestBid != "99" {
		t.Errorf("ticker cache = %+v, ok=%v, want best_bid 99", summary, ok)
	}
}

func TestProcessUnparseableFrameIsDroppedNotFatal(t *testing.T) {
	_, norm := newTestNormalizer()
	norm.Process([]byte(`not json`))
	if norm.ParseErrors() != 1 {
		t.Errorf("parse_errors = %d, want 1", norm.ParseErrors())
	}
}

func TestProcessOpenMissingSizeIsDropped(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")

	norm.Process([]byte(`{"type":"open","product_id":"BTC-USD","order_id":"o1","side":"buy","price":"100.0"}`))

	if norm.ParseErrors() != 1 {
		t.Errorf("parse_errors = %d, want 1", norm.ParseErrors())
	}
	b, _ := reg.Lookup("BTC-USD")
	if _, ok := b.GetOrder("o1"); ok {
		t.Error("order with no size should not have been added to the book")
	}
}

func TestProcessChangeMissingNewSizeIsDropped(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")
	norm.Process([]byte(`{"type":"open","product_id":"BTC-USD","order_id":"o1","side":"buy","price":"100.0","size":"1.0"}`))

	norm.Process([]byte(`{"type":"change","product_id":"BTC-USD","order_id":"o1"}`))

	if norm.ParseErrors() != 1 {
		t.Errorf("parse_errors = %d, want 1", norm.ParseErrors())
	}
	b, _ := reg.Lookup("BTC-USD")
	o, ok := b.GetOrder("o1")
	if !ok || !o.Size.Equal(d("1.0")) {
		t.Errorf("order = %+v, ok=%v, want untouched size 1.0", o, ok)
	}
}

func TestProcessMatchMissingSizeIsDropped(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")
	norm.Process([]byte(`{"type":"open","product_id":"BTC-USD","order_id":"o1","side":"buy","price":"100.0","size":"1.0"}`))

	norm.Process([]byte(`{"type":"match","product_id":"BTC-USD","maker_order_id":"o1"}`))

	if norm.ParseErrors() != 1 {
		t.Errorf("parse_errors = %d, want 1", norm.ParseErrors())
	}
	b, _ := reg.Lookup("BTC-USD")
	o, ok := b.GetOrder("o1")
	if !ok || !o.Size.Equal(d("1.0")) {
		t.Errorf("order = %+v, ok=%v, want untouched size 1.0 after a no-op match", o, ok)
	}
}

func TestHeartbeatSequenceGapTriggersResync(t *testing.T) {
	reg, norm := newTestNormalizer()
	reg.Subscribe("BTC-USD")
	norm.Process([]byte(`{"type":"snapshot","product_id":"BTC-USD",
		"bids":[["100.0","1.0"]],"asks":[["101.0","1.0"]]}`))

	var resynced string
	norm.ForceResync = func(productID, reason string) { resynced = productID }

	norm.Process([]byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":1}`))
	norm.Process([]byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":5}`))

	if resynced != "BTC-USD" {
		t.Errorf("ForceResync called with %q, want BTC-USD", resynced)
	}

	b, _ := reg.Lookup("BTC-USD")
	if _, ok := b.BestBid(); ok {
		t.Error("book should be cleared after a sequence gap")
	}
}
