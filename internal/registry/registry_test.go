package registry

import (
	"testing"

	"github.com/shopspring/decimal"

	"clobbook/internal/book"
)

func newTestOrder() *book.Order {
	return book.NewOrder("x1", book.Buy, decimal.NewFromInt(10), decimal.NewFromInt(1), 0)
}

func TestSubscribeReturnsSameBookOnRepeat(t *testing.T) {
	r := New()
	b1 := r.Subscribe("BTC-USD")
	b2 := r.Subscribe("BTC-USD")
	if b1 != b2 {
		t.Error("subscribing twice should return the same book instance")
	}
}

func TestUnsubscribeDropsImmediatelyWithNoHandles(t *testing.T) {
	r := New()
	r.Subscribe("BTC-USD")
	r.Unsubscribe("BTC-USD")

	if _, ok := r.Lookup("BTC-USD"); ok {
		t.Error("book should be gone after unsubscribe with no outstanding handles")
	}
}

func TestUnsubscribeDefersUntilHandleReleased(t *testing.T) {
	r := New()
	r.Subscribe("BTC-USD")

	h, ok := r.Acquire("BTC-USD")
	if !ok {
		t.Fatal("acquire should succeed while subscribed")
	}

	r.Unsubscribe("BTC-USD")

	if _, ok := r.entries["BTC-USD"]; !ok {
		t.Error("book must stay alive while a handle is outstanding")
	}

	h.Release()

	if _, ok := r.entries["BTC-USD"]; ok {
		t.Error("book should be dropped once the last handle is released")
	}
}

func TestAcquireUnknownSymbolFails(t *testing.T) {
	r := New()
	if _, ok := r.Acquire("ETH-USD"); ok {
		t.Error("acquiring an unsubscribed symbol should fail")
	}
}

func TestSymbolsExcludesUnsubscribed(t *testing.T) {
	r := New()
	r.Subscribe("BTC-USD")
	r.Subscribe("ETH-USD")
	r.Unsubscribe("ETH-USD")

	symbols := r.Symbols()
	if len(symbols) != 1 || symbols[0] != "BTC-USD" {
		t.Errorf("symbols = %v, want [BTC-USD]", symbols)
	}
}

func TestClearResetsEveryBook(t *testing.T) {
	r := New()
	b := r.Subscribe("BTC-USD")
	b.AddOrder(newTestOrder())

	r.Clear()

	if b.OrderCount() != 0 {
		t.Errorf("order_count after Clear = %d, want 0", b.OrderCount())
	}
}
