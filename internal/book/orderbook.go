package book

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// L3EventType tags a normalized level-3 event as recognized by ApplyL3.
type L3EventType string

const (
	L3Open     L3EventType = "open"
	L3Received L3EventType = "received"
	L3Done     L3EventType = "done"
	L3Change   L3EventType = "change"
	L3Match    L3EventType = "match"
)

type locator struct {
	side  Side
	price decimal.Decimal
}

// LevelSnapshot is one aggregated (price, size) pair as returned by
// BidLevels/AskLevels.
type LevelSnapshot struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// SnapshotLevel is one level of an incoming full-book snapshot. ID is
// optional; when empty a deterministic synthetic id is generated from
// (side, price), the same way ApplyL2 does.
type SnapshotLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	ID    string
}

// SyntheticID deterministically derives an order id for a level-2 update or
// an id-less snapshot row, so the same (side, price) always maps to the
// same internal order no matter how many times it is replaced.
func SyntheticID(side Side, price decimal.Decimal) string {
	return side.String() + "@" + canonicalPrice(price)
}

// OrderBook is the per-symbol replica of an exchange's resting orders. All
// public methods are safe for concurrent use; a single mutex guards every
// map, heap, and index below.
type OrderBook struct {
	mu sync.Mutex

	symbol string

	bids    map[string]*PriceLevel
	asks    map[string]*PriceLevel
	bidHeap maxPriceHeap
	askHeap minPriceHeap

	index map[string]locator

	updateCallback func()
}

// New constructs an empty book for symbol.
func New(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[string]*PriceLevel),
		asks:   make(map[string]*PriceLevel),
		index:  make(map[string]locator),
	}
}

// Symbol reports the book's trading symbol.
func (b *OrderBook) Symbol() string { return b.symbol }

// SetUpdateCallback installs cb to be invoked exactly once after any
// mutating operation that changed observable state. cb runs on the
// applying goroutine with the book's lock already released; it must not
// call back into the book.
func (b *OrderBook) SetUpdateCallback(cb func()) {
	b.mu.Lock()
	b.updateCallback = cb
	b.mu.Unlock()
}

func (b *OrderBook) notify() {
	b.mu.Lock()
	cb := b.updateCallback
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *OrderBook) sideMaps(side Side) (map[string]*PriceLevel, heap.Interface) {
	if side == Buy {
		return b.bids, &b.bidHeap
	}
	return b.asks, &b.askHeap
}

// addOrderLocked assumes b.mu is held. It returns false if o.ID is already
// present anywhere in the book.
func (b *OrderBook) addOrderLocked(o *Order) bool {
	if _, exists := b.index[o.ID]; exists {
		return false
	}

	levels, h := b.sideMaps(o.Side)
	key := canonicalPrice(o.Price)
	level, ok := levels[key]
	if !ok {
		level = NewPriceLevel(o.Price)
		levels[key] = level
		heap.Push(h, o.Price)
	}
	if err := level.Add(o); err != nil {
		// o.ID was not in the index but somehow present in the level: treat
		// as a duplicate rather than corrupting state.
		if level.IsEmpty() {
			delete(levels, key)
			b.removeFromHeap(h, o.Price)
		}
		return false
	}
	b.index[o.ID] = locator{side: o.Side, price: o.Price}
	return true
}

// AddOrder inserts a new resting order. It returns false if id is already
// present.
func (b *OrderBook) AddOrder(o *Order) bool {
	b.mu.Lock()
	changed := b.addOrderLocked(o)
	b.mu.Unlock()
	if changed {
		b.notify()
	}
	return changed
}

// removeOrderLocked assumes b.mu is held.
func (b *OrderBook) removeOrderLocked(id string) bool {
	loc, ok := b.index[id]
	if !ok {
		return false
	}
	levels, h := b.sideMaps(loc.side)
	key := canonicalPrice(loc.price)
	level, ok := levels[key]
	if !ok {
		delete(b.index, id)
		return false
	}
	if _, err := level.Remove(id); err != nil {
		return false
	}
	delete(b.index, id)
	if level.IsEmpty() {
		delete(levels, key)
		b.removeFromHeap(h, loc.price)
	}
	return true
}

// RemoveOrder deletes order id from wherever it rests. It returns false if
// id is unknown.
func (b *OrderBook) RemoveOrder(id string) bool {
	b.mu.Lock()
	changed := b.removeOrderLocked(id)
	b.mu.Unlock()
	if changed {
		b.notify()
	}
	return changed
}

// modifyOrderLocked assumes b.mu is held.
func (b *OrderBook) modifyOrderLocked(id string, newSize decimal.Decimal) bool {
	loc, ok := b.index[id]
	if !ok {
		return false
	}
	levels, h := b.sideMaps(loc.side)
	key := canonicalPrice(loc.price)
	level, ok := levels[key]
	if !ok {
		delete(b.index, id)
		return false
	}
	removed, err := level.UpdateSize(id, newSize)
	if err != nil {
		return false
	}
	if removed {
		delete(b.index, id)
		if level.IsEmpty() {
			delete(levels, key)
			b.removeFromHeap(h, loc.price)
		}
	}
	return true
}

// ModifyOrder resizes an existing order. A non-positive newSize is
// equivalent to removing it. It returns false if id is unknown.
func (b *OrderBook) ModifyOrder(id string, newSize decimal.Decimal) bool {
	b.mu.Lock()
	changed := b.modifyOrderLocked(id, newSize)
	b.mu.Unlock()
	if changed {
		b.notify()
	}
	return changed
}

// ApplyL3 dispatches one normalized level-3 event. Unknown event types are
// ignored and report false.
//
// For open/received, price and size carry the new order's values. For
// done, side and price are advisory only — the index alone determines
// where the order rests. For change, size carries the new size. For match,
// id is the maker's order id and size is the amount filled; the taker is
// never resting and is not represented here.
func (b *OrderBook) ApplyL3(event L3EventType, id string, side Side, price, size decimal.Decimal) bool {
	switch event {
	case L3Open, L3Received:
		return b.AddOrder(NewOrder(id, side, price, size, time.Now().UnixNano()))
	case L3Done:
		return b.RemoveOrder(id)
	case L3Change:
		return b.ModifyOrder(id, size)
	case L3Match:
		return b.applyMatch(id, size)
	default:
		return false
	}
}

func (b *OrderBook) applyMatch(makerID string, filled decimal.Decimal) bool {
	b.mu.Lock()
	loc, ok := b.index[makerID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	levels, _ := b.sideMaps(loc.side)
	level, ok := levels[canonicalPrice(loc.price)]
	if !ok {
		b.mu.Unlock()
		return false
	}
	order, ok := level.Find(makerID)
	if !ok {
		b.mu.Unlock()
		return false
	}
	newSize := order.Size.Sub(filled)
	changed := b.modifyOrderLocked(makerID, newSize)
	b.mu.Unlock()
	if changed {
		b.notify()
	}
	return changed
}

// ApplyL2 applies one aggregated level-2 change. A size of zero evicts the
// whole level on that side, together with every order resting there; any
// other size upserts a single synthetic order representing the whole level.
func (b *OrderBook) ApplyL2(side Side, price, size decimal.Decimal) bool {
	id := SyntheticID(side, price)
	if size.Sign() <= 0 {
		b.mu.Lock()
		levels, h := b.sideMaps(side)
		key := canonicalPrice(price)
		level, ok := levels[key]
		if ok {
			for _, o := range level.Orders() {
				delete(b.index, o.ID)
			}
			delete(levels, key)
			b.removeFromHeap(h, level.Price())
		}
		b.mu.Unlock()
		if ok {
			b.notify()
		}
		return ok
	}

	b.mu.Lock()
	_, exists := b.index[id]
	b.mu.Unlock()
	if exists {
		return b.ModifyOrder(id, size)
	}
	return b.AddOrder(NewOrder(id, side, price, size, time.Now().UnixNano()))
}

// ApplySnapshot atomically replaces all existing state with the given
// levels. Rows without an explicit id are assigned a synthetic id the same
// way ApplyL2 does.
func (b *OrderBook) ApplySnapshot(bids, asks []SnapshotLevel) {
	now := time.Now().UnixNano()
	b.mu.Lock()
	b.clearLocked()
	for _, row := range bids {
		id := row.ID
		if id == "" {
			id = SyntheticID(Buy, row.Price)
		}
		b.addOrderLocked(NewOrder(id, Buy, row.Price, row.Size, now))
	}
	for _, row := range asks {
		id := row.ID
		if id == "" {
			id = SyntheticID(Sell, row.Price)
		}
		b.addOrderLocked(NewOrder(id, Sell, row.Price, row.Size, now))
	}
	b.mu.Unlock()
	b.notify()
}

func (b *OrderBook) removeFromHeap(h heap.Interface, price decimal.Decimal) {
	switch hh := h.(type) {
	case *maxPriceHeap:
		for i, p := range *hh {
			if p.Equal(price) {
				heap.Remove(hh, i)
				return
			}
		}
	case *minPriceHeap:
		for i, p := range *hh {
			if p.Equal(price) {
				heap.Remove(hh, i)
				return
			}
		}
	}
}

// BestBid returns the highest resting bid price. ok is false on an empty
// bid side.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bidHeap.Peek()
}

// BestAsk returns the lowest resting ask price. ok is false on an empty
// ask side.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.askHeap.Peek()
}

// Spread returns best_ask - best_bid, or zero if either side is empty.
func (b *OrderBook) Spread() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, okBid := b.bidHeap.Peek()
	ask, okAsk := b.askHeap.Peek()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Sub(bid)
}

// Midpoint returns (best_bid + best_ask) / 2, or zero if either side is
// empty.
func (b *OrderBook) Midpoint() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, okBid := b.bidHeap.Peek()
	ask, okAsk := b.askHeap.Peek()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// BidLevels returns up to n bid levels, highest price first.
func (b *OrderBook) BidLevels(n int) []LevelSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return levelsInOrder(b.bids, n, true)
}

// AskLevels returns up to n ask levels, lowest price first.
func (b *OrderBook) AskLevels(n int) []LevelSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return levelsInOrder(b.asks, n, false)
}

// Levels returns up to n bid and n ask levels under a single lock
// acquisition. Callers that need several related values for one rendered
// frame (e.g. both sides' top-N plus any other getter) must use this
// instead of composing BidLevels/AskLevels separately, which would risk a
// torn read against a concurrent writer.
func (b *OrderBook) Levels(n int) (bids, asks []LevelSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return levelsInOrder(b.bids, n, true), levelsInOrder(b.asks, n, false)
}

func levelsInOrder(levels map[string]*PriceLevel, n int, descending bool) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(levels))
	for _, level := range levels {
		out = append(out, LevelSnapshot{Price: level.Price(), Size: level.TotalSize()})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// GetOrder returns a copy of the resting order at id.
func (b *OrderBook) GetOrder(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	levels, _ := b.sideMaps(loc.side)
	level, ok := levels[canonicalPrice(loc.price)]
	if !ok {
		return Order{}, false
	}
	o, ok := level.Find(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OrderCount is the total number of resting orders across both sides.
func (b *OrderBook) OrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index)
}

// BidLevelCount is the number of distinct bid price levels.
func (b *OrderBook) BidLevelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bids)
}

// AskLevelCount is the number of distinct ask price levels.
func (b *OrderBook) AskLevelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.asks)
}

func (b *OrderBook) clearLocked() {
	b.bids = make(map[string]*PriceLevel)
	b.asks = make(map[string]*PriceLevel)
	b.bidHeap = b.bidHeap[:0]
	b.askHeap = b.askHeap[:0]
	b.index = make(map[string]locator)
}

// Clear removes all resting orders and levels, leaving the book empty.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	b.clearLocked()
	b.mu.Unlock()
	b.notify()
}
