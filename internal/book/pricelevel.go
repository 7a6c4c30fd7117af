package book

import (
	"container/list"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceMismatch  = errors.New("book: order price does not match level price")
	ErrDuplicateOrder = errors.New("book: order id already present in level")
	ErrOrderNotFound  = errors.New("book: order id not present in level")
)

// PriceLevel holds every order resting at one price, in FIFO arrival order,
// plus the aggregated size across those orders. It knows nothing about its
// neighboring levels or which side of the book it belongs to.
type PriceLevel struct {
	price     decimal.Decimal
	orders    *list.List
	index     map[string]*list.Element
	totalSize decimal.Decimal
}

// NewPriceLevel creates an empty level at price.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		price:     price,
		orders:    list.New(),
		index:     make(map[string]*list.Element),
		totalSize: decimal.Zero,
	}
}

// Price reports the level's price.
func (l *PriceLevel) Price() decimal.Decimal { return l.price }

// Add appends order to the FIFO queue. It fails if the order's price does
// not match the level's price or its id is already present.
func (l *PriceLevel) Add(o *Order) error {
	if !o.Price.Equal(l.price) {
		return ErrPriceMismatch
	}
	if _, exists := l.index[o.ID]; exists {
		return ErrDuplicateOrder
	}
	elem := l.orders.PushBack(o)
	l.index[o.ID] = elem
	l.totalSize = l.totalSize.Add(o.Size)
	return nil
}

// Remove pulls id out of the FIFO queue and returns it.
func (l *PriceLevel) Remove(id string) (*Order, error) {
	elem, ok := l.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := elem.Value.(*Order)
	l.orders.Remove(elem)
	delete(l.index, id)
	l.totalSize = l.totalSize.Sub(o.Size)
	return o, nil
}

// UpdateSize changes the size of order id. If newSize is non-positive, the
// order is removed instead and removed reports true.
func (l *PriceLevel) UpdateSize(id string, newSize decimal.Decimal) (removed bool, err error) {
	elem, ok := l.index[id]
	if !ok {
		return false, ErrOrderNotFound
	}
	if newSize.Sign() <= 0 {
		_, err = l.Remove(id)
		return true, err
	}
	o := elem.Value.(*Order)
	l.totalSize = l.totalSize.Add(newSize).Sub(o.Size)
	o.SetSize(newSize)
	return false, nil
}

// Find returns the order at id without removing it.
func (l *PriceLevel) Find(id string) (*Order, bool) {
	elem, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Order), true
}

// IsEmpty reports whether the level has no resting orders.
func (l *PriceLevel) IsEmpty() bool { return l.orders.Len() == 0 }

// TotalSize is the sum of every resting order's size at this price.
func (l *PriceLevel) TotalSize() decimal.Decimal { return l.totalSize }

// OrderCount is the number of resting orders at this price.
func (l *PriceLevel) OrderCount() int { return l.orders.Len() }

// Orders returns the resting orders in FIFO arrival order. The returned
// slice is a snapshot; mutating it does not affect the level.
func (l *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, l.orders.Len())
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Order))
	}
	return out
}
