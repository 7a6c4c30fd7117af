// Package book implements a per-symbol level-3 limit order book: individual
// resting orders grouped into price levels, with O(1) id lookup and O(1)
// best-price peek via a pair of price heaps.
package book

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Side identifies which side of the book an order rests on.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

var (
	ErrInvalidAmount  = errors.New("book: amount must be positive")
	ErrAmountTooLarge = errors.New("book: amount exceeds order size")
)

// priceScale is the fixed number of decimal places used to canonicalize a
// price or synthetic-id price component. Every Decimal that becomes a map
// key is rounded to this scale first, so two wire representations of the
// same price ("1.5" and "1.50") always produce identical keys.
const priceScale = 8

func canonicalPrice(p decimal.Decimal) string {
	return p.Round(priceScale).String()
}

// Order is a single resting order. Id and Side are immutable once
// constructed; Price is immutable after insertion into a level (a price
// change is modeled elsewhere as cancel+insert). Size mutates in place as
// change/match events arrive.
type Order struct {
	ID        string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp int64 // wall-clock Unix nanoseconds at ingestion; not a monotonic clock reading
}

// NewOrder constructs a resting order.
func NewOrder(id string, side Side, price, size decimal.Decimal, timestamp int64) *Order {
	return &Order{ID: id, Side: side, Price: price, Size: size, Timestamp: timestamp}
}

// ReduceSize shrinks the order by amount, used when a match fills part of
// it. It fails if amount is non-positive or larger than the current size.
func (o *Order) ReduceSize(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(o.Size) {
		return ErrAmountTooLarge
	}
	o.Size = o.Size.Sub(amount)
	return nil
}

// SetSize overwrites the order's size, used by change events. Callers that
// want remove-on-zero semantics should check the result before calling.
func (o *Order) SetSize(newSize decimal.Decimal) {
	o.Size = newSize
}
