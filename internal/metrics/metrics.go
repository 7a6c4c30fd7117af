// Package metrics computes stateless microstructure signals from a book's
// level snapshots. Nothing here mutates a book; every function is a pure
// transform of the level data handed to it.
package metrics

import (
	"clobbook/internal/book"

	"github.com/shopspring/decimal"
)

var (
	ten4        = decimal.NewFromInt(10000)
	two         = decimal.NewFromInt(2)
	one         = decimal.NewFromInt(1)
	halfPctBid  = decimal.NewFromFloat(0.995)
	halfPctAsk  = decimal.NewFromFloat(1.005)
	onePctDepth = decimal.NewFromFloat(0.01)
)

// Metrics is the full set of microstructure signals defined over a pair of
// level snapshots. Available is false when either side is empty, in which
// case every field besides Imbalance holds its neutral/zero value per the
// definitions table this is grounded on.
type Metrics struct {
	BestBid         decimal.Decimal
	BestAsk         decimal.Decimal
	Spread          decimal.Decimal
	SpreadBps       decimal.Decimal
	Imbalance       decimal.Decimal
	MarketPressure  decimal.Decimal
	VWAPBid         decimal.Decimal
	VWAPAsk         decimal.Decimal
	DepthHalfPctBid decimal.Decimal
	DepthHalfPctAsk decimal.Decimal
	Impact1Pct      decimal.Decimal
	Available       bool
}

// Compute derives Metrics from top-of-book level snapshots. bids must be
// sorted highest price first and asks lowest price first, matching
// OrderBook.BidLevels/AskLevels.
func Compute(bids, asks []book.LevelSnapshot) Metrics {
	sumBid := sumSizes(bids)
	sumAsk := sumSizes(asks)

	imbalance := one
	if !sumAsk.IsZero() {
		imbalance = sumBid.Div(sumAsk)
	}

	if len(bids) == 0 || len(asks) == 0 {
		return Metrics{Imbalance: imbalance}
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	spread := bestAsk.Sub(bestBid)
	midpoint := bestBid.Add(bestAsk).Div(two)

	spreadBps := decimal.Zero
	if !midpoint.IsZero() {
		spreadBps = spread.Div(midpoint).Mul(ten4)
	}

	marketPressure := decimal.Zero
	denom := imbalance.Add(one)
	if !denom.IsZero() {
		marketPressure = imbalance.Sub(one).Div(denom)
	}

	return Metrics{
		BestBid:         bestBid,
		BestAsk:         bestAsk,
		Spread:          spread,
		SpreadBps:       spreadBps,
		Imbalance:       imbalance,
		MarketPressure:  marketPressure,
		VWAPBid:         vwap(bids),
		VWAPAsk:         vwap(asks),
		DepthHalfPctBid: depthAtOrBetter(bids, bestBid.Mul(halfPctBid), true),
		DepthHalfPctAsk: depthAtOrBetter(asks, bestAsk.Mul(halfPctAsk), false),
		Impact1Pct:      impact1Pct(asks, bestAsk, sumBid.Add(sumAsk)),
		Available:       true,
	}
}

func sumSizes(levels []book.LevelSnapshot) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Size)
	}
	return sum
}

func vwap(levels []book.LevelSnapshot) decimal.Decimal {
	var notional, size decimal.Decimal
	for _, l := range levels {
		notional = notional.Add(l.Price.Mul(l.Size))
		size = size.Add(l.Size)
	}
	if size.IsZero() {
		return decimal.Zero
	}
	return notional.Div(size)
}

// depthAtOrBetter sums size over bids priced at or above threshold (bid
// side) or asks priced at or below threshold (ask side).
func depthAtOrBetter(levels []book.LevelSnapshot, threshold decimal.Decimal, bidSide bool) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		if bidSide && l.Price.LessThan(threshold) {
			continue
		}
		if !bidSide && l.Price.GreaterThan(threshold) {
			continue
		}
		sum = sum.Add(l.Size)
	}
	return sum
}

// impact1Pct walks the ask side accumulating size until it reaches 1% of
// total resting size on both sides, reporting the relative price move to
// get there. If the whole ask side is thinner than that threshold, it
// reports the move to the farthest level actually resting.
func impact1Pct(asks []book.LevelSnapshot, bestAsk decimal.Decimal, totalSize decimal.Decimal) decimal.Decimal {
	if bestAsk.IsZero() || len(asks) == 0 {
		return decimal.Zero
	}
	threshold := onePctDepth.Mul(totalSize)
	accumulated := decimal.Zero
	reached := bestAsk
	for _, l := range asks {
		accumulated = accumulated.Add(l.Size)
		reached = l.Price
		if accumulated.GreaterThanOrEqual(threshold) {
			break
		}
	}
	return reached.Sub(bestAsk).Div(bestAsk)
}
