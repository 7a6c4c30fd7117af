// Package feed turns a stream of decoded exchange text frames into book
// mutations: FeedNormalizer parses and dispatches, FeedSession owns the
// connection lifecycle that produces the frames.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clobbook/internal/book"
	"clobbook/internal/registry"
)

// Stats receives counters the normalizer bumps as it works, so an operator
// surface (Prometheus, logs) can observe drop rates without the normalizer
// depending on any particular exporter.
type Stats interface {
	IncParseError(msgType string)
	IncDrop(msgType, reason string)
	IncResync(symbol, reason string)
}

type noopStats struct{}

func (noopStats) IncParseError(string)     {}
func (noopStats) IncDrop(string, string)   {}
func (noopStats) IncResync(string, string) {}

// TickerSummary is the cached best-bid/best-ask the normalizer keeps from
// ticker messages. It is informational only: a ticker message never
// mutates the book.
type TickerSummary struct {
	BestBid     string
	BestBidSize string
	BestAsk     string
	BestAskSize string
}

// Normalizer parses exchange frames and applies them to the books held by
// reg. It is the sole writer of book state on the feed's goroutine; nothing
// here takes a book lock directly, it calls through OrderBook's own public,
// already-synchronized API.
type Normalizer struct {
	reg     *registry.Registry
	log     *zap.Logger
	feedLog *zap.Logger
	stats   Stats

	mu      sync.Mutex
	tickers map[string]TickerSummary
	lastSeq map[string]int64

	parseErrors uint64

	readyOnce sync.Once
	ready     chan struct{}

	// OnHeartbeat is invoked whenever a heartbeat message arrives, without
	// the normalizer knowing about sessions at all. Session installs a hook
	// that only logs the heartbeat; its idle timeout is the per-read
	// deadline, which any frame resets.
	OnHeartbeat func(productID string)

	// ForceResync is invoked when a per-symbol heartbeat sequence gap is
	// detected. The affected book is already cleared; the session treats
	// this exactly like a heartbeat timeout (force-close, backoff,
	// resubscribe).
	ForceResync func(productID, reason string)

	// Verbose toggles raw-frame debug logging: when set, dropped messages
	// are logged with their raw frame bytes instead of just the parse error.
	Verbose bool
}

// NewNormalizer builds a Normalizer that applies updates to books held by
// reg. stats may be nil, in which case counters are dropped silently.
func NewNormalizer(reg *registry.Registry, log, feedLog *zap.Logger, stats Stats) *Normalizer {
	if stats == nil {
		stats = noopStats{}
	}
	return &Normalizer{
		reg:     reg,
		log:     log,
		feedLog: feedLog,
		stats:   stats,
		tickers: make(map[string]TickerSummary),
		lastSeq: make(map[string]int64),
		ready:   make(chan struct{}),
	}
}

// Ready is closed the first time a subscriptions acknowledgment arrives.
func (n *Normalizer) Ready() <-chan struct{} { return n.ready }

// ParseErrors reports the running count of dropped, unparseable messages.
func (n *Normalizer) ParseErrors() uint64 { return atomic.LoadUint64(&n.parseErrors) }

// Ticker returns the most recently cached ticker summary for symbol.
func (n *Normalizer) Ticker(symbol string) (TickerSummary, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tickers[symbol]
	return t, ok
}

// Process parses one decoded text frame and applies it. Parse errors are
// logged and counted; they never panic and never partially apply a message.
func (n *Normalizer) Process(frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		n.dropParse("unknown", fmt.Errorf("envelope: %w", err), frame)
		return
	}

	switch env.Type {
	case "subscriptions":
		n.handleSubscriptions(frame)
	case "heartbeat":
		n.handleHeartbeat(frame)
	case "snapshot":
		n.handleSnapshot(frame)
	case "l2update":
		n.handleL2Update(frame)
	case "l3update", "open", "received", "done", "match", "change":
		n.handleL3(env.Type, frame)
	case "ticker":
		n.handleTicker(frame)
	case "error":
		n.handleError(frame)
	default:
		n.feedLog.Debug("dropping unrecognized message type", zap.String("type", env.Type))
		n.stats.IncDrop(env.Type, "unrecognized_type")
	}
}

func (n *Normalizer) dropParse(msgType string, err error, frame []byte) {
	atomic.AddUint64(&n.parseErrors, 1)
	n.stats.IncParseError(msgType)
	fields := []zap.Field{zap.String("type", msgType), zap.Error(err)}
	if n.Verbose {
		fields = append(fields, zap.ByteString("frame", frame))
	}
	n.feedLog.Debug("dropping unparseable message", fields...)
}

func (n *Normalizer) handleSubscriptions(frame []byte) {
	var msg subscriptionsMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("subscriptions", err, frame)
		return
	}
	n.log.Info("subscriptions acknowledged", zap.ByteString("channels", msg.Channels))
	n.readyOnce.Do(func() { close(n.ready) })
}

func (n *Normalizer) handleHeartbeat(frame []byte) {
	var msg heartbeatMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("heartbeat", err, frame)
		return
	}
	if seq, ok := parseSequence(msg.Sequence); ok && msg.ProductID != "" {
		n.mu.Lock()
		prev, known := n.lastSeq[msg.ProductID]
		n.lastSeq[msg.ProductID] = seq
		n.mu.Unlock()
		if known && seq != prev+1 {
			n.log.Warn("sequence gap detected, resyncing",
				zap.String("symbol", msg.ProductID), zap.Int64("expected", prev+1), zap.Int64("got", seq))
			n.stats.IncResync(msg.ProductID, "sequence_gap")
			if b := n.bookFor(msg.ProductID); b != nil {
				b.Clear()
			}
			if n.ForceResync != nil {
				n.ForceResync(msg.ProductID, "sequence_gap")
			}
		}
	}
	if n.OnHeartbeat != nil {
		n.OnHeartbeat(msg.ProductID)
	}
}

// parseSequence accepts a sequence number encoded as either a bare JSON
// number or a decimal string, since feeds are inconsistent about quoting
// numeric fields.
func parseSequence(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (n *Normalizer) handleSnapshot(frame []byte) {
	var msg snapshotMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("snapshot", err, frame)
		return
	}
	if msg.ProductID == "" {
		n.dropParse("snapshot", fmt.Errorf("missing product_id"), frame)
		return
	}
	b := n.bookFor(msg.ProductID)
	if b == nil {
		n.stats.IncDrop("snapshot", "unknown_symbol")
		return
	}

	bids := make([]book.SnapshotLevel, len(msg.Bids))
	for i, row := range msg.Bids {
		bids[i] = book.SnapshotLevel{Price: row.Price, Size: row.Size, ID: row.ID}
	}
	asks := make([]book.SnapshotLevel, len(msg.Asks))
	for i, row := range msg.Asks {
		asks[i] = book.SnapshotLevel{Price: row.Price, Size: row.Size, ID: row.ID}
	}
	b.ApplySnapshot(bids, asks)
	n.checkCrossed(msg.ProductID, b)
}

func (n *Normalizer) handleL2Update(frame []byte) {
	var msg l2UpdateMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("l2update", err, frame)
		return
	}
	if msg.ProductID == "" {
		n.dropParse("l2update", fmt.Errorf("missing product_id"), frame)
		return
	}
	b := n.bookFor(msg.ProductID)
	if b == nil {
		n.stats.IncDrop("l2update", "unknown_symbol")
		return
	}
	for _, change := range msg.Changes {
		b.ApplyL2(change.Side, change.Price, change.Size)
	}
	n.checkCrossed(msg.ProductID, b)
}

func (n *Normalizer) handleL3(msgType string, frame []byte) {
	var msg l3Msg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse(msgType, err, frame)
		return
	}
	if msg.ProductID == "" {
		n.dropParse(msgType, fmt.Errorf("missing product_id"), frame)
		return
	}
	b := n.bookFor(msg.ProductID)
	if b == nil {
		n.stats.IncDrop(msgType, "unknown_symbol")
		return
	}

	switch msgType {
	case "open", "received", "l3update":
		side, err := parseSide(msg.Side)
		if err != nil {
			n.dropParse(msgType, err, frame)
			return
		}
		if msg.OrderID == "" {
			n.dropParse(msgType, fmt.Errorf("missing order_id"), frame)
			return
		}
		if msg.Price == nil {
			n.dropParse(msgType, fmt.Errorf("missing price"), frame)
			return
		}
		if msg.Size == nil {
			n.dropParse(msgType, fmt.Errorf("missing size"), frame)
			return
		}
		if !b.ApplyL3(book.L3Open, msg.OrderID, side, *msg.Price, *msg.Size) {
			n.feedLog.Debug("duplicate order id on open", zap.String("order_id", msg.OrderID))
		}
	case "done":
		if msg.OrderID == "" {
			n.dropParse(msgType, fmt.Errorf("missing order_id"), frame)
			return
		}
		b.ApplyL3(book.L3Done, msg.OrderID, book.Buy, decimal.Zero, decimal.Zero)
	case "change":
		if msg.OrderID == "" {
			n.dropParse(msgType, fmt.Errorf("missing order_id"), frame)
			return
		}
		if msg.NewSize == nil {
			n.dropParse(msgType, fmt.Errorf("missing new_size"), frame)
			return
		}
		b.ApplyL3(book.L3Change, msg.OrderID, book.Buy, decimal.Zero, *msg.NewSize)
	case "match":
		if msg.MakerOrderID == "" {
			n.dropParse(msgType, fmt.Errorf("missing maker_order_id"), frame)
			return
		}
		if msg.Size == nil {
			n.dropParse(msgType, fmt.Errorf("missing size"), frame)
			return
		}
		if !b.ApplyL3(book.L3Match, msg.MakerOrderID, book.Buy, decimal.Zero, *msg.Size) {
			// Unknown maker id: a taker-only fill, or a stale id from
			// before a resync. Ignored, not fatal, but flagged as a
			// resync candidate.
			n.stats.IncResync(msg.ProductID, "unknown_maker")
		}
	}
	n.checkCrossed(msg.ProductID, b)
}

func (n *Normalizer) handleTicker(frame []byte) {
	var msg tickerMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("ticker", err, frame)
		return
	}
	if msg.ProductID == "" {
		n.dropParse("ticker", fmt.Errorf("missing product_id"), frame)
		return
	}
	n.mu.Lock()
	n.tickers[msg.ProductID] = TickerSummary{
		BestBid:     msg.BestBid.String(),
		BestBidSize: msg.BestBidSize.String(),
		BestAsk:     msg.BestAsk.String(),
		BestAskSize: msg.BestAskSize.String(),
	}
	n.mu.Unlock()
	// Deliberately does not touch the book: clearing it and inserting
	// synthetic orders here would discard live L2/L3 state whenever those
	// channels are also subscribed.
}

func (n *Normalizer) handleError(frame []byte) {
	var msg errorMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		n.dropParse("error", err, frame)
		return
	}
	n.log.Error("feed reported error", zap.String("message", msg.Message))
	n.stats.IncDrop("error", "upstream_error")
}

func (n *Normalizer) bookFor(symbol string) *book.OrderBook {
	b, ok := n.reg.Lookup(symbol)
	if !ok {
		n.feedLog.Debug("message for unsubscribed symbol", zap.String("symbol", symbol))
		return nil
	}
	return b
}

// checkCrossed treats an upstream-crossed book as a soft resync trigger:
// the affected book is cleared and left to the next snapshot.
func (n *Normalizer) checkCrossed(symbol string, b *book.OrderBook) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid.GreaterThan(ask) {
		n.log.Warn("crossed book from upstream, clearing for resync", zap.String("symbol", symbol))
		n.stats.IncResync(symbol, "crossed_book")
		b.Clear()
	}
}
