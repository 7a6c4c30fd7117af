// Package publisher exposes a thread-safe, read-mostly view of a book's
// levels and derived metrics for downstream consumers (renderers, HTTP
// handlers) that must never tear a reader's frame across a concurrent
// write.
package publisher

import (
	"sync"
	"sync/atomic"

	"clobbook/internal/book"
	"clobbook/internal/metrics"
	"clobbook/internal/registry"
)

// Snapshot is one consistent read of a book: its top-N levels plus the
// sequence number in effect when it was taken, so a consumer can tell
// whether a separately recomputed value is stale.
type Snapshot struct {
	Symbol  string
	Bids    []book.LevelSnapshot
	Asks    []book.LevelSnapshot
	Seq     uint64
	Metrics metrics.Metrics
}

// Publisher wraps one OrderBook with a monotonic sequence counter bumped on
// every mutation, via the book's own update callback.
type Publisher struct {
	b   *book.OrderBook
	seq uint64
}

// New wires a Publisher to b, installing b's update callback. b must not
// already have a callback installed by another publisher.
func New(b *book.OrderBook) *Publisher {
	p := &Publisher{b: b}
	b.SetUpdateCallback(func() {
		atomic.AddUint64(&p.seq, 1)
	})
	return p
}

// Seq returns the current mutation sequence number.
func (p *Publisher) Seq() uint64 { return atomic.LoadUint64(&p.seq) }

// Snapshot takes a single consistent read of the top depth levels on each
// side plus their derived microstructure metrics.
func (p *Publisher) Snapshot(depth int) Snapshot {
	bids, asks := p.b.Levels(depth)
	seq := p.Seq()
	return Snapshot{
		Symbol:  p.b.Symbol(),
		Bids:    bids,
		Asks:    asks,
		Seq:     seq,
		Metrics: metrics.Compute(bids, asks),
	}
}

// Set lazily builds one Publisher per symbol backed by a shared Registry,
// so an HTTP handler or renderer can ask for a symbol's snapshot without
// knowing when it was first subscribed.
type Set struct {
	reg *registry.Registry

	mu         sync.Mutex
	publishers map[string]*Publisher
}

// NewSet wraps reg with per-symbol publisher caching.
func NewSet(reg *registry.Registry) *Set {
	return &Set{reg: reg, publishers: make(map[string]*Publisher)}
}

// Snapshot returns depth levels and metrics for symbol, or ok=false if
// symbol is not currently subscribed.
func (s *Set) Snapshot(symbol string, depth int) (Snapshot, bool) {
	b, ok := s.reg.Lookup(symbol)
	if !ok {
		return Snapshot{}, false
	}

	s.mu.Lock()
	p, ok := s.publishers[symbol]
	if !ok || p.b != b {
		// Either the first snapshot for this symbol, or an unsubscribe
		// followed by a resubscribe handed the registry a new OrderBook
		// under the same symbol: rebind instead of serving the old,
		// stale book forever.
		p = New(b)
		s.publishers[symbol] = p
	}
	s.mu.Unlock()

	return p.Snapshot(depth), true
}

// Symbols lists every symbol currently available for snapshotting.
func (s *Set) Symbols() []string { return s.reg.Symbols() }
