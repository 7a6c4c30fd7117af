// Package registry maps trading symbols to their order book, creating and
// tearing them down as the feed session subscribes and unsubscribes.
package registry

import (
	"sync"

	"clobbook/internal/book"
)

// Handle is a reference-counted hold on a symbol's book. Readers that
// acquire a Handle are guaranteed the underlying OrderBook stays alive even
// if Unsubscribe runs concurrently; the book is only actually discarded once
// every outstanding Handle has been released.
type Handle struct {
	reg    *Registry
	symbol string
	book   *book.OrderBook
}

// Book returns the held order book.
func (h *Handle) Book() *book.OrderBook { return h.book }

// Release gives up this handle. Once the last handle on an unsubscribed
// symbol is released, the entry is dropped from the registry.
func (h *Handle) Release() {
	h.reg.release(h.symbol)
}

type entry struct {
	book         *book.OrderBook
	refs         int
	unsubscribed bool
}

// Registry owns the symbol -> OrderBook mapping for one feed session. It has
// its own lock, independent of any individual book's lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Subscribe creates the book for symbol if it doesn't already exist and
// returns it. Calling Subscribe again for a symbol that is already present
// returns the existing book unchanged.
func (r *Registry) Subscribe(symbol string) *book.OrderBook {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[symbol]
	if !ok {
		e = &entry{book: book.New(symbol)}
		r.entries[symbol] = e
	}
	e.unsubscribed = false
	return e.book
}

// Unsubscribe marks symbol for removal. If no Handle is currently
// outstanding, the book is dropped immediately; otherwise it is dropped when
// the last outstanding Handle calls Release.
func (r *Registry) Unsubscribe(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[symbol]
	if !ok {
		return
	}
	e.unsubscribed = true
	if e.refs == 0 {
		delete(r.entries, symbol)
	}
}

// Acquire returns a reference-counted Handle on symbol's book, or ok=false
// if the symbol is not (or no longer) subscribed.
func (r *Registry) Acquire(symbol string) (h *Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[symbol]
	if !ok || e.unsubscribed {
		return nil, false
	}
	e.refs++
	return &Handle{reg: r, symbol: symbol, book: e.book}, true
}

func (r *Registry) release(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[symbol]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 && e.unsubscribed {
		delete(r.entries, symbol)
	}
}

// Symbols lists every currently subscribed symbol.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for symbol, e := range r.entries {
		if !e.unsubscribed {
			out = append(out, symbol)
		}
	}
	return out
}

// Lookup returns the book for symbol without reference counting, for
// internal callers (the normalizer) that apply updates synchronously on the
// feed's own goroutine and never outlive the registry itself.
func (r *Registry) Lookup(symbol string) (*book.OrderBook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[symbol]
	if !ok || e.unsubscribed {
		return nil, false
	}
	return e.book, true
}

// Clear resets every subscribed book, used when a session-wide resync (e.g.
// a reconnect) needs every book to await its next snapshot.
func (r *Registry) Clear() {
	r.mu.Lock()
	symbols := make([]*book.OrderBook, 0, len(r.entries))
	for _, e := range r.entries {
		symbols = append(symbols, e.book)
	}
	r.mu.Unlock()

	for _, b := range symbols {
		b.Clear()
	}
}
