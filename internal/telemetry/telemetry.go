// Package telemetry exports book and feed health as Prometheus metrics,
// grounded on the pack's internal/infra/metrics pattern: package-level
// collectors registered once into a dedicated Registry, handed to an HTTP
// handler by the caller.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clobbook/internal/metrics"
	"clobbook/internal/registry"
)

var (
	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "clobbook_parse_errors_total", Help: "Dropped, unparseable feed messages by message type"},
		[]string{"type"},
	)
	DroppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "clobbook_dropped_messages_total", Help: "Messages dropped after parsing by type and reason"},
		[]string{"type", "reason"},
	)
	ResyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "clobbook_resyncs_total", Help: "Soft resync triggers by symbol and reason"},
		[]string{"symbol", "reason"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "clobbook_reconnects_total", Help: "Feed session reconnects"},
	)
	BookOrderCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "clobbook_book_order_count", Help: "Resting order count by symbol"},
		[]string{"symbol"},
	)
	BookSpreadBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "clobbook_book_spread_bps", Help: "Current spread in basis points by symbol"},
		[]string{"symbol"},
	)
)

// Stats implements feed.Stats, wiring the normalizer's counters into the
// package-level Prometheus collectors above.
type Stats struct{}

func (Stats) IncParseError(msgType string) {
	ParseErrorsTotal.WithLabelValues(msgType).Inc()
}

func (Stats) IncDrop(msgType, reason string) {
	DroppedMessagesTotal.WithLabelValues(msgType, reason).Inc()
}

func (Stats) IncResync(symbol, reason string) {
	ResyncsTotal.WithLabelValues(symbol, reason).Inc()
}

// Init registers every collector above plus the standard Go/process
// collectors into a fresh Registry.
func Init() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		ParseErrorsTotal, DroppedMessagesTotal, ResyncsTotal, ReconnectsTotal,
		BookOrderCount, BookSpreadBps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	return reg
}

// Handler serves the registry's metrics in the Prometheus exposition
// format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveBooks refreshes the book-derived gauges for every symbol currently
// tracked by reg. Called on a fixed interval from the owning process; it
// takes one reference-counted Handle per symbol so it never races an
// Unsubscribe tearing down a book mid-read.
func ObserveBooks(reg *registry.Registry) {
	for _, symbol := range reg.Symbols() {
		h, ok := reg.Acquire(symbol)
		if !ok {
			continue
		}
		bids, asks := h.Book().Levels(1)
		m := metrics.Compute(bids, asks)
		BookOrderCount.WithLabelValues(symbol).Set(float64(h.Book().OrderCount()))
		if m.Available {
			spreadBps, _ := m.SpreadBps.Float64()
			BookSpreadBps.WithLabelValues(symbol).Set(spreadBps)
		}
		h.Release()
	}
}
