// Package metrics provides a Prometheus-backed multiplex.Recorder, grounded
// on the prometheus/client_golang usage in the rest of the example pack.
// Importing this package is optional: the core multiplex package never
// imports Prometheus directly, only the Recorder interface it defines.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements multiplex.Recorder with three Prometheus collectors:
// a tick counter, an open-exchanges gauge, and an arena-in-use gauge.
type Recorder struct {
	ticks         prometheus.Counter
	openExchanges prometheus.Gauge
	arenaInUse    prometheus.Gauge
}

// New creates a Recorder and registers its collectors with reg. Labels
// (e.g. a connection or listener name) should be baked into reg's
// registration wrapper by the caller if more than one Multiplex shares a
// registry.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multiplex",
			Name:      "ticks_total",
			Help:      "Number of Tick calls executed.",
		}),
		openExchanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multiplex",
			Name:      "open_exchanges",
			Help:      "Number of exchanges currently tracked (not yet complete).",
		}),
		arenaInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multiplex",
			Name:      "arena_items_in_use",
			Help:      "Number of body-stream items currently buffered in the FrameBuf arena.",
		}),
	}
	reg.MustRegister(r.ticks, r.openExchanges, r.arenaInUse)
	return r
}

func (r *Recorder) Tick() { r.ticks.Inc() }

func (r *Recorder) ExchangeOpened() { r.openExchanges.Inc() }

func (r *Recorder) ExchangeClosed() { r.openExchanges.Dec() }

func (r *Recorder) ArenaInUse(n int) { r.arenaInUse.Set(float64(n)) }
