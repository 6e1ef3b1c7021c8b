// Package metrics holds the private prometheus.Registry used for internal
// instrumentation (SPEC_FULL.md AMBIENT STACK / Metrics). It is deliberately
// disconnected from any external telemetry submission — spec.md places
// "result scoring, grade display, and telemetry submission" out of scope,
// and this package never pushes or exposes these gauges outside an
// optional local /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gauges/histograms/counters shared across
// components. One Registry exists per test run.
type Registry struct {
	prom *prometheus.Registry

	ActiveStreams    *prometheus.GaugeVec
	LatencyRTT       prometheus.Histogram
	PhaseTransitions *prometheus.CounterVec
}

// New builds a Registry with every metric registered.
func New() *Registry {
	prom := prometheus.NewRegistry()
	r := &Registry{
		prom: prom,
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bufferbloat_active_streams",
			Help: "Currently active streams by direction.",
		}, []string{"direction"}),
		LatencyRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bufferbloat_latency_rtt_ms",
			Help:    "Observed latency-probe RTT in milliseconds.",
			Buckets: []float64{5, 10, 20, 40, 80, 160, 320, 640, 1280},
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bufferbloat_phase_transitions_total",
			Help: "Count of phase start/end transitions by phase name.",
		}, []string{"phase", "event"}),
	}
	prom.MustRegister(r.ActiveStreams, r.LatencyRTT, r.PhaseTransitions)
	return r
}

// Registerer exposes the underlying prometheus.Registerer, e.g. for
// internal/throughput.New which registers its own gauge.
func (r *Registry) Registerer() prometheus.Registerer { return r.prom }

// Handler returns an http.Handler serving this registry in the standard
// Prometheus exposition format, for the optional local /metrics endpoint
// used in tests (never mounted on a public listener by this module).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
