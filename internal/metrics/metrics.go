// Package metrics exposes the pipeline's Prometheus instrumentation: jobs
// processed/failed by phase, worker processing latency, and the
// controller's per-run symbol counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry holds every metric the pipeline exports.
type Registry struct {
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	RunSymbols    *prometheus.GaugeVec
	QueueDepth    prometheus.Gauge
}

// New builds every metric without registering it anywhere; MustRegister
// attaches them to a caller-supplied registry, so tests can construct
// isolated Registries without colliding on the global
// prometheus.DefaultRegisterer.
func New() *Registry {
	reg := &Registry{
		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "precompute_jobs_processed_total",
				Help: "Messages successfully processed, by phase.",
			},
			[]string{"phase"},
		),
		JobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "precompute_jobs_failed_total",
				Help: "Messages dead-lettered after exhausting all attempts, by phase.",
			},
			[]string{"phase"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "precompute_job_duration_seconds",
				Help:    "Wall-clock time to process one message, by phase.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
			},
			[]string{"phase"},
		),
		RunSymbols: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "precompute_run_symbols",
				Help: "Symbol counts for the current run, by outcome.",
			},
			[]string{"outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "precompute_queue_depth",
				Help: "Approximate number of messages visible or in flight on the work queue.",
			},
		),
	}
	return reg
}

// MustRegister registers every metric against reg, panicking on a
// duplicate registration — a startup-time programmer error, not a runtime
// condition to recover from.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.JobsProcessed, r.JobsFailed, r.JobDuration, r.RunSymbols, r.QueueDepth)
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
