package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TicksTotal       = prometheus.NewCounter(prometheus.CounterOpts{Name: "curator_ticks_total", Help: "Scheduler ticks"})
	RunsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "curator_runs_total", Help: "Task runs by platform and result state"}, []string{"platform", "state"})
	RunDuration      = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "curator_run_duration_seconds", Help: "Task run wall time", Buckets: prometheus.DefBuckets}, []string{"platform"})
	ItemsTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "curator_items_total", Help: "Items seen by outcome (fetched, filtered, delivered, duplicate)"}, []string{"outcome"})
	RunErrors        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "curator_run_errors_total", Help: "Run errors by stage and kind"}, []string{"stage", "kind"})
	RegistryErrors   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "curator_registry_errors_total", Help: "Task registry failures by operation"}, []string{"op"})
	PendingRecords   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "curator_pending_completions", Help: "Run completions waiting to be persisted"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "curator_runs_inflight", Help: "Task runs currently executing"})
	DedupPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "curator_dedup_pruned_total", Help: "Delivery records removed by retention"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			TicksTotal,
			RunsTotal,
			RunDuration,
			ItemsTotal,
			RunErrors,
			RegistryErrors,
			PendingRecords,
			InFlightGauge,
			DedupPrunedTotal,
		)
	})
}
