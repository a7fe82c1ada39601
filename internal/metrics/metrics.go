// Package metrics exposes the Manager's Prometheus instrumentation:
// worker counts by type and state, task backlog, and liveness signals.
// Collectors live on a Registry instance rather than as package-level
// globals, so tests can stand up an isolated Manager without colliding
// with another test's metric names in the default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the Manager reports.
type Registry struct {
	reg *prometheus.Registry

	WorkersByState                 *prometheus.GaugeVec
	ReadyWorkers                   *prometheus.GaugeVec
	TaskQueueDepth                 *prometheus.GaugeVec
	SpawnFailuresTotal             *prometheus.CounterVec
	HeartbeatsSentTotal            prometheus.Counter
	ResultsPushedTotal             prometheus.Counter
	LastInterchangeContactSeconds  prometheus.Gauge
	DispatchTickDuration           prometheus.Histogram
}

// New creates a Registry with all collectors registered against a
// fresh prometheus.Registry (not the global DefaultRegisterer), so
// multiple Managers in one process — or one test run after another —
// never collide on metric name registration.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		WorkersByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tmgr_workers_total",
				Help: "Number of workers by task type and lifecycle state",
			},
			[]string{"type", "state"},
		),
		ReadyWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tmgr_ready_workers",
				Help: "Number of idle workers ready to accept a task, by type",
			},
			[]string{"type"},
		),
		TaskQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tmgr_task_queue_depth",
				Help: "Number of tasks queued awaiting dispatch, by type",
			},
			[]string{"type"},
		),
		SpawnFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmgr_spawn_failures_total",
				Help: "Total spawn failures observed, by type",
			},
			[]string{"type"},
		),
		HeartbeatsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tmgr_heartbeats_sent_total",
				Help: "Total heartbeat frames sent to the Interchange",
			},
		),
		ResultsPushedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tmgr_results_pushed_total",
				Help: "Total task results flushed to the Interchange",
			},
		),
		LastInterchangeContactSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tmgr_last_interchange_contact_seconds",
				Help: "Seconds since the last inbound frame from the Interchange",
			},
		),
		DispatchTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tmgr_dispatch_tick_duration_seconds",
				Help:    "Duration of one dispatch loop iteration",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	r.reg.MustRegister(
		r.WorkersByState,
		r.ReadyWorkers,
		r.TaskQueueDepth,
		r.SpawnFailuresTotal,
		r.HeartbeatsSentTotal,
		r.ResultsPushedTotal,
		r.LastInterchangeContactSeconds,
		r.DispatchTickDuration,
	)
	return r
}

// Handler serves the registry's metrics in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Timer measures an operation's duration against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time to a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
