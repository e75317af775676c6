// Package metrics defines the Prometheus instrumentation for the engine,
// executor, health checker and operator HTTP surface, in the same shape as
// the teacher's internal/metrics package: a single "scheduler_"-namespaced
// var block, registered once at startup, served over /metrics by promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics

	TimersTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "engine_timers_tracked",
		Help:      "Number of per-task timers currently tracked by the engine.",
	})

	TasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "engine_tasks_in_flight",
		Help:      "Number of tasks whose execution the engine is currently tracking.",
	})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "engine_sweep_duration_seconds",
		Help:      "Time taken for one periodic due-task sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	StaleTimersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "engine_stale_timer_total",
		Help:      "Total timers purged by the health check for exceeding max-timer-drift.",
	})

	TimerDriftSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "engine_timer_drift_seconds",
		Help:      "Observed drift between a timer's scheduled-for and wall-clock now at fire time.",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	TasksScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "engine_tasks_scheduled_total",
		Help:      "Total per-task timer installs/cancels, by action.",
	}, []string{"action"})

	// Executor metrics

	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "executor_queue_length",
		Help:      "Number of executions currently waiting for an admission slot.",
	})

	QueueWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "executor_queue_wait_seconds",
		Help:      "Time an execution waited in queue before admission or rejection.",
		Buckets:   prometheus.DefBuckets,
	})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "executor_executions_total",
		Help:      "Total completed executions, by outcome.",
	}, []string{"outcome"})

	AttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "executor_attempt_duration_seconds",
		Help:      "Duration of a single action-dispatcher attempt.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"result"})

	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "executor_retries_total",
		Help:      "Total retry attempts issued by the executor.",
	})

	ConcurrencyInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "executor_concurrency_in_use",
		Help:      "Number of attempts currently holding an admission slot.",
	})

	// Bootstrap / health metrics

	HealthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "health_status",
		Help:      "Aggregate scheduler health: 1 if this status string is current, else 0.",
	}, []string{"status"})

	// Operator HTTP surface metrics (§9.6) — these are the only HTTP
	// metrics this repo carries, scoped to the operator endpoints, not a
	// rule-CRUD API.

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "Operator HTTP surface request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total operator HTTP surface requests.",
	}, []string{"method", "path", "status"})
)

// Register registers every metric above with the default Prometheus registerer.
func Register() {
	prometheus.MustRegister(
		TimersTracked,
		TasksInFlight,
		SweepDuration,
		StaleTimersTotal,
		TimerDriftSeconds,
		TasksScheduledTotal,
		QueueLength,
		QueueWaitDuration,
		ExecutionsTotal,
		AttemptDuration,
		RetriesTotal,
		ConcurrencyInUse,
		HealthStatus,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer returns an HTTP server exposing /metrics via promhttp.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
