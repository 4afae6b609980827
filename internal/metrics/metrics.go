package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lectgen"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Quota engine metrics. Labels stay at tier granularity; account ids would
// explode cardinality.
var (
	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Entitlement decisions by outcome and effective tier",
		},
		[]string{"operation", "decision", "tier"},
	)

	QuotaOverridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_overrides_total",
			Help:      "Administrative quota overrides",
		},
		[]string{"operation"},
	)

	QuotaConflictRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_conflict_retries_total",
			Help:      "Atomic writes retried after a concurrent conflict",
		},
		[]string{"operation"},
	)

	QuotaErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_errors_total",
			Help:      "Quota operations that ended in an error, by error code",
		},
		[]string{"operation", "code"},
	)

	QuotaOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_operation_duration_seconds",
			Help:      "Latency of quota operations including retries",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Billable action metrics
var (
	BillableActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billable_actions_total",
			Help:      "Billable actions recorded",
		},
		[]string{"kind", "outcome"},
	)

	BillableActionCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billable_action_cost_total",
			Help:      "Total cost (tokens) of recorded billable actions",
		},
		[]string{"kind"},
	)
)

// Scheduler metrics
var (
	SchedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled job runs by job and status",
		},
		[]string{"job", "status"},
	)

	SchedulerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_run_duration_seconds",
			Help:      "Scheduled job execution time distribution",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)

	CycleSweepResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_sweep_resets_total",
			Help:      "Stale counters reset by the batch cycle sweep",
		},
	)
)
