package metrics

import (
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
)

// DecisionRecorded counts an allow or deny outcome.
func DecisionRecorded(operation string, allowed bool, tier domain.Tier) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	QuotaDecisionsTotal.WithLabelValues(operation, decision, string(tier)).Inc()
}

// OverrideApplied counts an administrative write.
func OverrideApplied(operation string) {
	QuotaOverridesTotal.WithLabelValues(operation).Inc()
}

// ConflictRetried counts one retry after ErrConcurrencyConflict.
func ConflictRetried(operation string) {
	QuotaConflictRetriesTotal.WithLabelValues(operation).Inc()
}

// OperationFinished records latency and, on failure, the error code.
func OperationFinished(operation string, start time.Time, err error) {
	QuotaOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		QuotaErrorsTotal.WithLabelValues(operation, domain.ErrorCode(err)).Inc()
	}
}

// ActionRecorded counts a billable action and its cost.
func ActionRecorded(a *domain.BillableAction) {
	BillableActionsTotal.WithLabelValues(string(a.Kind), string(a.Outcome)).Inc()
	if a.Cost > 0 {
		BillableActionCostTotal.WithLabelValues(string(a.Kind)).Add(float64(a.Cost))
	}
}

// JobCompleted records a successful scheduled run
func JobCompleted(job string, duration time.Duration) {
	SchedulerRunsTotal.WithLabelValues(job, "completed").Inc()
	SchedulerRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// JobFailed records a failed scheduled run
func JobFailed(job string, duration time.Duration) {
	SchedulerRunsTotal.WithLabelValues(job, "failed").Inc()
	SchedulerRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}
