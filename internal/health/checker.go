// Package health implements the bootstrap aggregate health check from
// spec.md §4.6: a single rollup status derived from the engine's and
// executor's own status snapshots and the database's reachability, not a
// per-dependency ping report like the teacher's original checker.go.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/metrics"
)

// Status is the aggregate verdict spec.md §4.6 names.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Report is the full health payload returned to the operator HTTP surface.
type Report struct {
	Status        Status    `json:"status"`
	CheckedAt     time.Time `json:"checked_at"`
	DatabaseUp    bool      `json:"database_up"`
	TrackedTimers int       `json:"tracked_timers"`
	ActiveTasks   int       `json:"active_tasks"`
	InFlight      int       `json:"in_flight_executions"`
	QueueLength   int       `json:"queue_length"`
	Detail        string    `json:"detail,omitempty"`
}

// Checker aggregates engine/executor/database health into one verdict.
type Checker struct {
	db     Pinger
	logger *slog.Logger

	mu            chan struct{} // 1-buffered mutex guarding last*
	lastActive    int
	lastTracked   int
	lastInFlight  int
	lastQueueLen  int
}

// NewChecker constructs a Checker. Engine/executor snapshots are pushed in
// via Observe rather than pulled, so this package stays independent of
// internal/scheduler's concrete types (spec.md §6's bus-driven design: the
// engine's periodic `healthCheck` event is exactly this push).
func NewChecker(db Pinger, logger *slog.Logger) *Checker {
	c := &Checker{
		db:     db,
		logger: logger.With("component", "health"),
		mu:     make(chan struct{}, 1),
	}
	c.mu <- struct{}{}
	return c
}

// Observe records the latest engine/executor snapshot; the bootstrap's
// subscriber on the engine's `healthCheck` event calls it.
func (c *Checker) Observe(activeTasks, trackedTimers, inFlight, queueLength int) {
	<-c.mu
	c.lastActive = activeTasks
	c.lastTracked = trackedTimers
	c.lastInFlight = inFlight
	c.lastQueueLen = queueLength
	c.mu <- struct{}{}
}

// Check produces the aggregate Report spec.md §4.6 describes:
//   - error: the database itself is unreachable.
//   - unhealthy: tracked timers diverge from active tasks by more than one
//     (a systemic scheduling failure, not a single missed tick).
//   - degraded: the queue is backed up, meaning executions are falling
//     behind the admission rate.
//   - healthy: otherwise.
func (c *Checker) Check(ctx context.Context) Report {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := time.Now()
	report := Report{CheckedAt: now}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("database health check failed", "error", err)
		report.Status = StatusError
		report.Detail = err.Error()
		metrics.HealthStatus.Reset()
		metrics.HealthStatus.WithLabelValues(string(StatusError)).Set(1)
		return report
	}
	report.DatabaseUp = true

	<-c.mu
	report.ActiveTasks = c.lastActive
	report.TrackedTimers = c.lastTracked
	report.InFlight = c.lastInFlight
	report.QueueLength = c.lastQueueLen
	c.mu <- struct{}{}

	diff := report.ActiveTasks - report.TrackedTimers
	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff > 1:
		report.Status = StatusUnhealthy
		report.Detail = "tracked timer count diverges from active task count"
	case report.QueueLength > 0:
		report.Status = StatusDegraded
		report.Detail = "executor queue is backed up"
	default:
		report.Status = StatusHealthy
	}

	metrics.HealthStatus.Reset()
	metrics.HealthStatus.WithLabelValues(string(report.Status)).Set(1)
	return report
}

// Liveness is a cheap process-is-running probe, independent of Check's
// database round trip. The operator router does not serve it: GET /healthz
// serves Check, through bootstrap.Scheduler.HealthCheck.
func (c *Checker) Liveness(_ context.Context) Report {
	return Report{Status: StatusHealthy, CheckedAt: time.Now()}
}
