// Package actiondispatcher declares the contract the executor calls to
// perform a task's action. The action implementations themselves ("arm
// system", "disarm system") are external collaborators per spec.md §1; this
// package only fixes the interface shape and a log-only default used where
// no real dispatcher is wired, mirroring the teacher's internal/email
// package split between a LogSender (ENV=local) and a real sender.
package actiondispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
)

// ExecuteInput carries the per-attempt parameters spec.md §6 documents.
type ExecuteInput struct {
	ExecutionTime time.Time
	IgnoreOverdue bool
}

// ExecuteResult is the per-attempt outcome.
type ExecuteResult struct {
	Success bool
	Detail  string
}

// Retryable classifies whether an error returned by a dispatcher should be
// retried. An error may optionally implement Classifier to give the
// executor a typed answer instead of falling back to substring matching
// (spec.md §9 "prefer a typed error taxonomy").
type Retryable int

const (
	RetryableUnknown Retryable = iota
	RetryableYes
	RetryableNo
	RetryableTimeout
)

// Classifier is implemented by action-dispatcher errors that know their own
// retry classification.
type Classifier interface {
	Classification() Retryable
}

// ActionDispatcher is the external action dispatcher contract (spec.md §6):
// execute(task-id, {executionTime, ignoreOverdue}) -> {success, ...}. Error
// returns and thrown errors (via panic-recover at the executor boundary) are
// both permitted and handled by the executor's retry policy.
type ActionDispatcher interface {
	Execute(ctx context.Context, taskID string, kind domain.ActionKind, params domain.ActionParams, input ExecuteInput) (ExecuteResult, error)
}

// LogDispatcher logs the action instead of performing it — used where no
// real action implementation is wired (local dev, tests), the same role the
// teacher's email.LogSender plays for ENV=local.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher returns a dispatcher that always succeeds after logging.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("component", "log_dispatcher")}
}

func (d *LogDispatcher) Execute(ctx context.Context, taskID string, kind domain.ActionKind, params domain.ActionParams, input ExecuteInput) (ExecuteResult, error) {
	d.logger.InfoContext(ctx, "dispatching action (local dev, no-op)",
		"task_id", taskID,
		"action_kind", kind,
		"execution_time", input.ExecutionTime,
	)
	return ExecuteResult{Success: true, Detail: "logged, not executed"}, nil
}
