package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidTaskState = errors.New("task state rule violation")
)

// Status is a ScheduledTask's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Task is the persistent record driving one recurring action: spec.md §3.4.
type Task struct {
	ID             string
	UserID         string
	Expression     ScheduleExpression
	ActionKind     ActionKind
	ActionParams   ActionParams
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	NextExecution  *time.Time
	LastExecution  *time.Time
	ExecutionCount int
	FailureCount   int
	LastError      string
}

// NewArmSystemTask constructs a PENDING task that arms the security system.
// Factory constructors validate action-params up front (spec.md §4.2).
func NewArmSystemTask(id, userID string, expr ScheduleExpression, mode ArmMode, zoneIDs []string, now time.Time) (*Task, error) {
	kind, params, err := NewArmSystemAction(mode, zoneIDs)
	if err != nil {
		return nil, err
	}
	return newTask(id, userID, expr, kind, params, now)
}

// NewDisarmSystemTask constructs a PENDING task that disarms the security system.
func NewDisarmSystemTask(id, userID string, expr ScheduleExpression, zoneIDs []string, now time.Time) (*Task, error) {
	kind, params, err := NewDisarmSystemAction(zoneIDs)
	if err != nil {
		return nil, err
	}
	return newTask(id, userID, expr, kind, params, now)
}

func newTask(id, userID string, expr ScheduleExpression, kind ActionKind, params ActionParams, now time.Time) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidTaskState)
	}
	if err := params.Validate(kind); err != nil {
		return nil, err
	}
	return &Task{
		ID:           id,
		UserID:       userID,
		Expression:   expr,
		ActionKind:   kind,
		ActionParams: params,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// recomputeNextExecution refreshes NextExecution from Expression relative to
// now. If recomputation fails, the task transitions to FAILED with LastError
// set and NextExecution cleared (spec.md §4.2), and the failure is returned
// so callers can observe it — the state mutation has already happened.
func (t *Task) recomputeNextExecution(now time.Time) error {
	if t.Status.terminal() {
		t.NextExecution = nil
		return nil
	}
	next, err := t.Expression.NextFire(now)
	if err != nil {
		t.Status = StatusFailed
		t.LastError = err.Error()
		t.NextExecution = nil
		return err
	}
	t.NextExecution = &next
	return nil
}

// touch refreshes UpdatedAt and recomputes NextExecution, matching spec.md
// §4.2's "on every state-mutating operation" rule.
func (t *Task) touch(now time.Time) {
	t.UpdatedAt = now
	_ = t.recomputeNextExecution(now)
}

// Activate transitions PENDING or FAILED into ACTIVE. Rejected if the
// current status is terminal (spec.md §4.3).
func (t *Task) Activate(now time.Time) error {
	if t.Status.terminal() {
		return fmt.Errorf("%w: cannot activate a %s task", ErrInvalidTaskState, t.Status)
	}
	t.Status = StatusActive
	t.touch(now)
	return nil
}

// RecordSuccess records a successful execution at `at`: increments
// ExecutionCount, sets LastExecution, clears LastError, and — every
// well-formed expression is recurring (spec.md glossary) — recomputes
// NextExecution and remains ACTIVE.
func (t *Task) RecordSuccess(at time.Time) error {
	if t.Status != StatusActive {
		return fmt.Errorf("%w: cannot record success on a %s task", ErrInvalidTaskState, t.Status)
	}
	t.ExecutionCount++
	t.LastExecution = &at
	t.LastError = ""
	t.touch(at)
	return nil
}

// MarkFailed records a failed execution: increments ExecutionCount and
// FailureCount, sets LastError and LastExecution, transitions to FAILED, and
// clears NextExecution.
func (t *Task) MarkFailed(execErr error, at time.Time) error {
	if t.Status != StatusActive {
		return fmt.Errorf("%w: cannot mark failure on a %s task", ErrInvalidTaskState, t.Status)
	}
	t.ExecutionCount++
	t.FailureCount++
	if execErr != nil {
		t.LastError = execErr.Error()
	}
	t.LastExecution = &at
	t.Status = StatusFailed
	t.NextExecution = nil
	t.UpdatedAt = at
	return nil
}

// Cancel transitions any non-terminal task to CANCELLED.
func (t *Task) Cancel(reason string, now time.Time) error {
	if t.Status.terminal() {
		return fmt.Errorf("%w: cannot cancel a %s task", ErrInvalidTaskState, t.Status)
	}
	t.Status = StatusCancelled
	if reason != "" {
		t.LastError = reason
	}
	t.NextExecution = nil
	t.UpdatedAt = now
	return nil
}

// Complete transitions a non-recurring task to COMPLETED. No expression in
// this spec admits zero future fires, so nothing in the engine path calls
// this automatically; it exists for API completeness (spec.md §3.4).
func (t *Task) Complete(now time.Time) error {
	if t.Status.terminal() {
		return fmt.Errorf("%w: cannot complete a %s task", ErrInvalidTaskState, t.Status)
	}
	t.Status = StatusCompleted
	t.NextExecution = nil
	t.UpdatedAt = now
	return nil
}

// IsReadyForExecution reports whether the task is ACTIVE with a next-fire
// at or before now.
func (t *Task) IsReadyForExecution(now time.Time) bool {
	return t.Status == StatusActive && t.NextExecution != nil && !t.NextExecution.After(now)
}

// IsOverdue reports whether the task is ready and its next-fire is at or
// before now minus toleranceMinutes.
func (t *Task) IsOverdue(now time.Time, toleranceMinutes int) bool {
	if !t.IsReadyForExecution(now) {
		return false
	}
	cutoff := now.Add(-time.Duration(toleranceMinutes) * time.Minute)
	return !t.NextExecution.After(cutoff)
}
