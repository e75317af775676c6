package scheduler_test

import (
	"context"
	"sync"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
)

// fakeTaskRepository is an in-memory repository.TaskRepository, in the
// teacher's hand-rolled-fake style (no mocking framework).
type fakeTaskRepository struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newFakeTaskRepository(tasks ...*domain.Task) *fakeTaskRepository {
	r := &fakeTaskRepository{tasks: make(map[string]*domain.Task)}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *fakeTaskRepository) Save(_ context.Context, task *domain.Task) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return &cp, nil
}

func (r *fakeTaskRepository) FindByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepository) FindActive(_ context.Context) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.StatusActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepository) FindByUserID(_ context.Context, userID string) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepository) FindByNextExecutionTimeBefore(_ context.Context, cutoff time.Time) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.NextExecution != nil && !t.NextExecution.After(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

func (r *fakeTaskRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok, nil
}

// fakeDispatcher is a scriptable actiondispatcher.ActionDispatcher.
type fakeDispatcher struct {
	mu      sync.Mutex
	execute func(ctx context.Context, taskID string, kind domain.ActionKind, params domain.ActionParams, input actiondispatcher.ExecuteInput) (actiondispatcher.ExecuteResult, error)
	calls   int
}

func (d *fakeDispatcher) Execute(ctx context.Context, taskID string, kind domain.ActionKind, params domain.ActionParams, input actiondispatcher.ExecuteInput) (actiondispatcher.ExecuteResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.execute(ctx, taskID, kind, params, input)
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// newActiveTask builds an ACTIVE task whose NextExecution is forced to
// fireAt, independent of what its schedule expression would naturally
// compute next — tests need deterministic near-term fire times, not a
// real weekly cadence.
func newActiveTask(id string, fireAt time.Time) *domain.Task {
	expr, err := domain.NewScheduleExpression([]domain.Weekday{
		domain.Weekday(fireAt.Weekday()),
	}, domain.MustNewTime(fireAt.Hour(), fireAt.Minute()), "UTC")
	if err != nil {
		panic(err)
	}
	task, err := domain.NewArmSystemTask(id, "user-1", expr, domain.ArmModeAway, nil, fireAt.Add(-time.Hour))
	if err != nil {
		panic(err)
	}
	if err := task.Activate(fireAt.Add(-time.Hour)); err != nil {
		panic(err)
	}
	task.NextExecution = &fireAt
	return task
}
