package bootstrap_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/bootstrap"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/health"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/scheduler"
)

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

type fakeDispatcher struct{}

func (fakeDispatcher) Execute(context.Context, string, domain.ActionKind, domain.ActionParams, actiondispatcher.ExecuteInput) (actiondispatcher.ExecuteResult, error) {
	return actiondispatcher.ExecuteResult{Success: true}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

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

func testOptions(repo *fakeTaskRepository, db health.Pinger) bootstrap.Options {
	engineCfg := scheduler.DefaultEngineConfig()
	engineCfg.SweepInterval = time.Hour
	engineCfg.HealthCheckInterval = 20 * time.Millisecond
	engineCfg.TimerCleanupInterval = time.Hour

	execCfg := scheduler.DefaultExecutorConfig()
	execCfg.MaxConcurrentTasks = 2

	return bootstrap.Options{
		Repo:       repo,
		Dispatcher: fakeDispatcher{},
		DB:         db,
		Logger:     slog.Default(),
		EngineCfg:  engineCfg,
		ExecCfg:    execCfg,
	}
}

func TestNew_AssemblesWithoutStarting(t *testing.T) {
	repo := newFakeTaskRepository()
	s := bootstrap.New(testOptions(repo, fakePinger{}))

	status := s.Status()
	if status.TrackedTimers != 0 {
		t.Fatalf("TrackedTimers = %d, want 0 before Start", status.TrackedTimers)
	}
}

func TestStart_InstallsTimersForActiveTasks(t *testing.T) {
	task := newActiveTask("task-1", time.Now().Add(time.Hour))
	repo := newFakeTaskRepository(task)
	s := bootstrap.New(testOptions(repo, fakePinger{}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(time.Second)

	if got := s.Status().TrackedTimers; got != 1 {
		t.Fatalf("TrackedTimers = %d, want 1", got)
	}
}

func TestHealthCheck_ReflectsEngineAndExecutorSnapshots(t *testing.T) {
	task := newActiveTask("task-1", time.Now().Add(time.Hour))
	repo := newFakeTaskRepository(task)
	s := bootstrap.New(testOptions(repo, fakePinger{}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(time.Second)

	deadline := time.After(2 * time.Second)
	for {
		report := s.HealthCheck(context.Background())
		if report.TrackedTimers == 1 && report.Status == health.StatusHealthy {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("health check never reflected the engine snapshot, last report: %+v", report)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealthCheck_ErrorsWhenDatabaseUnreachable(t *testing.T) {
	repo := newFakeTaskRepository()
	s := bootstrap.New(testOptions(repo, fakePinger{err: context.DeadlineExceeded}))

	report := s.HealthCheck(context.Background())
	if report.Status != health.StatusError {
		t.Fatalf("Status = %q, want error", report.Status)
	}
}

func TestBus_ScheduleCreated_InstallsTimer(t *testing.T) {
	repo := newFakeTaskRepository()
	s := bootstrap.New(testOptions(repo, fakePinger{}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(time.Second)

	task := newActiveTask("task-1", time.Now().Add(time.Hour))
	if _, err := repo.Save(context.Background(), task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Bus.Publish("ScheduleCreated", bootstrap.ScheduleCreatedEvent{Task: task})

	deadline := time.After(time.Second)
	for s.Status().TrackedTimers != 1 {
		select {
		case <-deadline:
			t.Fatalf("TrackedTimers = %d, want 1 after ScheduleCreated", s.Status().TrackedTimers)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBus_ScheduleUpdated_ReinstallsTimer(t *testing.T) {
	task := newActiveTask("task-1", time.Now().Add(time.Hour))
	repo := newFakeTaskRepository(task)
	s := bootstrap.New(testOptions(repo, fakePinger{}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(time.Second)

	newFireAt := time.Now().Add(2 * time.Hour)
	task.NextExecution = &newFireAt
	if _, err := repo.Save(context.Background(), task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Bus.Publish("ScheduleUpdated", bootstrap.ScheduleUpdatedEvent{Task: task})

	deadline := time.After(time.Second)
	for {
		status := s.Status()
		if len(status.UpcomingFires) == 1 && status.UpcomingFires[0].ScheduledFor.Equal(newFireAt) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("ScheduleUpdated never reinstalled the timer, got %+v", status.UpcomingFires)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBus_ScheduleCancelled_RemovesTimer(t *testing.T) {
	task := newActiveTask("task-1", time.Now().Add(time.Hour))
	repo := newFakeTaskRepository(task)
	s := bootstrap.New(testOptions(repo, fakePinger{}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(time.Second)

	if got := s.Status().TrackedTimers; got != 1 {
		t.Fatalf("TrackedTimers = %d, want 1 before cancellation", got)
	}
	s.Bus.Publish("ScheduleCancelled", bootstrap.ScheduleCancelledEvent{TaskID: task.ID})

	deadline := time.After(time.Second)
	for s.Status().TrackedTimers != 0 {
		select {
		case <-deadline:
			t.Fatalf("TrackedTimers = %d, want 0 after ScheduleCancelled", s.Status().TrackedTimers)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecuteDueTasks_RunsDueTaskAndReschedules(t *testing.T) {
	task := newActiveTask("task-1", time.Now().Add(-time.Minute))
	repo := newFakeTaskRepository(task)
	s := bootstrap.New(testOptions(repo, fakePinger{}))

	count := s.ExecuteDueTasks(context.Background())
	if count != 1 {
		t.Fatalf("ExecuteDueTasks = %d, want 1", count)
	}

	saved, err := repo.FindByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if saved.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1", saved.ExecutionCount)
	}
	if got := s.Status().TrackedTimers; got != 1 {
		t.Errorf("TrackedTimers = %d, want 1 after the executed task is rescheduled", got)
	}
}
