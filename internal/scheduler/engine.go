package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/eventbus"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/metrics"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/repository"
)

// EngineConfig is the tunable set from spec.md §4.4.
type EngineConfig struct {
	SweepInterval           time.Duration
	ExecutionTolerance      time.Duration
	HealthCheckInterval     time.Duration
	TimerCleanupInterval    time.Duration
	MaxTimerDrift           time.Duration
	MaxConcurrentExecutions int
}

// DefaultEngineConfig returns the spec.md §4.4 defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SweepInterval:           1 * time.Minute,
		ExecutionTolerance:      30 * time.Second,
		HealthCheckInterval:     5 * time.Minute,
		TimerCleanupInterval:    10 * time.Minute,
		MaxTimerDrift:           2 * time.Minute,
		MaxConcurrentExecutions: 5,
	}
}

// overdueFireDelay is how far into the future an overdue task's timer is
// deferred rather than fired at delay zero (spec.md §4.4 start/scheduleTask,
// testable property 13, scenario S6).
const overdueFireDelay = time.Second

// deferredExecutionDelay is how far a timer fire is pushed out when the
// engine is already at MaxConcurrentExecutions in-flight executions
// (spec.md §4.4 timer-fire back-pressure).
const deferredExecutionDelay = 30 * time.Second

// timerRecord is one per-task installed timer (spec.md §4.4: "the engine
// maintains a timer per active task, keyed by task id").
type timerRecord struct {
	timer        *time.Timer
	scheduledFor time.Time
	installedAt  time.Time
}

// Engine is the scheduling engine from spec.md §4.4: a per-task-timer
// design (as opposed to a single shared heap) backed by a periodic sweep
// that reconciles the timer set against the repository, grounded on the
// teacher's dispatcher.go ticker-driven reconciliation loop and reaper.go's
// periodic stale-resource cleanup.
type Engine struct {
	repo     repository.TaskRepository
	executor *Executor
	bus      eventbus.Bus
	logger   *slog.Logger
	cfg      EngineConfig

	mu       sync.Mutex
	timers   map[string]*timerRecord
	inFlight map[string]struct{}

	running atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine constructs an Engine. bus may be nil.
func NewEngine(repo repository.TaskRepository, executor *Executor, bus eventbus.Bus, logger *slog.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		repo:     repo,
		executor: executor,
		bus:      bus,
		logger:   logger.With("component", "engine"),
		cfg:      cfg,
		timers:   make(map[string]*timerRecord),
		inFlight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

func (e *Engine) publish(subject string, payload any) {
	if e.bus != nil {
		e.bus.Publish(subject, payload)
	}
}

// Start loads every active task from the repository, installs its timer,
// and launches the periodic sweep, health-check, and timer-cleanup
// goroutines. It is idempotent: a second call is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		tasks, err := e.repo.FindActive(ctx)
		if err != nil {
			startErr = err
			return
		}
		for _, t := range tasks {
			e.scheduleTask(t)
		}

		e.wg.Add(3)
		go e.runLoop(ctx, e.cfg.SweepInterval, e.sweep)
		go e.runLoop(ctx, e.cfg.HealthCheckInterval, e.healthCheck)
		go e.runLoop(ctx, e.cfg.TimerCleanupInterval, e.timerCleanupAndRefresh)

		e.running.Store(true)
		e.logger.Info("engine started", "active_tasks", len(tasks))
	})
	return startErr
}

// Stop halts every background goroutine and cancels all installed timers.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()

		e.mu.Lock()
		for id, rec := range e.timers {
			rec.timer.Stop()
			delete(e.timers, id)
		}
		e.mu.Unlock()

		e.running.Store(false)
		e.logger.Info("engine stopped")
	})
}

func (e *Engine) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scheduleTask installs (or replaces) the timer for task, firing at its
// NextExecution. A task with a nil NextExecution (terminal, or unevaluable)
// has no timer installed, matching spec.md §4.2's invariant.
func (e *Engine) scheduleTask(task *domain.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unscheduleLocked(task.ID)

	if task.NextExecution == nil {
		return
	}

	fireAt := *task.NextExecution
	delay := time.Until(fireAt)
	if delay <= 0 {
		// Overdue: defer rather than fire at delay zero, so a backlog of
		// overdue tasks at startup doesn't all fire in the same instant.
		delay = overdueFireDelay
		fireAt = time.Now().Add(overdueFireDelay)
	}

	taskID := task.ID
	t := time.AfterFunc(delay, func() { e.onTimerFire(taskID) })
	e.timers[taskID] = &timerRecord{timer: t, scheduledFor: fireAt, installedAt: time.Now()}

	metrics.TimersTracked.Set(float64(len(e.timers)))
	metrics.TasksScheduledTotal.WithLabelValues(string(task.ActionKind)).Inc()
}

// UnscheduleTask cancels task's timer, if any (spec.md §4.4: used when a
// task is cancelled or completes out-of-band).
func (e *Engine) UnscheduleTask(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unscheduleLocked(taskID)
}

func (e *Engine) unscheduleLocked(taskID string) {
	if rec, ok := e.timers[taskID]; ok {
		rec.timer.Stop()
		delete(e.timers, taskID)
		metrics.TimersTracked.Set(float64(len(e.timers)))
	}
}

// RescheduleTask reinstalls the timer for task as passed in (expected already
// updated, e.g. after a schedule-expression edit); it does not re-read the
// task from the repository, and it installs a timer when none exists yet.
func (e *Engine) RescheduleTask(task *domain.Task) {
	e.scheduleTask(task)
}

// onTimerFire is the timer callback: it executes the task, records drift,
// reschedules for the next occurrence, and republishes to any other
// observer via the event bus (spec.md §4.4 "timer fire path").
func (e *Engine) onTimerFire(taskID string) {
	ctx := context.Background()

	e.mu.Lock()
	rec, ok := e.timers[taskID]
	delete(e.timers, taskID)
	e.mu.Unlock()
	if ok {
		metrics.TimersTracked.Set(float64(len(e.timers)))
		drift := time.Since(rec.scheduledFor)
		metrics.TimerDriftSeconds.Observe(drift.Seconds())
	}

	task, err := e.repo.FindByID(ctx, taskID)
	if err != nil {
		e.logger.Error("timer fire: load task", "task_id", taskID, "error", err)
		return
	}
	if task.Status != domain.StatusActive {
		return
	}

	e.mu.Lock()
	if len(e.inFlight) >= e.cfg.MaxConcurrentExecutions {
		e.mu.Unlock()
		deferred := time.Now().Add(deferredExecutionDelay)
		task.NextExecution = &deferred
		e.logger.Warn("timer fire: deferring, engine at max-concurrent-executions",
			"task_id", taskID, "in_flight", len(e.inFlight), "limit", e.cfg.MaxConcurrentExecutions)
		e.scheduleTask(task)
		return
	}
	e.inFlight[taskID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, taskID)
		e.mu.Unlock()
	}()

	e.publish("timerFired", timerFiredEvent{TaskID: taskID})
	result := e.executor.ExecuteTask(ctx, taskID, ExecuteOptions{})
	if result.Err != nil && result.Err != ErrExecutionInFlight {
		e.logger.Warn("timer-triggered execution did not succeed", "task_id", taskID, "error", result.Err)
	}

	task, err = e.repo.FindByID(ctx, taskID)
	if err != nil {
		e.logger.Error("timer fire: reload task", "task_id", taskID, "error", err)
		return
	}
	e.scheduleTask(task)
}

// sweep is the periodic reconciliation pass (spec.md §4.4): it loads every
// task due at or before now (plus tolerance) and executes any that somehow
// lack an installed timer — the defense-in-depth path for a timer that was
// never installed (e.g. after a restart race) or silently lost.
func (e *Engine) sweep(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := time.Now().Add(e.cfg.ExecutionTolerance)
	due, err := e.repo.FindByNextExecutionTimeBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("sweep: query due tasks", "error", err)
		return
	}

	for _, task := range due {
		if task.Status != domain.StatusActive {
			continue
		}
		e.mu.Lock()
		_, hasTimer := e.timers[task.ID]
		e.mu.Unlock()
		if hasTimer {
			continue
		}

		e.logger.Warn("sweep: executing task with no installed timer", "task_id", task.ID)
		result := e.executor.ExecuteTask(ctx, task.ID, ExecuteOptions{})
		if result.Err != nil && result.Err != ErrExecutionInFlight {
			e.logger.Warn("sweep-triggered execution did not succeed", "task_id", task.ID, "error", result.Err)
		}

		if refreshed, err := e.repo.FindByID(ctx, task.ID); err == nil {
			e.scheduleTask(refreshed)
		}
	}

	e.refreshSchedules(ctx)
}

// ExecuteDueTasks is the manual trigger spec.md §4.4 exposes to the
// operator HTTP surface's POST /execute-due.
func (e *Engine) ExecuteDueTasks(ctx context.Context) int {
	cutoff := time.Now().Add(e.cfg.ExecutionTolerance)
	due, err := e.repo.FindByNextExecutionTimeBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("execute-due: query due tasks", "error", err)
		return 0
	}

	ids := make([]string, 0, len(due))
	for _, t := range due {
		if t.Status == domain.StatusActive {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return 0
	}

	e.executor.ExecuteBatch(ctx, ids, 0, true)
	for _, id := range ids {
		if refreshed, err := e.repo.FindByID(ctx, id); err == nil {
			e.scheduleTask(refreshed)
		}
	}
	return len(ids)
}

// healthCheck is the body of the health-check-interval loop: it purges stale
// timers, then emits `healthCheck` carrying the active-task and
// tracked-timer counts (spec.md §4.6 consumes this).
func (e *Engine) healthCheck(ctx context.Context) {
	e.cleanupStaleTimers(ctx)

	active, err := e.repo.FindActive(ctx)
	if err != nil {
		e.logger.Error("health check: query active tasks", "error", err)
		return
	}

	e.mu.Lock()
	tracked := len(e.timers)
	e.mu.Unlock()

	e.publish("healthCheck", healthCheckEvent{ActiveTasks: len(active), TrackedTimers: tracked})
}

// cleanupStaleTimers purges any timer whose scheduled-for time has drifted
// more than MaxTimerDrift into the past without having fired — a symptom of
// a stuck goroutine or a clock jump, grounded on the teacher's reaper.go
// "stale resource" sweep.
func (e *Engine) cleanupStaleTimers(ctx context.Context) {
	now := time.Now()
	var stale []string

	e.mu.Lock()
	for id, rec := range e.timers {
		if now.Sub(rec.scheduledFor) > e.cfg.MaxTimerDrift {
			rec.timer.Stop()
			delete(e.timers, id)
			stale = append(stale, id)
		}
	}
	tracked := len(e.timers)
	e.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	metrics.TimersTracked.Set(float64(tracked))
	metrics.StaleTimersTotal.Add(float64(len(stale)))
	e.logger.Warn("purged stale timers", "count", len(stale), "task_ids", stale)

	for _, id := range stale {
		if task, err := e.repo.FindByID(ctx, id); err == nil && task.Status == domain.StatusActive {
			e.scheduleTask(task)
		}
	}
}

// timerCleanupAndRefresh is the body of the timer-cleanup-interval loop:
// spec.md §4.4 defines that interval as the engine's full-resync point, so
// it runs refreshSchedules. Stale-timer purging runs on the health-check
// interval (see healthCheck).
func (e *Engine) timerCleanupAndRefresh(ctx context.Context) {
	e.refreshSchedules(ctx)
}

// refreshSchedules is the full-resync reconciliation spec.md §4.4 mandates:
// every ACTIVE task whose installed timer's scheduled-for has drifted from
// the task's current next-execution-time is rescheduled, and every timer
// whose task id is no longer active is unscheduled. This is what keeps
// invariant |timers|+|in-flight| ≤ |active tasks| from ever being violated
// by a missed cancellation or an out-of-band edit.
func (e *Engine) refreshSchedules(ctx context.Context) {
	active, err := e.repo.FindActive(ctx)
	if err != nil {
		e.logger.Error("refresh schedules: query active tasks", "error", err)
		return
	}

	activeByID := make(map[string]*domain.Task, len(active))
	for _, t := range active {
		activeByID[t.ID] = t
	}

	e.mu.Lock()
	toReschedule := make([]*domain.Task, 0)
	toUnschedule := make([]string, 0)
	for id, rec := range e.timers {
		task, stillActive := activeByID[id]
		if !stillActive {
			toUnschedule = append(toUnschedule, id)
			continue
		}
		if task.NextExecution == nil || !task.NextExecution.Equal(rec.scheduledFor) {
			toReschedule = append(toReschedule, task)
		}
	}
	for _, task := range active {
		if _, hasTimer := e.timers[task.ID]; !hasTimer && task.NextExecution != nil {
			toReschedule = append(toReschedule, task)
		}
	}
	e.mu.Unlock()

	for _, id := range toUnschedule {
		e.UnscheduleTask(id)
	}
	for _, task := range toReschedule {
		e.scheduleTask(task)
	}
	if len(toUnschedule) > 0 || len(toReschedule) > 0 {
		e.logger.Info("refresh schedules reconciled timers",
			"unscheduled", len(toUnschedule), "rescheduled", len(toReschedule))
	}
}

// UpcomingFire is one entry of EngineStatus's next-5-upcoming-fires list.
type UpcomingFire struct {
	TaskID       string
	ScheduledFor time.Time
}

// EngineStatus is a point-in-time operator snapshot.
type EngineStatus struct {
	Running         bool
	TrackedTimers   int
	TimerTaskIDs    []string
	InFlightTaskIDs []string
	UpcomingFires   []UpcomingFire
}

func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	ids := make([]string, 0, len(e.timers))
	upcoming := make([]UpcomingFire, 0, len(e.timers))
	for id, rec := range e.timers {
		ids = append(ids, id)
		upcoming = append(upcoming, UpcomingFire{TaskID: id, ScheduledFor: rec.scheduledFor})
	}
	inFlight := make([]string, 0, len(e.inFlight))
	for id := range e.inFlight {
		inFlight = append(inFlight, id)
	}
	e.mu.Unlock()

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledFor.Before(upcoming[j].ScheduledFor)
	})
	if len(upcoming) > 5 {
		upcoming = upcoming[:5]
	}

	return EngineStatus{
		Running:         e.running.Load(),
		TrackedTimers:   len(ids),
		TimerTaskIDs:    ids,
		InFlightTaskIDs: inFlight,
		UpcomingFires:   upcoming,
	}
}

type timerFiredEvent struct {
	TaskID string
}

type healthCheckEvent struct {
	ActiveTasks   int
	TrackedTimers int
}

// ActiveTaskCount lets subscribers (internal/bootstrap) read the active
// count without importing this package's concrete event type.
func (e healthCheckEvent) ActiveTaskCount() int { return e.ActiveTasks }
