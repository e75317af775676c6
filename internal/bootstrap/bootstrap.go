// Package bootstrap wires the engine, executor, event bus, and health
// checker into one process lifecycle (spec.md §4.6), grounded on the
// teacher's cmd/scheduler/main.go wiring sequence but extracted into its
// own package so it can be started/stopped from a test harness as well as
// from main().
//
// The bootstrap is the one component in this repo that subscribes to the
// event bus rather than publishing to it (spec.md §6: "the engine and
// executor only publish; the bootstrap only subscribes"). Its exported Bus
// field is the host's entry point for the external lifecycle events a task
// API handler would publish after writing a task: ScheduleCreated,
// ScheduleUpdated, and ScheduleCancelled. The bootstrap forwards each to the
// engine's scheduleTask/rescheduleTask/unscheduleTask so a task created,
// edited, or cancelled after process start becomes scheduled without
// waiting for the next periodic sweep.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/eventbus"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/health"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/repository"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/scheduler"
)

// ScheduleCreatedEvent is published when a new task has been persisted and
// needs its timer installed for the first time.
type ScheduleCreatedEvent struct {
	Task *domain.Task
}

// ScheduleUpdatedEvent is published when an existing task's schedule
// expression, action, or next-execution time changed and its timer needs
// reinstalling.
type ScheduleUpdatedEvent struct {
	Task *domain.Task
}

// ScheduleCancelledEvent is published when a task has been cancelled or
// deleted and its timer needs tearing down.
type ScheduleCancelledEvent struct {
	TaskID string
}

// Scheduler is the top-level assembly spec.md §4.6 describes: construct the
// event bus, then the executor, then the engine, subscribe the health
// checker to the engine's periodic `healthCheck` event and the engine
// itself to the three external lifecycle subjects, and expose a single
// Start/Stop/HealthCheck surface to main() and to the operator HTTP layer.
type Scheduler struct {
	Bus      eventbus.Bus
	Executor *scheduler.Executor
	Engine   *scheduler.Engine
	Checker  *health.Checker

	logger       *slog.Logger
	unsubscribes []func()
}

// Options bundles the collaborators and tunables New needs.
type Options struct {
	Repo       repository.TaskRepository
	Dispatcher actiondispatcher.ActionDispatcher
	DB         health.Pinger
	Logger     *slog.Logger
	EngineCfg  scheduler.EngineConfig
	ExecCfg    scheduler.ExecutorConfig
}

// New assembles a Scheduler without starting any background goroutine.
func New(opts Options) *Scheduler {
	bus := eventbus.NewInMemoryBus()
	executor := scheduler.NewExecutor(opts.Dispatcher, opts.Repo, bus, opts.Logger, opts.ExecCfg)
	engine := scheduler.NewEngine(opts.Repo, executor, bus, opts.Logger, opts.EngineCfg)
	checker := health.NewChecker(opts.DB, opts.Logger)

	s := &Scheduler{
		Bus:      bus,
		Executor: executor,
		Engine:   engine,
		Checker:  checker,
		logger:   opts.Logger.With("component", "bootstrap"),
	}

	s.unsubscribes = []func(){
		bus.Subscribe("healthCheck", s.onHealthCheck),
		bus.Subscribe("ScheduleCreated", s.onScheduleCreated),
		bus.Subscribe("ScheduleUpdated", s.onScheduleUpdated),
		bus.Subscribe("ScheduleCancelled", s.onScheduleCancelled),
	}
	return s
}

// onHealthCheck feeds the engine's periodic snapshot into the health
// checker (spec.md §4.6: the checker's verdict is derived from the
// engine/executor's own state, pushed via the event bus rather than
// polled). The event's own payload carries the active-task count; the
// tracked-timer and in-flight/queue counts come straight off the engine
// and executor's own Status() snapshots.
func (s *Scheduler) onHealthCheck(evt eventbus.Event) {
	activeTasks := 0
	if p, ok := evt.Payload.(interface{ ActiveTaskCount() int }); ok {
		activeTasks = p.ActiveTaskCount()
	}

	engineStatus := s.Engine.Status()
	execStatus := s.Executor.Status()
	s.Checker.Observe(activeTasks, engineStatus.TrackedTimers, len(execStatus.ActiveIDs), execStatus.QueueLength)
}

// onScheduleCreated installs the timer for a newly-persisted task
// (spec.md §4.6 initialize: forward ScheduleCreated to scheduleTask).
func (s *Scheduler) onScheduleCreated(evt eventbus.Event) {
	payload, ok := evt.Payload.(ScheduleCreatedEvent)
	if !ok || payload.Task == nil {
		s.logger.Warn("ScheduleCreated: unexpected payload", "payload", evt.Payload)
		return
	}
	s.Engine.RescheduleTask(payload.Task)
}

// onScheduleUpdated reinstalls the timer for a task whose schedule, action,
// or next-execution time changed (spec.md §4.6 initialize: forward
// ScheduleUpdated to rescheduleTask).
func (s *Scheduler) onScheduleUpdated(evt eventbus.Event) {
	payload, ok := evt.Payload.(ScheduleUpdatedEvent)
	if !ok || payload.Task == nil {
		s.logger.Warn("ScheduleUpdated: unexpected payload", "payload", evt.Payload)
		return
	}
	s.Engine.RescheduleTask(payload.Task)
}

// onScheduleCancelled tears down the timer for a cancelled or deleted task
// (spec.md §4.6 initialize: forward ScheduleCancelled to unscheduleTask).
func (s *Scheduler) onScheduleCancelled(evt eventbus.Event) {
	payload, ok := evt.Payload.(ScheduleCancelledEvent)
	if !ok || payload.TaskID == "" {
		s.logger.Warn("ScheduleCancelled: unexpected payload", "payload", evt.Payload)
		return
	}
	s.Engine.UnscheduleTask(payload.TaskID)
}

// Start loads active tasks, installs their timers, and launches every
// background goroutine (spec.md §4.6 "bootstrap start").
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler")
	return s.Engine.Start(ctx)
}

// Stop drains in-flight executions (bounded by gracefulShutdownTimeout)
// then stops the engine's background goroutines.
func (s *Scheduler) Stop(gracefulShutdownTimeout time.Duration) {
	s.logger.Info("stopping scheduler")
	s.Executor.Shutdown(gracefulShutdownTimeout)
	s.Engine.Stop()
	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
}

// HealthCheck returns the current aggregate health report for the
// operator's GET /healthz.
func (s *Scheduler) HealthCheck(ctx context.Context) health.Report {
	return s.Checker.Check(ctx)
}

// Status returns the engine's point-in-time status for GET /status.
func (s *Scheduler) Status() scheduler.EngineStatus {
	return s.Engine.Status()
}

// ExecuteDueTasks triggers the manual sweep for POST /execute-due,
// returning how many tasks it executed.
func (s *Scheduler) ExecuteDueTasks(ctx context.Context) int {
	return s.Engine.ExecuteDueTasks(ctx)
}
