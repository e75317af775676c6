package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/eventbus"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/metrics"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/repository"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/requestid"
	"github.com/google/uuid"
)

// Errors surfaced as non-success results rather than propagated (spec.md §7
// items 7/8): the caller always gets an ExecuteTaskResult, never a bare error
// from ExecuteTask.
var (
	ErrExecutorShuttingDown = errors.New("executor is shutting down")
	ErrExecutionInFlight    = errors.New("task already has an execution in flight")
	ErrQueueTimeout         = errors.New("queue admission timed out")
)

// ExecutorConfig is the tunable set from spec.md §4.5, every option bounded
// and snapped rather than rejected (see config.Config).
type ExecutorConfig struct {
	MaxConcurrentTasks      int
	DefaultTimeout          time.Duration
	MaxRetries              int
	RetryDelayBase          time.Duration
	RetryDelayMax           time.Duration
	QueueTimeout            time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultExecutorConfig returns the spec.md §4.5 defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrentTasks:      3,
		DefaultTimeout:          5 * time.Minute,
		MaxRetries:              3,
		RetryDelayBase:          1 * time.Second,
		RetryDelayMax:           30 * time.Second,
		QueueTimeout:            10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ExecuteOptions overrides per call; zero fields fall back to the executor's
// configured defaults.
type ExecuteOptions struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryOnTimeout *bool // nil means true, spec.md §4.5 default
}

func (o ExecuteOptions) retryOnTimeout() bool {
	if o.RetryOnTimeout == nil {
		return true
	}
	return *o.RetryOnTimeout
}

// ExecuteTaskResult is what ExecuteTask always returns — never a bare error.
type ExecuteTaskResult struct {
	Success      bool
	StartedAt    time.Time
	CurrentRetry int
	TotalRetries int
	Err          error
}

// executionRecord tracks one task's in-progress logical execution, spanning
// every attempt and the backoff waits between them. It is the structure
// queried by "already in-flight" and by Status()'s in-flight id list.
type executionRecord struct {
	taskID    string
	attempt   int
	startedAt time.Time
}

// Executor is the bounded concurrent runner from spec.md §4.5. Admission is
// governed by a counting semaphore sized MaxConcurrentTasks; a task occupies
// a semaphore slot only while an attempt's dispatcher call is actually in
// flight and releases it during backoff waits, so other tasks' attempts can
// use the slot meanwhile (spec.md: "the id is temporarily released from
// in-flight so the slot can be reused"). A separate `active` registry tracks
// the whole multi-attempt execution per task-id and is what prevents two
// overlapping executions of the same task (spec.md §8 properties 5 and 6).
type Executor struct {
	dispatcher actiondispatcher.ActionDispatcher
	repo       repository.TaskRepository
	bus        eventbus.Bus
	logger     *slog.Logger
	cfg        ExecutorConfig

	sem chan struct{}

	mu           sync.Mutex
	active       map[string]*executionRecord
	shuttingDown bool
	activeWG     sync.WaitGroup

	queueLen int32
}

// NewExecutor constructs an Executor. bus may be nil (events are dropped).
func NewExecutor(dispatcher actiondispatcher.ActionDispatcher, repo repository.TaskRepository, bus eventbus.Bus, logger *slog.Logger, cfg ExecutorConfig) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		repo:       repo,
		bus:        bus,
		logger:     logger.With("component", "executor"),
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrentTasks),
		active:     make(map[string]*executionRecord),
	}
}

func (e *Executor) publish(subject string, payload any) {
	if e.bus != nil {
		e.bus.Publish(subject, payload)
	}
}

// ExecuteTask runs the full multi-attempt execution for taskID: spec.md
// §4.5 executeTask. It blocks until the execution resolves (success, final
// failure, queue timeout, or rejection) — callers that want concurrency
// across tasks invoke it from their own goroutine, the same way the
// teacher's Worker.processBatch launches one goroutine per claimed job.
func (e *Executor) ExecuteTask(ctx context.Context, taskID string, overrides ExecuteOptions) ExecuteTaskResult {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return ExecuteTaskResult{Success: false, Err: ErrExecutorShuttingDown}
	}
	if rec, ok := e.active[taskID]; ok {
		e.mu.Unlock()
		return ExecuteTaskResult{
			Success:      false,
			StartedAt:    rec.startedAt,
			CurrentRetry: rec.attempt,
			Err:          ErrExecutionInFlight,
		}
	}
	rec := &executionRecord{taskID: taskID, startedAt: time.Now()}
	e.active[taskID] = rec
	e.activeWG.Add(1)
	e.mu.Unlock()

	metrics.TasksInFlight.Set(float64(e.activeCount()))
	defer func() {
		e.mu.Lock()
		delete(e.active, taskID)
		e.mu.Unlock()
		metrics.TasksInFlight.Set(float64(e.activeCount()))
		e.activeWG.Done()
	}()

	timeout := overrides.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	maxRetries := overrides.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	result := e.runAttempts(ctx, rec, timeout, maxRetries, overrides.retryOnTimeout())
	return result
}

func (e *Executor) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// runAttempts drives attempts 0..maxRetries, re-admitting through the
// semaphore before each one, sleeping an exponential-backoff delay between
// a retryable failure and the next attempt.
func (e *Executor) runAttempts(ctx context.Context, rec *executionRecord, timeout time.Duration, maxRetries int, retryOnTimeout bool) ExecuteTaskResult {
	totalRetries := 0

	for attempt := 0; ; attempt++ {
		e.mu.Lock()
		rec.attempt = attempt
		e.mu.Unlock()

		admitted, queueWait := e.acquire(ctx)
		if !admitted {
			return ExecuteTaskResult{Success: false, StartedAt: rec.startedAt, CurrentRetry: attempt, TotalRetries: totalRetries, Err: ErrQueueTimeout}
		}
		metrics.QueueWaitDuration.Observe(queueWait.Seconds())
		metrics.ConcurrencyInUse.Set(float64(len(e.sem)))

		task, err := e.repo.FindByID(ctx, rec.taskID)
		if err != nil {
			e.release()
			return ExecuteTaskResult{Success: false, StartedAt: rec.startedAt, CurrentRetry: attempt, TotalRetries: totalRetries, Err: fmt.Errorf("find task: %w", err)}
		}

		reqID := uuid.NewString()
		attemptCtx := requestid.WithRequestID(ctx, reqID)
		e.publish("executionStarted", executionStartedEvent{TaskID: rec.taskID, Attempt: attempt, RequestID: reqID})

		outcome, attemptErr := e.runOneAttempt(attemptCtx, task, timeout)
		e.release()
		metrics.ConcurrencyInUse.Set(float64(len(e.sem)))

		if attemptErr == nil {
			e.finishSuccess(ctx, task, outcome)
			metrics.ExecutionsTotal.WithLabelValues("success").Inc()
			e.publish("executionCompleted", executionCompletedEvent{TaskID: rec.taskID, Success: true, TotalRetries: totalRetries})
			return ExecuteTaskResult{Success: true, StartedAt: rec.startedAt, CurrentRetry: attempt, TotalRetries: totalRetries}
		}

		class := classify(attemptErr)
		retriesLeft := attempt < maxRetries
		shouldRetry := retriesLeft && class != actiondispatcher.RetryableNo &&
			!(class == actiondispatcher.RetryableTimeout && !retryOnTimeout)

		if !shouldRetry {
			e.finishFailure(ctx, task, attemptErr)
			outcome := "failed"
			if class == actiondispatcher.RetryableTimeout {
				outcome = "timed_out"
			}
			metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
			e.publish("executionCompleted", executionCompletedEvent{TaskID: rec.taskID, Success: false, TotalRetries: totalRetries, Err: attemptErr.Error()})
			return ExecuteTaskResult{Success: false, StartedAt: rec.startedAt, CurrentRetry: attempt, TotalRetries: totalRetries, Err: attemptErr}
		}

		totalRetries++
		metrics.RetriesTotal.Inc()
		delay := retryDelay(e.cfg.RetryDelayBase, e.cfg.RetryDelayMax, attempt)
		e.publish("executionRetry", executionRetryEvent{TaskID: rec.taskID, Delay: delay, NextAttempt: attempt + 1})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.finishFailure(ctx, task, ctx.Err())
			return ExecuteTaskResult{Success: false, StartedAt: rec.startedAt, CurrentRetry: attempt, TotalRetries: totalRetries, Err: ctx.Err()}
		}
	}
}

// acquire blocks for a semaphore slot, queueing (and counting toward the
// queue-length gauge) if none is immediately available, bounded by
// QueueTimeout. Returns whether admission succeeded and how long it waited.
func (e *Executor) acquire(ctx context.Context) (bool, time.Duration) {
	start := time.Now()
	select {
	case e.sem <- struct{}{}:
		return true, time.Since(start)
	default:
	}

	atomic.AddInt32(&e.queueLen, 1)
	metrics.QueueLength.Set(float64(atomic.LoadInt32(&e.queueLen)))
	e.publish("taskQueued", taskQueueEvent{})
	defer func() {
		atomic.AddInt32(&e.queueLen, -1)
		metrics.QueueLength.Set(float64(atomic.LoadInt32(&e.queueLen)))
	}()

	timer := time.NewTimer(e.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		e.publish("taskDequeued", taskQueueEvent{})
		return true, time.Since(start)
	case <-timer.C:
		return false, time.Since(start)
	case <-ctx.Done():
		return false, time.Since(start)
	}
}

func (e *Executor) release() { <-e.sem }

// runOneAttempt races the dispatcher call against timeout.
func (e *Executor) runOneAttempt(ctx context.Context, task *domain.Task, timeout time.Duration) (actiondispatcher.ExecuteResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := func() (res actiondispatcher.ExecuteResult, err error) {
		// A panicking dispatcher becomes an ordinary attempt error, handled by
		// the same retry policy as a returned error.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action dispatcher panicked: %v", r)
			}
		}()
		return e.dispatcher.Execute(attemptCtx, task.ID, task.ActionKind, task.ActionParams, actiondispatcher.ExecuteInput{
			ExecutionTime: start,
		})
	}()
	duration := time.Since(start)

	if err != nil {
		label := "error"
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			label = "timeout"
			err = fmt.Errorf("%w: %w", errAttemptTimeout, err)
		}
		metrics.AttemptDuration.WithLabelValues(label).Observe(duration.Seconds())
		return actiondispatcher.ExecuteResult{}, err
	}
	if !result.Success {
		metrics.AttemptDuration.WithLabelValues("error").Observe(duration.Seconds())
		return result, fmt.Errorf("action reported failure: %s", result.Detail)
	}

	metrics.AttemptDuration.WithLabelValues("success").Observe(duration.Seconds())
	return result, nil
}

var errAttemptTimeout = errors.New("attempt timed out")

// classify determines retry eligibility: a typed Classifier on the error
// wins (spec.md §9's preferred taxonomy); otherwise fall back to the
// substring rule spec.md §4.5 specifies.
func classify(err error) actiondispatcher.Retryable {
	if errors.Is(err, errAttemptTimeout) {
		return actiondispatcher.RetryableTimeout
	}

	var classifier actiondispatcher.Classifier
	if errors.As(err, &classifier) {
		if c := classifier.Classification(); c != actiondispatcher.RetryableUnknown {
			return c
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "invalid") || strings.Contains(msg, "unauthorized") {
		return actiondispatcher.RetryableNo
	}
	return actiondispatcher.RetryableYes
}

// retryDelay implements spec.md §4.5's exponential-with-jitter schedule:
// delay = min(max, base * 2^attempt * (0.5 + rand*0.5)).
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	factor := 0.5 + rand.Float64()*0.5
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)) * factor)
	if delay > max {
		delay = max
	}
	return delay
}

func (e *Executor) finishSuccess(ctx context.Context, task *domain.Task, _ actiondispatcher.ExecuteResult) {
	at := time.Now()
	if err := task.RecordSuccess(at); err != nil {
		e.logger.ErrorContext(ctx, "record success", "task_id", task.ID, "error", err)
		return
	}
	if _, err := e.repo.Save(ctx, task); err != nil {
		e.logger.ErrorContext(ctx, "save task after success", "task_id", task.ID, "error", err)
	}
}

func (e *Executor) finishFailure(ctx context.Context, task *domain.Task, execErr error) {
	at := time.Now()
	if err := task.MarkFailed(execErr, at); err != nil {
		e.logger.ErrorContext(ctx, "mark failed", "task_id", task.ID, "error", err)
		return
	}
	if _, err := e.repo.Save(ctx, task); err != nil {
		e.logger.ErrorContext(ctx, "save task after failure", "task_id", task.ID, "error", err)
	}
}

// BatchResult is one id's outcome from ExecuteBatch.
type BatchResult struct {
	TaskID string
	Result ExecuteTaskResult
}

// ExecuteBatch runs N executions concurrently, bounded by
// min(batchMaxConcurrency, executor's own MaxConcurrentTasks). If
// continueOnError is false, no new execution is launched once one fails,
// but already-launched executions are always awaited.
func (e *Executor) ExecuteBatch(ctx context.Context, taskIDs []string, batchMaxConcurrency int, continueOnError bool) []BatchResult {
	limit := batchMaxConcurrency
	if limit <= 0 || limit > e.cfg.MaxConcurrentTasks {
		limit = e.cfg.MaxConcurrentTasks
	}

	results := make([]BatchResult, len(taskIDs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var stop atomic.Bool

	for i, id := range taskIDs {
		if stop.Load() {
			results[i] = BatchResult{TaskID: id, Result: ExecuteTaskResult{Success: false, Err: errBatchStopped}}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			res := e.ExecuteTask(ctx, id, ExecuteOptions{})
			results[i] = BatchResult{TaskID: id, Result: res}
			if !res.Success && !continueOnError {
				stop.Store(true)
			}
		}(i, id)
	}
	wg.Wait()
	return results
}

var errBatchStopped = errors.New("batch execution stopped after an earlier failure")

// Shutdown stops admitting new executions and waits up to timeout for
// in-flight ones to drain, emitting `shutdown` with the remaining count.
func (e *Executor) Shutdown(timeout time.Duration) {
	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.activeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	remaining := e.activeCount()
	e.publish("shutdown", shutdownEvent{RemainingActive: remaining})
}

// ExecutorStatus is a point-in-time snapshot for operators.
type ExecutorStatus struct {
	ActiveIDs      []string
	QueueLength    int
	ConcurrencyCap int
	ConcurrencyUse int
}

func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	return ExecutorStatus{
		ActiveIDs:      ids,
		QueueLength:    int(atomic.LoadInt32(&e.queueLen)),
		ConcurrencyCap: cap(e.sem),
		ConcurrencyUse: len(e.sem),
	}
}

// Event payloads published to the bus — documented here per spec.md §6
// ("payloads are plain records documented at their emission site").

type executionStartedEvent struct {
	TaskID    string
	Attempt   int
	RequestID string
}

type executionRetryEvent struct {
	TaskID      string
	Delay       time.Duration
	NextAttempt int
}

type executionCompletedEvent struct {
	TaskID       string
	Success      bool
	TotalRetries int
	Err          string
}

type taskQueueEvent struct{}

type shutdownEvent struct {
	RemainingActive int
}
