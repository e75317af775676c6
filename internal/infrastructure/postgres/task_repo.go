package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRepository is the Postgres-backed implementation of
// repository.TaskRepository, grounded on the teacher's ScheduleRepository:
// same pool/logger shape, same row-scanner helper, and a
// FOR UPDATE SKIP LOCKED claim query (ClaimDue) in the shape of the
// teacher's. Nothing in this repository calls ClaimDue.
type TaskRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTaskRepository constructs a TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{pool: pool, logger: logger.With("component", "task_repo")}
}

// actionParamsRow is the JSON wire shape for the action_params jsonb column.
type actionParamsRow struct {
	Arm    *domain.ArmSystemParams    `json:"arm,omitempty"`
	Disarm *domain.DisarmSystemParams `json:"disarm,omitempty"`
}

func encodeActionParams(p domain.ActionParams) ([]byte, error) {
	return json.Marshal(actionParamsRow{Arm: p.Arm, Disarm: p.Disarm})
}

func decodeActionParams(raw []byte) (domain.ActionParams, error) {
	var row actionParamsRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return domain.ActionParams{}, fmt.Errorf("decode action params: %w", err)
	}
	return domain.ActionParams{Arm: row.Arm, Disarm: row.Disarm}, nil
}

func encodeExpression(e domain.ScheduleExpression) ([]byte, error) {
	return json.Marshal(e.ToData())
}

func decodeExpression(raw []byte) (domain.ScheduleExpression, error) {
	var data domain.ScheduleExpressionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.ScheduleExpression{}, fmt.Errorf("decode schedule expression: %w", err)
	}
	return domain.ScheduleExpressionFromData(data)
}

// Save upserts task: an insert when task.ID is not yet present, an update
// otherwise, matching the teacher's Create/GetByID split but collapsed into
// one call since spec.md §6 gives the repository a single Save entrypoint.
func (r *TaskRepository) Save(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	exprJSON, err := encodeExpression(task.Expression)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := encodeActionParams(task.ActionParams)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO tasks (
			id, user_id, schedule_expression, action_kind, action_params, status,
			created_at, updated_at, next_execution, last_execution,
			execution_count, failure_count, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			schedule_expression = EXCLUDED.schedule_expression,
			action_kind = EXCLUDED.action_kind,
			action_params = EXCLUDED.action_params,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			next_execution = EXCLUDED.next_execution,
			last_execution = EXCLUDED.last_execution,
			execution_count = EXCLUDED.execution_count,
			failure_count = EXCLUDED.failure_count,
			last_error = EXCLUDED.last_error
		RETURNING id, user_id, schedule_expression, action_kind, action_params, status,
		          created_at, updated_at, next_execution, last_execution,
		          execution_count, failure_count, last_error`

	row := r.pool.QueryRow(ctx, query,
		task.ID, task.UserID, exprJSON, task.ActionKind, paramsJSON, task.Status,
		task.CreatedAt, task.UpdatedAt, task.NextExecution, task.LastExecution,
		task.ExecutionCount, task.FailureCount, task.LastError,
	)
	return scanTask(row)
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	query := `
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanTask(row)
}

func (r *TaskRepository) FindActive(ctx context.Context) ([]*domain.Task, error) {
	return r.findByQuery(ctx, `
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks WHERE status = $1`, domain.StatusActive)
}

func (r *TaskRepository) FindByUserID(ctx context.Context, userID string) ([]*domain.Task, error) {
	return r.findByQuery(ctx, `
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
}

func (r *TaskRepository) FindByNextExecutionTimeBefore(ctx context.Context, t time.Time) ([]*domain.Task, error) {
	return r.findByQuery(ctx, `
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks
		WHERE status = 'ACTIVE' AND next_execution IS NOT NULL AND next_execution <= $1
		ORDER BY next_execution ASC`, t)
}

func (r *TaskRepository) findByQuery(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListByUser is the cursor-paginated listing spec.md §11 supplements the
// base repository contract with, mirroring the teacher's (created_at, id)
// keyset pagination in ScheduleRepository.List.
func (r *TaskRepository) ListByUser(ctx context.Context, userID string, limit int, cursorTime *time.Time, cursorID string) ([]*domain.Task, error) {
	args := []any{userID}
	where := "user_id = $1"
	if cursorTime != nil {
		args = append(args, *cursorTime, cursorID)
		where = fmt.Sprintf("%s AND (created_at, id) < ($2, $3)", where)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, where, len(args))

	return r.findByQuery(ctx, query, args...)
}

func (r *TaskRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TaskRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return exists, nil
}

// ClaimDue selects up to limit due ACTIVE tasks with FOR UPDATE SKIP
// LOCKED, the query shape of the teacher's ClaimAndFire. It updates no row,
// so its row locks are released when its transaction commits before it
// returns; the returned tasks are not marked as claimed, and another
// scheduler instance can still select and fire them afterwards.
func (r *TaskRepository) ClaimDue(ctx context.Context, limit int) ([]*domain.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, user_id, schedule_expression, action_kind, action_params, status,
		       created_at, updated_at, next_execution, last_execution,
		       execution_count, failure_count, last_error
		FROM tasks
		WHERE status = 'ACTIVE' AND next_execution IS NOT NULL AND next_execution <= NOW()
		ORDER BY next_execution ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	var tasks []*domain.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed tasks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t          domain.Task
		exprJSON   []byte
		paramsJSON []byte
	)
	err := row.Scan(
		&t.ID, &t.UserID, &exprJSON, &t.ActionKind, &paramsJSON, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.NextExecution, &t.LastExecution,
		&t.ExecutionCount, &t.FailureCount, &t.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Expression, err = decodeExpression(exprJSON)
	if err != nil {
		return nil, err
	}
	t.ActionParams, err = decodeActionParams(paramsJSON)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
