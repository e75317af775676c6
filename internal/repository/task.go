// Package repository declares the contracts the scheduling engine and
// executor consume for persistence. The storage backend itself — SQL
// schema, connection pooling, migrations — is an external collaborator per
// spec.md §1; this package only fixes the interface shape, mirroring the
// teacher's internal/repository package (one interface per aggregate, the
// usecase/engine layer depending on the interface rather than a concrete
// driver).
package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
)

// TaskRepository is the scheduled-task repository contract from spec.md §6.
// All methods fail with a repository-error kind (spec.md §7 item 3) on I/O
// failure; Delete/Exists report via their bool return plus error, not via a
// not-found error, since spec.md describes them as predicates.
type TaskRepository interface {
	Save(ctx context.Context, task *domain.Task) (*domain.Task, error)
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	FindActive(ctx context.Context) ([]*domain.Task, error)
	FindByUserID(ctx context.Context, userID string) ([]*domain.Task, error)
	FindByNextExecutionTimeBefore(ctx context.Context, t time.Time) ([]*domain.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}
