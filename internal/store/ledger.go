package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// Transition describes a single status change of a task. Result must be set
// when moving to succeeded and Error when moving to failed.
type Transition struct {
	To     domain.TaskStatus
	Result *domain.Feedback
	Error  *domain.TaskError
}

// TaskLedger is the durable record of every generation task.
// All writes are single-row and atomic.
type TaskLedger interface {
	// Create inserts a new pending task. It returns *ConflictError when the
	// record already has an active task.
	Create(ctx context.Context, task *domain.GenerationTask) error

	// Get returns the task with the given ID or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)

	// Transition moves a task to a new status and returns the updated task.
	// It returns *InvalidStateError when the current status does not allow
	// the move, which always includes an already terminal task.
	Transition(ctx context.Context, id uuid.UUID, tr Transition) (*domain.GenerationTask, error)

	// FindLatestByRecord returns the authoritative task for a record: the
	// newest non-failed task, or the newest failed one when no other exists.
	FindLatestByRecord(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error)

	// ListStale returns tasks in the given status whose last update is older
	// than olderThan, oldest first.
	ListStale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.GenerationTask, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
