package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// TaskCompletedEvent reports that a generation task reached a terminal status.
type TaskCompletedEvent struct {
	// TaskID identifies the finished task
	TaskID uuid.UUID `json:"task_id"`

	// ExerciseRecordID is the record the task belongs to
	ExerciseRecordID string `json:"exercise_record_id"`

	// Status is the terminal status the task reached
	Status domain.TaskStatus `json:"status"`

	// OccurredAt is when the terminal transition happened
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskCompletedEvent builds the event for a task that just reached a
// terminal status.
func NewTaskCompletedEvent(task *domain.GenerationTask) *TaskCompletedEvent {
	occurred := task.UpdatedAt
	if task.CompletedAt != nil {
		occurred = *task.CompletedAt
	}
	return &TaskCompletedEvent{
		TaskID:           task.ID,
		ExerciseRecordID: task.ExerciseRecordID,
		Status:           task.Status,
		OccurredAt:       occurred,
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskCompletedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows workers to publish completions without knowing who waits.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskCompletedEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *TaskCompletedEvent) error { return nil }
