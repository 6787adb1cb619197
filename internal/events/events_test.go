package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *TaskCompletedEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *TaskCompletedEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func completedTask() *domain.GenerationTask {
	now := domain.Now()
	return &domain.GenerationTask{
		ID:               uuid.New(),
		ExerciseRecordID: "er-1",
		Status:           domain.TaskStatusSucceeded,
		CreatedAt:        now.Add(-time.Second),
		UpdatedAt:        now,
		CompletedAt:      &now,
	}
}

func TestNewTaskCompletedEvent(t *testing.T) {
	task := completedTask()

	event := NewTaskCompletedEvent(task)

	assert.Equal(t, task.ID, event.TaskID)
	assert.Equal(t, "er-1", event.ExerciseRecordID)
	assert.Equal(t, domain.TaskStatusSucceeded, event.Status)
	assert.Equal(t, *task.CompletedAt, event.OccurredAt)

	task.CompletedAt = nil
	assert.Equal(t, task.UpdatedAt, NewTaskCompletedEvent(task).OccurredAt)
}

func TestNopEmitter(t *testing.T) {
	assert.NoError(t, NopEmitter{}.EmitEvent(context.Background(), NewTaskCompletedEvent(completedTask())))
}
