package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Validation errors for GenerationTask.
var (
	ErrEmptyTaskID           = errors.New("task ID cannot be empty")
	ErrEmptyExerciseRecordID = errors.New("exercise record ID cannot be empty")
	ErrMissingResult         = errors.New("succeeded task must carry a result")
	ErrMissingTaskError      = errors.New("failed task must carry an error")
)

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// IsActive reports whether a task in s still occupies its record's
// in-flight slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// AllowedPredecessors returns the statuses from which a task may move to s.
func (s TaskStatus) AllowedPredecessors() []TaskStatus {
	switch s {
	case TaskStatusRunning:
		return []TaskStatus{TaskStatusPending}
	case TaskStatusSucceeded:
		return []TaskStatus{TaskStatusRunning}
	case TaskStatusFailed:
		return []TaskStatus{TaskStatusPending, TaskStatusRunning}
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to TaskStatus) bool {
	for _, p := range to.AllowedPredecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// Feedback is the fixed-shape result of a generation. A field that could not
// be generated holds a fallback message and has its flag set, so both texts
// are always present.
type Feedback struct {
	WeaknessAssessment string `json:"assessment_text"`
	SolutionGuidance   string `json:"guidance_text"`
	AssessmentFallback bool   `json:"assessment_fallback"`
	GuidanceFallback   bool   `json:"guidance_fallback"`
}

// Complete reports whether both texts are populated.
func (f *Feedback) Complete() bool {
	return f != nil && f.WeaknessAssessment != "" && f.SolutionGuidance != ""
}

// Task error codes recorded on failed tasks.
const (
	TaskErrorEnqueueFailed = "enqueue_failed"
	TaskErrorStuck         = "stuck"
	TaskErrorInterrupted   = "interrupted"
	TaskErrorInternal      = "internal"
)

// TaskError is the structured failure detail of a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GenerationTask is one attempt to produce feedback for a student answer.
type GenerationTask struct {
	ID               uuid.UUID    `json:"id"`
	ExerciseRecordID string       `json:"exercise_record_id"`
	Status           TaskStatus   `json:"status"`
	Input            InputContext `json:"input_context"`
	Result           *Feedback    `json:"result,omitempty"`
	Error            *TaskError   `json:"error,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

// NewGenerationTask creates a pending task for the given record and input.
// The input is not validated here; callers validate submissions first.
func NewGenerationTask(exerciseRecordID string, input InputContext) (*GenerationTask, error) {
	now := Now()
	t := &GenerationTask{
		ID:               uuid.New(),
		ExerciseRecordID: exerciseRecordID,
		Status:           TaskStatusPending,
		Input:            input,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Now returns the current UTC time at the microsecond precision the ledger
// stores, so timestamps survive a round trip unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Validate checks the structural invariants of a task.
func (t *GenerationTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.ExerciseRecordID == "" {
		return ErrEmptyExerciseRecordID
	}
	if !t.Status.IsValid() {
		return ErrInvalidStatus
	}
	if t.Status == TaskStatusSucceeded && !t.Result.Complete() {
		return ErrMissingResult
	}
	if t.Status == TaskStatusFailed && t.Error == nil {
		return ErrMissingTaskError
	}
	return nil
}
