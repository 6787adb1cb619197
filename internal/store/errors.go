package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidState is returned when a status transition is not allowed
	// from the task's current status.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrTaskNotFound indicates that the requested generation task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: generation task", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// ConflictError is returned by TaskLedger.Create when the record already has
// an active (pending or running) task.
type ConflictError struct {
	ExerciseRecordID string
	Err              error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("active task already exists for record %q: %v", e.ExerciseRecordID, e.Err)
	}
	return fmt.Sprintf("active task already exists for record %q", e.ExerciseRecordID)
}

// Unwrap returns the wrapped errors so that both ErrDuplicate and the
// driver error remain reachable through errors.Is/errors.As.
func (e *ConflictError) Unwrap() []error {
	return []error{ErrDuplicate, e.Err}
}

// InvalidStateError is returned by TaskLedger.Transition when the task's
// current status does not permit the requested one, most notably when the
// task is already terminal.
type InvalidStateError struct {
	TaskID    uuid.UUID
	Current   domain.TaskStatus
	Requested domain.TaskStatus
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task %s cannot move from %s to %s", e.TaskID, e.Current, e.Requested)
}

// Unwrap allows errors.Is(err, ErrInvalidState).
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "generation_task")
	Operation string // The operation that failed (e.g., "create", "transition")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
