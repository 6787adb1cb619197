package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// Common errors of queues and job handling.
var (
	// ErrQueueClosed is returned when enqueuing to or consuming from a closed queue.
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrQueueFull is returned when a bounded queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")

	// ErrMalformedJob is returned when a message cannot be decoded into a Job.
	// Such messages are never redelivered.
	ErrMalformedJob = errors.New("malformed job")

	// ErrRequeue marks a processing error after which the job should be
	// delivered again.
	ErrRequeue = errors.New("job should be redelivered")
)

// Job is the message that asks a worker to execute a task. It carries only
// identifiers; the input lives in the ledger.
type Job struct {
	TaskID           uuid.UUID `json:"task_id"`
	ExerciseRecordID string    `json:"exercise_record_id"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// NewJob creates the job for task.
func NewJob(task *domain.GenerationTask) Job {
	return Job{
		TaskID:           task.ID,
		ExerciseRecordID: task.ExerciseRecordID,
		EnqueuedAt:       time.Now().UTC(),
	}
}

// Encode serializes the job as JSON.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a JSON job. It returns ErrMalformedJob for bodies that
// are not a job or lack a task ID.
func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if j.TaskID == uuid.Nil {
		return Job{}, fmt.Errorf("%w: missing task_id", ErrMalformedJob)
	}
	return j, nil
}

// Delivery is one received job. Exactly one of Ack or Nack must be called.
type Delivery interface {
	// Job returns the delivered job
	Job() Job

	// Ack confirms the job was handled and must not be delivered again
	Ack() error

	// Nack rejects the job. With requeue it is delivered again, otherwise
	// it is dropped or dead-lettered.
	Nack(requeue bool) error
}

// JobQueue is an at-least-once job queue.
type JobQueue interface {
	// Enqueue publishes a job. It returns only once the queue has accepted it.
	Enqueue(ctx context.Context, job Job) error

	// Consume starts delivering jobs on the returned channel until ctx is
	// done or the queue is closed, at which point the channel is closed.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Ready reports whether the queue can currently accept jobs.
	Ready(ctx context.Context) error

	// Close releases the queue's resources.
	Close() error
}

// Handler processes one job. A nil error acknowledges it; an error wrapping
// ErrRequeue asks for redelivery and any other error drops it.
type Handler interface {
	Process(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}
