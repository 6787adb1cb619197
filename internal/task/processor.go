package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/events"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// Generator produces feedback for an input. It never fails: fields that
// could not be generated carry fallback text.
type Generator interface {
	Generate(ctx context.Context, in domain.InputContext) domain.Feedback
}

// TaskRecorder observes tasks reaching a terminal status.
type TaskRecorder interface {
	ObserveTask(status domain.TaskStatus, elapsed time.Duration)
}

type nopTaskRecorder struct{}

func (nopTaskRecorder) ObserveTask(domain.TaskStatus, time.Duration) {}

// Processor executes jobs against the ledger. Processing is idempotent:
// a job whose task is missing, already claimed or already finished is
// acknowledged without calling the generator.
type Processor struct {
	ledger    store.TaskLedger
	generator Generator
	emitter   events.EventEmitter
	recorder  TaskRecorder
	logger    *slog.Logger
}

var _ Handler = (*Processor)(nil)

// NewProcessor creates a Processor. A nil emitter discards completions.
func NewProcessor(
	ledger store.TaskLedger,
	generator Generator,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Processor {
	if ledger == nil {
		panic("ledger cannot be nil")
	}
	if generator == nil {
		panic("generator cannot be nil")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		ledger:    ledger,
		generator: generator,
		emitter:   emitter,
		recorder:  nopTaskRecorder{},
		logger:    logger.With("component", "task_processor"),
	}
}

// SetRecorder sets the observer of finished tasks.
func (p *Processor) SetRecorder(r TaskRecorder) {
	if r != nil {
		p.recorder = r
	}
}

// Process implements Handler.
func (p *Processor) Process(ctx context.Context, job Job) error {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		"task_id", job.TaskID,
		"exercise_record_id", job.ExerciseRecordID)

	task, err := p.ledger.Get(ctx, job.TaskID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("job references unknown task, dropping it")
		return nil
	case err != nil:
		return fmt.Errorf("%w: load task: %v", ErrRequeue, err)
	}

	switch task.Status {
	case domain.TaskStatusSucceeded, domain.TaskStatusFailed:
		log.Debug("task already finished, skipping redelivered job", "status", task.Status)
		return nil
	case domain.TaskStatusRunning:
		log.Debug("task already claimed by another worker")
		return nil
	}

	task, err = p.ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusRunning})
	if err != nil {
		var ise *store.InvalidStateError
		if errors.As(err, &ise) {
			log.Debug("lost the claim on task", "current_status", ise.Current)
			return nil
		}
		return fmt.Errorf("%w: claim task: %v", ErrRequeue, err)
	}
	log.Info("processing task")

	feedback := p.generator.Generate(ctx, task.Input)

	// Shutdown while generating: keep the task running and let the job come
	// back. The monitor fails it if nobody finishes it.
	if err := ctx.Err(); err != nil {
		log.Warn("processing interrupted, leaving task running", "error", err)
		return fmt.Errorf("%w: %v", ErrRequeue, err)
	}

	finished, err := p.ledger.Transition(ctx, task.ID, store.Transition{
		To:     domain.TaskStatusSucceeded,
		Result: &feedback,
	})
	if err != nil {
		var ise *store.InvalidStateError
		if errors.As(err, &ise) {
			// The monitor gave up on this task while it was generating.
			log.Warn("task finished by someone else, discarding result", "current_status", ise.Current)
			return nil
		}
		log.Error("failed to record task result", "error", redact.Error(err))
		return fmt.Errorf("%w: record result: %v", ErrRequeue, err)
	}

	p.recorder.ObserveTask(finished.Status, finished.UpdatedAt.Sub(finished.CreatedAt))
	log.Info("task succeeded",
		"assessment_fallback", feedback.AssessmentFallback,
		"guidance_fallback", feedback.GuidanceFallback)

	if err := p.emitter.EmitEvent(ctx, events.NewTaskCompletedEvent(finished)); err != nil {
		log.Warn("failed to publish task completion", "error", err)
	}
	return nil
}
