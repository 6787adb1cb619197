package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/events"
	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/task"
)

// Submission is a generation request as received from a caller. Nil
// parameters take the configured defaults.
type Submission struct {
	ExerciseRecordID string
	Question         domain.Question
	StudentAnswer    string
	Temperature      *float32
	MaxOutputTokens  *int
}

// SubmitResult is the outcome of Submit. Cached is true when the task had
// already succeeded before this call.
type SubmitResult struct {
	Task   *domain.GenerationTask
	Cached bool
}

// Reserver performs the atomic check-and-reserve for an exercise record.
type Reserver interface {
	Reserve(ctx context.Context, candidate *domain.GenerationTask) (idempotency.Reservation, error)
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedbackService is the request intake of the feedback orchestrator.
type FeedbackService interface {
	// Submit returns the authoritative task for the submission's record,
	// creating and dispatching a new one when there is none or only a failed
	// one. Invalid submissions fail before any task is created.
	Submit(ctx context.Context, sub Submission) (*SubmitResult, error)

	// GetByRecord returns the latest authoritative task of a record or
	// store.ErrNotFound. It never triggers generation.
	GetByRecord(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error)

	// Health checks every dependency independently.
	Health(ctx context.Context) health.Report
}

// Config holds the settings the service needs at runtime.
type Config struct {
	// Mode is config.ModeInline or config.ModeQueued.
	Mode string

	// InlineWait bounds how long an inline Submit waits for completion.
	InlineWait time.Duration

	DefaultTemperature     float32
	DefaultMaxOutputTokens int
	MaxOutputTokensLimit   int

	// ProviderConfigured is fixed at startup from the llm settings.
	ProviderConfigured bool
}

// Dependencies are the collaborators of the feedback service.
type Dependencies struct {
	Ledger store.TaskLedger
	Guard  Reserver
	Queue  task.JobQueue
	// Index is only used for health reporting.
	Index Pinger
	// Waiter is required in inline mode.
	Waiter *events.CompletionWaiter
	// Checker receives the standard dependency checks. A new one is
	// created when nil.
	Checker *health.Checker
}

type feedbackService struct {
	ledger  store.TaskLedger
	guard   Reserver
	queue   task.JobQueue
	waiter  *events.CompletionWaiter
	checker *health.Checker
	config  Config
	logger  *slog.Logger
}

var _ FeedbackService = (*feedbackService)(nil)

// NewFeedbackService creates a FeedbackService and registers the ledger,
// queue, index and provider health checks.
func NewFeedbackService(deps Dependencies, cfg Config, logger *slog.Logger) (FeedbackService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if deps.Guard == nil {
		return nil, errors.New("guard cannot be nil")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	switch cfg.Mode {
	case config.ModeInline:
		if deps.Waiter == nil {
			return nil, errors.New("inline mode requires a completion waiter")
		}
	case config.ModeQueued:
	default:
		return nil, fmt.Errorf("unknown generation mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = slog.Default()
	}

	checker := deps.Checker
	if checker == nil {
		checker = health.NewChecker(health.DefaultTimeout, logger)
	}
	checker.Register(health.CheckLedger, deps.Ledger.Ping)
	checker.Register(health.CheckQueue, deps.Queue.Ready)
	if deps.Index != nil {
		checker.Register(health.CheckIndex, deps.Index.Ping)
	}
	checker.Register(health.CheckProvider,
		health.Configured(cfg.ProviderConfigured, ErrProviderNotConfigured.Error()))

	return &feedbackService{
		ledger:  deps.Ledger,
		guard:   deps.Guard,
		queue:   deps.Queue,
		waiter:  deps.Waiter,
		checker: checker,
		config:  cfg,
		logger:  logger.With(slog.String("component", "feedback_service")),
	}, nil
}

// Submit implements FeedbackService.
func (s *feedbackService) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	sub.ExerciseRecordID = domain.NormalizeExerciseRecordID(sub.ExerciseRecordID)
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("exercise_record_id", sub.ExerciseRecordID))

	input := s.resolveInput(sub)
	if err := domain.ValidateSubmission(sub.ExerciseRecordID, input, s.config.MaxOutputTokensLimit); err != nil {
		log.Debug("rejected invalid submission", slog.String("error", err.Error()))
		return nil, err
	}

	if err := s.checkCapabilities(ctx); err != nil {
		log.Warn("rejecting submission, dependency unavailable", slog.String("error", redact.Error(err)))
		return nil, err
	}

	candidate, err := domain.NewGenerationTask(sub.ExerciseRecordID, input)
	if err != nil {
		return nil, fmt.Errorf("failed to build generation task: %w", err)
	}

	res, err := s.guard.Reserve(ctx, candidate)
	if err != nil {
		return nil, s.reservationError(log, err)
	}

	if !res.Created {
		return s.existing(ctx, log, res.Task)
	}
	return s.dispatch(ctx, log, res.Task)
}

// existing handles a submission that resolved to a task created earlier.
func (s *feedbackService) existing(
	ctx context.Context,
	log *slog.Logger,
	t *domain.GenerationTask,
) (*SubmitResult, error) {
	log = log.With(slog.String("task_id", t.ID.String()))

	if t.Status == domain.TaskStatusSucceeded {
		log.Debug("returning cached feedback")
		return &SubmitResult{Task: t, Cached: true}, nil
	}
	if s.config.Mode != config.ModeInline || !t.Status.IsActive() {
		return &SubmitResult{Task: t}, nil
	}

	log.Debug("task already in flight, waiting for it", slog.String("status", string(t.Status)))
	ch, cancel := s.waiter.Subscribe(t.ID)
	defer cancel()

	// The task may have finished between the reservation and Subscribe.
	if current, err := s.ledger.Get(ctx, t.ID); err == nil {
		t = current
		if t.Status.IsTerminal() {
			return &SubmitResult{Task: t}, nil
		}
	}
	return &SubmitResult{Task: s.await(ctx, log, t, ch)}, nil
}

// dispatch hands a newly created task to the queue and, in inline mode,
// waits for the worker pool to finish it.
func (s *feedbackService) dispatch(
	ctx context.Context,
	log *slog.Logger,
	t *domain.GenerationTask,
) (*SubmitResult, error) {
	log = log.With(slog.String("task_id", t.ID.String()))

	var (
		ch     <-chan *events.TaskCompletedEvent
		cancel = func() {}
	)
	if s.config.Mode == config.ModeInline {
		ch, cancel = s.waiter.Subscribe(t.ID)
	}
	defer cancel()

	if err := s.queue.Enqueue(ctx, task.NewJob(t)); err != nil {
		log.Error("failed to enqueue generation job", slog.String("error", redact.Error(err)))
		s.failUnqueued(ctx, log, t, err)
		return nil, dependencyError(DependencyQueue, err)
	}
	log.Info("generation task dispatched", slog.String("mode", s.config.Mode))

	if s.config.Mode != config.ModeInline {
		return &SubmitResult{Task: t}, nil
	}
	return &SubmitResult{Task: s.await(ctx, log, t, ch)}, nil
}

// await waits up to InlineWait for completion and returns the freshest copy
// of the task available.
func (s *feedbackService) await(
	ctx context.Context,
	log *slog.Logger,
	t *domain.GenerationTask,
	ch <-chan *events.TaskCompletedEvent,
) *domain.GenerationTask {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.InlineWait)
	defer cancel()

	select {
	case <-ch:
	case <-waitCtx.Done():
		log.Info("inline wait elapsed, returning current status", slog.Duration("waited", s.config.InlineWait))
	}

	// Read with a context that survives the caller's cancellation so the
	// response reflects the ledger rather than the stale candidate.
	readCtx, readCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer readCancel()
	current, err := s.ledger.Get(readCtx, t.ID)
	if err != nil {
		log.Warn("failed to reload task after wait", slog.String("error", redact.Error(err)))
		return t
	}
	return current
}

// failUnqueued marks a task that never reached the queue as failed so it
// does not block future submissions for its record.
func (s *feedbackService) failUnqueued(ctx context.Context, log *slog.Logger, t *domain.GenerationTask, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.ledger.Transition(writeCtx, t.ID, store.Transition{
		To: domain.TaskStatusFailed,
		Error: &domain.TaskError{
			Code:    domain.TaskErrorEnqueueFailed,
			Message: "job could not be queued: " + redact.Error(cause),
		},
	})
	if err != nil {
		// The stuck-task monitor re-enqueues pending tasks it finds later.
		log.Error("failed to mark unqueued task as failed", slog.String("error", redact.Error(err)))
	}
}

// GetByRecord implements FeedbackService.
func (s *feedbackService) GetByRecord(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error) {
	exerciseRecordID = domain.NormalizeExerciseRecordID(exerciseRecordID)
	if err := domain.ValidateExerciseRecordID(exerciseRecordID); err != nil {
		return nil, err
	}

	t, err := s.ledger.FindLatestByRecord(ctx, exerciseRecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to look up latest task",
			slog.String("exercise_record_id", exerciseRecordID),
			slog.String("error", redact.Error(err)))
		return nil, dependencyError(DependencyLedger, err)
	}
	return t, nil
}

// Health implements FeedbackService.
func (s *feedbackService) Health(ctx context.Context) health.Report {
	return s.checker.Run(ctx)
}

func (s *feedbackService) resolveInput(sub Submission) domain.InputContext {
	params := domain.GenerationParams{
		Temperature:     s.config.DefaultTemperature,
		MaxOutputTokens: s.config.DefaultMaxOutputTokens,
	}
	if sub.Temperature != nil {
		params.Temperature = *sub.Temperature
	}
	if sub.MaxOutputTokens != nil {
		params.MaxOutputTokens = *sub.MaxOutputTokens
	}
	return domain.InputContext{
		Question:      sub.Question,
		StudentAnswer: sub.StudentAnswer,
		Params:        params,
	}
}

func (s *feedbackService) checkCapabilities(ctx context.Context) error {
	if !s.config.ProviderConfigured {
		return dependencyError(DependencyProvider, ErrProviderNotConfigured)
	}
	if err := s.queue.Ready(ctx); err != nil {
		return dependencyError(DependencyQueue, err)
	}
	return nil
}

func (s *feedbackService) reservationError(log *slog.Logger, err error) error {
	var unavailable *idempotency.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		log.Error("idempotency reservation failed",
			slog.String("dependency", unavailable.Dependency),
			slog.String("error", redact.Error(unavailable.Err)))
		return dependencyError(unavailable.Dependency, unavailable.Err)
	case errors.Is(err, idempotency.ErrContended):
		log.Warn("exercise record contended")
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		log.Error("idempotency reservation failed", slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to reserve exercise record: %w", err)
	}
}
