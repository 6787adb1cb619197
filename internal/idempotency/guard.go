package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// ErrContended is returned when a record could not be resolved within the
// configured number of attempts.
var ErrContended = errors.New("exercise record is contended, try again")

// Backends named in UnavailableError.
const (
	DependencyLedger = "ledger"
	DependencyIndex  = "index"
)

// UnavailableError reports that a backend the guard depends on failed.
type UnavailableError struct {
	Dependency string
	Err        error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

// Unwrap returns the backend error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Reservation outcomes reported to the Recorder.
const (
	OutcomeCreated   = "created"
	OutcomeHit       = "hit"
	OutcomeContended = "contended"
	OutcomeError     = "error"
)

// Recorder observes reservation outcomes.
type Recorder interface {
	ObserveReservation(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReservation(string) {}

// Config tunes the reservation loop.
type Config struct {
	// Attempts bounds the claim/lookup rounds. Defaults to 5
	Attempts int

	// ClaimWait is the pause between rounds. Zero disables the pause
	ClaimWait time.Duration
}

// Reservation is the outcome of Reserve. Created is true when Task is the
// candidate and the caller must dispatch it; otherwise Task is the record's
// existing authoritative task.
type Reservation struct {
	Task    *domain.GenerationTask
	Created bool
}

// Guard performs the atomic check-and-reserve for exercise records.
type Guard struct {
	ledger   store.TaskLedger
	index    store.RecordIndex
	config   Config
	recorder Recorder
	logger   *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(ledger store.TaskLedger, index store.RecordIndex, config Config, logger *slog.Logger) *Guard {
	if ledger == nil {
		panic("ledger cannot be nil")
	}
	if index == nil {
		panic("index cannot be nil")
	}
	if config.Attempts <= 0 {
		config.Attempts = 5
	}
	if config.ClaimWait < 0 {
		config.ClaimWait = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		ledger:   ledger,
		index:    index,
		config:   config,
		recorder: nopRecorder{},
		logger:   logger.With(slog.String("component", "idempotency_guard")),
	}
}

// SetRecorder sets the observer of reservation outcomes.
func (g *Guard) SetRecorder(r Recorder) {
	if r != nil {
		g.recorder = r
	}
}

// Reserve returns the authoritative task for candidate's record, creating
// candidate when the record has none or only a failed one. The candidate
// must be a new pending task.
func (g *Guard) Reserve(ctx context.Context, candidate *domain.GenerationTask) (Reservation, error) {
	res, err := g.reserve(ctx, candidate)
	switch {
	case err == nil && res.Created:
		g.recorder.ObserveReservation(OutcomeCreated)
	case err == nil:
		g.recorder.ObserveReservation(OutcomeHit)
	case errors.Is(err, ErrContended):
		g.recorder.ObserveReservation(OutcomeContended)
	default:
		g.recorder.ObserveReservation(OutcomeError)
	}
	return res, err
}

func (g *Guard) reserve(ctx context.Context, candidate *domain.GenerationTask) (Reservation, error) {
	log := logger.FromContextOrDefault(ctx, g.logger).With(
		slog.String("exercise_record_id", candidate.ExerciseRecordID))
	record := candidate.ExerciseRecordID

	// The first time an indexed task is missing from the ledger its creator
	// may still be inserting it; the second time the entry is stale.
	var missing uuid.UUID

	for attempt := 0; attempt < g.config.Attempts; attempt++ {
		if attempt > 0 {
			if err := g.pause(ctx); err != nil {
				return Reservation{}, err
			}
		}

		won, err := g.index.Claim(ctx, record, candidate.ID)
		if err != nil {
			return Reservation{}, &UnavailableError{Dependency: DependencyIndex, Err: err}
		}
		if won {
			return g.create(ctx, log, candidate)
		}

		indexed, err := g.index.Lookup(ctx, record)
		if errors.Is(err, store.ErrNotFound) {
			// Released between our claim and lookup.
			continue
		}
		if err != nil {
			return Reservation{}, &UnavailableError{Dependency: DependencyIndex, Err: err}
		}

		existing, err := g.ledger.Get(ctx, indexed)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if missing != indexed {
				missing = indexed
				log.Debug("indexed task not in ledger yet, waiting", slog.String("task_id", indexed.String()))
				continue
			}
			log.Warn("replacing stale index entry", slog.String("stale_task_id", indexed.String()))
		case err != nil:
			return Reservation{}, &UnavailableError{Dependency: DependencyLedger, Err: err}
		case existing.Status == domain.TaskStatusFailed:
			log.Debug("previous task failed, retrying generation", slog.String("failed_task_id", indexed.String()))
		default:
			return Reservation{Task: existing}, nil
		}

		swapped, err := g.index.Swap(ctx, record, indexed, candidate.ID)
		if err != nil {
			return Reservation{}, &UnavailableError{Dependency: DependencyIndex, Err: err}
		}
		if !swapped {
			// Another caller replaced the entry first; look again.
			continue
		}
		return g.create(ctx, log, candidate)
	}

	log.Warn("giving up on contended record", slog.Int("attempts", g.config.Attempts))
	return Reservation{}, ErrContended
}

// create inserts candidate after its index entry was won. The ledger is
// consulted first because the index may have lost the entry of a task that
// is still authoritative, including one that already succeeded.
func (g *Guard) create(ctx context.Context, log *slog.Logger, candidate *domain.GenerationTask) (Reservation, error) {
	record := candidate.ExerciseRecordID

	latest, err := g.ledger.FindLatestByRecord(ctx, record)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		g.release(ctx, log, candidate)
		return Reservation{}, &UnavailableError{Dependency: DependencyLedger, Err: err}
	case latest.Status != domain.TaskStatusFailed:
		return g.adopt(ctx, log, candidate, latest), nil
	}

	err = g.ledger.Create(ctx, candidate)
	if err == nil {
		log.Debug("created generation task", slog.String("task_id", candidate.ID.String()))
		return Reservation{Task: candidate, Created: true}, nil
	}

	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		g.release(ctx, log, candidate)
		if errors.Is(err, store.ErrInvalidEntity) {
			return Reservation{}, err
		}
		return Reservation{}, &UnavailableError{Dependency: DependencyLedger, Err: err}
	}

	// Another writer inserted an active task between the lookup and Create.
	active, err := g.ledger.FindLatestByRecord(ctx, record)
	if err != nil {
		g.release(ctx, log, candidate)
		return Reservation{}, &UnavailableError{Dependency: DependencyLedger, Err: err}
	}
	return g.adopt(ctx, log, candidate, active), nil
}

// adopt points the record's index entry, currently held by candidate, at
// the existing task and returns it as a hit.
func (g *Guard) adopt(ctx context.Context, log *slog.Logger, candidate, existing *domain.GenerationTask) Reservation {
	if _, err := g.index.Swap(ctx, candidate.ExerciseRecordID, candidate.ID, existing.ID); err != nil {
		log.Warn("failed to repair index entry", slog.String("error", redact.Error(err)))
	}
	log.Info("index was stale, resolved task from ledger",
		slog.String("task_id", existing.ID.String()),
		slog.String("status", string(existing.Status)))
	return Reservation{Task: existing}
}

func (g *Guard) release(ctx context.Context, log *slog.Logger, candidate *domain.GenerationTask) {
	if err := g.index.Release(ctx, candidate.ExerciseRecordID, candidate.ID); err != nil {
		log.Warn("failed to release index claim",
			slog.String("task_id", candidate.ID.String()),
			slog.String("error", redact.Error(err)))
	}
}

func (g *Guard) pause(ctx context.Context) error {
	if g.config.ClaimWait == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.config.ClaimWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
