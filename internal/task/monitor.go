package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/events"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// MonitorConfig tunes the stuck-task monitor.
type MonitorConfig struct {
	// StuckAfter is how long a task may sit in pending or running without
	// an update before the monitor acts on it
	StuckAfter time.Duration

	// Interval defines how often to sweep. If zero, defaults to one minute
	Interval time.Duration
}

// SweepResult summarizes one monitor pass.
type SweepResult struct {
	Failed   int
	Requeued int
}

// Monitor periodically fails running tasks whose worker disappeared and
// re-enqueues pending tasks whose job was lost.
type Monitor struct {
	ledger   store.TaskLedger
	queue    JobQueue
	emitter  events.EventEmitter
	recorder TaskRecorder
	config   MonitorConfig
	logger   *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(
	ledger store.TaskLedger,
	queue JobQueue,
	emitter events.EventEmitter,
	config MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		ledger:   ledger,
		queue:    queue,
		emitter:  emitter,
		recorder: nopTaskRecorder{},
		config:   config,
		logger:   logger.With("component", "task_monitor"),
	}
}

// SetRecorder sets the observer of tasks the monitor fails.
func (m *Monitor) SetRecorder(r TaskRecorder) {
	if r != nil {
		m.recorder = r
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("task monitor sweep failed", "error", redact.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs a single monitor pass.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	running, err := m.ledger.ListStale(ctx, domain.TaskStatusRunning, m.config.StuckAfter)
	if err != nil {
		return res, fmt.Errorf("failed to list stuck running tasks: %w", err)
	}
	for _, t := range running {
		if m.failStuck(ctx, t) {
			res.Failed++
		}
	}

	pending, err := m.ledger.ListStale(ctx, domain.TaskStatusPending, m.config.StuckAfter)
	if err != nil {
		return res, fmt.Errorf("failed to list stale pending tasks: %w", err)
	}
	for _, t := range pending {
		if err := m.queue.Enqueue(ctx, NewJob(t)); err != nil {
			m.logger.Error("failed to re-enqueue pending task",
				"task_id", t.ID,
				"error", redact.Error(err))
			continue
		}
		res.Requeued++
	}

	if res.Failed > 0 || res.Requeued > 0 {
		m.logger.Info("task monitor sweep",
			"failed", res.Failed,
			"requeued", res.Requeued)
	}
	return res, nil
}

func (m *Monitor) failStuck(ctx context.Context, t *domain.GenerationTask) bool {
	failed, err := m.ledger.Transition(ctx, t.ID, store.Transition{
		To: domain.TaskStatusFailed,
		Error: &domain.TaskError{
			Code:    domain.TaskErrorStuck,
			Message: fmt.Sprintf("no progress for %s", m.config.StuckAfter),
		},
	})
	if err != nil {
		var ise *store.InvalidStateError
		if !errors.As(err, &ise) {
			m.logger.Error("failed to mark stuck task as failed",
				"task_id", t.ID,
				"error", redact.Error(err))
		}
		return false
	}

	m.logger.Warn("marked stuck task as failed",
		"task_id", t.ID,
		"exercise_record_id", t.ExerciseRecordID,
		"last_update", t.UpdatedAt)
	m.recorder.ObserveTask(failed.Status, failed.UpdatedAt.Sub(failed.CreatedAt))
	if err := m.emitter.EmitEvent(ctx, events.NewTaskCompletedEvent(failed)); err != nil {
		m.logger.Warn("failed to publish task completion", "task_id", t.ID, "error", err)
	}
	return true
}
