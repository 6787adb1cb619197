package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

const taskColumns = `id, exercise_record_id, status, input_context, result,
	error_code, error_message, created_at, updated_at, completed_at`

// TaskStore implements store.TaskLedger.
type TaskStore struct {
	db       store.DBTX
	logger   *slog.Logger
	mapError ErrorMapper
}

// Option configures a TaskStore or RecordIndex.
type Option func(*options)

type options struct {
	mapError ErrorMapper
}

// WithErrorMapper replaces MapError, for drivers other than pgx.
func WithErrorMapper(m ErrorMapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapError = m
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{mapError: MapError}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Ensure TaskStore implements store.TaskLedger interface
var _ store.TaskLedger = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore over db. If logger is nil, a default
// logger will be used.
func NewTaskStore(db store.DBTX, logger *slog.Logger, opts ...Option) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &TaskStore{
		db:       db,
		logger:   logger.With(slog.String("component", "task_ledger")),
		mapError: o.mapError,
	}
}

// taskRow is the column layout of generation_tasks.
type taskRow struct {
	ID               uuid.UUID      `db:"id"`
	ExerciseRecordID string         `db:"exercise_record_id"`
	Status           string         `db:"status"`
	InputContext     string         `db:"input_context"`
	Result           sql.NullString `db:"result"`
	ErrorCode        sql.NullString `db:"error_code"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}

func (r *taskRow) toDomain() (*domain.GenerationTask, error) {
	t := &domain.GenerationTask{
		ID:               r.ID,
		ExerciseRecordID: r.ExerciseRecordID,
		Status:           domain.TaskStatus(r.Status),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.InputContext), &t.Input); err != nil {
		return nil, fmt.Errorf("decode input_context of task %s: %w", r.ID, err)
	}
	if r.Result.Valid {
		var fb domain.Feedback
		if err := json.Unmarshal([]byte(r.Result.String), &fb); err != nil {
			return nil, fmt.Errorf("decode result of task %s: %w", r.ID, err)
		}
		t.Result = &fb
	}
	if r.ErrorCode.Valid {
		t.Error = &domain.TaskError{Code: r.ErrorCode.String, Message: r.ErrorMessage.String}
	}
	if r.CompletedAt.Valid {
		completed := r.CompletedAt.Time.UTC()
		t.CompletedAt = &completed
	}
	return t, nil
}

// Create implements store.TaskLedger.Create.
// It returns *store.ConflictError when the record already has an active task.
func (s *TaskStore) Create(ctx context.Context, task *domain.GenerationTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	input, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("encode input_context: %w", err)
	}

	query := `
		INSERT INTO generation_tasks (id, exercise_record_id, status, input_context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.ExerciseRecordID,
		string(task.Status),
		string(input),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		mapped := s.mapError(err)
		if errors.Is(mapped, store.ErrDuplicate) {
			log.Debug("active task already exists for record",
				slog.String("exercise_record_id", task.ExerciseRecordID))
			return &store.ConflictError{ExerciseRecordID: task.ExerciseRecordID, Err: mapped}
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("generation_task", "create", "insert failed", mapped)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("exercise_record_id", task.ExerciseRecordID))
	return nil
}

// Get implements store.TaskLedger.Get.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM generation_tasks WHERE id = $1`

	var row taskRow
	if err := sqlscan.Get(ctx, s.db, &row, query, id); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, store.NewStoreError("generation_task", "get", "select failed", s.mapError(err))
	}
	return row.toDomain()
}

// Transition implements store.TaskLedger.Transition. The update only applies
// while the row is in one of the allowed predecessor statuses, so concurrent
// writers cannot both win. The updated row is read back afterwards.
func (s *TaskStore) Transition(ctx context.Context, id uuid.UUID, tr store.Transition) (*domain.GenerationTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	preds := tr.To.AllowedPredecessors()
	if len(preds) == 0 {
		return nil, &store.InvalidStateError{TaskID: id, Requested: tr.To}
	}

	var (
		result       sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)
	now := domain.Now()

	switch tr.To {
	case domain.TaskStatusSucceeded:
		if !tr.Result.Complete() {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrMissingResult)
		}
		encoded, err := json.Marshal(tr.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(encoded), Valid: true}
		completedAt = sql.NullTime{Time: now, Valid: true}
	case domain.TaskStatusFailed:
		if tr.Error == nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrMissingTaskError)
		}
		errorCode = sql.NullString{String: tr.Error.Code, Valid: true}
		errorMessage = sql.NullString{String: tr.Error.Message, Valid: true}
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	query := `
		UPDATE generation_tasks
		SET status = $1, result = $2, error_code = $3, error_message = $4,
			updated_at = $5, completed_at = $6
		WHERE id = $7 AND status IN ($8, $9)
	`
	res, err := s.db.ExecContext(ctx, query,
		string(tr.To),
		result,
		errorCode,
		errorMessage,
		now,
		completedAt,
		id,
		string(preds[0]),
		string(preds[len(preds)-1]),
	)
	if err != nil {
		log.Error("failed to transition task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(tr.To)))
		return nil, store.NewStoreError("generation_task", "transition", "update failed", s.mapError(err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// The row exists but its status does not allow this move.
		return nil, &store.InvalidStateError{TaskID: id, Current: current.Status, Requested: tr.To}
	}

	log.Debug("task transitioned",
		slog.String("task_id", id.String()),
		slog.String("status", string(tr.To)))
	return current, nil
}

// FindLatestByRecord implements store.TaskLedger.FindLatestByRecord.
func (s *TaskStore) FindLatestByRecord(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM generation_tasks
		WHERE exercise_record_id = $1
		ORDER BY CASE WHEN status = 'failed' THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1`

	var row taskRow
	if err := sqlscan.Get(ctx, s.db, &row, query, exerciseRecordID); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to find latest task",
			slog.String("error", err.Error()),
			slog.String("exercise_record_id", exerciseRecordID))
		return nil, store.NewStoreError("generation_task", "find_latest", "select failed", s.mapError(err))
	}
	return row.toDomain()
}

// ListStale implements store.TaskLedger.ListStale.
func (s *TaskStore) ListStale(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.GenerationTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM generation_tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`

	var rows []*taskRow
	cutoff := domain.Now().Add(-olderThan)
	if err := sqlscan.Select(ctx, s.db, &rows, query, string(status), cutoff); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list stale tasks",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, store.NewStoreError("generation_task", "list_stale", "select failed", s.mapError(err))
	}

	tasks := make([]*domain.GenerationTask, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Ping implements store.TaskLedger.Ping.
func (s *TaskStore) Ping(ctx context.Context) error {
	return ping(ctx, s.db)
}

func ping(ctx context.Context, db store.DBTX) error {
	if p, ok := db.(interface{ PingContext(context.Context) error }); ok {
		return p.PingContext(ctx)
	}
	_, err := db.ExecContext(ctx, "SELECT 1")
	return err
}
