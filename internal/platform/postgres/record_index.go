package postgres

import (
	"context"
	"log/slog"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// RecordIndex implements store.RecordIndex with the record_index table,
// living next to the ledger in the same database.
type RecordIndex struct {
	db       store.DBTX
	logger   *slog.Logger
	mapError ErrorMapper
}

var _ store.RecordIndex = (*RecordIndex)(nil)

// NewRecordIndex creates a RecordIndex over db.
func NewRecordIndex(db store.DBTX, logger *slog.Logger, opts ...Option) *RecordIndex {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &RecordIndex{
		db:       db,
		logger:   logger.With(slog.String("component", "record_index")),
		mapError: o.mapError,
	}
}

// Claim implements store.RecordIndex.Claim.
func (i *RecordIndex) Claim(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO record_index (exercise_record_id, task_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (exercise_record_id) DO NOTHING
	`
	res, err := i.db.ExecContext(ctx, query, exerciseRecordID, taskID, domain.Now())
	if err != nil {
		return false, i.fail(ctx, "claim", exerciseRecordID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lookup implements store.RecordIndex.Lookup.
func (i *RecordIndex) Lookup(ctx context.Context, exerciseRecordID string) (uuid.UUID, error) {
	var taskID uuid.UUID
	err := sqlscan.Get(ctx, i.db, &taskID,
		`SELECT task_id FROM record_index WHERE exercise_record_id = $1`, exerciseRecordID)
	if err != nil {
		if sqlscan.NotFound(err) {
			return uuid.Nil, store.ErrNotFound
		}
		return uuid.Nil, i.fail(ctx, "lookup", exerciseRecordID, err)
	}
	return taskID, nil
}

// Swap implements store.RecordIndex.Swap.
func (i *RecordIndex) Swap(ctx context.Context, exerciseRecordID string, expected, replacement uuid.UUID) (bool, error) {
	query := `
		UPDATE record_index
		SET task_id = $1, updated_at = $2
		WHERE exercise_record_id = $3 AND task_id = $4
	`
	res, err := i.db.ExecContext(ctx, query, replacement, domain.Now(), exerciseRecordID, expected)
	if err != nil {
		return false, i.fail(ctx, "swap", exerciseRecordID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release implements store.RecordIndex.Release.
func (i *RecordIndex) Release(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) error {
	_, err := i.db.ExecContext(ctx,
		`DELETE FROM record_index WHERE exercise_record_id = $1 AND task_id = $2`,
		exerciseRecordID, taskID)
	if err != nil {
		return i.fail(ctx, "release", exerciseRecordID, err)
	}
	return nil
}

// Ping implements store.RecordIndex.Ping.
func (i *RecordIndex) Ping(ctx context.Context) error {
	return ping(ctx, i.db)
}

func (i *RecordIndex) fail(ctx context.Context, op, exerciseRecordID string, err error) error {
	logger.FromContextOrDefault(ctx, i.logger).Error("record index operation failed",
		slog.String("operation", op),
		slog.String("exercise_record_id", exerciseRecordID),
		slog.String("error", err.Error()))
	return store.NewStoreError("record_index", op, "query failed", i.mapError(err))
}
