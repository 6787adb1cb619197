package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/phrazzld/scry-feedback-api/internal/platform/postgres"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// gooseDialect is the goose dialect name for SQLite.
const gooseDialect = "sqlite3"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the SQLite schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// Open opens the database at dsn and verifies the connection. A bare path
// or ":memory:" is accepted as well as a "file:" URI. SQLite allows a single
// writer, so the pool is limited to one connection, which also keeps an
// in-memory database alive for the lifetime of db.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if dsn == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if !strings.Contains(dsn, "_pragma=") {
		dsn = withParam(dsn, "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	}
	// Timestamps are compared as text, so they must share one layout.
	if !strings.Contains(dsn, "_time_format=") {
		dsn = withParam(dsn, "_time_format=sqlite")
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// Migrate applies the embedded migrations to db.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return NewMigrator(db, logger).Up(ctx)
}

// NewMigrator returns a goose migrator over the SQLite migrations.
func NewMigrator(db *sql.DB, logger *slog.Logger) *postgres.Migrator {
	return postgres.NewMigrator(db, gooseDialect, Migrations(), logger)
}

// NewTaskStore returns a task ledger backed by db.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *postgres.TaskStore {
	return postgres.NewTaskStore(db, logger, postgres.WithErrorMapper(MapError))
}

// NewRecordIndex returns a record index backed by db.
func NewRecordIndex(db store.DBTX, logger *slog.Logger) *postgres.RecordIndex {
	return postgres.NewRecordIndex(db, logger, postgres.WithErrorMapper(MapError))
}

// MapError maps SQLite extended result codes to store errors.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return err
}
