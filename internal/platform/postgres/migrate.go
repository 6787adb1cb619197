package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

// MigrationTableName is the goose version table shared by every dialect.
const MigrationTableName = "schema_migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the PostgreSQL schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// goose keeps its dialect, table and filesystem in package state.
var gooseMu sync.Mutex

// Migrator applies embedded goose migrations to a database.
type Migrator struct {
	db      *sql.DB
	dialect string
	fsys    fs.FS
	logger  *slog.Logger
}

// NewMigrator creates a Migrator for the given goose dialect ("postgres",
// "sqlite3") reading migrations from the root of fsys.
func NewMigrator(db *sql.DB, dialect string, fsys fs.FS, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		db:      db,
		dialect: dialect,
		fsys:    fsys,
		logger:  logger.With("component", "migrations", "dialect", dialect),
	}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.Run(ctx, "up")
}

// Run executes a goose command: up, down, reset, status or version.
func (m *Migrator) Run(ctx context.Context, command string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(m.fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(&slogGooseLogger{logger: m.logger})
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect(m.dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	start := time.Now()
	m.logger.InfoContext(ctx, "running migration command", "command", command)

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, m.db, ".")
	case "down":
		err = goose.DownContext(ctx, m.db, ".")
	case "reset":
		err = goose.ResetContext(ctx, m.db, ".")
	case "status":
		err = goose.StatusContext(ctx, m.db, ".")
	case "version":
		err = goose.VersionContext(ctx, m.db, ".")
	default:
		return fmt.Errorf("unknown migration command: %s (expected up, down, reset, status, or version)", command)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "migration command failed",
			"command", command,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	m.logger.InfoContext(ctx, "migration command completed",
		"command", command,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf forwards goose progress messages at info level.
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level. It does not exit; goose returns the error to Run.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
