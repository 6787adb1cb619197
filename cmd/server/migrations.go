package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/scry-feedback-api/internal/bootstrap"
	"github.com/phrazzld/scry-feedback-api/internal/config"
)

// runMigrations executes a goose command against the ledger database using
// the migrations embedded for the configured driver. SQLite databases are
// migrated automatically at startup; PostgreSQL requires -migrate up.
func runMigrations(ctx context.Context, cfg *config.Config, db *sql.DB, command string, logger *slog.Logger) error {
	return bootstrap.NewMigrator(db, cfg.Database.Driver, logger).Run(ctx, command)
}
