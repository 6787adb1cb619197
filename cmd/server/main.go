// Package main implements the entry point for the feedback API server,
// which accepts feedback generation requests and serves their results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-feedback-api/internal/bootstrap"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"Run a migration command (up, down, reset, status, version) and exit")
	flag.Parse()

	if err := run(*migrateCmd); err != nil {
		fmt.Fprintf(os.Stderr, "scry-feedback-api: %s\n", redact.Error(err))
		os.Exit(1)
	}
}

// run loads configuration, connects the ledger and either executes a
// migration command or serves HTTP until a termination signal arrives.
func run(migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"generation_mode", cfg.Generation.Mode,
		"llm_driver", cfg.LLM.Driver,
		"database_driver", cfg.Database.Driver,
		"idempotency_backend", cfg.Idempotency.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return runMigrations(ctx, cfg, db, migrateCmd, log)
	}

	if cfg.Database.Driver == config.DatabaseSQLite {
		if err := runMigrations(ctx, cfg, db, "up", log); err != nil {
			_ = db.Close()
			return err
		}
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
