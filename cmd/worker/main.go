// Package main implements the queued-mode generation worker. It consumes
// jobs from the durable queue, runs both provider calls and records the
// terminal task state in the ledger. In queued mode it is the only writer of
// terminal states.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-feedback-api/internal/bootstrap"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/metrics"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scry-feedback-worker: %s\n", redact.Error(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Generation.Mode != config.ModeQueued {
		return errors.New("the worker requires generation.mode=queued; inline mode runs workers inside the server")
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log = log.With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	generator, err := bootstrap.NewGenerator(ctx, cfg.LLM, m, log)
	if err != nil {
		return err
	}

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	queue, err := bootstrap.DialQueue(cfg.Queue, log)
	if err != nil {
		return fmt.Errorf("failed to connect job queue: %s", redact.Error(err))
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error("error closing job queue", "error", redact.Error(err))
		}
	}()

	w := newWorker(cfg, bootstrap.NewLedger(db, cfg.Database.Driver, log), queue, generator, registry, m, log)
	return w.Run(ctx)
}
