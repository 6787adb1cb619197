package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-feedback-api/internal/bootstrap"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/events"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/metrics"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/service"
	"github.com/phrazzld/scry-feedback-api/internal/service/auth"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	ledger store.TaskLedger
	index  *bootstrap.Index
	queue  task.JobQueue
	// runner is nil in queued mode and when no provider is configured.
	runner *task.Runner

	feedbackService service.FeedbackService
	// jwtService is nil when authentication is disabled.
	jwtService auth.JWTService
}

// newApplication creates a new application instance with all dependencies initialized.
// The database connection is established and migrated by the caller.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	app.ledger = bootstrap.NewLedger(db, cfg.Database.Driver, logger)

	var err error
	app.index, err = bootstrap.NewIndex(ctx, cfg.Idempotency, db, cfg.Database.Driver, logger)
	if err != nil {
		return nil, err
	}

	guard := idempotency.NewGuard(app.ledger, app.index, idempotency.Config{
		Attempts:  cfg.Idempotency.ClaimAttempts,
		ClaimWait: cfg.Idempotency.ClaimWait,
	}, logger)
	guard.SetRecorder(app.metrics)

	generator, err := bootstrap.NewGenerator(ctx, cfg.LLM, app.metrics, logger)
	switch {
	case errors.Is(err, bootstrap.ErrProviderNotConfigured):
		logger.Warn("generation provider not configured; submissions will be rejected",
			"llm_driver", cfg.LLM.Driver)
	case err != nil:
		app.close()
		return nil, err
	}

	var waiter *events.CompletionWaiter
	switch cfg.Generation.Mode {
	case config.ModeInline:
		waiter = app.setupInline(generator)
	case config.ModeQueued:
		q, err := bootstrap.DialQueue(cfg.Queue, logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to connect job queue: %s", redact.Error(err))
		}
		app.queue = q
	default:
		app.close()
		return nil, fmt.Errorf("unknown generation mode %q", cfg.Generation.Mode)
	}

	checker := health.NewChecker(health.DefaultTimeout, logger)
	checker.SetObserver(app.metrics)

	app.feedbackService, err = service.NewFeedbackService(service.Dependencies{
		Ledger:  app.ledger,
		Guard:   guard,
		Queue:   app.queue,
		Index:   app.index,
		Waiter:  waiter,
		Checker: checker,
	}, service.Config{
		Mode:                   cfg.Generation.Mode,
		InlineWait:             cfg.Generation.InlineWait,
		DefaultTemperature:     cfg.LLM.Temperature,
		DefaultMaxOutputTokens: cfg.LLM.MaxOutputTokens,
		MaxOutputTokensLimit:   cfg.LLM.MaxOutputTokensLimit,
		ProviderConfigured:     generator != nil,
	}, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to create feedback service: %w", err)
	}

	if cfg.Auth.Enabled {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("bearer token authentication enabled")
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// setupInline builds the in-process queue and, when a generator exists, the
// runner that drains it. Completions reach waiting requests through the
// returned waiter.
func (app *application) setupInline(generator *generation.Client) *events.CompletionWaiter {
	app.queue = task.NewMemoryQueue(app.config.Queue.BufferSize, app.logger)

	waiter := events.NewCompletionWaiter()
	emitter := events.NewInMemoryEventEmitter(app.logger)
	emitter.RegisterHandler(waiter)

	if generator == nil {
		return waiter
	}

	processor := task.NewProcessor(app.ledger, generator, emitter, app.logger)
	processor.SetRecorder(app.metrics)

	app.runner = task.NewRunner(app.queue, processor, task.RunnerConfig{
		WorkerCount:     app.config.Task.WorkerCount,
		StuckAfter:      app.config.Task.StuckAfter,
		MonitorInterval: app.config.Task.MonitorInterval,
		RequeueDelay:    app.config.Task.RequeueDelay,
		MaxRequeueDelay: app.config.Task.MaxRequeueDelay,
	}, app.logger)
	app.runner.Pool().SetRecorder(app.metrics)
	app.runner.Monitor().SetRecorder(app.metrics)
	return waiter
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	if app.runner != nil {
		if err := app.runner.Start(); err != nil {
			app.cleanup(ctx)
			return fmt.Errorf("failed to start task runner: %w", err)
		}
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops background processing within the shutdown timeout and then
// releases every connection.
func (app *application) cleanup(ctx context.Context) {
	if app.runner != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Server.ShutdownTimeout)
		app.runner.Stop(stopCtx)
		cancel()
	}
	app.close()
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database connection", "error", redact.Error(err))
	}
}

// close releases the connections owned by the application. The database
// belongs to the caller until cleanup.
func (app *application) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.Error("error closing job queue", "error", redact.Error(err))
		}
	}
	if app.index != nil {
		if err := app.index.Close(); err != nil {
			app.logger.Error("error closing idempotency index", "error", redact.Error(err))
		}
	}
}
