package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/scry-feedback-api/internal/api/shared"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/metrics"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// worker owns the runner and the metrics listener of the worker process.
type worker struct {
	config   *config.Config
	runner   *task.Runner
	checker  *health.Checker
	registry *prometheus.Registry
	logger   *slog.Logger
}

// newWorker wires a processor and runner around queue. Completions are not
// broadcast: API instances in queued mode read results from the ledger.
func newWorker(
	cfg *config.Config,
	ledger store.TaskLedger,
	queue task.JobQueue,
	generator task.Generator,
	registry *prometheus.Registry,
	m *metrics.Metrics,
	logger *slog.Logger,
) *worker {
	processor := task.NewProcessor(ledger, generator, nil, logger)
	processor.SetRecorder(m)

	runner := task.NewRunner(queue, processor, task.RunnerConfig{
		WorkerCount:     cfg.Task.WorkerCount,
		StuckAfter:      cfg.Task.StuckAfter,
		MonitorInterval: cfg.Task.MonitorInterval,
		RequeueDelay:    cfg.Task.RequeueDelay,
		MaxRequeueDelay: cfg.Task.MaxRequeueDelay,
	}, logger)
	runner.Pool().SetRecorder(m)
	runner.Monitor().SetRecorder(m)

	checker := health.NewChecker(health.DefaultTimeout, logger)
	checker.SetObserver(m)
	checker.Register(health.CheckLedger, ledger.Ping)
	checker.Register(health.CheckQueue, queue.Ready)

	return &worker{
		config:   cfg,
		runner:   runner,
		checker:  checker,
		registry: registry,
		logger:   logger,
	}
}

// routes serves the worker's metrics and health endpoints.
func (w *worker) routes() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		report := w.checker.Run(req.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		shared.RespondWithJSON(rw, req, status, report)
	})
	return r
}

// Run processes jobs until ctx is cancelled, then drains the pool within
// the shutdown timeout.
func (w *worker) Run(ctx context.Context) error {
	if err := w.runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if w.config.Metrics.Enabled && w.config.Metrics.WorkerPort > 0 {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", w.config.Metrics.WorkerPort),
			Handler:           w.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			w.logger.Info("serving worker metrics", "port", w.config.Metrics.WorkerPort)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("shutting down worker")
	case err := <-serverErr:
		w.logger.Error("metrics server failed", "error", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.config.Server.ShutdownTimeout)
	defer cancel()

	w.runner.Stop(shutdownCtx)
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("metrics server shutdown failed: %w", err))
		}
	}

	w.logger.Info("worker stopped")
	return runErr
}
