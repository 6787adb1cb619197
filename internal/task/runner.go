package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// StuckAfter defines how long a task can sit in pending or running
	// before the monitor acts on it
	StuckAfter time.Duration

	// MonitorInterval defines how often to check for stuck tasks
	// If zero, defaults to one minute
	MonitorInterval time.Duration

	// RequeueDelay and MaxRequeueDelay bound the worker backoff before a
	// job that failed on a dependency is redelivered
	RequeueDelay    time.Duration
	MaxRequeueDelay time.Duration
}

// Runner manages background task processing: a worker pool draining the
// queue and the stuck-task monitor.
type Runner struct {
	pool    *WorkerPool
	monitor *Monitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRunner wires a worker pool and a monitor around queue and processor.
func NewRunner(queue JobQueue, processor *Processor, config RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pool: NewWorkerPool(queue, processor, WorkerPoolConfig{
			WorkerCount:     config.WorkerCount,
			RequeueDelay:    config.RequeueDelay,
			MaxRequeueDelay: config.MaxRequeueDelay,
		}, logger),
		monitor: NewMonitor(processor.ledger, queue, processor.emitter, MonitorConfig{
			StuckAfter: config.StuckAfter,
			Interval:   config.MonitorInterval,
		}, logger),
		logger: logger.With("component", "task_runner"),
	}
}

// Pool returns the runner's worker pool.
func (r *Runner) Pool() *WorkerPool { return r.pool }

// Monitor returns the runner's stuck-task monitor.
func (r *Runner) Monitor() *Monitor { return r.monitor }

// Start launches the workers and the monitor. The monitor's first sweep
// recovers tasks left over from a previous run.
func (r *Runner) Start() error {
	if err := r.pool.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.monitor.Run(ctx)
	}()

	r.logger.Info("task runner started")
	return nil
}

// Stop stops the monitor and gracefully shuts the pool down within ctx.
func (r *Runner) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.pool.Stop(ctx)
	r.logger.Info("task runner stopped")
}
