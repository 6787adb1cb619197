package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Delivery outcomes reported to the Recorder.
const (
	OutcomeAcked     = "acked"
	OutcomeRequeued  = "requeued"
	OutcomeRejected  = "rejected"
	OutcomePanicked  = "panicked"
	outcomeAckFailed = "ack_failed"
)

// Recorder observes handled deliveries.
type Recorder interface {
	ObserveJob(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveJob(string, time.Duration) {}

// WorkerPool manages a pool of worker goroutines that consume jobs from a
// JobQueue and hand them to a Handler. It handles graceful shutdown and
// worker lifecycle.
type WorkerPool struct {
	// queue provides the deliveries to be processed
	queue JobQueue

	// handler executes each job
	handler Handler

	// workerCount is the number of concurrent workers to start
	workerCount int

	// requeueDelay and maxRequeueDelay bound the backoff before a
	// redeliverable job is handed back to the queue
	requeueDelay    time.Duration
	maxRequeueDelay time.Duration

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// consumeCtx stops the consume loop; processCtx is handed to the
	// handler and is only cancelled once a graceful stop runs out of time
	consumeCtx    context.Context
	stopConsuming context.CancelFunc
	processCtx    context.Context
	abort         context.CancelFunc

	logger   *slog.Logger
	recorder Recorder

	// errorHandler is called when a job fails
	// If nil, errors are only logged
	errorHandler func(job Job, err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// RequeueDelay is how long a worker holds a job that asked for
	// redelivery before releasing it. The delay doubles with each
	// consecutive redelivery on the same worker up to MaxRequeueDelay.
	// Zero requeues immediately.
	RequeueDelay time.Duration

	// MaxRequeueDelay caps the backoff. If zero, RequeueDelay is used.
	MaxRequeueDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     4,
		RequeueDelay:    time.Second,
		MaxRequeueDelay: 30 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue JobQueue, handler Handler, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_pool")

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	maxDelay := config.MaxRequeueDelay
	if maxDelay < config.RequeueDelay {
		maxDelay = config.RequeueDelay
	}

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	processCtx, abort := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:           queue,
		handler:         handler,
		workerCount:     workerCount,
		requeueDelay:    config.RequeueDelay,
		maxRequeueDelay: maxDelay,
		consumeCtx:      consumeCtx,
		stopConsuming:   stopConsuming,
		processCtx:      processCtx,
		abort:           abort,
		logger:          logger,
		recorder:        nopRecorder{},
	}
}

// SetErrorHandler allows setting a custom error handler for job failures
func (p *WorkerPool) SetErrorHandler(handler func(job Job, err error)) {
	p.errorHandler = handler
}

// SetRecorder sets the observer of handled deliveries.
func (p *WorkerPool) SetRecorder(r Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// Start begins consuming and launches the workers.
func (p *WorkerPool) Start() error {
	deliveries, err := p.queue.Consume(p.consumeCtx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, deliveries)
	}
	return nil
}

// Stop stops consuming and waits for in-flight jobs. If ctx ends first the
// jobs' contexts are cancelled and Stop waits for the workers to return.
func (p *WorkerPool) Stop(ctx context.Context) {
	p.logger.Info("stopping worker pool")
	p.stopConsuming()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("graceful stop timed out, cancelling in-flight jobs")
		p.abort()
		<-done
	}
	p.abort()
	p.logger.Info("worker pool stopped")
}

// worker handles deliveries until the channel is closed
func (p *WorkerPool) worker(id int, deliveries <-chan Delivery) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	requeues := 0
	for d := range deliveries {
		if p.handle(id, d, requeues) == OutcomeRequeued {
			requeues++
		} else {
			requeues = 0
		}
	}
	p.logger.Debug("delivery channel closed, stopping worker", "worker_id", id)
}

// handle executes one delivery, settles it and returns the outcome.
// requeues counts the worker's consecutive redeliveries so far.
func (p *WorkerPool) handle(workerID int, d Delivery, requeues int) string {
	job := d.Job()
	log := p.logger.With("task_id", job.TaskID, "worker_id", workerID)
	start := time.Now()

	err := p.safeProcess(job)

	var outcome string
	var settleErr error
	switch {
	case err == nil:
		outcome = OutcomeAcked
		settleErr = d.Ack()
	case errors.Is(err, errPanicked):
		outcome = OutcomePanicked
		log.Error("job handler panicked", "error", err)
		settleErr = d.Nack(false)
	case errors.Is(err, ErrRequeue):
		outcome = OutcomeRequeued
		delay := p.backoff(requeues)
		log.Warn("job will be redelivered", "error", err, "delay", delay)
		p.hold(delay)
		settleErr = d.Nack(true)
	default:
		outcome = OutcomeRejected
		log.Error("job failed", "error", err)
		settleErr = d.Nack(false)
	}

	if settleErr != nil {
		outcome = outcomeAckFailed
		log.Error("failed to settle delivery", "error", settleErr)
	}
	p.recorder.ObserveJob(outcome, time.Since(start))

	if err != nil && p.errorHandler != nil {
		p.errorHandler(job, err)
	}
	return outcome
}

// backoff returns the delay before the next redelivery after n consecutive
// ones.
func (p *WorkerPool) backoff(n int) time.Duration {
	if p.requeueDelay <= 0 {
		return 0
	}
	delay := p.requeueDelay
	for i := 0; i < n && delay < p.maxRequeueDelay; i++ {
		delay *= 2
	}
	if delay > p.maxRequeueDelay {
		delay = p.maxRequeueDelay
	}
	return delay
}

// hold waits for delay. Stopping the pool ends the wait early so the job is
// released back to the queue without delaying shutdown.
func (p *WorkerPool) hold(delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.consumeCtx.Done():
	case <-p.processCtx.Done():
	}
}

var errPanicked = errors.New("job handler panicked")

func (p *WorkerPool) safeProcess(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return p.handler.Process(p.processCtx, job)
}
