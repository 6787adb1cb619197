package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryQueue is a bounded in-process JobQueue backed by a buffered channel.
// Jobs survive Nack(true) but not a process restart; the monitor re-enqueues
// pending tasks after one.
type MemoryQueue struct {
	jobs   chan Job
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ JobQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a new queue with the specified buffer size
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		jobs:   make(chan Job, size),
		logger: logger.With("component", "memory_queue"),
	}
}

// Enqueue adds a job to the queue.
// Returns an error if the queue is full or closed
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			"task_id", job.TaskID,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Consume implements JobQueue. Several consumers may share the queue.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- &memoryDelivery{queue: q, job: job}:
				case <-ctx.Done():
					// Not handed out; put it back for the next consumer.
					q.requeue(job)
					return
				}
			}
		}
	}()
	return out, nil
}

// Ready implements JobQueue.
func (q *MemoryQueue) Ready(context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close closes the queue, preventing further job submission. Buffered jobs
// are still delivered to running consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
		q.logger.Info("job queue closed")
	}
	return nil
}

func (q *MemoryQueue) requeue(job Job) {
	if err := q.Enqueue(context.Background(), job); err != nil {
		q.logger.Error("failed to requeue job, dropping it",
			"task_id", job.TaskID,
			"error", err)
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   Job
	once  sync.Once
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack() error { return nil }

func (d *memoryDelivery) Nack(requeue bool) error {
	var err error
	d.once.Do(func() {
		if !requeue {
			d.queue.logger.Warn("job rejected without requeue, dropping it", "task_id", d.job.TaskID)
			return
		}
		err = d.queue.Enqueue(context.Background(), d.job)
	})
	return err
}
