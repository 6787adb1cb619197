package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CompletionWaiter lets callers block until a task completes. It is an
// EventHandler; register it with the emitter the workers publish to.
type CompletionWaiter struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]map[chan *TaskCompletedEvent]struct{}
}

// NewCompletionWaiter creates an empty CompletionWaiter.
func NewCompletionWaiter() *CompletionWaiter {
	return &CompletionWaiter{
		waiters: make(map[uuid.UUID]map[chan *TaskCompletedEvent]struct{}),
	}
}

var _ EventHandler = (*CompletionWaiter)(nil)

// Subscribe registers interest in taskID. The returned channel receives the
// completion event once. The cancel func must be called when the caller stops
// waiting; it is safe to call after delivery.
//
// Subscribe before dispatching work so a fast completion is not missed.
func (w *CompletionWaiter) Subscribe(taskID uuid.UUID) (<-chan *TaskCompletedEvent, func()) {
	ch := make(chan *TaskCompletedEvent, 1)

	w.mu.Lock()
	set, ok := w.waiters[taskID]
	if !ok {
		set = make(map[chan *TaskCompletedEvent]struct{})
		w.waiters[taskID] = set
	}
	set[ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if set, ok := w.waiters[taskID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.waiters, taskID)
			}
		}
	}
	return ch, cancel
}

// Wait blocks until taskID completes or ctx is done. It reports whether the
// task completed.
func (w *CompletionWaiter) Wait(ctx context.Context, taskID uuid.UUID) (*TaskCompletedEvent, bool) {
	ch, cancel := w.Subscribe(taskID)
	defer cancel()
	select {
	case ev := <-ch:
		return ev, true
	case <-ctx.Done():
		return nil, false
	}
}

// HandleEvent delivers event to every subscriber of its task.
func (w *CompletionWaiter) HandleEvent(_ context.Context, event *TaskCompletedEvent) error {
	w.mu.Lock()
	set := w.waiters[event.TaskID]
	delete(w.waiters, event.TaskID)
	w.mu.Unlock()

	for ch := range set {
		// Buffered with capacity one and each channel is delivered to once.
		ch <- event
	}
	return nil
}

// Pending returns the number of tasks with at least one subscriber.
func (w *CompletionWaiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
