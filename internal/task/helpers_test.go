package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/events"
	"github.com/phrazzld/scry-feedback-api/internal/platform/sqlite"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLedger returns an empty ledger on an in-memory SQLite database.
func newLedger(t *testing.T) store.TaskLedger {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db, setupTestLogger()))
	return sqlite.NewTaskStore(db, setupTestLogger())
}

// createTask stores a pending task for record.
func createTask(t *testing.T, ledger store.TaskLedger, record string) *domain.GenerationTask {
	t.Helper()
	task := storetest.NewTask(t, record)
	require.NoError(t, ledger.Create(context.Background(), task))
	return task
}

// stubGenerator counts calls and returns fixed feedback unless fn is set.
type stubGenerator struct {
	calls atomic.Int32
	fn    func(ctx context.Context, in domain.InputContext) domain.Feedback
}

func (g *stubGenerator) Generate(ctx context.Context, in domain.InputContext) domain.Feedback {
	g.calls.Add(1)
	if g.fn != nil {
		return g.fn(ctx, in)
	}
	return *storetest.SampleFeedback()
}

// eventRecorder collects emitted completion events.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.TaskCompletedEvent
}

func (r *eventRecorder) EmitEvent(_ context.Context, e *events.TaskCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) all() []*events.TaskCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.TaskCompletedEvent(nil), r.events...)
}

// fakeDelivery records how it was settled.
type fakeDelivery struct {
	job     Job
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	settled chan struct{}
}

func newFakeDelivery(job Job) *fakeDelivery {
	return &fakeDelivery{job: job, settled: make(chan struct{})}
}

func (d *fakeDelivery) Job() Job { return d.job }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	d.acked = true
	d.mu.Unlock()
	close(d.settled)
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	d.nacked = true
	d.requeue = requeue
	d.mu.Unlock()
	close(d.settled)
	return nil
}

// chanQueue hands out deliveries pushed by the test.
type chanQueue struct {
	ch chan Delivery
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan Delivery, 10)}
}

func (q *chanQueue) Enqueue(context.Context, Job) error { return nil }

func (q *chanQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-q.ch:
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *chanQueue) Ready(context.Context) error { return nil }

func (q *chanQueue) Close() error { return nil }
