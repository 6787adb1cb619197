package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/platform/sqlite"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) store.TaskLedger {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db, testLogger()))
	return sqlite.NewTaskStore(db, testLogger())
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) ObserveReservation(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[outcome]++
}

// scriptedIndex overrides selected RecordIndex methods.
type scriptedIndex struct {
	*MemoryIndex
	claimFn  func(ctx context.Context, record string, id uuid.UUID) (bool, error)
	lookupFn func(ctx context.Context, record string) (uuid.UUID, error)
}

func (s *scriptedIndex) Claim(ctx context.Context, record string, id uuid.UUID) (bool, error) {
	if s.claimFn != nil {
		return s.claimFn(ctx, record, id)
	}
	return s.MemoryIndex.Claim(ctx, record, id)
}

func (s *scriptedIndex) Lookup(ctx context.Context, record string) (uuid.UUID, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, record)
	}
	return s.MemoryIndex.Lookup(ctx, record)
}

// failingLedger fails Create with createErr and FindLatestByRecord with
// findErr when set.
type failingLedger struct {
	store.TaskLedger
	createErr error
	findErr   error
}

func (l *failingLedger) FindLatestByRecord(ctx context.Context, record string) (*domain.GenerationTask, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.TaskLedger.FindLatestByRecord(ctx, record)
}

func (l *failingLedger) Create(ctx context.Context, task *domain.GenerationTask) error {
	if l.createErr != nil {
		return l.createErr
	}
	return l.TaskLedger.Create(ctx, task)
}

func finish(t *testing.T, ledger store.TaskLedger, id uuid.UUID, to domain.TaskStatus) {
	t.Helper()
	ctx := context.Background()
	if to == domain.TaskStatusSucceeded {
		_, err := ledger.Transition(ctx, id, store.Transition{To: domain.TaskStatusRunning})
		require.NoError(t, err)
		_, err = ledger.Transition(ctx, id, store.Transition{To: to, Result: storetest.SampleFeedback()})
		require.NoError(t, err)
		return
	}
	_, err := ledger.Transition(ctx, id, store.Transition{
		To:    domain.TaskStatusFailed,
		Error: &domain.TaskError{Code: domain.TaskErrorStuck, Message: "no progress"},
	})
	require.NoError(t, err)
}

func TestGuard_SequentialReservationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	counter := &outcomeCounter{}
	guard := NewGuard(ledger, NewMemoryIndex(), Config{Attempts: 3, ClaimWait: time.Millisecond}, testLogger())
	guard.SetRecorder(counter)

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	assert.True(t, first.Created)

	for i := 0; i < 5; i++ {
		again, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.Task.ID, again.Task.ID)
	}

	assert.Equal(t, map[string]int{OutcomeCreated: 1, OutcomeHit: 5}, counter.counts)
}

func TestGuard_SucceededTaskIsACacheHit(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	guard := NewGuard(ledger, NewMemoryIndex(), Config{}, testLogger())

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	finish(t, ledger, first.Task.ID, domain.TaskStatusSucceeded)

	hit, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	assert.False(t, hit.Created)
	assert.Equal(t, first.Task.ID, hit.Task.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, hit.Task.Status)
}

func TestGuard_FailedTaskIsRetried(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	index := NewMemoryIndex()
	guard := NewGuard(ledger, index, Config{}, testLogger())

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	finish(t, ledger, first.Task.ID, domain.TaskStatusFailed)

	candidate := storetest.NewTask(t, "er-1")
	retry, err := guard.Reserve(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, retry.Created)
	assert.Equal(t, candidate.ID, retry.Task.ID)

	indexed, err := index.Lookup(ctx, "er-1")
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, indexed)
}

func TestGuard_RecoversFromLostIndex(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	index := NewMemoryIndex()
	guard := NewGuard(ledger, index, Config{}, testLogger())

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)

	index.Flush()

	again, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Task.ID, again.Task.ID)

	indexed, err := index.Lookup(ctx, "er-1")
	require.NoError(t, err)
	assert.Equal(t, first.Task.ID, indexed, "index is repaired")
}

func TestGuard_SucceededTaskSurvivesLostIndex(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	index := NewMemoryIndex()
	counter := &outcomeCounter{}
	guard := NewGuard(ledger, index, Config{}, testLogger())
	guard.SetRecorder(counter)

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	finish(t, ledger, first.Task.ID, domain.TaskStatusSucceeded)

	index.Flush()

	again, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	assert.False(t, again.Created, "a succeeded record is never regenerated")
	assert.Equal(t, first.Task.ID, again.Task.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, again.Task.Status)

	indexed, err := index.Lookup(ctx, "er-1")
	require.NoError(t, err)
	assert.Equal(t, first.Task.ID, indexed)

	latest, err := ledger.FindLatestByRecord(ctx, "er-1")
	require.NoError(t, err)
	assert.Equal(t, first.Task.ID, latest.ID, "no new task was created")
	assert.Equal(t, map[string]int{OutcomeCreated: 1, OutcomeHit: 1}, counter.counts)
}

func TestGuard_FailedTaskIsRetriedAfterLostIndex(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	index := NewMemoryIndex()
	guard := NewGuard(ledger, index, Config{}, testLogger())

	first, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
	require.NoError(t, err)
	finish(t, ledger, first.Task.ID, domain.TaskStatusFailed)

	index.Flush()

	candidate := storetest.NewTask(t, "er-1")
	retry, err := guard.Reserve(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, retry.Created)
	assert.Equal(t, candidate.ID, retry.Task.ID)
}

func TestGuard_ReplacesStaleEntry(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryIndex()
	ghost := uuid.New()
	_, err := index.Claim(ctx, "er-1", ghost)
	require.NoError(t, err)

	guard := NewGuard(newLedger(t), index, Config{Attempts: 3}, testLogger())
	candidate := storetest.NewTask(t, "er-1")
	res, err := guard.Reserve(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, res.Created)

	indexed, err := index.Lookup(ctx, "er-1")
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, indexed)
}

func TestGuard_ConcurrentReservationsCollapse(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	guard := NewGuard(ledger, NewMemoryIndex(), Config{Attempts: 20, ClaimWait: 5 * time.Millisecond}, testLogger())

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]struct{}{}
	)
	for i := 0; i < callers; i++ {
		candidate := storetest.NewTask(t, "er-race")
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.Reserve(ctx, candidate)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Created {
				created++
			}
			ids[res.Task.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1, "every caller sees the same task")

	latest, err := ledger.FindLatestByRecord(ctx, "er-race")
	require.NoError(t, err)
	assert.Contains(t, ids, latest.ID)
}

func TestGuard_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("index claim failure", func(t *testing.T) {
		index := &scriptedIndex{MemoryIndex: NewMemoryIndex(), claimFn: func(context.Context, string, uuid.UUID) (bool, error) {
			return false, errors.New("connection refused")
		}}
		guard := NewGuard(newLedger(t), index, Config{}, testLogger())

		_, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, DependencyIndex, unavailable.Dependency)
	})

	t.Run("ledger create failure releases the claim", func(t *testing.T) {
		index := NewMemoryIndex()
		ledger := &failingLedger{TaskLedger: newLedger(t), createErr: errors.New("disk full")}
		guard := NewGuard(ledger, index, Config{}, testLogger())

		_, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, DependencyLedger, unavailable.Dependency)

		_, err = index.Lookup(ctx, "er-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ledger lookup failure releases the claim", func(t *testing.T) {
		index := NewMemoryIndex()
		ledger := &failingLedger{TaskLedger: newLedger(t), findErr: errors.New("connection reset")}
		guard := NewGuard(ledger, index, Config{}, testLogger())

		_, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, DependencyLedger, unavailable.Dependency)

		_, err = index.Lookup(ctx, "er-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("invalid entity is returned as is", func(t *testing.T) {
		ledger := &failingLedger{TaskLedger: newLedger(t), createErr: store.ErrInvalidEntity}
		guard := NewGuard(ledger, NewMemoryIndex(), Config{}, testLogger())

		_, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		var unavailable *UnavailableError
		assert.False(t, errors.As(err, &unavailable))
	})

	t.Run("contended after attempts", func(t *testing.T) {
		counter := &outcomeCounter{}
		index := &scriptedIndex{
			MemoryIndex: NewMemoryIndex(),
			claimFn:     func(context.Context, string, uuid.UUID) (bool, error) { return false, nil },
			lookupFn:    func(context.Context, string) (uuid.UUID, error) { return uuid.Nil, store.ErrNotFound },
		}
		guard := NewGuard(newLedger(t), index, Config{Attempts: 3}, testLogger())
		guard.SetRecorder(counter)

		_, err := guard.Reserve(ctx, storetest.NewTask(t, "er-1"))
		assert.ErrorIs(t, err, ErrContended)
		assert.Equal(t, 1, counter.counts[OutcomeContended])
	})

	t.Run("context cancelled between attempts", func(t *testing.T) {
		index := &scriptedIndex{
			MemoryIndex: NewMemoryIndex(),
			claimFn:     func(context.Context, string, uuid.UUID) (bool, error) { return false, nil },
			lookupFn:    func(context.Context, string) (uuid.UUID, error) { return uuid.Nil, store.ErrNotFound },
		}
		guard := NewGuard(newLedger(t), index, Config{Attempts: 5, ClaimWait: time.Hour}, testLogger())

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := guard.Reserve(cctx, storetest.NewTask(t, "er-1"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("timeout")
	err := &UnavailableError{Dependency: DependencyLedger, Err: cause}
	assert.Equal(t, "ledger unavailable: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
}
