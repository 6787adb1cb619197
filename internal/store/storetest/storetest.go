// Package storetest holds behavioural tests shared by every TaskLedger and
// RecordIndex implementation. Backend packages call these from their own
// tests with a fresh, empty store per subtest.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SampleInput returns a valid input context.
func SampleInput() domain.InputContext {
	return domain.InputContext{
		Question: domain.Question{
			Content:       "What is 7 x 8?",
			Choices:       []domain.Choice{{Label: "A", Text: "54"}, {Label: "B", Text: "56"}},
			CorrectAnswer: "B",
		},
		StudentAnswer: "A",
		Params:        domain.GenerationParams{Temperature: 0.7, MaxOutputTokens: 512},
	}
}

// NewTask builds a pending task for record.
func NewTask(t *testing.T, record string) *domain.GenerationTask {
	t.Helper()
	task, err := domain.NewGenerationTask(record, SampleInput())
	require.NoError(t, err)
	return task
}

// SampleFeedback returns a complete result.
func SampleFeedback() *domain.Feedback {
	return &domain.Feedback{
		WeaknessAssessment: "Multiplication facts for 7 are not yet automatic.",
		SolutionGuidance:   "7 x 8 = 7 x 4 x 2 = 28 x 2 = 56.",
	}
}

// RunLedgerTests exercises a TaskLedger. newLedger must return an empty ledger.
func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) store.TaskLedger) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		ledger := newLedger(t)
		task := NewTask(t, "rec-create")
		require.NoError(t, ledger.Create(ctx, task))

		got, err := ledger.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, "rec-create", got.ExerciseRecordID)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, task.Input, got.Input)
		assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("get unknown task", func(t *testing.T) {
		ledger := newLedger(t)
		_, err := ledger.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("second active task conflicts", func(t *testing.T) {
		ledger := newLedger(t)
		require.NoError(t, ledger.Create(ctx, NewTask(t, "rec-conflict")))

		err := ledger.Create(ctx, NewTask(t, "rec-conflict"))
		var conflict *store.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "rec-conflict", conflict.ExerciseRecordID)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("new task allowed after terminal", func(t *testing.T) {
		ledger := newLedger(t)
		first := NewTask(t, "rec-retry")
		require.NoError(t, ledger.Create(ctx, first))
		_, err := ledger.Transition(ctx, first.ID, store.Transition{
			To:    domain.TaskStatusFailed,
			Error: &domain.TaskError{Code: domain.TaskErrorEnqueueFailed, Message: "broker down"},
		})
		require.NoError(t, err)

		assert.NoError(t, ledger.Create(ctx, NewTask(t, "rec-retry")))
	})

	t.Run("full lifecycle", func(t *testing.T) {
		ledger := newLedger(t)
		task := NewTask(t, "rec-lifecycle")
		require.NoError(t, ledger.Create(ctx, task))

		running, err := ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusRunning})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusRunning, running.Status)
		assert.Nil(t, running.CompletedAt)

		done, err := ledger.Transition(ctx, task.ID, store.Transition{
			To:     domain.TaskStatusSucceeded,
			Result: SampleFeedback(),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, done.Status)
		require.NotNil(t, done.Result)
		assert.Equal(t, *SampleFeedback(), *done.Result)
		assert.NotNil(t, done.CompletedAt)
		assert.Equal(t, task.Input, done.Input)
	})

	t.Run("terminal task rejects transitions", func(t *testing.T) {
		ledger := newLedger(t)
		task := NewTask(t, "rec-terminal")
		require.NoError(t, ledger.Create(ctx, task))
		_, err := ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusRunning})
		require.NoError(t, err)
		_, err = ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusSucceeded, Result: SampleFeedback()})
		require.NoError(t, err)

		_, err = ledger.Transition(ctx, task.ID, store.Transition{
			To:    domain.TaskStatusFailed,
			Error: &domain.TaskError{Code: domain.TaskErrorStuck, Message: "late"},
		})
		var invalid *store.InvalidStateError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, domain.TaskStatusSucceeded, invalid.Current)
		assert.Equal(t, domain.TaskStatusFailed, invalid.Requested)
		assert.ErrorIs(t, err, store.ErrInvalidState)

		got, err := ledger.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
		assert.Nil(t, got.Error)
	})

	t.Run("skipping running is rejected", func(t *testing.T) {
		ledger := newLedger(t)
		task := NewTask(t, "rec-skip")
		require.NoError(t, ledger.Create(ctx, task))

		_, err := ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusSucceeded, Result: SampleFeedback()})
		assert.ErrorIs(t, err, store.ErrInvalidState)
	})

	t.Run("transition unknown task", func(t *testing.T) {
		ledger := newLedger(t)
		_, err := ledger.Transition(ctx, uuid.New(), store.Transition{To: domain.TaskStatusRunning})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent claim has one winner", func(t *testing.T) {
		ledger := newLedger(t)
		task := NewTask(t, "rec-race")
		require.NoError(t, ledger.Create(ctx, task))

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			invalid int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.Transition(ctx, task.ID, store.Transition{To: domain.TaskStatusRunning})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, store.ErrInvalidState):
					invalid++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, invalid)
	})

	t.Run("find latest prefers non-failed", func(t *testing.T) {
		ledger := newLedger(t)

		_, err := ledger.FindLatestByRecord(ctx, "rec-latest")
		assert.ErrorIs(t, err, store.ErrNotFound)

		ok := NewTask(t, "rec-latest")
		require.NoError(t, ledger.Create(ctx, ok))
		_, err = ledger.Transition(ctx, ok.ID, store.Transition{To: domain.TaskStatusRunning})
		require.NoError(t, err)
		_, err = ledger.Transition(ctx, ok.ID, store.Transition{To: domain.TaskStatusSucceeded, Result: SampleFeedback()})
		require.NoError(t, err)

		failed := NewTask(t, "rec-latest")
		failed.CreatedAt = failed.CreatedAt.Add(time.Second)
		failed.UpdatedAt = failed.CreatedAt
		require.NoError(t, ledger.Create(ctx, failed))
		_, err = ledger.Transition(ctx, failed.ID, store.Transition{
			To:    domain.TaskStatusFailed,
			Error: &domain.TaskError{Code: domain.TaskErrorEnqueueFailed, Message: "broker down"},
		})
		require.NoError(t, err)

		latest, err := ledger.FindLatestByRecord(ctx, "rec-latest")
		require.NoError(t, err)
		assert.Equal(t, ok.ID, latest.ID)
	})

	t.Run("find latest falls back to newest failed", func(t *testing.T) {
		ledger := newLedger(t)

		var last uuid.UUID
		base := domain.Now()
		for i := range 2 {
			task := NewTask(t, "rec-all-failed")
			task.CreatedAt = base.Add(time.Duration(i) * time.Second)
			task.UpdatedAt = task.CreatedAt
			require.NoError(t, ledger.Create(ctx, task))
			_, err := ledger.Transition(ctx, task.ID, store.Transition{
				To:    domain.TaskStatusFailed,
				Error: &domain.TaskError{Code: domain.TaskErrorEnqueueFailed, Message: "broker down"},
			})
			require.NoError(t, err)
			last = task.ID
		}

		latest, err := ledger.FindLatestByRecord(ctx, "rec-all-failed")
		require.NoError(t, err)
		assert.Equal(t, last, latest.ID)
		require.NotNil(t, latest.Error)
		assert.Equal(t, domain.TaskErrorEnqueueFailed, latest.Error.Code)
	})

	t.Run("list stale", func(t *testing.T) {
		ledger := newLedger(t)

		old := NewTask(t, "rec-stale-old")
		old.CreatedAt = domain.Now().Add(-time.Hour)
		old.UpdatedAt = old.CreatedAt
		require.NoError(t, ledger.Create(ctx, old))
		require.NoError(t, ledger.Create(ctx, NewTask(t, "rec-stale-fresh")))

		stale, err := ledger.ListStale(ctx, domain.TaskStatusPending, 10*time.Minute)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)

		running, err := ledger.ListStale(ctx, domain.TaskStatusRunning, 10*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, running)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newLedger(t).Ping(ctx))
	})
}

// RunIndexTests exercises a RecordIndex. newIndex must return an empty index.
func RunIndexTests(t *testing.T, newIndex func(t *testing.T) store.RecordIndex) {
	ctx := context.Background()

	t.Run("claim once", func(t *testing.T) {
		idx := newIndex(t)
		first, second := uuid.New(), uuid.New()

		won, err := idx.Claim(ctx, "rec-1", first)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = idx.Claim(ctx, "rec-1", second)
		require.NoError(t, err)
		assert.False(t, won)

		got, err := idx.Lookup(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, first, got)
	})

	t.Run("lookup missing", func(t *testing.T) {
		_, err := newIndex(t).Lookup(ctx, "rec-missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("swap compares", func(t *testing.T) {
		idx := newIndex(t)
		first, second, third := uuid.New(), uuid.New(), uuid.New()
		_, err := idx.Claim(ctx, "rec-swap", first)
		require.NoError(t, err)

		swapped, err := idx.Swap(ctx, "rec-swap", third, second)
		require.NoError(t, err)
		assert.False(t, swapped)

		swapped, err = idx.Swap(ctx, "rec-swap", first, second)
		require.NoError(t, err)
		assert.True(t, swapped)

		got, err := idx.Lookup(ctx, "rec-swap")
		require.NoError(t, err)
		assert.Equal(t, second, got)
	})

	t.Run("release compares", func(t *testing.T) {
		idx := newIndex(t)
		owner := uuid.New()
		_, err := idx.Claim(ctx, "rec-release", owner)
		require.NoError(t, err)

		require.NoError(t, idx.Release(ctx, "rec-release", uuid.New()))
		_, err = idx.Lookup(ctx, "rec-release")
		require.NoError(t, err)

		require.NoError(t, idx.Release(ctx, "rec-release", owner))
		_, err = idx.Lookup(ctx, "rec-release")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		idx := newIndex(t)
		const claimers = 8

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range claimers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := idx.Claim(ctx, "rec-race", uuid.New())
				if err == nil && won {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newIndex(t).Ping(ctx))
	})
}
