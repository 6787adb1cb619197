package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionWaiter(t *testing.T) {
	t.Run("delivers to every subscriber of the task", func(t *testing.T) {
		w := NewCompletionWaiter()
		event := NewTaskCompletedEvent(completedTask())

		first, cancelFirst := w.Subscribe(event.TaskID)
		defer cancelFirst()
		second, cancelSecond := w.Subscribe(event.TaskID)
		defer cancelSecond()
		other, cancelOther := w.Subscribe(uuid.New())
		defer cancelOther()

		require.NoError(t, w.HandleEvent(context.Background(), event))

		assert.Same(t, event, <-first)
		assert.Same(t, event, <-second)
		select {
		case <-other:
			t.Fatal("unrelated subscriber must not be notified")
		default:
		}
		assert.Equal(t, 1, w.Pending())
	})

	t.Run("cancel unsubscribes", func(t *testing.T) {
		w := NewCompletionWaiter()
		id := uuid.New()
		_, cancel := w.Subscribe(id)
		assert.Equal(t, 1, w.Pending())

		cancel()
		cancel()
		assert.Zero(t, w.Pending())
	})

	t.Run("wait returns on completion", func(t *testing.T) {
		w := NewCompletionWaiter()
		event := NewTaskCompletedEvent(completedTask())

		var wg sync.WaitGroup
		wg.Add(1)
		var (
			got *TaskCompletedEvent
			ok  bool
		)
		go func() {
			defer wg.Done()
			got, ok = w.Wait(context.Background(), event.TaskID)
		}()

		require.Eventually(t, func() bool { return w.Pending() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, w.HandleEvent(context.Background(), event))
		wg.Wait()

		assert.True(t, ok)
		assert.Same(t, event, got)
		assert.Zero(t, w.Pending())
	})

	t.Run("wait gives up when the context ends", func(t *testing.T) {
		w := NewCompletionWaiter()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		got, ok := w.Wait(ctx, uuid.New())
		assert.False(t, ok)
		assert.Nil(t, got)
		assert.Zero(t, w.Pending())
	})
}
