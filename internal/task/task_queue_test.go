package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() Job {
	return Job{TaskID: uuid.New(), ExerciseRecordID: "er-1", EnqueuedAt: time.Now()}
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func TestMemoryQueue(t *testing.T) {
	logger := setupTestLogger()
	ctx := context.Background()

	t.Run("enqueue and consume", func(t *testing.T) {
		queue := NewMemoryQueue(10, logger)
		defer queue.Close()
		job := testJob()

		require.NoError(t, queue.Enqueue(ctx, job))
		assert.Equal(t, 1, queue.Len())

		consumeCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		deliveries, err := queue.Consume(consumeCtx)
		require.NoError(t, err)

		d := receive(t, deliveries)
		assert.Equal(t, job.TaskID, d.Job().TaskID)
		assert.NoError(t, d.Ack())
	})

	t.Run("full queue", func(t *testing.T) {
		queue := NewMemoryQueue(2, logger)
		defer queue.Close()

		require.NoError(t, queue.Enqueue(ctx, testJob()))
		require.NoError(t, queue.Enqueue(ctx, testJob()))
		err := queue.Enqueue(ctx, testJob())
		assert.ErrorIs(t, err, ErrQueueFull)
	})

	t.Run("closed queue", func(t *testing.T) {
		queue := NewMemoryQueue(2, logger)
		require.NoError(t, queue.Ready(ctx))
		require.NoError(t, queue.Close())
		require.NoError(t, queue.Close())

		assert.ErrorIs(t, queue.Enqueue(ctx, testJob()), ErrQueueClosed)
		assert.ErrorIs(t, queue.Ready(ctx), ErrQueueClosed)
		_, err := queue.Consume(ctx)
		assert.ErrorIs(t, err, ErrQueueClosed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		queue := NewMemoryQueue(2, logger)
		defer queue.Close()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, queue.Enqueue(cancelled, testJob()), context.Canceled)
	})

	t.Run("nack with requeue redelivers", func(t *testing.T) {
		queue := NewMemoryQueue(2, logger)
		defer queue.Close()
		job := testJob()
		require.NoError(t, queue.Enqueue(ctx, job))

		consumeCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		deliveries, err := queue.Consume(consumeCtx)
		require.NoError(t, err)

		require.NoError(t, receive(t, deliveries).Nack(true))
		again := receive(t, deliveries)
		assert.Equal(t, job.TaskID, again.Job().TaskID)
		require.NoError(t, again.Nack(false))

		select {
		case d := <-deliveries:
			t.Fatalf("unexpected redelivery of %s", d.Job().TaskID)
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("close drains buffered jobs", func(t *testing.T) {
		queue := NewMemoryQueue(2, logger)
		require.NoError(t, queue.Enqueue(ctx, testJob()))

		deliveries, err := queue.Consume(ctx)
		require.NoError(t, err)
		require.NoError(t, queue.Close())

		receive(t, deliveries)
		_, ok := <-deliveries
		assert.False(t, ok)
	})

	t.Run("size is at least one", func(t *testing.T) {
		queue := NewMemoryQueue(0, logger)
		defer queue.Close()
		assert.NoError(t, queue.Enqueue(ctx, testJob()))
	})
}
