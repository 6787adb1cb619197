package task

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Sweep(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	queue := NewMemoryQueue(10, setupTestLogger())
	defer queue.Close()
	emitted := &eventRecorder{}

	stuck := createTask(t, ledger, "er-stuck")
	_, err := ledger.Transition(ctx, stuck.ID, store.Transition{To: domain.TaskStatusRunning})
	require.NoError(t, err)
	orphan := createTask(t, ledger, "er-orphan")
	done := createTask(t, ledger, "er-done")
	_, err = ledger.Transition(ctx, done.ID, store.Transition{To: domain.TaskStatusRunning})
	require.NoError(t, err)
	_, err = ledger.Transition(ctx, done.ID, store.Transition{To: domain.TaskStatusSucceeded, Result: &domain.Feedback{
		WeaknessAssessment: "a", SolutionGuidance: "g",
	}})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	monitor := NewMonitor(ledger, queue, emitted, MonitorConfig{StuckAfter: time.Millisecond}, setupTestLogger())
	res, err := monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1, Requeued: 1}, res)

	got, err := ledger.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.TaskErrorStuck, got.Error.Code)

	got, err = ledger.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)

	require.Equal(t, 1, queue.Len())
	deliveries, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, receive(t, deliveries).Job().TaskID)

	evs := emitted.all()
	require.Len(t, evs, 1)
	assert.Equal(t, stuck.ID, evs[0].TaskID)
	assert.Equal(t, domain.TaskStatusFailed, evs[0].Status)
}

func TestMonitor_IgnoresFreshTasks(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	queue := NewMemoryQueue(10, setupTestLogger())
	defer queue.Close()

	running := createTask(t, ledger, "er-running")
	_, err := ledger.Transition(ctx, running.ID, store.Transition{To: domain.TaskStatusRunning})
	require.NoError(t, err)
	createTask(t, ledger, "er-pending")

	monitor := NewMonitor(ledger, queue, nil, MonitorConfig{StuckAfter: time.Hour}, setupTestLogger())
	res, err := monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Zero(t, queue.Len())
}

func TestMonitor_RunSweepsImmediatelyAndStops(t *testing.T) {
	ledger := newLedger(t)
	queue := NewMemoryQueue(10, setupTestLogger())
	defer queue.Close()
	createTask(t, ledger, "er-orphan")
	time.Sleep(10 * time.Millisecond)

	monitor := NewMonitor(ledger, queue, nil, MonitorConfig{
		StuckAfter: time.Millisecond,
		Interval:   time.Hour,
	}, setupTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return queue.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestNewMonitorDefaultsInterval(t *testing.T) {
	monitor := NewMonitor(newLedger(t), NewMemoryQueue(1, nil), nil, MonitorConfig{StuckAfter: time.Minute}, nil)
	assert.Equal(t, time.Minute, monitor.config.Interval)
}
