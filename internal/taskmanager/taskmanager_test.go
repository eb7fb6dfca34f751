package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

func newManager(t *testing.T, maxConcurrent int) (*Manager, taskstore.Store) {
	t.Helper()
	store := taskstore.NewMemoryStore()
	log := eventlog.NewMemoryLog()
	factory := func(taskID string) workflow.Engine { return &workflow.MockEngine{Tokens: []string{"hi"}} }
	return New(store, log, factory, maxConcurrent, nil), store
}

func TestCreateTaskRunsImmediatelyUnderCeiling(t *testing.T) {
	m, store := newManager(t, 4)
	taskID, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := store.Get(context.Background(), taskID)
		return err == nil && info.Status == taskstore.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrencyCeilingQueuesExcessTasks(t *testing.T) {
	m, store := newManager(t, 1)
	blockEngine := make(chan struct{})
	m.engine = func(taskID string) workflow.Engine {
		return &workflow.MockEngine{WithInterrupt: true, WaitForFeedback: func(ctx context.Context) (string, error) {
			select {
			case <-blockEngine:
				return "go", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}}
	}

	firstID, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)
	secondID, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := store.Get(context.Background(), firstID)
		return err == nil && info.Status == taskstore.StatusRunning
	}, time.Second, 5*time.Millisecond)

	info, err := store.Get(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusPending, info.Status)

	close(blockEngine)

	require.Eventually(t, func() bool {
		info, err := store.Get(context.Background(), secondID)
		return err == nil && (info.Status == taskstore.StatusRunning || info.Status == taskstore.StatusCompleted)
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPendingTaskFinalizesWithoutRunning(t *testing.T) {
	m, store := newManager(t, 1)
	blockEngine := make(chan struct{})
	m.engine = func(taskID string) workflow.Engine {
		return &workflow.MockEngine{WithInterrupt: true, WaitForFeedback: func(ctx context.Context) (string, error) {
			select {
			case <-blockEngine:
				return "go", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}}
	}
	defer close(blockEngine)

	_, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)
	secondID, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)

	require.NoError(t, m.CancelTask(context.Background(), secondID))
	info, err := store.Get(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusCancelled, info.Status)
}

func TestCancelTerminalTaskIsIdempotent(t *testing.T) {
	m, store := newManager(t, 4)
	taskID, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := store.Get(context.Background(), taskID)
		return err == nil && info.Status == taskstore.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, m.CancelTask(context.Background(), taskID))
}

func TestSubmitInterruptFeedbackRequiresRunningTask(t *testing.T) {
	m, _ := newManager(t, 4)
	err := m.SubmitInterruptFeedback("nonexistent", "accepted")
	assert.ErrorIs(t, err, ErrNotWaiting)
}

func TestGetStatsReportsCounts(t *testing.T) {
	m, _ := newManager(t, 4)
	_, err := m.CreateTask(context.Background(), "thread-1", "hi", workflow.Config{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := m.GetStats(context.Background())
		return err == nil && stats.ByStatus[taskstore.StatusCompleted] == 1
	}, time.Second, 5*time.Millisecond)

	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ConcurrencyCeiling)
}
