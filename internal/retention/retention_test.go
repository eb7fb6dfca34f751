package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/taskmanager"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

func TestNewRejectsInvalidSchedule(t *testing.T) {
	store := taskstore.NewMemoryStore()
	log := eventlog.NewMemoryLog()
	tasks := taskmanager.New(store, log, func(string) workflow.Engine { return &workflow.MockEngine{} }, 1, nil)

	_, err := New(tasks, "not a cron expression", 7, nil)
	require.Error(t, err)
}

func TestRunOnceDeletesOldTerminalTasks(t *testing.T) {
	store := taskstore.NewMemoryStore()
	log := eventlog.NewMemoryLog()
	tasks := taskmanager.New(store, log, func(string) workflow.Engine { return &workflow.MockEngine{} }, 1, nil)

	old := time.Now().Add(-30 * 24 * time.Hour)
	completed := taskstore.StatusCompleted
	require.NoError(t, store.Create(context.Background(), taskstore.Info{
		TaskID: "old1", ThreadID: "t1", Status: taskstore.StatusRunning, CreatedAt: old,
	}))
	_, err := store.Update(context.Background(), "old1", taskstore.Fields{Status: &completed, CompletedAt: &old})
	require.NoError(t, err)

	s, err := New(tasks, "0 0 * * *", 7, nil)
	require.NoError(t, err)

	deleted, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(context.Background(), "old1")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)
}
