package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
)

func TestRedisHealthCheckerHealthyWithoutClient(t *testing.T) {
	c := NewRedisHealthChecker(nil)
	assert.False(t, c.IsCritical())
	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestEventLogHealthCheckerAppendsProbe(t *testing.T) {
	c := NewEventLogHealthChecker(eventlog.NewMemoryLog())
	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "probe_id")
}

func TestTaskStoreHealthCheckerListsOK(t *testing.T) {
	c := NewTaskStoreHealthChecker(taskstore.NewMemoryStore())
	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestManagerAggregatesOverallHealth(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewEventLogHealthChecker(eventlog.NewMemoryLog())))
	require.NoError(t, m.RegisterChecker(NewTaskStoreHealthChecker(taskstore.NewMemoryStore())))

	overall := m.GetOverallHealth(context.Background())
	assert.True(t, overall.Ready)
	assert.True(t, overall.Live)
}
