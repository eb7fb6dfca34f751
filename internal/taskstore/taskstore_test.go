package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, zap.NewNop()),
	}
}

func newInfo(taskID, threadID string) Info {
	return Info{
		TaskID:    taskID,
		ThreadID:  threadID,
		UserInput: "hi",
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestCreateGet(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newInfo("x1", "t1")))

			got, err := store.Get(ctx, "x1")
			require.NoError(t, err)
			assert.Equal(t, "t1", got.ThreadID)
			assert.Equal(t, StatusPending, got.Status)
		})
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// Property 7 (spec §8): status transitions follow the graph of §4.5.
func TestStateMachineIntegrity(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newInfo("x2", "t1")))

			running := StatusRunning
			_, err := store.Update(ctx, "x2", Fields{Status: &running})
			require.NoError(t, err)

			completed := StatusCompleted
			info, err := store.Update(ctx, "x2", Fields{Status: &completed})
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, info.Status)
			assert.NotNil(t, info.CompletedAt)
			assert.Equal(t, 1.0, info.Progress)

			// Terminal is frozen: no further transition is legal.
			pending := StatusPending
			_, err = store.Update(ctx, "x2", Fields{Status: &pending})
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestProgressMonotone(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newInfo("x3", "t1")))

			p1 := 0.5
			info, err := store.Update(ctx, "x3", Fields{Progress: &p1})
			require.NoError(t, err)
			assert.Equal(t, 0.5, info.Progress)

			// A lower value must not regress progress.
			p2 := 0.2
			info, err = store.Update(ctx, "x3", Fields{Progress: &p2})
			require.NoError(t, err)
			assert.Equal(t, 0.5, info.Progress)
		})
	}
}

// Idempotent cancel (property 6): cancelling an already-terminal task
// is a no-op that returns success rather than an error from the
// registry's point of view (the self-transition guard in CanTransition).
func TestIdempotentCancelIsSelfTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusCancelled, StatusCancelled))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
}

func TestFindLatestByThreadSkipsCancelled(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := newInfo("x4", "thread-s5")
			older.CreatedAt = time.Now().Add(-time.Hour)
			older.Status = StatusCancelled
			require.NoError(t, store.Create(ctx, older))

			newer := newInfo("x5", "thread-s5")
			newer.CreatedAt = time.Now()
			newer.Status = StatusCompleted
			require.NoError(t, store.Create(ctx, newer))

			latest, err := store.FindLatestByThread(ctx, "thread-s5")
			require.NoError(t, err)
			assert.Equal(t, "x5", latest.TaskID)
		})
	}
}

func TestFindLatestByThreadNoneFound(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.FindLatestByThread(context.Background(), "thread-empty")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListFiltersByStatusAndThread(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newInfo("l1", "thread-list")
			a.Status = StatusRunning
			require.NoError(t, store.Create(ctx, a))
			b := newInfo("l2", "thread-list")
			b.Status = StatusCompleted
			require.NoError(t, store.Create(ctx, b))
			c := newInfo("l3", "other-thread")
			c.Status = StatusRunning
			require.NoError(t, store.Create(ctx, c))

			running, err := store.List(ctx, Filter{ThreadID: "thread-list", Status: StatusRunning})
			require.NoError(t, err)
			require.Len(t, running, 1)
			assert.Equal(t, "l1", running[0].TaskID)
		})
	}
}

func TestDeleteRemovesTask(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newInfo("d1", "t1")))
			require.NoError(t, store.Delete(ctx, "d1"))
			_, err := store.Get(ctx, "d1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
