package replay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/events"
	"github.com/opendeepresearch/taskstream/internal/offset"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
)

// collectingSink records every frame it receives, safe for concurrent
// Send calls from a tailing goroutine while the test reads Frames.
type collectingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *collectingSink) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *collectingSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Kind, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Kind
	}
	return out
}

func appendN(t *testing.T, log eventlog.Log, key string, kinds ...events.Kind) []string {
	t.Helper()
	var ids []string
	for _, k := range kinds {
		id, err := log.Append(context.Background(), key, eventlog.Record{Kind: k, Data: json.RawMessage(`{}`)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestStaticReplayDrainsHistoryAndEmitsReplayEnd(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	key := eventlog.StreamKey("t1", "x1")
	appendN(t, log, key, events.KindMessageChunk, events.KindMessageChunk, events.KindReplayEnd)

	r := New(log, store, nil)
	sink := &collectingSink{}
	err := r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: "x1"}, sink)
	require.NoError(t, err)

	kinds := sink.kinds()
	require.Len(t, kinds, 4) // 3 historical + synthetic static replay_end
	assert.Equal(t, events.KindReplayEnd, kinds[len(kinds)-1])
}

func TestNoRedeliveryAfterResume(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	key := eventlog.StreamKey("t1", "x1")
	ids := appendN(t, log, key, events.KindMessageChunk, events.KindMessageChunk, events.KindReplayEnd)

	r := New(log, store, nil)
	sinkA := &collectingSink{}
	require.NoError(t, r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: "x1", Offset: offset.Zero}, sinkA))
	require.Len(t, sinkA.frames, 4) // 3 historical + synthetic static replay_end

	resumeFrom, err := offset.NextID(ids[1])
	require.NoError(t, err)
	sinkB := &collectingSink{}
	require.NoError(t, r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: "x1", Offset: resumeFrom}, sinkB))
	// The third (terminal) historical event, plus the synthetic static marker.
	require.Len(t, sinkB.frames, 2)
	assert.Equal(t, events.KindReplayEnd, sinkB.frames[1].Kind)
}

func TestAliasResolutionSkipsCancelled(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()

	older := taskstore.Info{TaskID: "x1", ThreadID: "t1", Status: taskstore.StatusCancelled, CreatedAt: time.Now().Add(-time.Hour)}
	newer := taskstore.Info{TaskID: "x2", ThreadID: "t1", Status: taskstore.StatusCompleted, CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), older))
	require.NoError(t, store.Create(context.Background(), newer))
	appendN(t, log, eventlog.StreamKey("t1", "x2"), events.KindReplayEnd)

	r := New(log, store, nil)
	sink := &collectingSink{}
	require.NoError(t, r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: AliasDefault}, sink))
	require.NotEmpty(t, sink.frames)
}

func TestNoTaskEmitsEmptyReplayEnd(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	r := New(log, store, nil)
	sink := &collectingSink{}
	require.NoError(t, r.Serve(context.Background(), Request{ThreadID: "empty-thread", QueryID: AliasLatest}, sink))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, events.KindReplayEnd, sink.frames[0].Kind)
}

func TestContinuousModeTailsUntilTerminalEvent(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	taskID := "x1"
	require.NoError(t, store.Create(context.Background(), taskstore.Info{
		TaskID: taskID, ThreadID: "t1", Status: taskstore.StatusRunning, CreatedAt: time.Now(),
	}))
	key := eventlog.StreamKey("t1", taskID)
	appendN(t, log, key, events.KindMessageChunk)

	r := New(log, store, nil)
	sink := &collectingSink{}
	done := make(chan error, 1)
	go func() {
		done <- r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: taskID, Continuous: true}, sink)
	}()

	time.Sleep(20 * time.Millisecond)
	appendN(t, log, key, events.KindReplayEnd)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not terminate on terminal event")
	}

	kinds := sink.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, events.KindMessageChunk, kinds[0])
	assert.Equal(t, events.KindReplayEnd, kinds[1])
}

func TestContinuousModeStopsWhenTaskTerminalAndTailEmpty(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	taskID := "x1"
	require.NoError(t, store.Create(context.Background(), taskstore.Info{
		TaskID: taskID, ThreadID: "t1", Status: taskstore.StatusCompleted, CreatedAt: time.Now(),
	}))
	key := eventlog.StreamKey("t1", taskID)
	appendN(t, log, key, events.KindMessageChunk)

	r := New(log, store, nil)
	sink := &collectingSink{}
	err := r.Serve(context.Background(), Request{ThreadID: "t1", QueryID: taskID, Continuous: true}, sink)
	require.NoError(t, err)
	assert.Len(t, sink.frames, 1)
}

func TestClientDisconnectStopsWithoutError(t *testing.T) {
	log := eventlog.NewMemoryLog()
	store := taskstore.NewMemoryStore()
	taskID := "x1"
	require.NoError(t, store.Create(context.Background(), taskstore.Info{
		TaskID: taskID, ThreadID: "t1", Status: taskstore.StatusRunning, CreatedAt: time.Now(),
	}))
	key := eventlog.StreamKey("t1", taskID)
	appendN(t, log, key, events.KindMessageChunk)

	ctx, cancel := context.WithCancel(context.Background())
	r := New(log, store, nil)
	sink := &collectingSink{}
	done := make(chan error, 1)
	go func() {
		done <- r.Serve(ctx, Request{ThreadID: "t1", QueryID: taskID, Continuous: true}, sink)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not exit on disconnect")
	}
}
