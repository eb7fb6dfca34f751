package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/events"
	"github.com/opendeepresearch/taskstream/internal/offset"
)

func newFailoverLog(t *testing.T) (*FailoverLog, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewFailoverLog(NewRedisLog(rdb, zap.NewNop()), NewMemoryLog(), zap.NewNop()), mr
}

// TestFailoverAppendSurvivesRedisOutage is the S6 scenario: a reader
// that already consumed everything up to the outage keeps receiving
// events appended during it, and the append call itself never
// surfaces the outage to its caller. mr.Close() tears the fake server
// down entirely (not just the connection), so the event written before
// the outage is gone the way it would be if the whole Redis process
// had been lost rather than merely partitioned — the property this
// test cares about is continuity going forward, not recovering data
// from a server that no longer exists.
func TestFailoverAppendSurvivesRedisOutage(t *testing.T) {
	log, mr := newFailoverLog(t)
	ctx := context.Background()
	key := "chat:t1:task-s6"

	beforeID, err := log.Append(ctx, key, rec(events.KindMessageChunk, "before outage"))
	require.NoError(t, err)
	resumeFrom := offset.MustNextID(beforeID)

	mr.Close() // simulate a live connection-class failure

	_, err = log.Append(ctx, key, rec(events.KindMessageChunk, "during outage"))
	require.NoError(t, err, "append must not surface the outage to the caller")

	recs, err := log.Range(ctx, key, resumeFrom, offset.Unbounded, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "during outage", decodeContent(t, recs[0].Data))
	assert.True(t, log.isTripped(key))
}

// TestFailoverTripsOncePerKeyNotGlobally confirms one key's outage
// doesn't affect appends to a different key before that key also hits
// a connection-class error (it will, since both share the same dead
// client, but each observes the failure independently on first use).
func TestFailoverTripsOncePerKeyNotGlobally(t *testing.T) {
	log, mr := newFailoverLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "chat:t1:a", rec(events.KindMessageChunk, "a1"))
	require.NoError(t, err)
	assert.False(t, log.isTripped("chat:t1:a"))
	assert.False(t, log.isTripped("chat:t1:b"))

	mr.Close()

	_, err = log.Append(ctx, "chat:t1:a", rec(events.KindMessageChunk, "a2"))
	require.NoError(t, err)
	assert.True(t, log.isTripped("chat:t1:a"))
	assert.False(t, log.isTripped("chat:t1:b"), "a different key hasn't been touched yet")

	_, err = log.Append(ctx, "chat:t1:b", rec(events.KindMessageChunk, "b1"))
	require.NoError(t, err)
	assert.True(t, log.isTripped("chat:t1:b"))
}

// TestFailoverTailAfterTripReadsFromMemory confirms a replayer resuming
// from a cursor placed right after the last pre-outage event keeps
// receiving events appended once the primary is gone, via the
// fallback. As in TestFailoverAppendSurvivesRedisOutage, mr.Close()
// destroys the fake server's data outright, so id1 (written only to
// the primary before the outage) cannot be expected back out of a
// dead server — the test asserts the forward-continuity guarantee
// Tail actually owes a caller, not recovery of data the backing store
// no longer has.
func TestFailoverTailAfterTripReadsFromMemory(t *testing.T) {
	log, mr := newFailoverLog(t)
	ctx := context.Background()
	key := "chat:t1:task-s6b"

	id1, err := log.Append(ctx, key, rec(events.KindMessageChunk, "one"))
	require.NoError(t, err)
	resumeFrom := offset.MustNextID(id1)

	mr.Close()

	id2, err := log.Append(ctx, key, rec(events.KindMessageChunk, "two"))
	require.NoError(t, err)

	recs, err := log.Tail(ctx, key, resumeFrom, 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id2, recs[0].ID)
	assert.Equal(t, "two", decodeContent(t, recs[0].Data))
}

func decodeContent(t *testing.T, data []byte) string {
	t.Helper()
	var d events.MessageChunkData
	require.NoError(t, json.Unmarshal(data, &d))
	return d.Content
}
