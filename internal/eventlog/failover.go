package eventlog

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/offset"
)

// FailoverLog is a Log that writes to RedisLog and, per stream key,
// drops to MemoryLog for writes the moment a command on that key comes
// back as a connection-class error. This is the runtime half of
// spec.md §7's TransportError policy: app.New picks RedisLog at
// construction time when Redis is configured, but a Redis outage
// mid-task must not lose the stream — it has to keep serving from
// memory instead, and a Replayer already tailing the key has to see
// both the events Redis holds from before the outage and whatever
// lands in memory after.
//
// Reads always try the primary first regardless of trip state — a read
// is safe to retry and Redis may still hold history a tripped write
// path has stopped trusting — merging whatever it returns with the
// fallback's events. Only writes respect the trip: once one fails,
// further writes to that key go straight to memory rather than paying
// for a doomed retry on every single event.
//
// Grounded on the teacher's circuitbreaker.RedisWrapper (per-client
// trip state, logged on failure) generalized to per-key trip state,
// since one Redis connection problem here affects every stream on the
// shared client, but only a tripped key's writes need to stop trying
// Redis.
type FailoverLog struct {
	primary  *RedisLog
	fallback *MemoryLog
	logger   *zap.Logger

	mu      sync.RWMutex
	tripped map[string]bool
}

// NewFailoverLog wraps primary with fallback as its per-key failover.
func NewFailoverLog(primary *RedisLog, fallback *MemoryLog, logger *zap.Logger) *FailoverLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverLog{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		tripped:  make(map[string]bool),
	}
}

func (f *FailoverLog) isTripped(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tripped[key]
}

func (f *FailoverLog) trip(key string, cause error) {
	f.mu.Lock()
	already := f.tripped[key]
	f.tripped[key] = true
	f.mu.Unlock()
	if !already {
		f.logger.Warn("eventlog: redis unavailable, failing writes for stream over to memory",
			zap.String("key", key), zap.Error(cause))
	}
}

func isConnErr(err error) bool {
	return err != nil && errors.Is(err, ErrUnavailable)
}

// Append implements Log. A connection-class failure on the primary
// trips the key's writes and retries against the fallback, so the
// caller never sees the failure. Once tripped, further appends to key
// go straight to the fallback without paying for another doomed call.
func (f *FailoverLog) Append(ctx context.Context, key string, rec Record) (string, error) {
	if !f.isTripped(key) {
		id, err := f.primary.Append(ctx, key, rec)
		if err == nil {
			return id, nil
		}
		if !isConnErr(err) {
			return "", err
		}
		f.trip(key, err)
	}
	return f.fallback.Append(ctx, key, rec)
}

// Range implements Log, always attempting the primary (it may still
// hold history from before any write-side trip) and merging with the
// fallback. A connection-class primary failure is logged and dropped
// rather than surfaced, since the fallback alone may still answer the
// request.
func (f *FailoverLog) Range(ctx context.Context, key, fromID, toID string, limit int) ([]Record, error) {
	var primaryRecs []Record
	switch recs, err := f.primary.Range(ctx, key, fromID, toID, limit); {
	case err == nil:
		primaryRecs = recs
	case isConnErr(err):
		f.trip(key, err)
	default:
		return nil, err
	}

	fallbackRecs, err := f.fallback.Range(ctx, key, fromID, toID, limit)
	if err != nil {
		return nil, err
	}
	return mergeRecords(primaryRecs, fallbackRecs, limit), nil
}

// Tail implements Log. It tries the primary's own blocking read first;
// on a connection-class failure it trips the key and falls back to a
// merged Range (catching anything either source already has) before
// blocking on the fallback for anything newer, since new writes to a
// tripped key only ever land there. When the primary answers but has
// nothing new within blockMs, the merged Range result is returned
// without blocking a second time, so one call blocks about blockMs.
func (f *FailoverLog) Tail(ctx context.Context, key, fromID string, blockMs int) ([]Record, error) {
	recs, err := f.primary.Tail(ctx, key, fromID, blockMs)
	if err == nil && len(recs) > 0 {
		return recs, nil
	}
	primaryAnswered := err == nil
	if err != nil {
		if !isConnErr(err) {
			return nil, err
		}
		f.trip(key, err)
	}

	merged, err := f.Range(ctx, key, fromID, offset.Unbounded, 0)
	if err != nil {
		return nil, err
	}
	if len(merged) > 0 || primaryAnswered {
		return merged, nil
	}
	return f.fallback.Tail(ctx, key, fromID, blockMs)
}

// Length implements Log, summing both sources. A connection-class
// primary failure counts as zero from that side rather than failing
// the call.
func (f *FailoverLog) Length(ctx context.Context, key string) (int64, error) {
	fallbackLen, err := f.fallback.Length(ctx, key)
	if err != nil {
		return 0, err
	}
	primaryLen, err := f.primary.Length(ctx, key)
	if err != nil {
		if !isConnErr(err) {
			return 0, err
		}
		f.trip(key, err)
		return fallbackLen, nil
	}
	return primaryLen + fallbackLen, nil
}

// Keys implements Log by unioning both sources; a connection-class
// failure from the primary scan is logged and dropped rather than
// failing the whole call, since the fallback's keys are still valid.
func (f *FailoverLog) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	if primaryKeys, err := f.primary.Keys(ctx, pattern); err == nil {
		for _, k := range primaryKeys {
			seen[k] = true
			out = append(out, k)
		}
	} else if !isConnErr(err) {
		return nil, err
	} else {
		f.logger.Warn("eventlog: redis key scan failed, returning memory keys only", zap.Error(err))
	}

	fallbackKeys, err := f.fallback.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	for _, k := range fallbackKeys {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Delete implements Log, removing key from both sources best-effort.
func (f *FailoverLog) Delete(ctx context.Context, key string) error {
	if err := f.fallback.Delete(ctx, key); err != nil {
		return err
	}
	if err := f.primary.Delete(ctx, key); err != nil && !isConnErr(err) {
		return err
	}
	return nil
}

// mergeRecords combines two ID-ordered slices into one ID-ordered
// slice, capped at limit (0 means unbounded), the way the Event Log's
// contract (spec §4.1) always returns entries in ID order.
func mergeRecords(a, b []Record, limit int) []Record {
	out := make([]Record, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		idA, errA := offset.Parse(a[i].ID)
		idB, errB := offset.Parse(b[j].ID)
		if errA != nil || errB != nil || idA.Less(idB) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
		if limit > 0 && len(out) >= limit {
			return out
		}
	}
	for ; i < len(a); i++ {
		out = append(out, a[i])
		if limit > 0 && len(out) >= limit {
			return out
		}
	}
	for ; j < len(b); j++ {
		out = append(out, b[j])
		if limit > 0 && len(out) >= limit {
			return out
		}
	}
	return out
}
