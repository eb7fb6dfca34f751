package eventlog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/opendeepresearch/taskstream/internal/offset"
)

// MemoryLog is an in-process Log satisfying the same contract as
// RedisLog. It is the TransportError fallback of spec §4.1 and §7:
// when the backing Redis is unreachable, the event log keeps serving
// appends and reads from memory so the API surface stays live, at the
// cost of losing everything on process restart.
//
// It is also a perfectly good standalone Log for tests and for
// single-process demo deployments with no Redis at all.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string][]Record
	waiters map[string]chan struct{} // closed and replaced on every append to key
	lastMs  int64
	lastSeq int64
}

// NewMemoryLog constructs an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string][]Record),
		waiters: make(map[string]chan struct{}),
	}
}

// waiterFor returns the channel that closes the next time key receives
// an append, creating it on first use.
func (m *MemoryLog) waiterFor(key string) chan struct{} {
	ch, ok := m.waiters[key]
	if !ok {
		ch = make(chan struct{})
		m.waiters[key] = ch
	}
	return ch
}

func (m *MemoryLog) nextID(now time.Time) offset.ID {
	ms := now.UnixMilli()
	if ms <= m.lastMs {
		m.lastSeq++
		ms = m.lastMs
	} else {
		m.lastMs = ms
		m.lastSeq = 0
	}
	return offset.ID{Ms: ms, Seq: m.lastSeq}
}

// Append implements Log.
func (m *MemoryLog) Append(_ context.Context, key string, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID(time.Now())
	rec.ID = id.String()
	rec.AppendedAt = time.Now()
	m.streams[key] = append(m.streams[key], rec)

	if ch, ok := m.waiters[key]; ok {
		close(ch)
		delete(m.waiters, key)
	}
	return rec.ID, nil
}

// Range implements Log.
func (m *MemoryLog) Range(_ context.Context, key, fromID, toID string, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rangeLocked(key, fromID, toID, limit)
}

// rangeLocked is Range's body, callable while m.mu is already held
// (Tail needs this to check-then-wait atomically).
func (m *MemoryLog) rangeLocked(key, fromID, toID string, limit int) ([]Record, error) {
	from, err := offset.Parse(fromID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	var to offset.ID
	unbounded := toID == "" || toID == offset.Unbounded
	if !unbounded {
		to, err = offset.Parse(toID)
		if err != nil {
			return nil, fmt.Errorf("eventlog: %w", err)
		}
	}

	var out []Record
	for _, rec := range m.streams[key] {
		id, err := offset.Parse(rec.ID)
		if err != nil {
			continue
		}
		if !from.Less(id) {
			continue // id <= from, outside the half-open interval
		}
		if !unbounded && to.Less(id) {
			break // ids are stored in order; nothing further qualifies
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Tail implements Log. It waits on a per-key channel that Append
// closes, so it wakes immediately on a new event instead of polling,
// while still respecting blockMs and ctx cancellation.
func (m *MemoryLog) Tail(ctx context.Context, key, fromID string, blockMs int) ([]Record, error) {
	deadline := time.NewTimer(time.Duration(blockMs) * time.Millisecond)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		recs, err := m.rangeLocked(key, fromID, offset.Unbounded, 0)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if len(recs) > 0 {
			m.mu.Unlock()
			return recs, nil
		}
		wait := m.waiterFor(key)
		m.mu.Unlock()

		select {
		case <-wait:
			// A new event landed on key; loop around and re-read.
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Length implements Log.
func (m *MemoryLog) Length(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[key])), nil
}

// Keys implements Log.
func (m *MemoryLog) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.streams {
		ok, err := filepath.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// Delete implements Log.
func (m *MemoryLog) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, key)
	return nil
}
