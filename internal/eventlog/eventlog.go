// Package eventlog implements the append-only, per-task event stream
// described in spec §4.1: strictly monotone IDs, half-open range
// reads, and blocking tail reads with fan-out semantics (every tailer
// sees every event independently; this is not queue consumption).
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/opendeepresearch/taskstream/internal/events"
)

// ErrUnavailable marks a TransportError (spec §7): the backing store
// could not be reached. Direct callers of a bare RedisLog should treat
// it the way internal/runner and internal/replay do — log and fail the
// specific operation — but in practice internal/app wires RedisLog
// behind a FailoverLog, which reacts to this error by failing a
// stream's writes over to MemoryLog per key, so the API surface stays
// live across a Redis outage instead of surfacing it to callers.
var ErrUnavailable = errors.New("eventlog: backing store unavailable")

// Record is one stored entry: the assigned ID plus the inputs to Append.
type Record struct {
	ID        string
	Kind      events.Kind
	ThreadID  string
	Agent     string
	Role      string
	Data      []byte
	AppendedAt time.Time
}

// ToEvent renders a Record as the wire Event shape.
func (r Record) ToEvent() events.Event {
	return events.Event{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Agent:    r.Agent,
		Role:     r.Role,
		Kind:     r.Kind,
		Data:     r.Data,
	}
}

// Log is the append-only event stream contract. Every method is safe
// for concurrent use; by convention (not by lock) exactly one writer
// ever appends to a given key — the owning Stream Runner.
type Log interface {
	// Append atomically appends one event and returns its assigned ID.
	// The ID is guaranteed strictly greater than every prior ID on key.
	Append(ctx context.Context, key string, rec Record) (string, error)

	// Range returns events with IDs in the half-open interval
	// (fromID, toID], in order, up to limit entries. fromID "0" means
	// from the very start; toID "+" means unbounded. limit <= 0 means
	// unbounded.
	Range(ctx context.Context, key, fromID, toID string, limit int) ([]Record, error)

	// Tail blocks up to blockMs for events strictly newer than fromID,
	// returning as soon as at least one is available or an empty slice
	// on timeout. Concurrent tailers on the same key each see every
	// event independently (fan-out, not a shared queue).
	Tail(ctx context.Context, key, fromID string, blockMs int) ([]Record, error)

	// Length reports the number of events currently stored under key.
	Length(ctx context.Context, key string) (int64, error)

	// Keys lists stream keys matching a glob-style pattern, for
	// administrative use (retention sweeps, stats).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Delete removes a stream entirely (retention sweep).
	Delete(ctx context.Context, key string) error
}
