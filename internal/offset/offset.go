// Package offset implements the stream-offset arithmetic shared by the
// event log and the replayer. A stream ID has the form "<ms>-<seq>" —
// the same shape Redis Streams assigns its own entry IDs, which is why
// the Redis-backed event log can hand IDs straight through this package
// without any translation.
package offset

import (
	"fmt"
	"strconv"
	"strings"
)

// Zero is the synthetic sentinel that precedes every real ID in a stream.
const Zero = "0"

// Unbounded is the "to" bound meaning "no upper limit".
const Unbounded = "+"

// ID is a parsed "<ms>-<seq>" stream offset.
type ID struct {
	Ms  int64
	Seq int64
}

// Parse decodes a "<ms>-<seq>" string. The sentinel "0" parses to the
// zero ID, which compares less than every real ID.
func Parse(s string) (ID, error) {
	if s == Zero || s == "" {
		return ID{}, nil
	}
	idx := strings.LastIndexByte(s, '-')
	if idx < 0 {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("offset: invalid id %q: %w", s, err)
		}
		return ID{Ms: ms}, nil
	}
	ms, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("offset: invalid id %q: %w", s, err)
	}
	seq, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("offset: invalid id %q: %w", s, err)
	}
	return ID{Ms: ms, Seq: seq}, nil
}

// String renders the canonical "<ms>-<seq>" form.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// Next returns the smallest ID strictly greater than id: same
// millisecond, sequence plus one. This is the single most
// load-bearing invariant in the system — every caller resuming a
// range or tail must pass Next(lastDelivered), never lastDelivered
// itself, or the same event is redelivered forever.
func (id ID) Next() ID {
	return ID{Ms: id.Ms, Seq: id.Seq + 1}
}

// NextID parses s, advances it by one, and re-renders it. It is the
// string-in/string-out convenience most callers want.
func NextID(s string) (string, error) {
	id, err := Parse(s)
	if err != nil {
		return "", err
	}
	return id.Next().String(), nil
}

// MustNextID panics on a malformed id; only safe for ids this process
// minted itself (e.g. the last event this same stream just emitted).
func MustNextID(s string) string {
	n, err := NextID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Compare returns -1, 0, or 1 as a < b, a == b, a > b, treating
// malformed strings as the zero ID (so "0" and "" sort first).
func Compare(a, b string) int {
	idA, _ := Parse(a)
	idB, _ := Parse(b)
	switch {
	case idA.Less(idB):
		return -1
	case idB.Less(idA):
		return 1
	default:
		return 0
	}
}
