// Package replay implements the Replayer (spec §2 C6): it serves one
// client's SSE stream by ranging historical events out of the Event
// Log and, in continuous mode, tailing live appends, unifying both
// into one ordered, gapless, duplicate-free sequence.
//
// Grounded on the teacher's cmd/gateway/internal/handlers SSE handler
// shape (frame writer + flush-per-event) and internal/streaming's
// ReplayFromStreamID for the historical-range-then-follow structure,
// generalized from Redis-only to the eventlog.Log interface so it
// runs unmodified against the in-memory fallback too.
package replay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/events"
	"github.com/opendeepresearch/taskstream/internal/offset"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
)

// batchSize bounds one historical range call.
const batchSize = 200

// tailBlockMs is how long one Tail call blocks for new events before
// looping to recheck task/client state (spec §4.6 step 6, §5 timeouts:
// bounds cancellation-observation latency to roughly this long).
const tailBlockMs = 1000

// Aliases that resolve to "the newest task on this thread" (spec §4.6
// step 1).
const (
	AliasDefault = "default"
	AliasLatest  = "latest"
)

// ErrNoTask is returned when query_id resolves to no task at all —
// the caller should emit an empty terminal replay_end and close.
var ErrNoTask = errors.New("replay: no task found")

// Frame is one SSE frame: an event kind plus its already-JSON-encoded
// body, ready for "event: <Kind>\ndata: <Data>\n\n" framing. Keeping
// this framing-agnostic lets internal/httpapi own the actual wire
// write.
type Frame struct {
	Kind events.Kind
	Data []byte
}

// Sink receives frames as the Replayer produces them. Send returning
// an error (e.g. a failed flush on a dead socket) stops the replay
// immediately, mirroring spec §4.6 step 7's clean-disconnect handling.
type Sink interface {
	Send(Frame) error
}

// Replayer serves one client's replay request end to end.
type Replayer struct {
	log    eventlog.Log
	store  taskstore.Store
	logger *zap.Logger
}

// New constructs a Replayer.
func New(log eventlog.Log, store taskstore.Store, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{log: log, store: store, logger: logger}
}

// Request is the resolved input to one replay.
type Request struct {
	ThreadID   string
	QueryID    string // a task-id, or AliasDefault/AliasLatest
	Offset     string // defaults to offset.Zero if empty
	Continuous bool
}

// Serve runs the full replay loop against sink until the stream ends
// or the sink returns an error. ctx cancellation (client disconnect)
// stops the loop cleanly without mutating any state, per spec §4.6
// step 7 and §7's ClientDisconnect taxonomy entry.
func (r *Replayer) Serve(ctx context.Context, req Request, sink Sink) error {
	taskID, err := r.resolveTaskID(ctx, req.ThreadID, req.QueryID)
	if err != nil {
		if errors.Is(err, ErrNoTask) {
			return sendSynthetic(sink, req.ThreadID, events.ReplayEndData{Mode: "static", TotalEvents: 0})
		}
		return err
	}

	streamKey := eventlog.StreamKey(req.ThreadID, taskID)
	cursor := req.Offset
	if cursor == "" {
		cursor = offset.Zero
	}

	total, err := r.drainHistory(ctx, streamKey, &cursor, sink)
	if err != nil {
		return err
	}

	if !req.Continuous {
		return sendSynthetic(sink, req.ThreadID, events.ReplayEndData{Mode: "static", TotalEvents: total})
	}

	return r.tailLive(ctx, streamKey, taskID, &cursor, total, sink)
}

// resolveTaskID handles the query_id alias of spec §4.6 step 1.
func (r *Replayer) resolveTaskID(ctx context.Context, threadID, queryID string) (string, error) {
	if queryID != AliasDefault && queryID != AliasLatest {
		return queryID, nil
	}
	info, err := r.store.FindLatestByThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return "", ErrNoTask
		}
		return "", err
	}
	return info.TaskID, nil
}

// drainHistory is spec §4.6 step 4: repeatedly range until empty,
// forwarding every event and always advancing the cursor with Next,
// never with the delivered event's own ID (the "infinite loop"
// failure class this spec calls out explicitly).
func (r *Replayer) drainHistory(ctx context.Context, streamKey string, cursor *string, sink Sink) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, nil // clean disconnect, no error surfaced
		}
		recs, err := r.log.Range(ctx, streamKey, *cursor, offset.Unbounded, batchSize)
		if err != nil {
			return total, fmt.Errorf("replay: range: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}
		for _, rec := range recs {
			if err := sink.Send(Frame{Kind: rec.Kind, Data: events.Encode(rec.ToEvent())}); err != nil {
				return total, nil // client disconnected mid-flush
			}
			total++
			next, err := offset.NextID(rec.ID)
			if err != nil {
				return total, fmt.Errorf("replay: advancing cursor past %q: %w", rec.ID, err)
			}
			*cursor = next
		}
	}
}

// tailLive is spec §4.6 step 6: tail live appends after history is
// exhausted, terminating on a forwarded terminal event, on the task
// reaching a terminal state with nothing left to drain, or on client
// disconnect.
func (r *Replayer) tailLive(ctx context.Context, streamKey, taskID string, cursor *string, total int, sink Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		recs, err := r.log.Tail(ctx, streamKey, *cursor, tailBlockMs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("replay: tail: %w", err)
		}

		for _, rec := range recs {
			if err := sink.Send(Frame{Kind: rec.Kind, Data: events.Encode(rec.ToEvent())}); err != nil {
				return nil
			}
			total++
			next, err := offset.NextID(rec.ID)
			if err != nil {
				return fmt.Errorf("replay: advancing cursor past %q: %w", rec.ID, err)
			}
			*cursor = next
			if rec.Kind.Terminal() {
				return nil
			}
		}

		if len(recs) == 0 {
			info, err := r.store.Get(ctx, taskID)
			if err != nil && !errors.Is(err, taskstore.ErrNotFound) {
				return fmt.Errorf("replay: checking task status: %w", err)
			}
			if err == nil && info.Status.Terminal() {
				// No trailing events were lost: Tail just returned empty
				// on a task the registry already considers finished.
				return nil
			}
		}
	}
}

// sendSynthetic sends a replay_end the Replayer itself originates
// (not appended to the Event Log), wrapped in the same envelope shape
// as a stored event so clients don't need a special case.
func sendSynthetic(sink Sink, threadID string, payload events.ReplayEndData) error {
	ev := events.Event{ThreadID: threadID, Role: "system", Kind: events.KindReplayEnd, Data: events.Encode(payload)}
	return sink.Send(Frame{Kind: events.KindReplayEnd, Data: events.Encode(ev)})
}
