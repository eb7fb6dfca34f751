// Package runner implements the Stream Runner (spec §2 C4): it drives
// a Workflow Engine invocation for one task, translates the engine's
// own event vocabulary into the canonical wire vocabulary of
// internal/events, appends each one to the per-task internal/eventlog
// stream, and keeps internal/taskstore's status/progress in step.
//
// Grounded on the teacher's internal/streaming.Manager lifecycle
// (reader goroutine per subscription, explicit Unsubscribe/Shutdown)
// and internal/temporal workflow-wrapper goroutine pattern, adapted
// from pub/sub fan-out to a single owned producer per task.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/events"
	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/metrics"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

// progressReportInterval is how often (in appended events) the runner
// writes a progress/step update to the Task Registry, per spec §4.3
// step 4's "every K≈10 appends" cadence. Exact progress values are a
// heuristic in the absence of engine-reported progress; only the
// terminal states (1.0 on completion) are authoritative.
const progressReportInterval = 10

// Handle lets a caller (internal/taskmanager) observe and control one
// running task after Start returns.
type Handle struct {
	TaskID   string
	ThreadID string

	cancel context.CancelFunc
	done   chan struct{}

	mu                sync.Mutex
	awaitingFeedback  bool
	feedbackCh        chan string // single-slot rendezvous, spec §9
	interruptRaisedAt time.Time

	runErr error
}

// Cancel requests the task stop. It is safe to call multiple times and
// after the task has already finished.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done reports the channel that closes once the run completes, for
// whatever reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error the workflow engine returned, if any.
// Only meaningful after Done() has closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runErr
}

// ErrNoPendingInterrupt is returned by SubmitFeedback when the task has
// not emitted an interrupt currently awaiting a response.
var ErrNoPendingInterrupt = fmt.Errorf("runner: no interrupt is awaiting feedback")

// ErrFeedbackAlreadySubmitted is returned when feedback has already
// been deposited into the single-slot rendezvous and not yet consumed.
var ErrFeedbackAlreadySubmitted = fmt.Errorf("runner: feedback already submitted for this interrupt")

// SubmitFeedback delivers a response to a pending interrupt (spec §9's
// single-slot rendezvous: at most one outstanding value at a time).
func (h *Handle) SubmitFeedback(feedback string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.awaitingFeedback {
		return ErrNoPendingInterrupt
	}
	select {
	case h.feedbackCh <- feedback:
		h.awaitingFeedback = false
		if !h.interruptRaisedAt.IsZero() {
			metrics.InterruptFeedbackLatency.Observe(time.Since(h.interruptRaisedAt).Seconds())
			h.interruptRaisedAt = time.Time{}
		}
		return nil
	default:
		return ErrFeedbackAlreadySubmitted
	}
}

// Runner owns the translation-and-append loop for tasks. One Runner
// instance is shared process-wide; each Start call spawns one
// goroutine for one task.
type Runner struct {
	log    eventlog.Log
	store  taskstore.Store
	logger *zap.Logger
}

// New constructs a Runner.
func New(log eventlog.Log, store taskstore.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{log: log, store: store, logger: logger}
}

// Start launches engine against cfg for taskID/threadID, appending
// translated events to streamKey, and returns immediately with a
// Handle. The caller must eventually observe Handle.Done().
func (r *Runner) Start(ctx context.Context, taskID, threadID, streamKey string, cfg workflow.Config, engine workflow.Engine) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		TaskID:     taskID,
		ThreadID:   threadID,
		cancel:     cancel,
		done:       make(chan struct{}),
		feedbackCh: make(chan string, 1),
	}

	waitForFeedback := func(waitCtx context.Context) (string, error) {
		h.mu.Lock()
		h.awaitingFeedback = true
		h.mu.Unlock()
		select {
		case fb := <-h.feedbackCh:
			return fb, nil
		case <-waitCtx.Done():
			return "", waitCtx.Err()
		}
	}
	if fa, ok := engine.(workflow.FeedbackAware); ok {
		fa.SetFeedbackWaiter(waitForFeedback)
	}

	out := make(chan workflow.EngineEvent, 16)
	go func() {
		defer close(h.done)
		defer cancel()

		running := taskstore.StatusRunning
		if _, err := r.store.Update(context.Background(), taskID, taskstore.Fields{Status: &running}); err != nil {
			r.logger.Warn("runner: failed to mark task running", zap.String("task_id", taskID), zap.Error(err))
		}

		engineErr := make(chan error, 1)
		go func() {
			engineErr <- engine.Run(runCtx, cfg, out)
		}()

		count := 0
		for ev := range out {
			rec, ok := translate(ev)
			if !ok {
				r.logger.Warn("runner: dropping unrecognized engine event", zap.String("task_id", taskID), zap.String("kind", string(ev.Kind)))
				continue
			}
			rec.ThreadID = threadID
			rec.AppendedAt = time.Now()

			if _, err := r.log.Append(context.Background(), streamKey, rec); err != nil {
				r.logger.Error("runner: append failed", zap.String("task_id", taskID), zap.Error(err))
			}
			count++
			metrics.EventsAppended.WithLabelValues(string(rec.Kind)).Inc()

			if ev.Kind == workflow.EngineInterrupt {
				h.mu.Lock()
				h.awaitingFeedback = true
				h.interruptRaisedAt = time.Now()
				h.mu.Unlock()
				metrics.InterruptsRaised.Inc()
			}

			if count%progressReportInterval == 0 {
				r.reportProgress(taskID, count, rec)
			}
		}

		err := <-engineErr
		h.mu.Lock()
		h.runErr = err
		h.mu.Unlock()
		r.finish(taskID, threadID, streamKey, count, runCtx, err)
	}()

	return h
}

func (r *Runner) reportProgress(taskID string, count int, last eventlog.Record) {
	progress := 1.0 - 1.0/float64(1+count/progressReportInterval)
	if progress > 0.9 {
		progress = 0.9
	}
	step := string(last.Kind)
	if _, err := r.store.Update(context.Background(), taskID, taskstore.Fields{
		Progress:    &progress,
		CurrentStep: &step,
	}); err != nil {
		r.logger.Warn("runner: progress update failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (r *Runner) finish(taskID, threadID, streamKey string, count int, runCtx context.Context, engineErr error) {
	ctx := context.Background()

	var durationSeconds float64
	if info, err := r.store.Get(ctx, taskID); err == nil {
		durationSeconds = time.Since(info.CreatedAt).Seconds()
	}

	switch {
	case runCtx.Err() != nil && engineErr != nil:
		// Cancelled: the runner's context was cancelled (via Handle.Cancel, or
		// by cancelling the parent ctx passed to Start). Per the cancellation
		// contract this is a terminal error event with reason "cancelled",
		// not a replay_end — a replay_end implies the workflow ran to term.
		cancelled := taskstore.StatusCancelled
		errMsg := "cancelled"
		r.appendTerminal(ctx, streamKey, threadID, events.KindError, events.Encode(events.ErrorData{Message: errMsg, Reason: "cancelled"}))
		if _, err := r.store.Update(ctx, taskID, taskstore.Fields{Status: &cancelled, ErrorMessage: &errMsg}); err != nil {
			r.logger.Warn("runner: failed to mark task cancelled", zap.String("task_id", taskID), zap.Error(err))
		}
		metrics.RecordTaskTerminal(string(cancelled), durationSeconds)
	case engineErr != nil:
		failed := taskstore.StatusFailed
		msg := engineErr.Error()
		r.appendTerminal(ctx, streamKey, threadID, events.KindError, events.Encode(events.ErrorData{Message: msg, Reason: "workflow_error"}))
		if _, err := r.store.Update(ctx, taskID, taskstore.Fields{Status: &failed, ErrorMessage: &msg}); err != nil {
			r.logger.Warn("runner: failed to mark task failed", zap.String("task_id", taskID), zap.Error(err))
		}
		metrics.RecordTaskTerminal(string(failed), durationSeconds)
	default:
		completed := taskstore.StatusCompleted
		r.appendTerminal(ctx, streamKey, threadID, events.KindReplayEnd, events.Encode(events.ReplayEndData{Mode: "completed", TotalEvents: count}))
		if _, err := r.store.Update(ctx, taskID, taskstore.Fields{Status: &completed}); err != nil {
			r.logger.Warn("runner: failed to mark task completed", zap.String("task_id", taskID), zap.Error(err))
		}
		metrics.RecordTaskTerminal(string(completed), durationSeconds)
	}
}

func (r *Runner) appendTerminal(ctx context.Context, streamKey, threadID string, kind events.Kind, data []byte) {
	rec := eventlog.Record{Kind: kind, ThreadID: threadID, Role: "system", Data: data, AppendedAt: time.Now()}
	if _, err := r.log.Append(ctx, streamKey, rec); err != nil {
		r.logger.Error("runner: failed to append terminal event", zap.String("stream_key", streamKey), zap.Error(err))
	}
}

// translate maps one engine event onto the canonical wire vocabulary.
// The second return value is false for engine kinds the runner does
// not forward (EngineUnknown): spec §9 treats this as a forward-
// compatibility escape hatch on the engine side, not something
// subscribers need to see.
func translate(ev workflow.EngineEvent) (eventlog.Record, bool) {
	base := eventlog.Record{Agent: ev.Agent, Role: ev.Role}

	switch ev.Kind {
	case workflow.EngineMessageChunk:
		base.Kind = events.KindMessageChunk
		base.Data = events.Encode(events.MessageChunkData{Content: ev.Content, FinishReason: ev.FinishReason})
	case workflow.EngineToolCalls:
		calls := make([]events.ToolCall, len(ev.ToolCalls))
		for i, c := range ev.ToolCalls {
			calls[i] = events.ToolCall{ID: c.ID, Name: c.Name, ArgsJSON: c.ArgsJSON}
		}
		base.Kind = events.KindToolCalls
		base.Data = events.Encode(events.ToolCallsData{ToolCalls: calls})
	case workflow.EngineToolCallChunks:
		chunks := make([]events.ToolCallChunk, len(ev.ToolCallChunks))
		for i, c := range ev.ToolCallChunks {
			chunks[i] = events.ToolCallChunk{ID: c.ID, Index: c.Index, ArgsDelta: c.ArgsDelta}
		}
		base.Kind = events.KindToolCallChunks
		base.Data = events.Encode(events.ToolCallChunksData{Chunks: chunks})
	case workflow.EngineToolCallResult:
		base.Kind = events.KindToolCallResult
		base.Data = events.Encode(events.ToolCallResultData{ToolCallID: ev.ToolCallID, Content: ev.Result})
	case workflow.EngineInterrupt:
		base.Kind = events.KindInterrupt
		base.Data = events.Encode(events.InterruptData{Prompt: ev.Prompt, Options: ev.Options})
	case workflow.EngineResearchStart:
		base.Kind = events.KindResearchStart
		base.Data = events.Encode(events.ResearchPhaseData{Phase: ev.Phase})
	case workflow.EngineResearchEnd:
		base.Kind = events.KindResearchEnd
		base.Data = events.Encode(events.ResearchPhaseData{Phase: ev.Phase})
	default:
		return eventlog.Record{}, false
	}
	return base, true
}
