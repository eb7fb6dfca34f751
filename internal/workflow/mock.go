package workflow

import (
	"context"
	"fmt"
	"strings"
)

// MockEngine is a deterministic stand-in for the real Workflow Engine,
// used by tests and as the default wiring when no external engine is
// configured. It walks a small scripted research flow: a research
// phase marker, a streamed reply token-by-token, one tool call and its
// result, an optional interrupt, then the closing phase marker.
//
// Nothing here is "the agent" — per spec §1 that stays opaque and out
// of scope. This only needs to exercise the translation layer in
// internal/runner realistically.
type MockEngine struct {
	// Tokens is the message split into message_chunk events. Defaults
	// to a fixed reply if empty.
	Tokens []string
	// WithInterrupt, if true, emits an interrupt after the tool call
	// and waits for feedback before continuing.
	WithInterrupt bool
	// WaitForFeedback is called after emitting an interrupt; it should
	// block until feedback arrives or ctx is done. When left nil,
	// internal/runner wires this to its single-slot rendezvous.
	WaitForFeedback func(ctx context.Context) (string, error)
	// Fail, if set, is returned as Run's terminal error after the
	// research_start marker, simulating a WorkflowError (spec §7).
	Fail error
}

// SetFeedbackWaiter implements FeedbackAware. A WaitForFeedback the
// caller already set is kept.
func (e *MockEngine) SetFeedbackWaiter(wait func(ctx context.Context) (string, error)) {
	if e.WaitForFeedback == nil {
		e.WaitForFeedback = wait
	}
}

func defaultTokens(cfg Config) []string {
	prompt := "your request"
	if len(cfg.Messages) > 0 {
		prompt = cfg.Messages[len(cfg.Messages)-1].Content
	}
	reply := fmt.Sprintf("Here is a summary addressing %q.", prompt)
	return strings.Fields(reply)
}

// Run implements Engine.
func (e *MockEngine) Run(ctx context.Context, cfg Config, out chan<- EngineEvent) error {
	defer close(out)

	send := func(ev EngineEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := send(EngineEvent{Kind: EngineResearchStart, Agent: "researcher", Role: "assistant", Phase: "research"}); err != nil {
		return err
	}

	if e.Fail != nil {
		return e.Fail
	}

	tokens := e.Tokens
	if len(tokens) == 0 {
		tokens = defaultTokens(cfg)
	}
	for i, tok := range tokens {
		content := tok
		if i < len(tokens)-1 {
			content += " "
		}
		if err := send(EngineEvent{Kind: EngineMessageChunk, Agent: "researcher", Role: "assistant", Content: content}); err != nil {
			return err
		}
	}

	callID := "call_1"
	if err := send(EngineEvent{
		Kind:  EngineToolCalls,
		Agent: "researcher",
		Role:  "assistant",
		ToolCalls: []ToolCall{
			{ID: callID, Name: "web_search", ArgsJSON: `{"query":"background"}`},
		},
	}); err != nil {
		return err
	}
	if err := send(EngineEvent{
		Kind:       EngineToolCallResult,
		Agent:      "researcher",
		Role:       "tool",
		ToolCallID: callID,
		Result:     "three relevant sources found",
	}); err != nil {
		return err
	}

	if e.WithInterrupt {
		if err := send(EngineEvent{
			Kind:    EngineInterrupt,
			Agent:   "researcher",
			Role:    "assistant",
			Prompt:  "Proceed with the plan?",
			Options: []string{"accepted", "edit_plan"},
		}); err != nil {
			return err
		}
		if e.WaitForFeedback == nil {
			return fmt.Errorf("workflow: mock engine configured WithInterrupt but no WaitForFeedback")
		}
		feedback, err := e.WaitForFeedback(ctx)
		if err != nil {
			return err
		}
		if err := send(EngineEvent{Kind: EngineMessageChunk, Agent: "researcher", Role: "assistant", Content: "Resuming after: " + feedback}); err != nil {
			return err
		}
	}

	return send(EngineEvent{Kind: EngineResearchEnd, Agent: "researcher", Role: "assistant", Phase: "research"})
}
