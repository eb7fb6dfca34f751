// Package workflow defines the contract of the external Workflow
// Engine (spec §2 C3): an opaque collaborator that, given a task's
// config, yields a lazy sequence of engine events and may block on an
// interrupt waiting for user feedback. Only the contract is specified
// here — the actual LLM calls, search tools, and planner/researcher/
// reporter roles are explicitly out of scope (spec §1).
package workflow

import "context"

// EngineEventKind is the engine's own vocabulary, translated by
// internal/runner into the canonical events.Kind wire vocabulary.
// Representing it as a tagged union (a kind plus a single payload
// struct with the union's members as optional fields) makes the
// translation layer in internal/runner a total function over a closed
// set, with Unknown as the explicit forward-compatibility escape
// hatch spec §9 calls for.
type EngineEventKind string

const (
	EngineMessageChunk   EngineEventKind = "message_chunk"
	EngineToolCalls      EngineEventKind = "tool_calls"
	EngineToolCallChunks EngineEventKind = "tool_call_chunks"
	EngineToolCallResult EngineEventKind = "tool_call_result"
	EngineInterrupt      EngineEventKind = "interrupt"
	EngineResearchStart  EngineEventKind = "research_start"
	EngineResearchEnd    EngineEventKind = "research_end"
	EngineUnknown        EngineEventKind = "unknown"
)

// ToolCall mirrors events.ToolCall at the engine boundary.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// ToolCallChunk mirrors events.ToolCallChunk at the engine boundary.
type ToolCallChunk struct {
	ID        string
	Index     int
	ArgsDelta string
}

// EngineEvent is one item the engine yields. Only the fields relevant
// to Kind are populated; internal/runner's translation switch reads
// exactly those.
type EngineEvent struct {
	Kind EngineEventKind

	Agent string
	Role  string

	// message_chunk
	Content      string
	FinishReason *string

	// tool_calls
	ToolCalls []ToolCall

	// tool_call_chunks
	ToolCallChunks []ToolCallChunk

	// tool_call_result
	ToolCallID string
	Result     string

	// interrupt
	Prompt  string
	Options []string

	// research_start / research_end
	Phase string

	// unknown (forward-compatibility escape hatch)
	RawKind string
}

// Run drives the engine for one task invocation. It sends engine
// events to out until the workflow completes, the context is
// cancelled, or an error occurs; the engine closes out itself when
// done (never the caller) and returns the terminal error, if any, or
// nil on normal completion.
//
// Interrupt suspension happens inside Run: after sending an
// EngineInterrupt event, a FeedbackAware engine blocks on the waiter
// the runner handed it (the runner's single-slot feedback rendezvous)
// while the runner keeps draining out. The runner calls Run exactly
// once per task and never re-invokes it with Config.InterruptFeedback;
// when Run returns, the task is finalized from its return value.
type Engine interface {
	Run(ctx context.Context, cfg Config, out chan<- EngineEvent) error
}

// FeedbackAware is an optional capability: an Engine that blocks
// internally on interrupts implements this so the runner can hand it
// the feedback rendezvous before calling Run. The runner type-asserts
// for this; an engine that does not implement it receives no feedback
// from the runner.
type FeedbackAware interface {
	SetFeedbackWaiter(wait func(ctx context.Context) (string, error))
}

// Config is the opaque workflow-parameter payload forwarded from
// TaskConfig (spec §6.3) into the engine, sans the fields the
// streaming core itself interprets (ThreadID, UserInput).
type Config struct {
	Messages                     []Message
	Resources                    []string
	AutoAcceptedPlan             bool
	MaxPlanIterations            int
	MaxStepNum                   int
	MaxSearchResults             int
	EnableDeepThinking           bool
	EnableBackgroundInvestigation bool
	ReportStyle                  string
	InterruptFeedback            string
	MCPSettings                  map[string]interface{}
}

// Message is one turn of the conversation forwarded to the engine.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
