// Package events defines the canonical wire vocabulary emitted by a
// Stream Runner and replayed to clients over SSE (spec §6.2).
package events

import "encoding/json"

// Kind is one of the nine canonical event kinds. It is a closed
// string-enum: the translation layer in internal/runner is a total
// function onto this set, and internal/replay never emits anything
// outside it.
type Kind string

const (
	KindMessageChunk    Kind = "message_chunk"
	KindToolCalls       Kind = "tool_calls"
	KindToolCallChunks  Kind = "tool_call_chunks"
	KindToolCallResult  Kind = "tool_call_result"
	KindInterrupt       Kind = "interrupt"
	KindResearchStart   Kind = "research_start"
	KindResearchEnd     Kind = "research_end"
	KindError           Kind = "error"
	KindReplayEnd       Kind = "replay_end"
)

// Terminal reports whether kind ends a stream (spec §3.1, §4.6).
func (k Kind) Terminal() bool {
	return k == KindReplayEnd || k == KindError
}

// Event is one immutable, ordered entry in a task's stream.
type Event struct {
	ID       string          `json:"id"`
	ThreadID string          `json:"thread_id"`
	Agent    string          `json:"agent,omitempty"`
	Role     string          `json:"role,omitempty"`
	Kind     Kind            `json:"event_kind"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ToolCall is a single whole tool invocation (kind tool_calls).
type ToolCall struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ArgsJSON string `json:"args_json,omitempty"`
}

// ToolCallChunk is a fragment of a tool call's streamed arguments
// (kind tool_call_chunks).
type ToolCallChunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	ArgsDelta string `json:"args_delta,omitempty"`
}

// MessageChunkData is the payload of a message_chunk event.
type MessageChunkData struct {
	Content      string  `json:"content"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// ToolCallsData is the payload of a tool_calls event.
type ToolCallsData struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCallChunksData is the payload of a tool_call_chunks event.
type ToolCallChunksData struct {
	Chunks []ToolCallChunk `json:"chunks"`
}

// ToolCallResultData is the payload of a tool_call_result event.
type ToolCallResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// InterruptData is the payload of an interrupt event.
type InterruptData struct {
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options"`
}

// ResearchPhaseData is the payload of research_start / research_end.
type ResearchPhaseData struct {
	Phase string `json:"phase,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ReplayEndData is the payload of the synthetic replay_end event.
type ReplayEndData struct {
	Mode        string `json:"mode"`
	TotalEvents int    `json:"total_events"`
}

// Encode marshals a typed payload into Data, panicking only on a
// programmer error (an un-marshalable Go value), never on caller input.
func Encode(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("events: payload does not marshal: " + err.Error())
	}
	return b
}
