// Package respstream parses a provider's server-sent-event stream into a
// provider-agnostic sequence of StreamEvents, the way the teacher's
// internal/agent/providers package turns Anthropic/OpenAI wire events into
// *agent.CompletionChunk values before the agentic loop ever sees them.
//
// The HTTP transport to the LLM provider is out of scope here (spec.md treats
// it as an external collaborator); this package starts at "here is a
// text/event-stream body" and ends at "here is a channel of StreamEvents",
// mirroring the shape of pkg/models.RuntimeEvent/ToolCall on the consumer
// side of that boundary.
package respstream

import "encoding/json"

// StreamEvent is one unit of a parsed streaming response, equivalent in
// shape to the teacher's agent.CompletionChunk.
type StreamEvent struct {
	// Text carries incremental assistant text (a "text_delta" equivalent).
	Text string `json:"text,omitempty"`

	// Thinking carries incremental extended-thinking text.
	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	// ToolUse is populated once a tool_use content block has fully closed
	// (its partial-JSON fragments accumulated and parsed).
	ToolUse *ToolUse `json:"tool_use,omitempty"`

	// ConversationID is extracted from message_start, when the provider
	// assigns one.
	ConversationID string `json:"conversation_id,omitempty"`

	// StopReason comes from message_delta ("end_turn", "tool_use", "max_tokens", ...).
	StopReason string `json:"stop_reason,omitempty"`

	// Done is true on message_stop: the response is complete. FinalText
	// carries the fully concatenated assistant text for the turn, matching
	// spec's EndStream{final_assistant_message}.
	Done      bool   `json:"done,omitempty"`
	FinalText string `json:"final_text,omitempty"`

	// Err terminates the stream; no further events follow.
	Err error `json:"-"`
}

// ToolUse is a fully-materialized tool invocation request from the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// rawEvent is the wire shape of one SSE frame's JSON payload, a subset of
// Anthropic's Messages API streaming vocabulary (message_start,
// content_block_start, content_block_delta, content_block_stop,
// message_delta, message_stop, error, ping).
type rawEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		ID string `json:"id"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
