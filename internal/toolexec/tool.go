// Package toolexec implements the tool registry and the two-stage
// validate-then-execute pipeline the orchestrator drives for every ToolUse
// the streaming response parser emits.
//
// Grounded on the teacher's internal/agent/tool_registry.go and
// internal/agent/tool_exec.go (concurrent/sequential execute split kept
// nearly verbatim), generalized to the spec's consent-gated pipeline: a
// Validate stage that can fail a tool call without ever prompting the user,
// and an Execute stage run only over validated, consented calls.
package toolexec

import (
	"context"
	"encoding/json"
)

// Tool is one entry in the registry: an embedded or MCP-learned capability
// the model can invoke by name.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the tool's JSON Schema for its input, used both to
	// describe the tool to the model and to validate a proposed call.
	Schema() json.RawMessage

	// Validate performs tool-specific invariant checks beyond generic JSON
	// Schema validation (e.g. a file-replace tool requiring the target
	// path exist, a file-create tool requiring a non-empty path). It is
	// called before the user is ever asked for consent.
	Validate(input json.RawMessage) error

	// Execute runs the tool and returns its result content. An error here
	// becomes an error ToolResult, not a fatal conversation error.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}
