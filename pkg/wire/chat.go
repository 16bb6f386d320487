package wire

import "encoding/json"

// Role identifies the author of a conversation turn. Conversation turns
// strictly alternate between RoleUser and RoleAssistant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUse is a model-requested tool invocation, as finalized by the
// streaming response parser.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultStatus is the outcome of executing a ToolUse.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ToolResult is the other half of a tool use: its outcome, keyed back to
// the ToolUse.ID it answers.
type ToolResult struct {
	ToolUseID string           `json:"tool_use_id"`
	Status    ToolResultStatus `json:"status"`
	Content   string           `json:"content"`
}

// ContextBlockKind identifies the provenance of a prelude context block
// attached to a user turn.
type ContextBlockKind string

const (
	ContextBlockShellHistory ContextBlockKind = "shell_history"
	ContextBlockGit          ContextBlockKind = "git"
	ContextBlockEnv          ContextBlockKind = "env"
	ContextBlockProfileFile  ContextBlockKind = "profile_file"
	ContextBlockHookOutput   ContextBlockKind = "hook_output"
)

// ContextBlock is one piece of ambient context (shell history, git status,
// environment, a profile file's contents, a hook's stdout) attached to the
// user turn that introduced it. Context blocks are never stored on an
// assistant reply and are the first thing dropped when a conversation
// exceeds its token budget.
type ContextBlock struct {
	Kind  ContextBlockKind `json:"kind"`
	Label string           `json:"label,omitempty"`
	Body  string           `json:"body"`
}

// Turn is one entry in a Conversation's history.
type Turn struct {
	Role Role `json:"role"`

	// Text is the turn's plain-text content: the user's typed message, or
	// the assistant's final assembled response text.
	Text string `json:"text,omitempty"`

	// Context holds prelude blocks attached to a user turn (see
	// ContextBlock). Always empty on assistant turns.
	Context []ContextBlock `json:"context,omitempty"`

	// ToolUses holds tool invocations requested by an assistant turn.
	ToolUses []ToolUse `json:"tool_uses,omitempty"`

	// ToolResults holds the outcomes of the prior assistant turn's
	// ToolUses, carried on the user turn that follows it.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}
