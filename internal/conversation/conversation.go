// Package conversation implements the chat orchestrator's append-only
// message history: strict user/assistant alternation, tool-use/tool-result
// pairing, prelude context attachment, and token-budget enforcement.
//
// Grounded on the teacher's internal/agent/context package (Packer's
// drop-oldest-first budgeting, Summary's metadata-marker convention for
// history entries that aren't ordinary turns) generalized to the stricter
// turn-alternation and tool-use invariants this spec requires.
package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/qtermio/qterm/pkg/wire"
)

// MaxConsecutiveToolTurns bounds how many assistant turns in a row may
// contain tool uses without an intervening fresh user message before the
// conversation is aborted.
const MaxConsecutiveToolTurns = 50

var (
	// ErrAlternationViolation is returned when a caller tries to push two
	// turns of the same role back to back.
	ErrAlternationViolation = errors.New("conversation: roles must strictly alternate")

	// ErrNoPendingToolUses is returned by AddToolResults/AbandonToolUse
	// when the last assistant turn had no tool uses awaiting resolution.
	ErrNoPendingToolUses = errors.New("conversation: no pending tool uses")

	// ErrToolResultMismatch is returned when the supplied tool results
	// don't exactly cover the pending tool use IDs.
	ErrToolResultMismatch = errors.New("conversation: tool results do not match pending tool uses")

	// ErrDuplicateToolUseID is returned when an assistant turn's tool uses
	// reuse an ID already seen in this conversation.
	ErrDuplicateToolUseID = errors.New("conversation: duplicate tool_use id")

	// ErrRecursionBoundExceeded is returned once MaxConsecutiveToolTurns is
	// exceeded without intervening fresh user input.
	ErrRecursionBoundExceeded = errors.New("conversation: recursion bound exceeded")
)

// BudgetConfig controls how AsSendable trims history to fit within a
// token budget, approximated in characters the same way the teacher's
// context.Packer does.
type BudgetConfig struct {
	// MaxChars is the total character budget across all turns' Text,
	// ToolUses, ToolResults, and Context bodies.
	MaxChars int
}

// DefaultBudgetConfig mirrors the teacher's context.DefaultPackOptions
// character budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{MaxChars: 30000}
}

// Conversation owns one chat session's turn history, the current pending
// tool-use queue, and the running count of consecutive tool-use turns. All
// state lives here — no package-level mutable state — per the same
// no-globals discipline applied to ptyshim.Session.
type Conversation struct {
	mu sync.Mutex

	turns []wire.Turn

	pendingToolUses      []wire.ToolUse
	seenToolUseIDs       map[string]struct{}
	consecutiveToolTurns int
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{seenToolUseIDs: make(map[string]struct{})}
}

// Turns returns a copy of the current history.
func (c *Conversation) Turns() []wire.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// PendingToolUseIDs returns the IDs of tool uses awaiting results, if any.
func (c *Conversation) PendingToolUseIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.pendingToolUses))
	for i, tu := range c.pendingToolUses {
		ids[i] = tu.ID
	}
	return ids
}

// PendingToolUses returns the full tool uses awaiting results, if any, so
// a caller can validate and execute them without re-deriving them from
// turn history.
func (c *Conversation) PendingToolUses() []wire.ToolUse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.ToolUse, len(c.pendingToolUses))
	copy(out, c.pendingToolUses)
	return out
}

func (c *Conversation) lastRole() (wire.Role, bool) {
	if len(c.turns) == 0 {
		return "", false
	}
	return c.turns[len(c.turns)-1].Role, true
}

// AppendUserMessage pushes a user turn, attaching the given prelude
// context blocks (shell history / git / env / profile files / hook
// output detected from "@"-tokens and the active profile). Fails if there
// are unresolved pending tool uses — callers must call AddToolResults or
// AbandonToolUse first.
func (c *Conversation) AppendUserMessage(text string, context []wire.ContextBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingToolUses) > 0 {
		return fmt.Errorf("%w: %d tool uses still pending", ErrAlternationViolation, len(c.pendingToolUses))
	}
	if role, ok := c.lastRole(); ok && role == wire.RoleUser {
		return ErrAlternationViolation
	}

	c.turns = append(c.turns, wire.Turn{Role: wire.RoleUser, Text: text, Context: context})
	c.consecutiveToolTurns = 0
	return nil
}

// PushAssistantMessage stores an assistant turn, enforcing alternation.
// If toolUses is non-empty, they become the pending queue that the next
// AddToolResults or AbandonToolUse call must resolve, and the
// consecutive-tool-turn counter is incremented and checked against
// MaxConsecutiveToolTurns.
func (c *Conversation) PushAssistantMessage(text string, toolUses []wire.ToolUse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if role, ok := c.lastRole(); !ok || role != wire.RoleUser {
		return ErrAlternationViolation
	}

	for _, tu := range toolUses {
		if _, dup := c.seenToolUseIDs[tu.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateToolUseID, tu.ID)
		}
	}

	c.turns = append(c.turns, wire.Turn{Role: wire.RoleAssistant, Text: text, ToolUses: toolUses})

	for _, tu := range toolUses {
		c.seenToolUseIDs[tu.ID] = struct{}{}
	}
	c.pendingToolUses = append([]wire.ToolUse(nil), toolUses...)

	if len(toolUses) > 0 {
		c.consecutiveToolTurns++
		if c.consecutiveToolTurns > MaxConsecutiveToolTurns {
			return ErrRecursionBoundExceeded
		}
	}
	return nil
}

// AddToolResults constructs the next user turn from tool results. Must be
// called exactly once after an assistant turn that contained tool uses,
// and results must cover precisely the pending tool-use IDs (order may
// differ: execution order need not match declaration order in the result
// set, only declaration order during actual execution per spec).
func (c *Conversation) AddToolResults(results []wire.ToolResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingToolUses) == 0 {
		return ErrNoPendingToolUses
	}
	if err := c.validateResultsCoverPending(results); err != nil {
		return err
	}

	c.turns = append(c.turns, wire.Turn{Role: wire.RoleUser, ToolResults: results})
	c.pendingToolUses = nil
	return nil
}

func (c *Conversation) validateResultsCoverPending(results []wire.ToolResult) error {
	if len(results) != len(c.pendingToolUses) {
		return ErrToolResultMismatch
	}
	pending := make(map[string]struct{}, len(c.pendingToolUses))
	for _, tu := range c.pendingToolUses {
		pending[tu.ID] = struct{}{}
	}
	for _, r := range results {
		if _, ok := pending[r.ToolUseID]; !ok {
			return fmt.Errorf("%w: unexpected tool_use_id %s", ErrToolResultMismatch, r.ToolUseID)
		}
		delete(pending, r.ToolUseID)
	}
	if len(pending) != 0 {
		return ErrToolResultMismatch
	}
	return nil
}

// AbandonToolUse is called when the user supplies fresh input instead of
// consenting to pending tool uses. It synthesizes an error ToolResult for
// each pending tool_use_id (keeping the conversation's tool-use/tool-result
// pairing invariant intact even though nothing actually ran) and then
// appends newUserText as the next user turn.
func (c *Conversation) AbandonToolUse(newUserText string, context []wire.ContextBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingToolUses) == 0 {
		return ErrNoPendingToolUses
	}

	results := make([]wire.ToolResult, len(c.pendingToolUses))
	for i, tu := range c.pendingToolUses {
		results[i] = wire.ToolResult{
			ToolUseID: tu.ID,
			Status:    wire.ToolResultError,
			Content:   "abandoned: user provided new input instead of approving this tool call",
		}
	}
	c.turns = append(c.turns, wire.Turn{Role: wire.RoleUser, ToolResults: results})
	c.pendingToolUses = nil

	c.turns = append(c.turns, wire.Turn{Role: wire.RoleUser, Text: newUserText, Context: context})
	c.consecutiveToolTurns = 0
	return nil
}

// AsSendable returns a snapshot of the history suitable for transmission
// to the model, trimmed to budget.MaxChars by dropping the oldest user
// turns' prelude context blocks first (never mid-turn Text, ToolUses, or
// ToolResults), matching the teacher's Packer's drop-oldest-first policy
// generalized to "drop context before dropping turns".
func (c *Conversation) AsSendable(budget BudgetConfig) []wire.Turn {
	c.mu.Lock()
	snapshot := make([]wire.Turn, len(c.turns))
	copy(snapshot, c.turns)
	c.mu.Unlock()

	if budget.MaxChars <= 0 {
		budget = DefaultBudgetConfig()
	}

	total := totalChars(snapshot)
	if total <= budget.MaxChars {
		return snapshot
	}

	// Drop oldest-first context blocks until within budget or none remain.
	for i := range snapshot {
		if total <= budget.MaxChars {
			break
		}
		if len(snapshot[i].Context) == 0 {
			continue
		}
		for total > budget.MaxChars && len(snapshot[i].Context) > 0 {
			total -= len(snapshot[i].Context[0].Body)
			snapshot[i].Context = snapshot[i].Context[1:]
		}
	}

	return snapshot
}

func totalChars(turns []wire.Turn) int {
	n := 0
	for _, t := range turns {
		n += len(t.Text)
		for _, cb := range t.Context {
			n += len(cb.Body)
		}
		for _, tu := range t.ToolUses {
			n += len(tu.Name) + len(tu.Input)
		}
		for _, tr := range t.ToolResults {
			n += len(tr.Content)
		}
	}
	return n
}
