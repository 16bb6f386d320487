package conversation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/qtermio/qterm/pkg/wire"
)

func TestAlternationEnforced(t *testing.T) {
	c := New()
	if err := c.AppendUserMessage("hi", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.AppendUserMessage("again", nil); !errors.Is(err, ErrAlternationViolation) {
		t.Fatalf("expected alternation violation, got %v", err)
	}
	if err := c.PushAssistantMessage("hello", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.PushAssistantMessage("again", nil); !errors.Is(err, ErrAlternationViolation) {
		t.Fatalf("expected alternation violation, got %v", err)
	}
}

func TestToolUseToolResultPairing(t *testing.T) {
	c := New()
	if err := c.AppendUserMessage("read a.go", nil); err != nil {
		t.Fatal(err)
	}
	tu := wire.ToolUse{ID: "tu_1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)}
	if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); err != nil {
		t.Fatal(err)
	}

	// A new user message can't jump in while tool uses are pending.
	if err := c.AppendUserMessage("nevermind", nil); !errors.Is(err, ErrAlternationViolation) {
		t.Fatalf("expected alternation violation while pending, got %v", err)
	}

	if err := c.AddToolResults([]wire.ToolResult{{ToolUseID: "tu_1", Status: wire.ToolResultSuccess, Content: "ok"}}); err != nil {
		t.Fatal(err)
	}

	turns := c.Turns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[2].ToolResults[0].ToolUseID != "tu_1" {
		t.Fatalf("unexpected tool result turn: %+v", turns[2])
	}

	// The tool-results turn counts as a user turn for alternation purposes,
	// so the model must reply before a fresh user message is accepted.
	if err := c.PushAssistantMessage("done", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.AppendUserMessage("thanks", nil); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateToolUseIDRejected(t *testing.T) {
	c := New()
	c.AppendUserMessage("go", nil)
	tu := wire.ToolUse{ID: "dup", Name: "x"}
	if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); err != nil {
		t.Fatal(err)
	}
	c.AddToolResults([]wire.ToolResult{{ToolUseID: "dup", Status: wire.ToolResultSuccess}})
	if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); !errors.Is(err, ErrDuplicateToolUseID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestAbandonToolUseSynthesizesErrorResults(t *testing.T) {
	c := New()
	c.AppendUserMessage("run something risky", nil)
	tu := wire.ToolUse{ID: "tu_2", Name: "delete_everything"}
	if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); err != nil {
		t.Fatal(err)
	}

	if err := c.AbandonToolUse("actually don't", nil); err != nil {
		t.Fatal(err)
	}

	turns := c.Turns()
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns (user, assistant, synthesized-result, new-user), got %d", len(turns))
	}
	if turns[2].ToolResults[0].Status != wire.ToolResultError {
		t.Fatalf("expected synthesized error result, got %+v", turns[2].ToolResults[0])
	}
	if turns[3].Text != "actually don't" {
		t.Fatalf("expected the abandon text as the new user turn, got %q", turns[3].Text)
	}
	if len(c.PendingToolUseIDs()) != 0 {
		t.Fatal("expected no pending tool uses after abandon")
	}
}

func TestRecursionBoundExceeded(t *testing.T) {
	c := New()
	c.AppendUserMessage("go", nil)
	for i := 0; i < MaxConsecutiveToolTurns; i++ {
		tu := wire.ToolUse{ID: idFor(i), Name: "x"}
		if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); err != nil {
			t.Fatalf("iteration %d: unexpected error %v", i, err)
		}
		c.AddToolResults([]wire.ToolResult{{ToolUseID: tu.ID, Status: wire.ToolResultSuccess}})
	}
	tu := wire.ToolUse{ID: "overflow", Name: "x"}
	if err := c.PushAssistantMessage("", []wire.ToolUse{tu}); !errors.Is(err, ErrRecursionBoundExceeded) {
		t.Fatalf("expected recursion bound error, got %v", err)
	}
}

func idFor(i int) string {
	return "tu_" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestAsSendableDropsOldestContextFirst(t *testing.T) {
	c := New()
	c.AppendUserMessage("first", []wire.ContextBlock{
		{Kind: wire.ContextBlockGit, Body: make3000()},
		{Kind: wire.ContextBlockEnv, Body: make3000()},
	})
	c.PushAssistantMessage("ack", nil)
	c.AppendUserMessage("second", []wire.ContextBlock{{Kind: wire.ContextBlockShellHistory, Body: "recent history, keep me"}})

	sendable := c.AsSendable(BudgetConfig{MaxChars: 100})

	if len(sendable[0].Context) != 0 {
		t.Fatalf("expected oldest turn's context fully dropped, got %+v", sendable[0].Context)
	}
	if sendable[0].Text != "first" {
		t.Fatal("turn text must never be dropped by budgeting")
	}
}

func make3000() string {
	b := make([]byte, 3000)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
