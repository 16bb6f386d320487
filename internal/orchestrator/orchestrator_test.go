package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qtermio/qterm/internal/conversation"
	"github.com/qtermio/qterm/internal/toolexec"
	"github.com/qtermio/qterm/pkg/wire"
)

// scriptedIO replays a fixed line script and records every write and
// whether Confirm was ever asked.
type scriptedIO struct {
	lines        []string
	confirm      bool
	confirmAsked bool
	writes       strings.Builder
}

func (s *scriptedIO) ReadLine(ctx context.Context) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedIO) Write(text string) { s.writes.WriteString(text) }

func (s *scriptedIO) Confirm(ctx context.Context, prompt string) (bool, error) {
	s.confirmAsked = true
	return s.confirm, nil
}

func TestParseCommandSlashGrammar(t *testing.T) {
	cases := map[string]CommandKind{
		"/quit":        CommandQuit,
		"/q":           CommandQuit,
		"/exit":        CommandQuit,
		"/clear":       CommandClear,
		"/help":        CommandHelp,
		"/compact":     CommandCompact,
		"/profile":     CommandProfile,
		"/context":     CommandContext,
		"/tools":       CommandTools,
		"/prompts":     CommandPrompts,
		"@greeting hi": CommandPromptShorthand,
		"!ls -la":      CommandShellExec,
		`\/not a cmd`:  CommandText,
		"hello there":  CommandText,
	}
	for line, want := range cases {
		got := ParseCommand(line)
		require.Equalf(t, want, got.Kind, "ParseCommand(%q).Kind", line)
	}
}

func TestParseCommandEscapePreservesText(t *testing.T) {
	got := ParseCommand(`\/literal text`)
	require.Equal(t, CommandText, got.Kind)
	require.Equal(t, "literal text", got.Text)
}

func TestParseCommandAmbiguousBareWordHinted(t *testing.T) {
	got := ParseCommand("exit")
	require.Equalf(t, CommandUnknown, got.Kind, "expected bare 'exit' to be intercepted, got %+v", got)
}

func TestParseCommandUnknownSlash(t *testing.T) {
	got := ParseCommand("/bogus")
	require.Equalf(t, CommandUnknown, got.Kind, "expected unknown slash command, got %+v", got)
}

func TestStreamRendererHoldsBackSplitToken(t *testing.T) {
	r := NewStreamRenderer()
	out1 := r.Write("hello **wor")
	out2 := r.Write("ld**!")

	combined := out1 + out2 + r.Flush()
	require.Containsf(t, combined, "\x1b[1mworld\x1b[0m", "expected bold rendering across chunk boundary, got %q", combined)
	require.NotContainsf(t, out1, "**", "expected incomplete token held back, first chunk was %q", out1)
}

func TestStreamRendererInlineCode(t *testing.T) {
	r := NewStreamRenderer()
	out := r.Write("run `go test` now") + r.Flush()
	require.Contains(t, out, "\x1b[2mgo test\x1b[0m")
}

func TestQuitEndsRun(t *testing.T) {
	conv := conversation.New()
	registry := toolexec.NewRegistry()
	executor := toolexec.New(registry, toolexec.DefaultConfig(), nil)
	ioScript := &scriptedIO{lines: []string{"/quit"}}

	o := New(conv, registry, executor, nil, nil, ioScript)
	require.NoError(t, o.Run(context.Background()))
}

func TestClearResetsConversation(t *testing.T) {
	conv := conversation.New()
	require.NoError(t, conv.AppendUserMessage("hi", nil))

	registry := toolexec.NewRegistry()
	executor := toolexec.New(registry, toolexec.DefaultConfig(), nil)
	ioScript := &scriptedIO{lines: []string{"/clear"}}

	o := New(conv, registry, executor, nil, nil, ioScript)
	require.NoError(t, o.Step(context.Background()))
	require.Empty(t, o.Conv.Turns())
	require.Contains(t, ioScript.writes.String(), "cleared")
}

// schemaOnlyTool always fails generic JSON Schema validation (its schema
// requires a field the test input omits), exercising the Validate stage
// without ever needing a live model stream.
type schemaOnlyTool struct{}

func (schemaOnlyTool) Name() string        { return "needs_field" }
func (schemaOnlyTool) Description() string { return "test tool" }
func (schemaOnlyTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`)
}
func (schemaOnlyTool) Validate(json.RawMessage) error { return nil }
func (schemaOnlyTool) Execute(context.Context, json.RawMessage) (string, error) {
	return "should not run", nil
}

func TestToolValidationErrorNeverPromptsForConsent(t *testing.T) {
	conv := conversation.New()
	require.NoError(t, conv.AppendUserMessage("do something", nil))

	registry := toolexec.NewRegistry()
	require.NoError(t, registry.Register(schemaOnlyTool{}))
	executor := toolexec.New(registry, toolexec.DefaultConfig(), nil)

	toolUses := []wire.ToolUse{{ID: "call_1", Name: "needs_field", Input: json.RawMessage(`{}`)}}
	require.NoError(t, conv.PushAssistantMessage("", toolUses))

	ioScript := &scriptedIO{confirm: true}
	o := New(conv, registry, executor, nil, nil, ioScript)

	require.NoError(t, o.handlePendingToolUses(context.Background()))
	require.False(t, ioScript.confirmAsked, "expected a validation failure to never prompt for consent")
	require.Empty(t, conv.PendingToolUseIDs(), "expected pending tool use to be resolved by the validation-error result")

	turns := conv.Turns()
	last := turns[len(turns)-1]
	require.Lenf(t, last.ToolResults, 1, "expected exactly one tool result, got %+v", last.ToolResults)
	require.Equal(t, wire.ToolResultError, last.ToolResults[0].Status)
}

func TestRecursionBoundAbortsConversation(t *testing.T) {
	conv := conversation.New()
	require.NoError(t, conv.AppendUserMessage("go", nil))
	for i := 0; i <= conversation.MaxConsecutiveToolTurns; i++ {
		toolUses := []wire.ToolUse{{ID: idFor(i), Name: "noop", Input: json.RawMessage(`{}`)}}
		err := conv.PushAssistantMessage("", toolUses)
		if i < conversation.MaxConsecutiveToolTurns {
			require.NoError(t, err)
			require.NoError(t, conv.AddToolResults([]wire.ToolResult{{ToolUseID: idFor(i), Status: wire.ToolResultSuccess, Content: "ok"}}))
		} else {
			require.Error(t, err, "expected recursion bound to be exceeded")
		}
	}
}

func idFor(i int) string {
	return "call_" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
