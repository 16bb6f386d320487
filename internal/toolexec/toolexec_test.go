package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qtermio/qterm/pkg/wire"
)

type stubTool struct {
	name      string
	schema    string
	validateF func(json.RawMessage) error
	executeF  func(context.Context, json.RawMessage) (string, error)
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "stub" }
func (s *stubTool) Schema() json.RawMessage { return json.RawMessage(s.schema) }
func (s *stubTool) Validate(in json.RawMessage) error {
	if s.validateF != nil {
		return s.validateF(in)
	}
	return nil
}
func (s *stubTool) Execute(ctx context.Context, in json.RawMessage) (string, error) {
	if s.executeF != nil {
		return s.executeF(ctx, in)
	}
	return "ok", nil
}

const objSchema = `{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`

func TestRegistryRejectsMalformedSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&stubTool{name: "bad", schema: `{not json`})
	require.Error(t, err, "expected error registering tool with malformed schema")
}

func TestValidateCatchesSchemaViolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo", schema: objSchema}))
	exec := New(r, DefaultConfig(), nil)

	outcome := exec.Validate([]wire.ToolUse{
		{ID: "call_1", Name: "echo", Input: json.RawMessage(`{}`)},
	})
	require.Empty(t, outcome.Valid)
	require.Len(t, outcome.Invalid, 1)
	require.Equal(t, wire.ToolResultError, outcome.Invalid[0].Status)
	require.Equal(t, "call_1", outcome.Invalid[0].ToolUseID)
}

func TestValidateRunsToolSpecificInvariant(t *testing.T) {
	r := NewRegistry()
	tool := &stubTool{
		name:   "replacer",
		schema: objSchema,
		validateF: func(in json.RawMessage) error {
			return errors.New("exactly one match required")
		},
	}
	require.NoError(t, r.Register(tool))
	exec := New(r, DefaultConfig(), nil)

	outcome := exec.Validate([]wire.ToolUse{
		{ID: "call_1", Name: "replacer", Input: json.RawMessage(`{"x":"y"}`)},
	})
	require.Empty(t, outcome.Valid)
	require.Len(t, outcome.Invalid, 1)
}

func TestValidateUnknownToolIsInvalid(t *testing.T) {
	r := NewRegistry()
	exec := New(r, DefaultConfig(), nil)

	outcome := exec.Validate([]wire.ToolUse{
		{ID: "call_1", Name: "missing", Input: json.RawMessage(`{}`)},
	})
	require.Empty(t, outcome.Valid)
	require.Len(t, outcome.Invalid, 1)
}

func TestExecuteSequentialOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	makeTool := func(name string) *stubTool {
		return &stubTool{
			name:   name,
			schema: objSchema,
			executeF: func(ctx context.Context, in json.RawMessage) (string, error) {
				order = append(order, name)
				return name, nil
			},
		}
	}
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(makeTool(n)))
	}
	exec := New(r, DefaultConfig(), nil)

	results := exec.Execute(context.Background(), []wire.ToolUse{
		{ID: "1", Name: "a", Input: json.RawMessage(`{"x":"1"}`)},
		{ID: "2", Name: "b", Input: json.RawMessage(`{"x":"1"}`)},
		{ID: "3", Name: "c", Input: json.RawMessage(`{"x":"1"}`)},
	})
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, wire.ToolResultSuccess, r.Status, r.Content)
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestExecuteToolErrorBecomesErrorResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name:   "failer",
		schema: objSchema,
		executeF: func(ctx context.Context, in json.RawMessage) (string, error) {
			return "", errors.New("boom")
		},
	}))
	exec := New(r, DefaultConfig(), nil)

	results := exec.Execute(context.Background(), []wire.ToolUse{
		{ID: "1", Name: "failer", Input: json.RawMessage(`{"x":"1"}`)},
	})
	require.Equal(t, wire.ToolResultError, results[0].Status)
	require.Equal(t, "boom", results[0].Content)
}

func TestExecuteTimeoutProducesErrorResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name:   "slow",
		schema: objSchema,
		executeF: func(ctx context.Context, in json.RawMessage) (string, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "too slow", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))
	cfg := DefaultConfig()
	cfg.PerToolTimeout = 10 * time.Millisecond
	exec := New(r, cfg, nil)

	results := exec.Execute(context.Background(), []wire.ToolUse{
		{ID: "1", Name: "slow", Input: json.RawMessage(`{"x":"1"}`)},
	})
	require.Equal(t, wire.ToolResultError, results[0].Status)
}

func TestExecuteConcurrentlyPreservesOrder(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"a", "b", "c", "d"} {
		name := n
		require.NoError(t, r.Register(&stubTool{
			name:   name,
			schema: objSchema,
			executeF: func(ctx context.Context, in json.RawMessage) (string, error) {
				return name, nil
			},
		}))
	}
	exec := New(r, DefaultConfig(), nil)

	results := exec.ExecuteConcurrently(context.Background(), []wire.ToolUse{
		{ID: "1", Name: "a", Input: json.RawMessage(`{"x":"1"}`)},
		{ID: "2", Name: "b", Input: json.RawMessage(`{"x":"1"}`)},
		{ID: "3", Name: "c", Input: json.RawMessage(`{"x":"1"}`)},
		{ID: "4", Name: "d", Input: json.RawMessage(`{"x":"1"}`)},
	})
	want := []string{"a", "b", "c", "d"}
	for i, w := range want {
		require.Equal(t, w, results[i].Content)
	}
}

func TestFileWriteCreateAndStrReplace(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriteTool(dir)

	createInput, err := json.Marshal(fileWriteInput{
		Command:  "create",
		Path:     "greeting.txt",
		FileText: "hello world\n",
	})
	require.NoError(t, err)
	require.NoError(t, tool.Validate(createInput))
	_, err = tool.Execute(context.Background(), createInput)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(got))

	replaceInput, err := json.Marshal(fileWriteInput{
		Command: "str_replace",
		Path:    "greeting.txt",
		OldStr:  "world",
		NewStr:  "qterm",
	})
	require.NoError(t, err)
	require.NoError(t, tool.Validate(replaceInput))
	_, err = tool.Execute(context.Background(), replaceInput)
	require.NoError(t, err)

	got, err = os.ReadFile(filepath.Join(dir, "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello qterm\n", string(got))
}

func TestFileWriteStrReplaceRequiresExactlyOneMatch(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriteTool(dir)
	path := filepath.Join(dir, "dup.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo\n"), 0o644))

	input, err := json.Marshal(fileWriteInput{Command: "str_replace", Path: "dup.txt", OldStr: "foo", NewStr: "bar"})
	require.NoError(t, err)
	require.Error(t, tool.Validate(input), "expected validation error for multiple occurrences")

	require.NoError(t, os.WriteFile(path, []byte("no match here\n"), 0o644))
	require.Error(t, tool.Validate(input), "expected validation error for zero occurrences")
}

func TestFileWriteInsertClampsLineNumber(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriteTool(dir)
	path := filepath.Join(dir, "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644))

	farLine := 999
	input, err := json.Marshal(fileWriteInput{Command: "insert", Path: "lines.txt", NewStr: "inserted", InsertLine: &farLine})
	require.NoError(t, err)
	require.NoError(t, tool.Validate(input))
	_, err = tool.Execute(context.Background(), input)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\nthree\ninserted\n", string(got))
}

func TestFileWritePathEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriteTool(dir)
	input, err := json.Marshal(fileWriteInput{Command: "create", Path: "../../etc/passwd", FileText: "x"})
	require.NoError(t, err)
	require.Error(t, tool.Validate(input), "expected path-escape rejection")
}
