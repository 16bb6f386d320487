package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileWriteTool implements the file_write tool: create/str_replace/insert/
// append variants over files confined to a workspace root.
//
// Grounded on the teacher's internal/tools/files/write.go for the Tool
// interface shape (the input schema is reflected from struct tags, see
// fileWriteSchemaReflector) and on original_source's fs_write.rs for command semantics:
// str_replace requires old_str to match exactly once, insert clamps its
// line number into [0, line_count], and every successful write renders a
// unified diff preview via go-diff's DiffMatchPatch.
type FileWriteTool struct {
	Root string
}

// NewFileWriteTool creates a file_write tool scoped to root.
func NewFileWriteTool(root string) *FileWriteTool {
	return &FileWriteTool{Root: root}
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return "Create, append to, or edit a file: create, str_replace, insert, or append."
}

// fileWriteSchemaReflector builds the tool's input schema from
// fileWriteInput's struct tags rather than a hand-rolled map[string]any
// literal, the way the teacher's newer tools (post internal/tools/files)
// generate theirs.
var fileWriteSchemaReflector = &jsonschema.Reflector{
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

func (t *FileWriteTool) Schema() json.RawMessage {
	schema := fileWriteSchemaReflector.Reflect(&fileWriteInput{})
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type fileWriteInput struct {
	Command    string `json:"command" jsonschema:"required,enum=create,enum=str_replace,enum=insert,enum=append,description=Which file operation to perform."`
	Path       string `json:"path" jsonschema:"required,description=Path to the file, relative to the workspace root."`
	FileText   string `json:"file_text,omitempty" jsonschema:"description=Content for create or append."`
	OldStr     string `json:"old_str,omitempty" jsonschema:"description=Exact text to replace for str_replace; must occur exactly once."`
	NewStr     string `json:"new_str,omitempty" jsonschema:"description=Replacement text for str_replace, or text to insert."`
	InsertLine *int   `json:"insert_line,omitempty" jsonschema:"description=Number of lines kept before new_str; 0 prepends and values past the line count append."`
}

// Validate checks command-specific invariants beyond generic schema
// conformance: str_replace needs old_str, insert needs insert_line, and
// str_replace/insert both need an existing file to operate on.
func (t *FileWriteTool) Validate(input json.RawMessage) error {
	var in fileWriteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Errorf("invalid file_write parameters: %w", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return fmt.Errorf("path is required")
	}
	resolved, err := t.resolve(in.Path)
	if err != nil {
		return err
	}

	switch in.Command {
	case "create":
		return nil
	case "append":
		return nil
	case "str_replace":
		if in.OldStr == "" {
			return fmt.Errorf("old_str is required for str_replace")
		}
		content, err := os.ReadFile(resolved)
		if err != nil {
			return fmt.Errorf("read %s: %w", in.Path, err)
		}
		n := strings.Count(string(content), in.OldStr)
		switch n {
		case 0:
			return fmt.Errorf("no occurrences of old_str were found in %s", in.Path)
		case 1:
			return nil
		default:
			return fmt.Errorf("%d occurrences of old_str were found in %s when only 1 is expected", n, in.Path)
		}
	case "insert":
		if in.InsertLine == nil {
			return fmt.Errorf("insert_line is required for insert")
		}
		if _, err := os.ReadFile(resolved); err != nil {
			return fmt.Errorf("read %s: %w", in.Path, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", in.Command)
	}
}

// Execute performs the write and returns a unified-diff preview of the
// change as its result.
func (t *FileWriteTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in fileWriteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid file_write parameters: %w", err)
	}
	resolved, err := t.resolve(in.Path)
	if err != nil {
		return "", err
	}

	before := ""
	if existing, err := os.ReadFile(resolved); err == nil {
		before = string(existing)
	}

	var after string
	switch in.Command {
	case "create":
		after = in.FileText
	case "append":
		after = before + in.FileText
	case "str_replace":
		after = strings.Replace(before, in.OldStr, in.NewStr, 1)
	case "insert":
		after = insertAtLine(before, *in.InsertLine, in.NewStr)
	default:
		return "", fmt.Errorf("unknown command: %s", in.Command)
	}
	if after != "" && !strings.HasSuffix(after, "\n") {
		after += "\n"
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", in.Path, err)
	}
	if err := os.WriteFile(resolved, []byte(after), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", in.Path, err)
	}

	return renderDiffPreview(in.Path, before, after), nil
}

// insertAtLine inserts text after the first line lines of content (0
// prepends), clamping line into [0, line_count] per the teacher's source
// semantics.
func insertAtLine(content string, line int, text string) string {
	lines := strings.Split(content, "\n")
	if content == "" {
		lines = nil
	}
	lineCount := len(lines)
	if line < 0 {
		line = 0
	}
	if line > lineCount {
		line = lineCount
	}

	out := make([]string, 0, lineCount+1)
	out = append(out, lines[:line]...)
	out = append(out, text)
	out = append(out, lines[line:]...)
	return strings.Join(out, "\n")
}

// renderDiffPreview builds a human-readable unified-style diff using
// go-diff's line-level diffing, the same library zjrosen-perles' diff
// viewer uses for word/line diffs.
func renderDiffPreview(path, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", path, path)
	for _, d := range diffs {
		lines := strings.SplitAfter(d.Text, "\n")
		for _, l := range lines {
			if l == "" {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				sb.WriteString("+" + l)
			case diffmatchpatch.DiffDelete:
				sb.WriteString("-" + l)
			case diffmatchpatch.DiffEqual:
				sb.WriteString(" " + l)
			}
			if !strings.HasSuffix(l, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func (t *FileWriteTool) resolve(path string) (string, error) {
	root := strings.TrimSpace(t.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return target, nil
}
