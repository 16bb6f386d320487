package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength and MaxToolParamsSize bound resource usage per call,
// the same limits the teacher's registry enforces.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Registry holds the process's tool catalog: an embedded set loaded at
// startup plus anything learned from connected MCP servers. It is
// goroutine-safe because MCP servers can register/unregister tools in the
// background as list_changed notifications arrive.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		schema: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool, compiling its schema eagerly so a
// malformed schema is caught at registration time rather than on first use.
func (r *Registry) Register(tool Tool) error {
	compiler := jsonschema.NewCompiler()
	schemaURL := "mem://tools/" + tool.Name() + ".json"
	if err := compiler.AddResource(schemaURL, bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("toolexec: compile schema for %s: %w", tool.Name(), err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("toolexec: compile schema for %s: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schema[tool.Name()] = compiled
	return nil
}

// Unregister removes a tool by name (e.g. when an MCP server disconnects).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, for describing the catalog to the
// model or to a `/tools schema` slash command.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func (r *Registry) schemaFor(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schema[name]
	return s, ok
}

// validateCall checks a proposed call's shape before it ever reaches
// Tool.Validate: name length, payload size, tool existence, and JSON Schema
// conformance.
func (r *Registry) validateCall(name string, input []byte) error {
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(input) > MaxToolParamsSize {
		return fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	schema, ok := r.schemaFor(name)
	if !ok {
		return fmt.Errorf("tool schema not compiled: %s", name)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("invalid input JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return tool.Validate(input)
}

// execute runs a validated call, translating a nil Tool.Execute error into
// a success and a non-nil one into error content — tool execution failures
// never escalate to a Go error, only an error ToolResult.
func (r *Registry) execute(ctx context.Context, name string, input []byte) (content string, isError bool) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("tool not found: %s", name), true
	}
	out, err := tool.Execute(ctx, input)
	if err != nil {
		return err.Error(), true
	}
	return out, false
}
