package toolexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qtermio/qterm/internal/obs"
	"github.com/qtermio/qterm/pkg/wire"
)

// Config configures tool execution behavior, mirroring the teacher's
// ToolExecConfig knobs.
type Config struct {
	// Concurrency is the maximum number of concurrent tool executions.
	Concurrency int

	// PerToolTimeout bounds a single execution attempt.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call.
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration
}

// DefaultConfig mirrors the teacher's DefaultToolExecConfig.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// Executor drives the validate-then-execute pipeline over a Registry.
type Executor struct {
	registry *Registry
	config   Config
	logger   *obs.Logger
}

// New creates an Executor. Zero-value Config fields fall back to
// DefaultConfig's values.
func New(registry *Registry, config Config, logger *obs.Logger) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Executor{registry: registry, config: config, logger: logger}
}

// ValidationOutcome splits a batch of proposed tool uses into those that
// passed validation (and so require consent before running) and those that
// failed (whose error ToolResults are already final — they are "added to
// the next user turn without ever prompting the user").
type ValidationOutcome struct {
	Valid   []wire.ToolUse
	Invalid []wire.ToolResult
}

// Validate runs the two checks — generic JSON Schema conformance plus each
// tool's own invariant checks — over every proposed call, without ever
// executing anything.
func (e *Executor) Validate(toolUses []wire.ToolUse) ValidationOutcome {
	var out ValidationOutcome
	for _, tu := range toolUses {
		if err := e.registry.validateCall(tu.Name, tu.Input); err != nil {
			out.Invalid = append(out.Invalid, wire.ToolResult{
				ToolUseID: tu.ID,
				Status:    wire.ToolResultError,
				Content:   err.Error(),
			})
			continue
		}
		out.Valid = append(out.Valid, tu)
	}
	return out
}

// Execute runs validated, consented tool uses sequentially in declaration
// order, as spec.md's Execute stage requires (consent is a single
// all-or-nothing question per turn, so execution itself stays strictly
// ordered — concurrency within a turn would make the "declaration order"
// guarantee meaningless to the user watching output scroll by).
func (e *Executor) Execute(ctx context.Context, toolUses []wire.ToolUse) []wire.ToolResult {
	results := make([]wire.ToolResult, len(toolUses))
	for i, tu := range toolUses {
		results[i] = e.executeOne(ctx, tu)
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, tu wire.ToolUse) wire.ToolResult {
	maxAttempts := e.config.MaxAttempts
	var content string
	var isError bool

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		toolCtx = obs.AddToolCallID(toolCtx, tu.ID)
		content, isError = e.runWithTimeout(toolCtx, tu)
		cancel()

		if !isError {
			break
		}
		if attempt < maxAttempts {
			if e.config.RetryBackoff > 0 {
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					return wire.ToolResult{ToolUseID: tu.ID, Status: wire.ToolResultError, Content: "tool execution canceled"}
				}
			}
		}
	}

	status := wire.ToolResultSuccess
	if isError {
		status = wire.ToolResultError
	}
	return wire.ToolResult{ToolUseID: tu.ID, Status: status, Content: content}
}

func (e *Executor) runWithTimeout(ctx context.Context, tu wire.ToolUse) (content string, isError bool) {
	type outcome struct {
		content string
		isError bool
	}
	done := make(chan outcome, 1)

	go func() {
		c, isErr := e.registry.execute(ctx, tu.Name, tu.Input)
		select {
		case done <- outcome{content: c, isError: isErr}:
		default:
			if e.logger != nil {
				e.logger.Warn(ctx, "tool execution completed after timeout, result discarded", "tool", tu.Name)
			}
		}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout), true
		}
		return "tool execution canceled", true
	case o := <-done:
		return o.content, o.isError
	}
}

// ExecuteConcurrently runs validated tool uses with bounded concurrency,
// for callers that don't need the orchestrator's strict per-turn ordering
// (e.g. a batch `/tools run` admin command). Results preserve input order.
// Grounded on the teacher's ExecuteConcurrently (semaphore + WaitGroup).
func (e *Executor) ExecuteConcurrently(ctx context.Context, toolUses []wire.ToolUse) []wire.ToolResult {
	results := make([]wire.ToolResult, len(toolUses))
	if len(toolUses) == 0 {
		return results
	}

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	wg.Add(len(toolUses))

	for i, tu := range toolUses {
		go func(idx int, call wire.ToolUse) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = wire.ToolResult{ToolUseID: call.ID, Status: wire.ToolResultError, Content: "context canceled"}
				return
			}
			results[idx] = e.executeOne(ctx, call)
		}(i, tu)
	}

	wg.Wait()
	return results
}
