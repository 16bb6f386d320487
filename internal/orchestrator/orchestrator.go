// Package orchestrator drives the chat read-eval loop: it parses slash
// commands, builds sendable conversation snapshots, drives a streaming
// response through the tool-use consent cycle, and renders assistant text
// incrementally to the terminal.
//
// Grounded on spec.md §4.10's main-loop description; no teacher package
// implements an equivalent read-eval loop (the teacher's internal/agent
// loop.go drives a headless agentic loop with no interactive consent step
// or slash-command surface), so the control flow here is built fresh from
// the spec while reusing conversation/toolexec/contextmgr/respstream for
// every piece of actual state.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/qtermio/qterm/internal/contextmgr"
	"github.com/qtermio/qterm/internal/conversation"
	"github.com/qtermio/qterm/internal/respstream"
	"github.com/qtermio/qterm/internal/toolexec"
	"github.com/qtermio/qterm/pkg/wire"
)

// ErrQuit is returned by Step/Run when the user asks to end the session.
var ErrQuit = errors.New("orchestrator: session ended")

// ModelClient abstracts opening a streaming response for a sendable
// conversation. The HTTP transport to the LLM provider is out of scope
// here (SPEC_FULL.md's DOMAIN STACK treats it as an external
// collaborator) — Orchestrator only ever consumes the resulting
// text/event-stream body through respstream.Parser.
type ModelClient interface {
	Stream(ctx context.Context, turns []wire.Turn) (io.Reader, error)
}

// IO abstracts the terminal surface: reading a line of user input,
// writing rendered assistant output, and asking a yes/no consent
// question.
type IO interface {
	ReadLine(ctx context.Context) (string, error)
	Write(s string)
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Orchestrator owns one chat session's loop state.
type Orchestrator struct {
	Conv     *conversation.Conversation
	Registry *toolexec.Registry
	Executor *toolexec.Executor
	Context  *contextmgr.Manager
	Model    ModelClient
	IO       IO

	Budget conversation.BudgetConfig

	conversationStartDone bool
}

// New creates an Orchestrator over the given collaborators.
func New(conv *conversation.Conversation, registry *toolexec.Registry, executor *toolexec.Executor, ctxmgr *contextmgr.Manager, model ModelClient, io IO) *Orchestrator {
	return &Orchestrator{
		Conv:     conv,
		Registry: registry,
		Executor: executor,
		Context:  ctxmgr,
		Model:    model,
		IO:       io,
		Budget:   conversation.DefaultBudgetConfig(),
	}
}

// Run drives the loop until the user quits, the context is canceled, or a
// fatal error occurs (including ErrRecursionBoundExceeded).
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := o.Step(ctx); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
}

// Step runs exactly one iteration of the main loop described in spec.md
// §4.10: branch on a pending tool-use consent question, otherwise send a
// just-added tool-results turn on to the model, otherwise read and
// dispatch one line of input.
func (o *Orchestrator) Step(ctx context.Context) error {
	if len(o.Conv.PendingToolUseIDs()) > 0 {
		return o.handlePendingToolUses(ctx)
	}
	if turns := o.Conv.Turns(); len(turns) > 0 && len(turns[len(turns)-1].ToolResults) > 0 {
		return o.runModelTurn(ctx)
	}

	line, err := o.IO.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrQuit
		}
		return fmt.Errorf("read input: %w", err)
	}

	cmd := ParseCommand(line)
	return o.dispatch(ctx, cmd)
}

func (o *Orchestrator) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandQuit:
		return ErrQuit
	case CommandClear:
		o.Conv = conversation.New()
		o.conversationStartDone = false
		o.IO.Write("conversation cleared\n")
		return nil
	case CommandHelp:
		o.IO.Write(helpText)
		return nil
	case CommandUnknown:
		o.IO.Write(cmd.Text + "\n")
		return nil
	case CommandCompact, CommandProfile, CommandContext, CommandTools, CommandPrompts:
		// Each of these has its own rich sub-grammar (§6); dispatching the
		// specifics is out of this package's direct concern beyond
		// classification, which ParseCommand already did. They are not
		// executed; the session reports them as not handled.
		o.IO.Write(fmt.Sprintf("%v: not handled by this session\n", cmd.Kind))
		return nil
	case CommandShellExec:
		o.IO.Write(fmt.Sprintf("(shell execution of %q is not handled by this session)\n", cmd.Text))
		return nil
	case CommandPromptShorthand:
		o.IO.Write(fmt.Sprintf("(prompt shorthand %v is not handled by this session)\n", cmd.Args))
		return nil
	case CommandText:
		return o.sendUserMessage(ctx, cmd.Text)
	default:
		return nil
	}
}

// sendUserMessage attaches context (conversation-start hooks on the first
// message, per-prompt hooks on every message) and drives one model turn.
func (o *Orchestrator) sendUserMessage(ctx context.Context, text string) error {
	var blocks []wire.ContextBlock

	if !o.conversationStartDone && o.Context != nil {
		for _, r := range o.Context.RunConversationStartHooks() {
			if r.Err != nil {
				continue
			}
			blocks = append(blocks, wire.ContextBlock{Kind: wire.ContextBlockHookOutput, Label: r.Name, Body: r.Output})
		}
		o.conversationStartDone = true
	}
	if o.Context != nil {
		for _, r := range o.Context.RunPerPromptHooks() {
			if r.Err != nil {
				continue
			}
			blocks = append(blocks, wire.ContextBlock{Kind: wire.ContextBlockHookOutput, Label: r.Name, Body: r.Output})
		}
		if files, err := o.Context.GetContextFiles(); err == nil {
			for _, f := range files {
				blocks = append(blocks, wire.ContextBlock{Kind: wire.ContextBlockProfileFile, Label: f.Path, Body: f.Content})
			}
		}
	}

	if err := o.Conv.AppendUserMessage(text, blocks); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	return o.runModelTurn(ctx)
}

// runModelTurn opens a response stream over the current sendable
// conversation, drives the parser to completion while streaming text to
// the terminal, and pushes the resulting assistant turn.
func (o *Orchestrator) runModelTurn(ctx context.Context) error {
	turns := o.Conv.AsSendable(o.Budget)
	body, err := o.Model.Stream(ctx, turns)
	if err != nil {
		return fmt.Errorf("open response stream: %w", err)
	}

	renderer := NewStreamRenderer()
	events := respstream.New(body).Run(ctx)

	var finalText string
	var toolUses []wire.ToolUse

	for ev := range events {
		if ev.Err != nil {
			o.IO.Write(renderer.Flush())
			return fmt.Errorf("stream error: %w", ev.Err)
		}
		if ev.Text != "" {
			o.IO.Write(renderer.Write(ev.Text))
		}
		if ev.ToolUse != nil {
			toolUses = append(toolUses, wire.ToolUse{ID: ev.ToolUse.ID, Name: ev.ToolUse.Name, Input: json.RawMessage(ev.ToolUse.Input)})
		}
		if ev.Done {
			finalText = ev.FinalText
		}
	}
	o.IO.Write(renderer.Flush())
	o.IO.Write("\n")

	if err := o.Conv.PushAssistantMessage(finalText, toolUses); err != nil {
		return fmt.Errorf("record assistant turn: %w", err)
	}

	if len(toolUses) == 0 {
		return nil
	}
	return o.handlePendingToolUses(ctx)
}

// handlePendingToolUses implements §4.7's Validate/consent/Execute split:
// invalid calls get an immediate error result without ever asking the
// user; valid calls are rendered and gated on a single consent question,
// then either executed sequentially or abandoned.
func (o *Orchestrator) handlePendingToolUses(ctx context.Context) error {
	pendingUses := o.Conv.PendingToolUses()
	if len(pendingUses) == 0 {
		return nil
	}

	outcome := o.Executor.Validate(pendingUses)
	if len(outcome.Valid) == 0 {
		return o.Conv.AddToolResults(outcome.Invalid)
	}

	o.renderPendingToolUses(outcome.Valid)
	consent, err := o.IO.Confirm(ctx, "Run the tool call(s) above?")
	if err != nil {
		return fmt.Errorf("prompt for consent: %w", err)
	}

	if !consent {
		results := append([]wire.ToolResult(nil), outcome.Invalid...)
		for _, tu := range outcome.Valid {
			results = append(results, wire.ToolResult{
				ToolUseID: tu.ID,
				Status:    wire.ToolResultError,
				Content:   "abandoned: user did not consent to this tool call",
			})
		}
		return o.Conv.AddToolResults(results)
	}

	executed := o.Executor.Execute(ctx, outcome.Valid)
	results := append(append([]wire.ToolResult(nil), outcome.Invalid...), executed...)
	return o.Conv.AddToolResults(results)
}

func (o *Orchestrator) renderPendingToolUses(uses []wire.ToolUse) {
	for _, tu := range uses {
		o.IO.Write(fmt.Sprintf("-> %s(%s)\n", tu.Name, string(tu.Input)))
	}
}

const helpText = `Commands:
  /quit, /q, /exit      end the session
  /clear                forget conversation
  /help                 show this help
  /compact [prompt]     summarize & truncate history
  /profile ...          manage profiles
  /context ...          manage context rules and hooks
  /tools ...            manage the tool registry
  /prompts ...          list and fetch MCP prompts
  @NAME [ARG...]        shorthand for /prompts get
  !CMD                  execute a shell command
  \/TEXT                send TEXT verbatim
`
