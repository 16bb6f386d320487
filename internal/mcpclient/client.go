package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client is an MCP client bound to a single server subprocess. Client itself
// is the owning handle: closing it kills the child. Use Handle() to obtain a
// non-owning clone for background goroutines that must not kill the process
// when they finish or are dropped.
type Client struct {
	config    *ServerConfig
	transport *stdioTransport
	logger    *slog.Logger
	owns      bool

	mu         sync.RWMutex
	tools      []*Tool
	resources  []*Resource
	templates  []*ResourceTemplate
	prompts    []*Prompt
	serverInfo ServerInfo

	stopNotify chan struct{}
}

// New creates a Client for the given server configuration. Call Connect
// before using it.
func New(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:     cfg,
		transport:  newStdioTransport(cfg, logger),
		logger:     logger.With("mcp_server", cfg.ID),
		owns:       true,
		stopNotify: make(chan struct{}),
	}
}

// Handle returns a non-owning clone sharing this client's transport; the
// clone keeps its own tool/resource/prompt cache, which starts empty. Its
// Close is a no-op; only the owning Client's Close kills the subprocess. This lets a background list-changed listener or prefetch
// goroutine hold a reference that outlives its own lifecycle without
// racing the owner's shutdown.
func (c *Client) Handle() *Client {
	return &Client{
		config:     c.config,
		transport:  c.transport,
		logger:     c.logger,
		owns:       false,
		stopNotify: c.stopNotify,
	}
}

// Connect starts the child process, performs the initialize handshake with
// exact protocol version negotiation, sends notifications/initialized, then
// prefetches tools/resources/prompts and starts the background
// notification listener.
func (c *Client) Connect(ctx context.Context) error {
	if !c.owns {
		return fmt.Errorf("mcpclient: Connect must be called on the owning client")
	}
	if err := c.transport.connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"roots": map[string]any{"listChanged": true},
		},
		"clientInfo": ClientInfo{Name: "qterm-chat", Version: "1.0.0"},
	})
	if err != nil {
		c.transport.kill()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.kill()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if initResult.ProtocolVersion != ProtocolVersion {
		c.transport.kill()
		return &NegotiationError{Got: initResult.ProtocolVersion}
	}

	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to MCP server", "name", c.serverInfo.Name, "version", c.serverInfo.Version)

	if err := c.transport.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.RefreshAll(ctx); err != nil {
		c.logger.Warn("initial capability prefetch failed", "error", err)
	}

	go c.listenForChanges()

	return nil
}

// Close shuts down the connection. Only the owning Client kills the
// subprocess; a Handle's Close does nothing.
func (c *Client) Close() error {
	if !c.owns {
		return nil
	}
	close(c.stopNotify)
	return c.transport.kill()
}

func (c *Client) ServerInfo() ServerInfo { return c.serverInfo }
func (c *Client) Connected() bool        { return c.transport.connected.Load() }

func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) Resources() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources
}

func (c *Client) ResourceTemplates() []*ResourceTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.templates
}

func (c *Client) Prompts() []*Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompts
}

// RefreshAll re-fetches tools, resources, resource templates, and prompts,
// following nextCursor pagination on each until the server stops returning
// a cursor.
func (c *Client) RefreshAll(ctx context.Context) error {
	tools, err := paginate(ctx, c.transport, "tools/list", func(r listToolsResult) ([]*Tool, string) {
		return r.Tools, r.NextCursor
	})
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	resources, err := paginate(ctx, c.transport, "resources/list", func(r listResourcesResult) ([]*Resource, string) {
		return r.Resources, r.NextCursor
	})
	if err != nil {
		return fmt.Errorf("resources/list: %w", err)
	}

	templates, err := paginate(ctx, c.transport, "resources/templates/list", func(r listResourceTemplatesResult) ([]*ResourceTemplate, string) {
		return r.ResourceTemplates, r.NextCursor
	})
	if err != nil {
		return fmt.Errorf("resources/templates/list: %w", err)
	}

	prompts, err := paginate(ctx, c.transport, "prompts/list", func(r listPromptsResult) ([]*Prompt, string) {
		return r.Prompts, r.NextCursor
	})
	if err != nil {
		return fmt.Errorf("prompts/list: %w", err)
	}

	c.mu.Lock()
	c.tools, c.resources, c.templates, c.prompts = tools, resources, templates, prompts
	c.mu.Unlock()
	return nil
}

// paginate drives a single list method across all of its nextCursor pages,
// concatenating results. Generic over the page's result shape so tools,
// resources, resource templates, and prompts all share one loop.
func paginate[R any, T any](ctx context.Context, t *stdioTransport, method string, extract func(R) ([]T, string)) ([]T, error) {
	var all []T
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := t.call(ctx, method, params)
		if err != nil {
			return nil, err
		}
		var page R
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse %s page: %w", method, err)
		}
		items, next := extract(page)
		all = append(all, items...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

// listenForChanges watches for tools/resources/prompts list_changed
// notifications and triggers a background RefreshAll. It refreshes through a
// Handle, so it never tears down the subprocess itself, and then copies the
// refreshed lists into the owning client's cache.
func (c *Client) listenForChanges() {
	handle := c.Handle()
	for {
		select {
		case <-c.stopNotify:
			return
		case notif, ok := <-c.transport.Events():
			if !ok {
				return
			}
			switch notif.Method {
			case "notifications/tools/list_changed",
				"notifications/resources/list_changed",
				"notifications/prompts/list_changed":
				ctx := context.Background()
				if err := handle.RefreshAll(ctx); err != nil {
					c.logger.Warn("refresh after list_changed failed", "error", err, "notification", notif.Method)
				} else {
					handle.mu.RLock()
					c.mu.Lock()
					c.tools, c.resources, c.templates, c.prompts = handle.tools, handle.resources, handle.templates, handle.prompts
					c.mu.Unlock()
					handle.mu.RUnlock()
				}
			case "notifications/message":
				c.logger.Debug("server log message", "params", string(notif.Params))
			}
		}
	}
}

// CallTool invokes a tool on the server and returns its result.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	result, err := c.transport.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tool call result: %w", err)
	}
	return &callResult, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]*ResourceContent, error) {
	result, err := c.transport.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var readResult readResourceResult
	if err := json.Unmarshal(result, &readResult); err != nil {
		return nil, fmt.Errorf("parse resource: %w", err)
	}
	return readResult.Contents, nil
}

// GetPrompt fetches a rendered prompt by name.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResultView, error) {
	result, err := c.transport.call(ctx, "prompts/get", map[string]any{"name": name, "arguments": arguments})
	if err != nil {
		return nil, err
	}
	var promptResult getPromptResult
	if err := json.Unmarshal(result, &promptResult); err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	return &GetPromptResultView{Description: promptResult.Description, Messages: promptResult.Messages}, nil
}

// GetPromptResultView is the public shape returned by GetPrompt.
type GetPromptResultView struct {
	Description string
	Messages    []PromptMessage
}
