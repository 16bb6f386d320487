package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qtermio/qterm/internal/obs"
	"github.com/qtermio/qterm/internal/toolexec"
	"github.com/qtermio/qterm/pkg/wire"
)

// anthropicAPIVersion is the wire protocol version this client negotiates
// with the Messages API, mirroring the teacher's AnthropicProvider's own
// fixed version header.
const anthropicAPIVersion = "2023-06-01"

// anthropicModelClient implements orchestrator.ModelClient by calling
// Anthropic's streaming Messages endpoint directly over net/http and
// handing back the raw response body.
//
// The teacher's own AnthropicProvider (internal/agent/providers/anthropic.go)
// wraps github.com/anthropics/anthropic-sdk-go's ssestream.Stream, which
// already decodes SSE frames into typed Go events. respstream.Parser is a
// from-scratch decoder of the same raw wire format (grounded on
// sashabaranov/go-openai's reader idiom per its own doc comment), so
// layering the SDK's decoder in front of it would just parse the same
// bytes twice; this client stops at the raw io.Reader respstream expects
// and lets respstream own all SSE decoding.
type anthropicModelClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *obs.Logger
	registry   *toolexec.Registry
}

func newAnthropicModelClient(cfg AnthropicConfig, logger *obs.Logger) *anthropicModelClient {
	return &anthropicModelClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}
}

// WithRegistry attaches the tool registry whose tools are advertised to the
// model on every request, returning the client for chaining at
// construction time.
func (c *anthropicModelClient) WithRegistry(registry *toolexec.Registry) *anthropicModelClient {
	c.registry = registry
	return c
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentItem `json:"content"`
}

type anthropicContentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

// Stream opens a streaming completion over turns and returns its raw
// text/event-stream body.
func (c *anthropicModelClient) Stream(ctx context.Context, turns []wire.Turn) (io.Reader, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Stream:    true,
		Messages:  toAnthropicMessages(turns),
		Tools:     c.toolDefinitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("anthropic messages api: unexpected status %d", resp.StatusCode)
	}
	if c.logger != nil {
		c.logger.Debug(ctx, "opened anthropic message stream", "model", c.model)
	}
	return resp.Body, nil
}

func (c *anthropicModelClient) toolDefinitions() []anthropicTool {
	if c.registry == nil {
		return nil
	}
	tools := c.registry.All()
	defs := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, anthropicTool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

func toAnthropicMessages(turns []wire.Turn) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == wire.RoleAssistant {
			role = "assistant"
		}

		var content []anthropicContentItem
		if turn.Text != "" {
			content = append(content, anthropicContentItem{Type: "text", Text: turn.Text})
		}
		for _, cb := range turn.Context {
			label := cb.Label
			if label == "" {
				label = string(cb.Kind)
			}
			content = append(content, anthropicContentItem{Type: "text", Text: fmt.Sprintf("[%s]\n%s", label, cb.Body)})
		}
		for _, tu := range turn.ToolUses {
			content = append(content, anthropicContentItem{Type: "tool_use", ID: tu.ID, Name: tu.Name, Input: tu.Input})
		}
		for _, tr := range turn.ToolResults {
			content = append(content, anthropicContentItem{
				Type:      "tool_result",
				ToolUseID: tr.ToolUseID,
				Content:   tr.Content,
				IsError:   tr.Status == wire.ToolResultError,
			})
		}

		if len(content) == 0 {
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: content})
	}
	return out
}
