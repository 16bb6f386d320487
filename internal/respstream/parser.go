package respstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxEmptyStreamEvents bounds how many consecutive SSE frames may be
// consumed without producing a single StreamEvent (pings, unknown event
// types, blank keepalive frames) before the stream is treated as
// malformed and aborted. Based on the same watchdog pattern the teacher
// credits to sashabaranov/go-openai's stream reader.
const maxEmptyStreamEvents = 300

const dataPrefix = "data: "

// pendingBlock accumulates a content block's streamed fragments until its
// content_block_stop frame arrives.
type pendingBlock struct {
	kind string // "text", "thinking", or "tool_use"
	id   string
	name string
	text strings.Builder
	json strings.Builder
}

// Parser turns a text/event-stream body into a channel of StreamEvents.
// One Parser is single-use: create a fresh one per request.
type Parser struct {
	r io.Reader
}

// New wraps r, the body of a streaming completion response.
func New(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Run consumes the stream and returns a channel of StreamEvents. The
// channel is closed after a Done event, an Err event, or ctx cancellation;
// the caller should stop ranging as soon as it sees either.
func (p *Parser) Run(ctx context.Context) <-chan *StreamEvent {
	out := make(chan *StreamEvent, 16)
	go p.run(ctx, out)
	return out
}

func (p *Parser) run(ctx context.Context, out chan<- *StreamEvent) {
	defer close(out)

	scanner := bufio.NewScanner(p.r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	blocks := make(map[int]*pendingBlock)
	emptyRun := 0
	var finalText strings.Builder

	emit := func(ev *StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			// "event: ..." lines and other SSE framing are redundant with
			// the "type" field already present in the JSON payload.
			continue
		}
		payload := bytes.TrimPrefix(line, []byte(dataPrefix))
		if string(payload) == "[DONE]" {
			emit(&StreamEvent{Done: true})
			return
		}

		var raw rawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			emptyRun++
			if emptyRun >= maxEmptyStreamEvents {
				emit(&StreamEvent{Err: fmt.Errorf("respstream: %d consecutive malformed frames, aborting", emptyRun)})
				return
			}
			continue
		}

		ev, produced := p.translate(raw, blocks)
		if !produced {
			emptyRun++
			if emptyRun >= maxEmptyStreamEvents {
				emit(&StreamEvent{Err: fmt.Errorf("respstream: %d consecutive empty frames, aborting", emptyRun)})
				return
			}
			continue
		}
		emptyRun = 0
		if ev.Text != "" {
			finalText.WriteString(ev.Text)
		}
		if ev.Done {
			ev.FinalText = finalText.String()
		}
		if !emit(ev) {
			return
		}
		if ev.Done || ev.Err != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(&StreamEvent{Err: fmt.Errorf("respstream: reading stream: %w", err)})
	}
}

// translate converts one decoded frame into a StreamEvent, accumulating
// multi-frame content blocks (text, thinking, tool_use partial_json) in
// blocks until the block's content_block_stop closes it out.
func (p *Parser) translate(raw rawEvent, blocks map[int]*pendingBlock) (*StreamEvent, bool) {
	switch raw.Type {
	case "message_start":
		if raw.Message != nil && raw.Message.ID != "" {
			return &StreamEvent{ConversationID: raw.Message.ID}, true
		}
		return nil, false

	case "content_block_start":
		if raw.ContentBlock == nil {
			return nil, false
		}
		blk := &pendingBlock{kind: raw.ContentBlock.Type, id: raw.ContentBlock.ID, name: raw.ContentBlock.Name}
		blocks[raw.Index] = blk
		if blk.kind == "thinking" {
			return &StreamEvent{ThinkingStart: true}, true
		}
		return nil, false

	case "content_block_delta":
		if raw.Delta == nil {
			return nil, false
		}
		blk := blocks[raw.Index]
		switch raw.Delta.Type {
		case "text_delta":
			if blk != nil {
				blk.text.WriteString(raw.Delta.Text)
			}
			if raw.Delta.Text == "" {
				return nil, false
			}
			return &StreamEvent{Text: raw.Delta.Text}, true
		case "thinking_delta":
			if blk != nil {
				blk.text.WriteString(raw.Delta.Thinking)
			}
			if raw.Delta.Thinking == "" {
				return nil, false
			}
			return &StreamEvent{Thinking: raw.Delta.Thinking}, true
		case "input_json_delta":
			if blk != nil {
				blk.json.WriteString(raw.Delta.PartialJSON)
			}
			return nil, false
		default:
			return nil, false
		}

	case "content_block_stop":
		blk := blocks[raw.Index]
		delete(blocks, raw.Index)
		if blk == nil {
			return nil, false
		}
		switch blk.kind {
		case "thinking":
			return &StreamEvent{ThinkingEnd: true}, true
		case "tool_use":
			input := json.RawMessage(blk.json.String())
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			if !json.Valid(input) {
				return &StreamEvent{Err: fmt.Errorf("respstream: tool_use %s input is not valid JSON", blk.id)}, true
			}
			return &StreamEvent{ToolUse: &ToolUse{ID: blk.id, Name: blk.name, Input: input}}, true
		default:
			return nil, false
		}

	case "message_delta":
		if raw.Delta != nil && raw.Delta.StopReason != "" {
			return &StreamEvent{StopReason: raw.Delta.StopReason}, true
		}
		return nil, false

	case "message_stop":
		return &StreamEvent{Done: true}, true

	case "error":
		if raw.Error != nil {
			return &StreamEvent{Err: fmt.Errorf("respstream: provider error (%s): %s", raw.Error.Type, raw.Error.Message)}, true
		}
		return &StreamEvent{Err: fmt.Errorf("respstream: provider error")}, true

	case "ping":
		return nil, false

	default:
		return nil, false
	}
}
