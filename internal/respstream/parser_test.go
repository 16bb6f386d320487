package respstream

import (
	"context"
	"strings"
	"testing"
)

func collect(t *testing.T, body string) []*StreamEvent {
	t.Helper()
	p := New(strings.NewReader(body))
	var events []*StreamEvent
	for ev := range p.Run(context.Background()) {
		events = append(events, ev)
	}
	return events
}

func TestParseTextDeltas(t *testing.T) {
	body := "" +
		`data: {"type":"message_start","message":{"id":"conv_1"}}` + "\n" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}` + "\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}` + "\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}` + "\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}` + "\n" +
		`data: {"type":"message_stop"}` + "\n"

	events := collect(t, body)

	var text strings.Builder
	sawConvID, sawDone := false, false
	for _, ev := range events {
		text.WriteString(ev.Text)
		if ev.ConversationID == "conv_1" {
			sawConvID = true
		}
		if ev.Done {
			sawDone = true
		}
	}
	if text.String() != "hello" {
		t.Fatalf("expected accumulated text %q, got %q", "hello", text.String())
	}
	if !sawConvID {
		t.Fatal("expected a conversation id event")
	}
	if !sawDone {
		t.Fatal("expected a done event")
	}
	if events[len(events)-1].FinalText != "hello" {
		t.Fatalf("expected final text %q, got %q", "hello", events[len(events)-1].FinalText)
	}
}

func TestParseToolUseAccumulatesPartialJSON(t *testing.T) {
	body := "" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_1","name":"read_file"}}` + "\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}` + "\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.go\"}"}}` + "\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n" +
		`data: {"type":"message_stop"}` + "\n"

	events := collect(t, body)

	var tool *ToolUse
	for _, ev := range events {
		if ev.ToolUse != nil {
			tool = ev.ToolUse
		}
	}
	if tool == nil {
		t.Fatal("expected a tool_use event")
	}
	if tool.ID != "tu_1" || tool.Name != "read_file" {
		t.Fatalf("unexpected tool use: %+v", tool)
	}
	if string(tool.Input) != `{"path":"a.go"}` {
		t.Fatalf("expected accumulated input json, got %q", string(tool.Input))
	}
}

func TestParseThinkingBlock(t *testing.T) {
	body := "" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}` + "\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"pondering"}}` + "\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n" +
		`data: {"type":"message_stop"}` + "\n"

	events := collect(t, body)

	var sawStart, sawEnd bool
	var thinking strings.Builder
	for _, ev := range events {
		if ev.ThinkingStart {
			sawStart = true
		}
		if ev.ThinkingEnd {
			sawEnd = true
		}
		thinking.WriteString(ev.Thinking)
	}
	if !sawStart || !sawEnd {
		t.Fatal("expected thinking start and end events")
	}
	if thinking.String() != "pondering" {
		t.Fatalf("expected thinking text %q, got %q", "pondering", thinking.String())
	}
}

func TestParseProviderErrorTerminatesStream(t *testing.T) {
	body := `data: {"type":"error","error":{"type":"overloaded_error","message":"try again"}}` + "\n"

	events := collect(t, body)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].Err == nil {
		t.Fatal("expected an error event")
	}
}

func TestParseDoneSentinelStopsStream(t *testing.T) {
	body := "data: [DONE]\n" + `data: {"type":"message_stop"}` + "\n"

	events := collect(t, body)
	if len(events) != 1 || !events[0].Done {
		t.Fatalf("expected a single done event, got %+v", events)
	}
}

func TestParseMalformedStreamWatchdogAborts(t *testing.T) {
	var body strings.Builder
	for i := 0; i < maxEmptyStreamEvents+5; i++ {
		body.WriteString(`data: {"type":"ping"}`)
		body.WriteString("\n")
	}

	events := collect(t, body.String())
	if len(events) != 1 {
		t.Fatalf("expected exactly one (watchdog) event, got %d", len(events))
	}
	if events[0].Err == nil {
		t.Fatal("expected the watchdog to emit an error event")
	}
}
