package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

// sumTool adds two integers. Calls are counted so tests can assert on
// dispatch behavior.
type sumTool struct {
	calls atomic.Int32
}

func (s *sumTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "sum",
		Description: "Add two integers",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "integer"},
				"b": map[string]any{"type": "integer"},
			},
			"required": []string{"a", "b"},
		},
	}
}

func (s *sumTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	s.calls.Add(1)
	var in struct{ A, B int }
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", in.A+in.B), nil
}

type failingTool struct{}

func (failingTool) Spec() ToolSpec {
	return ToolSpec{Name: "flaky", Schema: map[string]any{"type": "object"}}
}

func (failingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return "", errors.New("backend unavailable")
}

// drainStream consumes a stream to EOF, returning all events and the
// terminal error if any.
func drainStream(t *testing.T, stream Stream) ([]Event, error) {
	t.Helper()
	defer stream.Close()
	var events []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func newTestEngine(provider Provider, tools ...Tool) *Engine {
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewEngine(provider, registry, zerolog.Nop())
}

func collectText(events []Event) string {
	var b strings.Builder
	for _, event := range events {
		if event.Type == EventTextDelta {
			b.WriteString(event.Text)
		}
	}
	return b.String()
}

func toolResultMessages(events []Event) []*Message {
	var out []*Message
	for _, event := range events {
		if event.Type == EventToolResult {
			out = append(out, event.Message)
		}
	}
	return out
}

func TestEngine_SimpleQA(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddTextResponse("4")
	engine := newTestEngine(mock)

	stream, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("What is 2+2? Reply with just the number.")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if got := collectText(events); got != "4" {
		t.Errorf("reply = %q, want %q", got, "4")
	}
	if results := toolResultMessages(events); len(results) != 0 {
		t.Errorf("unexpected tool result messages: %d", len(results))
	}

	dones := 0
	for _, event := range events {
		if event.Type == EventDone {
			dones++
		}
	}
	if dones != 1 {
		t.Errorf("done events = %d, want exactly 1", dones)
	}
	if len(mock.Requests) != 1 {
		t.Errorf("provider calls = %d, want 1", len(mock.Requests))
	}
}

func TestEngine_ToolLoop(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddToolCallResponse("", "call_1", "sum", map[string]int{"a": 2, "b": 2})
	mock.AddTextResponse("The sum is 4")

	tool := &sumTool{}
	engine := newTestEngine(mock, tool)

	stream, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("add 2 and 2")},
		Tools:    []ToolSpec{tool.Spec()},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	results := toolResultMessages(events)
	if len(results) != 1 {
		t.Fatalf("tool result messages = %d, want 1", len(results))
	}
	parts := results[0].Parts
	if len(parts) != 1 || parts[0].ToolResult == nil {
		t.Fatalf("tool result parts = %+v", parts)
	}
	if parts[0].ToolResult.ID != "call_1" || parts[0].ToolResult.Content != "4" {
		t.Errorf("tool result = %+v", parts[0].ToolResult)
	}
	if parts[0].ToolResult.IsError {
		t.Error("unexpected IsError")
	}

	if got := collectText(events); got != "The sum is 4" {
		t.Errorf("final reply = %q", got)
	}
	if tool.calls.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.calls.Load())
	}

	// The second provider request replays the call and its result.
	if len(mock.Requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(mock.Requests))
	}
	history := mock.Requests[1].Messages
	var sawCall, sawResult bool
	for _, msg := range history {
		if msg.HasToolCalls() {
			sawCall = true
		}
		if msg.Role == RoleTool {
			sawResult = true
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("history missing call (%v) or result (%v): %+v", sawCall, sawResult, history)
	}
}

func TestEngine_ParseErrorBecomesErrorResult(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddEvents(
		Event{Type: EventToolStart, ToolCallID: "call_1", ToolName: "sum"},
		Event{Type: EventToolDelta, ToolCallID: "call_1", Args: `{"a": 2,`},
		Event{Type: EventToolEnd, ToolCallID: "call_1"},
		Event{Type: EventDone, StopReason: "tool_use"},
	)
	mock.AddTextResponse("Something went wrong with that call.")

	tool := &sumTool{}
	engine := newTestEngine(mock, tool)

	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("add")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	results := toolResultMessages(events)
	if len(results) != 1 || len(results[0].Parts) != 1 {
		t.Fatalf("tool results = %+v", results)
	}
	result := results[0].Parts[0].ToolResult
	if !result.IsError {
		t.Error("expected IsError result for unparseable arguments")
	}
	if result.ID != "call_1" {
		t.Errorf("result id = %q", result.ID)
	}
	// The tool itself must never run on garbage input.
	if tool.calls.Load() != 0 {
		t.Errorf("tool executed %d times, want 0", tool.calls.Load())
	}
}

func TestEngine_UnknownToolBecomesErrorResult(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddToolCallResponse("", "call_1", "nonexistent", map[string]any{})
	mock.AddTextResponse("ok")

	engine := newTestEngine(mock)
	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	results := toolResultMessages(events)
	if len(results) != 1 {
		t.Fatalf("tool results = %d, want 1", len(results))
	}
	result := results[0].Parts[0].ToolResult
	if !result.IsError || !strings.Contains(result.Content, "not available") {
		t.Errorf("result = %+v", result)
	}
}

func TestEngine_ToolFailureDoesNotAbortRun(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddToolCallResponse("", "call_1", "flaky", map[string]any{})
	mock.AddTextResponse("recovered")

	engine := newTestEngine(mock, failingTool{})
	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("run aborted: %v", err)
	}

	results := toolResultMessages(events)
	if len(results) != 1 {
		t.Fatalf("tool results = %d, want 1", len(results))
	}
	result := results[0].Parts[0].ToolResult
	if !result.IsError || !strings.Contains(result.Content, "backend unavailable") {
		t.Errorf("result = %+v", result)
	}
	if got := collectText(events); got != "recovered" {
		t.Errorf("final reply = %q", got)
	}
}

func TestEngine_ParallelCallsOneResultMessage(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddEvents(
		Event{Type: EventToolStart, ToolCallID: "c1", ToolName: "sum"},
		Event{Type: EventToolDelta, ToolCallID: "c1", Args: `{"a":1,"b":2}`},
		Event{Type: EventToolEnd, ToolCallID: "c1"},
		Event{Type: EventToolStart, ToolCallID: "c2", ToolName: "sum"},
		Event{Type: EventToolDelta, ToolCallID: "c2", Args: `{"a":3,"b":4}`},
		Event{Type: EventToolEnd, ToolCallID: "c2"},
		Event{Type: EventDone, StopReason: "tool_use"},
	)
	mock.AddTextResponse("3 and 7")

	tool := &sumTool{}
	engine := newTestEngine(mock, tool)

	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("sums")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	results := toolResultMessages(events)
	if len(results) != 1 {
		t.Fatalf("tool result messages = %d, want exactly 1", len(results))
	}
	parts := results[0].Parts
	if len(parts) != 2 {
		t.Fatalf("result entries = %d, want 2 (one per call)", len(parts))
	}
	byID := map[string]string{}
	for _, part := range parts {
		byID[part.ToolResult.ID] = part.ToolResult.Content
	}
	if byID["c1"] != "3" || byID["c2"] != "7" {
		t.Errorf("results by id = %v", byID)
	}
	if tool.calls.Load() != 2 {
		t.Errorf("tool executed %d times, want 2", tool.calls.Load())
	}
}

func TestEngine_DuplicateCallIDDispatchedOnce(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddEvents(
		Event{Type: EventToolStart, ToolCallID: "c1", ToolName: "sum"},
		Event{Type: EventToolDelta, ToolCallID: "c1", Args: `{"a":1,"b":1}`},
		Event{Type: EventToolEnd, ToolCallID: "c1"},
		// Same id again in the same turn: ignored by the accumulator.
		Event{Type: EventToolStart, ToolCallID: "c1", ToolName: "sum"},
		Event{Type: EventToolEnd, ToolCallID: "c1"},
		Event{Type: EventDone, StopReason: "tool_use"},
	)
	mock.AddTextResponse("2")

	tool := &sumTool{}
	engine := newTestEngine(mock, tool)

	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if tool.calls.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.calls.Load())
	}
	results := toolResultMessages(events)
	if len(results) != 1 || len(results[0].Parts) != 1 {
		t.Fatalf("results = %+v", results)
	}
}

func TestEngine_StreamErrorIsFatal(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddError(errors.New("connection reset"))

	engine := newTestEngine(mock)
	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_, err = drainStream(t, stream)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v, want connection reset", err)
	}
}

func TestEngine_MaxTurnsExceeded(t *testing.T) {
	mock := NewMockProvider("mock")
	// The model keeps asking for tools forever.
	mock.AddToolCallResponse("", "c1", "sum", map[string]int{"a": 1, "b": 1})
	mock.AddToolCallResponse("", "c2", "sum", map[string]int{"a": 1, "b": 1})

	engine := newTestEngine(mock, &sumTool{})
	stream, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("loop")},
		MaxTurns: 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_, err = drainStream(t, stream)
	if err == nil || !strings.Contains(err.Error(), "max turns") {
		t.Fatalf("err = %v, want max turns error", err)
	}
}

func TestEngine_TurnCompletedCallback(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddToolCallResponse("let me check", "c1", "sum", map[string]int{"a": 2, "b": 3})
	mock.AddTextResponse("5")

	engine := newTestEngine(mock, &sumTool{})

	type turn struct {
		index    int
		messages []Message
		metrics  TurnMetrics
	}
	var turns []turn
	engine.SetTurnCompletedCallback(func(ctx context.Context, turnIndex int, messages []Message, metrics TurnMetrics) error {
		turns = append(turns, turn{turnIndex, messages, metrics})
		return nil
	})

	stream, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("2+3")}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := drainStream(t, stream); err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if len(turns) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(turns))
	}
	if turns[0].metrics.ToolCalls != 1 {
		t.Errorf("turn 0 tool calls = %d", turns[0].metrics.ToolCalls)
	}
	// Turn 0 ends with the tool result message; turn 1 is the final reply.
	last := turns[0].messages[len(turns[0].messages)-1]
	if last.Role != RoleTool {
		t.Errorf("turn 0 last message role = %s, want tool", last.Role)
	}
	if got := turns[1].messages[len(turns[1].messages)-1].Text(); got != "5" {
		t.Errorf("turn 1 final text = %q", got)
	}
}
