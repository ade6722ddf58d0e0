package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls bool
	// NativeReasoning is true when the provider emits reasoning as distinct
	// stream events. Providers without it deliver reasoning as in-band
	// marker tags inside text content and rely on the Segmenter.
	NativeReasoning bool
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     float32
	MaxTurns        int // Max agentic turns for tool execution (0 = use default)
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts. Messages are immutable once
// finalized by the accumulator; the engine appends them to history and hands
// copies to the session store.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			return true
		}
	}
	return false
}

// ToolCalls returns the tool calls requested by the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var text string
	for _, p := range m.Parts {
		if p.Type == PartText {
			text += p.Text
		}
	}
	return text
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation. IDs are assigned by the
// model and unique within a turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	// ParseError is set when the accumulated argument text was not valid
	// JSON. The call is never dispatched; the engine synthesizes an error
	// result for it so every requested call still yields exactly one result.
	ParseError bool
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// EventType describes streaming events.
type EventType string

const (
	EventTextStart      EventType = "text_start"
	EventTextDelta      EventType = "text_delta"
	EventTextEnd        EventType = "text_end"
	EventReasoningStart EventType = "reasoning_start"
	EventReasoningDelta EventType = "reasoning_delta"
	EventReasoningEnd   EventType = "reasoning_end"
	EventToolStart      EventType = "tool_start"
	EventToolDelta      EventType = "tool_delta"
	EventToolEnd        EventType = "tool_end"
	EventToolResult     EventType = "tool_result" // Carries the finalized tool-result message for a turn
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event represents a streamed output update. Providers guarantee that a
// span's start precedes its deltas precedes its end, and that exactly one
// terminal done/error event is emitted per stream.
type Event struct {
	Type EventType
	Text string // Delta payload for text/reasoning events

	// Tool call span fields
	ToolCallID string
	ToolName   string
	Args       string // Partial argument fragment for EventToolDelta

	Message    *Message // For EventToolResult
	Use        *Usage
	StopReason string // For EventDone: why the model stopped ("stop", "tool_use", ...)
	Err        error
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// ToolResultMessage creates a single-entry tool result message.
func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// errorResultPart builds a tool result part that indicates an error. The
// error text is passed back to the model so it can respond gracefully
// instead of failing the turn.
func errorResultPart(id, name, errorText string) Part {
	return Part{
		Type: PartToolResult,
		ToolResult: &ToolResult{
			ID:      id,
			Name:    name,
			Content: errorText,
			IsError: true,
		},
	}
}
