package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpClientTimeout is the default timeout for HTTP requests
const httpClientTimeout = 10 * time.Minute

// defaultHTTPClient is a shared HTTP client with reasonable timeouts
var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// OpenAICompatProvider implements Provider for OpenAI-compatible chat APIs.
// Used by Ollama, LM Studio, and other compatible servers. These backends
// deliver reasoning as in-band marker tags inside text content, so the
// adapter routes every content delta through a Segmenter before emitting
// span events.
type OpenAICompatProvider struct {
	baseURL string
	apiKey  string // Optional, most servers ignore it
	model   string
	name    string // Display name: "Ollama", "LM Studio", etc.

	reasoningOpen  string
	reasoningClose string
}

func NewOpenAICompatProvider(baseURL, apiKey, model, name string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		model:          model,
		name:           name,
		reasoningOpen:  DefaultReasoningOpen,
		reasoningClose: DefaultReasoningClose,
	}
}

// SetReasoningMarkers overrides the marker pair that demarcates hidden
// reasoning in this backend's text stream.
func (p *OpenAICompatProvider) SetReasoningMarkers(open, close string) {
	if open != "" {
		p.reasoningOpen = open
	}
	if close != "" {
		p.reasoningClose = close
	}
}

func (p *OpenAICompatProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAICompatProvider) Capabilities() Capabilities {
	return Capabilities{
		ToolCalls:       true,
		NativeReasoning: false,
	}
}

// OpenAI-compatible request/response structures.
type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaiToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiChatResponse struct {
	ID      string       `json:"id"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *OpenAICompatProvider) makeChatRequest(ctx context.Context, req oaiChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return defaultHTTPClient.Do(httpReq)
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildCompatMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("no messages provided")
		}

		tools, err := buildCompatTools(req.Tools)
		if err != nil {
			return err
		}

		chatReq := oaiChatRequest{
			Model:    chooseModel(req.Model, p.model),
			Messages: messages,
			Tools:    tools,
			Stream:   true,
		}
		if req.Temperature > 0 {
			v := float64(req.Temperature)
			chatReq.Temperature = &v
		}
		if req.MaxOutputTokens > 0 {
			v := req.MaxOutputTokens
			chatReq.MaxTokens = &v
		}

		resp, err := p.makeChatRequest(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("%s API request failed: %w", p.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, string(body))
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		segmenter := NewSegmenter(p.reasoningOpen, p.reasoningClose)
		toolState := newCompatToolState(events)
		var lastUsage *Usage
		stopReason := "stop"

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chatResp oaiChatResponse
			if err := json.Unmarshal([]byte(data), &chatResp); err != nil {
				continue
			}
			if chatResp.Error != nil {
				return fmt.Errorf("%s API error: %s", p.name, chatResp.Error.Message)
			}

			if chatResp.Usage != nil {
				lastUsage = &Usage{
					InputTokens:  chatResp.Usage.PromptTokens,
					OutputTokens: chatResp.Usage.CompletionTokens,
				}
			}

			for _, choice := range chatResp.Choices {
				if choice.Delta != nil {
					if choice.Delta.Content != "" {
						for _, event := range segmenter.Feed(choice.Delta.Content) {
							events <- event
						}
					}
					if len(choice.Delta.ToolCalls) > 0 {
						toolState.Add(choice.Delta.ToolCalls)
					}
				}
				if choice.FinishReason != "" {
					stopReason = choice.FinishReason
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s streaming error: %w", p.name, err)
		}

		for _, event := range segmenter.Flush() {
			events <- event
		}
		toolState.Finish()
		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone, StopReason: stopReason}
		return nil
	}), nil
}

func buildCompatMessages(messages []Message) []oaiMessage {
	var result []oaiMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			text, toolCalls := splitCompatParts(msg.Parts)
			if msg.Role == RoleAssistant && len(toolCalls) > 0 {
				result = append(result, oaiMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, oaiMessage{Role: string(msg.Role), Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ID,
				})
			}
		}
	}
	return result
}

// splitCompatParts extracts text and tool calls from parts. Reasoning parts
// are dropped from replayed history: the markers were consumed by the
// segmenter and compatible backends do not accept reasoning on input.
func splitCompatParts(parts []Part) (string, []oaiToolCall) {
	var textParts []string
	var toolCalls []oaiToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := oaiToolCall{ID: part.ToolCall.ID, Type: "function"}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = string(part.ToolCall.Arguments)
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, ""), toolCalls
}

func buildCompatTools(specs []ToolSpec) ([]oaiTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]oaiTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

// compatToolState translates the API's indexed tool-call deltas into
// tool_start/tool_delta/tool_end span events. The first delta for an index
// carries the call id and name; argument fragments follow; every open span
// is closed when the stream finishes.
type compatToolState struct {
	events  chan<- Event
	open    map[int]string // index -> call id
	order   []int
	counter int
}

func newCompatToolState(events chan<- Event) *compatToolState {
	return &compatToolState{events: events, open: make(map[int]string)}
}

func (s *compatToolState) Add(calls []oaiToolCall) {
	for _, call := range calls {
		id, started := s.open[call.Index]
		if !started {
			id = call.ID
			if id == "" {
				// Some servers omit ids; synthesize one so the call/result
				// correspondence still holds.
				s.counter++
				id = fmt.Sprintf("toolcall-%d", s.counter)
			}
			s.open[call.Index] = id
			s.order = append(s.order, call.Index)
			s.events <- Event{Type: EventToolStart, ToolCallID: id, ToolName: call.Function.Name}
		}
		if call.Function.Arguments != "" {
			s.events <- Event{Type: EventToolDelta, ToolCallID: id, Args: call.Function.Arguments}
		}
	}
}

// Finish closes every open tool span in start order.
func (s *compatToolState) Finish() {
	for _, idx := range s.order {
		s.events <- Event{Type: EventToolEnd, ToolCallID: s.open[idx]}
	}
	s.open = make(map[int]string)
	s.order = nil
}

// chooseModel prefers the per-request model over the provider default.
func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
