package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider implements Provider using the Anthropic API. Reasoning
// arrives as native thinking blocks, so no segmenter is involved: thinking
// deltas map directly to reasoning span events.
type AnthropicProvider struct {
	client         *anthropic.Client
	model          string
	thinkingBudget int64 // 0 = disabled, >0 = enabled with budget
}

// parseModelThinking extracts the -thinking suffix from a model name.
// "claude-sonnet-4-5-thinking" -> ("claude-sonnet-4-5", 10000)
func parseModelThinking(model string) (string, int64) {
	if strings.HasSuffix(model, "-thinking") {
		return strings.TrimSuffix(model, "-thinking"), 10000
	}
	return model, 0
}

// NewAnthropicProvider creates an Anthropic provider. An explicit apiKey from
// config wins; otherwise the ANTHROPIC_API_KEY environment variable is used.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	actualModel, thinkingBudget := parseModelThinking(model)

	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider requires an api_key in config or the ANTHROPIC_API_KEY environment variable")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:         &client,
		model:          actualModel,
		thinkingBudget: thinkingBudget,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	if p.thinkingBudget > 0 {
		return fmt.Sprintf("Anthropic (%s, thinking=%dk)", p.model, p.thinkingBudget/1000)
	}
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{
		ToolCalls:       true,
		NativeReasoning: true,
	}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		system, messages := buildAnthropicMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("no messages provided")
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(chooseModel(req.Model, p.model)),
			MaxTokens: maxTokens(req.MaxOutputTokens, 4096),
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
		}
		if p.thinkingBudget > 0 {
			params.MaxTokens = maxTokens(req.MaxOutputTokens, 16000)
			params.Thinking = anthropic.ThinkingConfigParamUnion{
				OfEnabled: &anthropic.ThinkingConfigEnabledParam{
					BudgetTokens: p.thinkingBudget,
				},
			}
		}

		// Track each content block's span so the right end event fires at
		// block stop. Blocks are indexed by the API and never interleave.
		spans := make(map[int64]EventType)
		callIDs := make(map[int64]string)
		var lastUsage *Usage
		stopReason := "stop"

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.TextBlock:
					spans[variant.Index] = EventTextEnd
					events <- Event{Type: EventTextStart}
					if block.Text != "" {
						events <- Event{Type: EventTextDelta, Text: block.Text}
					}
				case anthropic.ThinkingBlock:
					spans[variant.Index] = EventReasoningEnd
					events <- Event{Type: EventReasoningStart}
					if block.Thinking != "" {
						events <- Event{Type: EventReasoningDelta, Text: block.Thinking}
					}
				case anthropic.ToolUseBlock:
					spans[variant.Index] = EventToolEnd
					callIDs[variant.Index] = block.ID
					events <- Event{Type: EventToolStart, ToolCallID: block.ID, ToolName: block.Name}
					if raw := toolInputToRaw(block.Input); len(raw) > 0 && string(raw) != "{}" {
						events <- Event{Type: EventToolDelta, ToolCallID: block.ID, Args: string(raw)}
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						events <- Event{Type: EventTextDelta, Text: delta.Text}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						events <- Event{Type: EventReasoningDelta, Text: delta.Thinking}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						events <- Event{
							Type:       EventToolDelta,
							ToolCallID: callIDs[variant.Index],
							Args:       delta.PartialJSON,
						}
					}
				}
			case anthropic.ContentBlockStopEvent:
				endType, ok := spans[variant.Index]
				if !ok {
					continue
				}
				delete(spans, variant.Index)
				end := Event{Type: endType}
				if endType == EventToolEnd {
					end.ToolCallID = callIDs[variant.Index]
					delete(callIDs, variant.Index)
				}
				events <- end
			case anthropic.MessageDeltaEvent:
				if variant.Delta.StopReason != "" {
					stopReason = string(variant.Delta.StopReason)
				}
				if variant.Usage.OutputTokens > 0 {
					lastUsage = &Usage{
						InputTokens:  int(variant.Usage.InputTokens),
						OutputTokens: int(variant.Usage.OutputTokens),
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic streaming error: %w", err)
		}

		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone, StopReason: stopReason}
		return nil
	}), nil
}

func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Tool results go back as user-role content blocks.
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

// buildAnthropicBlocks converts parts to API content blocks. Reasoning parts
// are dropped from replayed history; resending thinking without its signature
// is rejected by the API.
func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				block := anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolResult.ID,
					IsError:   anthropic.Bool(part.ToolResult.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: part.ToolResult.Content}},
					},
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
			}
		}
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
