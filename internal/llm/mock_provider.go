package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockProvider is a scriptable Provider for tests. Responses are queued in
// order; each Stream call replays the next scripted response as a full span
// event sequence and records the request it was given.
type MockProvider struct {
	name string
	caps Capabilities

	responses []mockResponse
	next      int

	// Requests records every Stream request, in order.
	Requests []Request
}

type mockResponse struct {
	events []Event
	err    error
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		caps: Capabilities{ToolCalls: true},
	}
}

func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Capabilities() Capabilities { return p.caps }

// AddTextResponse queues a response that streams text as a single span and
// finishes.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddEvents(
		Event{Type: EventTextStart},
		Event{Type: EventTextDelta, Text: text},
		Event{Type: EventTextEnd},
		Event{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5}},
		Event{Type: EventDone, StopReason: "stop"},
	)
}

// AddToolCallResponse queues a response that requests one tool call, with
// optional preceding text.
func (p *MockProvider) AddToolCallResponse(text, callID, toolName string, args any) *MockProvider {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("mock provider: marshal args: %v", err))
	}
	var events []Event
	if text != "" {
		events = append(events,
			Event{Type: EventTextStart},
			Event{Type: EventTextDelta, Text: text},
			Event{Type: EventTextEnd},
		)
	}
	events = append(events,
		Event{Type: EventToolStart, ToolCallID: callID, ToolName: toolName},
		Event{Type: EventToolDelta, ToolCallID: callID, Args: string(raw)},
		Event{Type: EventToolEnd, ToolCallID: callID},
		Event{Type: EventDone, StopReason: "tool_use"},
	)
	return p.AddEvents(events...)
}

// AddEvents queues a response with an explicit event sequence.
func (p *MockProvider) AddEvents(events ...Event) *MockProvider {
	p.responses = append(p.responses, mockResponse{events: events})
	return p
}

// AddError queues a response whose stream fails with err.
func (p *MockProvider) AddError(err error) *MockProvider {
	p.responses = append(p.responses, mockResponse{err: err})
	return p
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.Requests = append(p.Requests, req)

	if p.next >= len(p.responses) {
		return nil, fmt.Errorf("mock provider: no response scripted for request %d", p.next+1)
	}
	resp := p.responses[p.next]
	p.next++

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if resp.err != nil {
			return resp.err
		}
		for _, event := range resp.events {
			select {
			case events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}), nil
}
