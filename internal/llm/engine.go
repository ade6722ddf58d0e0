package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

const defaultMaxTurns = 20

// TurnMetrics contains metrics collected during a turn.
type TurnMetrics struct {
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

// TurnCompletedCallback is called after each turn with the messages
// finalized during that turn, in the order they were finalized. Used for
// incremental session persistence; it lags live streaming but stays
// append-only and ordered.
type TurnCompletedCallback func(ctx context.Context, turnIndex int, messages []Message, metrics TurnMetrics) error

// Engine orchestrates provider calls and external tool execution. One
// engine drives one session; concurrent Run calls on the same engine are
// not supported and must be serialized by the caller.
type Engine struct {
	provider Provider
	tools    *ToolRegistry
	log      zerolog.Logger

	onTurnCompleted TurnCompletedCallback
}

func NewEngine(provider Provider, tools *ToolRegistry, log zerolog.Logger) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{
		provider: provider,
		tools:    tools,
		log:      log,
	}
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// SetTurnCompletedCallback sets the callback for incremental turn
// completion. Set before Run; not safe to change while a run is active.
func (e *Engine) SetTurnCompletedCallback(cb TurnCompletedCallback) {
	e.onTurnCompleted = cb
}

func getMaxTurns(req Request) int {
	if req.MaxTurns > 0 {
		return req.MaxTurns
	}
	return defaultMaxTurns
}

// Run executes one logical run: a loop of model turns and tool executions
// that ends with the first turn producing no tool calls. Events are
// forwarded to the returned stream exactly once, in arrival order, with one
// EventToolResult per tool-calling turn. A provider stream error is fatal to
// the run and surfaced without retry; the session remains usable for a
// subsequent run.
func (e *Engine) Run(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.runLoop(ctx, req, events)
	}), nil
}

// dispatchedCall tracks one in-flight tool invocation for the current turn.
// The table is per-turn and discarded at turn end.
type dispatchedCall struct {
	call   ToolCall
	result chan Part
}

func (e *Engine) runLoop(ctx context.Context, req Request, events chan<- Event) error {
	maxTurns := getMaxTurns(req)
	callback := e.onTurnCompleted

	for attempt := 0; attempt < maxTurns; attempt++ {
		stream, err := e.provider.Stream(ctx, req)
		if err != nil {
			return err
		}

		acc := NewAccumulator(e.log)
		var dispatched []dispatchedCall
		started := make(map[string]struct{})
		var metrics TurnMetrics
		stopReason := "stop"

		for {
			event, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				return err
			}
			if event.Type == EventError && event.Err != nil {
				stream.Close()
				return event.Err
			}
			if event.Type == EventUsage && event.Use != nil {
				metrics.InputTokens += event.Use.InputTokens
				metrics.OutputTokens += event.Use.OutputTokens
			}

			// Forward first, then fold: the caller sees every provider
			// event exactly once, in arrival order. The provider's own
			// done event is withheld; the run emits a single done when
			// the final turn completes.
			if event.Type != EventDone {
				events <- event
			}
			acc.AddEvent(event)

			for _, call := range acc.TakeReadyCalls() {
				if _, dup := started[call.ID]; dup {
					e.log.Warn().Str("call_id", call.ID).Msg("duplicate tool call id, ignoring")
					continue
				}
				started[call.ID] = struct{}{}
				dispatched = append(dispatched, e.dispatch(ctx, call))
			}

			if event.Type == EventDone {
				if event.StopReason != "" {
					stopReason = event.StopReason
				}
				break
			}
		}
		stream.Close()

		// Append every finalized message (reasoning, reply, tool request)
		// to history in finalization order.
		turnMessages := acc.DrainCompleted()
		req.Messages = append(req.Messages, turnMessages...)

		if len(dispatched) == 0 {
			if callback != nil && len(turnMessages) > 0 {
				_ = callback(ctx, attempt, turnMessages, metrics)
			}
			events <- Event{Type: EventDone, StopReason: stopReason}
			return nil
		}

		if attempt == maxTurns-1 {
			return fmt.Errorf("agentic loop exceeded max turns (%d)", maxTurns)
		}

		// Await every invocation; each settles independently, and a slow
		// or failing call never cancels its siblings. Results assemble
		// into exactly one tool-result message, one entry per call id.
		parts := make([]Part, 0, len(dispatched))
		for _, d := range dispatched {
			select {
			case part := <-d.result:
				parts = append(parts, part)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		metrics.ToolCalls = len(dispatched)

		toolMsg := Message{Role: RoleTool, Parts: parts}
		req.Messages = append(req.Messages, toolMsg)
		events <- Event{Type: EventToolResult, Message: &toolMsg}

		if callback != nil {
			_ = callback(ctx, attempt, append(turnMessages, toolMsg), metrics)
		}
	}

	return fmt.Errorf("agentic loop ended unexpectedly")
}

// dispatch starts one tool invocation in its own goroutine the moment the
// call's argument span closes, overlapping tool latency with the remaining
// model output. Failures of any kind become error results, never run
// failures.
func (e *Engine) dispatch(ctx context.Context, call ToolCall) dispatchedCall {
	d := dispatchedCall{call: call, result: make(chan Part, 1)}
	go func() {
		d.result <- e.executeCall(ctx, call)
	}()
	return d
}

func (e *Engine) executeCall(ctx context.Context, call ToolCall) Part {
	if call.ParseError {
		return errorResultPart(call.ID, call.Name, "Error: tool call arguments were not valid JSON")
	}

	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return errorResultPart(call.ID, call.Name, fmt.Sprintf("Error: tool not available: %s", call.Name))
	}

	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return errorResultPart(call.ID, call.Name, fmt.Sprintf("Error: %v", err))
	}

	return Part{
		Type: PartToolResult,
		ToolResult: &ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: output,
		},
	}
}
