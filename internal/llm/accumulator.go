package llm

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

type accRole int

const (
	accNone accRole = iota
	accReply
	accReasoning
)

// pendingCall accumulates one tool call's argument fragments between its
// tool_start and tool_end events.
type pendingCall struct {
	name string
	args strings.Builder
}

// Accumulator folds an ordered event stream into finalized messages. It is a
// pure state machine: malformed sequences are logged and self-healed, never
// surfaced as errors or panics.
//
// Text and reasoning deltas collect into a buffer under the open role. A
// reasoning_end finalizes a reasoning message immediately; reply text stays
// buffered so trailing text produced alongside tool calls rides in the same
// assistant message as the calls. A tool_start or reasoning_start finalizes
// any non-empty buffer first, so text preceding tool activity or a reasoning
// span becomes its own message.
type Accumulator struct {
	log zerolog.Logger

	openRole accRole
	buf      strings.Builder

	pending  map[string]*pendingCall
	order    []string
	finished []ToolCall
	ready    []ToolCall // finished since the last TakeReadyCalls

	completed []Message
}

func NewAccumulator(log zerolog.Logger) *Accumulator {
	return &Accumulator{
		log:     log,
		pending: make(map[string]*pendingCall),
	}
}

// AddEvent applies one event and returns any messages it finalized.
// Finalized messages are also retained for DrainCompleted.
func (a *Accumulator) AddEvent(event Event) []Message {
	var msgs []Message

	switch event.Type {
	case EventTextStart:
		if a.openRole == accReasoning {
			a.log.Warn().Msg("text span opened while reasoning span open, finalizing reasoning")
			msgs = a.finalizeBuffer(msgs)
		}
		a.openRole = accReply

	case EventTextDelta:
		// Tolerate backends that omit start events: a stray delta
		// implicitly opens a reply span.
		if a.openRole == accNone {
			a.openRole = accReply
		}
		a.buf.WriteString(event.Text)

	case EventTextEnd:
		// Keep the buffer: trailing reply text is attached to the
		// turn's final message at stream end.
		a.openRole = accNone

	case EventReasoningStart:
		// Buffered reply text (open or held past text_end) becomes its own
		// message before the reasoning span opens; it must never be folded
		// into the reasoning message.
		if a.openRole != accReasoning {
			if a.openRole == accReply && a.buf.Len() > 0 {
				a.log.Warn().Msg("reasoning span opened while reply span open, finalizing reply")
			}
			msgs = a.finalizeBuffer(msgs)
		}
		a.openRole = accReasoning

	case EventReasoningDelta:
		if a.openRole != accReasoning {
			msgs = a.finalizeBuffer(msgs)
			a.openRole = accReasoning
		}
		a.buf.WriteString(event.Text)

	case EventReasoningEnd:
		msgs = a.finalizeBuffer(msgs)
		a.openRole = accNone

	case EventToolStart:
		msgs = a.finalizeBuffer(msgs)
		a.openRole = accNone
		if event.ToolCallID == "" {
			a.log.Warn().Str("tool", event.ToolName).Msg("tool span without call id, ignoring")
			break
		}
		if _, exists := a.pending[event.ToolCallID]; exists {
			a.log.Warn().Str("call_id", event.ToolCallID).Msg("duplicate tool span start, ignoring")
			break
		}
		a.pending[event.ToolCallID] = &pendingCall{name: event.ToolName}
		a.order = append(a.order, event.ToolCallID)

	case EventToolDelta:
		call, ok := a.pending[event.ToolCallID]
		if !ok {
			a.log.Warn().Str("call_id", event.ToolCallID).Msg("tool delta for unknown call, ignoring")
			break
		}
		call.args.WriteString(event.Args)

	case EventToolEnd:
		call, ok := a.pending[event.ToolCallID]
		if !ok {
			a.log.Warn().Str("call_id", event.ToolCallID).Msg("tool end for unknown call, ignoring")
			break
		}
		delete(a.pending, event.ToolCallID)
		done := a.buildCall(event.ToolCallID, call)
		a.finished = append(a.finished, done)
		a.ready = append(a.ready, done)

	case EventDone:
		msgs = a.finalizeTurn(msgs)
	}

	a.completed = append(a.completed, msgs...)
	return msgs
}

// buildCall parses the accumulated argument text. Unparseable arguments keep
// their raw bytes and flag the call so the engine can synthesize an error
// result instead of invoking it.
func (a *Accumulator) buildCall(id string, call *pendingCall) ToolCall {
	raw := call.args.String()
	if raw == "" {
		raw = "{}"
	}
	done := ToolCall{ID: id, Name: call.name, Arguments: json.RawMessage(raw)}
	if !json.Valid(done.Arguments) {
		a.log.Warn().Str("call_id", id).Str("tool", call.name).
			Msg("tool call arguments are not valid JSON, call will not be dispatched")
		done.ParseError = true
	}
	return done
}

// finalizeBuffer closes the open span into its own message.
func (a *Accumulator) finalizeBuffer(msgs []Message) []Message {
	if a.buf.Len() == 0 {
		return msgs
	}
	part := Part{Type: PartText, Text: a.buf.String()}
	if a.openRole == accReasoning {
		part.Type = PartReasoning
	}
	a.buf.Reset()
	a.openRole = accNone
	return append(msgs, Message{Role: RoleAssistant, Parts: []Part{part}})
}

// finalizeTurn emits the turn's final message at stream end: one assistant
// message carrying all finished tool calls (with any trailing buffered text
// as a leading part), or a plain message from whatever buffer remains.
func (a *Accumulator) finalizeTurn(msgs []Message) []Message {
	for id := range a.pending {
		a.log.Warn().Str("call_id", id).Msg("stream ended with unterminated tool span, dropping")
	}

	if len(a.finished) == 0 {
		msgs = a.finalizeBuffer(msgs)
		a.resetTurn()
		return msgs
	}

	var parts []Part
	if a.buf.Len() > 0 {
		partType := PartText
		if a.openRole == accReasoning {
			partType = PartReasoning
		}
		parts = append(parts, Part{Type: partType, Text: a.buf.String()})
	}
	for i := range a.finished {
		call := a.finished[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	msgs = append(msgs, Message{Role: RoleAssistant, Parts: parts})
	a.resetTurn()
	return msgs
}

func (a *Accumulator) resetTurn() {
	a.openRole = accNone
	a.buf.Reset()
	a.pending = make(map[string]*pendingCall)
	a.order = nil
	a.finished = nil
	a.ready = nil
}

// TakeReadyCalls returns tool calls whose argument span closed since the
// last take. The engine dispatches these immediately, overlapping tool
// latency with the remainder of the model stream.
func (a *Accumulator) TakeReadyCalls() []ToolCall {
	calls := a.ready
	a.ready = nil
	return calls
}

// DrainCompleted returns every message finalized so far and clears the list.
func (a *Accumulator) DrainCompleted() []Message {
	msgs := a.completed
	a.completed = nil
	return msgs
}

// Reset discards all state, including completed messages.
func (a *Accumulator) Reset() {
	a.resetTurn()
	a.completed = nil
}
