package llm

import (
	"strings"
	"testing"
)

// collectSegments folds segmenter events back into visible and reasoning
// text, validating span ordering along the way.
func collectSegments(t *testing.T, events []Event) (string, string) {
	t.Helper()
	var visible, reasoning strings.Builder
	open := EventType("")
	for _, event := range events {
		switch event.Type {
		case EventTextStart:
			if open != "" {
				t.Fatalf("text_start while %s open", open)
			}
			open = EventTextStart
		case EventTextDelta:
			if open != EventTextStart {
				t.Fatalf("text_delta outside text span")
			}
			visible.WriteString(event.Text)
		case EventTextEnd:
			if open != EventTextStart {
				t.Fatalf("text_end outside text span")
			}
			open = ""
		case EventReasoningStart:
			if open != "" {
				t.Fatalf("reasoning_start while %s open", open)
			}
			open = EventReasoningStart
		case EventReasoningDelta:
			if open != EventReasoningStart {
				t.Fatalf("reasoning_delta outside reasoning span")
			}
			reasoning.WriteString(event.Text)
		case EventReasoningEnd:
			if open != EventReasoningStart {
				t.Fatalf("reasoning_end outside reasoning span")
			}
			open = ""
		default:
			t.Fatalf("unexpected event type %s", event.Type)
		}
	}
	if open != "" {
		t.Fatalf("stream ended with %s span open", open)
	}
	return visible.String(), reasoning.String()
}

func feedFragments(t *testing.T, s *Segmenter, fragments []string) []Event {
	t.Helper()
	var events []Event
	for _, fragment := range fragments {
		events = append(events, s.Feed(fragment)...)
	}
	return append(events, s.Flush()...)
}

func TestSegmenter_Basic(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantVisible   string
		wantReasoning string
	}{
		{
			name:        "plain text",
			input:       "hello world",
			wantVisible: "hello world",
		},
		{
			name:          "single reasoning block",
			input:         "before <think>hidden</think> after",
			wantVisible:   "before  after",
			wantReasoning: "hidden",
		},
		{
			name:          "reasoning first",
			input:         "<think>plan the answer</think>The answer is 4.",
			wantVisible:   "The answer is 4.",
			wantReasoning: "plan the answer",
		},
		{
			name:          "multiple reasoning blocks",
			input:         "<think>a</think>one<think>b</think>two",
			wantVisible:   "onetwo",
			wantReasoning: "ab",
		},
		{
			name:          "unterminated reasoning closed by flush",
			input:         "ok <think>never closed",
			wantVisible:   "ok ",
			wantReasoning: "never closed",
		},
		{
			name:        "empty input",
			input:       "",
			wantVisible: "",
		},
		{
			name:          "adjacent markers",
			input:         "<think></think>x",
			wantVisible:   "x",
			wantReasoning: "",
		},
		{
			name:        "partial marker at end stays literal",
			input:       "count < 10 and <thin",
			wantVisible: "count < 10 and <thin",
		},
		{
			name:        "lone angle bracket",
			input:       "a < b",
			wantVisible: "a < b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSegmenter("", "")
			events := feedFragments(t, s, []string{tt.input})
			visible, reasoning := collectSegments(t, events)
			if visible != tt.wantVisible {
				t.Errorf("visible = %q, want %q", visible, tt.wantVisible)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

// Classification must not depend on where fragment boundaries fall. Every
// possible two-fragment split of the input yields identical output.
func TestSegmenter_AllSplitPoints(t *testing.T) {
	inputs := []string{
		"before <think>hidden reasoning</think> after",
		"<think>a</think>b<think>c</think>d",
		"no markers at all",
		"trailing partial <thi",
		"< <t <th <thi <thin <think",
		"x<think>y",
	}

	for _, input := range inputs {
		// Reference: single-fragment pass.
		ref := NewSegmenter("", "")
		wantVisible, wantReasoning := collectSegments(t, feedFragments(t, ref, []string{input}))

		for i := 0; i <= len(input); i++ {
			s := NewSegmenter("", "")
			events := feedFragments(t, s, []string{input[:i], input[i:]})
			visible, reasoning := collectSegments(t, events)
			if visible != wantVisible || reasoning != wantReasoning {
				t.Errorf("input %q split at %d: got (%q, %q), want (%q, %q)",
					input, i, visible, reasoning, wantVisible, wantReasoning)
			}
		}
	}
}

// Byte-at-a-time delivery is the worst case for marker reassembly.
func TestSegmenter_ByteAtATime(t *testing.T) {
	input := "a<think>bb</think>c<think>dd"
	s := NewSegmenter("", "")
	var fragments []string
	for i := 0; i < len(input); i++ {
		fragments = append(fragments, input[i:i+1])
	}
	visible, reasoning := collectSegments(t, feedFragments(t, s, fragments))
	if visible != "ac" {
		t.Errorf("visible = %q, want %q", visible, "ac")
	}
	if reasoning != "bbdd" {
		t.Errorf("reasoning = %q, want %q", reasoning, "bbdd")
	}
}

func TestSegmenter_CustomMarkers(t *testing.T) {
	s := NewSegmenter("[[r]]", "[[/r]]")
	events := feedFragments(t, s, []string{"x[[r]]secret[[", "/r]]y"})
	visible, reasoning := collectSegments(t, events)
	if visible != "xy" {
		t.Errorf("visible = %q, want %q", visible, "xy")
	}
	if reasoning != "secret" {
		t.Errorf("reasoning = %q, want %q", reasoning, "secret")
	}
}

// Concatenating all delta payloads reproduces the input minus exactly the
// marker bytes, in order.
func TestSegmenter_Lossless(t *testing.T) {
	input := "aa<think>bb</think>cc<think>dd</think>ee"
	s := NewSegmenter("", "")
	var all strings.Builder
	for _, event := range feedFragments(t, s, []string{input}) {
		if event.Type == EventTextDelta || event.Type == EventReasoningDelta {
			all.WriteString(event.Text)
		}
	}
	want := "aabbccddee"
	if all.String() != want {
		t.Errorf("concatenated deltas = %q, want %q", all.String(), want)
	}
}

// A fragment that never resolves a withheld marker prefix emits nothing until
// flush.
func TestSegmenter_WithholdsMarkerPrefix(t *testing.T) {
	s := NewSegmenter("", "")
	events := s.Feed("hello <th")
	for _, event := range events {
		if event.Type == EventTextDelta && strings.Contains(event.Text, "<th") {
			t.Errorf("emitted withheld marker prefix: %q", event.Text)
		}
	}
	events = append(events, s.Flush()...)
	visible, _ := collectSegments(t, events)
	if visible != "hello <th" {
		t.Errorf("visible = %q, want %q", visible, "hello <th")
	}
}
