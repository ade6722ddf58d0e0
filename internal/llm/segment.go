package llm

import "strings"

// Default reasoning markers used by models that emit thinking as in-band
// tags inside regular text content.
const (
	DefaultReasoningOpen  = "<think>"
	DefaultReasoningClose = "</think>"
)

type segmentMode int

const (
	segmentIdle segmentMode = iota
	segmentText
	segmentReasoning
)

// Segmenter reclassifies a flat stream of text fragments into typed text and
// reasoning span events based on an in-band marker pair. Markers may arrive
// split across fragment boundaries: any trailing strict prefix of the
// applicable marker is withheld until the next fragment (or Flush) decides
// whether it completes. Outside of the marker bytes themselves the segmenter
// is lossless: concatenating all emitted delta payloads reproduces the input.
type Segmenter struct {
	open  string
	close string

	mode segmentMode
	held string // trailing bytes that may begin a marker
}

// NewSegmenter creates a segmenter for the given marker pair. Empty markers
// fall back to the defaults.
func NewSegmenter(openMarker, closeMarker string) *Segmenter {
	if openMarker == "" {
		openMarker = DefaultReasoningOpen
	}
	if closeMarker == "" {
		closeMarker = DefaultReasoningClose
	}
	return &Segmenter{open: openMarker, close: closeMarker}
}

// Feed consumes one fragment and returns the events it resolves. Content
// that could still be the start of a marker is withheld, not emitted.
func (s *Segmenter) Feed(fragment string) []Event {
	return s.scan(fragment, false)
}

// Flush resolves any withheld partial marker as literal content and closes
// the open span. Call exactly once, after the last fragment.
func (s *Segmenter) Flush() []Event {
	return s.scan("", true)
}

func (s *Segmenter) scan(fragment string, final bool) []Event {
	buf := s.held + fragment
	s.held = ""
	var out []Event

	for {
		marker := s.open
		if s.mode == segmentReasoning {
			marker = s.close
		}

		idx := strings.Index(buf, marker)
		if idx < 0 {
			break
		}

		if pre := buf[:idx]; pre != "" {
			out = s.emitDelta(out, pre)
		}
		if s.mode == segmentReasoning {
			out = append(out, Event{Type: EventReasoningEnd})
			s.mode = segmentIdle
		} else {
			if s.mode == segmentText {
				out = append(out, Event{Type: EventTextEnd})
			}
			out = append(out, Event{Type: EventReasoningStart})
			s.mode = segmentReasoning
		}
		buf = buf[idx+len(marker):]
	}

	marker := s.open
	if s.mode == segmentReasoning {
		marker = s.close
	}

	// No full marker left. Withhold the longest suffix that is a strict
	// prefix of the marker; a final flush emits it as literal content
	// since no completion can arrive.
	keep := 0
	if !final {
		keep = markerPrefixLen(buf, marker)
	}
	if emit := buf[:len(buf)-keep]; emit != "" {
		out = s.emitDelta(out, emit)
	}
	s.held = buf[len(buf)-keep:]

	if final && s.mode != segmentIdle {
		if s.mode == segmentText {
			out = append(out, Event{Type: EventTextEnd})
		} else {
			out = append(out, Event{Type: EventReasoningEnd})
		}
		s.mode = segmentIdle
	}
	return out
}

// emitDelta appends a delta for the current mode, opening a text span first
// when nothing is open.
func (s *Segmenter) emitDelta(out []Event, payload string) []Event {
	if s.mode == segmentReasoning {
		return append(out, Event{Type: EventReasoningDelta, Text: payload})
	}
	if s.mode == segmentIdle {
		out = append(out, Event{Type: EventTextStart})
		s.mode = segmentText
	}
	return append(out, Event{Type: EventTextDelta, Text: payload})
}

// markerPrefixLen returns the length of the longest suffix of buf that is a
// strict prefix of marker, or 0 when the suffix cannot begin the marker.
func markerPrefixLen(buf, marker string) int {
	max := len(marker) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(buf, marker[:k]) {
			return k
		}
	}
	return 0
}
