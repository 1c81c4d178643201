package provider

import (
	"context"
	"strings"
	"testing"
	"time"
)

// collect drains the event channel with a guard timeout
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

// TestParse_LineDelimited tests the one-object-per-line protocol
func TestParse_LineDelimited(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"file_start","file":"a.go"}`,
		`{"kind":"suggestion","file":"a.go","type":"bug","title":"nil deref","description":"x may be nil","line":12}`,
		`{"kind":"file_end"}`,
		`{"kind":"summary","text":"one issue found"}`,
	}, "\n")

	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d: %+v", len(events), events)
	}

	if events[0].Kind != EventFileStart || events[0].File != "a.go" {
		t.Errorf("Expected file_start for a.go, got %+v", events[0])
	}
	sug := events[1]
	if sug.Kind != EventSuggestion || sug.Suggestion == nil {
		t.Fatalf("Expected suggestion event, got %+v", sug)
	}
	if sug.Suggestion.File != "a.go" || sug.Suggestion.Title != "nil deref" {
		t.Errorf("Suggestion fields wrong: %+v", sug.Suggestion)
	}
	if sug.Suggestion.Line == nil || *sug.Suggestion.Line != 12 {
		t.Errorf("Expected line 12, got %v", sug.Suggestion.Line)
	}
	if events[2].Kind != EventFileEnd {
		t.Errorf("Expected file_end, got %+v", events[2])
	}
	if events[3].Kind != EventSummary || events[3].Summary != "one issue found" {
		t.Errorf("Expected summary, got %+v", events[3])
	}
}

// TestParse_BlankLineSeparated tests pretty-printed objects split by blank lines
func TestParse_BlankLineSeparated(t *testing.T) {
	input := `{
  "kind": "file_start",
  "file": "b.go"
}

{
  "kind": "suggestion",
  "file": "b.go",
  "type": "style",
  "title": "naming",
  "description": "rename this"
}
`
	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventFileStart || events[1].Kind != EventSuggestion {
		t.Errorf("Unexpected event kinds: %+v", events)
	}
}

// TestParse_TrailingArray tests the single-array-of-suggestions protocol
func TestParse_TrailingArray(t *testing.T) {
	input := `[
  {"file":"c.go","type":"bug","title":"t1","description":"d1","line":3},
  {"file":"d.go","type":"design","title":"t2","description":"d2"}
]`
	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %+v", len(events), events)
	}
	for _, ev := range events {
		if ev.Kind != EventSuggestion || ev.Suggestion == nil {
			t.Errorf("Expected bare suggestions, got %+v", ev)
		}
	}
	if events[1].Suggestion.File != "d.go" {
		t.Errorf("Expected d.go, got %s", events[1].Suggestion.File)
	}
}

// TestParse_SkipsMalformedChunks tests that garbage lines do not kill the stream
func TestParse_SkipsMalformedChunks(t *testing.T) {
	input := strings.Join([]string{
		`this is not json at all {{{`,
		``,
		`{"kind":"suggestion","file":"a.go","type":"bug","title":"kept","description":"d"}`,
		`{"kind":"teapot","file":"a.go"}`,
		`{"unrelated":"object"}`,
		``,
		`{"kind":"summary","text":"done"}`,
	}, "\n")

	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Suggestion == nil || events[0].Suggestion.Title != "kept" {
		t.Errorf("Expected the valid suggestion to survive, got %+v", events[0])
	}
	if events[1].Kind != EventSummary {
		t.Errorf("Expected summary, got %+v", events[1])
	}
}

// TestParse_SuggestionWithoutFileIsDropped tests required-field filtering
func TestParse_SuggestionWithoutFileIsDropped(t *testing.T) {
	input := `{"kind":"suggestion","type":"bug","title":"no file","description":"d"}`
	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 0 {
		t.Errorf("Expected no events, got %+v", events)
	}
}

// TestParse_ContextCancel tests that cancellation closes the stream
func TestParse_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A reader that never ends: the parser goroutine must still exit on cancel
	pr := strings.NewReader(`{"kind":"file_start","file":"a.go"}` + "\n")
	events := Parse(ctx, pr)

	// Take the first event, then cancel without draining
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("no first event")
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// One buffered event may slip out; the channel must close after
			if _, ok := <-events; ok {
				t.Error("Expected channel to close after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

// TestParse_LineAndRangeFields tests optional anchor decoding
func TestParse_LineAndRangeFields(t *testing.T) {
	input := `{"kind":"suggestion","file":"a.go","type":"bug","title":"t","description":"d","line_start":4,"line_end":9,"old_or_new":"OLD","confidence":0.8}`
	events := collect(t, Parse(context.Background(), strings.NewReader(input)))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	s := events[0].Suggestion
	if s.LineStart == nil || *s.LineStart != 4 || s.LineEnd == nil || *s.LineEnd != 9 {
		t.Errorf("Expected range 4..9, got %v..%v", s.LineStart, s.LineEnd)
	}
	if s.OldOrNew != "OLD" {
		t.Errorf("Expected OLD side, got %s", s.OldOrNew)
	}
	if s.Confidence == nil || *s.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %v", s.Confidence)
	}
}
