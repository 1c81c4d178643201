package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/logger"
)

// EventKind identifies a suggestion stream event
type EventKind string

const (
	EventFileStart  EventKind = "file_start"
	EventSuggestion EventKind = "suggestion"
	EventFileEnd    EventKind = "file_end"
	EventSummary    EventKind = "summary"
)

// Event is one parsed item from a provider's stdout stream
type Event struct {
	Kind       EventKind
	File       string
	Summary    string
	Suggestion *store.SuggestionInput
}

// maxScanTokenSize allows providers to emit long single-line JSON objects
const maxScanTokenSize = 4 * 1024 * 1024

// Parse produces a lazy sequence of suggestion events from a provider stdout
// stream. The boundary protocol is provider-agnostic: the parser tolerates
// line-delimited JSON, objects separated by blank lines, and a single JSON
// array at the end of the stream. Malformed chunks are skipped with a logged
// warning; the stream continues.
//
// The returned channel closes when the stream ends or ctx is cancelled.
func Parse(ctx context.Context, r io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

		var pending []string
		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			chunk := strings.Join(pending, "\n")
			pending = nil
			return emitChunk(chunk, emit)
		}

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			trimmed := strings.TrimSpace(line)

			// Blank line closes an accumulated object
			if trimmed == "" {
				if !flush() {
					return
				}
				continue
			}

			if len(pending) == 0 && json.Valid([]byte(trimmed)) {
				// Complete object on a single line
				if !emitChunk(trimmed, emit) {
					return
				}
				continue
			}

			// Accumulate a multi-line object and emit eagerly once it closes
			pending = append(pending, line)
			joined := strings.Join(pending, "\n")
			if json.Valid([]byte(joined)) {
				pending = nil
				if !emitChunk(joined, emit) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Warn("Provider stream read error", zap.Error(err))
		}
		flush()
	}()

	return events
}

// emitChunk decodes one JSON chunk into events. A chunk is either a single
// event object, a bare suggestion object, or an array of either.
// Returns false when the consumer is gone.
func emitChunk(chunk string, emit func(Event) bool) bool {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return true
	}

	if strings.HasPrefix(chunk, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(chunk), &items); err != nil {
			logger.Warn("Skipping malformed provider output array",
				zap.String("chunk", truncateChunk(chunk)))
			return true
		}
		for _, item := range items {
			if ev, ok := decodeEvent(item); ok {
				if !emit(ev) {
					return false
				}
			}
		}
		return true
	}

	ev, ok := decodeEvent([]byte(chunk))
	if !ok {
		return true
	}
	return emit(ev)
}

// rawEvent is the superset shape a provider may emit for one event
type rawEvent struct {
	Kind string `json:"kind"`
	File string `json:"file,omitempty"`
	Text string `json:"text,omitempty"`

	store.SuggestionInput
}

// decodeEvent maps one JSON object onto an Event. Objects without a kind but
// with suggestion fields are treated as bare suggestions (trailing-array
// protocol). Anything else is skipped with a warning.
func decodeEvent(data []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("Skipping malformed provider output chunk",
			zap.String("chunk", truncateChunk(string(data))))
		return Event{}, false
	}

	switch raw.Kind {
	case string(EventFileStart):
		if raw.File == "" {
			return Event{}, false
		}
		return Event{Kind: EventFileStart, File: raw.File}, true
	case string(EventFileEnd):
		return Event{Kind: EventFileEnd}, true
	case string(EventSummary):
		return Event{Kind: EventSummary, Summary: raw.Text}, true
	case string(EventSuggestion), "":
		s := raw.SuggestionInput
		// The outer file field shadows the embedded one during decoding
		s.File = raw.File
		if s.File == "" || s.Title == "" {
			if raw.Kind == "" {
				logger.Warn("Skipping unrecognized provider output chunk",
					zap.String("chunk", truncateChunk(string(data))))
			}
			return Event{}, false
		}
		return Event{Kind: EventSuggestion, File: s.File, Suggestion: &s}, true
	default:
		// Unknown kinds are noise from the provider, not errors
		return Event{}, false
	}
}

func truncateChunk(chunk string) string {
	const limit = 200
	if len(chunk) > limit {
		return chunk[:limit] + "..."
	}
	return chunk
}
