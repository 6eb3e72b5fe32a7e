// Package stream implements the typed SSE protocol between the
// coordinator and the client: event encoding, the ordering grammar and
// the bounded-buffer emitter.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gin-contrib/sse"
)

// EventType tags a stream event.
type EventType string

const (
	EventStart         EventType = "start"
	EventProgress      EventType = "progress"
	EventIntent        EventType = "intent"
	EventAgentSelected EventType = "agent_selected"
	EventText          EventType = "text"
	EventAudio         EventType = "audio"
	EventWarning       EventType = "warning"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one typed stream event. Data is always a JSON object.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// Encode writes the event in SSE wire form.
func Encode(w io.Writer, ev Event) error {
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	return sse.Encode(w, sse.Event{Event: string(ev.Type), Data: string(raw)})
}

// Decode parses a full SSE stream back into typed events. The decoder
// accepts exactly what Encode produces, so parse-then-serialize is the
// identity on well-formed streams.
func Decode(r io.Reader) ([]Event, error) {
	raw, err := sse.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding event stream: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, e := range raw {
		s, ok := e.Data.(string)
		if !ok {
			return nil, fmt.Errorf("event %q carries non-string data", e.Event)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &data); err != nil {
			return nil, fmt.Errorf("event %q carries invalid JSON: %w", e.Event, err)
		}
		out = append(out, Event{Type: EventType(e.Event), Data: data})
	}
	return out, nil
}

// ValidateSequence checks a complete connection's events against the
// protocol grammar:
//
//	start progress* (intent agent_selected)? (text|audio|progress|warning)* (done|error)
func ValidateSequence(events []Event) error {
	if len(events) == 0 {
		return fmt.Errorf("empty stream")
	}
	if events[0].Type != EventStart {
		return fmt.Errorf("stream must open with start, got %s", events[0].Type)
	}
	last := events[len(events)-1].Type
	if last != EventDone && last != EventError {
		return fmt.Errorf("stream must close with done or error, got %s", last)
	}

	i := 1
	n := len(events) - 1
	for i < n && events[i].Type == EventProgress {
		i++
	}
	if i < n && events[i].Type == EventIntent {
		i++
		if i >= n || events[i].Type != EventAgentSelected {
			return fmt.Errorf("intent must be immediately followed by agent_selected")
		}
		i++
	}
	for i < n {
		switch events[i].Type {
		case EventText, EventAudio, EventProgress, EventWarning:
			i++
		case EventIntent, EventAgentSelected, EventStart:
			return fmt.Errorf("event %s not allowed at position %d", events[i].Type, i)
		case EventDone, EventError:
			return fmt.Errorf("terminal event %s before end of stream", events[i].Type)
		default:
			return fmt.Errorf("unknown event type %q", events[i].Type)
		}
	}
	return nil
}
