package agent

import (
	"encoding/json"
	"fmt"
)

// EventType names an item of a run's output stream.
type EventType string

const (
	// EventSessionID carries the chat id. It is always the first event.
	EventSessionID EventType = "session_id"
	// EventContent carries incremental assistant text.
	EventContent EventType = "content"
	// EventToolStart fires before a tool is invoked.
	EventToolStart EventType = "tool_start"
	// EventToolResult carries a tool's string result.
	EventToolResult EventType = "tool_result"
	// EventError ends the stream after an unrecoverable failure.
	EventError EventType = "error"
)

// Event is one item of a run's output stream. Which fields are set
// depends on Type: Value for session_id, content and error; Tool for
// tool_start; Tool and Result for tool_result.
type Event struct {
	Type   EventType
	Value  string
	Tool   string
	Result string
}

// SessionEvent announces the chat id of a run.
func SessionEvent(chatID string) Event {
	return Event{Type: EventSessionID, Value: chatID}
}

// ContentEvent relays a chunk of assistant text.
func ContentEvent(text string) Event {
	return Event{Type: EventContent, Value: text}
}

// ToolStartEvent reports that tool is about to run.
func ToolStartEvent(tool string) Event {
	return Event{Type: EventToolStart, Tool: tool}
}

// ToolResultEvent reports the result of a tool call.
func ToolResultEvent(tool, result string) Event {
	return Event{Type: EventToolResult, Tool: tool, Result: result}
}

// ErrorEvent reports the failure that ended a run.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Value: msg}
}

type valueEvent struct {
	Type  EventType `json:"type"`
	Value string    `json:"value"`
}

type toolStartEvent struct {
	Type EventType `json:"type"`
	Tool string    `json:"tool"`
}

type toolResultEvent struct {
	Type   EventType `json:"type"`
	Tool   string    `json:"tool"`
	Result string    `json:"result"`
}

// MarshalJSON encodes the event with only the fields its type carries.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSessionID, EventContent, EventError:
		return json.Marshal(valueEvent{Type: e.Type, Value: e.Value})
	case EventToolStart:
		return json.Marshal(toolStartEvent{Type: e.Type, Tool: e.Tool})
	case EventToolResult:
		return json.Marshal(toolResultEvent{Type: e.Type, Tool: e.Tool, Result: e.Result})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON decodes an event written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   EventType `json:"type"`
		Value  string    `json:"value"`
		Tool   string    `json:"tool"`
		Result string    `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		return fmt.Errorf("event without type")
	}
	*e = Event{Type: raw.Type, Value: raw.Value, Tool: raw.Tool, Result: raw.Result}
	return nil
}
