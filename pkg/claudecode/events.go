// Package claudecode provides a wrapper around the Claude Code CLI.
package claudecode

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType represents the type of event from Claude Code.
type EventType string

const (
	EventTypeSystem     EventType = "system"
	EventTypeAssistant  EventType = "assistant"
	EventTypeUser       EventType = "user"
	EventTypeToolUse    EventType = "tool_use"
	EventTypeToolResult EventType = "tool_result"
	EventTypeResult     EventType = "result"
	EventTypeError      EventType = "error"
)

// Event represents a parsed event from Claude Code's stream-json output.
type Event struct {
	Type      EventType       `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolID    string          `json:"tool_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Timestamp time.Time       `json:"-"`
}

// messageWrapper represents Claude CLI's nested message format.
type messageWrapper struct {
	Content []contentBlock `json:"content"`
}

// contentBlock represents items in message.content array.
type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // tool_result, string or array
}

// ParseEvent parses a raw JSON line into an Event.
// Handles Claude CLI's nested message format:
//
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}]}}
//	{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{}}]}}
//	{"type":"user","message":{"content":[{"type":"tool_result","content":"..."}]}}
func ParseEvent(data []byte) (*Event, error) {
	var raw struct {
		Type      EventType       `json:"type"`
		Subtype   string          `json:"subtype,omitempty"`
		SessionID string          `json:"session_id,omitempty"`
		Content   string          `json:"content,omitempty"` // flat format fallback
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
		Message   *messageWrapper `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := &Event{
		Type:      raw.Type,
		Subtype:   raw.Subtype,
		SessionID: raw.SessionID,
		Content:   raw.Content,
		Name:      raw.Name,
		Input:     raw.Input,
		Timestamp: time.Now(),
	}

	if raw.Message != nil && len(raw.Message.Content) > 0 {
		for _, cb := range raw.Message.Content {
			switch cb.Type {
			case "text":
				event.Subtype = "text"
				event.Content += cb.Text
			case "tool_use":
				event.Type = EventTypeToolUse
				event.ToolID = cb.ID
				event.Name = cb.Name
				event.Input = cb.Input
			case "tool_result":
				event.Type = EventTypeToolResult
				event.Content = extractToolResultContent(cb.Content)
			}
		}
	}

	return event, nil
}

// IsComplete returns true if this event indicates the session ended.
func (e *Event) IsComplete() bool {
	return e.Type == EventTypeResult
}

// IsSuccess returns true if this is a successful completion.
func (e *Event) IsSuccess() bool {
	return e.Type == EventTypeResult && e.Subtype == "success"
}

// IsError returns true if this event represents an error.
func (e *Event) IsError() bool {
	return e.Type == EventTypeError || (e.Type == EventTypeResult && e.Subtype == "error")
}

// IsToolUse returns true if this is a tool invocation.
func (e *Event) IsToolUse() bool {
	return e.Type == EventTypeToolUse
}

// extractToolResultContent handles tool_result content which can be a
// plain string or an array of content blocks.
func extractToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var strContent string
	if err := json.Unmarshal(raw, &strContent); err == nil {
		return strContent
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var result strings.Builder
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				if result.Len() > 0 {
					result.WriteString("\n")
				}
				result.WriteString(b.Text)
			}
		}
		return result.String()
	}

	return string(raw)
}
