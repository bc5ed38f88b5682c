// Package session holds the conversation data model and its persistence.
//
// A Message is a role-tagged list of parts. The orchestrator is the only
// writer: it appends at turn boundaries and replaces the whole slice when
// history is compressed.
package session

import "encoding/json"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// Part is one unit of message content: text, a tool call issued by the
// model, or the result fed back for one.
type Part struct {
	Kind PartKind `json:"kind"`

	Text string `json:"text,omitempty"`

	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Tool result fields.
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`

	// Cancelled marks a model message whose response was cut off before
	// the stream finished; the parts hold whatever arrived first.
	Cancelled bool `json:"cancelled,omitempty"`
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// HasToolCalls reports whether the message issues any tool calls.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			return true
		}
	}
	return false
}

// HasToolResults reports whether the message carries tool results.
func (m Message) HasToolResults() bool {
	for _, p := range m.Parts {
		if p.Kind == PartToolResult {
			return true
		}
	}
	return false
}
