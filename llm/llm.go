// Package llm defines the canonical streaming contract between the agent
// engine and model backends, plus one adapter per supported wire protocol.
//
// Adapters translate heterogeneous provider streams into one Event sequence.
// Nothing downstream of this package inspects raw provider JSON.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tandem-cli/tandem/session"
)

// EventKind tags the canonical stream event union.
type EventKind string

const (
	EventTextDelta      EventKind = "text_delta"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventToolCall       EventKind = "tool_call"
	EventUsage          EventKind = "usage"
	EventFinished       EventKind = "finished"
	EventError          EventKind = "error"
	EventLoopDetected   EventKind = "loop_detected"
	EventChatCompressed EventKind = "chat_compressed"
)

// ToolCall is one tool invocation requested by the model. Immutable once
// created.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
	PromptID  string
	// ClientInitiated marks calls created by the engine itself rather than
	// the model; they are finalized independently of their batch.
	ClientInitiated bool
}

// Usage is the normalized token accounting for one provider response.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// CompressionInfo records the outcome of one successful history compression.
type CompressionInfo struct {
	OriginalTokenCount int
	NewTokenCount      int
}

// Event is the canonical stream event. Exactly the fields implied by Kind
// are set.
type Event struct {
	Kind        EventKind
	Text        string
	ToolCall    *ToolCall
	Usage       *Usage
	Err         error
	StopReason  string
	Compression *CompressionInfo
}

// Request is the canonical completion request handed to an adapter.
type Request struct {
	System      string
	Messages    []session.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	PromptID    string
}

// Client is implemented once per wire protocol. Send returns a lazily
// produced, finite event sequence; cancelling ctx aborts the stream and the
// channel is closed after the final event.
type Client interface {
	Name() string
	Model() string
	Send(ctx context.Context, req *Request) (<-chan Event, error)
}

// NewCallID mints a unique tool-call identifier for providers that do not
// supply one.
func NewCallID() string {
	return "call_" + uuid.NewString()
}

// parseErrorArguments is the reserved payload emitted in place of tool
// arguments that could not be repaired.
func parseErrorArguments(raw string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"__parseError": raw})
	return payload
}

// MockClient parrots the last user message back. It stands in when no
// provider is configured and in tests that only need a live Client.
type MockClient struct{ ModelName string }

func (m *MockClient) Name() string  { return "mock" }
func (m *MockClient) Model() string { return m.ModelName }

func (m *MockClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	last := ""
	for _, msg := range req.Messages {
		if msg.Role == session.RoleUser {
			last = msg.Text()
		}
	}
	ch := make(chan Event, 4)
	go func() {
		defer close(ch)
		ch <- Event{Kind: EventTextDelta, Text: fmt.Sprintf("I am a mock model. You said: %q.", last)}
		ch <- Event{Kind: EventUsage, Usage: &Usage{InputTokens: EstimateTokenCount(last)}}
		ch <- Event{Kind: EventFinished, StopReason: "stop"}
	}()
	return ch, nil
}
