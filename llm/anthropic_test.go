package llm

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tandem-cli/tandem/session"
)

// conversationFixture is a short history exercising every part kind: plain
// text, a model tool call, and the paired tool result.
func conversationFixture() []session.Message {
	return []session.Message{
		session.TextMessage(session.RoleUser, "read main.go"),
		{Role: session.RoleModel, Parts: []session.Part{
			{Kind: session.PartText, Text: "on it"},
			{Kind: session.PartToolCall, CallID: "call_1", ToolName: "read_file",
				Arguments: json.RawMessage(`{"path":"main.go"}`)},
		}},
		{Role: session.RoleUser, Parts: []session.Part{
			{Kind: session.PartToolResult, CallID: "call_1", ToolName: "read_file",
				Content: "package main"},
		}},
	}
}

func TestConvertMessagesToAnthropic(t *testing.T) {
	out := convertMessagesToAnthropic(conversationFixture())
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}

	if out[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %s, want user", out[0].Role)
	}
	if tb := out[0].Content[0].OfText; tb == nil || tb.Text != "read main.go" {
		t.Errorf("text block = %+v", out[0].Content[0])
	}

	if out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("role = %s, want assistant", out[1].Role)
	}
	if len(out[1].Content) != 2 {
		t.Fatalf("assistant message has %d blocks, want text + tool_use", len(out[1].Content))
	}
	tu := out[1].Content[1].OfToolUse
	if tu == nil || tu.ID != "call_1" || tu.Name != "read_file" {
		t.Errorf("tool_use block = %+v", out[1].Content[1])
	}

	tr := out[2].Content[0].OfToolResult
	if tr == nil || tr.ToolUseID != "call_1" {
		t.Fatalf("tool_result block = %+v", out[2].Content[0])
	}
	if tr.Content[0].OfText == nil || tr.Content[0].OfText.Text != "package main" {
		t.Errorf("tool_result content = %+v", tr.Content[0])
	}
}

func TestConvertMessagesToAnthropicDropsEmptyMessages(t *testing.T) {
	out := convertMessagesToAnthropic([]session.Message{
		{Role: session.RoleModel, Parts: []session.Part{{Kind: session.PartText, Text: ""}}},
		session.TextMessage(session.RoleUser, "hi"),
	})
	if len(out) != 1 {
		t.Fatalf("got %d messages, want the empty one dropped", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %s, want user", out[0].Role)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	defs := []ToolDefinition{{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
		},
	}}
	out := convertToolsToAnthropic(defs)
	if len(out) != 1 {
		t.Fatalf("got %d tools, want 1", len(out))
	}
	tool := out[0].OfTool
	if tool == nil || tool.Name != "read_file" {
		t.Fatalf("tool = %+v", out[0])
	}
	if tool.Description.Value != "Reads a file" {
		t.Errorf("description = %q", tool.Description.Value)
	}
	props, ok := tool.InputSchema.Properties.(map[string]interface{})
	if !ok {
		t.Fatalf("properties have type %T", tool.InputSchema.Properties)
	}
	if _, ok := props["path"]; !ok {
		t.Errorf("properties = %v, missing path", props)
	}
}

func TestConvertToolsToAnthropicEmptySchema(t *testing.T) {
	out := convertToolsToAnthropic([]ToolDefinition{{Name: "ping"}})
	props, ok := out[0].OfTool.InputSchema.Properties.(map[string]interface{})
	if !ok || len(props) != 0 {
		t.Errorf("schema-less tool must get empty properties, got %v", out[0].OfTool.InputSchema.Properties)
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("no definitions must convert to nil")
	}
}
