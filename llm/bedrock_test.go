package llm

import (
	"encoding/json"
	"testing"

	"github.com/tandem-cli/tandem/session"
)

func TestConvertMessagesToBedrock(t *testing.T) {
	out := convertMessagesToBedrock(conversationFixture())
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	if out[0]["role"] != "user" || out[1]["role"] != "assistant" || out[2]["role"] != "user" {
		t.Errorf("roles = %v/%v/%v", out[0]["role"], out[1]["role"], out[2]["role"])
	}

	blocks := out[1]["content"].([]map[string]interface{})
	if len(blocks) != 2 {
		t.Fatalf("assistant message has %d blocks, want text + tool_use", len(blocks))
	}
	if blocks[0]["type"] != "text" || blocks[0]["text"] != "on it" {
		t.Errorf("text block = %v", blocks[0])
	}
	if blocks[1]["type"] != "tool_use" || blocks[1]["id"] != "call_1" || blocks[1]["name"] != "read_file" {
		t.Errorf("tool_use block = %v", blocks[1])
	}
	input := blocks[1]["input"].(map[string]interface{})
	if input["path"] != "main.go" {
		t.Errorf("tool input = %v", input)
	}

	result := out[2]["content"].([]map[string]interface{})[0]
	if result["type"] != "tool_result" || result["tool_use_id"] != "call_1" {
		t.Errorf("tool_result block = %v", result)
	}
	if result["content"] != "package main" || result["is_error"] != false {
		t.Errorf("tool_result payload = %v", result)
	}
}

func TestBuildBedrockRequestBody(t *testing.T) {
	b := &BedrockClient{modelID: "anthropic.claude-sonnet", maxTokens: 512}
	body, err := b.buildRequestBody(&Request{
		System:   "be helpful",
		Messages: []session.Message{session.TextMessage(session.RoleUser, "hi")},
		Tools: []ToolDefinition{{
			Name:        "read_file",
			Description: "Reads a file",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string"},
				},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", decoded["anthropic_version"])
	}
	if decoded["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v, want the client default", decoded["max_tokens"])
	}
	if decoded["system"] != "be helpful" {
		t.Errorf("system = %v", decoded["system"])
	}

	toolDefs := decoded["tools"].([]interface{})
	if len(toolDefs) != 1 {
		t.Fatalf("got %d tools, want 1", len(toolDefs))
	}
	first := toolDefs[0].(map[string]interface{})
	if first["name"] != "read_file" || first["description"] != "Reads a file" {
		t.Errorf("tool = %v", first)
	}
	schema, ok := first["input_schema"].(map[string]interface{})
	if !ok || schema["type"] != "object" {
		t.Errorf("input_schema = %v", first["input_schema"])
	}
}

func TestBuildBedrockRequestBodyMaxTokensOverride(t *testing.T) {
	b := &BedrockClient{modelID: "anthropic.claude-sonnet", maxTokens: 512}
	body, err := b.buildRequestBody(&Request{
		MaxTokens: 64,
		Messages:  []session.Message{session.TextMessage(session.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v, want the request override", decoded["max_tokens"])
	}
	if _, ok := decoded["system"]; ok {
		t.Error("empty system prompt must be omitted")
	}
	if _, ok := decoded["tools"]; ok {
		t.Error("empty tool list must be omitted")
	}
}
