package session

import (
	"encoding/json"
	"testing"
)

func TestSessionSaveAndLoad(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := New("roundtrip")
	if err != nil {
		t.Fatal(err)
	}
	s.Mode = "prompt"
	s.Toolset = "default"
	s.AddMessage(TextMessage(RoleUser, "hello"))
	s.AddMessage(Message{Role: RoleModel, Parts: []Part{
		{Kind: PartText, Text: "checking"},
		{Kind: PartToolCall, CallID: "c1", ToolName: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
	}})
	s.AddMessage(Message{Role: RoleUser, Parts: []Part{
		{Kind: PartToolResult, CallID: "c1", ToolName: "read_file", Content: "package main", IsError: false},
	}})

	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load("roundtrip")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "roundtrip" || loaded.Mode != "prompt" || loaded.Toolset != "default" {
		t.Errorf("session metadata lost: %+v", loaded)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(loaded.Messages))
	}
	call := loaded.Messages[1].ToolCalls()
	if len(call) != 1 || call[0].CallID != "c1" || string(call[0].Arguments) != `{"path":"a.go"}` {
		t.Errorf("tool call did not survive the round trip: %+v", call)
	}
	if !Validate(loaded.Messages) {
		t.Error("loaded history fails validation")
	}
}

func TestLoadMissingSession(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("no-such-session"); err == nil {
		t.Error("loading a missing session must fail")
	}
}
