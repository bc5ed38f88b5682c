package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/llm"
	"github.com/tandem-cli/tandem/session"
)

// scriptClient replays one canned event sequence per Send call.
type scriptClient struct {
	responses [][]llm.Event
	requests  []*llm.Request
}

func (s *scriptClient) Name() string  { return "script" }
func (s *scriptClient) Model() string { return "script-model" }

func (s *scriptClient) Send(ctx context.Context, req *llm.Request) (<-chan llm.Event, error) {
	s.requests = append(s.requests, req)
	var events []llm.Event
	if len(s.responses) > 0 {
		events = s.responses[0]
		s.responses = s.responses[1:]
	} else {
		events = []llm.Event{{Kind: llm.EventFinished, StopReason: "stop"}}
	}
	ch := make(chan llm.Event, len(events)+1)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func textEvents(text string) []llm.Event {
	return []llm.Event{
		{Kind: llm.EventTextDelta, Text: text},
		{Kind: llm.EventFinished, StopReason: "stop"},
	}
}

func defaultCompressionConfig() config.Compression {
	return config.Compression{
		Threshold:       config.DefaultThreshold,
		PreserveRatio:   config.DefaultPreserveRatio,
		PreservedPrefix: config.DefaultPreservedPrefix,
	}
}

// sampleHistory builds a prefix of environment entries followed by a
// conversation containing complete tool-call/tool-result pairs.
func sampleHistory() []session.Message {
	pair := func(id string) []session.Message {
		return []session.Message{
			{Role: session.RoleModel, Parts: []session.Part{
				{Kind: session.PartText, Text: "working on it"},
				{Kind: session.PartToolCall, CallID: id, ToolName: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
			}},
			{Role: session.RoleUser, Parts: []session.Part{
				{Kind: session.PartToolResult, CallID: id, ToolName: "read_file", Content: "package main"},
			}},
		}
	}

	msgs := []session.Message{
		session.TextMessage(session.RoleUser, "environment: linux"),
		session.TextMessage(session.RoleUser, "project layout: flat"),
		session.TextMessage(session.RoleUser, "please fix the bug"),
	}
	msgs = append(msgs, pair("c1")...)
	msgs = append(msgs, session.TextMessage(session.RoleModel, "found it"))
	msgs = append(msgs, session.TextMessage(session.RoleUser, "now add a test"))
	msgs = append(msgs, pair("c2")...)
	msgs = append(msgs, session.TextMessage(session.RoleModel, "test added"))
	msgs = append(msgs, session.TextMessage(session.RoleUser, "looks good, document it"))
	msgs = append(msgs, session.TextMessage(session.RoleModel, "done"))
	return msgs
}

func TestShouldCompressThreshold(t *testing.T) {
	client := &scriptClient{}
	big := NewCompressor(client, defaultCompressionConfig(), 100)
	huge := []session.Message{
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, strings.Repeat("words and more words ", 500)),
		session.TextMessage(session.RoleModel, "short"),
	}
	if !big.ShouldCompress("", huge, false) {
		t.Error("history far beyond a tiny window should compress")
	}

	small := NewCompressor(client, defaultCompressionConfig(), 1_000_000)
	if small.ShouldCompress("", huge, false) {
		t.Error("history far under the threshold should not compress")
	}
	if !small.ShouldCompress("", huge, true) {
		t.Error("force should bypass the threshold")
	}
}

func TestShouldCompressNeedsConversation(t *testing.T) {
	client := &scriptClient{}
	c := NewCompressor(client, defaultCompressionConfig(), 10)
	msgs := []session.Message{
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "env"),
	}
	if c.ShouldCompress("", msgs, true) {
		t.Error("prefix-only history has nothing to compress, even forced")
	}
}

func TestCompressPreservesPrefixAndPairs(t *testing.T) {
	client := &scriptClient{responses: [][]llm.Event{textEvents("the user fixed a bug and added a test")}}
	c := NewCompressor(client, defaultCompressionConfig(), 100)

	msgs := sampleHistory()
	res, err := c.Compress(context.Background(), "system", msgs, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.NewHistory) >= len(msgs) {
		t.Errorf("compression did not shrink history: %d -> %d", len(msgs), len(res.NewHistory))
	}
	for i := 0; i < config.DefaultPreservedPrefix; i++ {
		if res.NewHistory[i].Text() != msgs[i].Text() {
			t.Errorf("prefix entry %d changed", i)
		}
	}
	summaryMsg := res.NewHistory[config.DefaultPreservedPrefix]
	if summaryMsg.Role != session.RoleUser || !strings.Contains(summaryMsg.Text(), "fixed a bug") {
		t.Errorf("expected summary entry after the prefix, got %+v", summaryMsg)
	}
	if !session.Validate(res.NewHistory) {
		t.Error("compressed history severs a tool-call/result pair")
	}
	if res.Info.OriginalTokenCount <= 0 {
		t.Error("missing original token count")
	}

	// The kept suffix must start at a plain user message.
	suffixStart := res.NewHistory[config.DefaultPreservedPrefix+1]
	if suffixStart.Role != session.RoleUser || suffixStart.HasToolResults() {
		t.Errorf("suffix does not start at a safe split point: %+v", suffixStart)
	}
}

func TestCompressUsesAuxiliaryConversation(t *testing.T) {
	client := &scriptClient{responses: [][]llm.Event{textEvents("summary")}}
	c := NewCompressor(client, defaultCompressionConfig(), 100)

	if _, err := c.Compress(context.Background(), "system", sampleHistory(), 0); err != nil {
		t.Fatal(err)
	}
	if len(client.requests) != 1 {
		t.Fatalf("got %d summarization requests, want 1", len(client.requests))
	}
	req := client.requests[0]
	if len(req.Messages) != 1 || req.Messages[0].Role != session.RoleUser {
		t.Error("summarization must run on a throwaway single-message conversation")
	}
	if len(req.Tools) != 0 {
		t.Error("summarization request must not offer tools")
	}
}

func TestCompressSkipsWhenNoSafeSplit(t *testing.T) {
	client := &scriptClient{responses: [][]llm.Event{textEvents("unused")}}
	c := NewCompressor(client, defaultCompressionConfig(), 100)

	// Everything after the split target is tool traffic; no safe boundary.
	msgs := []session.Message{
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "task"),
		{Role: session.RoleModel, Parts: []session.Part{{Kind: session.PartToolCall, CallID: "c1", ToolName: "read_file", Arguments: json.RawMessage(`{}`)}}},
		{Role: session.RoleUser, Parts: []session.Part{{Kind: session.PartToolResult, CallID: "c1", ToolName: "read_file", Content: "x"}}},
		{Role: session.RoleModel, Parts: []session.Part{{Kind: session.PartToolCall, CallID: "c2", ToolName: "read_file", Arguments: json.RawMessage(`{}`)}}},
		{Role: session.RoleUser, Parts: []session.Part{{Kind: session.PartToolResult, CallID: "c2", ToolName: "read_file", Content: "y"}}},
	}
	_, err := c.Compress(context.Background(), "", msgs, 0)
	if !errors.Is(err, errors.ErrCompressionSkipped) {
		t.Errorf("got %v, want ErrCompressionSkipped", err)
	}
	if len(client.requests) != 0 {
		t.Error("no summarization call should happen when compression is skipped")
	}
}

func TestCompressSkipsTinyHistory(t *testing.T) {
	client := &scriptClient{}
	c := NewCompressor(client, defaultCompressionConfig(), 100)
	msgs := []session.Message{
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "env"),
		session.TextMessage(session.RoleUser, "hi"),
	}
	if _, err := c.Compress(context.Background(), "", msgs, 0); !errors.Is(err, errors.ErrCompressionSkipped) {
		t.Errorf("got %v, want ErrCompressionSkipped", err)
	}
}

func TestCompressFailsWholeOnSummaryError(t *testing.T) {
	client := &scriptClient{responses: [][]llm.Event{{
		{Kind: llm.EventError, Err: errors.New("model exploded")},
	}}}
	c := NewCompressor(client, defaultCompressionConfig(), 100)

	_, err := c.Compress(context.Background(), "", sampleHistory(), 0)
	if err == nil {
		t.Fatal("summary failure must fail the whole compression")
	}
	if errors.Is(err, errors.ErrCompressionSkipped) {
		t.Error("a real failure is not a skip")
	}
}

func TestCompressToFit(t *testing.T) {
	client := &scriptClient{responses: [][]llm.Event{textEvents("s")}}
	c := NewCompressor(client, defaultCompressionConfig(), 200000)

	// Already under budget: nothing to do.
	small := sampleHistory()
	if _, err := c.CompressToFit(context.Background(), "", small, 1_000_000); !errors.Is(err, errors.ErrCompressionSkipped) {
		t.Errorf("got %v, want ErrCompressionSkipped for history under budget", err)
	}

	// Over budget: compress with a derived ratio.
	msgs := sampleHistory()
	msgs[2] = session.TextMessage(session.RoleUser, strings.Repeat("padding text ", 2000))
	msgs = append(msgs, session.TextMessage(session.RoleUser, "thanks"))
	res, err := c.CompressToFit(context.Background(), "", msgs, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !session.Validate(res.NewHistory) {
		t.Error("compressed history is structurally invalid")
	}
	if len(res.NewHistory) >= len(msgs) {
		t.Error("compression did not shrink the history")
	}
}
