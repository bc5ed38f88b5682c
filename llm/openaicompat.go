package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/session"
)

// OpenAICompatClient speaks the OpenAI chat-completions wire format directly
// over HTTP for self-hosted and compatible endpoints (LocalAI, LM Studio,
// vLLM, Ollama's /v1, ...). Unlike the SDK adapters it parses the SSE frames
// itself: `data: {...}` chunks with incremental delta.content and
// delta.tool_calls fragments, terminated by `data: [DONE]`.
type OpenAICompatClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAICompatClient constructs a client for an OpenAI-compatible API.
// baseURL must point at the API root (e.g. http://localhost:11434/v1). An
// empty apiKey sends requests without Authorization headers.
func NewOpenAICompatClient(apiKey, baseURL, modelName string) (*OpenAICompatClient, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, errors.New("model name is required for the openai-compatible provider")
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("base URL is required for the openai-compatible provider")
	}
	return &OpenAICompatClient{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: base,
		httpClient: &http.Client{
			// No overall timeout: streams stay open as long as the model
			// generates. The per-turn context handles cancellation.
			Timeout: 0,
		},
	}, nil
}

func (c *OpenAICompatClient) Name() string  { return "openai-compatible" }
func (c *OpenAICompatClient) Model() string { return c.model }

// Wire shapes for the chat-completions protocol.

type oaiChatRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	Tools         []oaiTool         `json:"tools,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	Index    int         `json:"index"`
	ID       string      `json:"id,omitempty"`
	Type     string      `json:"type,omitempty"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaiTool struct {
	Type     string         `json:"type"`
	Function oaiFunctionDef `json:"function"`
}

type oaiFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string        `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (c *OpenAICompatClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	payload := &oaiChatRequest{
		Model:       c.model,
		Messages:    c.buildMessages(req),
		Tools:       c.buildTools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		StreamOptions: &oaiStreamOptions{
			IncludeUsage: true,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "chat request failed")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.FromStatusCode(c.Name(), resp.StatusCode,
			strings.TrimSpace(string(msg)), retryAfterSeconds(resp))
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		c.pumpStream(ctx, resp.Body, req.PromptID, out)
	}()
	return out, nil
}

func (c *OpenAICompatClient) pumpStream(ctx context.Context, body io.Reader, promptID string, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	agg := newToolCallAggregator()
	usage := &Usage{}
	stopReason := ""
	done := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			done = true
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed but recoverable: skip the frame rather than kill
			// the stream. Tool fragments repair at aggregation time.
			continue
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			usage.CacheReadTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				out <- Event{Kind: EventTextDelta, Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				agg.add(int64(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		out <- Event{Kind: EventError, Err: errors.Wrapf(err, "stream read failed")}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !done && stopReason == "" {
		stopReason = "stop"
	}
	for _, call := range agg.finish(promptID) {
		out <- Event{Kind: EventToolCall, ToolCall: call}
	}
	out <- Event{Kind: EventUsage, Usage: usage}
	out <- Event{Kind: EventFinished, StopReason: stopReason}
}

func (c *OpenAICompatClient) buildMessages(req *Request) []oaiMessage {
	var out []oaiMessage
	if req.System != "" {
		out = append(out, oaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case session.RoleModel:
			m := oaiMessage{Role: "assistant", Content: msg.Text()}
			for i, p := range msg.ToolCalls() {
				m.ToolCalls = append(m.ToolCalls, oaiToolCall{
					Index: i,
					ID:    p.CallID,
					Type:  "function",
					Function: oaiFunction{
						Name:      p.ToolName,
						Arguments: string(p.Arguments),
					},
				})
			}
			out = append(out, m)
		default:
			emittedResult := false
			for _, p := range msg.Parts {
				if p.Kind == session.PartToolResult {
					out = append(out, oaiMessage{Role: "tool", Content: p.Content, ToolCallID: p.CallID})
					emittedResult = true
				}
			}
			if text := msg.Text(); text != "" || !emittedResult {
				out = append(out, oaiMessage{Role: "user", Content: text})
			}
		}
	}
	return out
}

func (c *OpenAICompatClient) buildTools(defs []ToolDefinition) []oaiTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]oaiTool, 0, len(defs))
	for _, d := range defs {
		params := NormalizeSchema(d.Parameters)
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, oaiTool{
			Type: "function",
			Function: oaiFunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func retryAfterSeconds(resp *http.Response) *float64 {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		return &secs
	}
	if t, err := http.ParseTime(header); err == nil {
		secs := time.Until(t).Seconds()
		if secs > 0 {
			return &secs
		}
	}
	return nil
}
