package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/session"
)

// BedrockClient streams Anthropic models through AWS Bedrock. Bedrock
// delivers the anthropic message-block stream as raw JSON chunks inside its
// own event stream, so this adapter parses the block events by hand.
type BedrockClient struct {
	client    *bedrockruntime.Client
	modelID   string
	maxTokens int
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string, maxTokens int) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &BedrockClient{
		client:    bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		maxTokens: maxTokens,
	}, nil
}

func (b *BedrockClient) Name() string  { return "bedrock" }
func (b *BedrockClient) Model() string { return b.modelID }

// bedrockStreamEvent is one anthropic stream event as Bedrock delivers it.
type bedrockStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *BedrockClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	body, err := b.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		usage := &Usage{}
		stopReason := ""
		type pendingTool struct {
			id    string
			name  string
			input strings.Builder
		}
		pending := map[int]*pendingTool{}

		for raw := range stream.Events() {
			chunk, ok := raw.(*brtypes.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var ev bedrockStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					usage.InputTokens = ev.Message.Usage.InputTokens
					usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
					usage.CacheWriteTokens = ev.Message.Usage.CacheCreationInputTokens
				}
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					pending[ev.Index] = &pendingTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				switch ev.Delta.Type {
				case "text_delta":
					out <- Event{Kind: EventTextDelta, Text: ev.Delta.Text}
				case "thinking_delta":
					out <- Event{Kind: EventReasoningDelta, Text: ev.Delta.Thinking}
				case "input_json_delta":
					if pt, ok := pending[ev.Index]; ok {
						pt.input.WriteString(ev.Delta.PartialJSON)
					}
				}
			case "content_block_stop":
				if pt, ok := pending[ev.Index]; ok {
					delete(pending, ev.Index)
					out <- Event{Kind: EventToolCall, ToolCall: finishToolCall(pt.id, pt.name, pt.input.String(), req.PromptID)}
				}
			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					stopReason = ev.Delta.StopReason
				}
				if ev.Usage != nil {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			out <- Event{Kind: EventError, Err: classifyBedrockError(err)}
			return
		}
		if ctx.Err() != nil {
			return
		}
		out <- Event{Kind: EventUsage, Usage: usage}
		out <- Event{Kind: EventFinished, StopReason: stopReason}
	}()
	return out, nil
}

func (b *BedrockClient) buildRequestBody(req *Request) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        b.maxTokens,
		"messages":          convertMessagesToBedrock(req.Messages),
	}
	if req.MaxTokens > 0 {
		request["max_tokens"] = req.MaxTokens
	}
	if req.System != "" {
		request["system"] = req.System
	}
	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, d := range req.Tools {
			schema := NormalizeSchema(d.Parameters)
			if schema == nil {
				schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
			}
			tools = append(tools, map[string]interface{}{
				"name":         d.Name,
				"description":  d.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = tools
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode bedrock request")
	}
	return data, nil
}

func convertMessagesToBedrock(messages []session.Message) []map[string]interface{} {
	var out []map[string]interface{}
	for _, msg := range messages {
		var blocks []map[string]interface{}
		for _, p := range msg.Parts {
			switch p.Kind {
			case session.PartText:
				if p.Text == "" {
					continue
				}
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": p.Text})
			case session.PartToolCall:
				var input map[string]interface{}
				_ = json.Unmarshal(p.Arguments, &input)
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    p.CallID,
					"name":  p.ToolName,
					"input": input,
				})
			case session.PartToolResult:
				blocks = append(blocks, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": p.CallID,
					"content":     p.Content,
					"is_error":    p.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := "user"
		if msg.Role == session.RoleModel {
			role = "assistant"
		}
		out = append(out, map[string]interface{}{"role": role, "content": blocks})
	}
	return out
}

func classifyBedrockError(err error) error {
	var throttled *brtypes.ThrottlingException
	if errors.As(err, &throttled) {
		return errors.FromStatusCode("bedrock", 429, aws.ToString(throttled.Message), nil)
	}
	var internal *brtypes.InternalServerException
	if errors.As(err, &internal) {
		return errors.FromStatusCode("bedrock", 500, aws.ToString(internal.Message), nil)
	}
	return errors.Wrapf(err, "bedrock request failed")
}
