package llm

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/session"
)

// AnthropicClient streams message-block responses from the Anthropic API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(modelName string, maxTokens int) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client, model: modelName, maxTokens: maxTokens}, nil
}

func (a *AnthropicClient) Name() string  { return "anthropic" }
func (a *AnthropicClient) Model() string { return a.model }

// Send opens a streaming message request and normalizes the typed event
// stream into canonical events.
func (a *AnthropicClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages:  convertMessagesToAnthropic(req.Messages),
		Tools:     convertToolsToAnthropic(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		usage := &Usage{}
		stopReason := ""
		// Tool-use input arrives as input_json_delta fragments keyed by
		// block index; they are aggregated until the block stops.
		type pendingTool struct {
			id    string
			name  string
			input strings.Builder
		}
		pending := map[int64]*pendingTool{}

		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(e.Message.Usage.InputTokens)
				usage.CacheReadTokens = int(e.Message.Usage.CacheReadInputTokens)
				usage.CacheWriteTokens = int(e.Message.Usage.CacheCreationInputTokens)

			case anthropic.ContentBlockStartEvent:
				if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					pending[e.Index] = &pendingTool{id: tu.ID, name: tu.Name}
				}

			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- Event{Kind: EventTextDelta, Text: delta.Text}
				case anthropic.ThinkingDelta:
					out <- Event{Kind: EventReasoningDelta, Text: delta.Thinking}
				case anthropic.InputJSONDelta:
					if pt, ok := pending[e.Index]; ok {
						pt.input.WriteString(delta.PartialJSON)
					}
				}

			case anthropic.ContentBlockStopEvent:
				pt, ok := pending[e.Index]
				if !ok {
					continue
				}
				delete(pending, e.Index)
				out <- Event{Kind: EventToolCall, ToolCall: finishToolCall(pt.id, pt.name, pt.input.String(), req.PromptID)}

			case anthropic.MessageDeltaEvent:
				stopReason = string(e.Delta.StopReason)
				usage.OutputTokens = int(e.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			out <- Event{Kind: EventError, Err: classifyAnthropicError(err)}
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

// finishToolCall parses aggregated streamed arguments, repairing truncated
// JSON and falling back to the reserved __parseError payload.
func finishToolCall(id, name, rawArgs, promptID string) *ToolCall {
	if id == "" {
		id = NewCallID()
	}
	args, ok := RepairJSON(rawArgs)
	if !ok {
		args = parseErrorArguments(rawArgs)
	}
	return &ToolCall{CallID: id, Name: name, Arguments: args, PromptID: promptID}
}

func convertMessagesToAnthropic(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range msg.Parts {
			switch p.Kind {
			case session.PartText:
				if p.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: p.Text},
				})
			case session.PartToolCall:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    p.CallID,
						Name:  p.ToolName,
						Input: p.Arguments,
					},
				})
			case session.PartToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: p.CallID,
						IsError:   anthropic.Bool(p.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: p.Content},
						}},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == session.RoleModel {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func convertToolsToAnthropic(defs []ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := NormalizeSchema(d.Parameters)
		properties, _ := schema["properties"].(map[string]interface{})
		if properties == nil {
			properties = map[string]interface{}{}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
		}})
	}
	return out
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return errors.FromStatusCode("anthropic", apiErr.StatusCode, apiErr.Error(), nil)
	}
	return errors.Wrapf(err, "anthropic request failed")
}
