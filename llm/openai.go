package llm

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/session"
)

// OpenAIClient streams chat completions from the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY
// environment variable and honors OPENAI_BASE_URL for custom endpoints.
func NewOpenAIClient(modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: modelName}, nil
}

func (o *OpenAIClient) Name() string  { return "openai" }
func (o *OpenAIClient) Model() string { return o.model }

func (o *OpenAIClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenAI(req.System, req.Messages),
		Tools:    convertToolsToOpenAI(req.Tools),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		agg := newToolCallAggregator()
		usage := &Usage{}
		stopReason := ""

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
				usage.CacheReadTokens = int(chunk.Usage.PromptTokensDetails.CachedTokens)
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- Event{Kind: EventTextDelta, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					agg.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					stopReason = choice.FinishReason
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			out <- Event{Kind: EventError, Err: classifyOpenAIError(err)}
			return
		}
		if ctx.Err() != nil {
			return
		}
		for _, call := range agg.finish(req.PromptID) {
			out <- Event{Kind: EventToolCall, ToolCall: call}
		}
		out <- Event{Kind: EventUsage, Usage: usage}
		out <- Event{Kind: EventFinished, StopReason: stopReason}
	}()
	return out, nil
}

// toolCallAggregator assembles streamed tool-call fragments. Fragments for
// one call share an index; the arguments accumulate across frames and are
// parsed as one JSON blob when the stream ends.
type toolCallAggregator struct {
	order   []int64
	pending map[int64]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAggregator() *toolCallAggregator {
	return &toolCallAggregator{pending: map[int64]*pendingCall{}}
}

func (a *toolCallAggregator) add(index int64, id, name, argsFragment string) {
	pc, ok := a.pending[index]
	if !ok {
		pc = &pendingCall{}
		a.pending[index] = pc
		a.order = append(a.order, index)
	}
	if id != "" {
		pc.id = id
	}
	if name != "" {
		pc.name = name
	}
	pc.args.WriteString(argsFragment)
}

func (a *toolCallAggregator) finish(promptID string) []*ToolCall {
	sort.Slice(a.order, func(i, j int) bool { return a.order[i] < a.order[j] })
	var calls []*ToolCall
	for _, idx := range a.order {
		pc := a.pending[idx]
		if pc.name == "" {
			continue
		}
		calls = append(calls, finishToolCall(pc.id, pc.name, pc.args.String(), promptID))
	}
	return calls
}

func convertMessagesToOpenAI(system string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleModel:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, p := range msg.ToolCalls() {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   p.CallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      p.ToolName,
						Arguments: string(p.Arguments),
					},
				})
			}
			out = append(out, assistant.ToParam())
		default:
			// Tool results become "tool" role messages keyed by call ID;
			// plain user text becomes a user message.
			emittedResult := false
			for _, p := range msg.Parts {
				if p.Kind == session.PartToolResult {
					out = append(out, openai.ToolMessage(p.Content, p.CallID))
					emittedResult = true
				}
			}
			if text := msg.Text(); text != "" || !emittedResult {
				out = append(out, openai.UserMessage(text))
			}
		}
	}
	return out
}

func convertToolsToOpenAI(defs []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, d := range defs {
		params := openai.FunctionParameters(NormalizeSchema(d.Parameters))
		if params == nil {
			params = openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		}))
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errors.FromStatusCode("openai", apiErr.StatusCode, apiErr.Error(), nil)
	}
	return errors.Wrapf(err, "openai request failed")
}
