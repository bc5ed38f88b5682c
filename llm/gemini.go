package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/session"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient streams responses from the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client, model: modelName}, nil
}

func (g *GeminiClient) Name() string  { return "gemini" }
func (g *GeminiClient) Model() string { return g.model }

func (g *GeminiClient) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	model := g.client.GenerativeModel(g.model)
	model.Tools = convertToolsToGemini(req.Tools)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	history := convertMessagesToGemini(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("gemini request requires at least one message")
	}
	last := history[len(history)-1]

	chat := model.StartChat()
	chat.History = history[:len(history)-1]
	iter := chat.SendMessageStream(ctx, last.Parts...)

	out := make(chan Event, 16)
	go func() {
		defer close(out)

		usage := &Usage{}
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					out <- Event{Kind: EventError, Err: classifyGeminiError(err)}
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				usage.CacheReadTokens = int(resp.UsageMetadata.CachedContentTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					if v != "" {
						out <- Event{Kind: EventTextDelta, Text: string(v)}
					}
				case genai.FunctionCall:
					args, err := json.Marshal(v.Args)
					if err != nil {
						args = parseErrorArguments(err.Error())
					}
					out <- Event{Kind: EventToolCall, ToolCall: &ToolCall{
						// Gemini carries no call IDs on the wire; mint one
						// and key the result back by function name.
						CallID:    NewCallID(),
						Name:      v.Name,
						Arguments: args,
						PromptID:  req.PromptID,
					}}
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		out <- Event{Kind: EventUsage, Usage: usage}
		out <- Event{Kind: EventFinished, StopReason: "stop"}
	}()
	return out, nil
}

func convertMessagesToGemini(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleModel {
			role = "model"
		}
		var parts []genai.Part
		for _, p := range msg.Parts {
			switch p.Kind {
			case session.PartText:
				if p.Text != "" {
					parts = append(parts, genai.Text(p.Text))
				}
			case session.PartToolCall:
				var args map[string]interface{}
				_ = json.Unmarshal(p.Arguments, &args)
				parts = append(parts, genai.FunctionCall{Name: p.ToolName, Args: args})
			case session.PartToolResult:
				parts = append(parts, genai.FunctionResponse{
					Name:     p.ToolName,
					Response: map[string]interface{}{"output": p.Content, "is_error": p.IsError},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func convertToolsToGemini(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schemaToGemini(NormalizeSchema(d.Parameters)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// schemaToGemini converts a JSON-schema parameter map into the typed schema
// Gemini's tool declarations require.
func schemaToGemini(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{Type: geminiType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = map[string]*genai.Schema{}
		for name, sub := range props {
			if subSchema, ok := sub.(map[string]interface{}); ok {
				out.Properties[name] = schemaToGemini(subSchema)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = schemaToGemini(items)
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if val, ok := e.(string); ok {
				out.Enum = append(out.Enum, val)
			}
		}
	}
	return out
}

func geminiType(t interface{}) genai.Type {
	name, _ := t.(string)
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errors.FromStatusCode("gemini", gerr.Code, gerr.Message, nil)
	}
	return errors.Wrapf(err, "gemini request failed")
}
