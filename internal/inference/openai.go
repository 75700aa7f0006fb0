package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/kirikou/kirikou/internal/models"
)

// OpenAIClient implements ChatModel on the OpenAI chat completions API
type OpenAIClient struct {
	client openai.Client
	config *Config
}

// NewOpenAIClient creates an OpenAI chat client. Retries are disabled so a
// failed request surfaces immediately.
func NewOpenAIClient(config *Config, opts ...option.RequestOption) *OpenAIClient {
	if config == nil {
		config = DefaultConfig()
	}

	base := []option.RequestOption{
		option.WithAPIKey(config.OpenAIKey),
		option.WithMaxRetries(0),
	}
	if config.OpenAIURL != "" {
		base = append(base, option.WithBaseURL(config.OpenAIURL))
	}
	if config.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(config.Timeout))
	}

	return &OpenAIClient{
		client: openai.NewClient(append(base, opts...)...),
		config: config,
	}
}

// Client exposes the underlying SDK client so embeddings can share it
func (c *OpenAIClient) Client() openai.Client {
	return c.client
}

// Name returns the run name
func (c *OpenAIClient) Name() string {
	return "ChatOpenAI"
}

// StreamChat streams one completion, forwarding content deltas to onToken
func (c *OpenAIClient) StreamChat(ctx context.Context, req *ChatRequest, onToken TokenFunc) (*ChatResult, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    toOpenAIMessages(req.Messages),
		Model:       openai.ChatModel(c.config.Model),
		Temperature: openai.Float(c.config.Temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" && onToken != nil {
			if err := onToken(chunk.Choices[0].Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("OpenAI streaming error: %w", err)
	}

	result := &ChatResult{}
	if len(acc.Choices) == 0 {
		return result, nil
	}

	msg := acc.Choices[0].Message
	result.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse arguments for %s: %w", tc.Function.Name, err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case models.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: mustJSON(tc.Arguments),
						},
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case models.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  openai.FunctionParameters(tool.Parameters),
		})
	}
	return result
}

// mustJSON marshals tool arguments, returning an empty object on failure
func mustJSON(v map[string]interface{}) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
