package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/kirikou/kirikou/internal/models"
)

// OllamaClient implements ChatModel on a local Ollama server
type OllamaClient struct {
	client *api.Client
	config *Config
}

// NewOllamaClient creates an Ollama chat client
func NewOllamaClient(config *Config) (*OllamaClient, error) {
	if config == nil {
		config = DefaultConfig()
	}

	baseURL := config.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaClient{
		client: api.NewClient(parsed, &http.Client{Timeout: config.Timeout}),
		config: config,
	}, nil
}

// API exposes the underlying client so embeddings can share it
func (c *OllamaClient) API() *api.Client {
	return c.client
}

// Name returns the run name
func (c *OllamaClient) Name() string {
	return "ChatOllama"
}

// StreamChat streams one chat turn, forwarding content to onToken
func (c *OllamaClient) StreamChat(ctx context.Context, req *ChatRequest, onToken TokenFunc) (*ChatResult, error) {
	stream := true
	chatReq := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.config.Temperature,
			"num_ctx":     c.config.ContextSize,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOllamaTools(req.Tools)
	}

	var content strings.Builder
	result := &ChatResult{}
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			if onToken != nil {
				if err := onToken(resp.Message.Content); err != nil {
					return err
				}
			}
		}
		for _, tc := range resp.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				// Ollama has no call IDs; synthesise stable ones for the scratchpad
				ID:        fmt.Sprintf("call_%d", len(result.ToolCalls)),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama chat error: %w", err)
	}

	result.Content = content.String()
	return result, nil
}

func toOllamaMessages(messages []models.Message) []api.Message {
	result := make([]api.Message, 0, len(messages))
	toolNames := map[string]string{} // call ID -> tool name
	for _, msg := range messages {
		m := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleTool {
			m.ToolName = toolNames[msg.ToolCallID]
		}
		for _, tc := range msg.ToolCalls {
			toolNames[tc.ID] = tc.Name
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, m)
	}
	return result
}

func toOllamaTools(tools []ToolSpec) []api.Tool {
	result := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		fn := api.ToolFunction{
			Name:        tool.Name,
			Description: tool.Description,
		}
		fn.Parameters.Type = "object"
		if t, ok := tool.Parameters["type"].(string); ok {
			fn.Parameters.Type = t
		}
		fn.Parameters.Required = stringSlice(tool.Parameters["required"])
		fn.Parameters.Properties = map[string]api.ToolProperty{}

		props, _ := tool.Parameters["properties"].(map[string]interface{})
		for name, raw := range props {
			schema, _ := raw.(map[string]interface{})
			prop := api.ToolProperty{Type: api.PropertyType{"string"}}
			if t, ok := schema["type"].(string); ok {
				prop.Type = api.PropertyType{t}
			}
			if d, ok := schema["description"].(string); ok {
				prop.Description = d
			}
			fn.Parameters.Properties[name] = prop
		}

		result = append(result, api.Tool{Type: "function", Function: fn})
	}
	return result
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
