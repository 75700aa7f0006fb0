package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/kirikou/kirikou/internal/models"
)

// Config holds the chat model configuration
type Config struct {
	Provider    string  // "openai" or "ollama"
	Model       string  // Default: gpt-3.5-turbo-1106
	Temperature float64 // Default: 0.2
	OpenAIKey   string
	OpenAIURL   string // Default: https://api.openai.com/v1
	OllamaURL   string // Default: http://localhost:11434
	ContextSize int    // Ollama num_ctx
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:    "openai",
		Model:       "gpt-3.5-turbo-1106",
		Temperature: 0.2,
		OpenAIURL:   "https://api.openai.com/v1",
		OllamaURL:   "http://localhost:11434",
		ContextSize: 8192,
		Timeout:     2 * time.Minute,
	}
}

// ToolSpec describes a function the model may call
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema object
}

// ChatRequest is a single model turn
type ChatRequest struct {
	Messages []models.Message
	Tools    []ToolSpec
}

// ChatResult is the assembled response of one model turn
type ChatResult struct {
	Content   string
	ToolCalls []models.ToolCall
}

// TokenFunc receives content tokens as they stream in. Returning an error aborts the call.
type TokenFunc func(token string) error

// ChatModel is a streaming chat completion client with function calling
type ChatModel interface {
	// Name is the run name used in execution event paths, e.g. "ChatOpenAI"
	Name() string
	StreamChat(ctx context.Context, req *ChatRequest, onToken TokenFunc) (*ChatResult, error)
}

// NewChatModel creates the client for config.Provider
func NewChatModel(config *Config) (ChatModel, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case "", "openai":
		if config.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		return NewOpenAIClient(config), nil
	case "ollama":
		return NewOllamaClient(config)
	default:
		return nil, fmt.Errorf("unknown model provider: %s", config.Provider)
	}
}
