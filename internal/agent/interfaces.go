package agent

import (
	"context"
)

// Tool is a capability the agent may invoke while answering
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Config holds agent executor configuration
type Config struct {
	MaxIterations int
	SystemPrompt  string
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 15,
		SystemPrompt:  SystemTemplate,
	}
}
