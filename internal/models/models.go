package models

import "time"

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set on assistant messages that request tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool result messages
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolInvocation is one intermediate step of an agent run
type ToolInvocation struct {
	Tool        string                 `json:"tool"`
	Input       map[string]interface{} `json:"tool_input"`
	CallID      string                 `json:"call_id,omitempty"`
	Observation string                 `json:"observation"`
}

// Document is a retrievable passage stored in the vector index
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Embedding []float32              `json:"-"`
	Metadata  map[string]interface{} `json:"metadata"`
	Score     float64                `json:"score"`
	Timestamp time.Time              `json:"timestamp"`
}

// URL returns the document's source locator, if any
func (d *Document) URL() string {
	if d.Metadata == nil {
		return ""
	}
	if u, ok := d.Metadata["url"].(string); ok {
		return u
	}
	return ""
}

// Title returns the document's title, if any
func (d *Document) Title() string {
	if d.Metadata == nil {
		return ""
	}
	if t, ok := d.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// LogOp kinds
const (
	OpAdd     = "add"
	OpReplace = "replace"
)

// LogOp is a single patch operation in an agent run log
type LogOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// LogChunk is one batch of execution events. A chunk with Err set is terminal.
type LogChunk struct {
	Ops []LogOp
	Err error
}

// Outcome is the result of a completed agent run
type Outcome struct {
	Output            string           `json:"output"`
	IntermediateSteps []ToolInvocation `json:"intermediate_steps,omitempty"`
	Duration          time.Duration    `json:"-"`
}
