package stream

import (
	"strings"

	"github.com/kirikou/kirikou/internal/models"
)

// Event is the decoded form of one execution event. It is exactly one of
// ModelToken, ToolEvent or Other.
type Event interface {
	isEvent()
}

// ModelToken is a piece of answer text streamed by the chat model
type ModelToken struct {
	Text string
}

// ToolEvent is a start or end record of a registered tool run
type ToolEvent struct {
	Name    string
	Payload interface{}
}

// Other is any event the filter does not care about
type Other struct{}

func (ModelToken) isEvent() {}
func (ToolEvent) isEvent()  {}
func (Other) isEvent()      {}

// Decoder classifies execution events by path
type Decoder struct {
	modelPrefix string
	tools       []string
}

// NewDecoder creates a decoder for a model run name (e.g. "ChatOpenAI") and
// the registered tool names
func NewDecoder(modelName string, toolNames []string) *Decoder {
	return &Decoder{
		modelPrefix: "/logs/" + modelName,
		tools:       toolNames,
	}
}

// Decode classifies a single op
func (d *Decoder) Decode(op models.LogOp) Event {
	if op.Op == models.OpAdd && strings.HasPrefix(op.Path, d.modelPrefix) {
		if text, ok := op.Value.(string); ok && text != "" {
			return ModelToken{Text: text}
		}
	}

	for _, name := range d.tools {
		if underRun(op.Path, "/logs/"+name) {
			return ToolEvent{Name: name, Payload: op.Value}
		}
	}
	return Other{}
}

// underRun reports whether path is prefix itself, a child of it, or a
// numbered rerun such as prefix:2
func underRun(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == ':'
}
