package conversation

import (
	"errors"

	"github.com/kirikou/kirikou/internal/models"
)

// ErrEmptyConversation is returned when no user or assistant message remains to answer
var ErrEmptyConversation = errors.New("conversation has no user or assistant messages")

// Conversation splits a chat into prior turns and the turn being answered
type Conversation struct {
	History []models.Message
	Input   string
}

// Normalize keeps only user and assistant messages, in order, and separates the
// last one as the current input. Other roles are display annotations and never
// reach the model.
func Normalize(raw []models.Message) (*Conversation, error) {
	filtered := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant:
			filtered = append(filtered, models.Message{Role: m.Role, Content: m.Content})
		}
	}

	if len(filtered) == 0 {
		return nil, ErrEmptyConversation
	}

	last := len(filtered) - 1
	return &Conversation{
		History: filtered[:last:last],
		Input:   filtered[last].Content,
	}, nil
}
