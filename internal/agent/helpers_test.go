package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirikou/kirikou/internal/inference"
	"github.com/kirikou/kirikou/internal/models"
)

// scriptedTurn is one canned model response
type scriptedTurn struct {
	tokens    []string
	toolCalls []models.ToolCall
	err       error
}

// scriptedModel replays turns in order and records every request
type scriptedModel struct {
	name     string
	turns    []scriptedTurn
	mu       sync.Mutex
	requests []*inference.ChatRequest
}

func (m *scriptedModel) Name() string {
	if m.name == "" {
		return "ChatOpenAI"
	}
	return m.name
}

func (m *scriptedModel) StreamChat(ctx context.Context, req *inference.ChatRequest, onToken inference.TokenFunc) (*inference.ChatResult, error) {
	m.mu.Lock()
	idx := len(m.requests)
	snapshot := *req
	snapshot.Messages = append([]models.Message(nil), req.Messages...)
	m.requests = append(m.requests, &snapshot)
	m.mu.Unlock()

	if idx >= len(m.turns) {
		return nil, fmt.Errorf("unexpected model call %d", idx+1)
	}
	turn := m.turns[idx]
	if turn.err != nil {
		return nil, turn.err
	}

	result := &inference.ChatResult{ToolCalls: turn.toolCalls}
	for _, tok := range turn.tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return nil, err
			}
		}
		result.Content += tok
	}
	return result, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// staticRetriever returns fixed documents and records queries
type staticRetriever struct {
	docs    []*models.Document
	err     error
	mu      sync.Mutex
	queries []string
}

func (r *staticRetriever) Retrieve(ctx context.Context, query string) ([]*models.Document, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.docs, nil
}

func knustDocs() []*models.Document {
	return []*models.Document{
		{ID: "1", Content: "Admissions open in June.", Metadata: map[string]interface{}{"url": "https://idl.knust.edu.gh/admissions", "title": "Admissions"}},
		{ID: "2", Content: "Fees are payable per semester.\n\nSee the bursar.", Metadata: map[string]interface{}{"url": "https://idl.knust.edu.gh/fees", "title": "Fees"}},
	}
}

func searchCall(id, query string) models.ToolCall {
	return models.ToolCall{ID: id, Name: RetrieverToolName, Arguments: map[string]interface{}{"query": query}}
}

func collect(ch <-chan models.LogChunk) ([]models.LogOp, error) {
	var ops []models.LogOp
	var err error
	for chunk := range ch {
		if chunk.Err != nil {
			err = chunk.Err
			continue
		}
		ops = append(ops, chunk.Ops...)
	}
	return ops, err
}
