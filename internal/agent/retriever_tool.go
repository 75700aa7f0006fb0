package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kirikou/kirikou/internal/memory"
)

const (
	RetrieverToolName        = "search_latest_knowledge"
	RetrieverToolDescription = "Searches and returns up-to-date general information."
)

// RetrieverTool exposes a retriever to the agent as a callable function
type RetrieverTool struct {
	retriever memory.Retriever
}

// NewRetrieverTool wraps retriever as the search_latest_knowledge tool
func NewRetrieverTool(retriever memory.Retriever) *RetrieverTool {
	return &RetrieverTool{retriever: retriever}
}

func (t *RetrieverTool) Name() string        { return RetrieverToolName }
func (t *RetrieverTool) Description() string { return RetrieverToolDescription }

func (t *RetrieverTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "query to look up in retriever",
			},
		},
		"required": []string{"query"},
	}
}

type retrieverArgs struct {
	Query string `json:"query"`
}

// passage is the observation shape of one retrieved document
type passage struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Execute retrieves passages for args["query"] and renders them as compact
// JSON objects separated by blank lines
func (t *RetrieverTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	var parsed retrieverArgs
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &parsed,
	})
	if err != nil {
		return "", err
	}
	if err := decoder.Decode(args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", RetrieverToolName, err)
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return "", fmt.Errorf("invalid arguments for %s: query is required", RetrieverToolName)
	}

	docs, err := t.retriever.Retrieve(ctx, parsed.Query)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		data, err := json.Marshal(passage{Title: doc.Title(), URL: doc.URL(), Content: doc.Content})
		if err != nil {
			return "", fmt.Errorf("failed to render document %s: %w", doc.ID, err)
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n\n"), nil
}
