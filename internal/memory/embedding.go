package memory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// OpenAIEmbedding implements EmbeddingGenerator using the OpenAI embeddings API
type OpenAIEmbedding struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedding creates an embedding generator on an OpenAI client
func NewOpenAIEmbedding(client openai.Client, config *Config) *OpenAIEmbedding {
	if config == nil {
		config = DefaultConfig()
	}
	return &OpenAIEmbedding{
		client:     client,
		model:      config.EmbeddingModel,
		dimensions: config.EmbeddingDimensions,
	}
}

// Generate creates an embedding vector for text
func (e *OpenAIEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	return first(e.GenerateBatch(ctx, []string{text}))
}

// GenerateBatch creates embeddings for multiple texts
func (e *OpenAIEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(e.model, "text-embedding-3") && e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		result[d.Index] = vec
	}
	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// OllamaEmbedding implements EmbeddingGenerator using a local Ollama server
type OllamaEmbedding struct {
	client     *api.Client
	model      string
	dimensions int
}

// NewOllamaEmbedding creates an embedding generator on an Ollama client
func NewOllamaEmbedding(client *api.Client, config *Config) *OllamaEmbedding {
	if config == nil {
		config = DefaultConfig()
	}
	return &OllamaEmbedding{
		client:     client,
		model:      config.EmbeddingModel,
		dimensions: config.EmbeddingDimensions,
	}
}

// Generate creates an embedding vector for text
func (e *OllamaEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	return first(e.GenerateBatch(ctx, []string{text}))
}

// GenerateBatch creates embeddings for multiple texts
func (e *OllamaEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *OllamaEmbedding) Dimensions() int {
	return e.dimensions
}

// SimpleEmbedding is a fallback embedding generator using word hashing.
// Used for development and tests when no embedding service is reachable.
type SimpleEmbedding struct {
	dimensions int
}

// NewSimpleEmbedding creates a hash-based embedding generator
func NewSimpleEmbedding(dimensions int) *SimpleEmbedding {
	return &SimpleEmbedding{dimensions: dimensions}
}

// Generate creates a hash-based embedding
func (e *SimpleEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	embedding := make([]float32, e.dimensions)

	for i, word := range words {
		hash := simpleHash(word)
		// Earlier words weigh more
		weight := float32(1.0 / (1.0 + float64(i)/float64(len(words))))
		embedding[hash%uint32(e.dimensions)] += weight
		embedding[(hash/7)%uint32(e.dimensions)] += weight / 2
	}

	var magnitude float64
	for _, val := range embedding {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude > 0 {
		for i := range embedding {
			embedding[i] = float32(float64(embedding[i]) / magnitude)
		}
	}

	return embedding, nil
}

// GenerateBatch creates embeddings for multiple texts
func (e *SimpleEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *SimpleEmbedding) Dimensions() int {
	return e.dimensions
}

// simpleHash computes a simple hash for a string
func simpleHash(s string) uint32 {
	hash := uint32(0)
	for _, c := range s {
		hash = hash*31 + uint32(c)
	}
	return hash
}

func first(batch [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return batch[0], nil
}
