package memory

import (
	"context"
	"fmt"

	"github.com/kirikou/kirikou/internal/models"
)

// MMRRetriever fetches FetchK nearest neighbours and re-ranks them down to K
// with maximal marginal relevance
type MMRRetriever struct {
	store    VectorStore
	embedder EmbeddingGenerator
	k        int
	fetchK   int
	lambda   float64
}

// NewMMRRetriever creates a retriever over store using embedder for queries
func NewMMRRetriever(store VectorStore, embedder EmbeddingGenerator, config *Config) *MMRRetriever {
	if config == nil {
		config = DefaultConfig()
	}
	fetchK := config.FetchK
	if fetchK < config.K {
		fetchK = config.K
	}
	return &MMRRetriever{
		store:    store,
		embedder: embedder,
		k:        config.K,
		fetchK:   fetchK,
		lambda:   config.Lambda,
	}
}

// Retrieve returns up to K diverse, relevant passages for query
func (r *MMRRetriever) Retrieve(ctx context.Context, query string) ([]*models.Document, error) {
	queryEmbedding, err := r.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := r.store.SimilaritySearch(ctx, queryEmbedding, r.fetchK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Embedding
	}

	selected := MaximalMarginalRelevance(queryEmbedding, vectors, r.lambda, r.k)
	docs := make([]*models.Document, 0, len(selected))
	for _, idx := range selected {
		docs = append(docs, candidates[idx])
	}
	return docs, nil
}
