package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kirikou/kirikou/internal/models"
)

// inMemoryStore is a brute-force VectorStore for tests
type inMemoryStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{docs: map[string]*models.Document{}}
}

func (s *inMemoryStore) AddDocuments(ctx context.Context, docs []*models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return nil
}

func (s *inMemoryStore) SimilaritySearch(ctx context.Context, embedding []float32, k int) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		c := *d
		c.Score = cosineSimilarity(embedding, d.Embedding)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *inMemoryStore) DeleteByURL(ctx context.Context, url string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.docs {
		if d.URL() == url {
			delete(s.docs, id)
			n++
		}
	}
	return n, nil
}

func (s *inMemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.docs)), nil
}

func (s *inMemoryStore) Close() error { return nil }

// countingEmbedding records how many texts reach the wrapped generator
type countingEmbedding struct {
	inner EmbeddingGenerator
	mu    sync.Mutex
	calls int
	texts int
	fail  error
}

func (c *countingEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	return first(c.GenerateBatch(ctx, []string{text}))
}

func (c *countingEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return c.inner.GenerateBatch(ctx, texts)
}

func (c *countingEmbedding) Dimensions() int { return c.inner.Dimensions() }

func (c *countingEmbedding) Texts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts
}

func seedDocuments(ctx context.Context, store VectorStore, embedder EmbeddingGenerator, n int) error {
	docs := make([]*models.Document, n)
	for i := range docs {
		content := fmt.Sprintf("passage %d about distance learning programme %d", i, i%4)
		emb, err := embedder.Generate(ctx, content)
		if err != nil {
			return err
		}
		docs[i] = &models.Document{
			ID:        fmt.Sprintf("doc-%02d", i),
			Content:   content,
			Embedding: emb,
			Metadata:  map[string]interface{}{"url": fmt.Sprintf("https://idl.knust.edu.gh/page/%d", i)},
		}
	}
	return store.AddDocuments(ctx, docs)
}
