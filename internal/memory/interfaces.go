package memory

import (
	"context"
	"time"

	"github.com/kirikou/kirikou/internal/models"
)

// VectorStore holds knowledge passages with their embeddings (Redis)
type VectorStore interface {
	// AddDocuments stores documents with precomputed embeddings
	AddDocuments(ctx context.Context, docs []*models.Document) error

	// SimilaritySearch returns the k nearest documents, embeddings included
	SimilaritySearch(ctx context.Context, embedding []float32, k int) ([]*models.Document, error)

	// DeleteByURL removes every chunk that was ingested from url
	DeleteByURL(ctx context.Context, url string) (int64, error)

	// Count returns the number of stored documents
	Count(ctx context.Context) (int64, error)

	// Close closes the store connection
	Close() error
}

// Retriever turns a text query into relevant passages
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]*models.Document, error)
}

// EmbeddingGenerator creates vector embeddings for text
type EmbeddingGenerator interface {
	// Generate creates an embedding vector for text
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch creates embeddings for multiple texts
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality
	Dimensions() int
}

// Manifest tracks which sources have been ingested (SQLite)
type Manifest interface {
	// Lookup returns the stored record for url, or nil
	Lookup(ctx context.Context, url string) (*ManifestEntry, error)

	// Record upserts the record for an ingested source
	Record(ctx context.Context, entry *ManifestEntry) error

	// List returns all records, newest first
	List(ctx context.Context, limit int) ([]*ManifestEntry, error)

	Close() error
}

// ManifestEntry describes one ingested source document
type ManifestEntry struct {
	URL         string
	Title       string
	ContentHash string
	Chunks      int
	IngestedAt  time.Time
}

// Config holds retrieval and storage configuration
type Config struct {
	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	IndexName     string
	KeyPrefix     string

	// BadgerDB embedding cache, empty disables it
	CachePath string

	// SQLite ingestion manifest
	ManifestPath string

	// Embedding configuration
	EmbeddingProvider   string // "openai", "ollama" or "simple"
	EmbeddingModel      string
	EmbeddingDimensions int

	// Maximal marginal relevance
	K      int
	FetchK int
	Lambda float64

	// Ingestion
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
}

// DefaultConfig returns default retrieval configuration
func DefaultConfig() *Config {
	return &Config{
		RedisURL:            "localhost:6379",
		RedisDB:             0,
		IndexName:           "kirikou:docs:idx",
		KeyPrefix:           "kirikou:doc:",
		CachePath:           "~/.kirikou/embeddings",
		ManifestPath:        "~/.kirikou/manifest.db",
		EmbeddingProvider:   "openai",
		EmbeddingModel:      "text-embedding-ada-002",
		EmbeddingDimensions: 1536,
		K:                   6,
		FetchK:              20,
		Lambda:              0.5,
		ChunkSize:           1000,
		ChunkOverlap:        200,
		BatchSize:           32,
		Workers:             4,
	}
}
