package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/kirikou/kirikou/internal/models"
)

// RedisVectorStore implements VectorStore using RediSearch vector indexing
type RedisVectorStore struct {
	client    redis.UniversalClient
	indexName string
	prefix    string
}

// NewRedisClient opens a Redis connection from config. RedisURL may be a
// host:port address or a redis:// URL.
func NewRedisClient(config *Config) (*redis.Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var opts *redis.Options
	if strings.HasPrefix(config.RedisURL, "redis://") || strings.HasPrefix(config.RedisURL, "rediss://") {
		parsed, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     config.RedisURL,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		}
	}
	// Admission and retrieval must fail fast rather than retry.
	opts.MaxRetries = -1

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisVectorStore creates a vector store on an existing client and ensures the index exists
func NewRedisVectorStore(ctx context.Context, client redis.UniversalClient, config *Config) (*RedisVectorStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	store := &RedisVectorStore{
		client:    client,
		indexName: config.IndexName,
		prefix:    config.KeyPrefix,
	}

	if err := store.createIndex(ctx, config.EmbeddingDimensions); err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	return store, nil
}

// createIndex creates the RediSearch index if it does not exist
func (s *RedisVectorStore) createIndex(ctx context.Context, dimensions int) error {
	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		return nil
	}

	// FT.CREATE index ON HASH PREFIX 1 <prefix> SCHEMA
	//   content TEXT  title TEXT  url TAG
	//   embedding VECTOR FLAT 6 DIM <dimensions> DISTANCE_METRIC COSINE TYPE FLOAT32
	args := []interface{}{
		"FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.prefix,
		"SCHEMA",
		"content", "TEXT",
		"title", "TEXT",
		"url", "TAG",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", dimensions,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
		"timestamp", "NUMERIC", "SORTABLE",
	}

	if err := s.client.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// AddDocuments stores documents as Redis hashes
func (s *RedisVectorStore) AddDocuments(ctx context.Context, docs []*models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.Timestamp.IsZero() {
			doc.Timestamp = time.Now()
		}

		embeddingBytes, err := serializeEmbedding(doc.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding for %s: %w", doc.ID, err)
		}

		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		pipe.HSet(ctx, s.prefix+doc.ID, map[string]interface{}{
			"content":   doc.Content,
			"title":     doc.Title(),
			"url":       doc.URL(),
			"embedding": embeddingBytes,
			"timestamp": doc.Timestamp.Unix(),
			"metadata":  metadataJSON,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

// SimilaritySearch performs a KNN query and returns documents with their embeddings
func (s *RedisVectorStore) SimilaritySearch(ctx context.Context, embedding []float32, k int) ([]*models.Document, error) {
	embeddingBytes, err := serializeEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	// FT.SEARCH index "*=>[KNN k @embedding $query_vec AS vector_score]" PARAMS 2 query_vec <bytes> DIALECT 2
	args := []interface{}{
		"FT.SEARCH", s.indexName,
		fmt.Sprintf("*=>[KNN %d @embedding $query_vec AS vector_score]", k),
		"PARAMS", "2", "query_vec", embeddingBytes,
		"SORTBY", "vector_score",
		"RETURN", "6", "content", "title", "url", "metadata", "embedding", "vector_score",
		"LIMIT", "0", k,
		"DIALECT", "2",
	}

	result, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	docs, err := parseSearchResults(result, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return docs, nil
}

// DeleteByURL removes all chunks ingested from url
func (s *RedisVectorStore) DeleteByURL(ctx context.Context, url string) (int64, error) {
	result, err := s.client.Do(ctx,
		"FT.SEARCH", s.indexName,
		fmt.Sprintf("@url:{%s}", escapeTag(url)),
		"NOCONTENT",
		"LIMIT", "0", "10000",
		"DIALECT", "2",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find chunks for %s: %w", url, err)
	}

	rows, ok := result.([]interface{})
	if !ok || len(rows) < 2 {
		return 0, nil
	}
	keys := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		keys = append(keys, fmt.Sprint(row))
	}

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", url, err)
	}
	return n, nil
}

// Count returns the number of stored documents
func (s *RedisVectorStore) Count(ctx context.Context) (int64, error) {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	count := int64(0)
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the Redis connection
func (s *RedisVectorStore) Close() error {
	return s.client.Close()
}

// parseSearchResults parses an FT.SEARCH reply into documents.
// RESP2 layout: [total, key1, [field, value, ...], key2, [...], ...]
func parseSearchResults(result interface{}, prefix string) ([]*models.Document, error) {
	rows, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", result)
	}
	if len(rows) < 2 {
		return []*models.Document{}, nil
	}

	docs := make([]*models.Document, 0, (len(rows)-1)/2)
	for i := 1; i+1 < len(rows); i += 2 {
		key := fmt.Sprint(rows[i])
		fields, ok := rows[i+1].([]interface{})
		if !ok {
			continue
		}

		doc := &models.Document{
			ID:       strings.TrimPrefix(key, prefix),
			Metadata: map[string]interface{}{},
		}
		for j := 0; j+1 < len(fields); j += 2 {
			field := fmt.Sprint(fields[j])
			value := fmt.Sprint(fields[j+1])

			switch field {
			case "content":
				doc.Content = value
			case "title":
				if value != "" {
					doc.Metadata["title"] = value
				}
			case "url":
				if value != "" {
					doc.Metadata["url"] = value
				}
			case "metadata":
				var extra map[string]interface{}
				if err := json.Unmarshal([]byte(value), &extra); err == nil {
					for k, v := range extra {
						if _, exists := doc.Metadata[k]; !exists {
							doc.Metadata[k] = v
						}
					}
				}
			case "embedding":
				emb, err := deserializeEmbedding([]byte(value))
				if err != nil {
					return nil, fmt.Errorf("document %s: %w", key, err)
				}
				doc.Embedding = emb
			case "vector_score":
				// cosine distance, convert to similarity
				if d, err := strconv.ParseFloat(value, 64); err == nil {
					doc.Score = 1 - d
				}
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// serializeEmbedding converts a float32 slice to little-endian bytes for Redis
func serializeEmbedding(embedding []float32) ([]byte, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}

	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf, nil
}

// deserializeEmbedding reverses serializeEmbedding
func deserializeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// escapeTag escapes punctuation for a RediSearch TAG query
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}
