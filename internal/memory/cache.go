package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// CachedEmbedding wraps an EmbeddingGenerator with a BadgerDB cache keyed by
// model and text, so repeated queries and re-ingestion skip the embedding API
type CachedEmbedding struct {
	inner  EmbeddingGenerator
	db     *badger.DB
	model  string
	hits   atomic.Int64
	misses atomic.Int64
}

// OpenBadger opens a BadgerDB at path. An empty path opens an in-memory database.
func OpenBadger(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(expandPath(path))
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return db, nil
}

// NewCachedEmbedding creates a caching embedding generator
func NewCachedEmbedding(inner EmbeddingGenerator, db *badger.DB, model string) *CachedEmbedding {
	return &CachedEmbedding{inner: inner, db: db, model: model}
}

// Generate returns the cached embedding for text or computes and stores it
func (c *CachedEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	return first(c.GenerateBatch(ctx, []string{text}))
}

// GenerateBatch resolves cached entries and embeds only the misses
func (c *CachedEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			item, err := txn.Get(c.key(text))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx = append(missIdx, i)
				missTexts = append(missTexts, text)
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				emb, err := deserializeEmbedding(val)
				if err != nil {
					return err
				}
				result[i] = emb
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	c.hits.Add(int64(len(texts) - len(missTexts)))
	c.misses.Add(int64(len(missTexts)))
	if len(missTexts) == 0 {
		return result, nil
	}

	fresh, err := c.inner.GenerateBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for j, emb := range fresh {
			data, err := serializeEmbedding(emb)
			if err != nil {
				return err
			}
			if err := txn.Set(c.key(missTexts[j]), data); err != nil {
				return err
			}
			result[missIdx[j]] = emb
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write embedding cache: %w", err)
	}

	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (c *CachedEmbedding) Dimensions() int {
	return c.inner.Dimensions()
}

// Stats returns cache hit and miss counts
func (c *CachedEmbedding) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the underlying BadgerDB instance
func (c *CachedEmbedding) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedding) key(text string) []byte {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return []byte("embedding:" + hex.EncodeToString(sum[:]))
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
