package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, inner EmbeddingGenerator) *CachedEmbedding {
	t.Helper()
	db, err := OpenBadger("")
	require.NoError(t, err)
	cache := NewCachedEmbedding(inner, db, "test-model")
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCachedEmbeddingHitsOnRepeat(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedding{inner: NewSimpleEmbedding(16)}
	cache := newTestCache(t, inner)

	first, err := cache.Generate(ctx, "When do admissions close?")
	require.NoError(t, err)
	second, err := cache.Generate(ctx, "When do admissions close?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Texts())

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbeddingBatchOnlyEmbedsMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedding{inner: NewSimpleEmbedding(16)}
	cache := newTestCache(t, inner)

	_, err := cache.GenerateBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	out, err := cache.GenerateBatch(ctx, []string{"b", "c", "a"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 3, inner.Texts())

	direct, err := NewSimpleEmbedding(16).Generate(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, direct, out[1])
}

func TestCachedEmbeddingDoesNotStoreFailures(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedding{inner: NewSimpleEmbedding(16), fail: assert.AnError}
	cache := newTestCache(t, inner)

	_, err := cache.Generate(ctx, "x")
	assert.ErrorIs(t, err, assert.AnError)

	inner.mu.Lock()
	inner.fail = nil
	inner.mu.Unlock()

	_, err = cache.Generate(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Texts())
	assert.Equal(t, 16, cache.Dimensions())
}
