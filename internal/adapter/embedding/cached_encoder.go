package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"ziwei-chat/internal/domain"
)

// CachedEncoder memoizes query embeddings with an LRU cache. Users repeat
// questions (and retries re-embed the same text), so avoiding a round trip
// to the embedding service is cheap latency to recover. Cached vectors are
// shared slices; callers must not mutate them.
type CachedEncoder struct {
	inner domain.VectorEncoder
	cache *lru.Cache[string, []float32]
}

func NewCachedEncoder(inner domain.VectorEncoder, size int) (*CachedEncoder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEncoder{inner: inner, cache: cache}, nil
}

func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	encoded, err := c.inner.Encode(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(encoded) != len(misses) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(misses), len(encoded))
	}
	for i, vec := range encoded {
		c.cache.Add(misses[i], vec)
		out[missIdx[i]] = vec
	}
	return out, nil
}

func (c *CachedEncoder) Version() string {
	return c.inner.Version()
}

var _ domain.VectorEncoder = (*CachedEncoder)(nil)
