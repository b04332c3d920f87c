package service

import (
	"context"
	"strings"
)

// VectorCache caches query → vector mappings. Implemented by
// cache.EmbeddingCache.
type VectorCache interface {
	Get(query string) ([]float32, bool)
	Set(query string, vec []float32)
}

// CachedEmbedder wraps a QueryEmbedder with a TTL vector cache so
// repeated queries do not spend provider quota.
type CachedEmbedder struct {
	embedder QueryEmbedder
	cache    VectorCache
}

// NewCachedEmbedder creates a CachedEmbedder. A nil cache disables caching.
func NewCachedEmbedder(embedder QueryEmbedder, cache VectorCache) *CachedEmbedder {
	return &CachedEmbedder{embedder: embedder, cache: cache}
}

// Compile-time check.
var _ QueryEmbedder = (*CachedEmbedder)(nil)

// Embed returns the cached vector for text when available, calling the
// underlying embedder otherwise.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if e.cache != nil {
		if vec, ok := e.cache.Get(key); ok {
			return vec, nil
		}
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(key, vec)
	}
	return vec, nil
}
