package embedding

import (
	"context"

	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

// CachedEmbedder wraps an Embedder with content-hash caching via SQLite.
// Cache write failures are non-fatal; the vector is still returned.
type CachedEmbedder struct {
	inner Embedder
	cache *store.EmbeddingCacheStore
	model string
	dim   int
}

func NewCachedEmbedder(inner Embedder, cache *store.EmbeddingCacheStore, model string, dim int) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		model: model,
		dim:   dim,
	}
}

// Embed returns the embedding for text, using the cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	cached, err := e.cache.Get(hash, e.model)
	if err == nil && cached != nil {
		return search.BytesToFloat32(cached), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = e.cache.Put(hash, search.Float32ToBytes(vec), len(vec), e.model)
	return vec, nil
}

// EmbedBatch embeds texts, serving cache hits locally and batching only the
// misses. Output order matches input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		cached, err := e.cache.Get(ContentHash(text), e.model)
		if err == nil && cached != nil {
			vectors[i] = search.BytesToFloat32(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		fresh, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range fresh {
			i := missIdx[j]
			vectors[i] = vec
			_ = e.cache.Put(ContentHash(texts[i]), search.Float32ToBytes(vec), len(vec), e.model)
		}
	}
	return vectors, nil
}

// Health delegates to the wrapped embedder.
func (e *CachedEmbedder) Health(ctx context.Context) HealthStatus {
	return e.inner.Health(ctx)
}
