package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/store"
)

// DefaultMinScore is the cosine similarity floor below which vector results
// are excluded.
const DefaultMinScore = 0.3

// Embedder is the slice of the embedding adapter the vector searcher needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity computes the cosine similarity between two float32
// vectors, bounded in [-1, 1]. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Float32ToBytes converts a float32 slice to a byte slice (little-endian).
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesToFloat32 converts a byte slice (little-endian) back to a float32
// slice. Returns nil for malformed input.
func BytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// VectorResult is one hit from the vector scan.
type VectorResult struct {
	Memory     *models.Memory
	Similarity float64
}

// VectorSearcher does a brute-force cosine scan over all active memories
// carrying an embedding.
type VectorSearcher struct {
	memories *store.MemoryStore
	embedder Embedder
}

func NewVectorSearcher(memories *store.MemoryStore, embedder Embedder) *VectorSearcher {
	return &VectorSearcher{memories: memories, embedder: embedder}
}

// Search scans stored embeddings with cosine similarity, keeping results
// scoring at least minScore (pass a negative minScore for the default),
// sorted descending and truncated to limit. Memories whose embedding
// dimension doesn't match the query vector are skipped, not errors.
func (v *VectorSearcher) Search(queryVec []float32, limit int, minScore float64) ([]VectorResult, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 20
	}
	if minScore < 0 {
		minScore = DefaultMinScore
	}

	mems, err := v.memories.ActiveWithEmbeddings()
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	var results []VectorResult
	for _, m := range mems {
		emb := BytesToFloat32(m.Embedding)
		if len(emb) != len(queryVec) {
			continue
		}
		sim := CosineSimilarity(queryVec, emb)
		if sim >= minScore {
			results = append(results, VectorResult{Memory: m, Similarity: sim})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchText embeds the query text and delegates to the vector scan. Unlike
// the store path, a failed embedding here is a hard error — the only
// meaningful degradation for search lives at the hybrid fusion layer, which
// may drop this source entirely.
func (v *VectorSearcher) SearchText(ctx context.Context, query string, limit int, minScore float64) ([]VectorResult, error) {
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v.Search(vec, limit, minScore)
}
