package memory

import (
	"github.com/taskweave/recall/internal/embedding"
	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

// DefaultDedupThreshold is the cosine similarity at or above which new
// content is treated as an exact duplicate of an existing active memory.
const DefaultDedupThreshold = 0.92

// nearDupLower is the bottom of the near-duplicate band [nearDupLower,
// threshold). A hit in the band flags but never blocks storage.
const nearDupLower = 0.85

// DedupResult captures the outcome of a duplicate check.
type DedupResult struct {
	// ExactDuplicateID is set when the content hash matches an active
	// memory, or when cosine similarity is at or above the threshold.
	// Storage is blocked and the existing memory returned instead.
	ExactDuplicateID string
	// NearDuplicateID is set when cosine similarity falls in the
	// near-duplicate band. Storage proceeds; callers surface the flag.
	NearDuplicateID   string
	NearDupSimilarity float64
}

// Deduplicator checks new content against existing active memories.
type Deduplicator struct {
	memories  *store.MemoryStore
	threshold float64
}

func NewDeduplicator(memories *store.MemoryStore, threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	return &Deduplicator{memories: memories, threshold: threshold}
}

// CheckDuplicate looks for an exact hash match first, then scans active
// embeddings for a cosine duplicate. vec may be nil (embedding service
// down), in which case only the hash check runs.
func (d *Deduplicator) CheckDuplicate(content string, vec []float32) (*DedupResult, error) {
	result := &DedupResult{}

	existing, err := d.memories.FindActiveByContentHash(embedding.ContentHash(content))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		result.ExactDuplicateID = existing[0].ID
		return result, nil
	}

	if len(vec) == 0 {
		return result, nil
	}

	mems, err := d.memories.ActiveWithEmbeddings()
	if err != nil {
		return nil, err
	}

	bestSim := 0.0
	bestID := ""
	for _, m := range mems {
		emb := search.BytesToFloat32(m.Embedding)
		if len(emb) != len(vec) {
			continue
		}
		sim := search.CosineSimilarity(vec, emb)
		if sim > bestSim {
			bestSim = sim
			bestID = m.ID
		}
	}

	switch {
	case bestSim >= d.threshold:
		result.ExactDuplicateID = bestID
	case bestSim >= nearDupLower:
		result.NearDuplicateID = bestID
		result.NearDupSimilarity = bestSim
	}
	return result, nil
}
