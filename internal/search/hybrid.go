package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/store"
)

// Reciprocal Rank Fusion defaults. k=60 is the standard constant from the
// information-retrieval literature.
const (
	DefaultRRFK         = 60
	DefaultVectorWeight = 0.5
	DefaultBM25Weight   = 0.5
)

// Source labels for HybridResult.FoundBy.
const (
	FoundByLexical = "lexical"
	FoundByVector  = "vector"
)

// HybridResult is one fused, deduplicated search hit.
type HybridResult struct {
	ID          string
	Memory      *models.Memory
	Score       float64
	FoundBy     []string // subset of {lexical, vector}
	Snippet     string
	LexicalRank int // 1-indexed; 0 when absent from the lexical list
	VectorRank  int // 1-indexed; 0 when absent from the vector list
}

// HybridOutcome carries the fused results plus degradation metadata. When
// the embedding service is down VectorSearchUsed is false and Warnings says
// why, rather than silently returning a partial result set.
type HybridOutcome struct {
	Results          []HybridResult
	VectorSearchUsed bool
	Warnings         []string
}

// HybridSearcher merges lexical (FTS5 BM25) and vector (cosine scan) results
// via Reciprocal Rank Fusion. The two source searches are independent and
// run concurrently; fusion is a pure post-processing step.
type HybridSearcher struct {
	lexical      *store.LexicalStore
	vector       *VectorSearcher
	memories     *store.MemoryStore
	vectorWeight float64
	bm25Weight   float64
	k            int
	logger       *slog.Logger
}

func NewHybridSearcher(
	lexical *store.LexicalStore,
	vector *VectorSearcher,
	memories *store.MemoryStore,
	vectorWeight, bm25Weight float64,
	k int,
	logger *slog.Logger,
) *HybridSearcher {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &HybridSearcher{
		lexical:      lexical,
		vector:       vector,
		memories:     memories,
		vectorWeight: vectorWeight,
		bm25Weight:   bm25Weight,
		k:            k,
		logger:       logger,
	}
}

// Search runs both sources concurrently and fuses their ranked lists.
// minScore applies to the vector side only; pass a negative value for the
// default. A vector-side failure degrades to lexical-only with a warning;
// only a failure of both sources is an error.
func (h *HybridSearcher) Search(ctx context.Context, query string, limit int, minScore float64) (*HybridOutcome, error) {
	if limit <= 0 {
		limit = 10
	}

	// Overfetch per source so fusion has candidates to promote.
	perSource := limit * 3

	var (
		lexResults []store.LexicalResult
		lexErr     error
		vecResults []VectorResult
		vecErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexResults, lexErr = h.lexical.Search(query, perSource)
		return nil
	})
	g.Go(func() error {
		vecResults, vecErr = h.vector.SearchText(gctx, query, perSource, minScore)
		return nil
	})
	_ = g.Wait() // goroutines capture their own errors

	outcome := &HybridOutcome{VectorSearchUsed: vecErr == nil}
	if vecErr != nil {
		h.logger.Warn("vector search unavailable, degrading to lexical-only", "error", vecErr)
		outcome.Warnings = append(outcome.Warnings,
			fmt.Sprintf("vector search unavailable: %v", vecErr))
		vecResults = nil
	}
	if lexErr != nil {
		if vecErr != nil {
			return nil, fmt.Errorf("both search sources failed: lexical: %v; vector: %w", lexErr, vecErr)
		}
		outcome.Warnings = append(outcome.Warnings,
			fmt.Sprintf("lexical search unavailable: %v", lexErr))
		lexResults = nil
	}

	fused := FuseRRF(lexResults, vecResults, h.vectorWeight, h.bm25Weight, h.k)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	if err := h.attachMemories(fused); err != nil {
		return nil, err
	}

	// Drop entries whose memory vanished between the source search and the
	// fetch (deleted or superseded mid-flight).
	results := fused[:0]
	for _, r := range fused {
		if r.Memory != nil {
			results = append(results, r)
		}
	}
	outcome.Results = results
	return outcome, nil
}

// FuseRRF merges two ranked lists with Reciprocal Rank Fusion:
//
//	score = vectorWeight · 1/(k + vectorRank) + bm25Weight · 1/(k + lexicalRank)
//
// with a 0 contribution from any list the memory is absent from. Ranks are
// 1-indexed within each source list. Output is deduplicated by memory ID,
// sorted by score descending with ties broken by ID so the ordering is
// reproducible byte-for-byte.
func FuseRRF(lexical []store.LexicalResult, vector []VectorResult, vectorWeight, bm25Weight float64, k int) []HybridResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := make(map[string]*HybridResult)

	for i, r := range vector {
		rank := i + 1
		merged[r.Memory.ID] = &HybridResult{
			ID:         r.Memory.ID,
			Memory:     r.Memory,
			Score:      vectorWeight / float64(k+rank),
			FoundBy:    []string{FoundByVector},
			VectorRank: rank,
		}
	}

	for i, r := range lexical {
		rank := i + 1
		contribution := bm25Weight / float64(k+rank)
		if existing, ok := merged[r.ID]; ok {
			existing.Score += contribution
			existing.LexicalRank = rank
			existing.Snippet = r.Snippet
			existing.FoundBy = append(existing.FoundBy, FoundByLexical)
			continue
		}
		merged[r.ID] = &HybridResult{
			ID:          r.ID,
			Score:       contribution,
			FoundBy:     []string{FoundByLexical},
			Snippet:     r.Snippet,
			LexicalRank: rank,
		}
	}

	results := make([]HybridResult, 0, len(merged))
	for _, r := range merged {
		sort.Strings(r.FoundBy)
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// attachMemories resolves lexical-only hits (which carry just an ID) to full
// memories in one active-set query.
func (h *HybridSearcher) attachMemories(results []HybridResult) error {
	var missing []string
	for i := range results {
		if results[i].Memory == nil {
			missing = append(missing, results[i].ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	mems, err := h.memories.GetActiveByIDs(missing)
	if err != nil {
		return fmt.Errorf("resolve lexical hits: %w", err)
	}
	byID := make(map[string]*models.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	for i := range results {
		if results[i].Memory == nil {
			results[i].Memory = byID[results[i].ID]
		}
	}
	return nil
}
