package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/recall/internal/embedding"
	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

// DefaultConfidence is assigned when a store request omits confidence.
const DefaultConfidence = 1.0

// provenanceStrength is the strength of associations created automatically
// from a store request's source outcome/task.
const provenanceStrength = 0.7

// CompletionChecker is the slice of the completion adapter health checks need.
type CompletionChecker interface {
	Health(ctx context.Context) error
}

// Service is the facade over storage, search, and the association graph.
// Handlers call only this type.
type Service struct {
	db           *store.DB
	memories     *store.MemoryStore
	tags         *store.TagStore
	associations *store.AssociationStore
	retrievals   *store.RetrievalStore
	stats        *store.StatsStore
	lexical      *store.LexicalStore
	embedder     embedding.Embedder
	completion   CompletionChecker
	hybrid       *search.HybridSearcher
	vector       *search.VectorSearcher
	expanded     *search.ExpandedSearcher
	dedup        *Deduplicator
	defaultLimit int
	minScore     float64
	logger       *slog.Logger
}

func NewService(
	db *store.DB,
	memories *store.MemoryStore,
	tags *store.TagStore,
	associations *store.AssociationStore,
	retrievals *store.RetrievalStore,
	stats *store.StatsStore,
	lexical *store.LexicalStore,
	embedder embedding.Embedder,
	completion CompletionChecker,
	hybrid *search.HybridSearcher,
	vector *search.VectorSearcher,
	expanded *search.ExpandedSearcher,
	dedup *Deduplicator,
	defaultLimit int,
	minScore float64,
	logger *slog.Logger,
) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if minScore <= 0 {
		minScore = search.DefaultMinScore
	}
	return &Service{
		db:           db,
		memories:     memories,
		tags:         tags,
		associations: associations,
		retrievals:   retrievals,
		stats:        stats,
		lexical:      lexical,
		embedder:     embedder,
		completion:   completion,
		hybrid:       hybrid,
		vector:       vector,
		expanded:     expanded,
		dedup:        dedup,
		defaultLimit: defaultLimit,
		minScore:     minScore,
		logger:       logger,
	}
}

// Store creates a new memory. The embedding is best-effort: when the
// embedding service is down the memory is stored without a vector and a
// warning is returned, never an error. Exact duplicates are not re-stored;
// the existing memory comes back with Deduplicated set.
func (s *Service) Store(ctx context.Context, req *models.StoreRequest) (*models.StoreResult, error) {
	if err := validateStoreRequest(req); err != nil {
		return nil, err
	}

	var warnings []string
	vec, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		s.logger.Warn("embedding unavailable, storing without vector", "error", err)
		warnings = append(warnings, fmt.Sprintf("embedding unavailable: %v", err))
		vec = nil
	}

	dedupResult, err := s.dedup.CheckDuplicate(req.Content, vec)
	if err != nil {
		s.logger.Warn("dedup check failed", "error", err)
		dedupResult = &DedupResult{}
	}
	if dedupResult.ExactDuplicateID != "" {
		existing, err := s.memories.GetByID(dedupResult.ExactDuplicateID)
		if err != nil {
			return nil, err
		}
		return &models.StoreResult{
			Memory:       existing,
			Deduplicated: true,
			Warnings:     warnings,
		}, nil
	}

	confidence := DefaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	now := time.Now().Unix()
	mem := &models.Memory{
		ID:              uuid.New().String(),
		Content:         req.Content,
		MemoryType:      req.MemoryType,
		Importance:      req.Importance,
		Source:          req.Source,
		SourceOutcomeID: req.SourceOutcomeID,
		SourceTaskID:    req.SourceTaskID,
		Confidence:      confidence,
		ContentHash:     embedding.ContentHash(req.Content),
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       req.ExpiresAt,
	}
	if len(vec) > 0 {
		mem.Embedding = search.Float32ToBytes(vec)
		mem.EmbeddingDim = len(vec)
	}

	if err := s.memories.Insert(mem); err != nil {
		return nil, err
	}
	if err := s.tags.LinkMemory(mem.ID, req.Tags); err != nil {
		return nil, fmt.Errorf("link tags: %w", err)
	}

	// Provenance edges: a memory born from an outcome or task is associated
	// with it automatically.
	if req.SourceOutcomeID != "" {
		if err := s.insertAssociation(mem.ID, models.AssocRelevantToOutcome,
			req.SourceOutcomeID, provenanceStrength, "source outcome"); err != nil {
			return nil, err
		}
	}
	if req.SourceTaskID != "" {
		if err := s.insertAssociation(mem.ID, models.AssocRelevantToTask,
			req.SourceTaskID, provenanceStrength, "source task"); err != nil {
			return nil, err
		}
	}

	stored, err := s.memories.GetByID(mem.ID)
	if err != nil {
		return nil, err
	}

	result := &models.StoreResult{Memory: stored, Warnings: warnings}
	if dedupResult.NearDuplicateID != "" {
		result.NearDuplicateID = dedupResult.NearDuplicateID
		result.NearDupSimilarity = dedupResult.NearDupSimilarity
	}
	s.logger.Info("memory stored",
		"id", mem.ID, "type", mem.MemoryType, "importance", mem.Importance)
	return result, nil
}

// Get returns a memory by ID, superseded and expired included.
// Returns (nil, nil) when it does not exist.
func (s *Service) Get(id string) (*models.Memory, error) {
	return s.memories.GetByID(id)
}

// Update applies partial updates. A content change re-hashes and re-embeds;
// if re-embedding fails the stale vector is dropped so it can't surface in
// vector search, and backfill will restore it later.
func (s *Service) Update(ctx context.Context, id string, req *models.UpdateRequest) (*models.Memory, error) {
	if err := validateUpdateRequest(req); err != nil {
		return nil, err
	}

	mem, err := s.memories.Update(id, req)
	if err != nil || mem == nil {
		return mem, err
	}

	if req.Content != nil {
		if err := s.memories.SetContentHash(id, embedding.ContentHash(*req.Content)); err != nil {
			return nil, err
		}
		vec, err := s.embedder.Embed(ctx, *req.Content)
		if err != nil {
			s.logger.Warn("re-embed after content update failed", "id", id, "error", err)
			if err := s.memories.ClearEmbedding(id); err != nil {
				return nil, err
			}
		} else if err := s.memories.SetEmbedding(id, search.Float32ToBytes(vec), len(vec)); err != nil {
			return nil, err
		}
		return s.memories.GetByID(id)
	}
	return mem, nil
}

// Delete removes a memory permanently. Returns false when it did not exist.
func (s *Service) Delete(id string) (bool, error) {
	return s.memories.Delete(id)
}

// Supersede marks oldID as replaced by newID. Both must exist, and a memory
// cannot supersede itself.
func (s *Service) Supersede(oldID, newID string) error {
	if oldID == newID {
		return fmt.Errorf("memory cannot supersede itself")
	}
	oldMem, err := s.memories.GetByID(oldID)
	if err != nil {
		return err
	}
	if oldMem == nil {
		return fmt.Errorf("memory not found: %s", oldID)
	}
	newMem, err := s.memories.GetByID(newID)
	if err != nil {
		return err
	}
	if newMem == nil {
		return fmt.Errorf("memory not found: %s", newID)
	}

	ok, err := s.memories.Supersede(oldID, newID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory already superseded: %s", oldID)
	}
	s.logger.Info("memory superseded", "old", oldID, "new", newID)
	return nil
}

// Search dispatches on the requested strategy. Every returned hit is logged
// to the retrieval feedback log; the response's Strategy field reports the
// strategy that actually ran (expanded falls back to hybrid for queries that
// don't warrant expansion).
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyHybrid
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("invalid strategy: %q", req.Strategy)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = s.minScore
	}

	// Overfetch when post-filters will thin the result set.
	fetchLimit := limit
	if req.MemoryType != "" || req.Importance != "" || len(req.Tags) > 0 {
		fetchLimit = limit * 3
	}

	if strategy == models.StrategyExpanded && !search.ShouldExpand(req.Query) {
		strategy = models.StrategyHybrid
	}

	var (
		results    []models.SearchResult
		vectorUsed bool
		warnings   []string
		err        error
	)
	switch strategy {
	case models.StrategyLexical:
		results, err = s.searchLexical(req.Query, fetchLimit)
	case models.StrategyVector:
		results, err = s.searchVector(ctx, req.Query, fetchLimit, minScore)
		vectorUsed = err == nil
	case models.StrategyHybrid:
		var outcome *search.HybridOutcome
		outcome, err = s.hybrid.Search(ctx, req.Query, fetchLimit, minScore)
		if err == nil {
			vectorUsed = outcome.VectorSearchUsed
			warnings = outcome.Warnings
			results = hybridToSearchResults(outcome.Results)
		}
	case models.StrategyExpanded:
		var hits []search.ExpandedResult
		hits, _, err = s.expanded.Search(ctx, req.Query, fetchLimit)
		if err == nil {
			results = expandedToSearchResults(hits)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", strategy, err)
	}

	results = filterResults(results, req)
	if len(results) > limit {
		results = results[:limit]
	}

	method := models.MethodSemantic
	if strategy == models.StrategyLexical {
		method = models.MethodExplicit
	}
	retrievalIDs, err := s.logRetrievals(results, method, req.Query, req.OutcomeID, req.TaskID)
	if err != nil {
		return nil, err
	}

	return &models.SearchResponse{
		Results:          results,
		Strategy:         strategy,
		TotalFound:       len(results),
		RetrievalIDs:     retrievalIDs,
		VectorSearchUsed: vectorUsed,
		Warnings:         warnings,
	}, nil
}

// KeywordSearch composes a lexical query from structured primitives and runs
// it against the full-text index.
func (s *Service) KeywordSearch(kq *models.KeywordQuery, limit int) (*models.SearchResponse, error) {
	query := composeKeywordQuery(kq)
	if query == "" {
		return nil, fmt.Errorf("keyword query needs at least one positive term")
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	results, err := s.searchLexical(query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	retrievalIDs, err := s.logRetrievals(results, models.MethodExplicit, query, "", "")
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Results:      results,
		Strategy:     models.StrategyLexical,
		TotalFound:   len(results),
		RetrievalIDs: retrievalIDs,
	}, nil
}

// GetForOutcome returns active memories associated with an outcome,
// strongest edges first.
func (s *Service) GetForOutcome(outcomeID string, limit int) ([]models.SearchResult, error) {
	return s.getForTarget(outcomeID, models.AssocRelevantToOutcome, limit, outcomeID, "")
}

// GetForTask returns active memories associated with a task.
func (s *Service) GetForTask(taskID string, limit int) ([]models.SearchResult, error) {
	return s.getForTarget(taskID, models.AssocRelevantToTask, limit, "", taskID)
}

func (s *Service) getForTarget(targetID string, assocType models.AssociationType, limit int, outcomeID, taskID string) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	ids, err := s.associations.ActiveMemoryIDsForTarget(targetID, assocType, limit)
	if err != nil {
		return nil, err
	}
	results, err := s.resolveOrdered(ids)
	if err != nil {
		return nil, err
	}
	if _, err := s.logRetrievals(results, models.MethodAssociation, "", outcomeID, taskID); err != nil {
		return nil, err
	}
	return results, nil
}

// GetRecent returns active memories newest-first.
func (s *Service) GetRecent(limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	mems, err := s.memories.ListRecent(limit)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, len(mems))
	for i, m := range mems {
		results[i] = models.SearchResult{Memory: m}
	}
	if _, err := s.logRetrievals(results, models.MethodRecency, "", "", ""); err != nil {
		return nil, err
	}
	return results, nil
}

// GetByTag returns active memories carrying a tag, newest-first.
func (s *Service) GetByTag(tag string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	ids, err := s.tags.ActiveMemoryIDsWithTag(tag, limit)
	if err != nil {
		return nil, err
	}
	results, err := s.resolveOrdered(ids)
	if err != nil {
		return nil, err
	}
	if _, err := s.logRetrievals(results, models.MethodTag, tag, "", ""); err != nil {
		return nil, err
	}
	return results, nil
}

// ListTags returns all tags ordered by usage.
func (s *Service) ListTags() ([]models.Tag, error) {
	return s.tags.List()
}

// Associate creates a directed edge from a memory to an outcome, task, or
// another memory.
func (s *Service) Associate(memoryID string, req *models.AssociateRequest) (*models.Association, error) {
	if !req.AssociationType.IsValid() {
		return nil, fmt.Errorf("invalid association type: %q", req.AssociationType)
	}
	if req.TargetID == "" {
		return nil, fmt.Errorf("target id is required")
	}
	strength := 0.5
	if req.Strength != nil {
		strength = *req.Strength
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("strength must be in [0,1], got %v", strength)
	}

	mem, err := s.memories.GetByID(memoryID)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, fmt.Errorf("memory not found: %s", memoryID)
	}

	if req.AssociationType == models.AssocRelatedToMemory {
		if req.TargetID == memoryID {
			return nil, fmt.Errorf("memory cannot be associated with itself")
		}
		target, err := s.memories.GetByID(req.TargetID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, fmt.Errorf("target memory not found: %s", req.TargetID)
		}
	}

	a := &models.Association{
		ID:              uuid.New().String(),
		MemoryID:        memoryID,
		AssociationType: req.AssociationType,
		TargetID:        req.TargetID,
		Strength:        strength,
		Context:         req.Context,
		CreatedAt:       time.Now().Unix(),
	}
	if err := s.associations.Insert(a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAssociations lists a memory's outgoing edges, strongest first.
func (s *Service) GetAssociations(memoryID string) ([]models.Association, error) {
	return s.associations.GetForMemory(memoryID)
}

// UpdateAssociationStrength sets an edge's strength, clamping the value to
// [0,1]. Returns (nil, nil) when the association does not exist.
func (s *Service) UpdateAssociationStrength(id string, strength float64) (*models.Association, error) {
	return s.associations.UpdateStrength(id, strength)
}

// MarkUseful records a usefulness judgment on a retrieval log entry.
// Returns (nil, nil) when the entry does not exist.
func (s *Service) MarkUseful(retrievalID string, useful bool) (*models.RetrievalEntry, error) {
	return s.retrievals.MarkUseful(retrievalID, useful)
}

// RetrievalStats aggregates usefulness judgments for one memory.
func (s *Service) RetrievalStats(memoryID string) (*models.RetrievalStats, error) {
	return s.retrievals.StatsFor(memoryID)
}

// GetStats returns the system-wide counters snapshot.
func (s *Service) GetStats() (*models.SystemStats, error) {
	return s.stats.System()
}

// Health reports the service and its dependencies. The database is the only
// hard dependency; embedding and completion being down degrades search but
// keeps the service up.
func (s *Service) Health(ctx context.Context) *models.HealthResponse {
	resp := &models.HealthResponse{Status: "ok"}

	count, err := s.db.MemoryCount()
	if err != nil {
		resp.Status = "unhealthy"
		resp.DB = models.ServiceCheck{Status: "down", Message: err.Error()}
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	emb := s.embedder.Health(ctx)
	if emb.Available && emb.ModelReady {
		resp.Embedding = models.ServiceCheck{Status: "ok"}
	} else {
		resp.Embedding = models.ServiceCheck{Status: "down", Message: emb.Error}
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	if err := s.completion.Health(ctx); err != nil {
		resp.Completion = models.ServiceCheck{Status: "down", Message: err.Error()}
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	} else {
		resp.Completion = models.ServiceCheck{Status: "ok"}
	}
	return resp
}

func (s *Service) searchLexical(query string, limit int) ([]models.SearchResult, error) {
	hits, err := s.lexical.Search(query, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	mems, err := s.memories.GetActiveByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}

	var results []models.SearchResult
	for _, h := range hits {
		m := byID[h.ID]
		if m == nil {
			continue
		}
		results = append(results, models.SearchResult{
			Memory:  m,
			Score:   h.Score,
			Snippet: h.Snippet,
			FoundBy: []string{search.FoundByLexical},
		})
	}
	return results, nil
}

func (s *Service) searchVector(ctx context.Context, query string, limit int, minScore float64) ([]models.SearchResult, error) {
	hits, err := s.vector.SearchText(ctx, query, limit, minScore)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = models.SearchResult{
			Memory:  h.Memory,
			Score:   h.Similarity,
			FoundBy: []string{search.FoundByVector},
		}
	}
	return results, nil
}

func hybridToSearchResults(hits []search.HybridResult) []models.SearchResult {
	results := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = models.SearchResult{
			Memory:  h.Memory,
			Score:   h.Score,
			FoundBy: h.FoundBy,
			Snippet: h.Snippet,
		}
	}
	return results
}

func expandedToSearchResults(hits []search.ExpandedResult) []models.SearchResult {
	results := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = models.SearchResult{
			Memory:        h.Memory,
			Score:         h.Score,
			Snippet:       h.Snippet,
			SourceQuery:   h.SourceQuery,
			ExpansionType: h.ExpansionType,
			FoundBy:       []string{search.FoundByLexical},
		}
	}
	return results
}

// resolveOrdered fetches active memories for ids, preserving id order.
func (s *Service) resolveOrdered(ids []string) ([]models.SearchResult, error) {
	mems, err := s.memories.GetActiveByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	var results []models.SearchResult
	for _, id := range ids {
		if m := byID[id]; m != nil {
			results = append(results, models.SearchResult{Memory: m})
		}
	}
	return results, nil
}

// logRetrievals logs each hit to the feedback log and returns the log IDs
// in result order. Results are annotated in place with their retrieval ID.
func (s *Service) logRetrievals(results []models.SearchResult, method models.RetrievalMethod, query, outcomeID, taskID string) ([]string, error) {
	ids := make([]string, len(results))
	for i := range results {
		id, err := s.retrievals.Log(results[i].Memory.ID, method, query,
			results[i].Score, outcomeID, taskID)
		if err != nil {
			return nil, fmt.Errorf("log retrieval: %w", err)
		}
		results[i].RetrievalID = id
		ids[i] = id
	}
	return ids, nil
}

func (s *Service) insertAssociation(memoryID string, assocType models.AssociationType, targetID string, strength float64, context string) error {
	return s.associations.Insert(&models.Association{
		ID:              uuid.New().String(),
		MemoryID:        memoryID,
		AssociationType: assocType,
		TargetID:        targetID,
		Strength:        strength,
		Context:         context,
		CreatedAt:       time.Now().Unix(),
	})
}

func composeKeywordQuery(kq *models.KeywordQuery) string {
	var parts []string
	if q := store.AndTerms(kq.All...); q != "" {
		parts = append(parts, q)
	}
	if q := store.OrTerms(kq.Any...); q != "" {
		parts = append(parts, q)
	}
	if q := store.Phrase(kq.Phrase); q != "" {
		parts = append(parts, q)
	}
	query := joinSpace(parts)
	for _, term := range kq.Exclude {
		query = store.Exclude(query, term)
	}
	return query
}

func joinSpace(parts []string) string {
	out := ""
	for _, p := range parts {
		if out == "" {
			out = p
			continue
		}
		out += " " + p
	}
	return out
}

func filterResults(results []models.SearchResult, req *models.SearchRequest) []models.SearchResult {
	if req.MemoryType == "" && req.Importance == "" && len(req.Tags) == 0 {
		return results
	}
	filtered := results[:0]
	for _, r := range results {
		if req.MemoryType != "" && r.Memory.MemoryType != req.MemoryType {
			continue
		}
		if req.Importance != "" && r.Memory.Importance != req.Importance {
			continue
		}
		if !hasAllTags(r.Memory.Tags, req.Tags) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[store.NormalizeTag(t)] = true
	}
	for _, t := range want {
		if !set[store.NormalizeTag(t)] {
			return false
		}
	}
	return true
}

func validateStoreRequest(req *models.StoreRequest) error {
	if req.Content == "" {
		return fmt.Errorf("content is required")
	}
	if !req.MemoryType.IsValid() {
		return fmt.Errorf("invalid memory type: %q", req.MemoryType)
	}
	if req.Importance == "" {
		req.Importance = models.ImportanceMedium
	}
	if !req.Importance.IsValid() {
		return fmt.Errorf("invalid importance: %q", req.Importance)
	}
	if req.Source == "" {
		req.Source = models.SourceSystem
	}
	if !req.Source.IsValid() {
		return fmt.Errorf("invalid source: %q", req.Source)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return fmt.Errorf("confidence must be in [0,1], got %v", *req.Confidence)
	}
	return nil
}

func validateUpdateRequest(req *models.UpdateRequest) error {
	if req.Content != nil && *req.Content == "" {
		return fmt.Errorf("content cannot be emptied")
	}
	if req.MemoryType != nil && !req.MemoryType.IsValid() {
		return fmt.Errorf("invalid memory type: %q", *req.MemoryType)
	}
	if req.Importance != nil && !req.Importance.IsValid() {
		return fmt.Errorf("invalid importance: %q", *req.Importance)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return fmt.Errorf("confidence must be in [0,1], got %v", *req.Confidence)
	}
	return nil
}
