package memory

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/taskweave/recall/internal/embedding"
	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

// fakeEmbedder returns canned vectors per text and can be flipped into a
// failing state mid-test to simulate the embedding service going down.
type fakeEmbedder struct {
	vecs map[string][]float32
	def  []float32
	err  error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return f.def, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) embedding.HealthStatus {
	if f.err != nil {
		return embedding.HealthStatus{Available: false, Error: f.err.Error()}
	}
	return embedding.HealthStatus{Available: true, ModelReady: true}
}

type fakeCompleter struct {
	response  string
	err       error
	healthErr error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return f.response, f.err
}

func (f *fakeCompleter) Health(ctx context.Context) error {
	return f.healthErr
}

func newTestService(t *testing.T, emb *fakeEmbedder, comp *fakeCompleter) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	ms := store.NewMemoryStore(db)
	ls := store.NewLexicalStore(db)
	vs := search.NewVectorSearcher(ms, emb)
	hs := search.NewHybridSearcher(ls, vs, ms, 0.5, 0.5, 60, logger)
	expander := search.NewQueryExpander(comp, logger)
	es := search.NewExpandedSearcher(expander, ls, ms)

	return NewService(
		db, ms,
		store.NewTagStore(db),
		store.NewAssociationStore(db),
		store.NewRetrievalStore(db, ms),
		store.NewStatsStore(db),
		ls, emb, comp, hs, vs, es,
		NewDeduplicator(ms, DefaultDedupThreshold),
		10, 0.3, logger)
}

func TestStoreDegradesWithoutEmbedding(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	comp := &fakeCompleter{err: errors.New("completion down")}
	svc := newTestService(t, emb, comp)
	ctx := context.Background()

	result, err := svc.Store(ctx, &models.StoreRequest{
		Content:         "Always validate input at API boundaries",
		MemoryType:      models.MemoryTypeLesson,
		Importance:      models.ImportanceHigh,
		Source:          models.SourceWorker,
		SourceOutcomeID: "outcome-1",
		Tags:            []string{"API", " security "},
	})
	if err != nil {
		t.Fatalf("store must succeed without embedding: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a degradation warning")
	}
	if result.Memory.HasEmbedding() {
		t.Error("memory should have no vector while embedding is down")
	}
	if len(result.Memory.Tags) != 2 || result.Memory.Tags[0] != "api" || result.Memory.Tags[1] != "security" {
		t.Errorf("tags = %v, want normalized [api security]", result.Memory.Tags)
	}

	t.Run("hybrid search still finds it lexically", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{
			Query: "input validation boundaries", Strategy: models.StrategyHybrid,
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if resp.VectorSearchUsed {
			t.Error("vector search flagged as used while embedding is down")
		}
		if len(resp.Warnings) == 0 {
			t.Error("expected degradation warning on the response")
		}
		if len(resp.Results) != 1 || resp.Results[0].Memory.ID != result.Memory.ID {
			t.Fatalf("results = %d, want the stored lesson", len(resp.Results))
		}
		if len(resp.RetrievalIDs) != 1 || resp.Results[0].RetrievalID == "" {
			t.Error("retrieval not logged")
		}
	})

	t.Run("provenance association reaches the outcome", func(t *testing.T) {
		results, err := svc.GetForOutcome("outcome-1", 10)
		if err != nil {
			t.Fatalf("get for outcome: %v", err)
		}
		if len(results) != 1 || results[0].Memory.ID != result.Memory.ID {
			t.Error("provenance association missing")
		}
	})
}

func TestStoreDeduplication(t *testing.T) {
	emb := &fakeEmbedder{
		def: []float32{0, 0, 1},
		vecs: map[string][]float32{
			"prefer table-driven tests": {1, 0, 0},
			"table-driven tests are preferred here": {0.9, 0.43589, 0}, // cos 0.9 vs above
		},
	}
	svc := newTestService(t, emb, &fakeCompleter{})
	ctx := context.Background()

	first, err := svc.Store(ctx, &models.StoreRequest{
		Content: "prefer table-driven tests", MemoryType: models.MemoryTypePreference,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	t.Run("identical content is not re-stored", func(t *testing.T) {
		again, err := svc.Store(ctx, &models.StoreRequest{
			Content: "prefer table-driven tests", MemoryType: models.MemoryTypePreference,
		})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if !again.Deduplicated || again.Memory.ID != first.Memory.ID {
			t.Errorf("expected dedup to the original, got %+v", again)
		}
	})

	t.Run("near-duplicate stores with a flag", func(t *testing.T) {
		near, err := svc.Store(ctx, &models.StoreRequest{
			Content: "table-driven tests are preferred here", MemoryType: models.MemoryTypePreference,
		})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if near.Deduplicated {
			t.Error("near-duplicate must not block storage")
		}
		if near.NearDuplicateID != first.Memory.ID {
			t.Errorf("nearDuplicateId = %q, want %q", near.NearDuplicateID, first.Memory.ID)
		}
		if near.NearDupSimilarity < 0.85 || near.NearDupSimilarity >= 0.92 {
			t.Errorf("similarity %v outside the near band", near.NearDupSimilarity)
		}
	})
}

func TestStoreValidation(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{def: []float32{1, 0}}, &fakeCompleter{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *models.StoreRequest
	}{
		{"empty content", &models.StoreRequest{MemoryType: models.MemoryTypeFact}},
		{"bad type", &models.StoreRequest{Content: "x", MemoryType: "belief"}},
		{"bad importance", &models.StoreRequest{Content: "x", MemoryType: models.MemoryTypeFact, Importance: "urgent"}},
		{"bad source", &models.StoreRequest{Content: "x", MemoryType: models.MemoryTypeFact, Source: "robot"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Store(ctx, tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("confidence out of range", func(t *testing.T) {
		bad := 1.5
		_, err := svc.Store(ctx, &models.StoreRequest{
			Content: "x", MemoryType: models.MemoryTypeFact, Confidence: &bad,
		})
		if err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		result, err := svc.Store(ctx, &models.StoreRequest{
			Content: "defaults test", MemoryType: models.MemoryTypeFact,
		})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		m := result.Memory
		if m.Importance != models.ImportanceMedium || m.Source != models.SourceSystem {
			t.Errorf("defaults not applied: importance=%q source=%q", m.Importance, m.Source)
		}
		if m.Confidence != 1.0 {
			t.Errorf("confidence = %v, want default 1.0", m.Confidence)
		}
	})
}

func TestSupersedeLifecycle(t *testing.T) {
	emb := &fakeEmbedder{def: []float32{0, 0, 1}, vecs: map[string][]float32{
		"the service listens on port 8080":     {1, 0, 0},
		"the service now listens on port 9090": {0, 1, 0},
	}}
	svc := newTestService(t, emb, &fakeCompleter{err: errors.New("down")})
	ctx := context.Background()

	oldRes, err := svc.Store(ctx, &models.StoreRequest{
		Content: "the service listens on port 8080", MemoryType: models.MemoryTypeFact,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	newRes, err := svc.Store(ctx, &models.StoreRequest{
		Content: "the service now listens on port 9090", MemoryType: models.MemoryTypeFact,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	oldID, newID := oldRes.Memory.ID, newRes.Memory.ID

	if err := svc.Supersede(oldID, oldID); err == nil {
		t.Error("self-supersede must fail")
	}
	if err := svc.Supersede(oldID, "missing"); err == nil {
		t.Error("superseding by a missing memory must fail")
	}
	if err := svc.Supersede(oldID, newID); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if err := svc.Supersede(oldID, newID); err == nil {
		t.Error("double supersede must fail")
	}

	t.Run("old memory invisible to search, visible by id", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{Query: "listens port", Strategy: models.StrategyLexical})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range resp.Results {
			if r.Memory.ID == oldID {
				t.Error("superseded memory surfaced in search")
			}
		}

		got, err := svc.Get(oldID)
		if err != nil || got == nil {
			t.Fatalf("get superseded: (%v, %v)", got, err)
		}
		if got.SupersededBy == nil || *got.SupersededBy != newID {
			t.Error("supersededBy not set")
		}
	})
}

func TestSearchStrategies(t *testing.T) {
	emb := &fakeEmbedder{def: []float32{0, 0, 1}, vecs: map[string][]float32{
		"rotate secrets quarterly":      {1, 0, 0},
		"credentials live in the vault": {0, 1, 0},
	}}
	comp := &fakeCompleter{
		response: `{"expansions":[{"query":"credentials","type":"synonym"}]}`,
	}
	svc := newTestService(t, emb, comp)
	ctx := context.Background()

	if _, err := svc.Store(ctx, &models.StoreRequest{
		Content: "rotate secrets quarterly", MemoryType: models.MemoryTypePattern,
	}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := svc.Store(ctx, &models.StoreRequest{
		Content: "credentials live in the vault", MemoryType: models.MemoryTypeFact,
	}); err != nil {
		t.Fatalf("store: %v", err)
	}

	t.Run("empty query rejected", func(t *testing.T) {
		if _, err := svc.Search(ctx, &models.SearchRequest{Strategy: models.StrategyLexical}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("invalid strategy rejected", func(t *testing.T) {
		if _, err := svc.Search(ctx, &models.SearchRequest{Query: "x", Strategy: "psychic"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("default strategy is hybrid", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{Query: "secrets"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if resp.Strategy != models.StrategyHybrid {
			t.Errorf("strategy = %q, want hybrid", resp.Strategy)
		}
	})

	t.Run("expanded unions variant hits", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{
			Query: "secrets", Strategy: models.StrategyExpanded,
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if resp.Strategy != models.StrategyExpanded {
			t.Errorf("strategy = %q, want expanded", resp.Strategy)
		}
		if len(resp.Results) != 2 {
			t.Fatalf("got %d results, want hits from both variants", len(resp.Results))
		}
		foundVariant := false
		for _, r := range resp.Results {
			if r.ExpansionType == models.ExpansionSynonym && r.SourceQuery == "credentials" {
				foundVariant = true
			}
		}
		if !foundVariant {
			t.Error("variant hit not attributed to its source query")
		}
	})

	t.Run("expanded falls back to hybrid for precise queries", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{
			Query: "where do the production database credentials actually live",
			Strategy: models.StrategyExpanded,
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if resp.Strategy != models.StrategyHybrid {
			t.Errorf("strategy = %q, want hybrid fallback", resp.Strategy)
		}
	})

	t.Run("type filter thins results", func(t *testing.T) {
		resp, err := svc.Search(ctx, &models.SearchRequest{
			Query: "credentials secrets", Strategy: models.StrategyLexical,
			MemoryType: models.MemoryTypeFact,
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range resp.Results {
			if r.Memory.MemoryType != models.MemoryTypeFact {
				t.Errorf("filter leaked type %q", r.Memory.MemoryType)
			}
		}
	})
}

func TestKeywordSearch(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{err: errors.New("down")}, &fakeCompleter{})
	ctx := context.Background()

	if _, err := svc.Store(ctx, &models.StoreRequest{
		Content: "retry the request with backoff", MemoryType: models.MemoryTypePattern,
	}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := svc.Store(ctx, &models.StoreRequest{
		Content: "retry the deploy manually", MemoryType: models.MemoryTypePattern,
	}); err != nil {
		t.Fatalf("store: %v", err)
	}

	t.Run("all plus exclude", func(t *testing.T) {
		resp, err := svc.KeywordSearch(&models.KeywordQuery{
			All:     []string{"retry"},
			Exclude: []string{"deploy"},
		}, 10)
		if err != nil {
			t.Fatalf("keyword search: %v", err)
		}
		if len(resp.Results) != 1 {
			t.Fatalf("got %d results, want 1", len(resp.Results))
		}
		if resp.Results[0].RetrievalID == "" {
			t.Error("keyword hits must be logged")
		}
	})

	t.Run("exclusion-only query rejected", func(t *testing.T) {
		if _, err := svc.KeywordSearch(&models.KeywordQuery{Exclude: []string{"x"}}, 10); err == nil {
			t.Error("expected error for exclusion-only query")
		}
	})
}

func TestRetrievalFeedbackLoop(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{err: errors.New("down")}, &fakeCompleter{})
	ctx := context.Background()

	stored, err := svc.Store(ctx, &models.StoreRequest{
		Content: "feedback loop memory", MemoryType: models.MemoryTypeContext,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	resp, err := svc.Search(ctx, &models.SearchRequest{Query: "feedback", Strategy: models.StrategyLexical})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.RetrievalIDs) != 1 {
		t.Fatalf("got %d retrieval ids, want 1", len(resp.RetrievalIDs))
	}

	entry, err := svc.MarkUseful(resp.RetrievalIDs[0], true)
	if err != nil || entry == nil {
		t.Fatalf("mark useful: (%v, %v)", entry, err)
	}

	stats, err := svc.RetrievalStats(stored.Memory.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.UsefulnessRatio != 1 {
		t.Errorf("stats = %+v, want one useful retrieval", stats)
	}
}

func TestAssociationValidation(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{err: errors.New("down")}, &fakeCompleter{})
	ctx := context.Background()

	stored, err := svc.Store(ctx, &models.StoreRequest{
		Content: "associated memory", MemoryType: models.MemoryTypeDecision,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	id := stored.Memory.ID

	t.Run("self-association rejected", func(t *testing.T) {
		_, err := svc.Associate(id, &models.AssociateRequest{
			AssociationType: models.AssocRelatedToMemory, TargetID: id,
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("strength out of range rejected", func(t *testing.T) {
		bad := 1.2
		_, err := svc.Associate(id, &models.AssociateRequest{
			AssociationType: models.AssocRelevantToTask, TargetID: "task-1", Strength: &bad,
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("valid association lands in the graph", func(t *testing.T) {
		strength := 0.8
		a, err := svc.Associate(id, &models.AssociateRequest{
			AssociationType: models.AssocRelevantToTask, TargetID: "task-1",
			Strength: &strength, Context: "used while planning",
		})
		if err != nil {
			t.Fatalf("associate: %v", err)
		}
		if a.Strength != 0.8 {
			t.Errorf("strength = %v", a.Strength)
		}

		results, err := svc.GetForTask("task-1", 10)
		if err != nil {
			t.Fatalf("get for task: %v", err)
		}
		if len(results) != 1 || results[0].Memory.ID != id {
			t.Error("association lookup failed")
		}
	})
}

func TestBackfillEmbeddings(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("down"), def: []float32{1, 0}}
	svc := newTestService(t, emb, &fakeCompleter{})
	ctx := context.Background()

	for _, content := range []string{"first pending", "second pending", "third pending"} {
		if _, err := svc.Store(ctx, &models.StoreRequest{
			Content: content, MemoryType: models.MemoryTypeFact,
		}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	t.Run("failed batches are counted, not fatal", func(t *testing.T) {
		result, err := svc.BackfillEmbeddings(ctx, 2)
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
		if result.Scanned != 3 || result.Embedded != 0 || result.FailedBatches != 2 {
			t.Errorf("result = %+v, want 3 scanned, 2 failed batches", result)
		}
	})

	t.Run("recovered service backfills everything", func(t *testing.T) {
		emb.err = nil
		result, err := svc.BackfillEmbeddings(ctx, 2)
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
		if result.Embedded != 3 || result.FailedBatches != 0 {
			t.Errorf("result = %+v, want 3 embedded", result)
		}

		again, err := svc.BackfillEmbeddings(ctx, 2)
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
		if again.Scanned != 0 {
			t.Errorf("scanned %d after full backfill, want 0", again.Scanned)
		}
	})
}

func TestHealth(t *testing.T) {
	t.Run("degraded when dependencies are down", func(t *testing.T) {
		svc := newTestService(t,
			&fakeEmbedder{err: errors.New("no embeddings")},
			&fakeCompleter{healthErr: errors.New("no completions")})

		resp := svc.Health(context.Background())
		if resp.Status != "degraded" {
			t.Errorf("status = %q, want degraded", resp.Status)
		}
		if resp.DB.Status != "ok" {
			t.Errorf("db status = %q, want ok", resp.DB.Status)
		}
		if resp.Embedding.Status != "down" || resp.Completion.Status != "down" {
			t.Error("dependency statuses not reported")
		}
	})

	t.Run("ok when everything is up", func(t *testing.T) {
		svc := newTestService(t, &fakeEmbedder{def: []float32{1}}, &fakeCompleter{})
		resp := svc.Health(context.Background())
		if resp.Status != "ok" {
			t.Errorf("status = %q, want ok", resp.Status)
		}
	})
}
