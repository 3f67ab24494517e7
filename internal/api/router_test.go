package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/taskweave/recall/internal/embedding"
	"github.com/taskweave/recall/internal/memory"
	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/search"
	"github.com/taskweave/recall/internal/store"
)

type fixedEmbedder struct {
	err error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	// A crude but deterministic per-text vector: content length spread over
	// two dimensions, normalized by cosine anyway.
	return []float32{float32(len(text)), float32(len(text) % 7)}, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Health(ctx context.Context) embedding.HealthStatus {
	if f.err != nil {
		return embedding.HealthStatus{Error: f.err.Error()}
	}
	return embedding.HealthStatus{Available: true, ModelReady: true}
}

type fixedCompleter struct{}

func (fixedCompleter) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return "", errors.New("not configured in tests")
}

func (fixedCompleter) Health(ctx context.Context) error { return nil }

func testServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	ms := store.NewMemoryStore(db)
	ls := store.NewLexicalStore(db)
	emb := &fixedEmbedder{err: errors.New("embedding off in tests")}
	vs := search.NewVectorSearcher(ms, emb)
	hs := search.NewHybridSearcher(ls, vs, ms, 0.5, 0.5, 60, logger)
	expander := search.NewQueryExpander(fixedCompleter{}, logger)
	es := search.NewExpandedSearcher(expander, ls, ms)

	svc := memory.NewService(
		db, ms,
		store.NewTagStore(db),
		store.NewAssociationStore(db),
		store.NewRetrievalStore(db, ms),
		store.NewStatsStore(db),
		ls, emb, fixedCompleter{}, hs, vs, es,
		memory.NewDeduplicator(ms, 0.92),
		10, 0.3, logger)

	srv := httptest.NewServer(NewRouter(svc, apiKey, logger))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestMemoryEndpoints(t *testing.T) {
	srv := testServer(t, "")

	var storedID string
	t.Run("store returns 201 with warnings", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/memories", models.StoreRequest{
			Content:    "deploys require a green main build",
			MemoryType: models.MemoryTypeFact,
			Tags:       []string{"CI"},
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		result := decodeBody[models.StoreResult](t, resp)
		if result.Memory == nil || result.Memory.ID == "" {
			t.Fatal("missing memory in response")
		}
		if len(result.Warnings) == 0 {
			t.Error("expected embedding warning")
		}
		storedID = result.Memory.ID
	})

	t.Run("duplicate store returns 200", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/memories", models.StoreRequest{
			Content:    "deploys require a green main build",
			MemoryType: models.MemoryTypeFact,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 for dedup", resp.StatusCode)
		}
		result := decodeBody[models.StoreResult](t, resp)
		if !result.Deduplicated || result.Memory.ID != storedID {
			t.Error("expected dedup to the original")
		}
	})

	t.Run("invalid store returns 400", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/memories", models.StoreRequest{Content: "x", MemoryType: "vibe"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("get roundtrip and 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/memories/" + storedID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		m := decodeBody[models.Memory](t, resp)
		if len(m.Tags) != 1 || m.Tags[0] != "ci" {
			t.Errorf("tags = %v, want [ci]", m.Tags)
		}

		resp, err = http.Get(srv.URL + "/memories/missing")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("search logs retrievals", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/memories/search", models.SearchRequest{
			Query: "green build", Strategy: models.StrategyHybrid,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		sr := decodeBody[models.SearchResponse](t, resp)
		if sr.VectorSearchUsed {
			t.Error("vector search should be degraded")
		}
		if len(sr.Results) != 1 || len(sr.RetrievalIDs) != 1 {
			t.Fatalf("results = %d, retrievalIds = %d, want 1/1", len(sr.Results), len(sr.RetrievalIDs))
		}

		t.Run("feedback on the logged retrieval", func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/retrievals/"+sr.RetrievalIDs[0]+"/feedback",
				map[string]bool{"useful": true})
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			resp.Body.Close()
		})
	})

	t.Run("feedback on unknown retrieval is 404", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/retrievals/nope/feedback", map[string]bool{"useful": true})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("supersede conflict maps to 409", func(t *testing.T) {
		mk := func(content string) string {
			resp := postJSON(t, srv.URL+"/memories", models.StoreRequest{
				Content: content, MemoryType: models.MemoryTypeFact,
			})
			return decodeBody[models.StoreResult](t, resp).Memory.ID
		}
		oldID, newID, thirdID := mk("old fact"), mk("new fact"), mk("third fact")

		resp := postJSON(t, fmt.Sprintf("%s/memories/%s/supersede", srv.URL, oldID),
			map[string]string{"newMemoryId": newID})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()

		resp = postJSON(t, fmt.Sprintf("%s/memories/%s/supersede", srv.URL, oldID),
			map[string]string{"newMemoryId": thirdID})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("stats endpoint", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/stats")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		stats := decodeBody[models.SystemStats](t, resp)
		if stats.TotalMemories == 0 {
			t.Error("expected counted memories")
		}
	})
}

func TestBearerAuth(t *testing.T) {
	srv := testServer(t, "sekrit")

	t.Run("health is open", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("missing token rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/stats")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("valid token accepted", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
		req.Header.Set("Authorization", "Bearer sekrit")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	})
}
