package store

import (
	"strings"
	"testing"

	"github.com/taskweave/recall/internal/models"
)

func TestLexicalSearch(t *testing.T) {
	db := testDB(t)
	ms := NewMemoryStore(db)
	ls := NewLexicalStore(db)

	seed := []string{
		"Always validate input at API boundaries before processing",
		"The deploy pipeline requires a green build on main",
		"Input sanitization prevents injection attacks in the parser",
	}
	ids := make([]string, len(seed))
	for i, content := range seed {
		m := newTestMemory(content)
		mustInsert(t, ms, m)
		ids[i] = m.ID
	}

	t.Run("fts match returns positive score and snippet", func(t *testing.T) {
		results, err := ls.Search("input", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		for _, r := range results {
			if r.Score <= 0 {
				t.Errorf("score = %v, want > 0", r.Score)
			}
			if r.Snippet == "" {
				t.Error("missing snippet")
			}
		}
	})

	t.Run("stemming matches inflected forms", func(t *testing.T) {
		// "validation" must reach "validate" via the porter tokenizer.
		results, err := ls.Search("input validation", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 || results[0].ID != ids[0] {
			t.Fatalf("got %d results, want the validate-at-boundaries memory", len(results))
		}
	})

	t.Run("no match returns empty", func(t *testing.T) {
		results, err := ls.Search("nonexistentterm", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("got %d results, want 0", len(results))
		}
	})

	t.Run("superseded memories never match", func(t *testing.T) {
		old := newTestMemory("validate the old way")
		repl := newTestMemory("replacement without the keyword")
		mustInsert(t, ms, old)
		mustInsert(t, ms, repl)
		if ok, _ := ms.Supersede(old.ID, repl.ID); !ok {
			t.Fatal("supersede failed")
		}

		results, err := ls.Search("validate", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range results {
			if r.ID == old.ID {
				t.Error("superseded memory matched")
			}
		}
	})

	t.Run("unparseable query falls back to substring scan", func(t *testing.T) {
		// Unbalanced quote is invalid FTS5 syntax.
		results, err := ls.Search(`"sanitization`, 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d fallback results, want 1", len(results))
		}
		if results[0].Score != 0 {
			t.Errorf("fallback score = %v, want 0", results[0].Score)
		}
		if !strings.Contains(results[0].Snippet, "sanitization") {
			t.Errorf("fallback snippet %q missing term", results[0].Snippet)
		}
	})

	t.Run("edited content is re-indexed", func(t *testing.T) {
		m := newTestMemory("the zebra constant lives here")
		mustInsert(t, ms, m)

		c := "the giraffe constant lives here"
		if _, err := ms.Update(m.ID, &models.UpdateRequest{Content: &c}); err != nil {
			t.Fatalf("update: %v", err)
		}

		results, _ := ls.Search("zebra", 10)
		if len(results) != 0 {
			t.Error("stale content still indexed")
		}
		results, _ = ls.Search("giraffe", 10)
		if len(results) != 1 {
			t.Error("new content not indexed")
		}
	})

	t.Run("tag words are searchable", func(t *testing.T) {
		ts := NewTagStore(db)
		m := newTestMemory("notes from the postmortem review")
		mustInsert(t, ms, m)
		if err := ts.LinkMemory(m.ID, []string{"kubernetes"}); err != nil {
			t.Fatalf("link tag: %v", err)
		}

		results, err := ls.Search("kubernetes", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 || results[0].ID != m.ID {
			t.Fatalf("got %d results, want the tagged memory", len(results))
		}
	})
}

func TestQueryPrimitives(t *testing.T) {
	db := testDB(t)
	ms := NewMemoryStore(db)
	ls := NewLexicalStore(db)

	seed := map[string]string{
		"retry":  "Retry failed requests with exponential backoff",
		"cache":  "Cache invalidation happens on every write",
		"both":   "Retry the cache warm-up after deploy",
		"phrase": "Connection pooling reduces database load significantly",
	}
	idByKey := map[string]string{}
	for key, content := range seed {
		m := newTestMemory(content)
		mustInsert(t, ms, m)
		idByKey[key] = m.ID
	}

	search := func(t *testing.T, query string) map[string]bool {
		t.Helper()
		results, err := ls.Search(query, 10)
		if err != nil {
			t.Fatalf("search %q: %v", query, err)
		}
		got := map[string]bool{}
		for _, r := range results {
			got[r.ID] = true
		}
		return got
	}

	t.Run("and terms require all", func(t *testing.T) {
		got := search(t, AndTerms("retry", "cache"))
		if len(got) != 1 || !got[idByKey["both"]] {
			t.Errorf("AND matched %d, want only the memory with both terms", len(got))
		}
	})

	t.Run("or terms match any", func(t *testing.T) {
		got := search(t, OrTerms("retry", "cache"))
		if len(got) != 3 {
			t.Errorf("OR matched %d, want 3", len(got))
		}
	})

	t.Run("phrase matches exact sequence", func(t *testing.T) {
		got := search(t, Phrase("connection pooling"))
		if len(got) != 1 || !got[idByKey["phrase"]] {
			t.Errorf("phrase matched %d, want only the pooling memory", len(got))
		}
		got = search(t, Phrase("pooling connection"))
		if len(got) != 0 {
			t.Error("reversed phrase should not match")
		}
	})

	t.Run("exclude removes matches", func(t *testing.T) {
		got := search(t, Exclude(OrTerms("retry", "cache"), "deploy"))
		if got[idByKey["both"]] {
			t.Error("excluded term still matched")
		}
		if len(got) != 2 {
			t.Errorf("got %d after exclusion, want 2", len(got))
		}
	})

	t.Run("exclusion-only query is rejected as empty", func(t *testing.T) {
		if q := Exclude("", "anything"); q != "" {
			t.Errorf("Exclude on empty base = %q, want empty", q)
		}
	})
}
