package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/store"
)

// DefaultExpansionCount is how many query variants expansion asks for.
const DefaultExpansionCount = 5

// Completer is the slice of the completion adapter query expansion needs.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

const expansionSystemPrompt = `You generate alternative phrasings of search queries ` +
	`for a knowledge base of engineering facts, patterns, decisions, and lessons. ` +
	`Respond with only a JSON object of the form ` +
	`{"expansions":[{"query":"...","type":"synonym|related|rephrase|technical"}]}.`

// QueryExpander widens recall by asking the completion service for
// alternative phrasings before fan-out search. Expansion is strictly
// additive: the original query is always the first entry, and any failure
// degrades to original-only.
type QueryExpander struct {
	completer Completer
	logger    *slog.Logger
}

func NewQueryExpander(completer Completer, logger *slog.Logger) *QueryExpander {
	return &QueryExpander{completer: completer, logger: logger}
}

// ShouldExpand decides whether expansion is worth the latency and cost.
// Short or few-word queries benefit from widened recall; long queries that
// already carry boolean/phrase operators signal precise intent and are
// passed through untouched.
func ShouldExpand(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	if len(query) < 20 {
		return true
	}
	words := strings.Fields(query)
	if len(words) <= 2 {
		return true
	}
	if len(words) <= 5 && !hasOperators(query) {
		return true
	}
	return false
}

func hasOperators(query string) bool {
	if strings.ContainsAny(query, `"*`) {
		return true
	}
	for _, w := range strings.Fields(query) {
		switch w {
		case "AND", "OR", "NOT":
			return true
		}
	}
	return false
}

// Expand returns up to count+1 query variants, the original always first.
// Never returns an error: completion failures and unparseable output both
// degrade to [original].
func (e *QueryExpander) Expand(ctx context.Context, query string, count int) []models.ExpandedQuery {
	if count <= 0 {
		count = DefaultExpansionCount
	}
	expansions := []models.ExpandedQuery{
		{Query: query, ExpansionType: models.ExpansionOriginal},
	}

	prompt := fmt.Sprintf("Generate up to %d alternative phrasings for the search query: %q", count, query)
	text, err := e.completer.Complete(ctx, prompt, expansionSystemPrompt)
	if err != nil {
		e.logger.Warn("query expansion unavailable, using original only", "error", err)
		return expansions
	}

	parsed, ok := parseExpansions(text)
	if !ok {
		e.logger.Warn("query expansion returned unparseable output", "query", query)
		return expansions
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(query)): true}
	for _, exp := range parsed {
		q := strings.TrimSpace(exp.Query)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true

		t := exp.ExpansionType
		switch t {
		case models.ExpansionSynonym, models.ExpansionRelated,
			models.ExpansionRephrase, models.ExpansionTechnical:
		default:
			t = models.ExpansionRelated
		}
		expansions = append(expansions, models.ExpandedQuery{Query: q, ExpansionType: t})
		if len(expansions) > count {
			break
		}
	}
	return expansions
}

type expansionPayload struct {
	Expansions []struct {
		Query string `json:"query"`
		Type  string `json:"type"`
	} `json:"expansions"`
}

// parseExpansions extracts the first well-formed JSON object from the
// completion output, tolerating surrounding prose and code fences.
func parseExpansions(text string) ([]models.ExpandedQuery, bool) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, false
	}
	var payload expansionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	out := make([]models.ExpandedQuery, 0, len(payload.Expansions))
	for _, e := range payload.Expansions {
		out = append(out, models.ExpandedQuery{
			Query:         e.Query,
			ExpansionType: models.ExpansionType(e.Type),
		})
	}
	return out, true
}

// extractJSONObject returns the first balanced {...} span in s.
func extractJSONObject(s string) ([]byte, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), true
			}
		}
	}
	return nil, false
}

// ExpandedResult is one hit from the expanded fan-out search, recording
// which query variant produced it.
type ExpandedResult struct {
	ID            string
	Memory        *models.Memory
	Score         float64
	Snippet       string
	SourceQuery   string
	ExpansionType models.ExpansionType
}

// ExpandedSearcher runs the lexical index once per expanded query and merges
// the result sets.
type ExpandedSearcher struct {
	expander *QueryExpander
	lexical  *store.LexicalStore
	memories *store.MemoryStore
}

func NewExpandedSearcher(expander *QueryExpander, lexical *store.LexicalStore, memories *store.MemoryStore) *ExpandedSearcher {
	return &ExpandedSearcher{expander: expander, lexical: lexical, memories: memories}
}

// Search expands the query, fans out one lexical search per variant with a
// per-query cap, merges deduplicating by memory ID (first occurrence wins),
// sorts the merged set by per-source score descending, and truncates to
// limit.
func (s *ExpandedSearcher) Search(ctx context.Context, query string, limit int) ([]ExpandedResult, []models.ExpandedQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	expansions := s.expander.Expand(ctx, query, DefaultExpansionCount)
	perQuery := limit

	// Fan out concurrently; the per-expansion result slots keep merge order
	// deterministic regardless of completion timing.
	sets := make([][]store.LexicalResult, len(expansions))
	g, _ := errgroup.WithContext(ctx)
	for i, exp := range expansions {
		g.Go(func() error {
			results, err := s.lexical.Search(exp.Query, perQuery)
			if err != nil {
				return nil // one bad variant never sinks the fan-out
			}
			sets[i] = results
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var merged []ExpandedResult
	for i, set := range sets {
		for _, r := range set {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, ExpandedResult{
				ID:            r.ID,
				Score:         r.Score,
				Snippet:       r.Snippet,
				SourceQuery:   expansions[i].Query,
				ExpansionType: expansions[i].ExpansionType,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	if err := s.attachMemories(merged); err != nil {
		return nil, nil, err
	}
	out := merged[:0]
	for _, r := range merged {
		if r.Memory != nil {
			out = append(out, r)
		}
	}
	return out, expansions, nil
}

func (s *ExpandedSearcher) attachMemories(results []ExpandedResult) error {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	mems, err := s.memories.GetActiveByIDs(ids)
	if err != nil {
		return fmt.Errorf("resolve expanded hits: %w", err)
	}
	byID := make(map[string]*models.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	for i := range results {
		results[i].Memory = byID[results[i].ID]
	}
	return nil
}
