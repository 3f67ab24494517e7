package store

import (
	"fmt"
	"strings"
	"time"
)

// LexicalResult holds one full-text match. Score semantics: higher is more
// relevant. A score of exactly 0 with a non-empty Snippet means the result
// came from the substring fallback and is matched-but-unranked.
type LexicalResult struct {
	ID      string
	Score   float64
	Snippet string
}

// fallbackSnippetLen is how much content the substring fallback returns.
const fallbackSnippetLen = 200

// LexicalStore is the lexical index: BM25 full-text search via SQLite FTS5,
// degrading to a substring scan over active memories when FTS is unavailable
// or rejects the query.
type LexicalStore struct {
	db *DB
}

func NewLexicalStore(db *DB) *LexicalStore {
	return &LexicalStore{db: db}
}

// Search performs a ranked full-text search over active memories.
// bm25() rank is negative where more negative = better match, so the rank is
// negated so callers always see higher = better.
func (s *LexicalStore) Search(query string, limit int) ([]LexicalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	results, err := s.searchFTS(query, limit)
	if err != nil {
		// FTS unavailable or the query doesn't parse as FTS5 syntax.
		// Degrade to the substring scan rather than failing the search.
		return s.fallbackScan(query, limit)
	}
	return results, nil
}

func (s *LexicalStore) searchFTS(query string, limit int) ([]LexicalResult, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT m.id, -rank AS score,
		       snippet(memories_fts, 0, '', '', '…', 16)
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND m.%s
		ORDER BY rank
		LIMIT ?
	`, activeWhere), query, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// fallbackScan is the degraded path: a LIKE scan over active memory content
// with score fixed at 0 and snippet = first 200 characters.
func (s *LexicalStore) fallbackScan(query string, limit int) ([]LexicalResult, error) {
	// Strip quoting/operator syntax so the raw terms still match.
	plain := strings.NewReplacer(`"`, "", "*", "").Replace(query)

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, substr(content, 1, %d)
		FROM memories
		WHERE %s AND content LIKE ?
		ORDER BY created_at DESC
		LIMIT ?
	`, fallbackSnippetLen, activeWhere),
		time.Now().Unix(), "%"+plain+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("fallback scan: %w", err)
	}
	defer rows.Close()

	var results []LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ID, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan fallback result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// The four query primitives higher layers compose lexical queries from.
// Output is FTS5 syntax, which the fallback scan tolerates by stripping.

// AndTerms joins terms with FTS5's implicit AND.
func AndTerms(terms ...string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, quoteTerm(t))
		}
	}
	return strings.Join(quoted, " ")
}

// OrTerms matches any of the given terms.
func OrTerms(terms ...string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, quoteTerm(t))
		}
	}
	if len(quoted) == 0 {
		return ""
	}
	return "(" + strings.Join(quoted, " OR ") + ")"
}

// Phrase matches the exact quoted phrase.
func Phrase(phrase string) string {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(phrase, `"`, `""`) + `"`
}

// Exclude appends a NOT-exclusion of a term to a base query.
func Exclude(base, term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return base
	}
	if base == "" {
		return ""
	}
	return base + " NOT " + quoteTerm(term)
}

// quoteTerm wraps a single term in FTS5 string quotes so tokens containing
// punctuation don't get parsed as operators.
func quoteTerm(t string) string {
	return `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
}
