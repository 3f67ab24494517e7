package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/recall/internal/models"
)

// RetrievalStore is the append-only retrieval feedback log. Entries are
// never mutated after insert except for the tri-state usefulness flag.
type RetrievalStore struct {
	db       *DB
	memories *MemoryStore
}

func NewRetrievalStore(db *DB, memories *MemoryStore) *RetrievalStore {
	return &RetrievalStore{db: db, memories: memories}
}

// Log records that a memory was returned by a search. As a side effect the
// memory's access counter and last-accessed timestamp are bumped.
func (s *RetrievalStore) Log(memoryID string, method models.RetrievalMethod, query string, relevanceScore float64, outcomeID, taskID string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(`
		INSERT INTO retrievals (id, memory_id, method, query, relevance_score, outcome_id, task_id, was_useful, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, id, memoryID, string(method), query, relevanceScore,
		nullIfEmpty(outcomeID), nullIfEmpty(taskID), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("log retrieval: %w", err)
	}

	if err := s.memories.RecordAccess(memoryID); err != nil {
		return "", fmt.Errorf("record access: %w", err)
	}
	return id, nil
}

// MarkUseful sets the usefulness flag. Last write wins; unset entries stay
// "unknown", distinct from both true and false. Returns (nil, nil) when the
// entry does not exist.
func (s *RetrievalStore) MarkUseful(id string, useful bool) (*models.RetrievalEntry, error) {
	val := 0
	if useful {
		val = 1
	}
	res, err := s.db.Exec(`UPDATE retrievals SET was_useful = ? WHERE id = ?`, val, id)
	if err != nil {
		return nil, fmt.Errorf("mark useful: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// GetByID returns one log entry, or (nil, nil) when missing.
func (s *RetrievalStore) GetByID(id string) (*models.RetrievalEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, memory_id, method, query, relevance_score, outcome_id, task_id, was_useful, created_at
		FROM retrievals WHERE id = ?
	`, id)
	e, err := scanRetrieval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// StatsFor aggregates usefulness judgments for one memory. The ratio
// excludes unknowns from the denominator and is 0 when nothing was judged.
func (s *RetrievalStore) StatsFor(memoryID string) (*models.RetrievalStats, error) {
	stats := &models.RetrievalStats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN was_useful = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN was_useful = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN was_useful IS NULL THEN 1 ELSE 0 END), 0)
		FROM retrievals WHERE memory_id = ?
	`, memoryID).Scan(&stats.Total, &stats.Useful, &stats.NotUseful, &stats.Unknown)
	if err != nil {
		return nil, fmt.Errorf("retrieval stats: %w", err)
	}

	if judged := stats.Useful + stats.NotUseful; judged > 0 {
		stats.UsefulnessRatio = float64(stats.Useful) / float64(judged)
	}
	return stats, nil
}

// Count returns the total number of log entries.
func (s *RetrievalStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM retrievals`).Scan(&n)
	return n, err
}

func scanRetrieval(row rowScanner) (*models.RetrievalEntry, error) {
	var e models.RetrievalEntry
	var query, outcomeID, taskID sql.NullString
	var wasUseful sql.NullInt64

	if err := row.Scan(&e.ID, &e.MemoryID, &e.Method, &query, &e.RelevanceScore,
		&outcomeID, &taskID, &wasUseful, &e.CreatedAt); err != nil {
		return nil, err
	}

	if query.Valid {
		e.Query = query.String
	}
	if outcomeID.Valid {
		e.OutcomeID = outcomeID.String
	}
	if taskID.Valid {
		e.TaskID = taskID.String
	}
	if wasUseful.Valid {
		b := wasUseful.Int64 == 1
		e.WasUseful = &b
	}
	return &e, nil
}
