package store

import (
	"fmt"
	"time"

	"github.com/taskweave/recall/internal/models"
)

// StatsStore produces system-wide counters for the stats endpoint.
type StatsStore struct {
	db *DB
}

func NewStatsStore(db *DB) *StatsStore {
	return &StatsStore{db: db}
}

// System returns counts by type and importance over the active set, plus
// table totals.
func (s *StatsStore) System() (*models.SystemStats, error) {
	stats := &models.SystemStats{
		ByType:       make(map[string]int),
		ByImportance: make(map[string]int),
	}
	now := time.Now().Unix()

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&stats.TotalMemories); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	if err := s.db.QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM memories WHERE %s`, activeWhere), now,
	).Scan(&stats.ActiveMemories); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if err := s.db.QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM memories WHERE %s AND embedding IS NOT NULL`, activeWhere), now,
	).Scan(&stats.WithEmbedding); err != nil {
		return nil, fmt.Errorf("count embedded: %w", err)
	}

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT memory_type, COUNT(*) FROM memories WHERE %s GROUP BY memory_type`, activeWhere), now)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		stats.ByType[t] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	impRows, err := s.db.Query(
		fmt.Sprintf(`SELECT importance, COUNT(*) FROM memories WHERE %s GROUP BY importance`, activeWhere), now)
	if err != nil {
		return nil, fmt.Errorf("count by importance: %w", err)
	}
	defer impRows.Close()
	for impRows.Next() {
		var i string
		var c int
		if err := impRows.Scan(&i, &c); err != nil {
			return nil, fmt.Errorf("scan importance count: %w", err)
		}
		stats.ByImportance[i] = c
	}
	if err := impRows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM associations`).Scan(&stats.Associations); err != nil {
		return nil, fmt.Errorf("count associations: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM retrievals`).Scan(&stats.Retrievals); err != nil {
		return nil, fmt.Errorf("count retrievals: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&stats.Tags); err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}

	return stats, nil
}
