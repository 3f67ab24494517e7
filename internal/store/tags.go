package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/recall/internal/models"
)

// TagStore handles normalized tags and memory↔tag links.
type TagStore struct {
	db *DB
}

func NewTagStore(db *DB) *TagStore {
	return &TagStore{db: db}
}

// NormalizeTag lowercases and trims a raw tag label. Tagging with
// "  Security " and "security" resolves to the same bucket.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GetOrCreate returns the tag for name, creating it lazily on first use.
func (s *TagStore) GetOrCreate(name string) (*models.Tag, error) {
	name = NormalizeTag(name)
	if name == "" {
		return nil, fmt.Errorf("empty tag name")
	}

	tag, err := s.getByName(name)
	if err != nil {
		return nil, err
	}
	if tag != nil {
		return tag, nil
	}

	tag = &models.Tag{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().Unix(),
	}
	_, err = s.db.Exec(`
		INSERT INTO tags (id, name, memory_count, created_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(name) DO NOTHING
	`, tag.ID, tag.Name, tag.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	// Re-read in case a concurrent insert won the conflict.
	return s.getByName(name)
}

// LinkMemory tags a memory with the given labels. Duplicate labels collapse
// after normalization; the usage counter increments only for links that are
// actually new. Deleting a memory never decrements the counter.
func (s *TagStore) LinkMemory(memoryID string, names []string) error {
	now := time.Now().Unix()
	linked := false
	for _, name := range names {
		name = NormalizeTag(name)
		if name == "" {
			continue
		}
		tag, err := s.GetOrCreate(name)
		if err != nil {
			return err
		}

		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO memory_tags (memory_id, tag_id, created_at)
			VALUES (?, ?, ?)
		`, memoryID, tag.ID, now)
		if err != nil {
			return fmt.Errorf("link tag %q: %w", name, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			linked = true
			if _, err := s.db.Exec(
				`UPDATE tags SET memory_count = memory_count + 1 WHERE id = ?`, tag.ID,
			); err != nil {
				return fmt.Errorf("bump tag count: %w", err)
			}
		}
	}
	if linked {
		return s.syncTagText(memoryID)
	}
	return nil
}

// syncTagText refreshes the denormalized tag text on the memory row, which
// keeps the FTS index covering tag words via the update trigger.
func (s *TagStore) syncTagText(memoryID string) error {
	_, err := s.db.Exec(`
		UPDATE memories SET tags = COALESCE((
			SELECT group_concat(t.name, ' ')
			FROM memory_tags mt
			JOIN tags t ON t.id = mt.tag_id
			WHERE mt.memory_id = memories.id
		), '')
		WHERE id = ?
	`, memoryID)
	if err != nil {
		return fmt.Errorf("sync tag text: %w", err)
	}
	return nil
}

// ActiveMemoryIDsWithTag returns active memory IDs carrying the tag,
// newest-first.
func (s *TagStore) ActiveMemoryIDsWithTag(name string, limit int) ([]string, error) {
	name = NormalizeTag(name)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT m.id
		FROM memory_tags mt
		JOIN tags t ON t.id = mt.tag_id
		JOIN memories m ON m.id = mt.memory_id
		WHERE t.name = ? AND m.%s
		ORDER BY m.created_at DESC
		LIMIT ?
	`, activeWhere), name, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("memories with tag: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan memory id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns all tags ordered by usage.
func (s *TagStore) List() ([]models.Tag, error) {
	rows, err := s.db.Query(`
		SELECT id, name, memory_count, created_at
		FROM tags ORDER BY memory_count DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.MemoryCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Count returns the number of distinct tags.
func (s *TagStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&n)
	return n, err
}

func (s *TagStore) getByName(name string) (*models.Tag, error) {
	var t models.Tag
	err := s.db.QueryRow(`
		SELECT id, name, memory_count, created_at FROM tags WHERE name = ?
	`, name).Scan(&t.ID, &t.Name, &t.MemoryCount, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &t, nil
}
