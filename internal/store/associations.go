package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/taskweave/recall/internal/models"
)

// AssociationStore handles the association graph: directed edges from
// memories to outcomes, tasks, and other memories. No uniqueness or cycle
// constraint is enforced — the same pair may be associated repeatedly, each
// edge recording a distinct reason, and related_to_memory edges may cycle.
type AssociationStore struct {
	db *DB
}

func NewAssociationStore(db *DB) *AssociationStore {
	return &AssociationStore{db: db}
}

// Insert stores an association. Validation (strength range, self-edges)
// happens at the facade boundary.
func (s *AssociationStore) Insert(a *models.Association) error {
	_, err := s.db.Exec(`
		INSERT INTO associations (id, memory_id, association_type, target_id, strength, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.MemoryID, string(a.AssociationType), a.TargetID, a.Strength,
		nullIfEmpty(a.Context), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert association: %w", err)
	}
	return nil
}

// GetByID returns one association, or (nil, nil) when missing.
func (s *AssociationStore) GetByID(id string) (*models.Association, error) {
	a, err := scanAssociation(s.db.QueryRow(`
		SELECT id, memory_id, association_type, target_id, strength, context, created_at
		FROM associations WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetForMemory lists a memory's outgoing associations, strongest first.
func (s *AssociationStore) GetForMemory(memoryID string) ([]models.Association, error) {
	rows, err := s.db.Query(`
		SELECT id, memory_id, association_type, target_id, strength, context, created_at
		FROM associations
		WHERE memory_id = ?
		ORDER BY strength DESC, created_at DESC
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("associations for memory: %w", err)
	}
	defer rows.Close()
	return scanAssociations(rows)
}

// ActiveMemoryIDsForTarget returns IDs of active memories associated with a
// target, ordered by (strength desc, importance desc). An empty
// associationType matches all edge types.
func (s *AssociationStore) ActiveMemoryIDsForTarget(targetID string, associationType models.AssociationType, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT a.memory_id
		FROM associations a
		JOIN memories m ON m.id = a.memory_id
		WHERE a.target_id = ? AND m.%s
	`, activeWhere)
	args := []any{targetID, time.Now().Unix()}

	if associationType != "" {
		query += ` AND a.association_type = ?`
		args = append(args, string(associationType))
	}

	query += `
		ORDER BY a.strength DESC,
			CASE m.importance
				WHEN 'critical' THEN 3
				WHEN 'high' THEN 2
				WHEN 'medium' THEN 1
				ELSE 0
			END DESC,
			m.created_at DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memories for target: %w", err)
	}
	defer rows.Close()

	var ids []string
	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan memory id: %w", err)
		}
		// The same memory may be associated with a target more than once;
		// collapse to the strongest edge's position.
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStrength sets an association's strength, clamping to [0,1].
// Returns (nil, nil) when the association does not exist.
func (s *AssociationStore) UpdateStrength(id string, strength float64) (*models.Association, error) {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	res, err := s.db.Exec(`UPDATE associations SET strength = ? WHERE id = ?`, strength, id)
	if err != nil {
		return nil, fmt.Errorf("update strength: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// Count returns the total number of associations.
func (s *AssociationStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM associations`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssociation(row rowScanner) (*models.Association, error) {
	var a models.Association
	var context sql.NullString
	if err := row.Scan(&a.ID, &a.MemoryID, &a.AssociationType, &a.TargetID,
		&a.Strength, &context, &a.CreatedAt); err != nil {
		return nil, err
	}
	if context.Valid {
		a.Context = context.String
	}
	return &a, nil
}

func scanAssociations(rows *sql.Rows) ([]models.Association, error) {
	var result []models.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
