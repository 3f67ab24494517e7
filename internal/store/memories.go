package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskweave/recall/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanOne/scanMany.
const memoryColumns = `id, content, memory_type, importance, source,
	source_outcome_id, source_task_id, confidence, access_count,
	content_hash, embedding, embedding_dim,
	created_at, updated_at, last_accessed_at, expires_at, superseded_by`

// activeWhere is the visibility filter applied to every listing and search
// path: not superseded and not expired. Takes one arg: now (unix seconds).
const activeWhere = `superseded_by IS NULL AND (expires_at IS NULL OR expires_at > ?)`

// MemoryStore handles Memory CRUD operations on SQLite.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a new memory. The caller must set all required fields
// including ID and ContentHash.
func (s *MemoryStore) Insert(m *models.Memory) error {
	_, err := s.db.Exec(`
		INSERT INTO memories (
			id, content, memory_type, importance, source,
			source_outcome_id, source_task_id, confidence, access_count,
			content_hash, embedding, embedding_dim,
			created_at, updated_at, last_accessed_at, expires_at, superseded_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Content, string(m.MemoryType), string(m.Importance), string(m.Source),
		nullIfEmpty(m.SourceOutcomeID), nullIfEmpty(m.SourceTaskID),
		m.Confidence, m.AccessCount,
		m.ContentHash, m.Embedding, nullIfZero(m.EmbeddingDim),
		m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.ExpiresAt, m.SupersededBy,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetByID fetches a single memory by ID, superseded and expired included.
// Returns (nil, nil) when the memory does not exist.
func (s *MemoryStore) GetByID(id string) (*models.Memory, error) {
	m, err := s.scanOne(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachTags([]*models.Memory{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByIDs fetches multiple memories by ID in a single query. Missing IDs
// are silently absent from the result.
func (s *MemoryStore) GetByIDs(ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`,
			memoryColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// GetActiveByIDs fetches the subset of ids that are currently active.
func (s *MemoryStore) GetActiveByIDs(ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, time.Now().Unix())
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s) AND %s`,
			memoryColumns, strings.Join(placeholders, ","), activeWhere), args...)
	if err != nil {
		return nil, fmt.Errorf("get active by ids: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// Update applies partial updates to a memory. Returns (nil, nil) when the
// memory does not exist.
func (s *MemoryStore) Update(id string, req *models.UpdateRequest) (*models.Memory, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}

	if req.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *req.Content)
	}
	if req.MemoryType != nil {
		sets = append(sets, "memory_type = ?")
		args = append(args, string(*req.MemoryType))
	}
	if req.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, string(*req.Importance))
	}
	if req.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, *req.Confidence)
	}
	if req.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, *req.ExpiresAt)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE memories SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// Delete removes a memory by ID. Returns false when no row matched.
func (s *MemoryStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Supersede marks oldID as replaced by newID. The old memory stays queryable
// by ID but drops out of every active listing. Returns false when oldID does
// not exist or is already superseded.
func (s *MemoryStore) Supersede(oldID, newID string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE memories SET superseded_by = ?, updated_at = ?
		WHERE id = ? AND superseded_by IS NULL
	`, newID, time.Now().Unix(), oldID)
	if err != nil {
		return false, fmt.Errorf("supersede memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordAccess bumps a memory's access count and last_accessed_at timestamp.
func (s *MemoryStore) RecordAccess(id string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, now, id)
	return err
}

// SetContentHash updates the stored content hash after a content edit.
func (s *MemoryStore) SetContentHash(id, hash string) error {
	_, err := s.db.Exec(`UPDATE memories SET content_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("set content hash: %w", err)
	}
	return nil
}

// ClearEmbedding drops a memory's embedding, marking it for backfill.
func (s *MemoryStore) ClearEmbedding(id string) error {
	_, err := s.db.Exec(`
		UPDATE memories SET embedding = NULL, embedding_dim = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("clear embedding: %w", err)
	}
	return nil
}

// SetEmbedding stores an embedding vector (and its dimension) on a memory.
func (s *MemoryStore) SetEmbedding(id string, embedding []byte, dim int) error {
	_, err := s.db.Exec(`
		UPDATE memories SET embedding = ?, embedding_dim = ?, updated_at = ?
		WHERE id = ?
	`, embedding, dim, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// ListRecent returns active memories newest-first.
func (s *MemoryStore) ListRecent(limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC LIMIT ?`,
			memoryColumns, activeWhere),
		time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// ActiveWithEmbeddings returns all active memories carrying an embedding,
// for the brute-force cosine scan.
func (s *MemoryStore) ActiveWithEmbeddings() ([]*models.Memory, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE %s AND embedding IS NOT NULL`,
			memoryColumns, activeWhere),
		time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("active with embeddings: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// ActiveWithoutEmbedding returns up to limit active memories that lack an
// embedding, oldest first, for backfill.
func (s *MemoryStore) ActiveWithoutEmbedding(limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE %s AND embedding IS NULL ORDER BY created_at ASC LIMIT ?`,
			memoryColumns, activeWhere),
		time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("active without embedding: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// FindActiveByContentHash finds active memories with the given content hash.
func (s *MemoryStore) FindActiveByContentHash(hash string) ([]*models.Memory, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE content_hash = ? AND %s`,
			memoryColumns, activeWhere),
		hash, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// DeleteExpired removes all memories whose expires_at has passed.
func (s *MemoryStore) DeleteExpired() (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

func (s *MemoryStore) scanOne(row *sql.Row) (*models.Memory, error) {
	var m models.Memory
	var sourceOutcomeID, sourceTaskID sql.NullString
	var embeddingDim sql.NullInt64
	var lastAccessedAt, expiresAt sql.NullInt64
	var supersededBy sql.NullString

	err := row.Scan(
		&m.ID, &m.Content, &m.MemoryType, &m.Importance, &m.Source,
		&sourceOutcomeID, &sourceTaskID, &m.Confidence, &m.AccessCount,
		&m.ContentHash, &m.Embedding, &embeddingDim,
		&m.CreatedAt, &m.UpdatedAt, &lastAccessedAt, &expiresAt, &supersededBy,
	)
	if err != nil {
		return nil, err
	}

	populateNullables(&m, sourceOutcomeID, sourceTaskID, embeddingDim,
		lastAccessedAt, expiresAt, supersededBy)
	return &m, nil
}

func (s *MemoryStore) scanMany(rows *sql.Rows) ([]*models.Memory, error) {
	var result []*models.Memory
	for rows.Next() {
		var m models.Memory
		var sourceOutcomeID, sourceTaskID sql.NullString
		var embeddingDim sql.NullInt64
		var lastAccessedAt, expiresAt sql.NullInt64
		var supersededBy sql.NullString

		if err := rows.Scan(
			&m.ID, &m.Content, &m.MemoryType, &m.Importance, &m.Source,
			&sourceOutcomeID, &sourceTaskID, &m.Confidence, &m.AccessCount,
			&m.ContentHash, &m.Embedding, &embeddingDim,
			&m.CreatedAt, &m.UpdatedAt, &lastAccessedAt, &expiresAt, &supersededBy,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		populateNullables(&m, sourceOutcomeID, sourceTaskID, embeddingDim,
			lastAccessedAt, expiresAt, supersededBy)
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachTags(result); err != nil {
		return nil, err
	}
	return result, nil
}

// attachTags fills Tags on each memory with one join query.
func (s *MemoryStore) attachTags(mems []*models.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	placeholders := make([]string, len(mems))
	args := make([]any, len(mems))
	byID := make(map[string]*models.Memory, len(mems))
	for i, m := range mems {
		placeholders[i] = "?"
		args[i] = m.ID
		byID[m.ID] = m
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT mt.memory_id, t.name
		FROM memory_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.memory_id IN (%s)
		ORDER BY t.name
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("attach tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memoryID, name string
		if err := rows.Scan(&memoryID, &name); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if m, ok := byID[memoryID]; ok {
			m.Tags = append(m.Tags, name)
		}
	}
	return rows.Err()
}

func populateNullables(
	m *models.Memory,
	sourceOutcomeID, sourceTaskID sql.NullString,
	embeddingDim sql.NullInt64,
	lastAccessedAt, expiresAt sql.NullInt64,
	supersededBy sql.NullString,
) {
	if sourceOutcomeID.Valid {
		m.SourceOutcomeID = sourceOutcomeID.String
	}
	if sourceTaskID.Valid {
		m.SourceTaskID = sourceTaskID.String
	}
	if embeddingDim.Valid {
		m.EmbeddingDim = int(embeddingDim.Int64)
	}
	if lastAccessedAt.Valid {
		m.LastAccessedAt = &lastAccessedAt.Int64
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Int64
	}
	if supersededBy.Valid {
		m.SupersededBy = &supersededBy.String
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
