package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EmbeddingCacheStore persists embeddings keyed by content hash so repeat
// content never hits the embedding service twice. Entries are scoped to the
// model that produced them; switching models invalidates hits naturally.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get returns the cached vector for a hash under the given model, or
// (nil, nil) on a miss.
func (s *EmbeddingCacheStore) Get(contentHash, model string) ([]byte, error) {
	var vec []byte
	err := s.db.QueryRow(`
		SELECT embedding FROM embedding_cache
		WHERE content_hash = ? AND model = ?
	`, contentHash, model).Scan(&vec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return vec, nil
}

// Put upserts a cached vector for a hash.
func (s *EmbeddingCacheStore) Put(contentHash string, vec []byte, dim int, model string) error {
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, contentHash, vec, dim, model, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}
