package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/recall/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestMemory(content string) *models.Memory {
	now := time.Now().Unix()
	return &models.Memory{
		ID:          uuid.New().String(),
		Content:     content,
		MemoryType:  models.MemoryTypeFact,
		Importance:  models.ImportanceMedium,
		Source:      models.SourceSystem,
		Confidence:  0.8,
		ContentHash: "hash-" + uuid.New().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func mustInsert(t *testing.T, ms *MemoryStore, m *models.Memory) {
	t.Helper()
	if err := ms.Insert(m); err != nil {
		t.Fatalf("insert memory: %v", err)
	}
}
