package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  content TEXT NOT NULL,
  memory_type TEXT NOT NULL,
  importance TEXT NOT NULL DEFAULT 'medium',
  source TEXT NOT NULL,
  source_outcome_id TEXT,
  source_task_id TEXT,
  confidence REAL NOT NULL DEFAULT 1.0,
  access_count INTEGER NOT NULL DEFAULT 0,
  content_hash TEXT NOT NULL,
  tags TEXT NOT NULL DEFAULT '',
  embedding BLOB,
  embedding_dim INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  last_accessed_at INTEGER,
  expires_at INTEGER,
  superseded_by TEXT REFERENCES memories(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_expires_at ON memories(expires_at);
CREATE INDEX IF NOT EXISTS idx_memories_superseded_by ON memories(superseded_by);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS tags (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  memory_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_tags (
  memory_id TEXT NOT NULL,
  tag_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
  FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE,
  UNIQUE(memory_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag_id);

CREATE TABLE IF NOT EXISTS associations (
  id TEXT PRIMARY KEY,
  memory_id TEXT NOT NULL,
  association_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  strength REAL NOT NULL DEFAULT 0.7,
  context TEXT,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_associations_memory ON associations(memory_id);
CREATE INDEX IF NOT EXISTS idx_associations_target ON associations(target_id, association_type);

CREATE TABLE IF NOT EXISTS retrievals (
  id TEXT PRIMARY KEY,
  memory_id TEXT NOT NULL,
  method TEXT NOT NULL,
  query TEXT,
  relevance_score REAL NOT NULL DEFAULT 0,
  outcome_id TEXT,
  task_id TEXT,
  was_useful INTEGER,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_retrievals_memory ON retrievals(memory_id);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  model TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	rebuild, err := migrateFTS(db)
	if err != nil {
		return err
	}

	// FTS5 virtual table and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	// Porter stemming so "validation" matches "validate".
	fts := `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
  content, tags,
  content='memories', content_rowid='rowid',
  tokenize='porter unicode61'
);
`
	if _, err := db.Exec(fts); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
  INSERT INTO memories_fts(rowid, content, tags)
  VALUES (NEW.rowid, NEW.content, NEW.tags);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, tags)
  VALUES ('delete', OLD.rowid, OLD.content, OLD.tags);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content, tags ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, tags)
  VALUES ('delete', OLD.rowid, OLD.content, OLD.tags);
  INSERT INTO memories_fts(rowid, content, tags)
  VALUES (NEW.rowid, NEW.content, NEW.tags);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	if rebuild {
		if _, err := db.Exec(`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`); err != nil {
			return fmt.Errorf("rebuild migrated fts index: %w", err)
		}
	}

	return nil
}

// migrateFTS upgrades databases created before the FTS table carried the
// porter tokenizer and the tags column. The old table and its triggers are
// dropped so initSchema recreates them; the caller must rebuild the index
// afterwards. Returns whether a rebuild is needed.
func migrateFTS(db *sql.DB) (bool, error) {
	var n int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('memories') WHERE name = 'tags'`,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("inspect memories columns: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE memories ADD COLUMN tags TEXT NOT NULL DEFAULT ''`); err != nil {
			return false, fmt.Errorf("add tags column: %w", err)
		}
	}

	var ftsSQL string
	err := db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'memories_fts'`,
	).Scan(&ftsSQL)
	if err == sql.ErrNoRows {
		return false, nil // fresh database
	}
	if err != nil {
		return false, fmt.Errorf("inspect fts table: %w", err)
	}
	if strings.Contains(ftsSQL, "porter") {
		return false, nil
	}

	stmts := []string{
		`DROP TRIGGER IF EXISTS memories_ai`,
		`DROP TRIGGER IF EXISTS memories_ad`,
		`DROP TRIGGER IF EXISTS memories_au`,
		`DROP TABLE memories_fts`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return false, fmt.Errorf("migrate fts table: %w", err)
		}
	}
	return true, nil
}

// MemoryCount returns the total number of memories in the database.
func (db *DB) MemoryCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// RebuildIndex rebuilds the FTS5 index from the memories table.
func (db *DB) RebuildIndex() error {
	if _, err := db.Exec(`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild fts index: %w", err)
	}
	return nil
}
