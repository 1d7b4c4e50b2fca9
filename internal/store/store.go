package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

// fqnCacheSize bounds the FindSymbolByFQN memo.
const fqnCacheSize = 4096

// Store is the SQLite data access layer for the index: files, symbols,
// references and metadata. Writes are serialized internally so callers may
// share one Store across goroutines.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	fqns    *lru.Cache[string, fqnHit]
}

// fqnHit is a memoized FindSymbolByFQN result. A nil sym is a negative hit.
type fqnHit struct {
	sym  *Symbol
	path string
}

// NewStore opens a SQLite database at dbPath with WAL mode and foreign keys enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	cache, err := lru.New[string, fqnHit](fqnCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("fqn cache: %w", err)
	}
	return &Store{db: db, fqns: cache}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read-only ad hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// invalidate drops memoized lookups after any write.
func (s *Store) invalidate() {
	s.fqns.Purge()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  content_hash    TEXT NOT NULL,
  last_mtime      INTEGER NOT NULL DEFAULT 0,
  last_size       INTEGER NOT NULL DEFAULT 0,
  indexing_status TEXT NOT NULL DEFAULT 'dirty',
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id               TEXT PRIMARY KEY,
  file_id          INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  name             TEXT NOT NULL,
  kind             TEXT NOT NULL,
  lineno           INTEGER,
  col_offset       INTEGER,
  end_lineno       INTEGER,
  end_col_offset   INTEGER,
  logical_path     TEXT,
  canonical_fqn    TEXT,
  alias_target_fqn TEXT,
  alias_target_id  TEXT,
  docstring_hash   TEXT,
  signature_hash   TEXT,
  signature_text   TEXT
);

CREATE TABLE IF NOT EXISTS references_ (
  id              INTEGER PRIMARY KEY,
  source_file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  target_fqn      TEXT NOT NULL,
  target_id       TEXT,
  kind            TEXT NOT NULL,
  context         TEXT NOT NULL DEFAULT '',
  lineno          INTEGER,
  col_offset      INTEGER,
  end_lineno      INTEGER,
  end_col_offset  INTEGER
);

CREATE TABLE IF NOT EXISTS metadata (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(indexing_status);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_fqn ON symbols(canonical_fqn);
CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);
CREATE INDEX IF NOT EXISTS idx_symbols_alias_target ON symbols(alias_target_id);
CREATE INDEX IF NOT EXISTS idx_references_file ON references_(source_file_id);
CREATE INDEX IF NOT EXISTS idx_references_fqn ON references_(target_fqn);
CREATE INDEX IF NOT EXISTS idx_references_target ON references_(target_id);
`

// GetMetadata returns the value stored under key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return v, nil
}

// SetMetadata upserts a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}
