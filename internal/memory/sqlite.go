package memory

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the process-wide durable backend for the log, similarity index,
// relationship graph, and profile table. A single SQLite connection
// (SetMaxOpenConns(1)) lets SQLite serialize access; the consistency engine
// adds per-key locking on top for read-modify-write edge blends.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store. Use ":memory:" in tests.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		author_id  TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		confidence REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_author ON records(author_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_records_channel ON records(channel_id, created_at);

	CREATE TABLE IF NOT EXISTS vectors (
		id         TEXT NOT NULL,
		kind       TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, kind)
	);

	CREATE TABLE IF NOT EXISTS nodes (
		kind  TEXT NOT NULL,
		key   TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (kind, key)
	);

	CREATE TABLE IF NOT EXISTS edges (
		source     TEXT NOT NULL,
		target     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		value      REAL NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (source, target, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(kind);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id    TEXT PRIMARY KEY,
		summary    TEXT NOT NULL DEFAULT '',
		mood       TEXT NOT NULL DEFAULT '',
		topics     TEXT NOT NULL DEFAULT '[]',
		traits     TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profile_deltas (
		user_id    TEXT NOT NULL,
		delta      REAL NOT NULL,
		applied_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profile_deltas ON profile_deltas(user_id, applied_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
