// Package durable provides persistent server state backed by an embedded
// SQLite database (modernc.org/sqlite, no cgo). It owns the database
// lifecycle and exposes the replay and audit tables spec.md §6 names.
//
// Migration design follows the teacher: SQL statements live in the
// [migrations] slice and are applied exactly once, tracked in
// schema_migrations. Append, never edit or reorder.
package durable

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — replay cursors, one row per (client, topic)
	`CREATE TABLE IF NOT EXISTS replay_cursors (
		client_id text NOT NULL,
		topic     text NOT NULL,
		cursor    bigint NOT NULL,
		PRIMARY KEY (client_id, topic)
	)`,
	// v2 — replay events, opaque encoded EventEnvelope payloads
	`CREATE TABLE IF NOT EXISTS replay_events (
		client_id  text NOT NULL,
		topic      text NOT NULL,
		cursor     bigint NOT NULL,
		payload    blob NOT NULL,
		created_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, topic, cursor)
	)`,
	// v3 — append-only command audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id          TEXT NOT NULL,
		topic             TEXT NOT NULL,
		command_kind      TEXT NOT NULL,
		target_user_id    TEXT NOT NULL DEFAULT '',
		target_message_id TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — index for replay event range scans
	`CREATE INDEX IF NOT EXISTS idx_replay_events_lookup ON replay_events(client_id, topic, cursor)`,
	// v5 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies pending migrations.
// A ":memory:" path is not shared across the pool's connections (each
// gets its own empty database), so tests open a file under t.TempDir().
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		slog.Warn("durable store: WAL mode unavailable", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("durable store: busy_timeout unavailable", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Info("durable store: applied migration", "version", v)
	}
	return nil
}

// Backup copies the database to destPath via SQLite's VACUUM INTO.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

// Optimize runs PRAGMA optimize for the query planner.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// DB exposes the underlying *sql.DB for packages (replay, audit) that own
// their own query surface against these tables.
func (s *Store) DB() *sql.DB { return s.db }
