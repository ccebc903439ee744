// Package sqlite is the SQLite-backed implementation of
// internal/storage.Storage, using the pure-Go driver
// github.com/ncruces/go-sqlite3 (no cgo), matching the driver choice
// used across the beads family of repos rather than mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStorage implements storage.Storage on top of a single SQLite
// file. All methods are safe for concurrent use; SQLite's own locking
// serializes writers.
type SQLiteStorage struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at dsn and
// applies the schema migrations.
func New(ctx context.Context, dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer file database; avoids SQLITE_BUSY under the Go pool

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: pragma: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

// migrate applies the full schema idempotently with CREATE TABLE/INDEX
// IF NOT EXISTS, collapsed to a single up-front pass since this schema
// has no released prior version to migrate from.
func (s *SQLiteStorage) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		storage_url TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		original_filename TEXT,
		provenance_json TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, content_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_user ON sources(user_id)`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		source_id TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS interpretations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		temperature REAL NOT NULL DEFAULT 0,
		prompt_hash TEXT,
		code_version TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interpretations_user ON interpretations(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_interpretations_source ON interpretations(source_id)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		canonical_name TEXT,
		resolution_key TEXT NOT NULL,
		merged_to_entity_id TEXT,
		merged_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, entity_type, resolution_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_user_type ON entities(user_id, entity_type)`,

	`CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		source_id TEXT,
		interpretation_id TEXT,
		schema_version TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		source_priority INTEGER NOT NULL,
		fields_json TEXT NOT NULL,
		extraction_metadata_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_user_entity ON observations(user_id, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_interpretation ON observations(interpretation_id)`,

	`CREATE TABLE IF NOT EXISTS relationship_observations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_entity_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		target_entity_id TEXT NOT NULL,
		relationship_key TEXT NOT NULL,
		canonical_hash TEXT NOT NULL,
		source_id TEXT,
		interpretation_id TEXT,
		schema_version TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		source_priority INTEGER NOT NULL,
		fields_json TEXT NOT NULL,
		extraction_metadata_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relobs_user_key ON relationship_observations(user_id, relationship_key)`,
	`CREATE INDEX IF NOT EXISTS idx_relobs_user_source_entity ON relationship_observations(user_id, source_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relobs_user_target_entity ON relationship_observations(user_id, target_entity_id)`,

	`CREATE TABLE IF NOT EXISTS entity_snapshots (
		entity_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		canonical_name TEXT,
		fields_json TEXT NOT NULL,
		field_provenance_json TEXT NOT NULL,
		observation_count INTEGER NOT NULL,
		tombstoned INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL,
		redirected_from TEXT,
		PRIMARY KEY (entity_id)
	)`,

	`CREATE TABLE IF NOT EXISTS relationship_snapshots (
		relationship_key TEXT NOT NULL,
		canonical_hash TEXT NOT NULL,
		user_id TEXT NOT NULL,
		source_entity_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		target_entity_id TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		field_provenance_json TEXT NOT NULL,
		observation_count INTEGER NOT NULL,
		tombstoned INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (relationship_key)
	)`,

	`CREATE TABLE IF NOT EXISTS schema_definitions (
		entity_type TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		canonicalization_json TEXT,
		resolution_key_json TEXT NOT NULL,
		PRIMARY KEY (entity_type, schema_version)
	)`,

	`CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		entity_ids_json TEXT NOT NULL,
		source_id TEXT,
		interpretation_id TEXT,
		occurred_at TEXT NOT NULL,
		fields_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_user_occurred ON timeline_events(user_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS source_entity_edges (
		source_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		interpretation_id TEXT,
		PRIMARY KEY (source_id, entity_id, edge_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_source_entity_edges_entity ON source_entity_edges(user_id, entity_id)`,

	`CREATE TABLE IF NOT EXISTS entity_merges (
		user_id TEXT NOT NULL,
		from_entity_id TEXT NOT NULL,
		to_entity_id TEXT NOT NULL,
		observations_moved INTEGER NOT NULL,
		merged_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_config (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	)`,
}
