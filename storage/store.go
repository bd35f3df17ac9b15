// Package storage is the durable Persisted State Store: a SQLite-backed
// repository for sessions, checkpoints, and transpiled contracts. Its
// Save/Load/Delete/FindBy shape is grounded on
// lib/runtime/persistence.go; its driver choice and migration style
// (modernc.org/sqlite, PRAGMA journal_mode=WAL, schema-as-CREATE-TABLE-IF-
// NOT-EXISTS, a handful of structured columns plus one opaque payload
// blob) follow kibbyd-adaptive-state's internal/state/store.go, the other
// example in the pack built against the same pure-Go sqlite driver. The
// payload blob holds CBOR rather than either teacher's JSON, matching
// value.Value's own wire format (value/cbor.go) instead of introducing a
// second encoding for the same data.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound mirrors lib/runtime/persistence.go's ErrInstanceNotFound,
// renamed to this package's domain.
var ErrNotFound = errors.New("storage: record not found")

// Store is a SQLite-backed repository for every durable artefact the
// orchestrator and policy gate need across restarts: sessions,
// checkpoints, contracts, and policy bundles.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at dsn and ensures
// its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: setting busy timeout: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			contract_ref TEXT NOT NULL,
			current_block_id TEXT NOT NULL,
			status INTEGER NOT NULL,
			gas_budget INTEGER NOT NULL,
			gas_remaining INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			last_event_at DATETIME NOT NULL,
			payload BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			label TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			payload BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS policy_bundles (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: migrating schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
