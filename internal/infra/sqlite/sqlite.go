// Package sqlite provides the durable store for Cartella: account
// balances, the append-only transaction ledger, and knowledge-entry
// sync metadata. CGO-free via modernc.org/sqlite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and owns schema migration.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY churn under concurrent ledger traffic.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Prepaid credit balances, one row per storefront account
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id      TEXT PRIMARY KEY,
			class           TEXT NOT NULL DEFAULT 'standard',
			current_balance INTEGER NOT NULL DEFAULT 0 CHECK (current_balance >= 0),
			total_spent     INTEGER NOT NULL DEFAULT 0,
			last_updated    TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`,

		// Append-only transaction ledger
		`CREATE TABLE IF NOT EXISTS transactions (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			account_id     TEXT NOT NULL,
			kind           TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			balance_before INTEGER NOT NULL,
			balance_after  INTEGER NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			metadata       TEXT NOT NULL DEFAULT '{}',
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, seq)`,

		// Knowledge-entry sync metadata, one row per catalog item sent remotely
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			local_id       TEXT PRIMARY KEY,
			remote_id      TEXT NOT NULL DEFAULT '',
			fingerprint    TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'PENDING',
			last_synced_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_status ON knowledge_entries(status)`,
	}
}

func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Time helpers ───────────────────────────────────────────────────────────
// Timestamps are stored as RFC3339 text, UTC.

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
