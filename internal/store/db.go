// Package store keeps planr's local state: stable project color
// assignments and an audit trail of executed batches. The ledger stays the
// system of record; nothing here is ever pushed back.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

func Open() (*DB, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("finding home directory: %w", err)
	}

	dir := filepath.Join(home, ".config", "planr")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return OpenPath(filepath.Join(dir, "planr.db"))
}

// OpenPath opens (or creates) the database at an explicit location.
func OpenPath(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := &DB{db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS palette (
			project_no TEXT PRIMARY KEY,
			slot INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_no TEXT NOT NULL,
			task_no TEXT NOT NULL,
			resource_no TEXT NOT NULL,
			week_start TEXT NOT NULL,
			created_count INTEGER NOT NULL,
			updated_count INTEGER NOT NULL,
			deleted_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			executed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS batch_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id INTEGER NOT NULL,
			operation TEXT NOT NULL,
			date TEXT,
			remote_line_id TEXT,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}

func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
