// Package storage archives music history and log lines in SQLite so the
// feeds survive a daemon restart.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the archive database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the archive at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS music_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id   TEXT    NOT NULL DEFAULT '',
			title      TEXT    NOT NULL DEFAULT '',
			author     TEXT    NOT NULL DEFAULT '',
			uri        TEXT    NOT NULL DEFAULT '',
			artwork    TEXT    NOT NULL DEFAULT '',
			length_ms  INTEGER NOT NULL DEFAULT 0,
			requester  TEXT    NOT NULL DEFAULT '',
			played_at  INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS log_lines (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			line      TEXT    NOT NULL,
			logged_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create log table: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// prune keeps the newest keep rows of table.
func (d *DB) prune(table string, keep int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(fmt.Sprintf(`
		DELETE FROM %s WHERE id NOT IN (
			SELECT id FROM %s ORDER BY id DESC LIMIT ?
		)`, table, table), keep)
	return err
}
