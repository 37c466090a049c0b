// Package db persists the order journal: a snapshot row per order and an
// append-only audit trail of state changes.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle behind the journal operations.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the journal database at path. The pool is
// capped at one connection; the journal has a single writer goroutine and
// SQLite serializes writers anyway.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	handle.SetMaxOpenConns(1)

	if _, err := handle.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		handle.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	return &Database{DB: handle}, nil
}

// Close releases the underlying handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
