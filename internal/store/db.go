package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the device-local glucolog.db.
// The readings table is shared with the rest of the app for reads; the
// sync_queue, sync_conflicts and audit_log tables are owned by the sync
// engine exclusively.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path with WAL mode,
// a busy timeout and foreign keys enabled.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
