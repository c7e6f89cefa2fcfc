package store

import (
	"database/sql"
	"time"
)

// AddConflict records a detected divergence between a local and a server
// version of the same entity.
func (db *DB) AddConflict(c *Conflict) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO sync_conflicts (reading_id, local_version, server_version, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ReadingID, c.LocalVersion, c.ServerVersion, ConflictPending, c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	c.Status = ConflictPending
	return nil
}

// GetConflict returns a conflict by id, or nil if absent.
func (db *DB) GetConflict(id int64) (*Conflict, error) {
	row := db.QueryRow(`
		SELECT id, reading_id, local_version, server_version, status, created_at,
			COALESCE(resolved_at, 0)
		FROM sync_conflicts WHERE id = ?`, id)
	var c Conflict
	err := row.Scan(&c.ID, &c.ReadingID, &c.LocalVersion, &c.ServerVersion,
		&c.Status, &c.CreatedAt, &c.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PendingConflicts returns unresolved conflicts, oldest first.
func (db *DB) PendingConflicts() ([]Conflict, error) {
	rows, err := db.Query(`
		SELECT id, reading_id, local_version, server_version, status, created_at,
			COALESCE(resolved_at, 0)
		FROM sync_conflicts WHERE status = ? ORDER BY id ASC`, ConflictPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var conflicts []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.ReadingID, &c.LocalVersion, &c.ServerVersion,
			&c.Status, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// HasPendingConflict reports whether an unresolved conflict already exists
// for the given reading, so repeated fetches don't stack duplicates.
func (db *DB) HasPendingConflict(readingID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sync_conflicts WHERE reading_id = ? AND status = ?`,
		readingID, ConflictPending).Scan(&n)
	return n > 0, err
}
