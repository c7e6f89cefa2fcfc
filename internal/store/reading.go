package store

import (
	"database/sql"
	"time"
)

const readingColumns = `id, backend_id, value, unit, category, notes, status,
	measured_at, synced, is_local_only, local_stored_at, updated_at`

// AddReading inserts a new reading row.
func (db *DB) AddReading(r *Reading) error {
	_, err := db.Exec(`
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.BackendID), r.Value, r.Unit, r.Category, r.Notes, r.Status,
		r.MeasuredAt, r.Synced, r.IsLocalOnly, r.LocalStoredAt, r.UpdatedAt)
	return err
}

// GetReading returns a reading by local id, or nil if absent.
func (db *DB) GetReading(id string) (*Reading, error) {
	row := db.QueryRow(`SELECT `+readingColumns+` FROM readings WHERE id = ?`, id)
	return scanReading(row)
}

// GetReadingByBackendID returns the reading holding the given backend-issued
// id, or nil if the device has never seen it. This is the dedup lookup the
// pull fetcher depends on.
func (db *DB) GetReadingByBackendID(backendID string) (*Reading, error) {
	row := db.QueryRow(`SELECT `+readingColumns+` FROM readings WHERE backend_id = ?`, backendID)
	return scanReading(row)
}

// ListReadings returns readings ordered by measurement time descending.
func (db *DB) ListReadings(limit, offset int) ([]Reading, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+readingColumns+` FROM readings
		ORDER BY measured_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var readings []Reading
	for rows.Next() {
		r, err := scanReadingRow(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *r)
	}
	return readings, rows.Err()
}

// FindReadingByContent returns a reading whose domain fields match r.
// measured_at is compared at second granularity because the wire format
// carries no sub-second precision. This is the fallback dedup for backend
// records arriving under an id the device has never seen.
func (db *DB) FindReadingByContent(r *Reading) (*Reading, error) {
	row := db.QueryRow(`
		SELECT `+readingColumns+` FROM readings
		WHERE value = ? AND unit = ? AND category = ? AND notes = ?
			AND measured_at / 1000 = ?
		LIMIT 1`,
		r.Value, r.Unit, r.Category, r.Notes, r.MeasuredAt/1000)
	return scanReading(row)
}

// UpdateReading overwrites the mutable fields of a reading. local_stored_at
// is deliberately untouched: it identifies original capture time.
func (db *DB) UpdateReading(r *Reading) error {
	_, err := db.Exec(`
		UPDATE readings SET
			backend_id = ?, value = ?, unit = ?, category = ?, notes = ?,
			status = ?, measured_at = ?, synced = ?, is_local_only = ?, updated_at = ?
		WHERE id = ?`,
		nullable(r.BackendID), r.Value, r.Unit, r.Category, r.Notes,
		r.Status, r.MeasuredAt, r.Synced, r.IsLocalOnly, r.UpdatedAt, r.ID)
	return err
}

// MarkReadingSynced writes the backend-issued id back onto a local record
// after a successful push. The local id stays as-is.
func (db *DB) MarkReadingSynced(id, backendID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE readings SET backend_id = ?, synced = 1, is_local_only = 0, updated_at = ?
		WHERE id = ?`,
		nullable(backendID), now, id)
	return err
}

// MarkReadingUnsynced flags a record as carrying local edits again.
func (db *DB) MarkReadingUnsynced(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE readings SET synced = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// DeleteReading removes a reading row.
func (db *DB) DeleteReading(id string) error {
	_, err := db.Exec(`DELETE FROM readings WHERE id = ?`, id)
	return err
}

// AddReadingAndEnqueue persists a new reading and its outbox item in one
// transaction, so an app restart cannot observe the mutation without the
// pending work.
func (db *DB) AddReadingAndEnqueue(r *Reading, item *QueueItem) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.BackendID), r.Value, r.Unit, r.Category, r.Notes, r.Status,
		r.MeasuredAt, r.Synced, r.IsLocalOnly, r.LocalStoredAt, r.UpdatedAt); err != nil {
		return err
	}
	if err := enqueueTx(tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateReadingAndEnqueue applies an edit and its outbox item in one
// transaction. See AddReadingAndEnqueue.
func (db *DB) UpdateReadingAndEnqueue(r *Reading, item *QueueItem) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE readings SET
			backend_id = ?, value = ?, unit = ?, category = ?, notes = ?,
			status = ?, measured_at = ?, synced = ?, is_local_only = ?, updated_at = ?
		WHERE id = ?`,
		nullable(r.BackendID), r.Value, r.Unit, r.Category, r.Notes,
		r.Status, r.MeasuredAt, r.Synced, r.IsLocalOnly, r.UpdatedAt, r.ID); err != nil {
		return err
	}
	if err := enqueueTx(tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row *sql.Row) (*Reading, error) {
	r, err := scanReadingRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanReadingRow(row rowScanner) (*Reading, error) {
	var r Reading
	var backendID sql.NullString
	if err := row.Scan(&r.ID, &backendID, &r.Value, &r.Unit, &r.Category, &r.Notes,
		&r.Status, &r.MeasuredAt, &r.Synced, &r.IsLocalOnly, &r.LocalStoredAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.BackendID = backendID.String
	return &r, nil
}

// nullable maps "" to NULL so the UNIQUE(backend_id) constraint only applies
// to records the backend has actually issued an id for.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
