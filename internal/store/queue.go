package store

import (
	"database/sql"
	"time"
)

// Enqueue appends a pending mutation to the sync queue.
func (db *DB) Enqueue(item *QueueItem) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := enqueueTx(tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

func enqueueTx(tx *sql.Tx, item *QueueItem) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().UnixMilli()
	}
	res, err := tx.Exec(`
		INSERT INTO sync_queue (op, reading_id, payload, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.Op, item.ReadingID, item.Payload, item.RetryCount, item.LastError, item.CreatedAt)
	if err != nil {
		return err
	}
	item.ID, _ = res.LastInsertId()
	return nil
}

// PendingQueue returns all queued items in enqueue order.
func (db *DB) PendingQueue() ([]QueueItem, error) {
	rows, err := db.Query(`
		SELECT id, op, reading_id, payload, retry_count, last_error, created_at
		FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanQueueItems(rows)
}

// SnapshotAndClearQueue reads the current queue contents and clears exactly
// those rows in one transaction. Items enqueued concurrently after the
// snapshot get higher rowids and survive for the next drain pass.
func (db *DB) SnapshotAndClearQueue() ([]QueueItem, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT id, op, reading_id, payload, retry_count, last_error, created_at
		FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	items, err := scanQueueItems(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	maxID := items[len(items)-1].ID
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id <= ?`, maxID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// RequeueItems bulk re-inserts items that failed retryably. Callers are
// expected to have already incremented RetryCount and set LastError.
func (db *DB) RequeueItems(items []QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range items {
		if err := enqueueTx(tx, &items[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(&it.ID, &it.Op, &it.ReadingID, &it.Payload,
			&it.RetryCount, &it.LastError, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
