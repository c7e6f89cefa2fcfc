package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmaia/glucolog/internal/store"
	"go.uber.org/zap"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	// KeepMine re-asserts the local content: the record is flagged
	// unsynced and re-enqueued so the next drain pushes it.
	KeepMine Strategy = "keep-mine"
	// KeepServer overwrites the local record with the server version.
	KeepServer Strategy = "keep-server"
	// KeepBoth re-enqueues the local version and inserts the server
	// version as a brand-new record, so neither is lost.
	KeepBoth Strategy = "keep-both"
)

// auditDetail is the structured payload of a resolution audit entry.
type auditDetail struct {
	Strategy     Strategy          `json:"strategy"`
	ConflictID   int64             `json:"conflict_id"`
	NewReadingID string            `json:"new_reading_id,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// ResolveConflict applies the chosen strategy to a stored conflict. The
// whole resolution, including the audit entry, commits in one transaction.
// Unknown strategies and missing conflicts are caller bugs and return
// errors; resolution of an already-resolved conflict is rejected the same
// way.
func (e *Engine) ResolveConflict(conflictID int64, strategy Strategy) error {
	conflict, err := e.db.GetConflict(conflictID)
	if err != nil {
		return fmt.Errorf("load conflict %d: %w", conflictID, err)
	}
	if conflict == nil {
		return fmt.Errorf("conflict %d not found", conflictID)
	}
	if conflict.Status != store.ConflictPending {
		return fmt.Errorf("conflict %d already %s", conflictID, conflict.Status)
	}

	var local, server store.Reading
	if err := json.Unmarshal([]byte(conflict.LocalVersion), &local); err != nil {
		return fmt.Errorf("decode local version: %w", err)
	}
	if err := json.Unmarshal([]byte(conflict.ServerVersion), &server); err != nil {
		return fmt.Errorf("decode server version: %w", err)
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin resolution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	detail := auditDetail{Strategy: strategy, ConflictID: conflictID}

	switch strategy {
	case KeepMine:
		if err := requeueLocal(tx, &local, now); err != nil {
			return err
		}

	case KeepServer:
		if err := applyServerVersion(tx, local.ID, &server, now); err != nil {
			return err
		}

	case KeepBoth:
		// The server copy takes over the backend identity; the local
		// edit becomes a fresh local-only record awaiting push. The
		// local row must release the backend id first or the UNIQUE
		// constraint rejects the copy.
		if _, err := tx.Exec(`
			UPDATE readings SET backend_id = NULL, is_local_only = 1, updated_at = ?
			WHERE id = ?`, now.UnixMilli(), local.ID); err != nil {
			return fmt.Errorf("detach local record: %w", err)
		}
		copyID := NewLocalID(now)
		if _, err := tx.Exec(`
			INSERT INTO readings (id, backend_id, value, unit, category, notes, status,
				measured_at, synced, is_local_only, local_stored_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)`,
			copyID, orNil(server.BackendID), server.Value, server.Unit, server.Category,
			server.Notes, server.Status, server.MeasuredAt,
			now.UnixMilli(), now.UnixMilli()); err != nil {
			return fmt.Errorf("insert server copy: %w", err)
		}
		detail.NewReadingID = copyID
		if err := requeueLocal(tx, &local, now); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	if _, err := tx.Exec(`
		UPDATE sync_conflicts SET status = ?, resolved_at = ? WHERE id = ?`,
		store.ConflictResolved, now.UnixMilli(), conflictID); err != nil {
		return fmt.Errorf("mark conflict resolved: %w", err)
	}

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO audit_log (action, reading_id, detail, created_at)
		VALUES (?, ?, ?, ?)`,
		"conflict_resolved", conflict.ReadingID, string(detailJSON), now.UnixMilli()); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}

	e.logger.Info("conflict resolved",
		zap.Int64("conflict_id", conflictID),
		zap.String("strategy", string(strategy)),
		zap.String("reading_id", conflict.ReadingID))
	return nil
}

// requeueLocal flags the local record unsynced and enqueues it as an update
// so the next drain re-asserts the local content over the server.
func requeueLocal(tx sqlExecer, local *store.Reading, now time.Time) error {
	if _, err := tx.Exec(`
		UPDATE readings SET synced = 0, updated_at = ? WHERE id = ?`,
		now.UnixMilli(), local.ID); err != nil {
		return fmt.Errorf("mark local unsynced: %w", err)
	}
	payload, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("snapshot local version: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO sync_queue (op, reading_id, payload, retry_count, last_error, created_at)
		VALUES (?, ?, ?, 0, '', ?)`,
		store.OpUpdate, local.ID, string(payload), now.UnixMilli()); err != nil {
		return fmt.Errorf("re-enqueue local version: %w", err)
	}
	return nil
}

// applyServerVersion overwrites the local row with the server content,
// marked synced. local_stored_at keeps the original capture time.
func applyServerVersion(tx sqlExecer, localID string, server *store.Reading, now time.Time) error {
	if _, err := tx.Exec(`
		UPDATE readings SET
			backend_id = ?, value = ?, unit = ?, category = ?, notes = ?,
			status = ?, measured_at = ?, synced = 1, is_local_only = 0, updated_at = ?
		WHERE id = ?`,
		orNil(server.BackendID), server.Value, server.Unit, server.Category, server.Notes,
		server.Status, server.MeasuredAt, now.UnixMilli(), localID); err != nil {
		return fmt.Errorf("apply server version: %w", err)
	}
	return nil
}

type sqlExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// orNil maps "" to NULL so cleared backend ids don't trip the UNIQUE
// constraint.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
