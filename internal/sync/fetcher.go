package sync

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tmaia/glucolog/internal/bus"
	"github.com/tmaia/glucolog/internal/store"
	"go.uber.org/zap"
)

// lastFetchKey is the sync_state checkpoint holding the incremental cursor.
const lastFetchKey = "readings.last_fetch_ms"

// cursorOverlap is re-fetched on every pass. The checkpoint is client time
// while the backend filters on its own clock; without the margin, a record
// committed while a response was in flight, or a client clock running
// ahead, would fall behind the cursor and never be pulled. Overlapped
// records collapse in dedup, so the re-fetch costs nothing.
const cursorOverlap = 5 * time.Minute

// FetchResult reports one pull pass. Fetched counts what the backend
// returned regardless of merge outcome; Merged counts new local inserts.
type FetchResult struct {
	Fetched int `json:"fetched"`
	Merged  int `json:"merged"`
}

// FetchFromBackend imports backend records the device does not yet hold.
// Records are deduplicated by backend-issued id via a targeted lookup, with
// a content-level fallback for copies committed under a second id. An
// incoming record that collides with an unsynced local edit raises a
// conflict instead of overwriting it; a synced local copy is replaced in
// place, the server being authoritative. Fetch failures are non-fatal: the
// caller gets zero counts and the app keeps operating on local data.
func (e *Engine) FetchFromBackend(ctx context.Context) FetchResult {
	if e.offline {
		return FetchResult{}
	}
	if err := e.client.Ready(); err != nil {
		e.logger.Warn("skipping fetch, caller identity unavailable", zap.Error(err))
		return FetchResult{}
	}

	since := e.lastFetchCursor()
	remote, err := e.client.ListReadings(ctx, since)
	if err != nil {
		e.logger.Warn("fetch from backend failed", zap.Int64("since", since), zap.Error(err))
		return FetchResult{}
	}

	res := FetchResult{Fetched: len(remote)}
	now := time.Now()
	for _, w := range remote {
		incoming, err := ToLocal(w, now)
		if err != nil {
			e.logger.Warn("skipping malformed backend record",
				zap.String("backend_id", w.ID), zap.Error(err))
			continue
		}

		local, err := e.db.GetReadingByBackendID(w.ID)
		if err != nil {
			e.logger.Error("dedup lookup failed", zap.String("backend_id", w.ID), zap.Error(err))
			continue
		}

		switch {
		case local == nil:
			inserted, err := e.importFetched(incoming)
			if err != nil {
				e.logger.Error("failed to import fetched reading",
					zap.String("backend_id", w.ID), zap.Error(err))
				continue
			}
			if inserted {
				res.Merged++
				e.publish(bus.KindReadingUpserted, incoming.ID)
			}

		case !local.Synced && !contentEquals(local, incoming):
			// Pulling must never silently clobber an un-pushed local
			// edit. Record both versions and defer to the caller.
			if err := e.raiseConflict(local, incoming); err != nil {
				e.logger.Error("failed to record conflict",
					zap.String("reading_id", local.ID), zap.Error(err))
			}

		case local.Synced:
			if err := e.replaceFromServer(local, incoming); err != nil {
				e.logger.Error("failed to apply server version",
					zap.String("reading_id", local.ID), zap.Error(err))
			}
		}
	}

	cursor := now.Add(-cursorOverlap).UnixMilli()
	if err := e.db.SetCheckpoint(lastFetchKey, strconv.FormatInt(cursor, 10)); err != nil {
		e.logger.Error("failed to persist fetch checkpoint", zap.Error(err))
	}
	return res
}

// importFetched lands a backend record whose id the device has never seen.
// A push retried after the backend had already committed leaves the same
// reading under two backend ids, so before inserting, the content itself is
// checked: a matching local record means this is a duplicate copy, never a
// new reading. Returns whether a row was inserted.
func (e *Engine) importFetched(incoming *store.Reading) (bool, error) {
	twin, err := e.db.FindReadingByContent(incoming)
	if err != nil {
		return false, err
	}
	if twin == nil {
		if err := e.db.AddReading(incoming); err != nil {
			return false, err
		}
		return true, nil
	}

	if twin.BackendID == "" {
		// The push committed but the id write-back was lost. Link the
		// held record to the backend identity instead of duplicating it.
		if err := e.db.MarkReadingSynced(twin.ID, incoming.BackendID); err != nil {
			return false, err
		}
		e.publish(bus.KindReadingUpserted, twin.ID)
		return false, nil
	}

	e.logger.Warn("skipping duplicate backend copy of a held reading",
		zap.String("reading_id", twin.ID),
		zap.String("held_backend_id", twin.BackendID),
		zap.String("duplicate_backend_id", incoming.BackendID))
	return false, nil
}

func (e *Engine) lastFetchCursor() int64 {
	v, err := e.db.GetCheckpoint(lastFetchKey)
	if err != nil {
		e.logger.Error("failed to read fetch checkpoint", zap.Error(err))
		return 0
	}
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

func (e *Engine) raiseConflict(local, incoming *store.Reading) error {
	exists, err := e.db.HasPendingConflict(local.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	localJSON, err := json.Marshal(local)
	if err != nil {
		return err
	}
	serverJSON, err := json.Marshal(incoming)
	if err != nil {
		return err
	}
	c := &store.Conflict{
		ReadingID:     local.ID,
		LocalVersion:  string(localJSON),
		ServerVersion: string(serverJSON),
	}
	if err := e.db.AddConflict(c); err != nil {
		return err
	}
	e.logger.Warn("sync conflict detected, local edit preserved",
		zap.String("reading_id", local.ID),
		zap.String("backend_id", incoming.BackendID),
		zap.Int64("conflict_id", c.ID))
	e.publish(bus.KindConflictDetected, c.ID)
	return nil
}

// replaceFromServer overwrites a synced local record with the authoritative
// server version. The local id stays; UpdateReading never touches
// local_stored_at, so capture time survives the replace.
func (e *Engine) replaceFromServer(local, incoming *store.Reading) error {
	incoming.ID = local.ID
	return e.db.UpdateReading(incoming)
}
