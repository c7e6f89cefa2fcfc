// Package sync reconciles the device-local reading store with the remote
// backend under unreliable connectivity: an outbox of pending mutations
// drained with bounded retries, a pull path that dedupes on backend ids and
// raises conflicts instead of clobbering local edits, and a resolver for
// the three resolution strategies.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/bus"
	"github.com/tmaia/glucolog/internal/store"
	"go.uber.org/zap"
)

// Backend is the remote API surface the engine needs. *backend.Client
// satisfies it; tests substitute recording mocks.
type Backend interface {
	// Ready reports whether a usable caller identity is present.
	Ready() error
	CreateReading(ctx context.Context, p backend.ReadingPayload) (*backend.Reading, error)
	ListReadings(ctx context.Context, since int64) ([]backend.Reading, error)
}

// Engine is the single entry point external code calls for synchronization.
// Offline mode is decided once here and threaded through both phases, never
// re-checked independently inside components.
type Engine struct {
	db      *store.DB
	client  Backend
	bus     *bus.Bus
	logger  *zap.Logger
	offline bool
}

// NewEngine creates a sync engine. offline short-circuits all network
// activity; drain and fetch then return zero counts by design.
func NewEngine(db *store.DB, client Backend, b *bus.Bus, logger *zap.Logger, offline bool) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		client:  client,
		bus:     b,
		logger:  logger,
		offline: offline,
	}
}

// Offline reports whether the engine was built in offline mode.
func (e *Engine) Offline() bool {
	return e.offline
}

// SyncResult aggregates one full push-then-pull pass.
type SyncResult struct {
	Pushed  int `json:"pushed"`
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
}

// PerformFullSync drains the outbox and then pulls backend deltas, strictly
// in that order: pushing first prevents the pull phase from flagging a
// conflict against data the device's own queued push is about to supersede.
// Operational failures land in the counts, never in an error.
func (e *Engine) PerformFullSync(ctx context.Context) SyncResult {
	drain := e.SyncPendingReadings(ctx)
	fetch := e.FetchFromBackend(ctx)

	res := SyncResult{
		Pushed:  drain.Success,
		Failed:  drain.Failed,
		Fetched: fetch.Merged,
	}
	e.publish(bus.KindSyncCompleted, res)
	return res
}

// LogReading persists a new locally captured reading and enqueues its
// create operation in one transaction. Invalid values are programmer
// errors and fail immediately.
func (e *Engine) LogReading(r *store.Reading) error {
	status, err := ComputeStatus(r.Value, r.Unit)
	if err != nil {
		return err
	}
	now := time.Now()
	if r.ID == "" {
		r.ID = NewLocalID(now)
	}
	if r.MeasuredAt == 0 {
		r.MeasuredAt = now.UnixMilli()
	}
	r.Status = status
	r.Synced = false
	r.IsLocalOnly = true
	r.LocalStoredAt = now.UnixMilli()
	r.UpdatedAt = now.UnixMilli()

	item, err := snapshotItem(store.OpCreate, r)
	if err != nil {
		return err
	}
	if err := e.db.AddReadingAndEnqueue(r, item); err != nil {
		return fmt.Errorf("log reading: %w", err)
	}
	e.publish(bus.KindReadingUpserted, r.ID)
	return nil
}

// UpdateReading applies a local edit and enqueues the matching update
// operation. The record is unsynced until the backend acknowledges the new
// version; local_stored_at is untouched.
func (e *Engine) UpdateReading(r *store.Reading) error {
	if r.ID == "" {
		return fmt.Errorf("update reading: empty id")
	}
	status, err := ComputeStatus(r.Value, r.Unit)
	if err != nil {
		return err
	}
	current, err := e.db.GetReading(r.ID)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	if current == nil {
		return fmt.Errorf("update reading: %q not found", r.ID)
	}
	r.Status = status
	r.Synced = false
	r.LocalStoredAt = current.LocalStoredAt
	r.UpdatedAt = time.Now().UnixMilli()

	item, err := snapshotItem(store.OpUpdate, r)
	if err != nil {
		return err
	}
	if err := e.db.UpdateReadingAndEnqueue(r, item); err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	e.publish(bus.KindReadingUpserted, r.ID)
	return nil
}

// DeleteReading enqueues a delete tombstone. The backend has no delete
// endpoint; the row is removed locally when the queue item is processed.
func (e *Engine) DeleteReading(id string) error {
	if id == "" {
		return fmt.Errorf("delete reading: empty id")
	}
	item := &store.QueueItem{Op: store.OpDelete, ReadingID: id, Payload: "{}"}
	if err := e.db.Enqueue(item); err != nil {
		return fmt.Errorf("delete reading: %w", err)
	}
	return nil
}

func snapshotItem(op string, r *store.Reading) (*store.QueueItem, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot reading: %w", err)
	}
	return &store.QueueItem{Op: op, ReadingID: r.ID, Payload: string(payload)}, nil
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
