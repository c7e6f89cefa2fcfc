package bus

import "time"

// Event kinds published by the sync engine. The bus is the only push-style
// surface; sync internals themselves are plain request/response.
const (
	KindSyncCompleted    = "sync.completed"
	KindConflictDetected = "sync.conflict_detected"
	KindReadingUpserted  = "reading.upserted"
	KindStatusChanged    = "daemon.status_changed"
)

// Event is a domain event delivered to UI-layer subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
