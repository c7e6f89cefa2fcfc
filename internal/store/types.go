package store

// Reading is a locally persisted glucose reading.
//
// ID is the local primary key: "backend_<id>" when the record originated on
// the backend, or an opaque "local_…" id when captured offline. BackendID is
// the backend-issued identifier and the dedup key; it is empty until the
// backend has accepted the record. LocalStoredAt records first local
// persistence and never changes on update.
type Reading struct {
	ID            string  `json:"id"`
	BackendID     string  `json:"backend_id,omitempty"`
	Value         float64 `json:"value"`
	Unit          string  `json:"unit"`
	Category      string  `json:"category"`
	Notes         string  `json:"notes"`
	Status        string  `json:"status"` // derived from value+unit, never authoritative
	MeasuredAt    int64   `json:"measured_at"` // unix ms, UTC
	Synced        bool    `json:"synced"`
	IsLocalOnly   bool    `json:"is_local_only"`
	LocalStoredAt int64   `json:"local_stored_at"` // unix ms
	UpdatedAt     int64   `json:"updated_at"`      // unix ms
}

// Queue operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// QueueItem is one pending mutation in the sync outbox.
type QueueItem struct {
	ID         int64
	Op         string // create, update, delete
	ReadingID  string
	Payload    string // JSON snapshot of the reading at enqueue time
	RetryCount int
	LastError  string
	CreatedAt  int64
}

// Conflict status values.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
)

// Conflict records a divergence between an unsynced local edit and an
// incoming server version of the same entity. Resolution is a status
// transition; rows are never required to be deleted.
type Conflict struct {
	ID            int64
	ReadingID     string
	LocalVersion  string // JSON snapshot
	ServerVersion string // JSON snapshot
	Status        string // pending, resolved
	CreatedAt     int64
	ResolvedAt    int64
}

// AuditEntry is one row of the resolution audit trail.
type AuditEntry struct {
	ID        int64
	Action    string
	ReadingID string
	Detail    string // JSON metadata
	CreatedAt int64
}
