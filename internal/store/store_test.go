package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sample(id string) *Reading {
	now := time.Now().UnixMilli()
	return &Reading{
		ID:            id,
		Value:         120,
		Unit:          "mg/dL",
		Category:      "fasting",
		Status:        "normal",
		MeasuredAt:    now,
		IsLocalOnly:   true,
		LocalStoredAt: now,
		UpdatedAt:     now,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestReadingRoundTrip(t *testing.T) {
	db := testDB(t)

	r := sample("local_1_abcd1234")
	r.Notes = "before breakfast"
	if err := db.AddReading(r); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetReading(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("reading not found")
	}
	if got.Notes != "before breakfast" || got.Value != 120 {
		t.Errorf("got %+v", got)
	}
	if got.BackendID != "" {
		t.Errorf("backendID = %q, want empty for local-only record", got.BackendID)
	}

	missing, err := db.GetReading("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing reading")
	}
}

func TestBackendIDLookupAndUniqueness(t *testing.T) {
	db := testDB(t)

	a := sample("backend_7")
	a.BackendID = "7"
	if err := db.AddReading(a); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetReadingByBackendID("7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "backend_7" {
		t.Fatalf("lookup = %+v, want backend_7", got)
	}

	// A second record with the same backend id must be rejected.
	dup := sample("local_2_ffff0000")
	dup.BackendID = "7"
	if err := db.AddReading(dup); err == nil {
		t.Error("duplicate backend id accepted, UNIQUE constraint missing")
	}

	// Any number of records may have no backend id yet.
	for _, id := range []string{"local_3_a", "local_4_b"} {
		if err := db.AddReading(sample(id)); err != nil {
			t.Fatalf("unsynced insert %s: %v", id, err)
		}
	}
}

func TestFindReadingByContent(t *testing.T) {
	db := testDB(t)

	r := sample("local_1_abcd1234")
	r.MeasuredAt = 1700000000123
	r.Notes = "after lunch"
	if err := db.AddReading(r); err != nil {
		t.Fatal(err)
	}

	// Same second, different milliseconds: the wire format has no
	// sub-second precision, so this must still match.
	probe := sample("x")
	probe.MeasuredAt = 1700000000999
	probe.Notes = "after lunch"
	got, err := db.FindReadingByContent(probe)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != r.ID {
		t.Fatalf("lookup = %+v, want %s", got, r.ID)
	}

	probe.Value = 121
	got, err = db.FindReadingByContent(probe)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("diverged value matched: %+v", got)
	}
}

func TestMarkReadingSynced(t *testing.T) {
	db := testDB(t)

	r := sample("local_1_abcd1234")
	if err := db.AddReading(r); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkReadingSynced(r.ID, "42"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetReading(r.ID)
	if got.BackendID != "42" || !got.Synced || got.IsLocalOnly {
		t.Errorf("after sync mark: %+v", got)
	}
	if got.ID != r.ID {
		t.Errorf("local id changed: %q", got.ID)
	}
}

func TestAddReadingAndEnqueueIsAtomic(t *testing.T) {
	db := testDB(t)

	r := sample("local_1_abcd1234")
	item := &QueueItem{Op: OpCreate, ReadingID: r.ID, Payload: "{}"}
	if err := db.AddReadingAndEnqueue(r, item); err != nil {
		t.Fatal(err)
	}

	// Conflicting insert must roll back both writes.
	again := &QueueItem{Op: OpCreate, ReadingID: r.ID, Payload: "{}"}
	if err := db.AddReadingAndEnqueue(r, again); err == nil {
		t.Fatal("expected duplicate primary key error")
	}

	pending, _ := db.PendingQueue()
	if len(pending) != 1 {
		t.Errorf("queue has %d items, want 1 (failed tx must not enqueue)", len(pending))
	}
}

func TestSnapshotAndClearLeavesLaterItems(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b"} {
		if err := db.Enqueue(&QueueItem{Op: OpCreate, ReadingID: id, Payload: "{}"}); err != nil {
			t.Fatal(err)
		}
	}

	items, err := db.SnapshotAndClearQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("snapshot = %d items, want 2", len(items))
	}
	if items[0].ReadingID != "a" || items[1].ReadingID != "b" {
		t.Errorf("snapshot order = %s,%s, want a,b (enqueue order)", items[0].ReadingID, items[1].ReadingID)
	}

	// An item arriving after the snapshot survives.
	if err := db.Enqueue(&QueueItem{Op: OpUpdate, ReadingID: "c", Payload: "{}"}); err != nil {
		t.Fatal(err)
	}
	pending, _ := db.PendingQueue()
	if len(pending) != 1 || pending[0].ReadingID != "c" {
		t.Fatalf("pending = %+v, want only c", pending)
	}

	// Empty snapshot is fine.
	if _, err := db.SnapshotAndClearQueue(); err != nil {
		t.Fatal(err)
	}
}

func TestRequeuePreservesRetryState(t *testing.T) {
	db := testDB(t)

	if err := db.Enqueue(&QueueItem{Op: OpCreate, ReadingID: "a", Payload: "{}"}); err != nil {
		t.Fatal(err)
	}
	items, _ := db.SnapshotAndClearQueue()
	items[0].RetryCount = 2
	items[0].LastError = "backend error 502: bad gateway"
	if err := db.RequeueItems(items); err != nil {
		t.Fatal(err)
	}

	pending, _ := db.PendingQueue()
	if len(pending) != 1 {
		t.Fatalf("queue has %d items, want 1", len(pending))
	}
	if pending[0].RetryCount != 2 || pending[0].LastError == "" {
		t.Errorf("requeued item = %+v, retry state lost", pending[0])
	}
}

func TestConflictLifecycle(t *testing.T) {
	db := testDB(t)

	c := &Conflict{ReadingID: "local_1_a", LocalVersion: `{"value":150}`, ServerVersion: `{"value":155}`}
	if err := db.AddConflict(c); err != nil {
		t.Fatal(err)
	}
	if c.ID == 0 {
		t.Fatal("conflict id not assigned")
	}

	has, err := db.HasPendingConflict("local_1_a")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("HasPendingConflict = false, want true")
	}

	pending, _ := db.PendingConflicts()
	if len(pending) != 1 || pending[0].Status != ConflictPending {
		t.Fatalf("pending = %+v", pending)
	}

	got, _ := db.GetConflict(c.ID)
	if got == nil || got.LocalVersion != `{"value":150}` {
		t.Errorf("GetConflict = %+v", got)
	}

	missing, err := db.GetConflict(999)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing conflict")
	}
}

func TestAuditTrail(t *testing.T) {
	db := testDB(t)

	if err := db.AddAudit(&AuditEntry{Action: "conflict_resolved", ReadingID: "r1", Detail: `{"strategy":"keep-mine"}`}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddAudit(&AuditEntry{Action: "conflict_resolved", ReadingID: "r2", Detail: `{"strategy":"keep-both"}`}); err != nil {
		t.Fatal(err)
	}

	entries, err := db.ListAudit(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ReadingID != "r2" {
		t.Errorf("newest first: got %s", entries[0].ReadingID)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := testDB(t)

	v, err := db.GetCheckpoint("readings.last_fetch_ms")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing checkpoint = %q, want empty", v)
	}

	if err := db.SetCheckpoint("readings.last_fetch_ms", "1700000000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("readings.last_fetch_ms", "1700000000001"); err != nil {
		t.Fatal(err)
	}

	v, _ = db.GetCheckpoint("readings.last_fetch_ms")
	if v != "1700000000001" {
		t.Errorf("checkpoint = %q, want 1700000000001", v)
	}
}
