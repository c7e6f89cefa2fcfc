package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/bus"
	"github.com/tmaia/glucolog/internal/status"
	"github.com/tmaia/glucolog/internal/store"
	intsync "github.com/tmaia/glucolog/internal/sync"
	"go.uber.org/zap"
)

type fakeBackend struct {
	readyErr    error
	listResp    []backend.Reading
	createCalls int
	listCalls   int
}

func (f *fakeBackend) Ready() error { return f.readyErr }

func (f *fakeBackend) CreateReading(_ context.Context, _ backend.ReadingPayload) (*backend.Reading, error) {
	f.createCalls++
	return &backend.Reading{ID: "srv-1"}, nil
}

func (f *fakeBackend) ListReadings(_ context.Context, _ int64) ([]backend.Reading, error) {
	f.listCalls++
	return f.listResp, nil
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "glucolog.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSchedulerRunsPassAndReturnsToIdle(t *testing.T) {
	db := testStore(t)
	b := bus.New()
	fake := &fakeBackend{}
	engine := intsync.NewEngine(db, fake, b, zap.NewNop(), false)
	machine := status.NewMachine(b)
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler(engine, machine, zap.NewNop(), time.Hour)
	sched.runOnce(context.Background())

	if machine.Current() != status.Idle {
		t.Fatalf("state = %s, want %s", machine.Current(), status.Idle)
	}
	if fake.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", fake.listCalls)
	}
}

func TestSchedulerStaysOfflineInOfflineMode(t *testing.T) {
	db := testStore(t)
	fake := &fakeBackend{}
	engine := intsync.NewEngine(db, fake, nil, zap.NewNop(), true)
	machine := status.NewMachine(nil)
	if err := machine.Transition(status.Offline); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler(engine, machine, zap.NewNop(), time.Hour)
	sched.runOnce(context.Background())

	if machine.Current() != status.Offline {
		t.Fatalf("state = %s, want %s", machine.Current(), status.Offline)
	}
	if fake.listCalls != 0 || fake.createCalls != 0 {
		t.Fatal("offline pass made network calls")
	}
}

func TestSchedulerSkipsPassWhenNotIdle(t *testing.T) {
	db := testStore(t)
	fake := &fakeBackend{}
	engine := intsync.NewEngine(db, fake, nil, zap.NewNop(), false)
	machine := status.NewMachine(nil) // still BOOTING

	sched := NewScheduler(engine, machine, zap.NewNop(), time.Hour)
	sched.runOnce(context.Background())

	if machine.Current() != status.Booting {
		t.Fatalf("state = %s, want %s", machine.Current(), status.Booting)
	}
	if fake.listCalls != 0 {
		t.Fatal("skipped pass still hit the backend")
	}
}

func TestSchedulerLoopStops(t *testing.T) {
	db := testStore(t)
	fake := &fakeBackend{}
	b := bus.New()
	engine := intsync.NewEngine(db, fake, b, zap.NewNop(), false)
	machine := status.NewMachine(b)
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(bus.KindSyncCompleted, 4)
	defer unsub()

	sched := NewScheduler(engine, machine, zap.NewNop(), 10*time.Millisecond)
	sched.Start(context.Background())

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync pass within deadline")
	}
	sched.Stop()
}
