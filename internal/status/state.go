package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tmaia/glucolog/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting State = "BOOTING"
	Idle    State = "IDLE"
	Syncing State = "SYNCING"
	Offline State = "OFFLINE"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions. Offline means the
// last sync pass could not reach the backend; the scheduler keeps retrying
// from there.
var validTransitions = map[State][]State{
	Booting: {Idle, Offline, Error},
	Idle:    {Syncing, Error},
	Syncing: {Idle, Offline, Error},
	Offline: {Syncing, Error},
	Error:   {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
