package connstate

import (
	"fmt"
	"slices"
	"sync"

	"github.com/classline/classline/internal/bus"
)

// State is the persistent connection's lifecycle state. Joined is the only
// state in which sends are permitted. Failed is terminal until an explicit
// Reset.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Joined       State = "JOINED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Joined, Reconnecting, Failed, Disconnected},
	Joined:       {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Joined, Failed, Disconnected},
	Failed:       {Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanSend reports whether the connection accepts outbound room traffic.
func (m *Machine) CanSend() bool {
	return m.Current() == Joined
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed from the current state.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.E("conn.state_changed", StateChange{From: from, To: to}))
	}
	return nil
}

// Reset returns a Failed machine to Disconnected so a manual retry can
// start over. It is the only way out of Failed.
func (m *Machine) Reset() error {
	return m.Transition(Disconnected)
}

// StateChange is the payload for conn.state_changed events.
type StateChange struct {
	From State
	To   State
}
