// Package state tracks the lifecycle of a playback session.
package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// State is the decoder/session lifecycle, not UI visibility.
type State int

const (
	None State = iota
	Idle
	Ready
	Playing
	Paused
)

var names = [...]string{"None", "Idle", "Ready", "Playing", "Paused"}

func (s State) String() string {
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return names[s]
}

// Parse is the inverse of String, case-insensitive.
func Parse(s string) (State, bool) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return State(i), true
		}
	}
	return None, false
}

// Event is a completed operation that may move the machine.
type Event string

const (
	EventPrepared Event = "prepared"
	EventStarted  Event = "started"
	EventPaused   Event = "paused"
	EventResumed  Event = "resumed"
	EventTornDown Event = "torn_down"
)

var (
	// ErrInvalidTransition is returned for an event the current state does
	// not accept.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDisposed is returned once the machine has been disposed.
	ErrDisposed = errors.New("state machine disposed")
)

var transitions = map[Event]struct {
	from []State
	to   State
}{
	EventPrepared: {from: []State{None, Idle, Ready, Playing, Paused}, to: Ready},
	EventStarted:  {from: []State{Ready, Paused, Playing}, to: Playing},
	EventPaused:   {from: []State{Playing, Paused}, to: Paused},
	EventResumed:  {from: []State{None, Idle, Ready, Playing, Paused}, to: Playing},
	EventTornDown: {from: []State{None, Idle, Ready, Playing, Paused}, to: None},
}

// Machine validates and records transitions. It is safe for concurrent
// reads; writes come from the orchestrator's worker.
type Machine struct {
	mu       sync.RWMutex
	current  State
	disposed bool
	onChange func(State)
}

// NewMachine returns a machine in None. onChange, if set, is called after
// every transition that is not silent.
func NewMachine(onChange func(State)) *Machine {
	return &Machine{current: None, onChange: onChange}
}

// Current returns the recorded state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Disposed reports whether Dispose has been called.
func (m *Machine) Disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}

// Can reports whether ev is accepted from the current state.
func (m *Machine) Can(ev Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check(ev) == nil
}

// Fire applies ev and notifies onChange.
func (m *Machine) Fire(ev Event) (State, error) {
	return m.fire(ev, true)
}

// FireSilently applies ev without notifying onChange.
func (m *Machine) FireSilently(ev Event) (State, error) {
	return m.fire(ev, false)
}

// Dispose moves the machine to None for good. It is idempotent.
func (m *Machine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = None
	m.disposed = true
}

func (m *Machine) fire(ev Event, notify bool) (State, error) {
	m.mu.Lock()
	if err := m.check(ev); err != nil {
		cur := m.current
		m.mu.Unlock()
		return cur, err
	}
	to := transitions[ev].to
	m.current = to
	m.mu.Unlock()

	if notify && m.onChange != nil {
		m.onChange(to)
	}
	return to, nil
}

func (m *Machine) check(ev Event) error {
	if m.disposed {
		return ErrDisposed
	}
	t, ok := transitions[ev]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	for _, s := range t.from {
		if s == m.current {
			return nil
		}
	}
	return fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, m.current, ev)
}
