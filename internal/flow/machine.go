// Package flow runs the timed screens of the portal: a payment countdown and
// the spin wheel. Both fetch an authoritative outcome from the server, run a
// local timer or animation against the clock, and then settle on what the
// server said.
package flow

import (
	"errors"
	"fmt"
)

// State of a timed transaction.
type State int

const (
	Idle State = iota
	Fetching
	Active
	Failed
	Expired
	Resolved
)

var stateNames = map[State]string{
	Idle:     "idle",
	Fetching: "fetching",
	Active:   "active",
	Failed:   "failed",
	Expired:  "expired",
	Resolved: "resolved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrIllegalTransition is returned for a move the flow does not allow.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrBusy is returned when an action is requested while a fetch or animation runs.
	ErrBusy = errors.New("flow busy")
	// ErrClosed is returned to a caller whose result arrived after Close.
	ErrClosed = errors.New("flow closed")
)

type transitions map[State][]State

// machine is the shared state holder. It is not safe for concurrent use;
// owners guard it with their own mutex.
type machine struct {
	state   State
	allowed transitions
	// epoch changes on Close so late results can be recognised and dropped.
	epoch  uint64
	closed bool
}

func newMachine(allowed transitions) machine {
	return machine{state: Idle, allowed: allowed}
}

func (m *machine) can(next State) bool {
	for _, s := range m.allowed[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

func (m *machine) to(next State) error {
	if !m.can(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	return nil
}

func (m *machine) close() {
	m.epoch++
	m.closed = true
}
