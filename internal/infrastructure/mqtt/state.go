package mqtt

import "sync/atomic"

// State represents the session connection state.
type State uint32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine holds the current State in a single atomic word.
// Readers never block; writers that need to combine a check with a
// transition hold Session.mu.
type stateMachine struct {
	state atomic.Uint32
}

func (sm *stateMachine) get() State {
	return State(sm.state.Load())
}

func (sm *stateMachine) set(s State) {
	sm.state.Store(uint32(s))
}

// transition moves from one state to another. Returns false if the current
// state is not from.
func (sm *stateMachine) transition(from, to State) bool {
	return sm.state.CompareAndSwap(uint32(from), uint32(to))
}

func (sm *stateMachine) isClosed() bool {
	return sm.get() == StateClosed
}
