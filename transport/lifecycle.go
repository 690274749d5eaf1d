package transport

import "sync/atomic"

// State is the running/stopped state of a transport.
type State int32

const (
	// StateStopped is the initial state and the state after Stop or Close.
	StateStopped State = iota
	// StateRunning permits Send and Receive.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the running/stopped state of a transport. The zero value
// is stopped and ready to use. Concrete transports embed it and layer their
// own resource handling on top.
type Lifecycle struct {
	state atomic.Int32
}

// Start transitions to running. Starting a running lifecycle is not an error.
func (l *Lifecycle) Start() { l.state.Store(int32(StateRunning)) }

// Stop transitions to stopped unconditionally. It releases nothing.
func (l *Lifecycle) Stop() { l.state.Store(int32(StateStopped)) }

// IsRunning reports whether the lifecycle is currently running.
func (l *Lifecycle) IsRunning() bool { return l.State() == StateRunning }

// State returns the current state.
func (l *Lifecycle) State() State { return State(l.state.Load()) }
