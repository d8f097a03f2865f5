package asyncio

import (
	"sync/atomic"
)

// LoopState represents the current state of a [Loop].
//
// State Machine:
//
//	StateAwake       → StateRunning      [Run()]
//	StateRunning     → StateSleeping     [blocking wait for ready work, via CAS]
//	StateRunning     → StateTerminating  [Shutdown()/Close()]
//	StateSleeping    → StateRunning      [woken by CallSoon/timer, via CAS]
//	StateSleeping    → StateTerminating  [Shutdown()/Close()]
//	StateTerminating → StateTerminated   [shutdown complete]
//	StateTerminated  → (terminal)
//
// State Transition Rules:
//   - Use TryTransition() (CAS) for temporary states (Running, Sleeping)
//   - Use Store() for irreversible states (Terminated)
//   - Using Store(Running) or Store(Sleeping) is a BUG (breaks CAS logic)
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = iota
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated
	// StateSleeping indicates the loop is blocked waiting for ready work or a timer.
	StateSleeping
	// StateRunning indicates the loop is actively draining callbacks or firing timers.
	StateRunning
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding.
//
// PERFORMANCE: Uses pure atomic CAS operations with no mutex.
// Cache-line padding prevents false sharing between cores.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
// PERFORMANCE: No validation, trusts the stored value.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state.
// PERFORMANCE: No transition validation.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
// PERFORMANCE: Pure CAS, no validation of transition validity.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is terminal (Terminated).
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}
