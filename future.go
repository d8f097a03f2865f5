// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncio

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a [Future]. A Future starts Pending and
// transitions at most once, to either Cancelled or Finished. Both terminal
// states are final.
type State int32

const (
	// Pending indicates the Future has not yet been resolved or cancelled.
	Pending State = iota
	// Cancelled indicates [Future.Cancel] succeeded before the Future settled.
	Cancelled
	// Finished indicates the Future completed with a value or an exception.
	Finished
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Cancelled:
		return "CANCELLED"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// DoneCallback observes a [Future]'s completion. It is always invoked on the
// owning Loop's goroutine, via [Loop.CallSoon], never synchronously from
// within SetResult/SetException/Cancel.
type DoneCallback func(f *Future)

// StopIteration is the reserved sentinel type representing a computation's
// "return value" signal. It exists so that [Future.SetException] can reject
// it: letting it through would let a computation's normal return collide
// with the Future's exception slot. Code should never need to construct one
// directly; it is produced internally by [Task] when interpreting a
// computation's Step.
type StopIteration struct {
	// Value is the value the computation returned.
	Value any
}

// Error implements the error interface so StopIteration can flow through
// error-shaped plumbing if ever handed to it by mistake.
func (s *StopIteration) Error() string { return "asyncio: StopIteration" }

var futureIDCounter atomic.Uint64

// Future is a one-shot asynchronous result cell: the core "value-or-exception"
// primitive of the engine. It starts Pending, carries an ordered list of
// observers that drain exactly once on the first terminal transition, and is
// safe for concurrent SetResult/SetException/Cancel calls, though those
// transitions are expected to happen from the owning Loop's goroutine in the
// common case - see [Loop.CallSoon].
type Future struct { //nolint:govet // betteralign:ignore
	mu        sync.Mutex
	state     State
	value     any
	err       error
	observers []DoneCallback

	// loop is a non-owning reference to the scheduling collaborator. Never
	// nil once constructed via [NewFuture] or [Loop.NewFuture].
	loop *Loop

	// blocking distinguishes "the computation awaited us properly" (true)
	// from "the computation yielded us without awaiting" (false). Write-once
	// true by [Await], cleared by [Task] once consumed as a genuine
	// suspension signal.
	blocking bool

	// sourceTb captures the construction stack when the owning loop is in
	// debug mode, for diagnostic messages.
	sourceTb []uintptr

	id uint64

	// diag is a separately-allocated mirror of the bits diagnoseFutureDrop
	// needs once this Future is unreachable. It must never point back into
	// this struct - see [lifecycleDiag].
	diag *lifecycleDiag
}

// NewFuture constructs a Pending Future bound to loop. loop may be nil only
// for Futures that are never awaited by a Task and never need CallSoon
// scheduling (e.g. unit tests exercising the state machine in isolation);
// with a nil loop, calling [Future.AddDoneCallback] on an already-terminal
// Future, or settling one that has observers, panics, matching the
// precondition that a real Loop back every Future actually wired into the
// engine.
func NewFuture(loop *Loop) *Future {
	id := futureIDCounter.Add(1)
	f := &Future{
		loop: loop,
		id:   id,
		diag: newLifecycleDiag(id),
	}
	if loop != nil && loop.Debug() {
		pcs := make([]uintptr, 32)
		n := runtime.Callers(2, pcs)
		f.sourceTb = pcs[:n]
		f.diag.setSourceTb(f.sourceTb)
	}
	runtime.AddCleanup(f, diagnoseFutureDrop, f.diag)
	return f
}

// State returns the current lifecycle state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done reports whether the Future has left the Pending state.
func (f *Future) Done() bool {
	return f.State() != Pending
}

// Cancelled reports whether the Future settled via cancellation.
func (f *Future) Cancelled() bool {
	return f.State() == Cancelled
}

// Loop returns the Future's owning scheduler.
func (f *Future) Loop() *Loop {
	return f.loop
}

// SetResult transitions the Future to Finished with value v. It requires the
// Future to be Pending; otherwise it returns an [*InvalidStateError].
func (f *Future) SetResult(v any) error {
	f.mu.Lock()
	if f.state != Pending {
		st := f.state
		f.mu.Unlock()
		return &InvalidStateError{Op: "SetResult", State: st}
	}
	f.state = Finished
	f.value = v
	f.diag.setState(Finished)
	observers := f.detachObservers()
	f.mu.Unlock()

	return f.scheduleObservers(observers)
}

// SetException transitions the Future to Finished with the given exception.
// It requires the Future to be Pending and err to be a genuine error other
// than the reserved [StopIteration] sentinel, which would otherwise collide
// with the computation's return-value protocol.
func (f *Future) SetException(err error) error {
	if err == nil {
		return &TypeError{Message: "SetException requires a non-nil error"}
	}
	if _, ok := err.(*StopIteration); ok {
		return &TypeError{Message: "SetException: StopIteration is reserved for computation returns"}
	}

	f.mu.Lock()
	if f.state != Pending {
		st := f.state
		f.mu.Unlock()
		return &InvalidStateError{Op: "SetException", State: st}
	}
	f.state = Finished
	f.err = err
	f.diag.setState(Finished)
	f.diag.setException(err)
	observers := f.detachObservers()
	f.mu.Unlock()

	return f.scheduleObservers(observers)
}

// Cancel requests cancellation. It returns false if the Future was already
// settled (not Pending); otherwise it transitions to Cancelled, drains
// observers, and returns true. Idempotent after the first success.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return false
	}
	f.state = Cancelled
	f.diag.setState(Cancelled)
	observers := f.detachObservers()
	f.mu.Unlock()

	_ = f.scheduleObservers(observers)
	return true
}

// Result returns the stored value, or raises (as a return error) the stored
// exception, a [*CancelledError] if cancelled, or an [*InvalidStateError] if
// still Pending. Retrieving a stored exception clears logTb.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Cancelled:
		return nil, &CancelledError{}
	case Pending:
		return nil, &InvalidStateError{Op: "Result", State: Pending}
	default: // Finished
		f.diag.clearLogTb()
		if f.err != nil {
			return nil, f.err
		}
		return f.value, nil
	}
}

// Exception returns the stored exception (nil if the Future finished with a
// value), a [*CancelledError] if cancelled, or an [*InvalidStateError] if
// still Pending. Retrieving the exception clears logTb.
func (f *Future) Exception() (error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Cancelled:
		return nil, &CancelledError{}
	case Pending:
		return nil, &InvalidStateError{Op: "Exception", State: Pending}
	default:
		f.diag.clearLogTb()
		return f.err, nil
	}
}

// AddDoneCallback registers cb to run when the Future settles. If the Future
// is already terminal, cb is scheduled immediately via the loop's CallSoon.
// Observers run in registration order.
func (f *Future) AddDoneCallback(cb DoneCallback) {
	if cb == nil {
		return
	}

	f.mu.Lock()
	if f.state == Pending {
		f.observers = append(f.observers, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.loop.CallSoon(func() { cb(f) })
}

// RemoveDoneCallback removes every observer whose underlying code pointer
// equals cb's (see [sameCallback]) and returns the number of entries removed.
// Closures created from the same function literal share a code pointer, so
// they all count as equal to cb.
func (f *Future) RemoveDoneCallback(cb DoneCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb == nil || len(f.observers) == 0 {
		return 0
	}
	kept := f.observers[:0]
	removed := 0
	for _, o := range f.observers {
		if sameCallback(o, cb) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	f.observers = kept
	return removed
}

// sameCallback compares DoneCallback values by their function pointer. Go
// does not allow comparing funcs directly; reflect.Value.Pointer is the
// conventional way to approximate identity for "remove what I added" use.
func sameCallback(a, b DoneCallback) bool {
	return funcPointer(a) == funcPointer(b)
}

// detachObservers atomically clears the observer list. Must be called with
// f.mu held. Re-entrant AddDoneCallback calls made from within a draining
// observer see the now-terminal state and take the "schedule immediately"
// branch, landing on a fresh queue rather than this detached one.
func (f *Future) detachObservers() []DoneCallback {
	observers := f.observers
	f.observers = nil
	return observers
}

// scheduleObservers submits each observer to the loop in registration order.
// If CallSoon fails partway through, scheduling stops and the error is
// returned; the state transition that already occurred is not undone.
func (f *Future) scheduleObservers(observers []DoneCallback) error {
	for _, cb := range observers {
		cb := cb
		if err := f.loop.CallSoon(func() { cb(f) }); err != nil {
			return err
		}
	}
	return nil
}

// markBlocking sets the write-once blocking flag and reports whether this
// was the first time it was set (i.e. the awaiter's first advance).
func (f *Future) markBlocking() (first bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocking {
		return false
	}
	f.blocking = true
	return true
}

// consumeBlocking clears the blocking flag and reports its previous value.
func (f *Future) consumeBlocking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.blocking
	f.blocking = false
	return was
}
