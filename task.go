package asyncio

import (
	"fmt"
	"sync/atomic"
)

// FutureCompatible is the duck-typed capability set a foreign (non-native)
// awaitable must satisfy: a future-shaped object this core did not construct
// itself, but can still suspend a Task on.
type FutureCompatible interface {
	// AsyncioFutureBlocking reports the blocking hint. The bool return mirrors
	// the attribute being present and non-nil; ok false means the blocking
	// attribute is absent, which is treated as a bad yield.
	AsyncioFutureBlocking() (blocking bool, ok bool)
	// SetAsyncioFutureBlocking writes the blocking hint back, clearing it once
	// consumed as a genuine suspension.
	SetAsyncioFutureBlocking(bool)
	// Loop returns the collaborator this object is bound to, for the
	// cross-loop check.
	Loop() *Loop
	AddDoneCallback(cb func(FutureCompatible))
	Cancel() bool
	Result() (any, error)
}

// emptyYield is the "bare yield" sentinel: a computation suspending without
// awaiting anything in particular, asking only to be rescheduled.
type emptyYield struct{}

// EmptyYield is the value a [Computation] yields to mean "reschedule me with
// no particular future to wait on".
var EmptyYield = emptyYield{}

// generatorYield marks a yielded value as itself a nested computation that
// should have been awaited rather than yielded raw.
type generatorYield struct {
	inner Computation
}

// YieldComputation wraps an inner [Computation] so that yielding it directly
// (instead of awaiting it) is classified as a protocol violation, matching
// asyncio's distinction between a generator and a coroutine.
func YieldComputation(inner Computation) any {
	return generatorYield{inner: inner}
}

var taskIDCounter atomic.Uint64

// Task drives a [Computation] to completion using a step/wakeup trampoline.
// It embeds a Future so a Task's own outcome (the computation's final return
// value or raised error) is itself observable via
// [Future.Result]/[Future.AddDoneCallback].
type Task struct {
	*Future

	loop        *Loop
	computation Computation

	// awaiting is the inner Future/Task or foreign future-compatible object
	// this Task is currently suspended on, or nil when not suspended. step
	// clears it on entry and does not check whether it was set.
	awaiting any

	// mustCancel is the deferred-cancel flag: Cancel sets this when it could
	// not synchronously cancel whatever the Task is awaiting.
	mustCancel bool

	id uint64
}

// NewTask constructs a Task bound to loop, driving computation, and schedules
// its first step. computation must not be nil.
func NewTask(loop *Loop, computation Computation) *Task {
	id := taskIDCounter.Add(1)

	t := &Task{
		Future:      NewFuture(loop),
		loop:        loop,
		computation: computation,
		id:          id,
	}
	t.Future.diag.logDestroyPending.Store(true)
	addTaskCleanup(t)

	loop.tasks.register(t)

	_ = loop.CallSoon(func() { t.step(nil) })
	return t
}

// ID returns the Task's identity, stable for its lifetime.
func (t *Task) ID() uint64 { return t.id }

// currentGoroutine is implemented by Computation implementations whose body
// runs on a goroutine other than the one calling Send/Throw - as
// [funcComputation] does, dedicating its own goroutine to body while the
// caller of Send/Throw blocks waiting on the result. Consulted so
// [Loop.CurrentTask] reflects the goroutine actually executing the
// computation, not the one driving step().
type currentGoroutine interface {
	currentGoroutineID() uint64
}

// currencyGoroutineID resolves the goroutine that should be recorded as
// "running this task": the computation's own body goroutine when it reports
// one, otherwise the caller's goroutine (a Computation implementation that
// runs synchronously on the stepping goroutine needs no special-casing).
func (t *Task) currencyGoroutineID() uint64 {
	if cg, ok := t.computation.(currentGoroutine); ok {
		if id := cg.currentGoroutineID(); id != 0 {
			return id
		}
	}
	return getGoroutineID()
}

// Cancel overrides [Future.Cancel]: forward to whatever the Task is
// currently awaiting; if that cannot cancel synchronously (or nothing is
// being awaited), defer the cancellation to the next step.
func (t *Task) Cancel() bool {
	t.Future.mu.Lock()
	if t.Future.state != Pending {
		t.Future.mu.Unlock()
		return false
	}
	awaiting := t.awaiting
	t.Future.mu.Unlock()

	if awaiting != nil {
		if cancelInner(awaiting) {
			return true
		}
	}

	t.Future.mu.Lock()
	if t.Future.state != Pending {
		t.Future.mu.Unlock()
		return false
	}
	t.mustCancel = true
	t.Future.mu.Unlock()
	return true
}

func cancelInner(awaiting any) bool {
	switch v := awaiting.(type) {
	case *Future:
		return v.Cancel()
	case *Task:
		return v.Cancel()
	case FutureCompatible:
		return v.Cancel()
	default:
		return false
	}
}

// step is the task driver's entry point, the callback submitted to the
// loop's ready queue for both the initial resume and every subsequent
// wakeup.
func (t *Task) step(exc error) {
	if t.Future.State() != Pending {
		return
	}

	goroutineID := t.currencyGoroutineID()
	t.loop.tasks.enterCurrent(goroutineID, t)
	defer t.loop.tasks.leaveCurrent(goroutineID)

	// 1. Deferred cancel injection.
	t.Future.mu.Lock()
	if t.mustCancel {
		t.mustCancel = false
		if _, ok := exc.(*CancelledError); !ok {
			exc = &CancelledError{}
		}
	}
	// 2. Clear awaiting: we are resuming, so there is no current inner future.
	t.awaiting = nil
	t.Future.mu.Unlock()

	// 3. Resume the computation.
	var result Step
	if exc == nil {
		result = t.computation.Send(nil)
	} else {
		result = t.computation.Throw(exc)
	}

	switch result.Kind {
	case Returned:
		_ = t.Future.SetResult(result.Value)
		return
	case Raised:
		t.handleRaised(result.Err)
		return
	default: // Yielded
		t.classifyYield(result.Value)
	}
}

// handleRaised turns a computation's raised error into the Task's own
// outcome.
func (t *Task) handleRaised(err error) {
	switch e := err.(type) {
	case *StopIteration:
		_ = t.Future.SetResult(e.Value)
	case *CancelledError:
		t.Future.Cancel()
	case *InvalidYieldError, *TypeError, *InvalidStateError:
		_ = t.Future.SetException(err)
	default:
		if err != nil {
			_ = t.Future.SetException(err)
			return
		}
		// A nil error reaching here would mean computation.Send/Throw
		// produced a Raised Step with no error, which funcComputation never
		// does; nothing to report.
	}
}

// classifyYield inspects what the computation handed back at a suspension
// point and decides how the Task should react to it.
func (t *Task) classifyYield(y any) {
	switch v := y.(type) {
	case nil:
		t.scheduleBadYield(nil)
	case emptyYield:
		_ = t.loop.CallSoon(func() { t.step(nil) })
	case *Future:
		t.suspendOnNative(v)
	case *Task:
		t.suspendOnNative(v.Future)
	case generatorYield:
		t.scheduleProtocolError(&InvalidYieldError{Message: "yield was used instead of yield from"})
	case FutureCompatible:
		t.suspendOnForeign(v)
	default:
		t.scheduleBadYield(y)
	}
}

// scheduleBadYield captures the displayed value before scheduling the
// follow-up step, so formatting happens before anything could mutate or
// reclaim y.
func (t *Task) scheduleBadYield(y any) {
	msg := fmt.Sprintf("Task got bad yield: %v", y)
	t.scheduleProtocolError(&InvalidYieldError{Message: msg})
}

// scheduleProtocolError never raises inline from step; it always re-enters
// via the loop's ready queue so the error routes back through the ordinary
// exception path on the next step.
func (t *Task) scheduleProtocolError(err error) {
	_ = t.loop.CallSoon(func() { t.step(err) })
}

// suspendOnNative handles a Task suspending on one of this package's own
// Futures.
func (t *Task) suspendOnNative(f *Future) {
	if f == t.Future {
		t.scheduleProtocolError(&InvalidYieldError{Message: "Task cannot await on itself"})
		return
	}
	if f.Loop() != t.loop {
		t.scheduleProtocolError(&InvalidYieldError{Message: "future attached to a different loop"})
		return
	}
	if !f.consumeBlocking() {
		t.scheduleProtocolError(&InvalidYieldError{Message: "yield instead of yield from"})
		return
	}

	f.AddDoneCallback(func(done *Future) { t.wakeupNative(done) })

	t.Future.mu.Lock()
	t.awaiting = f
	mustCancel := t.mustCancel
	t.Future.mu.Unlock()

	if mustCancel {
		if f.Cancel() {
			t.Future.mu.Lock()
			t.mustCancel = false
			t.Future.mu.Unlock()
		}
	}
}

// suspendOnForeign handles a Task suspending on a duck-typed
// [FutureCompatible] object that this package did not construct.
func (t *Task) suspendOnForeign(f FutureCompatible) {
	blocking, ok := f.AsyncioFutureBlocking()
	if !ok {
		t.scheduleBadYield(f)
		return
	}
	if f.Loop() != t.loop {
		t.scheduleProtocolError(&InvalidYieldError{Message: "future attached to a different loop"})
		return
	}
	if !blocking {
		t.scheduleProtocolError(&InvalidYieldError{Message: "yield instead of yield from"})
		return
	}
	f.SetAsyncioFutureBlocking(false)

	f.AddDoneCallback(func(done FutureCompatible) { t.wakeupForeign(done) })

	t.Future.mu.Lock()
	t.awaiting = f
	mustCancel := t.mustCancel
	t.Future.mu.Unlock()

	if mustCancel {
		if f.Cancel() {
			t.Future.mu.Lock()
			t.mustCancel = false
			t.Future.mu.Unlock()
		}
	}
}

// wakeupNative reacts to one of this package's own Futures settling,
// inspected directly rather than going through Result() so a Cancelled
// outcome need not round-trip through an error value first.
func (t *Task) wakeupNative(f *Future) {
	switch f.State() {
	case Cancelled:
		t.step(&CancelledError{})
	case Finished:
		v, err := f.Result()
		if err != nil {
			t.step(err)
		} else {
			t.stepResult(v)
		}
	default:
		// A done-callback firing on a still-Pending future cannot happen
		// (observers only drain on terminal transition); nothing to do.
	}
}

// wakeupForeign reacts to a foreign future-compatible outcome settling:
// unlike the native path there is no direct state inspection available, so
// the outcome is normalised through Result().
func (t *Task) wakeupForeign(f FutureCompatible) {
	v, err := f.Result()
	if err != nil {
		t.step(err)
		return
	}
	t.stepResult(v)
}

// stepResult resumes the computation with a successful value. A woken Task
// always resumes with exc == nil and lets the computation itself retrieve
// the inner future's value, matching how a coroutine resumed after an await
// fetches the awaited result itself rather than having it force-fed back in.
func (t *Task) stepResult(_ any) {
	t.step(nil)
}
