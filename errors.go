// Package asyncio implements the future/task core of a cooperative,
// single-threaded asynchronous execution engine.
package asyncio

import (
	"errors"
	"fmt"
)

// InvalidStateError is returned when an operation is attempted against a
// Future that is not in the state the operation requires - e.g. calling
// [Future.SetResult] on an already-finished Future, or [Future.Result] on one
// that is still Pending.
type InvalidStateError struct {
	// Op names the operation that was rejected (e.g. "SetResult", "Result").
	Op string
	// State is the Future's state at the time of the call.
	State State
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("asyncio: invalid state for %s: %s", e.Op, e.State)
}

// CancelledError indicates a Future or Task was cancelled. It is a first
// class outcome, not a programming error: [Future.Result] and
// [Future.Exception] raise it for any Future whose state is [Cancelled].
type CancelledError struct {
	// Msg optionally describes why the cancellation happened.
	Msg string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Msg == "" {
		return "asyncio: cancelled"
	}
	return "asyncio: cancelled: " + e.Msg
}

// Is reports whether target is a *CancelledError, regardless of Msg, so that
// errors.Is(err, &CancelledError{}) matches any cancellation.
func (e *CancelledError) Is(target error) bool {
	var t *CancelledError
	return errors.As(target, &t)
}

// Is reports whether target is an *InvalidStateError, regardless of Op and
// State, so that errors.Is(err, &InvalidStateError{}) matches any of them.
func (e *InvalidStateError) Is(target error) bool {
	var t *InvalidStateError
	return errors.As(target, &t)
}

// TypeError reports that [Future.SetException] was handed something other
// than an error value, or the reserved StopIteration-equivalent sentinel.
type TypeError struct {
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "asyncio: type error"
	}
	return "asyncio: " + e.Message
}

// InvalidYieldError reports a protocol violation by the computation driven by
// a Task: a bad yield, a self-await, an await across loops, or a raw yield of
// a future that should have been awaited. Task delivers these via the
// deferred-error path (Task.step re-entry), never raised inline. The same
// type is also returned by [FutureAwaiter.Send] for a second advance while
// the future is still Pending, and by a [NewComputation] computation resumed
// after it finished or was closed.
type InvalidYieldError struct {
	Message string
}

// Error implements the error interface.
func (e *InvalidYieldError) Error() string {
	return "asyncio: " + e.Message
}

// PanicError wraps a panic value recovered from a computation body, or from a
// loop callback (reported through [Loop.CallExceptionHandler]).
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("asyncio: panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError collects the rejection reasons of every member of an [Any]
// call when none of them succeeded. The order matches the input slice.
type AggregateError struct {
	Message string
	Errors  []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "asyncio: all futures failed"
}

// Unwrap returns the wrapped errors for multi-error unwrapping (Go 1.20+).
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is an *AggregateError, regardless of contents.
func (e *AggregateError) Is(target error) bool {
	var t *AggregateError
	return errors.As(target, &t)
}

// ErrLoopTerminated is returned when operations are attempted against a Loop
// that has already shut down.
var ErrLoopTerminated = errors.New("asyncio: loop has been terminated")

// ErrLoopAlreadyRunning is returned when Run is called on a Loop that is
// already running.
var ErrLoopAlreadyRunning = errors.New("asyncio: loop is already running")

// ErrReentrantRun is returned when Run is called from within the loop's own
// goroutine.
var ErrReentrantRun = errors.New("asyncio: cannot call Run from within the loop")

// ErrStepNotPending describes a step invoked on a Task that is not Pending.
// Task.step does not return or report it: a step on a non-Pending Task
// returns without doing anything.
var ErrStepNotPending = errors.New("asyncio: step called on a task that is not pending")
