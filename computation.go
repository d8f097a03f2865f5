// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncio

import "sync/atomic"

// StepKind classifies what a single resumption of a [Computation] produced:
// modeled as a tagged result rather than a raised stop signal, since Go has
// no generator return-as-exception convention to piggyback on.
type StepKind int

const (
	// Yielded means the computation suspended, surfacing an intermediate
	// value for [Task] to classify.
	Yielded StepKind = iota
	// Returned means the computation completed normally with a final value.
	Returned
	// Raised means the computation exited via an error.
	Raised
)

// Step is the outcome of one Send or Throw call against a [Computation].
type Step struct {
	Kind  StepKind
	Value any
	Err   error
}

// Computation is the suspendable unit a [Task] drives: Go's stand-in for a
// coroutine/generator object supporting send(value) and throw(exc). It has
// no generator primitive to build on, so implementations built with
// [NewComputation] run the body on its own goroutine and hand control back
// and forth over a pair of channels - the same goroutine+channel handoff
// idiom used to bridge a single blocking call into the loop's
// single-threaded world.
type Computation interface {
	// Send resumes the computation with a value (nil for the very first
	// resumption, matching computation.send(None)).
	Send(value any) Step
	// Throw resumes the computation by raising err at its current suspension
	// point. err must be non-nil.
	Throw(err error) Step
	// Close abandons the computation without resuming it again. Safe to call
	// more than once.
	Close()
}

// Yield is the function a [Computation] body calls to suspend: it hands y to
// whatever is driving the computation and blocks until resumed. A normal
// resumption returns (value, nil); a Throw resumption instead unwinds the
// call stack via panic, mirroring a generator's .throw() raising at the
// suspension point - recover from it exactly where a "try around await"
// would go in source built on real generators.
type Yield func(y any) (resumed any, unusedAlwaysNil error)

// injectedThrow is the panic payload used to deliver Throw at a yield point.
// Never exported: body code that wants to observe a thrown error recovers it
// via [Recovered], not by matching this type directly.
type injectedThrow struct {
	err error
}

// Recovered extracts the error from a value obtained via recover() at a
// suspension point, if it originated from [Computation.Throw]. ok is false
// for any other recovered value (including nil, meaning no panic occurred).
func Recovered(r any) (err error, ok bool) {
	t, ok := r.(injectedThrow)
	if !ok {
		return nil, false
	}
	return t.err, true
}

// closeSignal is the panic payload run uses to unwind a computation's
// goroutine when Close is called before the body returns on its own.
type closeSignal struct{}

type resumeMsg struct {
	value any
	err   error
}

// funcComputation implements Computation by running body on a dedicated
// goroutine, synchronizing each step through a pair of unbuffered channels.
type funcComputation struct {
	resumeCh chan resumeMsg
	stepCh   chan Step
	doneCh   chan struct{}
	closed   bool
	started  bool
	finished bool

	// bodyGoroutine is the goroutine ID body actually executes on - distinct
	// from whatever goroutine calls Send/Throw (ordinarily the Loop
	// goroutine, blocked waiting on stepCh while body runs). Task consults
	// this through the currentGoroutine interface so [Loop.CurrentTask]
	// reflects reality when called from inside a computation body.
	bodyGoroutine atomic.Uint64
}

// NewComputation builds a [Computation] from body, a function receiving a
// [Yield] it calls each time it wants to suspend. body's return value and
// error become the computation's Returned/Raised outcome.
func NewComputation(body func(yield Yield) (any, error)) Computation {
	c := &funcComputation{
		resumeCh: make(chan resumeMsg),
		stepCh:   make(chan Step),
		doneCh:   make(chan struct{}),
	}
	started := make(chan struct{})
	go c.run(body, started)
	<-started
	return c
}

// currentGoroutineID implements the currentGoroutine interface task.go
// consults for currency tracking.
func (c *funcComputation) currentGoroutineID() uint64 {
	return c.bodyGoroutine.Load()
}

func (c *funcComputation) run(body func(yield Yield) (any, error), started chan struct{}) {
	c.bodyGoroutine.Store(getGoroutineID())
	close(started)
	defer close(c.doneCh)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(closeSignal); ok {
				return
			}
			if t, ok := r.(injectedThrow); ok {
				// A thrown error the body did not recover propagates as the
				// computation's own outcome, like an uncaught generator.throw().
				c.stepCh <- Step{Kind: Raised, Err: t.err}
				return
			}
			c.stepCh <- Step{Kind: Raised, Err: PanicError{Value: r}}
		}
	}()

	yield := func(y any) (any, error) {
		c.stepCh <- Step{Kind: Yielded, Value: y}
		msg, ok := <-c.resumeCh
		if !ok {
			panic(closeSignal{})
		}
		if msg.err != nil {
			panic(injectedThrow{err: msg.err})
		}
		return msg.value, nil
	}

	// A computation does not begin running its body until first resumed,
	// matching a generator that hasn't taken its first send(None) yet.
	first, ok := <-c.resumeCh
	if !ok {
		return
	}
	if first.err != nil {
		// Thrown before the body ever ran: nothing to unwind into, so the
		// error simply becomes the computation's outcome.
		c.stepCh <- Step{Kind: Raised, Err: first.err}
		return
	}

	v, err := body(yield)
	if err != nil {
		c.stepCh <- Step{Kind: Raised, Err: err}
		return
	}
	c.stepCh <- Step{Kind: Returned, Value: v}
}

func (c *funcComputation) resume(msg resumeMsg) Step {
	if c.finished {
		return Step{Kind: Raised, Err: &InvalidYieldError{Message: "cannot resume a finished computation"}}
	}
	if c.closed {
		return Step{Kind: Raised, Err: &InvalidYieldError{Message: "cannot resume a closed computation"}}
	}
	c.started = true
	c.resumeCh <- msg
	step := <-c.stepCh
	if step.Kind != Yielded {
		c.finished = true
	}
	return step
}

// Send implements [Computation].
func (c *funcComputation) Send(value any) Step {
	return c.resume(resumeMsg{value: value})
}

// Throw implements [Computation].
func (c *funcComputation) Throw(err error) Step {
	return c.resume(resumeMsg{err: err})
}

// Close implements [Computation].
func (c *funcComputation) Close() {
	if c.closed || c.finished {
		return
	}
	c.closed = true
	close(c.resumeCh)
	<-c.doneCh
	c.finished = true
}
