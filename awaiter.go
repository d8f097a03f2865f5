// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncio

// FutureAwaiter is a single-shot lazy sequence adapter bound to one Future: a
// computation drives it to suspend on the Future exactly once, then to
// surface the Future's eventual result or exception in place of a second
// suspension.
type FutureAwaiter struct {
	future *Future
}

// NewFutureAwaiter binds an awaiter to f. f must not be nil.
func NewFutureAwaiter(f *Future) *FutureAwaiter {
	return &FutureAwaiter{future: f}
}

// Send advances the awaiter, mimicking a generator's send(ignored) - the
// resumed value itself is discarded; what matters is the Future's state.
// It returns (future, false, nil, nil) the first time it is called on a
// Pending future, setting the future's blocking flag; (nil, true, value, err)
// once the future is terminal, where err carries the stored exception (or a
// CancelledError) and a nil err means the computation should "return" value.
// A later call while the future is still Pending and its blocking flag is
// still set returns an [*InvalidYieldError] with done true.
func (a *FutureAwaiter) Send(any) (yielded *Future, done bool, value any, err error) {
	if a.future == nil {
		return nil, true, nil, nil
	}

	if a.future.State() == Pending {
		if !a.future.markBlocking() {
			a.future = nil
			return nil, true, nil, &InvalidYieldError{Message: "future awaited a second time while still pending"}
		}
		return a.future, false, nil, nil
	}

	f := a.future
	a.future = nil
	value, err = f.Result()
	return nil, true, value, err
}

// Throw drops the bound future and returns err unchanged, matching
// throw(type, val, tb) on a generator that exits immediately with the thrown
// exception rather than reaching another yield. Safe to call once the
// awaiter has already finished (future is nil); err still passes through.
func (a *FutureAwaiter) Throw(err error) error {
	a.future = nil
	return err
}

// Close drops the bound future without producing an outcome.
func (a *FutureAwaiter) Close() {
	a.future = nil
}

// Await drives a [FutureAwaiter] for f to completion from inside a
// [Computation] body, using yield to suspend exactly once. It is the
// idiomatic entry point computations use in place of writing out the
// FutureAwaiter protocol by hand:
//
//	v, err := asyncio.Await(yield, innerFuture)
//
// A Task.Throw delivered while suspended inside yield (a cancellation, most
// commonly) unwinds the call stack as an injectedThrow panic; Await recovers
// it here, routes it through the awaiter's Throw so the bound future is
// dropped the same way a normal completion drops it, and returns the error
// in place of re-panicking - so a computation body can write a plain
// `v, err := asyncio.Await(yield, f)` and handle cancellation as an
// ordinary error return, without installing its own recover.
func Await(yield Yield, f *Future) (value any, err error) {
	a := NewFutureAwaiter(f)
	defer func() {
		if r := recover(); r != nil {
			thrown, ok := Recovered(r)
			if !ok {
				panic(r)
			}
			value, err = nil, a.Throw(thrown)
		}
	}()
	for {
		pending, done, v, e := a.Send(nil)
		if done {
			return v, e
		}
		_, _ = yield(pending)
	}
}
