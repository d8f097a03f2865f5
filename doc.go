// Package asyncio implements the future/task core of a cooperative,
// single-threaded asynchronous execution engine, modeled on CPython's
// asyncio: a [Future] result cell, a [Task] driver that steps a suspendable
// [Computation] to completion, and the supporting [Loop] collaborator,
// [TaskRegistry], and diagnostics.
//
// # Architecture
//
// A [Future] is a one-shot result cell: Pending until [Future.SetResult],
// [Future.SetException], or [Future.Cancel] moves it to a terminal state,
// draining its registered done-callbacks exactly once. A [FutureAwaiter]
// adapts a Future into the lazy-sequence protocol a [Computation] suspends
// through; [Await] is the convenience entry point built on it.
//
// A [Task] embeds a Future - its own outcome - and drives a [Computation]
// with the step/wakeup trampoline in task.go: each step resumes the
// computation, classifies what it yielded (a native Future/Task, a foreign
// future-compatible object, the bare-yield sentinel, or a protocol
// violation), and schedules the next step through the [Loop]. Deferred
// cancellation, cross-loop and self-await rejection, and asynchronous error
// reporting all live here; see the package's companion design notes.
//
// [Loop] is the scheduling collaborator both Future and Task depend on: a
// single-threaded ready-callback queue plus a timer heap, narrowed to
// exactly the surface the core needs (call_soon, a debug flag, and an
// exception sink). It intentionally does not include I/O readiness
// polling - that is an external collaborator's concern, integrated the same
// way a blocking call is bridged in, by resolving a Future from another
// goroutine via [Loop.CallSoon].
//
// [TaskRegistry] tracks every live Task through weak pointers (so the
// registry "knowing about" a Task never keeps it alive) and the per-goroutine
// current-task association consulted by [Loop.CurrentTask]. Diagnostics
// (diagnostics.go) hook [runtime.AddCleanup] to warn, via the package's
// structured logger, when a Future's exception was never retrieved or a Task
// is dropped while still Pending. These drop warnings do not go through the
// Loop's [ExceptionHandler].
//
// # Thread Safety
//
// The engine is single-threaded by design: done-callbacks and Task steps
// always run on the owning Loop's goroutine. [Loop.CallSoon] is safe to call
// from any goroutine - it is how external work hands results back in - and
// so are a Future's own state transitions (SetResult, SetException, Cancel),
// which are guarded by the Future's mutex.
//
// # Usage
//
//	loop, err := asyncio.New(asyncio.WithDebug(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task := asyncio.NewTask(loop, asyncio.NewComputation(func(yield asyncio.Yield) (any, error) {
//	    inner := asyncio.NewFuture(loop)
//	    _ = loop.CallSoon(func() { _ = inner.SetResult(5) })
//	    v, err := asyncio.Await(yield, inner)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return v, nil
//	}))
//
//	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
//	defer cancel()
//	_ = loop.Run(ctx)
//
//	v, err := task.Result()
package asyncio
