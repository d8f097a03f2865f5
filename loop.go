package asyncio

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ExceptionContext describes an error the loop could not deliver anywhere
// more specific. The loop itself produces one only when a scheduled callback
// panics; it sets Message and Err and leaves Future and Task nil. It is the
// Go analogue of asyncio's call_exception_handler context dict.
type ExceptionContext struct {
	Message string
	Err     error
	Future  *Future
	Task    *Task
}

// ExceptionHandler receives contexts the loop cannot resolve on its own. The
// default handler (installed when none is configured) logs via the
// package's structured logger.
type ExceptionHandler func(ctx ExceptionContext)

// timerEntry is one pending ScheduleTimer registration.
type timerEntry struct {
	when      time.Time
	seq       uint64
	fn        func()
	cancelled atomic.Bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// TimerHandle cancels a timer registered via [Loop.ScheduleTimer].
type TimerHandle struct {
	entry *timerEntry
}

// Cancel prevents the timer's function from running, if it has not already
// fired. Safe to call more than once, and safe after the timer has fired.
func (h *TimerHandle) Cancel() {
	if h != nil && h.entry != nil {
		h.entry.cancelled.Store(true)
	}
}

var loopIDCounter atomic.Uint64

// Loop is the single-threaded scheduling collaborator that Future and Task
// depend on: it is the Go stand-in for asyncio's BaseEventLoop, narrowed to
// exactly the surface the engine's core needs - call_soon, a monotonic
// timer queue for wakeups, and an exception-reporting sink. Readiness for
// externally supplied I/O (sockets, pipes) is out of scope; a caller wanting
// that integrates it by resolving a Future from its own goroutine via
// CallSoon.
//
// Internally it follows the "goja-style" auxiliary job queue pattern: a
// single mutex guards a slice of ready callbacks, producers append and
// signal a buffered wakeup channel, and the loop goroutine drains the whole
// batch in one lock acquisition per cycle.
type Loop struct {
	_ [0]func() // prevent copying

	id    uint64
	state *FastState

	mu           sync.Mutex
	auxJobs      []func()
	auxJobsSpare []func()

	timers   timerHeap
	timerSeq uint64

	fastWakeupCh        chan struct{}
	wakeUpSignalPending atomic.Uint32

	loopGoroutineID atomic.Uint64
	loopDone        chan struct{}
	stopOnce        sync.Once

	debug atomic.Bool

	exceptionHandlerMu sync.RWMutex
	exceptionHandler   ExceptionHandler

	// tasks is the registry of live Tasks bound to this loop, used both for
	// process-wide diagnostics and for [CurrentTask].
	tasks *TaskRegistry
}

// New constructs a Loop in the Awake state, not yet running.
func New(opts ...LoopOption) (*Loop, error) {
	o := resolveLoopOptions(opts)

	l := &Loop{
		id:           loopIDCounter.Add(1),
		state:        NewFastState(),
		fastWakeupCh: make(chan struct{}, 1),
		loopDone:     make(chan struct{}),
	}
	l.debug.Store(o.debug)
	l.exceptionHandler = o.exceptionHandler
	l.tasks = newTaskRegistry(l)

	return l, nil
}

// Debug reports whether the loop was constructed with [WithDebug]. Futures
// and Tasks consult this to decide whether to capture construction stacks
// for diagnostic messages.
func (l *Loop) Debug() bool {
	return l.debug.Load()
}

// State returns the current lifecycle state of the loop.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Tasks returns the loop's TaskRegistry.
func (l *Loop) Tasks() *TaskRegistry {
	return l.tasks
}

// CallSoon schedules fn to run on the loop goroutine as soon as the current
// batch of ready callbacks finishes draining. Safe to call from any
// goroutine. Returns [ErrLoopTerminated] if the loop has fully shut down.
func (l *Loop) CallSoon(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.state.IsTerminal() {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.auxJobs = append(l.auxJobs, fn)
	l.mu.Unlock()

	l.wakeup()
	return nil
}

// SubmitInternal is CallSoon's fast path for callers already running on the
// loop goroutine: it executes fn immediately instead of
// round-tripping through the ready queue, matching the thread-affinity
// optimization used throughout the collaborator's ancestry. Callers on any
// other goroutine fall back to CallSoon.
func (l *Loop) SubmitInternal(fn func()) error {
	if fn == nil {
		return nil
	}
	if l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	if l.isLoopThread() {
		l.safeExecute(fn)
		return nil
	}
	return l.CallSoon(fn)
}

// ScheduleTimer arranges for fn to run on the loop goroutine after delay has
// elapsed. The returned handle cancels the timer if it has not yet fired.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (*TimerHandle, error) {
	entry := &timerEntry{
		when: time.Now().Add(delay),
		fn:   fn,
	}
	if err := l.CallSoon(func() {
		l.timerSeq++
		entry.seq = l.timerSeq
		heap.Push(&l.timers, entry)
	}); err != nil {
		return nil, err
	}
	return &TimerHandle{entry: entry}, nil
}

// CallExceptionHandler routes ctx to the configured [ExceptionHandler], or
// to the package logger if none was configured.
func (l *Loop) CallExceptionHandler(ctx ExceptionContext) {
	l.exceptionHandlerMu.RLock()
	handler := l.exceptionHandler
	l.exceptionHandlerMu.RUnlock()

	if handler != nil {
		handler(ctx)
		return
	}

	logger := getLogger()
	if logger == nil {
		return
	}
	b := logger.Err().Str("message", ctx.Message)
	if ctx.Err != nil {
		b = b.Str("error", ctx.Err.Error())
	}
	b.Log("asyncio: unhandled exception in event loop")
}

// Run blocks the calling goroutine, draining ready callbacks and firing
// timers until ctx is cancelled or Shutdown/Close is called. It returns
// ctx.Err() for cancellation-driven exits, or nil for a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.IsTerminal() {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	defer close(l.loopDone)

	return l.run(ctx)
}

func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			l.requestTermination()
		default:
		}

		l.runExpiredTimers()
		l.drainReady()

		switch l.state.Load() {
		case StateTerminating:
			l.mu.Lock()
			empty := len(l.auxJobs) == 0
			l.mu.Unlock()
			if empty {
				l.state.Store(StateTerminated)
				l.tasks.rejectAllPending(ErrLoopTerminated)
				return ctx.Err()
			}
			continue
		case StateTerminated:
			return ctx.Err()
		}

		l.sleep(ctx)
	}
}

// drainReady executes every callback currently in the ready queue, including
// any appended by callbacks that ran earlier in the same drain.
func (l *Loop) drainReady() {
	for {
		l.mu.Lock()
		jobs := l.auxJobs
		l.auxJobs = l.auxJobsSpare
		l.mu.Unlock()

		if len(jobs) == 0 {
			l.auxJobsSpare = jobs[:0]
			return
		}
		for i, job := range jobs {
			l.safeExecute(job)
			jobs[i] = nil
		}
		l.auxJobsSpare = jobs[:0]
	}
}

// runExpiredTimers fires every timer due at or before now.
func (l *Loop) runExpiredTimers() {
	now := time.Now()
	for len(l.timers) > 0 {
		next := l.timers[0]
		if next.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		if next.cancelled.Load() {
			continue
		}
		l.safeExecute(next.fn)
	}
}

// nextTimeout reports how long the loop may safely block before the next
// timer becomes due. A negative duration means "no timer pending, block
// indefinitely".
func (l *Loop) nextTimeout() time.Duration {
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].when.Sub(time.Now())
	if d < 0 {
		d = 0
	}
	return d
}

// sleep blocks the loop goroutine until woken by CallSoon, a due timer, or
// ctx cancellation.
func (l *Loop) sleep(ctx context.Context) {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	l.mu.Lock()
	hasReady := len(l.auxJobs) > 0
	l.mu.Unlock()
	if hasReady {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	timeout := l.nextTimeout()
	switch {
	case timeout == 0:
		// A timer is already due; loop back around without blocking.
	case timeout < 0:
		select {
		case <-l.fastWakeupCh:
		case <-ctx.Done():
		}
	default:
		t := time.NewTimer(timeout)
		select {
		case <-l.fastWakeupCh:
			t.Stop()
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	l.wakeUpSignalPending.Store(0)
	l.state.TryTransition(StateSleeping, StateRunning)
}

// wakeup signals the loop goroutine out of sleep, deduplicated so that
// bursts of CallSoon from multiple goroutines only ever queue one pending
// wake.
func (l *Loop) wakeup() {
	if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
	}
}

// requestTermination moves the loop into StateTerminating from any
// non-terminal state, idempotently.
func (l *Loop) requestTermination() {
	for {
		cur := l.state.Load()
		if cur == StateTerminating || cur == StateTerminated {
			return
		}
		if l.state.TryTransition(cur, StateTerminating) {
			l.wakeup()
			return
		}
	}
}

// Shutdown requests a graceful stop: the loop finishes draining its ready
// queue (pending timers are discarded, matching "close doesn't wait for
// call_later callbacks") and then terminates. It blocks until that completes
// or ctx is done.
func (l *Loop) Shutdown(ctx context.Context) error {
	var waitErr error
	l.stopOnce.Do(func() {
		for {
			cur := l.state.Load()
			if cur == StateTerminated {
				return
			}
			if cur == StateTerminating {
				break
			}
			if cur == StateAwake {
				l.state.Store(StateTerminated)
				close(l.loopDone)
				return
			}
			if l.state.TryTransition(cur, StateTerminating) {
				l.wakeup()
				break
			}
		}
		select {
		case <-l.loopDone:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	})
	if waitErr != nil {
		return waitErr
	}
	if !l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	return nil
}

// Close immediately requests termination without waiting for the ready
// queue to drain. Run, if in progress, still performs an orderly drain on
// its own goroutine before returning.
func (l *Loop) Close() error {
	for {
		cur := l.state.Load()
		if cur == StateTerminated {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(cur, StateTerminating) {
			if cur == StateAwake {
				l.state.Store(StateTerminated)
			}
			l.wakeup()
			return nil
		}
	}
}

// safeExecute runs fn, recovering and reporting any panic through the
// exception handler rather than letting it take down the loop goroutine.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.CallExceptionHandler(ExceptionContext{
				Message: "callback panicked",
				Err:     PanicError{Value: r},
			})
		}
	}()
	fn()
}

// isLoopThread reports whether the calling goroutine is the one running
// Run's loop.
func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// getGoroutineID extracts the numeric goroutine ID from the runtime's debug
// stack header. There is no supported API for this; it backs the
// loop-thread check ([Loop.SubmitInternal]'s fast path and Run's re-entrancy
// guard) and the per-goroutine current-task tracking behind
// [Loop.CurrentTask].
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
