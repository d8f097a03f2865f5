// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncio

import (
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"
)

// funcPointer approximates identity comparison for func values, which Go does
// not allow comparing directly. Used by [Future.RemoveDoneCallback].
func funcPointer(fn any) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}

// diagErr boxes an error so it can live behind an atomic.Pointer (atomic
// values must be pointer-shaped, and error is an interface).
type diagErr struct{ err error }

// diagStack boxes a captured call stack so it can live behind an
// atomic.Pointer (atomic values must be pointer-shaped).
type diagStack struct{ pcs []uintptr }

// lifecycleDiag is the argument handed to [runtime.AddCleanup] for both
// Future and Task. It is allocated separately from the object it describes
// and updated through atomics rather than holding any pointer back into that
// object - a cleanup argument that referenced the object's own memory would
// keep it permanently reachable and the cleanup would never fire.
type lifecycleDiag struct {
	id    uint64
	state atomic.Int32 // mirrors Future/Task state

	// logTb is set once an exception has been stored but not yet retrieved
	// via Result/Exception.
	logTb atomic.Bool
	err   atomic.Pointer[diagErr]

	// sourceTb optionally holds the construction-site call stack, captured
	// only when the owning loop runs in debug mode.
	sourceTb atomic.Pointer[diagStack]

	// logDestroyPending is set by NewTask and never cleared; diagnoseTaskDrop
	// also checks state, so a settled Task is not reported.
	logDestroyPending atomic.Bool
}

func newLifecycleDiag(id uint64) *lifecycleDiag {
	d := &lifecycleDiag{id: id}
	d.state.Store(int32(Pending))
	return d
}

func (d *lifecycleDiag) setState(s State) {
	d.state.Store(int32(s))
}

func (d *lifecycleDiag) setException(err error) {
	d.logTb.Store(true)
	d.err.Store(&diagErr{err: err})
}

func (d *lifecycleDiag) clearLogTb() {
	d.logTb.Store(false)
}

func (d *lifecycleDiag) setSourceTb(pcs []uintptr) {
	d.sourceTb.Store(&diagStack{pcs: pcs})
}

// format renders the captured construction stack, if any, as
// newline-separated "func\n\tfile:line" entries matching runtime.Stack's own
// frame formatting.
func (d *diagStack) format() string {
	if d == nil || len(d.pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(d.pcs)
	var b []byte
	for {
		frame, more := frames.Next()
		b = append(b, frame.Function...)
		b = append(b, "\n\t"...)
		b = append(b, frame.File...)
		b = append(b, ':')
		b = fmt.Appendf(b, "%d\n", frame.Line)
		if !more {
			break
		}
	}
	return string(b)
}

// diagnoseFutureDrop fires once a Future with an unretrieved exception
// becomes unreachable, surfacing the error (and the construction site that
// created the Future, if debug mode was on) so a caller can find the leak.
func diagnoseFutureDrop(diag *lifecycleDiag) {
	if !diag.logTb.Load() {
		return
	}
	logger := getLogger()
	if logger == nil {
		return
	}
	var errStr string
	if boxed := diag.err.Load(); boxed != nil && boxed.err != nil {
		errStr = boxed.err.Error()
	}
	builder := logger.Err().
		Uint64("future_id", diag.id).
		Str("error", errStr)
	if tb := diag.sourceTb.Load().format(); tb != "" {
		builder = builder.Str("source_traceback", tb)
	}
	builder.Log("asyncio: future exception was never retrieved")
}

// addTaskCleanup registers t's drop diagnostic. It reuses t.Future.diag
// rather than allocating a second lifecycleDiag, since a Task's Future and
// the Task itself share one lifecycle; the cleanup argument is that diag
// pointer, never t or t.Future themselves.
func addTaskCleanup(t *Task) {
	runtime.AddCleanup(t, diagnoseTaskDrop, t.Future.diag)
}

// diagnoseTaskDrop fires once a Task still Pending becomes unreachable.
func diagnoseTaskDrop(diag *lifecycleDiag) {
	if State(diag.state.Load()) != Pending || !diag.logDestroyPending.Load() {
		return
	}
	logger := getLogger()
	if logger == nil {
		return
	}
	logger.Err().
		Uint64("task_id", diag.id).
		Log("asyncio: task was destroyed but it is pending")
}
