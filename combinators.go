package asyncio

// Gather returns a Future that resolves once every future in futures has
// finished with a value, in the same order as the input, or rejects with the
// first exception encountered among them (subsequent settlements are still
// observed internally but no longer affect the result). An empty futures
// resolves immediately with an empty slice.
func Gather(loop *Loop, futures ...*Future) *Future {
	out := NewFuture(loop)
	if len(futures) == 0 {
		_ = out.SetResult([]any{})
		return out
	}

	values := make([]any, len(futures))
	completed := 0
	rejected := false

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f *Future) {
			if out.Done() {
				return
			}
			v, err := f.Result()
			if err != nil {
				rejected = true
				_ = out.SetException(err)
				return
			}
			if rejected {
				return
			}
			values[idx] = v
			completed++
			if completed == len(futures) {
				_ = out.SetResult(values)
			}
		})
	}

	return out
}

// Race returns a Future that settles with the outcome of whichever future in
// futures settles first; later settlements are ignored. An empty futures
// never settles.
func Race(loop *Loop, futures ...*Future) *Future {
	out := NewFuture(loop)
	for _, f := range futures {
		f.AddDoneCallback(func(f *Future) {
			if out.Done() {
				return
			}
			v, err := f.Result()
			if err != nil {
				_ = out.SetException(err)
				return
			}
			_ = out.SetResult(v)
		})
	}
	return out
}

// Outcome is one element of the slice [AllSettled] resolves with: exactly one
// of Value or Err is meaningful, distinguished by Err == nil.
type Outcome struct {
	Value any
	Err   error
}

// AllSettled returns a Future that resolves, never rejects, once every future
// in futures has settled, carrying one [Outcome] per input in order. An empty
// futures resolves immediately with an empty slice.
func AllSettled(loop *Loop, futures ...*Future) *Future {
	out := NewFuture(loop)
	if len(futures) == 0 {
		_ = out.SetResult([]Outcome{})
		return out
	}

	outcomes := make([]Outcome, len(futures))
	completed := 0

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f *Future) {
			v, err := f.Result()
			outcomes[idx] = Outcome{Value: v, Err: err}
			completed++
			if completed == len(futures) {
				_ = out.SetResult(outcomes)
			}
		})
	}

	return out
}

// Any returns a Future that resolves with the value of the first future in
// futures to resolve successfully, or rejects with an [*AggregateError]
// collecting every rejection once all of them have failed. An empty futures
// rejects immediately with an empty AggregateError.
func Any(loop *Loop, futures ...*Future) *Future {
	out := NewFuture(loop)
	if len(futures) == 0 {
		_ = out.SetException(&AggregateError{Message: "asyncio: no futures passed to Any"})
		return out
	}

	errs := make([]error, len(futures))
	rejectedCount := 0
	resolved := false

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f *Future) {
			if resolved {
				return
			}
			v, err := f.Result()
			if err == nil {
				resolved = true
				_ = out.SetResult(v)
				return
			}
			errs[idx] = err
			rejectedCount++
			if rejectedCount == len(futures) {
				_ = out.SetException(&AggregateError{Message: "asyncio: all futures failed", Errors: errs})
			}
		})
	}

	return out
}
