package asyncio

// loopOptions holds the resolved configuration for [New].
type loopOptions struct {
	debug            bool
	exceptionHandler ExceptionHandler
}

// LoopOption configures a Loop at construction time.
type LoopOption interface {
	applyLoopOption(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoopOption(o *loopOptions) { f(o) }

// WithDebug enables debug mode: Futures and Tasks capture their construction
// stack, for inclusion in diagnostic messages. Mirrors asyncio's
// loop.set_debug(True).
func WithDebug(enabled bool) LoopOption {
	return loopOptionFunc(func(o *loopOptions) {
		o.debug = enabled
	})
}

// WithExceptionHandler installs the handler the loop calls for errors it has
// nowhere better to deliver. A nil handler restores the default, which logs
// via the package's structured logger.
func WithExceptionHandler(handler ExceptionHandler) LoopOption {
	return loopOptionFunc(func(o *loopOptions) {
		o.exceptionHandler = handler
	})
}

func resolveLoopOptions(opts []LoopOption) loopOptions {
	var o loopOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyLoopOption(&o)
		}
	}
	return o
}
