// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncio

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// Design Decision: the package-level default logger is a deliberate exception
// to "no package globals" - diagnostics fire from finalizers, which run on an
// arbitrary goroutine with no Loop or Future in scope to carry a logger
// reference through. Structured logging is an infrastructure cross-cutting
// concern shared by every Loop instance in the process, matching the
// package-level configuration already used for this purpose elsewhere in the
// ecosystem (e.g. zap's global logger).
var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[logiface.Event]
}

// SetLogger installs the structured logger used for destruction-time
// diagnostics (unobserved Future exceptions, pending Tasks dropped while
// still Pending). The zero value (nil) disables diagnostics entirely.
//
// logiface-stumpy provides a low-overhead default:
//
//	asyncio.SetLogger(stumpy.New().Logger())
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

func getLogger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}
