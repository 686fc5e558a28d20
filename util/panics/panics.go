// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package panics provides goroutine wrappers that recover panics, log
// them through a subsystem logger, and initiate a clean shutdown
// instead of letting the process crash silently under a host that
// only wakes the core irregularly (see SPEC_FULL.md AMBIENT STACK).
package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/pollinet/pollinet-sub003/logger"
)

// HandlePanic recovers a panic, logs it at critical level along with
// the stack trace of both the panicking goroutine and the spawn site,
// then exits the process. Call it deferred at the top of any spawned
// goroutine.
func HandlePanic(log btclog.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	panicHandlerDone := make(chan struct{})
	go func() {
		log.Criticalf("Fatal error: %+v", err)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		log.Criticalf("Stack trace: %s", debug.Stack())
		logger.Close()
		close(panicHandlerDone)
	}()

	const panicHandlerTimeout = 5 * time.Second
	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't handle a fatal error. Exiting...")
	case <-panicHandlerDone:
	}
	log.Criticalf("Exiting")
	os.Exit(1)
}

// GoroutineWrapperFunc returns a function that spawns its argument in
// a new goroutine guarded by HandlePanic. Every producer/consumer
// goroutine in the core (worker, adapters, persistence autosaver) is
// started through one of these instead of a bare `go`.
func GoroutineWrapperFunc(log btclog.Logger) func(func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// Exit logs the given reason at critical level, waits for the log to
// flush, and exits the process with status 1. Used by pollinetd's
// fatal startup paths (storage directory creation, debug-level
// parsing, core.Init failure); the reason reaches the log only if the
// log rotators were initialized first, which is never the case for the
// storage-directory path. A config parse failure is reported on stderr
// with a bare os.Exit instead.
func Exit(log btclog.Logger, reason string) {
	exitHandlerDone := make(chan struct{})
	go func() {
		log.Criticalf("Exiting: %s", reason)
		logger.Close()
		close(exitHandlerDone)
	}()

	const exitHandlerTimeout = 5 * time.Second
	select {
	case <-time.After(exitHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't exit gracefully.")
	case <-exitHandlerDone:
	}
	os.Exit(1)
}
