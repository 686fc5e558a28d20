// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package locks holds small synchronization primitives shared across
// the relay core, grounded on the teacher's own util/locks package.
package locks

import (
	"sync"
	"sync/atomic"
)

// WaitGroup is a drain-to-zero counter used by the event worker to
// wait for in-flight work to finish during graceful shutdown (§4.5).
// It behaves like sync.WaitGroup but additionally tolerates Wait being
// called before every Add, which the worker's shutdown path relies on.
type WaitGroup struct {
	counter  int64
	waitCond *sync.Cond
}

// NewWaitGroup creates an empty WaitGroup.
func NewWaitGroup() *WaitGroup {
	return &WaitGroup{
		waitCond: sync.NewCond(&sync.Mutex{}),
	}
}

// Add increments the outstanding-work counter.
func (wg *WaitGroup) Add() {
	atomic.AddInt64(&wg.counter, 1)
}

// Done decrements the outstanding-work counter and wakes any waiter
// once it reaches zero.
func (wg *WaitGroup) Done() {
	counter := atomic.AddInt64(&wg.counter, -1)
	if counter < 0 {
		log.Criticalf("WaitGroup.Done called more times than Add, counter=%d", counter)
		panic("negative values for wg.counter are not allowed. This was likely caused by calling Done() before Add()")
	}
	if atomic.LoadInt64(&wg.counter) == 0 {
		wg.waitCond.Broadcast()
	}
}

// Wait blocks until the outstanding-work counter reaches zero.
func (wg *WaitGroup) Wait() {
	wg.waitCond.L.Lock()
	defer wg.waitCond.L.Unlock()
	for atomic.LoadInt64(&wg.counter) != 0 {
		wg.waitCond.Wait()
	}
}
