// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package queueset

import (
	"container/heap"
	"math/rand"
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// Backoff constants (§4.3).
const (
	DefaultBackoffBaseMs    int64 = 30_000
	DefaultBackoffCeilingMs int64 = 3_600_000
	DefaultMaxAttempts            = 10
)

// RetryItem is a transaction awaiting re-submission after a transient
// failure (§3).
type RetryItem struct {
	TxID         fragment.TxID
	TxBytes      []byte
	AttemptCount int
	LastError    string
	NotBeforeMs  int64
}

// retryPriorityQueueLessFunc mirrors the teacher's compare-function
// indirection (mining.txPriorityQueueLessFunc) so the ordering rule
// can be swapped without touching the heap plumbing.
type retryPriorityQueueLessFunc func(*retryHeap, int, int) bool

// retryHeap implements container/heap.Interface over RetryItems,
// ordered by NotBeforeMs (earliest first).
type retryHeap struct {
	lessFunc retryPriorityQueueLessFunc
	items    []*RetryItem
}

func (h *retryHeap) Len() int { return len(h.items) }

func (h *retryHeap) Less(i, j int) bool { return h.lessFunc(h, i, j) }

func (h *retryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *retryHeap) Push(x interface{}) { h.items = append(h.items, x.(*RetryItem)) }

func (h *retryHeap) Pop() interface{} {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}

func retryByNotBefore(h *retryHeap, i, j int) bool {
	return h.items[i].NotBeforeMs < h.items[j].NotBeforeMs
}

// Retry is the backoff min-heap described in §4.3: eligible items
// (NotBeforeMs <= now) pop in earliest-due order. Items that exceed
// MaxAttempts are moved to a permanent-failure log instead of being
// rescheduled.
type Retry struct {
	mu          sync.Mutex
	h           *retryHeap
	known       map[fragment.TxID]struct{}
	baseMs      int64
	ceilingMs   int64
	maxAttempts int
	permanent   []*RetryItem
	rng         *rand.Rand
}

// NewRetry creates an empty Retry queue. Zero values for baseMs,
// ceilingMs, and maxAttempts fall back to the design defaults (§4.3).
func NewRetry(baseMs, ceilingMs int64, maxAttempts int) *Retry {
	if baseMs <= 0 {
		baseMs = DefaultBackoffBaseMs
	}
	if ceilingMs <= 0 {
		ceilingMs = DefaultBackoffCeilingMs
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	h := &retryHeap{items: make([]*RetryItem, 0, 16)}
	h.lessFunc = retryByNotBefore
	heap.Init(h)
	return &Retry{
		h:           h,
		known:       make(map[fragment.TxID]struct{}),
		baseMs:      baseMs,
		ceilingMs:   ceilingMs,
		maxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Backoff computes not_before offset for the n-th attempt (§4.3):
// min(BASE*2^n + jitter, CEILING), jitter uniform in [0, BASE).
func (r *Retry) Backoff(attempt int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoffLocked(attempt)
}

func (r *Retry) backoffLocked(attempt int) int64 {
	shifted := r.baseMs
	for i := 0; i < attempt && shifted < r.ceilingMs; i++ {
		shifted *= 2
	}
	jitter := r.rng.Int63n(r.baseMs)
	total := shifted + jitter
	if total > r.ceilingMs {
		total = r.ceilingMs
	}
	return total
}

// Add schedules item for retry at createdAtMs + Backoff(attempt). It
// is idempotent per tx_id. Returns false and appends to the permanent
// failure log instead of scheduling once AttemptCount reaches
// maxAttempts.
func (r *Retry) Add(item *RetryItem, createdAtMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[item.TxID]; ok {
		return false
	}
	if item.AttemptCount >= r.maxAttempts {
		r.permanent = append(r.permanent, item)
		return false
	}

	item.NotBeforeMs = createdAtMs + r.backoffLocked(item.AttemptCount)
	r.known[item.TxID] = struct{}{}
	heap.Push(r.h, item)
	return true
}

// PopReady pops and returns the earliest-due item if it is eligible
// (NotBeforeMs <= nowMs), otherwise returns nil without mutating the
// heap.
func (r *Retry) PopReady(nowMs int64) *RetryItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.h.Len() == 0 {
		return nil
	}
	next := r.h.items[0]
	if next.NotBeforeMs > nowMs {
		return nil
	}
	item := heap.Pop(r.h).(*RetryItem)
	delete(r.known, item.TxID)
	return item
}

// PermanentFailures returns every item that exceeded MaxAttempts, for
// operator review (§4.3).
func (r *Retry) PermanentFailures() []*RetryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RetryItem, len(r.permanent))
	copy(out, r.permanent)
	return out
}

// Len returns the number of items still scheduled (not yet popped or
// moved to the permanent-failure log).
func (r *Retry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h.Len()
}

// Snapshot returns a copy of every scheduled RetryItem, for
// persistence (§4.9). Order is not significant: each item carries its
// own NotBeforeMs, and Restore re-heapifies by it.
func (r *Retry) Snapshot() []*RetryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RetryItem, len(r.h.items))
	copy(out, r.h.items)
	return out
}

// Restore replaces the heap's contents with items, typically loaded
// from a persistence snapshot.
func (r *Retry) Restore(items []*RetryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.h.items = r.h.items[:0]
	r.known = make(map[fragment.TxID]struct{}, len(items))
	for _, item := range items {
		r.h.items = append(r.h.items, item)
		r.known[item.TxID] = struct{}{}
	}
	heap.Init(r.h)
}
