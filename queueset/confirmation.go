// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package queueset

import (
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// ConfirmationStatus is the terminal outcome of a submitted or
// abandoned transaction (§3).
type ConfirmationStatus int

const (
	// StatusSuccess means rpc.submit returned a signature.
	StatusSuccess ConfirmationStatus = iota
	// StatusFailed means the transaction was permanently rejected.
	StatusFailed
)

// Confirmation is a terminal outcome record, intended to be
// fragmented back through the mesh toward the transaction's
// originator (§4.3).
type Confirmation struct {
	TxID        fragment.TxID
	Status      ConfirmationStatus
	Signature   string
	Reason      string
	TimestampMs int64
	RelayCount  int

	// SelfOriginated mirrors the ReceivedItem it was produced from: it
	// is true when the transaction this Confirmation reports on was
	// originally enqueued by the local app, meaning the confirmation
	// must not be fragmented back through the mesh (§4.6).
	SelfOriginated bool
}

// ConfirmationQueue is a plain FIFO of Confirmation records.
type ConfirmationQueue struct {
	mu    sync.Mutex
	items []*Confirmation
}

// NewConfirmationQueue creates an empty ConfirmationQueue.
func NewConfirmationQueue() *ConfirmationQueue {
	return &ConfirmationQueue{}
}

// Push appends a Confirmation to the queue.
func (q *ConfirmationQueue) Push(c *Confirmation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Pop removes and returns the oldest Confirmation, or nil if empty.
func (q *ConfirmationQueue) Pop() *Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Len reports the number of queued Confirmations.
func (q *ConfirmationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a shallow copy of every queued Confirmation, for
// persistence (§4.9).
func (q *ConfirmationQueue) Snapshot() []*Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Confirmation, len(q.items))
	copy(out, q.items)
	return out
}

// Restore replaces the queue's contents with items loaded from a
// persistence snapshot.
func (q *ConfirmationQueue) Restore(items []*Confirmation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Confirmation(nil), items...)
}
