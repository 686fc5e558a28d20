// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package queueset

import (
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// ReceivedItem is a fully reassembled transaction awaiting the C6
// submit-or-relay decision (§3).
type ReceivedItem struct {
	TxID         fragment.TxID
	TxBytes      []byte
	ReceivedAtMs int64

	// SelfOriginated is true when this item was reassembled from a
	// transaction the local app itself pushed to Outbound (looped
	// back through a mesh peer, or injected locally for testing).
	// Relay policy (C6) never re-broadcasts a Confirmation to
	// ourselves for such items (§4.6 tie-breaks).
	SelfOriginated bool
}

// Received is a FIFO of ReceivedItems, idempotent per tx_id the same
// way Outbound is (§4.3).
type Received struct {
	mu    sync.Mutex
	items []*ReceivedItem
	known map[fragment.TxID]struct{}
}

// NewReceived creates an empty Received queue.
func NewReceived() *Received {
	return &Received{known: make(map[fragment.TxID]struct{})}
}

// Push appends item unless its tx_id is already queued, in which case
// it is a silent no-op (§4.3).
func (r *Received) Push(item *ReceivedItem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.known[item.TxID]; ok {
		return false
	}
	r.known[item.TxID] = struct{}{}
	r.items = append(r.items, item)
	return true
}

// Pop removes and returns the oldest ReceivedItem, or nil if empty.
func (r *Received) Pop() *ReceivedItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return nil
	}
	item := r.items[0]
	r.items = r.items[1:]
	delete(r.known, item.TxID)
	return item
}

// Len reports the number of queued items.
func (r *Received) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Snapshot returns a shallow copy of every queued item, for
// persistence (§4.9).
func (r *Received) Snapshot() []*ReceivedItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ReceivedItem, len(r.items))
	copy(out, r.items)
	return out
}

// Restore replaces the queue's contents with items loaded from a
// persistence snapshot.
func (r *Received) Restore(items []*ReceivedItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]*ReceivedItem(nil), items...)
	r.known = make(map[fragment.TxID]struct{}, len(items))
	for _, item := range items {
		r.known[item.TxID] = struct{}{}
	}
}
