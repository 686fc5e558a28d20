// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package queueset implements the C3 durable queue set: the Outbound
// priority queue, the Retry backoff heap, the Confirmation FIFO, and
// the Received FIFO (§4.3).
package queueset

import (
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.QUEU)

// Priority is an Outbound item's relay priority (§3).
type Priority int

// Priority bands, highest first.
const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
	priorityBandCount
)

// OutboundItem is a transaction awaiting transmission to the BLE
// adapter, either because the app enqueued it directly or because the
// relay policy (C6) decided to forward a received transaction (§3).
type OutboundItem struct {
	TxID          fragment.TxID
	OriginalBytes []byte
	Fragments     []fragment.Fragment
	Priority      Priority
	CreatedAtMs   int64
	RetryCount    int
}

// Outbound is the multi-band priority FIFO described in §4.3: HIGH
// drains before NORMAL before LOW, FIFO within a band. Pushing the
// same tx_id twice is a no-op (§4.3 idempotence).
type Outbound struct {
	mu    sync.Mutex
	bands [priorityBandCount][]*OutboundItem
	known map[fragment.TxID]struct{}
}

// NewOutbound creates an empty Outbound queue.
func NewOutbound() *Outbound {
	return &Outbound{known: make(map[fragment.TxID]struct{})}
}

// Push enqueues item onto its priority band. It returns false without
// mutating the queue if item.TxID is already present anywhere in the
// queue (§4.3, §8 invariant 3).
func (o *Outbound) Push(item *OutboundItem) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.known[item.TxID]; ok {
		log.Debugf("outbound push of %x is a duplicate, ignoring", item.TxID)
		return false
	}
	o.known[item.TxID] = struct{}{}
	o.bands[item.Priority] = append(o.bands[item.Priority], item)
	return true
}

// Pop removes and returns the next item in priority order, or nil if
// every band is empty.
func (o *Outbound) Pop() *OutboundItem {
	o.mu.Lock()
	defer o.mu.Unlock()

	for band := Priority(0); band < priorityBandCount; band++ {
		items := o.bands[band]
		if len(items) == 0 {
			continue
		}
		item := items[0]
		o.bands[band] = items[1:]
		delete(o.known, item.TxID)
		return item
	}
	return nil
}

// Remove drops txID from the queue (and its known-set) without
// returning it, used when an adapter-level send is cancelled outright.
func (o *Outbound) Remove(txID fragment.TxID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.known[txID]; !ok {
		return false
	}
	for band := Priority(0); band < priorityBandCount; band++ {
		items := o.bands[band]
		for i, item := range items {
			if item.TxID == txID {
				o.bands[band] = append(items[:i], items[i+1:]...)
				delete(o.known, txID)
				return true
			}
		}
	}
	return false
}

// SizeByBand returns the current length of each priority band.
func (o *Outbound) SizeByBand() map[Priority]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return map[Priority]int{
		PriorityHigh:   len(o.bands[PriorityHigh]),
		PriorityNormal: len(o.bands[PriorityNormal]),
		PriorityLow:    len(o.bands[PriorityLow]),
	}
}

// Len returns the total number of queued items across all bands.
func (o *Outbound) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, band := range o.bands {
		n += len(band)
	}
	return n
}

// Snapshot returns a shallow copy of every queued item, ordered by
// priority then FIFO position, for persistence (§4.9).
func (o *Outbound) Snapshot() []*OutboundItem {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*OutboundItem, 0, o.lenLocked())
	for _, band := range o.bands {
		out = append(out, band...)
	}
	return out
}

// Refragment re-splits every queued item's Fragments at maxPayload,
// preserving each item's original fragment type. It is used when the
// BLE link's MTU changes mid-session (§4.1): an item already queued
// under the old max_payload must be re-sized to the new one or its
// fragments may no longer fit the link. An item whose re-split fails
// (e.g. OriginalBytes too large for the new cap) is left with its
// previous Fragments untouched and its error collected in the returned
// slice, so the caller can log each without losing already-queued
// work.
func (o *Outbound) Refragment(maxPayload int) []error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for _, band := range o.bands {
		for _, item := range band {
			fragmentType := fragment.TypeData
			if len(item.Fragments) > 0 {
				fragmentType = item.Fragments[0].FragmentType
			}
			frags, err := fragment.SplitTyped(item.OriginalBytes, maxPayload, fragmentType)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			item.Fragments = frags
		}
	}
	return errs
}

func (o *Outbound) lenLocked() int {
	n := 0
	for _, band := range o.bands {
		n += len(band)
	}
	return n
}

// Restore replaces the queue's contents with items, typically loaded
// from a persistence snapshot (§4.9). Items are re-banded by their own
// Priority field.
func (o *Outbound) Restore(items []*OutboundItem) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.bands {
		o.bands[i] = nil
	}
	o.known = make(map[fragment.TxID]struct{}, len(items))
	for _, item := range items {
		o.bands[item.Priority] = append(o.bands[item.Priority], item)
		o.known[item.TxID] = struct{}{}
	}
}
