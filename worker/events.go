// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package worker

// EventKind identifies why the event worker was woken (§4.5).
type EventKind int

const (
	// OutboundReady means the Outbound queue has at least one item
	// ready to send to the BLE adapter.
	OutboundReady EventKind = iota
	// ReceivedReady means the Received queue has at least one fully
	// reassembled transaction awaiting the C6 decision.
	ReceivedReady
	// RetryReady means the Retry heap has at least one item whose
	// NotBeforeMs has elapsed.
	RetryReady
	// ConfirmationReady means the Confirmation queue has at least one
	// record to relay back through the mesh (or, if self-originated,
	// to consume).
	ConfirmationReady
	// Cleanup is the periodic timeout tick: sweep reassembly, purge
	// dedup, and mark persistence dirty if anything changed. Retry and
	// Confirmation entries are not purged by it.
	Cleanup
)

// Event is one entry on the worker's event channel.
type Event struct {
	Kind EventKind
}
