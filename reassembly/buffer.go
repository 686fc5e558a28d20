// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package reassembly implements the C2 reassembly buffer: per-tx_id
// state that accumulates fragments arriving out of order across an
// unreliable BLE link and reports completion exactly once.
package reassembly

import (
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/logger"
	"github.com/pollinet/pollinet-sub003/relayerrors"
)

var log, _ = logger.Get(logger.SubsystemTags.REAS)

// DefaultTTLMillis is the design default for REASSEMBLY_TTL (§5).
const DefaultTTLMillis = 60_000

// DefaultMaxIncomplete is the design default cap on concurrently
// tracked incomplete sets (§4.2).
const DefaultMaxIncomplete = 128

// set is the per-tx_id reassembly state (§3 ReassemblySet).
type set struct {
	total         uint16
	received      map[uint16][]byte
	firstSeenMs   int64
	lastSeenMs    int64
	totalBytes    int
	insertionSeq  uint64
}

func (s *set) complete() bool {
	return len(s.received) == int(s.total)
}

// InfoRecord is an observability snapshot of one in-flight reassembly
// set (§4.2 reassembly_info).
type InfoRecord struct {
	TxID        fragment.TxID
	Total       uint16
	Received    int
	FirstSeenMs int64
	LastSeenMs  int64
	TotalBytes  int
}

// Buffer holds every in-flight ReassemblySet, keyed by tx_id.
type Buffer struct {
	mu                sync.Mutex
	sets              map[fragment.TxID]*set
	maxIncomplete     int
	ttlMillis         int64
	insertionCounter  uint64

	reassemblyFailures  uint64
	protocolMismatches  uint64
}

// New creates an empty Buffer. ttlMillis and maxIncomplete of 0 fall
// back to the design defaults.
func New(ttlMillis int64, maxIncomplete int) *Buffer {
	if ttlMillis <= 0 {
		ttlMillis = DefaultTTLMillis
	}
	if maxIncomplete <= 0 {
		maxIncomplete = DefaultMaxIncomplete
	}
	return &Buffer{
		sets:          make(map[fragment.TxID]*set),
		maxIncomplete: maxIncomplete,
		ttlMillis:     ttlMillis,
	}
}

// Accept feeds one fragment into the buffer. It is idempotent per
// (tx_id, index): re-delivering an identical fragment is a no-op,
// re-delivering one whose checksum disagrees is rejected. When the set
// for tx_id becomes complete, Accept removes it atomically and returns
// the joined transaction bytes.
func (b *Buffer) Accept(f fragment.Fragment, nowMs int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sets[f.TxID]
	if !ok {
		if len(b.sets) >= b.maxIncomplete {
			b.evictOldestLocked()
		}
		s = &set{
			total:       f.Total,
			received:    make(map[uint16][]byte, f.Total),
			firstSeenMs: nowMs,
			lastSeenMs:  nowMs,
		}
		b.insertionCounter++
		s.insertionSeq = b.insertionCounter
		b.sets[f.TxID] = s
	}

	if s.total != f.Total {
		// Conflicting total for the same tx_id: reject the new
		// fragment, leave the existing set untouched (§4.2 edge case).
		b.protocolMismatches++
		log.Warnf("protocol mismatch for tx %x: existing total %d, got %d", f.TxID, s.total, f.Total)
		return nil, relayerrors.ErrTotalMismatch
	}

	if existing, ok := s.received[f.Index]; ok {
		if !payloadEqual(existing, f.Payload) {
			return nil, relayerrors.ErrChecksumMismatch
		}
		s.lastSeenMs = nowMs
		return nil, nil
	}

	s.received[f.Index] = f.Payload
	s.totalBytes += len(f.Payload)
	s.lastSeenMs = nowMs

	if !s.complete() {
		return nil, nil
	}

	delete(b.sets, f.TxID)
	ordered := make([]fragment.Fragment, s.total)
	for idx, payload := range s.received {
		ordered[idx] = fragment.Fragment{TxID: f.TxID, Index: idx, Total: s.total, Payload: payload}
	}
	return fragment.Join(ordered), nil
}

func payloadEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// evictOldestLocked drops the longest-lived incomplete set to make
// room for a new one once maxIncomplete is reached (§4.2 memory cap).
// Callers must hold b.mu.
func (b *Buffer) evictOldestLocked() {
	var oldestTxID fragment.TxID
	var oldestSeq uint64 = ^uint64(0)
	for txID, s := range b.sets {
		if s.insertionSeq < oldestSeq {
			oldestSeq = s.insertionSeq
			oldestTxID = txID
		}
	}
	delete(b.sets, oldestTxID)
	b.reassemblyFailures++
}

// Sweep drops every set whose last fragment arrived more than
// ttlMillis ago (§4.2), incrementing reassembly_failures for each.
func (b *Buffer) Sweep(nowMs int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for txID, s := range b.sets {
		if nowMs-s.lastSeenMs > b.ttlMillis {
			delete(b.sets, txID)
			b.reassemblyFailures++
			dropped++
		}
	}
	return dropped
}

// ReassemblyInfo returns an observability snapshot of every in-flight
// set (§4.2).
func (b *Buffer) ReassemblyInfo() []InfoRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]InfoRecord, 0, len(b.sets))
	for txID, s := range b.sets {
		out = append(out, InfoRecord{
			TxID:        txID,
			Total:       s.total,
			Received:    len(s.received),
			FirstSeenMs: s.firstSeenMs,
			LastSeenMs:  s.lastSeenMs,
			TotalBytes:  s.totalBytes,
		})
	}
	return out
}

// Counters returns the running reassembly_failures and protocol
// mismatch counts for metrics().
func (b *Buffer) Counters() (reassemblyFailures, protocolMismatches uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reassemblyFailures, b.protocolMismatches
}

// Len reports the number of currently incomplete sets.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sets)
}
