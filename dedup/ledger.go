// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dedup implements the C4 dedup ledger: a time-bounded set of
// recently-seen transaction ids and submission hashes, preventing
// relay loops and duplicate submissions (§4.4).
package dedup

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// DefaultTTLMillis is the design default for dedup_ttl_ms (§6.4).
const DefaultTTLMillis int64 = 86_400_000 // 24h

// Entry is one dedup record (§3 DedupEntry).
type Entry struct {
	Hash        [32]byte
	FirstSeenMs int64
}

// Ledger is a hash set of seen identifiers with a parallel slice of
// entries that Purge orders by timestamp before dropping expired ones
// (§4.4).
type Ledger struct {
	mu        sync.Mutex
	ttlMillis int64
	entries   map[[32]byte]int64
	// byTime holds entries in insertion order; Purge sorts it by
	// FirstSeenMs ascending on every call so it can stop at the first
	// entry still within the TTL window.
	byTime []Entry
}

// New creates an empty Ledger. A ttlMillis of 0 falls back to
// DefaultTTLMillis.
func New(ttlMillis int64) *Ledger {
	if ttlMillis <= 0 {
		ttlMillis = DefaultTTLMillis
	}
	return &Ledger{
		ttlMillis: ttlMillis,
		entries:   make(map[[32]byte]int64),
	}
}

// MarkSeen records txID as seen at nowMs. Re-marking an already-seen
// id does not change its FirstSeenMs (first write wins).
func (l *Ledger) MarkSeen(txID fragment.TxID, nowMs int64) {
	l.mark([32]byte(txID), nowMs)
}

// Seen reports whether txID has been marked seen (and not yet purged).
func (l *Ledger) Seen(txID fragment.TxID) bool {
	return l.has([32]byte(txID))
}

// MarkSubmitted records SHA-256(txBytes) as seen, used to suppress an
// immediate re-relay of a transaction we just submitted ourselves
// (§4.4, §4.6).
func (l *Ledger) MarkSubmitted(txBytes []byte, nowMs int64) {
	l.mark(sha256.Sum256(txBytes), nowMs)
}

// SubmittedSeen reports whether SHA-256(txBytes) has been marked
// submitted.
func (l *Ledger) SubmittedSeen(txBytes []byte) bool {
	return l.has(sha256.Sum256(txBytes))
}

func (l *Ledger) mark(hash [32]byte, nowMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[hash]; ok {
		return
	}
	l.entries[hash] = nowMs
	l.byTime = append(l.byTime, Entry{Hash: hash, FirstSeenMs: nowMs})
}

func (l *Ledger) has(hash [32]byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[hash]
	return ok
}

// Purge drops every entry older than ttlMillis relative to nowMs (§8
// invariant 6: dedup TTL).
func (l *Ledger) Purge(nowMs int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	sort.Slice(l.byTime, func(i, j int) bool {
		return l.byTime[i].FirstSeenMs < l.byTime[j].FirstSeenMs
	})

	cut := 0
	for cut < len(l.byTime) && nowMs-l.byTime[cut].FirstSeenMs > l.ttlMillis {
		delete(l.entries, l.byTime[cut].Hash)
		cut++
	}
	dropped := cut
	l.byTime = l.byTime[cut:]
	return dropped
}

// Len returns the number of entries currently retained.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of every retained entry, for persistence
// (§4.9, §6.2).
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.byTime))
	copy(out, l.byTime)
	return out
}

// Restore replaces the ledger's contents with entries loaded from a
// persistence snapshot.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[[32]byte]int64, len(entries))
	l.byTime = append([]Entry(nil), entries...)
	for _, e := range entries {
		l.entries[e.Hash] = e.FirstSeenMs
	}
}
