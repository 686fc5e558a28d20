// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package noncestore implements the C7 nonce bundle store: a cache of
// durable-nonce accounts that lets the transaction builder compose
// offline transactions with a valid, reusable blockhash (§4.7).
package noncestore

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.NONC)

// ErrNoneAvailable is returned by PickAvailable when every cached
// nonce is already in use (§4.7).
var ErrNoneAvailable = errors.New("no unused nonce account available")

// CachedNonce mirrors §3's CachedNonce record: the on-chain state of
// one durable-nonce account, plus the local exclusivity flag.
type CachedNonce struct {
	NoncePubkey          [32]byte
	Authority            [32]byte
	Blockhash            [32]byte
	LamportsPerSignature uint64
	Used                 bool
}

// Store caches CachedNonces keyed by their account pubkey (§4.7). order
// tracks insertion order separately from the map so PickAvailable can
// honor the OfflineBundle's fair, first-in-first-available consumption
// invariant (§3, §6.2) instead of Go's undefined map iteration order.
type Store struct {
	mu     sync.Mutex
	rpc    adapters.ChainRPC
	nonces map[[32]byte]*CachedNonce
	order  [][32]byte
}

// New creates an empty Store backed by rpc.
func New(rpc adapters.ChainRPC) *Store {
	return &Store{
		rpc:    rpc,
		nonces: make(map[[32]byte]*CachedNonce),
	}
}

// Cache fetches on-chain state for each of noncePubkeys via RPC and
// inserts a CachedNonce{Used: false} for each, per the flow described
// in §4.7: prepare() is followed by external submission of the
// nonce-create transactions, then the caller invokes Cache once those
// accounts exist on-chain. Pubkeys are appended to the insertion order
// in the order passed, so a bundle prepared and cached together is
// consumed in that same order by PickAvailable.
func (s *Store) Cache(ctx context.Context, noncePubkeys [][32]byte) error {
	for _, pubkey := range noncePubkeys {
		state, err := s.rpc.GetNonce(ctx, pubkey)
		if err != nil {
			return errors.Wrapf(err, "fetching nonce state for %x", pubkey)
		}
		s.mu.Lock()
		if _, exists := s.nonces[pubkey]; !exists {
			s.order = append(s.order, pubkey)
		}
		s.nonces[pubkey] = &CachedNonce{
			NoncePubkey:          pubkey,
			Authority:            state.Authority,
			Blockhash:            state.Blockhash,
			LamportsPerSignature: state.LamportsPerSignature,
			Used:                 false,
		}
		s.mu.Unlock()
		log.Debugf("cached nonce account %x", pubkey)
	}
	return nil
}

// PickAvailable atomically selects the earliest-inserted CachedNonce
// with Used == false, marks it Used == true, and returns a copy. This
// is the "fair consumption" invariant of §3/§6.2's OfflineBundle: among
// several unused nonces, the one cached first is handed out first.
// Exactly one caller ever receives a given nonce until it is refreshed
// (§8 invariant 7).
func (s *Store) PickAvailable() (CachedNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pubkey := range s.order {
		n, ok := s.nonces[pubkey]
		if !ok || n.Used {
			continue
		}
		n.Used = true
		return *n, nil
	}
	return CachedNonce{}, errors.WithStack(ErrNoneAvailable)
}

// RefreshAll re-reads chain state for every cached nonce, updating
// Blockhash and LamportsPerSignature and clearing Used. A nonce whose
// on-chain authority no longer matches the cached authority is
// dropped outright (§4.7 invariant: authority changes invalidate the
// entry).
func (s *Store) RefreshAll(ctx context.Context) error {
	s.mu.Lock()
	pubkeys := make([][32]byte, 0, len(s.nonces))
	for pubkey := range s.nonces {
		pubkeys = append(pubkeys, pubkey)
	}
	s.mu.Unlock()

	for _, pubkey := range pubkeys {
		state, err := s.rpc.GetNonce(ctx, pubkey)
		if err != nil {
			return errors.Wrapf(err, "refreshing nonce %x", pubkey)
		}

		s.mu.Lock()
		existing, ok := s.nonces[pubkey]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if existing.Authority != state.Authority {
			delete(s.nonces, pubkey)
			s.removeFromOrderLocked(pubkey)
			log.Warnf("nonce %x authority changed on-chain, dropping cached entry", pubkey)
			s.mu.Unlock()
			continue
		}
		existing.Blockhash = state.Blockhash
		existing.LamportsPerSignature = state.LamportsPerSignature
		existing.Used = false
		s.mu.Unlock()
	}
	return nil
}

// Get returns a copy of the cached entry for pubkey, if any.
func (s *Store) Get(pubkey [32]byte) (CachedNonce, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[pubkey]
	if !ok {
		return CachedNonce{}, false
	}
	return *n, true
}

// Len returns the number of cached nonce accounts, used and unused.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

// Snapshot returns a copy of every cached entry in insertion order, for
// persistence (§4.9). Used flags are preserved so a crash mid-build
// does not silently re-offer a nonce that is already embedded in an
// outstanding unsigned transaction, and the order is preserved so
// Restore can reconstruct the same fair-consumption ordering.
func (s *Store) Snapshot() []CachedNonce {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CachedNonce, 0, len(s.order))
	for _, pubkey := range s.order {
		if n, ok := s.nonces[pubkey]; ok {
			out = append(out, *n)
		}
	}
	return out
}

// Restore replaces the store's contents with entries loaded from a
// persistence snapshot, reconstructing the insertion order from the
// snapshot's own array order.
func (s *Store) Restore(entries []CachedNonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces = make(map[[32]byte]*CachedNonce, len(entries))
	s.order = make([][32]byte, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		s.nonces[entry.NoncePubkey] = &entry
		s.order = append(s.order, entry.NoncePubkey)
	}
}

// removeFromOrderLocked drops pubkey from the insertion-order slice.
// Callers must hold s.mu.
func (s *Store) removeFromOrderLocked(pubkey [32]byte) {
	for i, p := range s.order {
		if p == pubkey {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
