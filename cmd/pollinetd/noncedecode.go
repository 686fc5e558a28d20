// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/adapters"
)

// nonceAccountSize is the fixed on-chain size of a versioned durable
// nonce account: u32 version + u32 state + 32-byte authority + 32-byte
// blockhash + u64 lamports_per_signature.
const nonceAccountSize = 4 + 4 + 32 + 32 + 8

// decodeNonceAccount parses the System program's nonce account layout
// directly, since the core's adapters.NonceState only needs three
// fields out of the account and pulling in a full state-account SDK
// for that would be disproportionate.
func decodeNonceAccount(data []byte) (adapters.NonceState, error) {
	if len(data) < nonceAccountSize {
		return adapters.NonceState{}, errors.Errorf("nonce account data too short: %d bytes", len(data))
	}

	var state adapters.NonceState
	offset := 8 // skip version + state discriminants
	copy(state.Authority[:], data[offset:offset+32])
	offset += 32
	copy(state.Blockhash[:], data[offset:offset+32])
	offset += 32
	state.LamportsPerSignature = binary.LittleEndian.Uint64(data[offset : offset+8])
	return state, nil
}
