// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/pollinet/pollinet-sub003/adapters"
)

// localKeypairSigner is a adapters.WalletSigner backed by an in-memory
// keypair, used only by this CLI host for manual end-to-end testing.
// A production host wires a real remote/MWA-style signer instead; the
// core itself is agnostic to which implementation is plugged in
// (§4.10, §9 open question).
type localKeypairSigner struct {
	wallet solana.PrivateKey
}

func newLocalKeypairSigner(wallet solana.PrivateKey) *localKeypairSigner {
	return &localKeypairSigner{wallet: wallet}
}

func (s *localKeypairSigner) Sign(ctx context.Context, messageBytes []byte, pubkey [32]byte) (adapters.SignerResult, error) {
	signature, err := s.wallet.Sign(messageBytes)
	if err != nil {
		return adapters.SignerResult{}, err
	}

	result := adapters.SignerResult{PublicKey: pubkey}
	copy(result.SignatureBytes[:], signature[:])
	return result, nil
}
