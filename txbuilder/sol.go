// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/noncestore"
)

// UnsignedSOLTransfer composes an unsigned native SOL transfer
// anchored on nonce. authorityPubkey must match nonce.Authority
// (§4.8). The payer covers fees and is also the transfer source.
func UnsignedSOLTransfer(nonce noncestore.CachedNonce, authorityPubkey, from, to solana.PublicKey, lamports uint64) (*UnsignedTx, error) {
	transfer := system.NewTransferInstruction(lamports, from, to).Build()

	tx, err := newTransactionFromNonce(nonce, authorityPubkey, from, transfer)
	if err != nil {
		return nil, errors.Wrap(err, "building SOL transfer")
	}
	return &UnsignedTx{
		Tx:              tx,
		NonceAuthority:  authorityPubkey,
		RequiredSigners: requiredSignersFrom(tx),
	}, nil
}
