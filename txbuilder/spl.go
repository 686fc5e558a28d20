// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/noncestore"
)

// UnsignedSPLTransfer composes an unsigned SPL token transfer
// anchored on nonce, creating the recipient's associated token
// account first if it does not already exist. ATA creation is
// idempotent on-chain (the program no-ops if the account is already
// initialized), so the instruction is always included rather than
// conditionally, matching §4.8's "idempotent associated-token-account
// creation".
func UnsignedSPLTransfer(nonce noncestore.CachedNonce, authorityPubkey, owner, sourceATA, mint, recipientWallet solana.PublicKey, amount uint64) (*UnsignedTx, error) {
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipientWallet, mint)
	if err != nil {
		return nil, errors.Wrap(err, "deriving recipient associated token account")
	}

	createATA := associatedtokenaccount.NewCreateInstruction(owner, recipientWallet, mint).Build()
	transfer := token.NewTransferInstruction(amount, sourceATA, recipientATA, owner, nil).Build()

	tx, err := newTransactionFromNonce(nonce, authorityPubkey, owner, createATA, transfer)
	if err != nil {
		return nil, errors.Wrap(err, "building SPL transfer")
	}
	return &UnsignedTx{
		Tx:              tx,
		NonceAuthority:  authorityPubkey,
		RequiredSigners: requiredSignersFrom(tx),
	}, nil
}
