// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/pkg/errors"
)

// MaxNoncesPerTx caps how many nonce accounts one transaction creates
// (§4.7: "possibly batched up to 5 per tx to amortize fees").
const MaxNoncesPerTx = 5

// NonceAccountRent is the rent-exempt minimum for a nonce account
// (80 bytes of state, per the System program's fixed nonce account
// layout).
const NonceAccountRent uint64 = 1_447_680

// UnsignedNonceCreateBatch composes an unsigned transaction that
// creates and initializes up to MaxNoncesPerTx durable-nonce accounts
// in one go (§4.7 prepare()). Each new nonce account's ephemeral
// keypair must co-sign the transaction for account creation to
// succeed; the builder never holds that key, only its public half —
// the caller is responsible for generating the ephemeral keys and
// returning their signatures via AddNonceSignature.
func UnsignedNonceCreateBatch(payer, authority solana.PublicKey, noncePubkeys []solana.PublicKey, recentBlockhash solana.Hash) (*UnsignedTx, error) {
	if len(noncePubkeys) == 0 {
		return nil, errors.New("no nonce pubkeys given")
	}
	if len(noncePubkeys) > MaxNoncesPerTx {
		return nil, errors.Errorf("%d nonce accounts exceeds batch limit of %d", len(noncePubkeys), MaxNoncesPerTx)
	}

	instructions := make([]solana.Instruction, 0, len(noncePubkeys)*2)
	for _, noncePubkey := range noncePubkeys {
		instructions = append(instructions,
			system.NewCreateAccountInstruction(
				NonceAccountRent,
				system.NONCE_ACCOUNT_SIZE,
				solana.SystemProgramID,
				payer,
				noncePubkey,
			).Build(),
			newInitializeNonceInstruction(noncePubkey, authority),
		)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recentBlockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, errors.Wrap(err, "building nonce create batch")
	}

	return &UnsignedTx{
		Tx:              tx,
		NonceAuthority:  authority,
		RequiredSigners: requiredSignersFrom(tx),
	}, nil
}

// newInitializeNonceInstruction builds the InitializeNonceAccount
// instruction that must immediately follow CreateAccount for a fresh
// nonce account.
func newInitializeNonceInstruction(noncePubkey, authority solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(noncePubkey, true, false),
			solana.NewAccountMeta(solana.SysVarRecentBlockHashesPubkey, false, false),
			solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		},
		append([]byte{6, 0, 0, 0}, authority[:]...), // InitializeNonceAccount index + authority pubkey
	)
}
