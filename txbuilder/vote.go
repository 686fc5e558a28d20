// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/noncestore"
)

// VoteInstructionTag is the instruction discriminant this builder
// emits for a governance vote: cast_vote(choice: u8).
const VoteInstructionTag byte = 1

// UnsignedGovernanceVote composes an unsigned instruction against
// governanceProgram casting a single-byte choice on proposal, anchored
// on nonce (§4.8). The account layout (proposal, voter, vote record)
// follows the governance program's own convention; this builder only
// owns message composition, not program-specific account derivation
// beyond what is passed in.
func UnsignedGovernanceVote(nonce noncestore.CachedNonce, authorityPubkey, voter, proposal, voteRecord, governanceProgram solana.PublicKey, choice byte) (*UnsignedTx, error) {
	data := []byte{VoteInstructionTag, choice}

	vote := solana.NewInstruction(
		governanceProgram,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(proposal, true, false),
			solana.NewAccountMeta(voteRecord, true, false),
			solana.NewAccountMeta(voter, false, true),
		},
		data,
	)

	tx, err := newTransactionFromNonce(nonce, authorityPubkey, voter, vote)
	if err != nil {
		return nil, errors.Wrap(err, "building governance vote")
	}
	return &UnsignedTx{
		Tx:              tx,
		NonceAuthority:  authorityPubkey,
		RequiredSigners: requiredSignersFrom(tx),
	}, nil
}
