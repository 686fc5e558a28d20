// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder implements the C8 transaction builder: pure
// message composition for SOL transfers, SPL transfers, governance
// votes, and nonce-account creation, all anchored on a durable-nonce
// blockhash so the resulting transaction can be signed offline (§4.8).
//
// The builder never accepts private keys. Signing happens externally
// (the wallet signer adapter, §4.10); this package only produces the
// bytes that must be signed and stitches finished signatures back in.
package txbuilder

import (
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/noncestore"
	"github.com/pollinet/pollinet-sub003/relayerrors"
)

// UnsignedTx wraps a solana-go Transaction whose signature slots are
// still empty placeholders, plus the bookkeeping the builder needs to
// fill them in later without re-deriving the message (§4.8).
type UnsignedTx struct {
	Tx              *solana.Transaction
	NonceAuthority  solana.PublicKey
	RequiredSigners []solana.PublicKey
}

// newNonceAdvanceInstruction builds the AdvanceNonceAccount
// instruction that must be the first instruction of any
// nonce-anchored transaction (Solana protocol requirement).
func newNonceAdvanceInstruction(noncePubkey, authority solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(noncePubkey, true, false),
			solana.NewAccountMeta(solana.SysVarRecentBlockHashesPubkey, false, false),
			solana.NewAccountMeta(authority, false, true),
		},
		[]byte{4, 0, 0, 0}, // AdvanceNonceAccount instruction index, little-endian u32
	)
}

// newTransactionFromNonce assembles a transaction whose recent
// blockhash is the cached nonce's blockhash and whose fee payer is
// payer, validating that authorityPubkey matches the cached nonce's
// on-chain authority before composing anything (§4.8).
func newTransactionFromNonce(nonce noncestore.CachedNonce, authorityPubkey, payer solana.PublicKey, instructions ...solana.Instruction) (*solana.Transaction, error) {
	if authorityPubkey != solana.PublicKey(nonce.Authority) {
		return nil, errors.WithStack(relayerrors.ErrAuthorityMismatch)
	}

	all := make([]solana.Instruction, 0, len(instructions)+1)
	all = append(all, newNonceAdvanceInstruction(solana.PublicKey(nonce.NoncePubkey), authorityPubkey))
	all = append(all, instructions...)

	tx, err := solana.NewTransaction(
		all,
		solana.Hash(nonce.Blockhash),
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, errors.Wrap(err, "composing nonce-anchored transaction")
	}
	return tx, nil
}

// MessageToSign returns the exact byte range the signer(s) must sign:
// the transaction's serialized message (§4.8).
func MessageToSign(u *UnsignedTx) ([]byte, error) {
	data, err := u.Tx.Message.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serializing message")
	}
	return data, nil
}

// RequiredSigners returns the ordered list of pubkeys that must sign
// before the transaction is submittable, derived from the message's
// account metadata (§4.8).
func RequiredSigners(u *UnsignedTx) []solana.PublicKey {
	out := make([]solana.PublicKey, len(u.RequiredSigners))
	copy(out, u.RequiredSigners)
	return out
}

// AddSignature fills in the signature slot for pubkey. It fails if
// pubkey is not one of the transaction's required signers (§4.8).
func AddSignature(u *UnsignedTx, pubkey solana.PublicKey, signature [64]byte) error {
	idx := signerIndex(u.Tx, pubkey)
	if idx < 0 {
		return errors.WithStack(relayerrors.ErrMissingSigner)
	}
	for len(u.Tx.Signatures) <= idx {
		u.Tx.Signatures = append(u.Tx.Signatures, solana.Signature{})
	}
	u.Tx.Signatures[idx] = solana.Signature(signature)
	return nil
}

// AddNonceSignature fills in the signature slot for the ephemeral
// keypair(s) required to co-sign account creation, without ever
// handling the private key material itself: the caller signs locally
// (the ephemeral key is generated and held by the caller, never the
// core, per §4.8) and passes back only the resulting signature.
func AddNonceSignature(u *UnsignedTx, pubkey solana.PublicKey, signature [64]byte) error {
	return AddSignature(u, pubkey, signature)
}

func signerIndex(tx *solana.Transaction, pubkey solana.PublicKey) int {
	for i, key := range tx.Message.AccountKeys {
		if key.Equals(pubkey) && i < int(tx.Message.Header.NumRequiredSignatures) {
			return i
		}
	}
	return -1
}

func requiredSignersFrom(tx *solana.Transaction) []solana.PublicKey {
	n := int(tx.Message.Header.NumRequiredSignatures)
	out := make([]solana.PublicKey, 0, n)
	for i := 0; i < n && i < len(tx.Message.AccountKeys); i++ {
		out = append(out, tx.Message.AccountKeys[i])
	}
	return out
}
