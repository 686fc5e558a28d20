// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/noncestore"
	"github.com/pollinet/pollinet-sub003/relayerrors"
)

func testNonce(authority solana.PublicKey) noncestore.CachedNonce {
	return noncestore.CachedNonce{
		NoncePubkey:          solana.NewWallet().PublicKey(),
		Authority:            authority,
		Blockhash:            solana.NewWallet().PublicKey(),
		LamportsPerSignature: 5000,
	}
}

// TestUnsignedSOLTransferRequiresAuthorityMatch covers §4.8:
// authority_pubkey must match CachedNonce.authority, else
// AUTHORITY_MISMATCH.
func TestUnsignedSOLTransferRequiresAuthorityMatch(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	wrongAuthority := solana.NewWallet().PublicKey()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	_, err := UnsignedSOLTransfer(testNonce(authority), wrongAuthority, from, to, 1_000_000)
	require.ErrorIs(t, err, relayerrors.ErrAuthorityMismatch)
}

func TestUnsignedSOLTransferSucceedsWithMatchingAuthority(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	unsigned, err := UnsignedSOLTransfer(testNonce(authority), authority, authority, to, 1_000_000)
	require.NoError(t, err)
	require.NotNil(t, unsigned.Tx)
	require.NotEmpty(t, RequiredSigners(unsigned))

	msg, err := MessageToSign(unsigned)
	require.NoError(t, err)
	require.NotEmpty(t, msg)
}

func TestAddSignatureRejectsNonSigner(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	unsigned, err := UnsignedSOLTransfer(testNonce(authority), authority, authority, to, 1_000_000)
	require.NoError(t, err)

	var sig [64]byte
	err = AddSignature(unsigned, solana.NewWallet().PublicKey(), sig)
	require.ErrorIs(t, err, relayerrors.ErrMissingSigner)
}

func TestUnsignedNonceCreateBatchRejectsOversizedBatch(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	pubkeys := make([]solana.PublicKey, MaxNoncesPerTx+1)
	for i := range pubkeys {
		pubkeys[i] = solana.NewWallet().PublicKey()
	}

	_, err := UnsignedNonceCreateBatch(payer, authority, pubkeys, solana.Hash(solana.NewWallet().PublicKey()))
	require.Error(t, err)
}

func TestUnsignedNonceCreateBatchWithinLimit(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	pubkeys := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}

	unsigned, err := UnsignedNonceCreateBatch(payer, authority, pubkeys, solana.Hash(solana.NewWallet().PublicKey()))
	require.NoError(t, err)
	require.NotNil(t, unsigned.Tx)
}
