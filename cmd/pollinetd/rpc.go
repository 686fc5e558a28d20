// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/pollinet/pollinet-sub003/adapters"
)

// solanaRPC adapts gagliardetto/solana-go's JSON-RPC client to the
// narrow adapters.ChainRPC contract the core depends on (§4.10).
type solanaRPC struct {
	client *solanarpc.Client
}

func newSolanaRPC(url string) *solanaRPC {
	return &solanaRPC{client: solanarpc.New(url)}
}

func (r *solanaRPC) Submit(ctx context.Context, txBytes []byte) (string, error) {
	tx, err := solana.TransactionFromBytes(txBytes)
	if err != nil {
		return "", &adapters.RPCError{Kind: adapters.RPCErrorPermanent, Err: err}
	}

	sig, err := r.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", &adapters.RPCError{Kind: classifyRPCError(err), Err: err}
	}
	return sig.String(), nil
}

func (r *solanaRPC) GetNonce(ctx context.Context, nonceAccountPubkey [32]byte) (adapters.NonceState, error) {
	account, err := r.client.GetAccountInfo(ctx, solana.PublicKey(nonceAccountPubkey))
	if err != nil {
		return adapters.NonceState{}, &adapters.RPCError{Kind: classifyRPCError(err), Err: err}
	}

	state, err := decodeNonceAccount(account.Value.Data.GetBinary())
	if err != nil {
		return adapters.NonceState{}, &adapters.RPCError{Kind: adapters.RPCErrorPermanent, Err: err}
	}
	return state, nil
}

func (r *solanaRPC) Healthy(ctx context.Context) bool {
	_, err := r.client.GetHealth(ctx)
	return err == nil
}

// classifyRPCError routes context deadline/cancellation to retry and
// everything else (bad signature, simulation failure) to permanent
// (§7 error taxonomy). Other transport-level failures (connection
// errors, HTTP 5xx, rate limiting) are not told apart and are also
// classified permanent.
func classifyRPCError(err error) adapters.RPCErrorKind {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return adapters.RPCErrorTransient
	}
	return adapters.RPCErrorPermanent
}
