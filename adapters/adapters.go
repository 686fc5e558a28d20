// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package adapters defines the narrow external contracts consumed by
// the relay core (C10, §4.10): BLE transport, the network-online
// sensor, the wallet signer, the chain RPC client, and the clock.
// These are interfaces only; concrete implementations (the real GATT
// stack, the hardware wallet, the Solana RPC client) are host glue
// that lives outside this module's scope (§1).
package adapters

import "context"

// Clock returns monotonic milliseconds, matching the NowMs() values
// threaded through every other component for testability (§4.10).
type Clock interface {
	NowMs() int64
}

// BLETransport is the narrow send/receive contract to the concrete
// GATT stack. Ordering per link is not guaranteed across fragments;
// the fragment/reassembly packages tolerate arbitrary interleavings
// (§4.10).
type BLETransport interface {
	// Send transmits one already-encoded fragment frame. It suspends
	// until the peer acknowledges the frame or BLE_SEND_TIMEOUT
	// elapses.
	Send(ctx context.Context, frame []byte) error

	// OnRecv registers the callback invoked for every inbound frame.
	// Only one callback may be registered; registering again replaces
	// the previous one.
	OnRecv(callback func(frame []byte))

	// MTU returns the current link MTU in bytes.
	MTU() int

	// OnMTUChange registers a callback invoked whenever the link MTU
	// changes, so the core can re-fragment with a smaller max_payload.
	OnMTUChange(callback func(newMTU int))
}

// NetworkSensor reports Internet reachability so the relay policy
// (C6) can decide submit-vs-relay (§4.6, §4.10).
type NetworkSensor interface {
	IsOnline() bool
	OnChange(callback func(online bool))
}

// SignerResult is the explicit contract the core receives back from a
// wallet signing operation. The core never introspects wallet SDK
// objects directly (§9 redesign: avoid reflection/dynamic casts).
type SignerResult struct {
	PublicKey      [32]byte
	SignatureBytes [64]byte
}

// WalletSigner signs a message with the key behind pubkey. Signing is
// always treated as a remote, potentially slow operation (MWA-style,
// §9 open question); the core never accepts or caches private key
// material (§4.8).
type WalletSigner interface {
	Sign(ctx context.Context, messageBytes []byte, pubkey [32]byte) (SignerResult, error)
}

// RPCErrorKind classifies a Chain RPC failure for retry routing (§7).
type RPCErrorKind int

const (
	// RPCErrorTransient covers timeouts, 5xx, and rate limiting; the
	// caller should route the item to the Retry queue.
	RPCErrorTransient RPCErrorKind = iota
	// RPCErrorPermanent covers bad signatures and expired nonces; the
	// caller should emit Confirmation(FAILED) and drop the item.
	RPCErrorPermanent
)

// RPCError wraps a Chain RPC failure with its classification.
type RPCError struct {
	Kind RPCErrorKind
	Err  error
}

func (e *RPCError) Error() string { return e.Err.Error() }
func (e *RPCError) Unwrap() error { return e.Err }

// NonceState is the on-chain state of a durable-nonce account, as
// reported by ChainRPC.GetNonce (§4.7).
type NonceState struct {
	Authority            [32]byte
	Blockhash            [32]byte
	LamportsPerSignature uint64
}

// ChainRPC is the narrow contract to the Solana RPC client (§4.10).
type ChainRPC interface {
	// Submit broadcasts a fully-signed transaction. A nil error means
	// the transaction was accepted and signature is the transaction
	// signature; a non-nil error is always an *RPCError.
	Submit(ctx context.Context, txBytes []byte) (signature string, err error)

	// GetNonce fetches the current on-chain state of a durable-nonce
	// account.
	GetNonce(ctx context.Context, nonceAccountPubkey [32]byte) (NonceState, error)

	// Healthy reports whether the RPC endpoint is currently reachable
	// and responsive; combined with NetworkSensor.IsOnline() to gate
	// C6's submit attempt.
	Healthy(ctx context.Context) bool
}
