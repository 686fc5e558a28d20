// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package relayerrors defines the sentinel error taxonomy shared by
// every core component (§7 of SPEC_FULL.md). Components wrap these
// sentinels with github.com/pkg/errors so that callers can classify
// an error with errors.Is while still getting a stack trace and a
// human-readable cause chain.
package relayerrors

import "github.com/pkg/errors"

// Transport-layer errors. These are absorbed locally by the codec and
// reassembly buffer; they never propagate past the event worker (§7
// propagation policy).
var (
	ErrMalformedFragment  = errors.New("malformed fragment")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrTotalMismatch      = errors.New("total mismatch")
	ErrReassemblyTimeout  = errors.New("reassembly timeout")
	ErrReassemblyOverflow = errors.New("reassembly overflow")
	ErrDuplicate          = errors.New("duplicate")
	ErrTooLarge           = errors.New("fragment count exceeds MAX_FRAGMENTS")
)

// Transport/submission errors. BLE errors are retried by the worker;
// RPC errors route to Retry (transient) or Confirmation(FAILED)
// (permanent).
var (
	ErrBLETransient = errors.New("ble transient error")
	ErrBLEPermanent = errors.New("ble permanent error")
	ErrRPCTransient = errors.New("rpc transient error")
	ErrRPCPermanent = errors.New("rpc permanent error")
)

// Nonce/builder errors, surfaced synchronously to the caller of
// offline-building operations (§7 user-visible behavior).
var (
	ErrNonceExpired      = errors.New("durable nonce expired")
	ErrNonceUnavailable  = errors.New("no cached nonce available")
	ErrAuthorityMismatch = errors.New("authority pubkey does not match cached nonce authority")
	ErrSignRejected      = errors.New("signer rejected the request")
	ErrMissingSigner     = errors.New("required signer has no signature attached")
)

// Persistence errors.
var (
	ErrIO            = errors.New("io error")
	ErrSchemaVersion = errors.New("unsupported snapshot schema version")
)

// IsTransient reports whether err wraps one of the errors that should
// route to the Retry queue rather than a terminal Confirmation(FAILED).
func IsTransient(err error) bool {
	return errors.Is(err, ErrBLETransient) || errors.Is(err, ErrRPCTransient)
}

// IsPermanent reports whether err wraps one of the errors that should
// terminate the item immediately with Confirmation(FAILED).
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBLEPermanent) || errors.Is(err, ErrRPCPermanent) ||
		errors.Is(err, ErrNonceExpired) || errors.Is(err, ErrAuthorityMismatch) ||
		errors.Is(err, ErrSignRejected)
}
