// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package relaypolicy implements the C6 submit-vs-relay decision
// (§4.6): for each fully reassembled transaction, whether to submit
// it directly via Chain RPC or re-fragment it back onto Outbound so
// it keeps propagating across the mesh.
package relaypolicy

import (
	"context"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/dedup"
	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/queueset"
)

// Outcome records what Process did with an item, for logging and
// metrics (§4.14).
type Outcome int

const (
	OutcomeSubmittedSuccess Outcome = iota
	OutcomeSubmittedRetry
	OutcomeSubmittedFailed
	OutcomeRelayed
)

// Deps bundles the collaborators Process needs. All fields except
// OnConfirmation are required; Policy holds no state of its own
// beyond these references (§4.6).
type Deps struct {
	RPC           adapters.ChainRPC
	Network       adapters.NetworkSensor
	Dedup         *dedup.Ledger
	Retry         *queueset.Retry
	Confirmations *queueset.ConfirmationQueue
	Outbound      *queueset.Outbound
	Clock         adapters.Clock

	// MaxPayload returns the current MTU-derived max_payload (§4.1).
	// It is a function rather than a fixed int because the BLE link's
	// MTU can change mid-session (adapters.BLETransport.OnMTUChange).
	MaxPayload func() int

	// OnConfirmation, if set, is invoked with every Confirmation
	// Process produces, regardless of SelfOriginated, so the host can
	// observe final outcomes (§6.3 "confirmation events").
	OnConfirmation func(*queueset.Confirmation)
}

// Process applies §4.6 to one Received item and returns the outcome.
//
//   - network.is_online() ∧ rpc.healthy(): attempt submit. Success →
//     mark_submitted + Confirmation(SUCCESS) + drop. Transient failure
//     → push to Retry. Permanent failure → Confirmation(FAILED) +
//     drop.
//   - Otherwise: re-fragment tx_bytes into Outbound at NORMAL
//     priority so the item keeps propagating across the mesh.
//
// Tie-break: submit is always attempted before falling back to relay
// when both are possible (prefer authoritative finalization). A
// self-originated item that is itself a duplicate (already seen, not
// this call) never reaches Process, because C4 drops such items
// before they are pushed to Received; see core.PushInbound. When a Confirmation
// is emitted for a self-originated item, it is never fragmented back
// onto the mesh: the device that emits it already is the transaction's
// origin, so mesh propagation would just echo it back to ourselves.
func Process(ctx context.Context, item *queueset.ReceivedItem, deps Deps) Outcome {
	now := deps.Clock.NowMs()

	if deps.Network.IsOnline() && deps.RPC.Healthy(ctx) {
		signature, err := deps.RPC.Submit(ctx, item.TxBytes)
		if err == nil {
			deps.Dedup.MarkSubmitted(item.TxBytes, now)
			emitConfirmation(deps, item, &queueset.Confirmation{
				TxID:        item.TxID,
				Status:      queueset.StatusSuccess,
				Signature:   signature,
				TimestampMs: now,
			})
			return OutcomeSubmittedSuccess
		}

		if rpcErr, ok := err.(*adapters.RPCError); ok && rpcErr.Kind == adapters.RPCErrorPermanent {
			emitConfirmation(deps, item, &queueset.Confirmation{
				TxID:        item.TxID,
				Status:      queueset.StatusFailed,
				Reason:      rpcErr.Error(),
				TimestampMs: now,
			})
			return OutcomeSubmittedFailed
		}

		deps.Retry.Add(&queueset.RetryItem{
			TxID:         item.TxID,
			TxBytes:      item.TxBytes,
			AttemptCount: 0,
		}, now)
		return OutcomeSubmittedRetry
	}

	relay(item, deps)
	return OutcomeRelayed
}

// emitConfirmation stamps c with item's origin, notifies the host
// callback (if registered), and pushes it onto the Confirmation FIFO.
// The worker fragments it back through the mesh unless the
// transaction originated locally, in which case it consumes it
// without relaying, since there is nowhere further for it to go
// (§4.6 tie-break).
func emitConfirmation(deps Deps, item *queueset.ReceivedItem, c *queueset.Confirmation) {
	c.SelfOriginated = item.SelfOriginated
	if deps.OnConfirmation != nil {
		deps.OnConfirmation(c)
	}
	deps.Confirmations.Push(c)
}

// relay re-fragments tx_bytes back onto Outbound at NORMAL priority.
// Outbound's own idempotent Push guards against re-queuing a tx_id
// that is already pending relay.
func relay(item *queueset.ReceivedItem, deps Deps) {
	frags, err := fragment.Split(item.TxBytes, deps.MaxPayload())
	if err != nil {
		return
	}
	deps.Outbound.Push(&queueset.OutboundItem{
		TxID:          item.TxID,
		OriginalBytes: item.TxBytes,
		Priority:      queueset.PriorityNormal,
		Fragments:     frags,
		CreatedAtMs:   deps.Clock.NowMs(),
	})
}
