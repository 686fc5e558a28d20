// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relaypolicy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/dedup"
	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/queueset"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

type fakeNetwork struct{ online bool }

func (n *fakeNetwork) IsOnline() bool                        { return n.online }
func (n *fakeNetwork) OnChange(callback func(online bool))   {}

type fakeRPC struct {
	healthy   bool
	submitErr error
	signature string
}

func (r *fakeRPC) Submit(ctx context.Context, txBytes []byte) (string, error) {
	if r.submitErr != nil {
		return "", r.submitErr
	}
	return r.signature, nil
}

func (r *fakeRPC) GetNonce(ctx context.Context, pubkey [32]byte) (adapters.NonceState, error) {
	return adapters.NonceState{}, nil
}

func (r *fakeRPC) Healthy(ctx context.Context) bool { return r.healthy }

func newDeps(net *fakeNetwork, rpc *fakeRPC, clock *fakeClock) Deps {
	return Deps{
		RPC:           rpc,
		Network:       net,
		Dedup:         dedup.New(0),
		Retry:         queueset.NewRetry(30_000, 3_600_000, 10),
		Confirmations: queueset.NewConfirmationQueue(),
		Outbound:      queueset.NewOutbound(),
		Clock:         clock,
		MaxPayload:    func() int { return 100 },
	}
}

func item(b byte) *queueset.ReceivedItem {
	txBytes := []byte{b, b, b}
	return &queueset.ReceivedItem{
		TxID:    fragment.ComputeTxID(txBytes),
		TxBytes: txBytes,
	}
}

// TestProcessOnlineSuccessSubmits covers S4: online + healthy RPC
// submits and emits Confirmation(SUCCESS).
func TestProcessOnlineSuccessSubmits(t *testing.T) {
	deps := newDeps(&fakeNetwork{online: true}, &fakeRPC{healthy: true, signature: "sig1"}, &fakeClock{})
	outcome := Process(context.Background(), item(1), deps)

	require.Equal(t, OutcomeSubmittedSuccess, outcome)
	require.Equal(t, 1, deps.Confirmations.Len())
	c := deps.Confirmations.Pop()
	require.Equal(t, queueset.StatusSuccess, c.Status)
	require.Equal(t, 0, deps.Outbound.Len())
}

// TestProcessOfflineRelays covers S5: offline re-fragments into
// Outbound at NORMAL priority.
func TestProcessOfflineRelays(t *testing.T) {
	deps := newDeps(&fakeNetwork{online: false}, &fakeRPC{healthy: true}, &fakeClock{})
	outcome := Process(context.Background(), item(2), deps)

	require.Equal(t, OutcomeRelayed, outcome)
	require.Equal(t, 1, deps.Outbound.Len())
	require.Equal(t, 0, deps.Confirmations.Len())
}

func TestProcessTransientFailureRetries(t *testing.T) {
	rpc := &fakeRPC{healthy: true, submitErr: &adapters.RPCError{Kind: adapters.RPCErrorTransient, Err: errTimeout{}}}
	deps := newDeps(&fakeNetwork{online: true}, rpc, &fakeClock{})
	outcome := Process(context.Background(), item(3), deps)

	require.Equal(t, OutcomeSubmittedRetry, outcome)
	require.Equal(t, 1, deps.Retry.Len())
}

func TestProcessPermanentFailureEmitsFailedConfirmation(t *testing.T) {
	rpc := &fakeRPC{healthy: true, submitErr: &adapters.RPCError{Kind: adapters.RPCErrorPermanent, Err: errTimeout{}}}
	deps := newDeps(&fakeNetwork{online: true}, rpc, &fakeClock{})
	outcome := Process(context.Background(), item(4), deps)

	require.Equal(t, OutcomeSubmittedFailed, outcome)
	c := deps.Confirmations.Pop()
	require.Equal(t, queueset.StatusFailed, c.Status)
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }

// TestProcessStampsConfirmationSelfOriginatedAndNotifiesHost covers
// §4.6's tie-break: a Confirmation carries the item's SelfOriginated
// flag, and any registered host callback observes every Confirmation
// regardless of origin.
func TestProcessStampsConfirmationSelfOriginatedAndNotifiesHost(t *testing.T) {
	deps := newDeps(&fakeNetwork{online: true}, &fakeRPC{healthy: true, signature: "sig5"}, &fakeClock{})
	var notified *queueset.Confirmation
	deps.OnConfirmation = func(c *queueset.Confirmation) { notified = c }

	selfItem := item(5)
	selfItem.SelfOriginated = true
	outcome := Process(context.Background(), selfItem, deps)

	require.Equal(t, OutcomeSubmittedSuccess, outcome)
	require.NotNil(t, notified)
	require.True(t, notified.SelfOriginated)

	c := deps.Confirmations.Pop()
	require.True(t, c.SelfOriginated)
}
