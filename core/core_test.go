// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/config"
	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/queueset"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

type fakeTransport struct {
	onRecv func(frame []byte)
}

func (t *fakeTransport) Send(ctx context.Context, frame []byte) error { return nil }
func (t *fakeTransport) OnRecv(callback func(frame []byte))           { t.onRecv = callback }
func (t *fakeTransport) MTU() int                                     { return 100 }
func (t *fakeTransport) OnMTUChange(callback func(newMTU int))        {}

type fakeNetwork struct{}

func (fakeNetwork) IsOnline() bool                      { return false }
func (fakeNetwork) OnChange(callback func(online bool)) {}

type fakeRPC struct{}

func (fakeRPC) Submit(ctx context.Context, txBytes []byte) (string, error) { return "", nil }
func (fakeRPC) GetNonce(ctx context.Context, pubkey [32]byte) (adapters.NonceState, error) {
	return adapters.NonceState{}, nil
}
func (fakeRPC) Healthy(ctx context.Context) bool { return false }

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, messageBytes []byte, pubkey [32]byte) (adapters.SignerResult, error) {
	return adapters.SignerResult{}, nil
}

func newTestCore(t *testing.T) *Core {
	dir := t.TempDir()
	cfg := &config.Config{
		StorageDirectory: dir,
		LogLevel:         "info",
	}
	cfg, err := applyDefaults(cfg)
	require.NoError(t, err)

	c, err := Init(cfg, Adapters{
		Transport: &fakeTransport{},
		Network:   fakeNetwork{},
		Signer:    fakeSigner{},
		RPC:       fakeRPC{},
		Clock:     &fakeClock{},
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

// applyDefaults fills in the numeric fields config.Parse would
// normally default, since tests construct a Config directly rather
// than through command-line parsing.
func applyDefaults(cfg *config.Config) (*config.Config, error) {
	cfg.AutosaveDebounceMs = config.DefaultAutosaveDebounceMs
	cfg.ReassemblyTTLMs = config.DefaultReassemblyTTLMs
	cfg.WorkerTimeoutMs = config.DefaultWorkerTimeoutMs
	cfg.RetryBaseMs = config.DefaultRetryBaseMs
	cfg.RetryCeilingMs = config.DefaultRetryCeilingMs
	cfg.MaxAttempts = config.DefaultMaxAttempts
	cfg.DedupTTLMs = config.DefaultDedupTTLMs
	cfg.MaxIncompleteSets = config.DefaultMaxIncompleteSets
	return cfg, nil
}

func TestPushOutboundIsIdempotentAndFragments(t *testing.T) {
	c := newTestCore(t)
	txBytes := []byte("a transaction payload")

	id1, err := c.PushOutbound(txBytes, queueset.PriorityNormal)
	require.NoError(t, err)
	id2, err := c.PushOutbound(txBytes, queueset.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, c.QueueSizes()["outbound"])
}

func TestPushInboundReassemblesAndRoutesToReceived(t *testing.T) {
	c := newTestCore(t)
	txBytes := []byte("incoming payload")

	frags, err := fragment.Split(txBytes, fragment.MaxPayload)
	require.NoError(t, err)
	for _, frag := range frags {
		require.NoError(t, c.PushInbound(fragment.Encode(frag)))
	}

	require.Equal(t, 0, c.QueueSizes()["outbound"]) // received offline items relay asynchronously via the worker
}

// TestPushOutboundUsesMTUDerivedMaxPayload covers §4.1: a transaction
// larger than the link's MTU-derived max_payload must split into more
// than one fragment, not ride as a single MaxPayload-capable fragment.
func TestPushOutboundUsesMTUDerivedMaxPayload(t *testing.T) {
	c := newTestCore(t) // fakeTransport.MTU() == 100, so max_payload == 100-44-8 == 48

	txBytes := make([]byte, 130)
	for i := range txBytes {
		txBytes[i] = byte(i)
	}

	_, err := c.PushOutbound(txBytes, queueset.PriorityNormal)
	require.NoError(t, err)

	item := c.outbound.Pop()
	require.NotNil(t, item)
	require.Greater(t, len(item.Fragments), 1)
	for _, frag := range item.Fragments {
		require.LessOrEqual(t, len(frag.Payload), fragment.MaxPayloadForMTU(100))
	}
}

// TestHandleMTUChangeRefragmentsPendingOutbound covers §4.1's
// requirement that an MTU change mid-session re-fragments already
// queued items rather than leaving them sized for the old link budget.
func TestHandleMTUChangeRefragmentsPendingOutbound(t *testing.T) {
	c := newTestCore(t)

	txBytes := make([]byte, 130)
	_, err := c.PushOutbound(txBytes, queueset.PriorityNormal)
	require.NoError(t, err)

	before := c.outbound.Pop()
	require.NotNil(t, before)
	fragsBefore := len(before.Fragments)
	c.outbound.Push(before)

	c.handleMTUChange(300) // max_payload now 300-44-8 == 248, large enough for one fragment

	after := c.outbound.Pop()
	require.NotNil(t, after)
	require.Less(t, len(after.Fragments), fragsBefore+1)
	require.Equal(t, 1, len(after.Fragments))
}
