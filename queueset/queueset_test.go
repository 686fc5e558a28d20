// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package queueset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/fragment"
)

func txID(b byte) fragment.TxID {
	return fragment.ComputeTxID([]byte{b})
}

// TestOutboundIdempotentPush covers §8 invariant 3: pushing the same
// tx_id N times results in exactly one drained item (also scenario
// S3 of SPEC_FULL.md §8).
func TestOutboundIdempotentPush(t *testing.T) {
	q := NewOutbound()
	item := &OutboundItem{TxID: txID(1), Priority: PriorityNormal}

	require.True(t, q.Push(item))
	require.False(t, q.Push(item))
	require.Equal(t, 1, q.Len())

	popped := q.Pop()
	require.NotNil(t, popped)
	require.Equal(t, item.TxID, popped.TxID)
	require.Nil(t, q.Pop())
}

// TestOutboundPriorityMonotonicity covers §8 invariant 4: a HIGH item
// pushed after LOW items pops next.
func TestOutboundPriorityMonotonicity(t *testing.T) {
	q := NewOutbound()
	q.Push(&OutboundItem{TxID: txID(1), Priority: PriorityLow})
	q.Push(&OutboundItem{TxID: txID(2), Priority: PriorityLow})
	q.Push(&OutboundItem{TxID: txID(3), Priority: PriorityHigh})

	popped := q.Pop()
	require.Equal(t, txID(3), popped.TxID)
}

func TestOutboundFIFOWithinBand(t *testing.T) {
	q := NewOutbound()
	q.Push(&OutboundItem{TxID: txID(1), Priority: PriorityNormal})
	q.Push(&OutboundItem{TxID: txID(2), Priority: PriorityNormal})

	require.Equal(t, txID(1), q.Pop().TxID)
	require.Equal(t, txID(2), q.Pop().TxID)
}

// TestRetryBackoffMonotonicity covers §8 invariant 5: consecutive
// attempts on the same item have strictly non-decreasing not_before.
func TestRetryBackoffMonotonicity(t *testing.T) {
	r := NewRetry(30_000, 3_600_000, 10)
	var prev int64 = -1
	for attempt := 0; attempt < 10; attempt++ {
		got := r.Backoff(attempt)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

// TestRetryBackoffRangeS6 covers scenario S6 of SPEC_FULL.md §8: the
// first failure's not_before falls in [30000, 60000) relative to now.
func TestRetryBackoffRangeS6(t *testing.T) {
	r := NewRetry(30_000, 3_600_000, 10)
	delta := r.Backoff(0)
	require.GreaterOrEqual(t, delta, int64(30_000))
	require.Less(t, delta, int64(60_000))
}

func TestRetryMaxAttemptsMigratesToPermanent(t *testing.T) {
	r := NewRetry(30_000, 3_600_000, 2)

	ok := r.Add(&RetryItem{TxID: txID(1), AttemptCount: 0}, 0)
	require.True(t, ok)
	popped := r.PopReady(10_000_000)
	require.NotNil(t, popped)

	popped.AttemptCount = 2
	ok = r.Add(popped, 0)
	require.False(t, ok)
	require.Len(t, r.PermanentFailures(), 1)
	require.Equal(t, 0, r.Len())
}

func TestRetryPopReadyRespectsNotBefore(t *testing.T) {
	r := NewRetry(30_000, 3_600_000, 10)
	r.Add(&RetryItem{TxID: txID(1), AttemptCount: 0}, 1000)

	require.Nil(t, r.PopReady(1000))
	require.NotNil(t, r.PopReady(1000+60_000))
}

func TestReceivedIdempotentPush(t *testing.T) {
	q := NewReceived()
	item := &ReceivedItem{TxID: txID(1)}
	require.True(t, q.Push(item))
	require.False(t, q.Push(item))
	require.Equal(t, 1, q.Len())
}

func TestConfirmationFIFO(t *testing.T) {
	q := NewConfirmationQueue()
	q.Push(&Confirmation{TxID: txID(1)})
	q.Push(&Confirmation{TxID: txID(2)})
	require.Equal(t, txID(1), q.Pop().TxID)
	require.Equal(t, txID(2), q.Pop().TxID)
	require.Nil(t, q.Pop())
}

// TestOutboundRefragmentResizesPending covers §4.1: an MTU change
// mid-session must re-split an already-queued item's Fragments against
// the new max_payload rather than leave it sized for the old one.
func TestOutboundRefragmentResizesPending(t *testing.T) {
	q := NewOutbound()
	txBytes := make([]byte, 100)
	frags, err := fragment.Split(txBytes, 20)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	item := &OutboundItem{TxID: frags[0].TxID, OriginalBytes: txBytes, Fragments: frags, Priority: PriorityNormal}
	q.Push(item)

	errs := q.Refragment(200)
	require.Empty(t, errs)

	popped := q.Pop()
	require.Equal(t, 1, len(popped.Fragments))
}

// TestEncodeDecodeConfirmationRoundTrips covers the CONTROL-fragment
// wire format used to relay a Confirmation back through the mesh
// toward its originator (§4.3).
func TestEncodeDecodeConfirmationRoundTrips(t *testing.T) {
	c := &Confirmation{
		TxID:        txID(7),
		Status:      StatusFailed,
		Reason:      "nonce expired",
		TimestampMs: 12345,
		RelayCount:  2,
	}

	encoded := EncodeConfirmation(c)
	decoded, err := DecodeConfirmation(encoded)
	require.NoError(t, err)
	require.Equal(t, c.TxID, decoded.TxID)
	require.Equal(t, c.Status, decoded.Status)
	require.Equal(t, c.Reason, decoded.Reason)
	require.Equal(t, c.TimestampMs, decoded.TimestampMs)
	require.Equal(t, c.RelayCount, decoded.RelayCount)
}

func TestOutboundRestoreRebands(t *testing.T) {
	q := NewOutbound()
	q.Restore([]*OutboundItem{
		{TxID: txID(1), Priority: PriorityLow},
		{TxID: txID(2), Priority: PriorityHigh},
	})
	require.Equal(t, txID(2), q.Pop().TxID)
	require.Equal(t, txID(1), q.Pop().TxID)
}
