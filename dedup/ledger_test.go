// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// TestPurgeTTL covers §8 invariant 6: an entry older than dedup_ttl_ms
// is absent after Purge(now); younger entries remain.
func TestPurgeTTL(t *testing.T) {
	l := New(1000)
	old := fragment.ComputeTxID([]byte("old"))
	fresh := fragment.ComputeTxID([]byte("fresh"))

	l.MarkSeen(old, 0)
	l.MarkSeen(fresh, 900)

	dropped := l.Purge(1500)
	require.Equal(t, 1, dropped)
	require.False(t, l.Seen(old))
	require.True(t, l.Seen(fresh))
}

func TestMarkSeenIsIdempotentOnFirstSeen(t *testing.T) {
	l := New(1000)
	id := fragment.ComputeTxID([]byte("a"))
	l.MarkSeen(id, 10)
	l.MarkSeen(id, 9999)

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, int64(10), snap[0].FirstSeenMs)
}

func TestMarkSubmittedIsKeyedBySeparateHash(t *testing.T) {
	l := New(1000)
	txBytes := []byte("signed bytes")
	require.False(t, l.SubmittedSeen(txBytes))
	l.MarkSubmitted(txBytes, 0)
	require.True(t, l.SubmittedSeen(txBytes))
}

func TestRestoreRoundTrip(t *testing.T) {
	l := New(1000)
	id := fragment.ComputeTxID([]byte("a"))
	l.MarkSeen(id, 5)

	snap := l.Snapshot()
	l2 := New(1000)
	l2.Restore(snap)
	require.True(t, l2.Seen(id))
}
