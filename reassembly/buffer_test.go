// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package reassembly

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-sub003/fragment"
)

// TestAcceptReorderedS2 exercises scenario S2 of SPEC_FULL.md §8: the
// four fragments of a 101-byte transaction delivered out of order
// ([2,0,3,1]) must complete on the 4th call and leave the table empty.
func TestAcceptReorderedS2(t *testing.T) {
	txBytes := make([]byte, 101)
	for i := range txBytes {
		txBytes[i] = byte(i)
	}
	fragments, err := fragment.Split(txBytes, 30)
	require.NoError(t, err)

	order := []int{2, 0, 3, 1}
	b := New(0, 0)

	for i, idx := range order {
		out, err := b.Accept(fragments[idx], 1000)
		require.NoError(t, err)
		if i < len(order)-1 {
			require.Nil(t, out)
		} else {
			require.True(t, bytes.Equal(txBytes, out))
		}
	}
	require.Equal(t, 0, b.Len())
}

// TestAcceptPermutationInvariance covers §8 invariant 2: for any
// permutation of a transaction's fragments, the buffer reports
// completion exactly once and with the correct bytes.
func TestAcceptPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		txBytes := make([]byte, 1+rng.Intn(2048))
		rng.Read(txBytes)
		maxPayload := 8 + rng.Intn(64)

		fragments, err := fragment.Split(txBytes, maxPayload)
		require.NoError(t, err)

		perm := rng.Perm(len(fragments))
		b := New(0, 0)

		completions := 0
		var result []byte
		for _, idx := range perm {
			out, err := b.Accept(fragments[idx], 1000)
			require.NoError(t, err)
			if out != nil {
				completions++
				result = out
			}
		}
		require.Equal(t, 1, completions)
		require.True(t, bytes.Equal(txBytes, result))
		require.Equal(t, 0, b.Len())
	}
}

func TestAcceptRejectsConflictingTotal(t *testing.T) {
	b := New(0, 0)
	txID := fragment.ComputeTxID([]byte("a"))

	f1 := fragment.Fragment{TxID: txID, Index: 0, Total: 2, Payload: []byte("a")}
	_, err := b.Accept(f1, 0)
	require.NoError(t, err)

	f2 := fragment.Fragment{TxID: txID, Index: 1, Total: 3, Payload: []byte("b")}
	_, err = b.Accept(f2, 0)
	require.Error(t, err)
	require.Equal(t, 1, b.Len())
}

func TestAcceptDuplicateIsIdempotent(t *testing.T) {
	b := New(0, 0)
	txID := fragment.ComputeTxID([]byte("a"))
	f := fragment.Fragment{TxID: txID, Index: 0, Total: 2, Payload: []byte("a")}

	_, err := b.Accept(f, 0)
	require.NoError(t, err)
	_, err = b.Accept(f, 5)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
}

func TestAcceptDuplicateWithDifferentPayloadRejected(t *testing.T) {
	b := New(0, 0)
	txID := fragment.ComputeTxID([]byte("a"))
	f := fragment.Fragment{TxID: txID, Index: 0, Total: 2, Payload: []byte("a")}
	_, err := b.Accept(f, 0)
	require.NoError(t, err)

	f2 := f
	f2.Payload = []byte("b")
	_, err = b.Accept(f2, 0)
	require.Error(t, err)
}

func TestSweepDropsStaleSets(t *testing.T) {
	b := New(1000, 0)
	txID := fragment.ComputeTxID([]byte("a"))
	f := fragment.Fragment{TxID: txID, Index: 0, Total: 2, Payload: []byte("a")}
	_, err := b.Accept(f, 0)
	require.NoError(t, err)

	require.Equal(t, 0, b.Sweep(500))
	require.Equal(t, 1, b.Sweep(5000))
	require.Equal(t, 0, b.Len())
}

func TestMaxIncompleteEvictsOldest(t *testing.T) {
	b := New(0, 2)
	for i := 0; i < 3; i++ {
		txID := fragment.ComputeTxID([]byte{byte(i)})
		f := fragment.Fragment{TxID: txID, Index: 0, Total: 2, Payload: []byte{byte(i)}}
		_, err := b.Accept(f, int64(i))
		require.NoError(t, err)
	}
	require.Equal(t, 2, b.Len())
}
