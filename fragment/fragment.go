// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fragment implements the C1 fragment codec: splitting a
// signed transaction into BLE-sized fragments and joining them back,
// using the bit-exact wire format of SPEC_FULL.md §6.1.
package fragment

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/relayerrors"
)

// Type identifies whether a fragment carries transaction payload or
// protocol control data.
type Type uint8

// Fragment types (§3).
const (
	TypeData Type = iota
	TypeControl
)

// Wire layout constants (§6.1). magic is implementation-defined but
// must stay stable across versions; 0xE1C1 reads as "pollinet" framing.
const (
	magic   uint16 = 0xE1C1
	version uint8  = 1

	offsetMagic      = 0
	offsetVersion    = 2
	offsetType       = 3
	offsetTxID       = 4
	offsetIndex      = 36
	offsetTotal      = 38
	offsetPayloadLen = 40
	offsetChecksum   = 42
	headerSize       = 44

	// TxIDSize is the length in bytes of a SHA-256 transaction id.
	TxIDSize = 32

	// MaxFragments is the design cap on the number of fragments a
	// single transaction may be split into (§4.1).
	MaxFragments = 65535

	// MaxPayload is the absolute wire-format ceiling: payload_len is a
	// uint16 header field, so 65535 is the largest value it can ever
	// encode. It is not a usable size on any real BLE link; callers
	// must derive their actual cap from the current MTU via
	// MaxPayloadForMTU (§4.1).
	MaxPayload = 65535

	// HeaderSize is the fixed size in bytes of the wire-format header
	// that precedes every fragment's payload (§6.1).
	HeaderSize = headerSize

	// DefaultSafetyMargin is subtracted from the raw MTU on top of
	// HeaderSize when deriving max_payload, covering the BLE link
	// layer's own ATT/L2CAP overhead (§4.1 design rationale).
	DefaultSafetyMargin = 8
)

// MaxPayloadForMTU derives max_payload from the current BLE MTU the
// way §4.1 specifies: "max_payload is chosen so that the encoded
// Fragment fits within the current BLE MTU minus a small safety
// margin." The result is clamped to [1, MaxPayload].
func MaxPayloadForMTU(mtu int) int {
	maxPayload := mtu - HeaderSize - DefaultSafetyMargin
	if maxPayload < 1 {
		maxPayload = 1
	}
	if maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	return maxPayload
}

// TxID is the SHA-256 digest of a transaction's signed bytes.
type TxID [TxIDSize]byte

// ComputeTxID returns SHA-256(txBytes).
func ComputeTxID(txBytes []byte) TxID {
	return sha256.Sum256(txBytes)
}

// Fragment is one BLE-sized slice of an encoded transaction, along
// with its header and checksum (§3).
type Fragment struct {
	TxID         TxID
	Index        uint16
	Total        uint16
	FragmentType Type
	Payload      []byte
	Checksum     uint16
}

// Split splits txBytes into a deterministic, ordered sequence of
// Fragments no larger than maxPayload each. The tx_id is computed once
// and shared by every fragment. Split never recomputes tx_id or
// re-splits an already-fragmented transaction; callers cache the
// result on the OutboundItem (§4.1 design rationale).
func Split(txBytes []byte, maxPayload int) ([]Fragment, error) {
	return SplitTyped(txBytes, maxPayload, TypeData)
}

// SplitTyped behaves like Split but stamps every fragment with
// fragmentType, letting callers produce CONTROL fragments (e.g. a
// Confirmation relayed back through the mesh) using the same codec
// path as DATA fragments (§3, §4.3).
func SplitTyped(txBytes []byte, maxPayload int, fragmentType Type) ([]Fragment, error) {
	if maxPayload <= 0 {
		return nil, errors.New("maxPayload must be positive")
	}
	if maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}

	total := (len(txBytes) + maxPayload - 1) / maxPayload
	if total == 0 {
		total = 1 // a zero-length transaction still produces one empty fragment
	}
	if total > MaxFragments {
		return nil, errors.Wrapf(relayerrors.ErrTooLarge, "total=%d max=%d", total, MaxFragments)
	}

	txID := ComputeTxID(txBytes)
	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(txBytes) {
			end = len(txBytes)
		}
		payload := txBytes[start:end]
		fragments = append(fragments, Fragment{
			TxID:         txID,
			Index:        uint16(i),
			Total:        uint16(total),
			FragmentType: fragmentType,
			Payload:      payload,
			Checksum:     crc16(payload),
		})
	}
	return fragments, nil
}

// Join reassembles the original transaction bytes from a complete,
// correctly-ordered set of fragments. Callers are expected to have
// already validated completeness and ordering (reassembly.Buffer does
// this); Join itself only concatenates payloads.
func Join(fragments []Fragment) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f.Payload)
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		out = append(out, f.Payload...)
	}
	return out
}

// Encode renders a Fragment into its stable binary wire format
// (SPEC_FULL.md §6.1): 44 bytes of header followed by the payload.
func Encode(f Fragment) []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[offsetMagic:], magic)
	buf[offsetVersion] = version
	buf[offsetType] = byte(f.FragmentType)
	copy(buf[offsetTxID:offsetTxID+TxIDSize], f.TxID[:])
	binary.LittleEndian.PutUint16(buf[offsetIndex:], f.Index)
	binary.LittleEndian.PutUint16(buf[offsetTotal:], f.Total)
	binary.LittleEndian.PutUint16(buf[offsetPayloadLen:], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(buf[offsetChecksum:], f.Checksum)
	copy(buf[headerSize:], f.Payload)
	return buf
}

// Decode parses a wire-format frame produced by Encode, validating
// magic, version, bounds, and checksum against maxPayload (the
// caller's current MTU-derived cap, from MaxPayloadForMTU). Any
// failure is non-fatal per §4.1: callers should drop the frame and
// increment a metric rather than propagate the error upward.
func Decode(data []byte, maxPayload int) (Fragment, error) {
	if len(data) < headerSize {
		return Fragment{}, errors.Wrap(relayerrors.ErrMalformedFragment, "frame shorter than header")
	}
	if got := binary.LittleEndian.Uint16(data[offsetMagic:]); got != magic {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment, "bad magic %#x", got)
	}
	if got := data[offsetVersion]; got != version {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment, "unsupported version %d", got)
	}

	fragmentType := Type(data[offsetType])
	if fragmentType != TypeData && fragmentType != TypeControl {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment, "bad fragment_type %d", fragmentType)
	}

	var txID TxID
	copy(txID[:], data[offsetTxID:offsetTxID+TxIDSize])

	index := binary.LittleEndian.Uint16(data[offsetIndex:])
	total := binary.LittleEndian.Uint16(data[offsetTotal:])
	if total == 0 {
		return Fragment{}, errors.Wrap(relayerrors.ErrMalformedFragment, "total must be >= 1")
	}
	if index >= total {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment, "index %d out of bounds for total %d", index, total)
	}

	payloadLen := binary.LittleEndian.Uint16(data[offsetPayloadLen:])
	if maxPayload <= 0 || maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	if int(payloadLen) > maxPayload {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment, "payload_len %d exceeds max_payload %d", payloadLen, maxPayload)
	}
	if len(data) != headerSize+int(payloadLen) {
		return Fragment{}, errors.Wrapf(relayerrors.ErrMalformedFragment,
			"frame length %d does not match header+payload_len %d", len(data), headerSize+int(payloadLen))
	}

	checksum := binary.LittleEndian.Uint16(data[offsetChecksum:])
	payload := make([]byte, payloadLen)
	copy(payload, data[headerSize:])

	if crc16(payload) != checksum {
		return Fragment{}, errors.WithStack(relayerrors.ErrChecksumMismatch)
	}

	return Fragment{
		TxID:         txID,
		Index:        index,
		Total:        total,
		FragmentType: fragmentType,
		Payload:      payload,
		Checksum:     checksum,
	}, nil
}

// crc16 computes CRC-16/CCITT-FALSE over data. No suitable CRC-16
// package turned up in the example corpus (only hash/crc32 is in the
// standard library), so a bit-by-bit implementation is written by
// hand here, the same way the teacher hand-writes its own varint and
// hash helpers in wire/common.go rather than reach for a dependency.
func crc16(data []byte) uint16 {
	const poly = 0x1021
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
