// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package queueset

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/relayerrors"
)

// Wire layout for a Confirmation CONTROL fragment payload: a fixed
// header followed by the variable-length signature/reason string
// (§4.3 "Confirmation ... intended to be fragmented back through the
// mesh toward the transaction originator").
const (
	confirmationOffsetTxID        = 0
	confirmationOffsetStatus      = fragment.TxIDSize
	confirmationOffsetTimestampMs = confirmationOffsetStatus + 1
	confirmationOffsetRelayCount  = confirmationOffsetTimestampMs + 8
	confirmationOffsetTextLen     = confirmationOffsetRelayCount + 4
	confirmationHeaderSize        = confirmationOffsetTextLen + 2
)

// EncodeConfirmation renders c as a CONTROL fragment payload. Status
// determines whether the trailing text is a signature or a failure
// reason; SelfOriginated is never transmitted, since by construction
// only non-self-originated Confirmations are ever encoded (§4.6).
func EncodeConfirmation(c *Confirmation) []byte {
	text := c.Signature
	if c.Status == StatusFailed {
		text = c.Reason
	}
	buf := make([]byte, confirmationHeaderSize+len(text))
	copy(buf[confirmationOffsetTxID:], c.TxID[:])
	buf[confirmationOffsetStatus] = byte(c.Status)
	binary.LittleEndian.PutUint64(buf[confirmationOffsetTimestampMs:], uint64(c.TimestampMs))
	binary.LittleEndian.PutUint32(buf[confirmationOffsetRelayCount:], uint32(c.RelayCount))
	binary.LittleEndian.PutUint16(buf[confirmationOffsetTextLen:], uint16(len(text)))
	copy(buf[confirmationHeaderSize:], text)
	return buf
}

// DecodeConfirmation parses a CONTROL fragment payload produced by
// EncodeConfirmation.
func DecodeConfirmation(data []byte) (*Confirmation, error) {
	if len(data) < confirmationHeaderSize {
		return nil, errors.Wrap(relayerrors.ErrMalformedFragment, "confirmation payload shorter than header")
	}

	var txID fragment.TxID
	copy(txID[:], data[confirmationOffsetTxID:confirmationOffsetTxID+fragment.TxIDSize])
	status := ConfirmationStatus(data[confirmationOffsetStatus])
	timestampMs := int64(binary.LittleEndian.Uint64(data[confirmationOffsetTimestampMs:]))
	relayCount := int(binary.LittleEndian.Uint32(data[confirmationOffsetRelayCount:]))
	textLen := binary.LittleEndian.Uint16(data[confirmationOffsetTextLen:])
	if len(data) != confirmationHeaderSize+int(textLen) {
		return nil, errors.Wrap(relayerrors.ErrMalformedFragment, "confirmation payload length does not match text_len")
	}
	text := string(data[confirmationHeaderSize:])

	c := &Confirmation{
		TxID:        txID,
		Status:      status,
		TimestampMs: timestampMs,
		RelayCount:  relayCount,
	}
	if status == StatusFailed {
		c.Reason = text
	} else {
		c.Signature = text
	}
	return c, nil
}
