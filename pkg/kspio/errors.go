// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"errors"
	"fmt"
)

// Error roots. Framing errors come from Wrap, Unwrap and the stream
// Decoder; decode errors come from the per-packet codecs.
var (
	ErrFraming = errors.New("framing error")
	ErrDecode  = errors.New("decode error")
)

var (
	ErrFrameTooShort  = fmt.Errorf("%w: frame too short", ErrFraming)
	ErrFrameTooLong   = fmt.Errorf("%w: frame too long", ErrFraming)
	ErrBadHeader      = fmt.Errorf("%w: bad header", ErrFraming)
	ErrLengthMismatch = fmt.Errorf("%w: length byte does not match frame size", ErrFraming)
	ErrChecksum       = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrPayloadSize    = fmt.Errorf("%w: payload size out of range", ErrFraming)
)

// DecodeError reports a payload that does not fit the layout of the
// packet type it was decoded as.
type DecodeError struct {
	Type    uint8 // expected packet type
	Got     uint8 // discriminant found in the payload (valid when Length > 0)
	Length  int   // payload length received
	Want    int   // payload length required
	Message string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", FormatPacketType(e.Type), e.Message)
}

// Unwrap lets errors.Is match ErrDecode
func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func checkPayload(payload []byte, packetType uint8, size int) error {
	if len(payload) == 0 {
		return &DecodeError{Type: packetType, Want: size, Message: "empty payload"}
	}
	if payload[0] != packetType {
		return &DecodeError{
			Type:    packetType,
			Got:     payload[0],
			Length:  len(payload),
			Want:    size,
			Message: fmt.Sprintf("wrong packet type %d", payload[0]),
		}
	}
	if len(payload) < size {
		return &DecodeError{
			Type:    packetType,
			Got:     payload[0],
			Length:  len(payload),
			Want:    size,
			Message: fmt.Sprintf("payload too short: %d bytes (need %d)", len(payload), size),
		}
	}
	return nil
}
