// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import "fmt"

// Wrap frames a payload for transmission:
// [0xBE][0xEF][len][payload...][checksum]
func Wrap(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (1-%d)", ErrPayloadSize, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, len(payload)+FrameOverhead)
	frame = append(frame, Header1, Header2, uint8(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame, nil
}

// MustWrap is like Wrap but panics on error. Only use with payloads built
// by this package, whose sizes are fixed.
func MustWrap(payload []byte) []byte {
	frame, err := Wrap(payload)
	if err != nil {
		panic(fmt.Sprintf("kspio: wrap error: %v", err))
	}
	return frame
}

// Unwrap validates a complete frame and returns its payload.
// The returned slice aliases frame.
func Unwrap(frame []byte) ([]byte, error) {
	if len(frame) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	if len(frame) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(frame))
	}
	if frame[0] != Header1 || frame[1] != Header2 {
		return nil, fmt.Errorf("%w: 0x%02X 0x%02X", ErrBadHeader, frame[0], frame[1])
	}

	length := int(frame[2])
	if length != len(frame)-FrameOverhead {
		return nil, fmt.Errorf("%w: length=%d, frame=%d bytes", ErrLengthMismatch, length, len(frame))
	}

	payload := frame[3 : 3+length]
	expected := Checksum(payload)
	if got := frame[len(frame)-1]; got != expected {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, got)
	}
	return payload, nil
}

// PacketType returns the discriminant of a payload, or false for an empty one.
func PacketType(payload []byte) (uint8, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	return payload[0], true
}
