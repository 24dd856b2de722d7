// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import "fmt"

// Decoder states
const (
	stateIdle = iota
	stateHeader2
	stateLength
	statePayload
	stateChecksum
)

// Decoder reassembles frames from a byte stream. A stream transport may
// split a frame across reads or deliver several frames in one read, so the
// decoder keeps its position between calls.
type Decoder struct {
	state     int
	length    int
	payload   []byte
	rawBuffer []byte // bytes of the frame in progress, header included
	skipped   uint64
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		payload:   make([]byte, 0, MaxPayloadSize),
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset drops any partial frame and waits for the next header
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.length = 0
	d.payload = d.payload[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the bytes of the current or last completed frame
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

// Skipped returns the number of bytes discarded while searching for a header
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns the payload of a completed frame, or nil if the frame is incomplete.
// Returns an error if the frame fails its checksum; the decoder has already
// resynchronized when that happens.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	switch d.state {
	case stateIdle:
		if b != Header1 {
			d.skipped++
			return nil, nil
		}
		d.rawBuffer = append(d.rawBuffer[:0], b)
		d.state = stateHeader2
		return nil, nil

	case stateHeader2:
		switch b {
		case Header2:
			d.rawBuffer = append(d.rawBuffer, b)
			d.state = stateLength
		case Header1:
			// The previous 0xBE was noise; this one may start a frame.
			d.skipped++
			d.rawBuffer = append(d.rawBuffer[:0], b)
		default:
			d.skipped += 2
			d.Reset()
		}
		return nil, nil

	case stateLength:
		d.rawBuffer = append(d.rawBuffer, b)
		d.length = int(b)
		d.payload = d.payload[:0]
		if d.length == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.rawBuffer = append(d.rawBuffer, b)
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		d.rawBuffer = append(d.rawBuffer, b)
		expected := Checksum(d.payload)
		if b != expected {
			d.Reset()
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, b)
		}
		payload := make([]byte, len(d.payload))
		copy(payload, d.payload)
		d.state = stateIdle
		d.payload = d.payload[:0]
		return payload, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("%w: invalid decoder state %d", ErrFraming, d.state)
	}
}

// Decode feeds a chunk of stream bytes through the decoder and returns every
// payload completed by it, along with any framing errors encountered.
func (d *Decoder) Decode(data []byte) (payloads [][]byte, errs []error) {
	for _, b := range data {
		payload, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if payload != nil {
			payloads = append(payloads, payload)
		}
	}
	return payloads, errs
}
