// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"fmt"
	"net"
)

// Handshake is exchanged at the start of a session. The host broadcasts one
// over UDP to announce itself; the controller answers with its own over the
// stream.
type Handshake struct {
	M1    uint8
	M2    uint8
	State uint8 // raw host-state code

	// Sender is filled in by the receiver and never encoded.
	Sender net.Addr
}

// ClientHandshake returns the handshake a controller sends to the host
func ClientHandshake() Handshake {
	return Handshake{M1: ClientM1, M2: ClientM2, State: ClientState}
}

// HostState maps the raw state code to a HostState
func (h Handshake) HostState() HostState {
	return HostStateFromWire(h.State)
}

// Encode returns the handshake payload (unframed)
func (h Handshake) Encode() []byte {
	w := newWriter(HandshakeSize)
	w.u8(TypeHandshake)
	w.u8(h.M1)
	w.u8(h.M2)
	w.u8(h.State)
	return w.bytes()
}

// DecodeHandshake decodes a handshake payload
func DecodeHandshake(payload []byte) (Handshake, error) {
	if err := checkPayload(payload, TypeHandshake, HandshakeSize); err != nil {
		return Handshake{}, err
	}
	r := newReader(payload[1:])
	h := Handshake{M1: r.u8(), M2: r.u8(), State: r.u8()}
	if r.err != nil {
		return Handshake{}, r.err
	}
	return h, nil
}

func (h Handshake) String() string {
	from := "-"
	if h.Sender != nil {
		from = h.Sender.String()
	}
	return fmt.Sprintf("HS{M1=%d M2=%d state=%s from=%s}", h.M1, h.M2, h.HostState(), from)
}

// Status is sent periodically by the host while a session is up
type Status struct {
	State uint8 // raw host-state code
}

// HostState maps the raw state code to a HostState
func (s Status) HostState() HostState {
	return HostStateFromWire(s.State)
}

// Encode returns the status payload (unframed)
func (s Status) Encode() []byte {
	w := newWriter(StatusSize)
	w.u8(TypeStatus)
	w.u8(s.State)
	return w.bytes()
}

// DecodeStatus decodes a status payload
func DecodeStatus(payload []byte) (Status, error) {
	if err := checkPayload(payload, TypeStatus, StatusSize); err != nil {
		return Status{}, err
	}
	return Status{State: payload[1]}, nil
}

func (s Status) String() string {
	return fmt.Sprintf("SP{state=%s}", s.HostState())
}
