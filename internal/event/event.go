// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package event defines the events passed between the client's I/O loops,
// the packet dispatcher and the connection state machine.
//
// Every event carries the ID of the component instance that produced it, so
// the state machine can ignore late events from a listener or transport it
// has already replaced.
package event

import (
	"net"
	"sync/atomic"

	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// Event is one of DiscoveryEvent, TransportEvent, PacketEvent or CommandEvent.
type Event interface {
	isEvent()
}

var lastID atomic.Uint64

// NextID returns a process-unique component instance ID. Zero is never
// returned, so it can mean "no component".
func NextID() uint64 {
	return lastID.Add(1)
}

// DiscoveryKind is the variant of a DiscoveryEvent
type DiscoveryKind int

const (
	DiscoveryStarted DiscoveryKind = iota
	DiscoveryCanceled
	DiscoveryReceived
)

func (k DiscoveryKind) String() string {
	switch k {
	case DiscoveryStarted:
		return "Started"
	case DiscoveryCanceled:
		return "Canceled"
	case DiscoveryReceived:
		return "Received"
	default:
		return "Unknown"
	}
}

// DiscoveryEvent is emitted by the UDP discovery listener.
type DiscoveryEvent struct {
	Kind   DiscoveryKind
	Source uint64
	Data   []byte   // Received
	From   net.Addr // Received
	Err    error    // Canceled; nil for a requested cancel
}

// TransportKind is the variant of a TransportEvent
type TransportKind int

const (
	TransportConnected TransportKind = iota
	TransportDisconnected
	TransportReceived
)

func (k TransportKind) String() string {
	switch k {
	case TransportConnected:
		return "Connected"
	case TransportDisconnected:
		return "Disconnected"
	case TransportReceived:
		return "Received"
	default:
		return "Unknown"
	}
}

// TransportEvent is emitted by the stream transport.
type TransportEvent struct {
	Kind   TransportKind
	Source uint64
	Data   []byte // Received
	Err    error  // Disconnected; nil for a requested cancel
}

// PacketKind is the variant of a PacketEvent
type PacketKind int

const (
	HandshakeDecoded PacketKind = iota
	StatusDecoded
	TelemetryDecoded
	DecodeFailed
)

func (k PacketKind) String() string {
	switch k {
	case HandshakeDecoded:
		return "HandshakeDecoded"
	case StatusDecoded:
		return "StatusDecoded"
	case TelemetryDecoded:
		return "TelemetryDecoded"
	case DecodeFailed:
		return "DecodeFailed"
	default:
		return "Unknown"
	}
}

// PacketEvent is emitted by the dispatcher for every decoded packet or
// decode failure. Source is the listener or transport the bytes came from.
type PacketEvent struct {
	Kind      PacketKind
	Source    uint64
	Handshake kspio.Handshake   // HandshakeDecoded
	Status    kspio.Status      // StatusDecoded
	Vessel    *kspio.VesselData // TelemetryDecoded
	Err       error             // DecodeFailed
}

// Command is an operator request to the state machine
type Command int

const (
	CommandStart Command = iota
	CommandStop
	CommandReset
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "Start"
	case CommandStop:
		return "Stop"
	case CommandReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// CommandEvent carries an operator command. Source is the client the
// command was issued to.
type CommandEvent struct {
	Command Command
	Source  uint64
}

func (DiscoveryEvent) isEvent() {}
func (TransportEvent) isEvent() {}
func (PacketEvent) isEvent()    {}
func (CommandEvent) isEvent()   {}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Post(ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev Event)

// Post calls f(ev)
func (f SinkFunc) Post(ev Event) {
	f(ev)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Tee returns a Sink that posts every event to each of sinks in order.
// Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return SinkFunc(func(ev Event) {
		for _, s := range out {
			s.Post(ev)
		}
	})
}
