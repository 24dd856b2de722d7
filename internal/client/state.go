// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

// State is a state of the connection state machine.
type State int

const (
	StateInitialize State = iota
	StateWaitStart
	StateWaitBroadcast
	StateConnect
	StateHandshake
	StateActive
	StateRestart
	StateStop
)

// InactiveName is reported by StateName once the machine has been destroyed.
const InactiveName = "Inactive"

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "Initialize"
	case StateWaitStart:
		return "Wait for start command"
	case StateWaitBroadcast:
		return "Wait for broadcast"
	case StateConnect:
		return "Connect TCP client"
	case StateHandshake:
		return "Perform handshake"
	case StateActive:
		return "Active"
	case StateRestart:
		return "Restart TCP client"
	case StateStop:
		return "Shutdown TCP client"
	default:
		return "Unknown"
	}
}

// label is the metric label for the state
func (s State) label() string {
	switch s {
	case StateInitialize:
		return "initialize"
	case StateWaitStart:
		return "wait_start"
	case StateWaitBroadcast:
		return "wait_broadcast"
	case StateConnect:
		return "connect"
	case StateHandshake:
		return "handshake"
	case StateActive:
		return "active"
	case StateRestart:
		return "restart"
	case StateStop:
		return "stop"
	default:
		return "unknown"
	}
}
