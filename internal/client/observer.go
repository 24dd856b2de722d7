// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import "github.com/kspethernetio/kspeth/pkg/kspio"

// Observer receives client notifications. Every method is called from the
// state machine goroutine and must not block; it may call back into the
// Client.
type Observer interface {
	// OnError reports a non-fatal error: a decode failure, a lost
	// connection or a failed send.
	OnError(err error)
	// OnTelemetry delivers every telemetry snapshot received while Active.
	OnTelemetry(v *kspio.VesselData)
	// OnStateChanged is called after the machine entered a new state.
	OnStateChanged(s State)
	// OnHostStateChanged is called when the host state changes.
	OnHostStateChanged(s kspio.HostState)
}

// ObserverFuncs adapts functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Error            func(err error)
	Telemetry        func(v *kspio.VesselData)
	StateChanged     func(s State)
	HostStateChanged func(s kspio.HostState)
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnTelemetry(v *kspio.VesselData) {
	if o.Telemetry != nil {
		o.Telemetry(v)
	}
}

func (o ObserverFuncs) OnStateChanged(s State) {
	if o.StateChanged != nil {
		o.StateChanged(s)
	}
}

func (o ObserverFuncs) OnHostStateChanged(s kspio.HostState) {
	if o.HostStateChanged != nil {
		o.HostStateChanged(s)
	}
}
