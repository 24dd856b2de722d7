// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"sync"

	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// Controls is the control intent sent to the host on every refresh. It is
// safe for concurrent use: the UI mutates it while the state machine
// encodes and sends it.
type Controls struct {
	mu sync.Mutex
	p  kspio.ControlPacket
}

func (c *Controls) with(fn func(p *kspio.ControlPacket)) {
	c.mu.Lock()
	fn(&c.p)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current packet
func (c *Controls) Snapshot() kspio.ControlPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p
}

func (c *Controls) SetLight(on bool)  { c.with(func(p *kspio.ControlPacket) { p.SetLight(on) }) }
func (c *Controls) SetGear(on bool)   { c.with(func(p *kspio.ControlPacket) { p.SetGear(on) }) }
func (c *Controls) SetBrakes(on bool) { c.with(func(p *kspio.ControlPacket) { p.SetBrakes(on) }) }
func (c *Controls) SetRCS(on bool)    { c.with(func(p *kspio.ControlPacket) { p.SetRCS(on) }) }

func (c *Controls) SetPrecision(on bool) {
	c.with(func(p *kspio.ControlPacket) { p.SetPrecision(on) })
}

// SetSAS switches SAS and selects Regular mode when switching on, Off when
// switching off.
func (c *Controls) SetSAS(on bool) {
	c.with(func(p *kspio.ControlPacket) { setSAS(p, on) })
}

func setSAS(p *kspio.ControlPacket, on bool) {
	p.SetSAS(on)
	if on {
		p.SetSASMode(kspio.SASRegular)
	} else {
		p.SetSASMode(kspio.SASOff)
	}
}

func (c *Controls) ToggleLight()  { c.with(func(p *kspio.ControlPacket) { p.SetLight(!p.Light()) }) }
func (c *Controls) ToggleGear()   { c.with(func(p *kspio.ControlPacket) { p.SetGear(!p.Gear()) }) }
func (c *Controls) ToggleBrakes() { c.with(func(p *kspio.ControlPacket) { p.SetBrakes(!p.Brakes()) }) }
func (c *Controls) ToggleRCS()    { c.with(func(p *kspio.ControlPacket) { p.SetRCS(!p.RCS()) }) }
func (c *Controls) ToggleSAS()    { c.with(func(p *kspio.ControlPacket) { setSAS(p, !p.SAS()) }) }

func (c *Controls) TogglePrecision() {
	c.with(func(p *kspio.ControlPacket) { p.SetPrecision(!p.Precision()) })
}

// SetActionGroup sets custom action group n (0-9)
func (c *Controls) SetActionGroup(n int, on bool) {
	c.with(func(p *kspio.ControlPacket) { p.SetActionGroup(n, on) })
}

// ToggleActionGroup flips custom action group n (0-9)
func (c *Controls) ToggleActionGroup(n int) {
	c.with(func(p *kspio.ControlPacket) { p.SetActionGroup(n, !p.ActionGroup(n)) })
}

// SetSASMode selects the SAS hold mode. Selecting a mode other than Off
// does not switch SAS on.
func (c *Controls) SetSASMode(m kspio.SASMode) {
	c.with(func(p *kspio.ControlPacket) { p.SetSASMode(m) })
}

func (c *Controls) TriggerAbort()     { c.with(func(p *kspio.ControlPacket) { p.TriggerAbort() }) }
func (c *Controls) TriggerStage()     { c.with(func(p *kspio.ControlPacket) { p.TriggerStage() }) }
func (c *Controls) RotateCameraMode() { c.with(func(p *kspio.ControlPacket) { p.RotateCameraMode() }) }
func (c *Controls) RotateUIMode()     { c.with(func(p *kspio.ControlPacket) { p.RotateUIMode() }) }
func (c *Controls) ToggleMenu()       { c.with(func(p *kspio.ControlPacket) { p.ToggleMenu() }) }
func (c *Controls) ToggleMap()        { c.with(func(p *kspio.ControlPacket) { p.ToggleMap() }) }

// RotateNavballMode steps the navball mode. Target is offered only when
// targetSet is true, see kspio.VesselData.TargetSet.
func (c *Controls) RotateNavballMode(targetSet bool) {
	c.with(func(p *kspio.ControlPacket) { p.RotateNavballMode(targetSet) })
}

// SetAxis sets one signed control axis
func (c *Controls) SetAxis(a kspio.Axis, value int16) {
	c.with(func(p *kspio.ControlPacket) { p.SetAxis(a, value) })
}

func (c *Controls) forceResync() {
	c.with(func(p *kspio.ControlPacket) { p.ForceResync() })
}

// syncVessel adopts the state of v if it belongs to a different vessel
func (c *Controls) syncVessel(v *kspio.VesselData) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.p.HasVesselChanged(v) {
		return false
	}
	c.p.SyncNewVessel(v)
	return true
}

// send encodes the packet, hands it to fn and clears the one-shot bits if
// fn succeeds. The lock is held throughout so a trigger can not slip in
// between the send and the clear.
func (c *Controls) send(fn func(payload []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.p.Encode()); err != nil {
		return err
	}
	c.p.ClearOneShot()
	return nil
}
