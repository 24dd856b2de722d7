// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import "fmt"

// ControlPacket carries the controller's intent to the host. A controller
// keeps one for the life of a session and mutates it through the setters;
// the zero value is a valid packet with everything off.
//
// ControlPacket is not safe for concurrent use.
type ControlPacket struct {
	MainControls   uint8  // see Main* bits
	Mode           uint8  // low nibble UI mode, high nibble camera mode
	ControlGroups  uint16 // bit n+1 is custom action group n
	NavballSASMode uint8  // low nibble SAS mode, high nibble navball mode
	Additional     uint8  // see Additional* bits
	Axes           [AxisCount]int16
	VesselSync     uint8  // mirrored from the last VesselData
}

func (c *ControlPacket) setMain(bit uint8, on bool) {
	if on {
		c.MainControls |= bit
	} else {
		c.MainControls &^= bit
	}
}

func (c ControlPacket) main(bit uint8) bool {
	return c.MainControls&bit != 0
}

func (c *ControlPacket) SetSAS(on bool)       { c.setMain(MainSAS, on) }
func (c *ControlPacket) SetRCS(on bool)       { c.setMain(MainRCS, on) }
func (c *ControlPacket) SetLight(on bool)     { c.setMain(MainLight, on) }
func (c *ControlPacket) SetGear(on bool)      { c.setMain(MainGear, on) }
func (c *ControlPacket) SetBrakes(on bool)    { c.setMain(MainBrakes, on) }
func (c *ControlPacket) SetPrecision(on bool) { c.setMain(MainPrecision, on) }

func (c ControlPacket) SAS() bool       { return c.main(MainSAS) }
func (c ControlPacket) RCS() bool       { return c.main(MainRCS) }
func (c ControlPacket) Light() bool     { return c.main(MainLight) }
func (c ControlPacket) Gear() bool      { return c.main(MainGear) }
func (c ControlPacket) Brakes() bool    { return c.main(MainBrakes) }
func (c ControlPacket) Precision() bool { return c.main(MainPrecision) }
func (c ControlPacket) Abort() bool     { return c.main(MainAbort) }
func (c ControlPacket) Stage() bool     { return c.main(MainStage) }

// TriggerAbort requests an abort. It stays set until ClearOneShot.
func (c *ControlPacket) TriggerAbort() { c.setMain(MainAbort, true) }

// TriggerStage requests staging. It stays set until ClearOneShot.
func (c *ControlPacket) TriggerStage() { c.setMain(MainStage, true) }

// ClearOneShot clears abort and stage. Call after every send.
func (c *ControlPacket) ClearOneShot() {
	c.MainControls &^= MainAbort | MainStage
}

// SetControlGroup sets raw control group bit i (0-15)
func (c *ControlPacket) SetControlGroup(i int, on bool) {
	if i < 0 || i > 15 {
		return
	}
	if on {
		c.ControlGroups |= 1 << i
	} else {
		c.ControlGroups &^= 1 << i
	}
}

// ControlGroup reports raw control group bit i (0-15)
func (c ControlPacket) ControlGroup(i int) bool {
	if i < 0 || i > 15 {
		return false
	}
	return c.ControlGroups&(1<<i) != 0
}

// SetActionGroup sets custom action group n (0-9), carried in control group n+1
func (c *ControlPacket) SetActionGroup(n int, on bool) {
	if n < 0 || n >= CustomGroups {
		return
	}
	c.SetControlGroup(n+1, on)
}

// ActionGroup reports custom action group n (0-9)
func (c ControlPacket) ActionGroup(n int) bool {
	if n < 0 || n >= CustomGroups {
		return false
	}
	return c.ControlGroup(n + 1)
}

// SetSASMode writes the low nibble of NavballSASMode. Off and Unknown both
// clear it, which the host reads as "leave unchanged".
func (c *ControlPacket) SetSASMode(m SASMode) {
	c.NavballSASMode &^= 0x0F
	if m > SASOff && m <= SASManeuver {
		c.NavballSASMode |= uint8(m)
	}
}

// SASMode decodes the low nibble of NavballSASMode
func (c ControlPacket) SASMode() SASMode {
	return sasModeFromNibble(c.NavballSASMode & 0x0F)
}

// SetNavballMode writes the high nibble of NavballSASMode
func (c *ControlPacket) SetNavballMode(m NavballMode) {
	c.NavballSASMode &^= 0xF0
	if m <= NavballTarget {
		c.NavballSASMode |= uint8(m) << 4
	}
}

// NavballMode decodes the high nibble of NavballSASMode
func (c ControlPacket) NavballMode() NavballMode {
	return navballModeFromNibble(c.NavballSASMode >> 4)
}

// RotateNavballMode steps Orbit -> Surface -> Target -> Orbit. Target is
// skipped when no target is set.
func (c *ControlPacket) RotateNavballMode(targetSet bool) {
	switch c.NavballMode() {
	case NavballIgnore, NavballOrbit:
		c.SetNavballMode(NavballSurface)
	case NavballSurface:
		if targetSet {
			c.SetNavballMode(NavballTarget)
		} else {
			c.SetNavballMode(NavballOrbit)
		}
	default:
		c.SetNavballMode(NavballOrbit)
	}
}

// SetUIMode writes the low nibble of Mode
func (c *ControlPacket) SetUIMode(m UIMode) {
	if m >= uiModeCount {
		return
	}
	c.Mode = c.Mode&0xF0 | uint8(m)
}

// UIMode decodes the low nibble of Mode
func (c ControlPacket) UIMode() UIMode {
	return UIMode(c.Mode & 0x0F)
}

// RotateUIMode steps through the UI modes, wrapping around
func (c *ControlPacket) RotateUIMode() {
	c.SetUIMode((c.UIMode() + 1) % uiModeCount)
}

// SetCameraMode writes the high nibble of Mode
func (c *ControlPacket) SetCameraMode(m CameraMode) {
	if m >= cameraModeCount {
		return
	}
	c.Mode = c.Mode&0x0F | uint8(m)<<4
}

// CameraMode decodes the high nibble of Mode
func (c ControlPacket) CameraMode() CameraMode {
	return CameraMode(c.Mode >> 4)
}

// RotateCameraMode steps through the camera modes, wrapping around
func (c *ControlPacket) RotateCameraMode() {
	c.SetCameraMode((c.CameraMode() + 1) % cameraModeCount)
}

// ToggleMenu flips the menu bit of the additional control byte
func (c *ControlPacket) ToggleMenu() {
	c.Additional ^= AdditionalMenu
}

// ToggleMap flips the map bit of the additional control byte
func (c *ControlPacket) ToggleMap() {
	c.Additional ^= AdditionalMap
}

// SetAxis sets one of the nine signed axes
func (c *ControlPacket) SetAxis(a Axis, value int16) {
	if a < 0 || a >= AxisCount {
		return
	}
	c.Axes[a] = value
}

// Axis returns the value of a signed axis
func (c ControlPacket) Axis(a Axis) int16 {
	if a < 0 || a >= AxisCount {
		return 0
	}
	return c.Axes[a]
}

// SyncNewVessel copies the vessel's switch states into the packet and
// adopts its sync token. Call when HasVesselChanged reports true so the
// controller does not fight the state of a freshly selected vessel.
func (c *ControlPacket) SyncNewVessel(v *VesselData) {
	for i := 0; i < CustomGroups; i++ {
		c.SetActionGroup(i, v.ActionGroup(i))
	}
	c.SetLight(v.Light())
	c.SetGear(v.Gear())
	c.SetBrakes(v.Brakes())
	c.SetRCS(v.RCS())
	c.SetSAS(v.SAS())
	c.SetSASMode(v.SASMode())

	c.Additional = 0
	c.Mode = 0

	c.VesselSync = v.VesselSync
}

// ForceResync makes the next telemetry snapshot count as a vessel change
func (c *ControlPacket) ForceResync() {
	c.VesselSync = 0
}

// HasVesselChanged reports whether v belongs to a different vessel than the
// one last synchronized
func (c *ControlPacket) HasVesselChanged(v *VesselData) bool {
	return c.VesselSync != v.VesselSync
}

// Encode returns the control payload (unframed)
func (c *ControlPacket) Encode() []byte {
	w := newWriter(ControlSize)
	w.u8(TypeControl)
	w.u8(c.MainControls)
	w.u8(c.Mode)
	w.u16(c.ControlGroups)
	w.u8(c.NavballSASMode)
	w.u8(c.Additional)
	for _, v := range c.Axes {
		w.i16(v)
	}
	w.u8(c.VesselSync)
	return w.bytes()
}

// DecodeControl decodes a control payload
func DecodeControl(payload []byte) (*ControlPacket, error) {
	if err := checkPayload(payload, TypeControl, ControlSize); err != nil {
		return nil, err
	}

	r := newReader(payload[1:])
	c := &ControlPacket{}
	c.MainControls = r.u8()
	c.Mode = r.u8()
	c.ControlGroups = r.u16()
	c.NavballSASMode = r.u8()
	c.Additional = r.u8()
	for i := range c.Axes {
		c.Axes[i] = r.i16()
	}
	c.VesselSync = r.u8()

	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func (c ControlPacket) String() string {
	return fmt.Sprintf("CP{main=0x%02X ui=%s cam=%s groups=0x%04X sas=%s navball=%s add=0x%02X axes=%v sync=%d}",
		c.MainControls, c.UIMode(), c.CameraMode(), c.ControlGroups, c.SASMode(), c.NavballMode(),
		c.Additional, c.Axes, c.VesselSync)
}
