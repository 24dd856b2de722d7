// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

// VesselData is one telemetry snapshot streamed by the host. Fields are
// listed in wire order. A decoded value is never modified; the next snapshot
// replaces it.
type VesselData struct {
	AP            float32 // apoapsis (m)
	PE            float32 // periapsis (m)
	SemiMajorAxis float32
	SemiMinorAxis float32
	VVI           float32 // vertical velocity (m/s)
	Eccentricity  float32
	Inclination   float32
	Gravity       float32
	TimeToAP      int32 // seconds
	TimeToPE      int32 // seconds
	TrueAnomaly   float32
	Density       float32
	Period        int32 // seconds
	RAlt          float32 // radar altitude (m)
	Alt           float32 // altitude above sea level (m)
	VSurf         float32 // surface velocity (m/s)
	Lat           float32
	Lon           float32

	LiquidFuelTot  float32
	LiquidFuel     float32
	OxidizerTot    float32
	Oxidizer       float32
	EChargeTot     float32
	ECharge        float32
	MonoPropTot    float32
	MonoProp       float32
	IntakeAirTot   float32
	IntakeAir      float32
	SolidFuelTot   float32
	SolidFuel      float32
	XenonGasTot    float32
	XenonGas       float32
	LiquidFuelTotS float32 // current stage
	LiquidFuelS    float32
	OxidizerTotS   float32
	OxidizerS      float32

	MissionTime  uint32 // seconds
	DeltaTime    float32
	VOrbit       float32 // orbital velocity (m/s)
	MNTime       uint32  // seconds to maneuver node
	MNDeltaV     float32 // maneuver delta-v (m/s)
	Pitch        uint16  // scaled angle, see AngleDegrees
	Roll         uint16
	Heading      uint16
	ActionGroups uint16
	SOINumber    uint8
	MaxOverHeat  uint8 // percent
	MachNumber   float32
	IAS          float32 // indicated airspeed (m/s)
	CurrentStage uint8
	TotalStage   uint8
	TargetDist   float32
	TargetV      float32

	NavballSASMode  uint8 // low nibble SAS mode, high nibble navball mode
	ProgradePitch   uint16
	ProgradeHeading uint16
	ManeuverPitch   uint16
	ManeuverHeading uint16
	TargetPitch     uint16
	TargetHeading   uint16
	NormalHeading   uint16

	VesselSync uint8 // changes when the active vessel changes
}

// ActionGroup returns custom action group n (0-9). Out of range groups
// report false.
func (v *VesselData) ActionGroup(n int) bool {
	if n < 0 || n >= CustomGroups {
		return false
	}
	return v.ActionGroups&(1<<(AGCustomShift+n)) != 0
}

func (v *VesselData) SAS() bool    { return v.ActionGroups&AGSAS != 0 }
func (v *VesselData) RCS() bool    { return v.ActionGroups&AGRCS != 0 }
func (v *VesselData) Light() bool  { return v.ActionGroups&AGLight != 0 }
func (v *VesselData) Gear() bool   { return v.ActionGroups&AGGear != 0 }
func (v *VesselData) Brakes() bool { return v.ActionGroups&AGBrakes != 0 }
func (v *VesselData) Abort() bool  { return v.ActionGroups&AGAbort != 0 }

// SASMode decodes the low nibble of NavballSASMode
func (v *VesselData) SASMode() SASMode {
	return sasModeFromNibble(v.NavballSASMode & 0x0F)
}

// NavballMode decodes the high nibble of NavballSASMode
func (v *VesselData) NavballMode() NavballMode {
	return navballModeFromNibble(v.NavballSASMode >> 4)
}

// TargetSet reports whether a target appears to be selected. The host sends
// no flag for this; a target direction of exactly zero pitch and zero
// heading is read as "no target", so a target dead ahead at heading 0 is
// indistinguishable from none.
func (v *VesselData) TargetSet() bool {
	return v.TargetPitch != 0 || v.TargetHeading != 0
}

// ManeuverSet reports whether a maneuver node appears to exist. Same
// zero-vector heuristic as TargetSet.
func (v *VesselData) ManeuverSet() bool {
	return v.ManeuverPitch != 0 || v.ManeuverHeading != 0
}

// AngleDegrees converts a scaled wire angle to degrees (0-360)
func AngleDegrees(raw uint16) float64 {
	return 360.0 * float64(raw) / 65535.0
}

// Encode returns the telemetry payload (unframed)
func (v *VesselData) Encode() []byte {
	w := newWriter(VesselSize)
	w.u8(TypeVessel)
	w.f32(v.AP)
	w.f32(v.PE)
	w.f32(v.SemiMajorAxis)
	w.f32(v.SemiMinorAxis)
	w.f32(v.VVI)
	w.f32(v.Eccentricity)
	w.f32(v.Inclination)
	w.f32(v.Gravity)
	w.i32(v.TimeToAP)
	w.i32(v.TimeToPE)
	w.f32(v.TrueAnomaly)
	w.f32(v.Density)
	w.i32(v.Period)
	w.f32(v.RAlt)
	w.f32(v.Alt)
	w.f32(v.VSurf)
	w.f32(v.Lat)
	w.f32(v.Lon)
	for _, f := range v.resources() {
		w.f32(*f)
	}
	w.u32(v.MissionTime)
	w.f32(v.DeltaTime)
	w.f32(v.VOrbit)
	w.u32(v.MNTime)
	w.f32(v.MNDeltaV)
	w.u16(v.Pitch)
	w.u16(v.Roll)
	w.u16(v.Heading)
	w.u16(v.ActionGroups)
	w.u8(v.SOINumber)
	w.u8(v.MaxOverHeat)
	w.f32(v.MachNumber)
	w.f32(v.IAS)
	w.u8(v.CurrentStage)
	w.u8(v.TotalStage)
	w.f32(v.TargetDist)
	w.f32(v.TargetV)
	w.u8(v.NavballSASMode)
	w.u16(v.ProgradePitch)
	w.u16(v.ProgradeHeading)
	w.u16(v.ManeuverPitch)
	w.u16(v.ManeuverHeading)
	w.u16(v.TargetPitch)
	w.u16(v.TargetHeading)
	w.u16(v.NormalHeading)
	w.u8(v.VesselSync)
	return w.bytes()
}

// DecodeVesselData decodes a telemetry payload
func DecodeVesselData(payload []byte) (*VesselData, error) {
	if err := checkPayload(payload, TypeVessel, VesselSize); err != nil {
		return nil, err
	}

	r := newReader(payload[1:])
	v := &VesselData{}
	v.AP = r.f32()
	v.PE = r.f32()
	v.SemiMajorAxis = r.f32()
	v.SemiMinorAxis = r.f32()
	v.VVI = r.f32()
	v.Eccentricity = r.f32()
	v.Inclination = r.f32()
	v.Gravity = r.f32()
	v.TimeToAP = r.i32()
	v.TimeToPE = r.i32()
	v.TrueAnomaly = r.f32()
	v.Density = r.f32()
	v.Period = r.i32()
	v.RAlt = r.f32()
	v.Alt = r.f32()
	v.VSurf = r.f32()
	v.Lat = r.f32()
	v.Lon = r.f32()
	for _, f := range v.resources() {
		*f = r.f32()
	}
	v.MissionTime = r.u32()
	v.DeltaTime = r.f32()
	v.VOrbit = r.f32()
	v.MNTime = r.u32()
	v.MNDeltaV = r.f32()
	v.Pitch = r.u16()
	v.Roll = r.u16()
	v.Heading = r.u16()
	v.ActionGroups = r.u16()
	v.SOINumber = r.u8()
	v.MaxOverHeat = r.u8()
	v.MachNumber = r.f32()
	v.IAS = r.f32()
	v.CurrentStage = r.u8()
	v.TotalStage = r.u8()
	v.TargetDist = r.f32()
	v.TargetV = r.f32()
	v.NavballSASMode = r.u8()
	v.ProgradePitch = r.u16()
	v.ProgradeHeading = r.u16()
	v.ManeuverPitch = r.u16()
	v.ManeuverHeading = r.u16()
	v.TargetPitch = r.u16()
	v.TargetHeading = r.u16()
	v.NormalHeading = r.u16()
	v.VesselSync = r.u8()

	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// resources lists the resource fields in wire order
func (v *VesselData) resources() []*float32 {
	return []*float32{
		&v.LiquidFuelTot, &v.LiquidFuel,
		&v.OxidizerTot, &v.Oxidizer,
		&v.EChargeTot, &v.ECharge,
		&v.MonoPropTot, &v.MonoProp,
		&v.IntakeAirTot, &v.IntakeAir,
		&v.SolidFuelTot, &v.SolidFuel,
		&v.XenonGasTot, &v.XenonGas,
		&v.LiquidFuelTotS, &v.LiquidFuelS,
		&v.OxidizerTotS, &v.OxidizerS,
	}
}
