// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package kspio implements the KSPEthernetIO wire protocol.
//
// KSPEthernetIO is a small binary protocol spoken between the game plugin
// (the host) and an external controller. Every record is wrapped in a frame
// carrying a two-byte header, a length byte and an XOR checksum. This package
// provides framing, a streaming frame decoder, and the fixed-layout codecs
// for every packet type.
package kspio

// Frame header bytes
const (
	Header1 = 0xBE
	Header2 = 0xEF
)

// Frame size limits
const (
	FrameOverhead  = 4 // header(2) + length + checksum
	MaxPayloadSize = 255
	MinFrameSize   = FrameOverhead
	MaxFrameSize   = MaxPayloadSize + FrameOverhead
)

// Packet types (first payload byte)
const (
	TypeHandshake = 0
	TypeVessel    = 1
	TypeStatus    = 2
	TypeControl   = 101
)

// Payload sizes
const (
	HandshakeSize = 4
	StatusSize    = 2
	ControlSize   = 26
	VesselSize    = 209
)

// Identification bytes the controller sends during the handshake
const (
	ClientM1    = 3
	ClientM2    = 1
	ClientState = 4
)

// HostState is the flight state reported by the host.
type HostState uint8

const (
	HostUndefined    HostState = 0
	HostInFlight     HostState = 1
	HostNotInFlight  HostState = 2
	HostDisconnected HostState = 0xFF // local only, never on the wire
)

// HostStateFromWire maps a wire code to a host state. Unknown codes are
// reported as HostUndefined.
func HostStateFromWire(code uint8) HostState {
	switch code {
	case 1:
		return HostInFlight
	case 2:
		return HostNotInFlight
	default:
		return HostUndefined
	}
}

func (s HostState) String() string {
	switch s {
	case HostInFlight:
		return "IN_FLIGHT"
	case HostNotInFlight:
		return "NOT_IN_FLIGHT"
	case HostDisconnected:
		return "DISCONNECTED"
	default:
		return "UNDEFINED"
	}
}

// SASMode is the low nibble of the navball/SAS byte.
type SASMode uint8

const (
	SASOff SASMode = iota
	SASRegular
	SASPrograde
	SASRetrograde
	SASNormal
	SASAntinormal
	SASRadialIn
	SASRadialOut
	SASTarget
	SASAntiTarget
	SASManeuver
	SASUnknown SASMode = 0x0F
)

func (m SASMode) String() string {
	switch m {
	case SASOff:
		return "OFF"
	case SASRegular:
		return "REGULAR"
	case SASPrograde:
		return "PROGRADE"
	case SASRetrograde:
		return "RETROGRADE"
	case SASNormal:
		return "NORMAL"
	case SASAntinormal:
		return "ANTINORMAL"
	case SASRadialIn:
		return "RADIAL_IN"
	case SASRadialOut:
		return "RADIAL_OUT"
	case SASTarget:
		return "TARGET"
	case SASAntiTarget:
		return "ANTI_TARGET"
	case SASManeuver:
		return "MANEUVER"
	default:
		return "UNKNOWN"
	}
}

func sasModeFromNibble(n uint8) SASMode {
	if n <= uint8(SASManeuver) {
		return SASMode(n)
	}
	return SASUnknown
}

// NavballMode is the high nibble of the navball/SAS byte.
type NavballMode uint8

const (
	NavballIgnore NavballMode = iota
	NavballOrbit
	NavballSurface
	NavballTarget
	NavballUnknown NavballMode = 0x0F
)

func (m NavballMode) String() string {
	switch m {
	case NavballIgnore:
		return "IGNORE"
	case NavballOrbit:
		return "ORBIT"
	case NavballSurface:
		return "SURFACE"
	case NavballTarget:
		return "TARGET"
	default:
		return "UNKNOWN"
	}
}

func navballModeFromNibble(n uint8) NavballMode {
	if n <= uint8(NavballTarget) {
		return NavballMode(n)
	}
	return NavballUnknown
}

// UIMode is the low nibble of the control mode byte.
type UIMode uint8

const (
	UIStage UIMode = iota
	UIDocking
	UIMap
	uiModeCount
)

func (m UIMode) String() string {
	switch m {
	case UIStage:
		return "STAGE"
	case UIDocking:
		return "DOCKING"
	case UIMap:
		return "MAP"
	default:
		return "UNKNOWN"
	}
}

// CameraMode is the high nibble of the control mode byte.
type CameraMode uint8

const (
	CameraAuto CameraMode = iota
	CameraFree
	CameraOrbital
	CameraChase
	CameraLocked
	cameraModeCount
)

func (m CameraMode) String() string {
	switch m {
	case CameraAuto:
		return "AUTO"
	case CameraFree:
		return "FREE"
	case CameraOrbital:
		return "ORBITAL"
	case CameraChase:
		return "CHASE"
	case CameraLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Axis identifies one of the nine signed control axes.
type Axis int

const (
	AxisPitch Axis = iota
	AxisRoll
	AxisYaw
	AxisTX
	AxisTY
	AxisTZ
	AxisWheelSteer
	AxisThrottle
	AxisWheelThrottle
	AxisCount
)

func (a Axis) String() string {
	switch a {
	case AxisPitch:
		return "PITCH"
	case AxisRoll:
		return "ROLL"
	case AxisYaw:
		return "YAW"
	case AxisTX:
		return "TX"
	case AxisTY:
		return "TY"
	case AxisTZ:
		return "TZ"
	case AxisWheelSteer:
		return "WHEEL_STEER"
	case AxisThrottle:
		return "THROTTLE"
	case AxisWheelThrottle:
		return "WHEEL_THROTTLE"
	default:
		return "UNKNOWN"
	}
}

// Main control bits (ControlPacket.MainControls)
const (
	MainStage     = 1 << 0
	MainAbort     = 1 << 1
	MainPrecision = 1 << 2
	MainBrakes    = 1 << 3
	MainGear      = 1 << 4
	MainLight     = 1 << 5
	MainRCS       = 1 << 6
	MainSAS       = 1 << 7
)

// Additional control bits (ControlPacket.Additional)
const (
	AdditionalMenu = 1 << 0
	AdditionalMap  = 1 << 1
)

// Telemetry action group bits (VesselData.ActionGroups)
const (
	AGSAS         = 1 << 0
	AGRCS         = 1 << 1
	AGLight       = 1 << 2
	AGGear        = 1 << 3
	AGBrakes      = 1 << 4
	AGAbort       = 1 << 5
	AGCustomShift = 6 // bit of custom group 0
	CustomGroups  = 10
)
