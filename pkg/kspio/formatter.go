// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacketType returns the human-readable name for a packet type
func FormatPacketType(packetType uint8) string {
	switch packetType {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeVessel:
		return "VESSEL_DATA"
	case TypeStatus:
		return "STATUS"
	case TypeControl:
		return "CONTROL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", packetType)
	}
}

// FormatPayload decodes a payload by its discriminant and formats it into a
// human-readable line with a timestamp
func FormatPayload(ts time.Time, payload []byte) string {
	packetType, ok := PacketType(payload)
	if !ok {
		return fmt.Sprintf("[%s] EMPTY\n", ts.Format("15:04:05.000"))
	}

	result := fmt.Sprintf("[%s] %s (%d) len=%d\n", ts.Format("15:04:05.000"), FormatPacketType(packetType), packetType, len(payload))

	var body string
	var err error
	switch packetType {
	case TypeHandshake:
		var h Handshake
		if h, err = DecodeHandshake(payload); err == nil {
			body = h.String()
		}
	case TypeStatus:
		var s Status
		if s, err = DecodeStatus(payload); err == nil {
			body = s.String()
		}
	case TypeVessel:
		var v *VesselData
		if v, err = DecodeVesselData(payload); err == nil {
			body = FormatVesselData(v)
		}
	case TypeControl:
		var c *ControlPacket
		if c, err = DecodeControl(payload); err == nil {
			body = c.String()
		}
	default:
		body = fmt.Sprintf("% X", payload)
	}
	if err != nil {
		body = fmt.Sprintf("error: %v", err)
	}

	for _, line := range strings.Split(body, "\n") {
		result += "  " + line + "\n"
	}
	return result
}

// FormatVesselData formats the most useful telemetry fields over a few lines
func FormatVesselData(v *VesselData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MET %s  SOI %d  stage %d/%d  sync %d\n",
		FormatMissionTime(-int64(v.MissionTime)), v.SOINumber, v.CurrentStage, v.TotalStage, v.VesselSync)
	fmt.Fprintf(&b, "alt %s  ralt %s  vsurf %.1fm/s  vorbit %.1fm/s  vvi %.1fm/s\n",
		FormatDistance(v.Alt), FormatDistance(v.RAlt), v.VSurf, v.VOrbit, v.VVI)
	fmt.Fprintf(&b, "AP %s (%s)  PE %s (%s)  inc %.2f  e %.4f\n",
		FormatDistance(v.AP), FormatMissionTime(int64(v.TimeToAP)),
		FormatDistance(v.PE), FormatMissionTime(int64(v.TimeToPE)),
		v.Inclination, v.Eccentricity)
	fmt.Fprintf(&b, "pitch %.1f  roll %.1f  heading %.1f  SAS %s/%s\n",
		AngleDegrees(v.Pitch), AngleDegrees(v.Roll), AngleDegrees(v.Heading), v.SASMode(), v.NavballMode())
	fmt.Fprintf(&b, "SAS=%t RCS=%t light=%t gear=%t brakes=%t abort=%t",
		v.SAS(), v.RCS(), v.Light(), v.Gear(), v.Brakes(), v.Abort())
	return b.String()
}

// FormatMissionTime formats seconds as [+-]XyXdXhXmXs, dropping leading zero
// units. Positive values are in the future and print with a minus sign (a
// countdown); zero and negative values print with a plus sign.
func FormatMissionTime(t int64) string {
	sign := "-"
	if t <= 0 {
		sign = "+"
		t = -t
	}

	const (
		minute = 60
		hour   = 60 * minute
		day    = 24 * hour
		year   = 365 * day
	)

	y := t / year
	t %= year
	d := t / day
	t %= day
	h := t / hour
	t %= hour
	m := t / minute
	s := t % minute

	var b strings.Builder
	b.WriteString(sign)
	if y > 0 {
		fmt.Fprintf(&b, "%dy", y)
	}
	if y > 0 || d > 0 {
		fmt.Fprintf(&b, "%dd", d)
	}
	if y > 0 || d > 0 || h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if y > 0 || d > 0 || h > 0 || m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	fmt.Fprintf(&b, "%ds", s)
	return b.String()
}

// FormatDistance formats meters with m, k or M suffix
func FormatDistance(d float32) string {
	switch {
	case d < 100:
		return fmt.Sprintf("%.1fm", d)
	case d < 300000:
		return fmt.Sprintf("%.0fm", d)
	case d < 300000000:
		return fmt.Sprintf("%.0fk", d/1000)
	default:
		return fmt.Sprintf("%.0fM", d/1000000)
	}
}
