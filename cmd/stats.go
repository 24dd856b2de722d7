// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// throttleMax is the full-scale value of the throttle axis
const throttleMax = 1000

// formatStats renders link statistics for terminal output
func formatStats(s kspio.Statistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frames:    %s (%s valid, %.1f/s)\n",
		humanize.Comma(int64(s.TotalFrames)), humanize.Comma(int64(s.ValidFrames)), s.FrameRate)
	fmt.Fprintf(&b, "Bytes:     %s received, %s skipped\n",
		humanize.Bytes(s.BytesReceived), humanize.Bytes(s.BytesSkipped))
	fmt.Fprintf(&b, "Errors:    %d checksum, %d framing, %d decode\n",
		s.ChecksumErrors, s.FramingErrors, s.DecodeErrors)
	fmt.Fprintf(&b, "Anomalous: %d\n", s.AnomalousFrames)

	types := make([]int, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, int(t))
	}
	sort.Ints(types)
	for _, t := range types {
		fmt.Fprintf(&b, "  %-10s %s\n", kspio.FormatPacketType(uint8(t)), humanize.Comma(int64(s.ByType[uint8(t)])))
	}
	return b.String()
}

// formatTelemetry renders a one-line telemetry summary
func formatTelemetry(v *kspio.VesselData) string {
	return fmt.Sprintf("MET %s alt=%s v=%.1fm/s AP=%s PE=%s stage=%d/%d SAS=%s",
		kspio.FormatMissionTime(-int64(v.MissionTime)),
		kspio.FormatDistance(v.Alt),
		v.VSurf,
		kspio.FormatDistance(v.AP),
		kspio.FormatDistance(v.PE),
		v.CurrentStage, v.TotalStage,
		sasLabel(v))
}

func sasLabel(v *kspio.VesselData) string {
	if !v.SAS() {
		return "off"
	}
	return v.SASMode().String()
}
