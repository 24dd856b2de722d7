// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMissionTime(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{0, "+0s"},
		{59, "-59s"},
		{-61, "+1m1s"},
		{3600, "-1h0m0s"},
		{-90061, "+1d1h1m1s"},
		{365*24*3600 + 1, "-1y0d0h0m1s"},
	}

	for _, tt := range tests {
		if got := FormatMissionTime(tt.seconds); got != tt.expected {
			t.Errorf("FormatMissionTime(%d): expected %q, got %q", tt.seconds, tt.expected, got)
		}
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters   float32
		expected string
	}{
		{12.34, "12.3m"},
		{99.9, "99.9m"},
		{1234, "1234m"},
		{299999, "299999m"},
		{300000, "300k"},
		{75000000, "75000k"},
		{300000000, "300M"},
	}

	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.expected {
			t.Errorf("FormatDistance(%v): expected %q, got %q", tt.meters, tt.expected, got)
		}
	}
}

func TestFormatPacketType(t *testing.T) {
	tests := []struct {
		packetType uint8
		expected   string
	}{
		{TypeHandshake, "HANDSHAKE"},
		{TypeVessel, "VESSEL_DATA"},
		{TypeStatus, "STATUS"},
		{TypeControl, "CONTROL"},
		{42, "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := FormatPacketType(tt.packetType); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestFormatPayload(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 30, 45, 0, time.UTC)

	out := FormatPayload(ts, Status{State: 1}.Encode())
	if !strings.HasPrefix(out, "[12:30:45.000] STATUS (2) len=2") {
		t.Errorf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "IN_FLIGHT") {
		t.Errorf("expected host state in output: %q", out)
	}

	out = FormatPayload(ts, []byte{TypeVessel, 1, 2})
	if !strings.Contains(out, "error:") {
		t.Errorf("short vessel payload should format as error: %q", out)
	}

	out = FormatPayload(ts, sampleVessel().Encode())
	if !strings.Contains(out, "MET +1h2m3s") {
		t.Errorf("expected mission time in output: %q", out)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateVesselData_Clean(t *testing.T) {
	if errs := ValidateVesselData(&VesselData{}); len(errs) != 0 {
		t.Errorf("zero snapshot should validate, got %v", errs)
	}
	v := sampleVessel()
	v.LiquidFuel, v.LiquidFuelTot = 50, 100
	v.Oxidizer, v.OxidizerTot = 60, 120
	v.ECharge, v.EChargeTot = 10, 10
	v.MonoProp, v.MonoPropTot = 1, 5
	v.IntakeAir, v.IntakeAirTot = 0, 0
	v.SolidFuel, v.SolidFuelTot = 0, 0
	v.XenonGas, v.XenonGasTot = 0, 0
	v.LiquidFuelS, v.LiquidFuelTotS = 5, 10
	v.OxidizerS, v.OxidizerTotS = 6, 12
	if errs := ValidateVesselData(v); len(errs) != 0 {
		t.Errorf("sample snapshot should validate, got %v", errs)
	}
}

func TestValidateVesselData_Anomalies(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(v *VesselData)
		expected AnomalyType
	}{
		{"NaN altitude", func(v *VesselData) { v.Alt = float32(math.NaN()) }, AnomalyNotFinite},
		{"negative fuel", func(v *VesselData) { v.LiquidFuel = -1 }, AnomalyNegativeResource},
		{"fuel over capacity", func(v *VesselData) { v.LiquidFuel, v.LiquidFuelTot = 20, 10 }, AnomalyResourceOverTotal},
		{"stage beyond total", func(v *VesselData) { v.CurrentStage, v.TotalStage = 5, 3 }, AnomalyStageOutOfRange},
		{"bad SAS nibble", func(v *VesselData) { v.NavballSASMode = 0x0E }, AnomalyInvalidMode},
		{"overheat", func(v *VesselData) { v.MaxOverHeat = 150 }, AnomalyOverheat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &VesselData{}
			tt.modify(v)
			errs := ValidateVesselData(v)
			if len(errs) != 1 {
				t.Fatalf("expected 1 anomaly, got %v", errs)
			}
			if errs[0].Type != tt.expected {
				t.Errorf("expected anomaly %d, got %d", tt.expected, errs[0].Type)
			}
		})
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update([]byte{TypeStatus, 1}, nil, nil)
	s.Update([]byte{TypeVessel}, nil, []ValidationError{{Type: AnomalyOverheat}})
	s.Update(nil, ErrChecksum, nil)
	s.Update(nil, ErrBadHeader, nil)
	s.Update(nil, &DecodeError{Type: TypeVessel}, nil)
	s.Update(nil, errors.New("other"), nil)

	if s.TotalFrames != 6 || s.ValidFrames != 2 {
		t.Errorf("frames: total=%d valid=%d", s.TotalFrames, s.ValidFrames)
	}
	if s.ChecksumErrors != 1 || s.FramingErrors != 1 || s.DecodeErrors != 2 {
		t.Errorf("errors: checksum=%d framing=%d decode=%d", s.ChecksumErrors, s.FramingErrors, s.DecodeErrors)
	}
	if s.AnomalousFrames != 1 {
		t.Errorf("expected 1 anomalous frame, got %d", s.AnomalousFrames)
	}
	if s.ByType[TypeStatus] != 1 || s.ByType[TypeVessel] != 1 {
		t.Errorf("by type: %v", s.ByType)
	}
	if s.TotalErrors() != 4 {
		t.Errorf("expected 4 errors, got %d", s.TotalErrors())
	}

	s.Reset()
	if s.TotalFrames != 0 || len(s.ByType) != 0 {
		t.Error("Reset should clear counters")
	}
}
