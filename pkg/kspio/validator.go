// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalyNotFinite AnomalyType = iota
	AnomalyNegativeResource
	AnomalyResourceOverTotal
	AnomalyStageOutOfRange
	AnomalyInvalidMode
	AnomalyOverheat
)

// ValidationError describes one implausible value in a telemetry snapshot.
// Anomalies are informational; the snapshot is still delivered.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateVesselData checks a snapshot for values the host should never send
func ValidateVesselData(v *VesselData) []ValidationError {
	errors := []ValidationError{}

	floats := []struct {
		name  string
		value float32
	}{
		{"AP", v.AP}, {"PE", v.PE}, {"Alt", v.Alt}, {"RAlt", v.RAlt},
		{"VSurf", v.VSurf}, {"VOrbit", v.VOrbit}, {"VVI", v.VVI},
		{"Lat", v.Lat}, {"Lon", v.Lon}, {"IAS", v.IAS}, {"MachNumber", v.MachNumber},
	}
	for _, f := range floats {
		if math.IsNaN(float64(f.value)) || math.IsInf(float64(f.value), 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNotFinite,
				Message: fmt.Sprintf("%s is not finite (%v)", f.name, f.value),
				Details: map[string]interface{}{"field": f.name},
			})
		}
	}

	pairs := []struct {
		name   string
		amount float32
		total  float32
	}{
		{"LiquidFuel", v.LiquidFuel, v.LiquidFuelTot},
		{"Oxidizer", v.Oxidizer, v.OxidizerTot},
		{"ECharge", v.ECharge, v.EChargeTot},
		{"MonoProp", v.MonoProp, v.MonoPropTot},
		{"IntakeAir", v.IntakeAir, v.IntakeAirTot},
		{"SolidFuel", v.SolidFuel, v.SolidFuelTot},
		{"XenonGas", v.XenonGas, v.XenonGasTot},
		{"LiquidFuelS", v.LiquidFuelS, v.LiquidFuelTotS},
		{"OxidizerS", v.OxidizerS, v.OxidizerTotS},
	}
	for _, p := range pairs {
		if p.amount < 0 || p.total < 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyNegativeResource,
				Message: fmt.Sprintf("%s negative: %.2f/%.2f", p.name, p.amount, p.total),
				Details: map[string]interface{}{"resource": p.name, "amount": p.amount, "total": p.total},
			})
			continue
		}
		// Small float slack: the host rounds amount and total independently.
		if p.amount > p.total*1.001+0.01 {
			errors = append(errors, ValidationError{
				Type:    AnomalyResourceOverTotal,
				Message: fmt.Sprintf("%s exceeds capacity: %.2f/%.2f", p.name, p.amount, p.total),
				Details: map[string]interface{}{"resource": p.name, "amount": p.amount, "total": p.total},
			})
		}
	}

	if v.CurrentStage > v.TotalStage {
		errors = append(errors, ValidationError{
			Type:    AnomalyStageOutOfRange,
			Message: fmt.Sprintf("Stage %d beyond total %d", v.CurrentStage, v.TotalStage),
			Details: map[string]interface{}{"current": v.CurrentStage, "total": v.TotalStage},
		})
	}

	if v.SASMode() == SASUnknown || v.NavballMode() == NavballUnknown {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidMode,
			Message: fmt.Sprintf("Invalid navball/SAS byte 0x%02X", v.NavballSASMode),
			Details: map[string]interface{}{"value": v.NavballSASMode},
		})
	}

	if v.MaxOverHeat > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverheat,
			Message: fmt.Sprintf("MaxOverHeat=%d%% (max 100)", v.MaxOverHeat),
			Details: map[string]interface{}{"value": v.MaxOverHeat},
		})
	}

	return errors
}
