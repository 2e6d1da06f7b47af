// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sample defines the canonical dyno Sample record produced by
// both IngestNormalizer (pkg/ingest) and LiveIngest (pkg/liveingest),
// and consumed by BinningCorrector (pkg/binning).
package sample

import "math"

// Cylinder identifies one of the two cylinders of the engine.
type Cylinder int

const (
	CylinderFront Cylinder = iota
	CylinderRear
)

// PlausibilityWindow bounds measured AFR; values outside it cause the
// sample to be rejected, not clamped.
type PlausibilityWindow struct {
	Min, Max float64
}

// DefaultPlausibilityWindow is the default [11.0, 15.0].
var DefaultPlausibilityWindow = PlausibilityWindow{Min: 11.0, Max: 15.0}

// Sample is an immutable record of one dyno-log row or live-telemetry
// frame, fully decoded into physical units.
type Sample struct {
	RPM            float64
	MAPKPa         float64
	CommandedAFR   [2]float64 // [CylinderFront, CylinderRear]
	MeasuredAFR    [2]float64
	IntakeAirTempC float64
	Torque         float64
	KnockIntensity float64
	TimestampMS    int64
}

// Valid reports whether every required numeric field is finite and
// measured AFR values lie within the plausibility window. It does not
// mutate or clamp; callers must reject invalid samples outright.
func (s Sample) Valid(window PlausibilityWindow) bool {
	fields := []float64{
		s.RPM, s.MAPKPa,
		s.CommandedAFR[0], s.CommandedAFR[1],
		s.MeasuredAFR[0], s.MeasuredAFR[1],
		s.IntakeAirTempC, s.Torque, s.KnockIntensity,
	}
	for _, v := range fields {
		if !isFinite(v) {
			return false
		}
	}
	for _, afr := range s.MeasuredAFR {
		if afr < window.Min || afr > window.Max {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
