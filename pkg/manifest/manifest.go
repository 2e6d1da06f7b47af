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

// Package manifest defines the JSON run record a calibration analysis
// produces, and the small sidecar apply records. Field order is fixed by
// struct declaration order (encoding/json preserves it), so two runs over
// identical input produce byte-identical manifest bytes and therefore an
// identical digest.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/hashcodec"
	"github.com/kraklabs/dynocal/pkg/pathguard"
)

// Status is the terminal outcome of an analysis run.
type Status struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Stats summarizes how much of the input and grid were usable.
type Stats struct {
	RowsRead    int `json:"rows_read"`
	RowsDropped int `json:"rows_dropped"`
	BinsTotal   int `json:"bins_total"`
	BinsCovered int `json:"bins_covered"`
}

// Timing records the wall-clock span of the run, in RFC 3339 UTC.
type Timing struct {
	StartUTC string `json:"start_utc"`
	EndUTC   string `json:"end_utc"`
}

// KernelFingerprint freezes the AdaptiveSmoother parameters and the
// BinningCorrector math version that produced this run's corrections, so
// a later diff between two manifests can attribute any numeric drift to
// an intentional math-version change rather than silent parameter skew.
type KernelFingerprint struct {
	MathVersion         string  `json:"math_version"`
	ClampLimit          float64 `json:"clamp_limit"`
	SmoothBasePasses    int     `json:"smooth_base_passes"`
	SmoothGradientLimit float64 `json:"smooth_gradient_limit"`
	Stage3CenterBias    float64 `json:"stage3_center_bias"`
	Stage3DistancePower float64 `json:"stage3_distance_power"`
	Stage3BlendAlpha    float64 `json:"stage3_blend_alpha"`
}

// ApplyInfo records whether, and with what, this run's correction may be
// applied. Nil when the run's status forbids apply.
type ApplyInfo struct {
	Allowed     bool              `json:"allowed"`
	Outputs     []string          `json:"outputs,omitempty"`
	MathVersion string            `json:"math_version"`
	Kernel      KernelFingerprint `json:"kernel"`
}

// Anomaly is one structured, machine-parsable entry in the run's
// anomaly list (e.g. the count of samples outside the grid axes, a cell
// whose correction was clamped when the bins were frozen).
type Anomaly struct {
	Code   string `json:"code"`
	Cell   [2]int `json:"cell,omitempty"`
	Cyl    string `json:"cylinder,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ZoneCoverage is one zone's contribution to a cylinder's coverage
// metric: how many of its cells had enough hits to be used, out of how
// many the grid has in that zone.
type ZoneCoverage struct {
	Zone            string `json:"zone"`
	TotalCells      int    `json:"total_cells"`
	SufficientCells int    `json:"sufficient_cells"`
}

// CylinderCoverage is the cell-weighted zone coverage metric (section
// 4.4's coverage percentage) for one cylinder, plus the per-zone
// breakdown that produced it.
type CylinderCoverage struct {
	Percentage float64        `json:"percentage"`
	Zones      []ZoneCoverage `json:"zones"`
}

// Manifest is the complete JSON record of one analysis run.
type Manifest struct {
	SchemaID  string                      `json:"schema_id"`
	Status    Status                      `json:"status"`
	Stats     Stats                       `json:"stats"`
	Timing    Timing                      `json:"timing"`
	Coverage  map[string]CylinderCoverage `json:"coverage,omitempty"`
	Apply     *ApplyInfo                  `json:"apply,omitempty"`
	Anomalies []Anomaly                   `json:"anomalies,omitempty"`
}

const SchemaID = "dynocal.manifest.v1"

// Write serializes m and writes it atomically to path.
func Write(path pathguard.ResolvedPath, m Manifest) error {
	return hashcodec.WriteJSONAtomic(path, m)
}

// ApplyMetadata is the sidecar written next to an applied output table.
// Its presence and digest fields are what let Rollback verify, before
// touching disk, that the output hasn't drifted since Apply produced it.
type ApplyMetadata struct {
	BaseSHA256       string  `json:"base_sha256"`
	CorrectionSHA256 string  `json:"correction_sha256"`
	OutputSHA256     string  `json:"output_sha256"`
	AppliedAtUTC     string  `json:"applied_at_utc"`
	ClampPct         float64 `json:"clamp_pct"`
	AppVersion       string  `json:"app_version"`
}

// WriteApplyMetadata serializes md and writes it atomically to path.
func WriteApplyMetadata(path pathguard.ResolvedPath, md ApplyMetadata) error {
	return hashcodec.WriteJSONAtomic(path, md)
}

// LoadApplyMetadata reads and parses the sidecar at path. A missing file,
// invalid JSON and a missing required field all surface as
// MetadataMissing, since the caller's recovery (abort rollback) is
// identical either way.
func LoadApplyMetadata(path pathguard.ResolvedPath, read func(pathguard.ResolvedPath) ([]byte, error)) (ApplyMetadata, error) {
	data, err := read(path)
	if err != nil {
		return ApplyMetadata{}, errs.MetadataMissingErr(path.String(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ApplyMetadata{}, errs.MetadataMissingErr(path.String(), fmt.Errorf("parse: %w", err))
	}
	for _, key := range []string{"base_sha256", "correction_sha256", "output_sha256", "applied_at_utc", "clamp_pct", "app_version"} {
		if _, ok := fields[key]; !ok {
			return ApplyMetadata{}, errs.MetadataMissingErr(path.String(), fmt.Errorf("missing field %q", key))
		}
	}
	var md ApplyMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return ApplyMetadata{}, errs.MetadataMissingErr(path.String(), fmt.Errorf("parse: %w", err))
	}
	return md, nil
}
