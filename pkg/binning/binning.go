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

// Package binning implements BinningCorrector: it aggregates
// a sample stream into a per-cylinder (RPM x MAP) grid, computes
// correction multipliers from measured vs. target AFR, weights by
// torque, and clamps.
package binning

import (
	"log/slog"
	"math"
	"sort"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/grid"
	"github.com/kraklabs/dynocal/pkg/sample"
)

// MathVersion selects the correction-ratio formula. This is a frozen
// enumeration, not runtime polymorphism: the label travels
// into the manifest unchanged.
type MathVersion int

const (
	// MathV2 is the default: r = afr_measured / afr_target.
	MathV2 MathVersion = iota
	// MathV1 is the legacy linear form: r = 1 + k*(measured - target).
	MathV1
)

func (m MathVersion) String() string {
	if m == MathV1 {
		return "v1_linear"
	}
	return "v2_ratio"
}

// Config is the frozen parameter set for a single run; its math version
// and clamp limit are recorded in the manifest's kernel fingerprint.
type Config struct {
	Math          MathVersion
	LinearK       float64 // only used by MathV1; the linear-form "k" coefficient
	ClampLimit    float64 // C in [0.01, 0.15], default 0.07
	TorqueFloor   float64 // weight floor
	HotIATThresholdC float64
	HotIATTrim    float64 // weight multiplier applied above HotIATThresholdC
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ClampLimit == 0 {
		c.ClampLimit = 0.07
	}
	if c.HotIATThresholdC == 0 {
		c.HotIATThresholdC = 60
	}
	if c.HotIATTrim == 0 {
		c.HotIATTrim = 1.0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// robustStat is the running median/MAD tracked per cell
// A true streaming median is not exact; dynocal tracks an insertion-
// sorted reservoir capped at a fixed size, which is deterministic and
// adequate for the diagnostic role robust stats play here (they are not
// part of the correction-multiplier computation itself).
type robustStat struct {
	observations []float64
}

const robustStatCap = 256

func (r *robustStat) add(v float64) {
	if len(r.observations) >= robustStatCap {
		return
	}
	i := sort.SearchFloat64s(r.observations, v)
	r.observations = append(r.observations, 0)
	copy(r.observations[i+1:], r.observations[i:])
	r.observations[i] = v
}

func (r *robustStat) median() float64 {
	n := len(r.observations)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return r.observations[n/2]
	}
	return (r.observations[n/2-1] + r.observations[n/2]) / 2
}

func (r *robustStat) mad() float64 {
	m := r.median()
	if len(r.observations) == 0 {
		return 0
	}
	devs := make([]float64, len(r.observations))
	for i, v := range r.observations {
		devs[i] = math.Abs(v - m)
	}
	sort.Float64s(devs)
	n := len(devs)
	if n%2 == 1 {
		return devs[n/2]
	}
	return (devs[n/2-1] + devs[n/2]) / 2
}

type cellAccumulator struct {
	hits          uint64
	weightedSum   float64 // sum(w * r)
	weightSum     float64 // sum(w)
	clampedOnInsert uint64
	robust        robustStat
}

// Corrector accumulates samples for one run. Accumulators are owned
// exclusively by the Corrector for the lifetime of the run and consumed
// read-only once Freeze is called ( ownership).
type Corrector struct {
	rpmAxis grid.Axis
	mapAxis grid.Axis
	cfg     Config

	cells      [2]*grid.Grid[cellAccumulator]
	outOfRange uint64
	frozen     bool
}

// New constructs a Corrector over the given axes. Each cylinder gets its
// own independent accumulator grid.
func New(rpmAxis, mapAxis grid.Axis, cfg Config) *Corrector {
	shape := grid.Shape{Rows: rpmAxis.Len() - 1, Cols: mapAxis.Len() - 1}
	return &Corrector{
		rpmAxis: rpmAxis,
		mapAxis: mapAxis,
		cfg:     cfg.withDefaults(),
		cells: [2]*grid.Grid[cellAccumulator]{
			grid.NewGrid[cellAccumulator](shape),
			grid.NewGrid[cellAccumulator](shape),
		},
	}
}

// Shape returns the accumulator grid's (rpm bins, map bins) dimensions.
func (c *Corrector) Shape() grid.Shape { return c.cells[0].Shape() }

// OutOfRange returns the count of samples whose RPM or MAP fell outside
// axis coverage.
func (c *Corrector) OutOfRange() uint64 { return c.outOfRange }

// Accumulate dispatches one sample into its cell for both cylinders. It
// must not be called after Freeze.
func (c *Corrector) Accumulate(s sample.Sample) {
	if c.frozen {
		return
	}
	i, ok := c.rpmAxis.Index(s.RPM)
	if !ok {
		c.outOfRange++
		return
	}
	j, ok := c.mapAxis.Index(s.MAPKPa)
	if !ok {
		c.outOfRange++
		return
	}

	weight := math.Max(c.cfg.TorqueFloor, s.Torque)
	if weight < 0 {
		weight = 0
	}
	if s.IntakeAirTempC > c.cfg.HotIATThresholdC {
		weight *= c.cfg.HotIATTrim
	}

	for cyl := 0; cyl < 2; cyl++ {
		ratio := c.ratio(s.MeasuredAFR[cyl], s.CommandedAFR[cyl])
		if !isFinite(ratio) {
			continue
		}
		acc := c.cells[cyl].At(i, j)
		acc.hits++
		acc.weightSum += weight
		acc.weightedSum += weight * ratio
		acc.robust.add(ratio)
		c.cells[cyl].Set(i, j, acc)
	}
}

func (c *Corrector) ratio(measured, target float64) float64 {
	if c.cfg.Math == MathV1 {
		return 1 + c.cfg.LinearK*(measured-target)
	}
	if target == 0 {
		return math.NaN()
	}
	return measured / target
}

// CellDiagnostic carries the per-cell freeze-time detail.
type CellDiagnostic struct {
	Hits      uint64
	RawMean   float64
	ClampedTo float64 // the final, clamped multiplier
	Clamped   bool
	Skipped   bool
	Zone      grid.Zone
}

// Grid is the frozen per-cylinder output of BinningCorrector.
type Grid struct {
	Shape       grid.Shape
	Corrections [2]*grid.Grid[float64]
	Diagnostics [2]*grid.Grid[CellDiagnostic]
	OutOfRange  uint64
	ClampedCells [2]int
}

// Freeze produces the per-cell correction multiplier for both
// cylinders, applying the minimum-hits zone gate and the configured
// clamp. It is fatal ShapeMismatch to freeze an accumulator
// whose shape doesn't match the configured axes; since Corrector always
// allocates from its own axes this can only happen if a caller has
// corrupted internal state, so it is asserted defensively.
func (c *Corrector) Freeze() (Grid, error) {
	c.frozen = true
	shape := c.Shape()
	if err := grid.SameShape(shape, c.cells[0].Shape()); err != nil {
		return Grid{}, err
	}

	out := Grid{
		Shape:       shape,
		OutOfRange:  c.outOfRange,
		Corrections: [2]*grid.Grid[float64]{grid.NewGrid[float64](shape), grid.NewGrid[float64](shape)},
		Diagnostics: [2]*grid.Grid[CellDiagnostic]{grid.NewGrid[CellDiagnostic](shape), grid.NewGrid[CellDiagnostic](shape)},
	}

	for cyl := 0; cyl < 2; cyl++ {
		for i := 0; i < shape.Rows; i++ {
			for j := 0; j < shape.Cols; j++ {
				acc := c.cells[cyl].At(i, j)
				rpmMid := midpoint(c.rpmAxis, i)
				mapMid := midpoint(c.mapAxis, j)
				zone := grid.Classify(rpmMid, mapMid)

				diag := CellDiagnostic{Hits: acc.hits, Zone: zone}

				if acc.hits == 0 {
					out.Corrections[cyl].Set(i, j, 1.0)
					diag.ClampedTo = 1.0
					diag.Skipped = true
					out.Diagnostics[cyl].Set(i, j, diag)
					continue
				}

				conf := grid.ClassifyConfidence(zone, int(acc.hits))
				if conf == grid.ConfidenceSkip {
					out.Corrections[cyl].Set(i, j, 1.0)
					diag.ClampedTo = 1.0
					diag.Skipped = true
					out.Diagnostics[cyl].Set(i, j, diag)
					continue
				}

				rawMean := acc.weightedSum / acc.weightSum
				diag.RawMean = rawMean

				clamped, wasClamped := clampMultiplier(rawMean, c.cfg.ClampLimit)
				diag.ClampedTo = clamped
				diag.Clamped = wasClamped
				if wasClamped {
					out.ClampedCells[cyl]++
				}
				out.Corrections[cyl].Set(i, j, clamped)
				out.Diagnostics[cyl].Set(i, j, diag)
			}
		}
	}

	c.cfg.Logger.Info("binning.freeze",
		"out_of_range", c.outOfRange,
		"clamped_front", out.ClampedCells[0],
		"clamped_rear", out.ClampedCells[1],
	)
	return out, nil
}

func midpoint(ax grid.Axis, idx int) float64 {
	return (ax.Breakpoints[idx] + ax.Breakpoints[idx+1]) / 2
}

func clampMultiplier(value, limit float64) (clamped float64, wasClamped bool) {
	lo, hi := 1-limit, 1+limit
	if value < lo {
		return lo, true
	}
	if value > hi {
		return hi, true
	}
	return value, false
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ExtremeCorrectionCheck implements the pre-apply safety block: a
// raw correction whose magnitude would exceed +/-25% before clamping
// must abort with ExtremeCorrection rather than silently clamp.
func ExtremeCorrectionCheck(g Grid) error {
	for cyl := 0; cyl < 2; cyl++ {
		var err error
		g.Diagnostics[cyl].Each(func(i, j int, d CellDiagnostic) {
			if err != nil || d.Skipped {
				return
			}
			if d.RawMean < 0.75 || d.RawMean > 1.25 {
				err = errs.ExtremeCorrectionErr(i, j, d.RawMean)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
