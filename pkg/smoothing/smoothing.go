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

// Package smoothing implements AdaptiveSmoother: a
// three-stage, gradient-limited, coverage-weighted, edge-preserving
// filter over a BinningCorrector correction grid. Every stage iterates
// in fixed row-major, inner-MAP order and sums in a fixed sequence, so
// output is bit-identical across platforms for identical input.
package smoothing

import (
	"log/slog"
	"math"

	"github.com/kraklabs/dynocal/pkg/grid"
)

// CellInput is the per-cell context the smoother needs beyond the raw
// correction value: whether BinningCorrector skipped the cell and its
// hit count, used for gating and the coverage-weighted Stage 3 filter.
type CellInput struct {
	Hits    uint64
	Skipped bool
}

// Stage3Constants are the frozen parameters of the current math version:
// changing any of them is a math-version event. They
// are exported; the manifest's kernel fingerprint block records
// CenterBias, DistancePower and BlendAlpha for run-to-run comparison,
// but not MinHitsForInclusion.
type Stage3Constants struct {
	CenterBias         float64
	DistancePower      float64
	MinHitsForInclusion int
	BlendAlpha         float64
}

// DefaultStage3Constants are dynocal's frozen Stage 3 parameters.
var DefaultStage3Constants = Stage3Constants{
	CenterBias:          2.0,
	DistancePower:       1.0,
	MinHitsForInclusion: 3,
	BlendAlpha:          0.6,
}

// Config is the frozen, manifest-recorded parameter set for a run.
type Config struct {
	BasePasses        int     // N, number of smoothing passes for cells whose |delta| <= 1%, default 2
	GradientThreshold float64 // T, gradient threshold in percent-delta, default 1.0
	Stage3            Stage3Constants
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BasePasses == 0 {
		c.BasePasses = 2
	}
	if c.GradientThreshold == 0 {
		c.GradientThreshold = 1.0
	}
	if c.Stage3 == (Stage3Constants{}) {
		c.Stage3 = DefaultStage3Constants
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// neighborOffsets is the fixed iteration order for 4- and 8-neighbor
// lookups; fixing it is what makes floating-point summation order
// reproducible across platforms.
var neighborOffsets4 = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

var neighborOffsets8 = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

func percentDelta(multiplier float64) float64 { return (multiplier - 1) * 100 }

// Smooth runs all three stages over corr in place conceptually, but
// never mutates its input: it returns a newly-owned output grid.
// rpmAxis and mapAxis are the corrector's configured axes, used by
// Stage 2 to classify each cell's real zone.
func Smooth(corr *grid.Grid[float64], input *grid.Grid[CellInput], rpmAxis, mapAxis grid.Axis, cfg Config) *grid.Grid[float64] {
	cfg = cfg.withDefaults()
	shape := corr.Shape()

	stage1 := stage1GradientLimitedMean(corr, input, cfg)
	stage2 := stage2ZoneConfidenceClamp(stage1, input, rpmAxis, mapAxis)
	stage3 := stage3CoverageWeightedAverage(stage2, input, cfg)

	cfg.Logger.Info("smoothing.complete", "rows", shape.Rows, "cols", shape.Cols)
	return stage3
}

func midpoint(ax grid.Axis, idx int) float64 {
	return (ax.Breakpoints[idx] + ax.Breakpoints[idx+1]) / 2
}

func inBounds(shape grid.Shape, i, j int) bool {
	return i >= 0 && i < shape.Rows && j >= 0 && j < shape.Cols
}

// stage1GradientLimitedMean is the gradient-limited adaptive mean pass.
func stage1GradientLimitedMean(corr *grid.Grid[float64], input *grid.Grid[CellInput], cfg Config) *grid.Grid[float64] {
	shape := corr.Shape()
	out := grid.NewGrid[float64](shape)

	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			in := input.At(i, j)
			if in.Skipped || in.Hits == 0 {
				out.Set(i, j, corr.At(i, j))
				continue
			}

			own := corr.At(i, j)
			g := maxAbsNeighborGradient(corr, input, shape, i, j)
			delta := math.Abs(percentDelta(own))
			passes := passCount(delta, cfg.BasePasses)

			smoothed := own
			for p := 0; p < passes; p++ {
				smoothed = neighborhoodMean3x3(corr, input, shape, i, j, smoothed)
			}

			alpha := math.Min(1, g/(2*cfg.GradientThreshold))
			blended := alpha*own + (1-alpha)*smoothed
			out.Set(i, j, blended)
		}
	}
	return out
}

// maxAbsNeighborGradient computes g_ij: the max absolute percent-delta
// difference between cell (i,j) and each non-skipped 4-neighbor.
func maxAbsNeighborGradient(corr *grid.Grid[float64], input *grid.Grid[CellInput], shape grid.Shape, i, j int) float64 {
	own := percentDelta(corr.At(i, j))
	var maxG float64
	for _, off := range neighborOffsets4 {
		ni, nj := i+off[0], j+off[1]
		if !inBounds(shape, ni, nj) {
			continue
		}
		if input.At(ni, nj).Skipped {
			continue
		}
		d := math.Abs(own - percentDelta(corr.At(ni, nj)))
		if d > maxG {
			maxG = d
		}
	}
	return maxG
}

// passCount computes passes_ij Stage 1 point 2: 0 at
// delta>=3.0%, N at delta<=1.0%, linearly tapered between, rounded to
// the nearest whole pass.
func passCount(deltaPct float64, n int) int {
	const hi, lo = 3.0, 1.0
	switch {
	case deltaPct >= hi:
		return 0
	case deltaPct <= lo:
		return n
	default:
		frac := (hi - deltaPct) / (hi - lo)
		return int(math.Round(frac * float64(n)))
	}
}

// neighborhoodMean3x3 averages the cell's current value (centerValue, to
// allow iterative passes) with its non-skipped, non-zero-hit 3x3
// neighbors, in fixed offset order.
func neighborhoodMean3x3(corr *grid.Grid[float64], input *grid.Grid[CellInput], shape grid.Shape, i, j int, centerValue float64) float64 {
	sum := centerValue
	count := 1.0
	for _, off := range neighborOffsets8 {
		ni, nj := i+off[0], j+off[1]
		if !inBounds(shape, ni, nj) {
			continue
		}
		in := input.At(ni, nj)
		if in.Skipped || in.Hits == 0 {
			continue
		}
		sum += corr.At(ni, nj)
		count++
	}
	return sum / count
}

// stage2ZoneConfidenceClamp classifies each cell by zone,
// derive confidence from hit count, clamp tighter for lower confidence,
// skip cells below the zone's minimum hit count.
func stage2ZoneConfidenceClamp(in *grid.Grid[float64], input *grid.Grid[CellInput], rpmAxis, mapAxis grid.Axis) *grid.Grid[float64] {
	shape := in.Shape()
	out := grid.NewGrid[float64](shape)
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			cell := input.At(i, j)
			if cell.Skipped || cell.Hits == 0 {
				out.Set(i, j, 1.0)
				continue
			}
			zone := grid.Classify(midpoint(rpmAxis, i), midpoint(mapAxis, j))
			conf := grid.ClassifyConfidence(zone, int(cell.Hits))
			if conf == grid.ConfidenceSkip {
				out.Set(i, j, 1.0)
				continue
			}
			limit := conf.ClampLimit()
			v := in.At(i, j)
			lo, hi := 1-limit, 1+limit
			if v < lo {
				v = lo
			} else if v > hi {
				v = hi
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// stage3CoverageWeightedAverage is the coverage-weighted bilateral-style pass.
func stage3CoverageWeightedAverage(in *grid.Grid[float64], input *grid.Grid[CellInput], cfg Config) *grid.Grid[float64] {
	shape := in.Shape()
	out := grid.NewGrid[float64](shape)
	c := cfg.Stage3

	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			cell := input.At(i, j)
			if cell.Skipped || cell.Hits == 0 {
				out.Set(i, j, in.At(i, j))
				continue
			}

			centerWeight := c.CenterBias * weightForHits(cell.Hits, c)
			weightedSum := centerWeight * in.At(i, j)
			weightSum := centerWeight

			for _, off := range neighborOffsets8 {
				ni, nj := i+off[0], j+off[1]
				if !inBounds(shape, ni, nj) {
					continue
				}
				nCell := input.At(ni, nj)
				if nCell.Skipped || int(nCell.Hits) < c.MinHitsForInclusion {
					continue
				}
				dist := math.Hypot(float64(off[0]), float64(off[1]))
				w := weightForHits(nCell.Hits, c) * math.Pow(dist, -c.DistancePower)
				weightedSum += w * in.At(ni, nj)
				weightSum += w
			}

			filtered := in.At(i, j)
			if weightSum > 0 {
				filtered = weightedSum / weightSum
			}
			blended := c.BlendAlpha*filtered + (1-c.BlendAlpha)*in.At(i, j)
			out.Set(i, j, blended)
		}
	}
	return out
}

func weightForHits(hits uint64, c Stage3Constants) float64 {
	if hits == 0 {
		return 0
	}
	return math.Pow(float64(hits), 1) // hits^1; distance term supplies the (-dist) power separately
}
