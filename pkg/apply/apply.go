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

// Package apply implements ApplyRollbackEngine: it multiplies a base
// volumetric-efficiency table by a frozen correction grid to produce a
// new table, seals the result with a hash-sealed metadata sidecar, and
// can later reverse the operation by dividing the same correction back
// out, verifying at every step that neither file has drifted since Apply
// ran.
package apply

import (
	"log/slog"
	"math"
	"os"

	"github.com/benbjohnson/clock"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/grid"
	"github.com/kraklabs/dynocal/pkg/hashcodec"
	"github.com/kraklabs/dynocal/pkg/manifest"
	"github.com/kraklabs/dynocal/pkg/pathguard"
	"github.com/kraklabs/dynocal/pkg/vetable"
)

// timeLayout is RFC 3339 in UTC, matching manifest.Timing.
const timeLayout = "2006-01-02T15:04:05Z"

// extremeCorrectionLimit is the pre-apply safety threshold: a raw
// correction whose magnitude exceeds this must abort rather than silently
// clamp, regardless of the configured clamp limit.
const extremeCorrectionLimit = 0.25

// Options carries the dependencies and run parameters shared by Apply
// and Rollback.
type Options struct {
	Guard      *pathguard.Guard
	Clock      clock.Clock // defaults to clock.New() when nil
	Logger     *slog.Logger
	AppVersion string
	ClampLimit float64 // applied per cell and recorded into the metadata sidecar
	DryRun     bool
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AppVersion == "" {
		o.AppVersion = "dev"
	}
	if o.ClampLimit == 0 {
		o.ClampLimit = 0.07
	}
	return o
}

// Result is what Apply and Rollback hand back to the caller for
// reporting; Output is always populated, even in DryRun mode.
type Result struct {
	Output   *grid.Grid[float64]
	Metadata manifest.ApplyMetadata
	Written  bool // false under DryRun

	// BoundCells counts the cells whose correction fell outside
	// [1-C, 1+C] and was silently clamped to the boundary.
	BoundCells int

	// RestoredDigestMismatch is set by Rollback when the digest of the
	// freshly-written restored file does not equal the base digest
	// recorded in the apply metadata. This is reported loudly rather
	// than treated as a silent success, but it does not undo the write.
	RestoredDigestMismatch bool
}

// clampCorrection bounds a raw correction multiplier to [1-limit,
// 1+limit], reporting whether the value was out of range.
func clampCorrection(value, limit float64) (clamped float64, wasBound bool) {
	lo, hi := 1-limit, 1+limit
	if value < lo {
		return lo, true
	}
	if value > hi {
		return hi, true
	}
	return value, false
}

// extremeCorrectionCheck enforces the pre-apply safety block: any raw
// correction whose magnitude exceeds extremeCorrectionLimit aborts
// before anything is computed or written, regardless of the configured
// clamp limit.
func extremeCorrectionCheck(correction *grid.Grid[float64]) error {
	shape := correction.Shape()
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			v := correction.At(i, j)
			if v < 1-extremeCorrectionLimit || v > 1+extremeCorrectionLimit {
				return errs.ExtremeCorrectionErr(i, j, v)
			}
		}
	}
	return nil
}

func readResolved(g *pathguard.Guard, raw string, allowParentDir bool) (pathguard.ResolvedPath, []byte, error) {
	p, err := g.Resolve(raw, allowParentDir)
	if err != nil {
		return pathguard.ResolvedPath{}, nil, err
	}
	data, err := os.ReadFile(p.String())
	if err != nil {
		return p, nil, err
	}
	return p, data, nil
}

// Apply computes output = base * correction, cell by cell, and (unless
// DryRun) writes output plus a hash-sealed ApplyMetadata sidecar.
func Apply(basePath, correctionPath, outPath, metadataPath string, shape grid.Shape, opts Options) (Result, error) {
	opts = opts.withDefaults()

	baseResolved, baseData, err := readResolved(opts.Guard, basePath, false)
	if err != nil {
		return Result{}, err
	}
	correctionResolved, correctionData, err := readResolved(opts.Guard, correctionPath, false)
	if err != nil {
		return Result{}, err
	}

	base, err := vetable.Decode(baseData, shape)
	if err != nil {
		return Result{}, err
	}
	correction, err := vetable.DecodeDelta(correctionData, shape)
	if err != nil {
		return Result{}, err
	}
	if err := grid.SameShape(base.Shape(), correction.Shape()); err != nil {
		return Result{}, err
	}

	if err := extremeCorrectionCheck(correction); err != nil {
		return Result{}, err
	}

	output := grid.NewGrid[float64](shape)
	var rangeErr error
	boundCells := 0
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			b := base.At(i, j)
			if !isFinite(b) || b <= 0 {
				rangeErr = errs.InvalidBaseErr(i, j, b)
				continue
			}
			c, wasBound := clampCorrection(correction.At(i, j), opts.ClampLimit)
			if wasBound {
				boundCells++
			}
			output.Set(i, j, b*c)
		}
	}
	if rangeErr != nil {
		return Result{}, rangeErr
	}
	if boundCells > 0 {
		opts.Logger.Warn("apply.bound_cells", "count", boundCells, "clamp_limit", opts.ClampLimit)
	}

	result := Result{Output: output, BoundCells: boundCells}
	if opts.DryRun {
		return result, nil
	}

	outResolved, err := opts.Guard.Resolve(outPath, false)
	if err != nil {
		return Result{}, err
	}
	mdResolved, err := opts.Guard.Resolve(metadataPath, false)
	if err != nil {
		return Result{}, err
	}

	outBytes := vetable.Encode(output)
	if err := hashcodec.WriteAtomic(outResolved, outBytes); err != nil {
		return Result{}, err
	}

	baseDigest, err := hashcodec.Digest(baseResolved)
	if err != nil {
		return Result{}, err
	}
	correctionDigest, err := hashcodec.Digest(correctionResolved)
	if err != nil {
		return Result{}, err
	}
	outputDigest, err := hashcodec.Digest(outResolved)
	if err != nil {
		return Result{}, err
	}

	md := manifest.ApplyMetadata{
		BaseSHA256:       baseDigest,
		CorrectionSHA256: correctionDigest,
		OutputSHA256:     outputDigest,
		AppliedAtUTC:     opts.Clock.Now().UTC().Format(timeLayout),
		ClampPct:         opts.ClampLimit,
		AppVersion:       opts.AppVersion,
	}
	if err := manifest.WriteApplyMetadata(mdResolved, md); err != nil {
		return Result{}, err
	}

	result.Metadata = md
	result.Written = true
	return result, nil
}

// Rollback verifies the output and correction artifacts against the
// metadata sidecar's recorded digests, then divides the correction back
// out of output to recover base, writing the result to restorePath.
func Rollback(outputPath, metadataPath, correctionPath, restorePath string, shape grid.Shape, opts Options) (Result, error) {
	opts = opts.withDefaults()

	mdResolved, mdData, err := readResolved(opts.Guard, metadataPath, false)
	if err != nil {
		return Result{}, errs.MetadataMissingErr(metadataPath, err)
	}
	md, err := manifest.LoadApplyMetadata(mdResolved, func(pathguard.ResolvedPath) ([]byte, error) { return mdData, nil })
	if err != nil {
		return Result{}, err
	}

	outputResolved, outputData, err := readResolved(opts.Guard, outputPath, false)
	if err != nil {
		return Result{}, errs.TamperedOutputErr(outputPath)
	}
	outputDigest, err := hashcodec.Digest(outputResolved)
	if err != nil {
		return Result{}, err
	}
	if outputDigest != md.OutputSHA256 {
		return Result{}, errs.TamperedOutputErr(outputPath)
	}

	correctionResolved, correctionData, err := readResolved(opts.Guard, correctionPath, false)
	if err != nil {
		return Result{}, errs.MissingCorrectionErr(correctionPath)
	}
	correctionDigest, err := hashcodec.Digest(correctionResolved)
	if err != nil {
		return Result{}, err
	}
	if correctionDigest != md.CorrectionSHA256 {
		return Result{}, errs.MissingCorrectionErr(correctionPath)
	}

	output, err := vetable.Decode(outputData, shape)
	if err != nil {
		return Result{}, err
	}
	correction, err := vetable.DecodeDelta(correctionData, shape)
	if err != nil {
		return Result{}, err
	}
	if err := grid.SameShape(output.Shape(), correction.Shape()); err != nil {
		return Result{}, err
	}

	clampLimit := opts.ClampLimit
	if md.ClampPct != 0 {
		clampLimit = md.ClampPct
	}

	restored := grid.NewGrid[float64](shape)
	boundCells := 0
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			c, wasBound := clampCorrection(correction.At(i, j), clampLimit)
			if wasBound {
				boundCells++
			}
			if c == 0 {
				return Result{}, errs.InvalidBaseErr(i, j, c)
			}
			restored.Set(i, j, output.At(i, j)/c)
		}
	}
	if boundCells > 0 {
		opts.Logger.Warn("rollback.bound_cells", "count", boundCells, "clamp_limit", clampLimit)
	}

	result := Result{Output: restored, BoundCells: boundCells}
	if opts.DryRun {
		return result, nil
	}

	restoreResolved, err := opts.Guard.Resolve(restorePath, false)
	if err != nil {
		return Result{}, err
	}
	if err := hashcodec.WriteAtomic(restoreResolved, vetable.Encode(restored)); err != nil {
		return Result{}, err
	}
	result.Written = true

	restoredDigest, err := hashcodec.Digest(restoreResolved)
	if err != nil {
		return Result{}, err
	}
	if restoredDigest != md.BaseSHA256 {
		result.RestoredDigestMismatch = true
		opts.Logger.Warn("rollback.base_digest_mismatch",
			"restored_sha256", restoredDigest,
			"base_sha256", md.BaseSHA256,
			"restore_path", restorePath,
		)
	}
	return result, nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
