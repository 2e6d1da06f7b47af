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

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/dynocal/internal/cliutil"
	"github.com/kraklabs/dynocal/internal/ui"
	"github.com/kraklabs/dynocal/pkg/binning"
	"github.com/kraklabs/dynocal/pkg/grid"
	"github.com/kraklabs/dynocal/pkg/hashcodec"
	"github.com/kraklabs/dynocal/pkg/ingest"
	"github.com/kraklabs/dynocal/pkg/manifest"
	"github.com/kraklabs/dynocal/pkg/smoothing"
	"github.com/kraklabs/dynocal/pkg/vetable"
)

const timeLayout = "2006-01-02T15:04:05Z"

var cylinderNames = [2]string{"front", "rear"}

func runAnalyze(args []string, configPath string, globals cliutil.GlobalFlags) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	outDir := fs.String("out", "", "Output directory for correction tables and manifest (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dynocal analyze <log-file> --out <dir>")
	}
	logPath := fs.Arg(0)
	if *outDir == "" {
		return fmt.Errorf("--out is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	root, err := projectRoot(cfg, configPath)
	if err != nil {
		return err
	}
	guard, err := newGuard(root)
	if err != nil {
		return err
	}

	logger := cliutil.NewLogger(globals)
	start := time.Now().UTC()

	logResolved, err := guard.Resolve(logPath, true)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(logResolved.String())
	if err != nil {
		return err
	}

	samples, ingestStats, err := ingest.Normalize(raw, ingest.Options{Logger: logger})
	if err != nil {
		return err
	}

	rpmAxis, ok := grid.NewAxis(cfg.RPMAxis.Breakpoints, cfg.RPMAxis.Tolerance)
	if !ok {
		return fmt.Errorf("invalid rpm_axis configuration")
	}
	mapAxis, ok := grid.NewAxis(cfg.MAPAxis.Breakpoints, cfg.MAPAxis.Tolerance)
	if !ok {
		return fmt.Errorf("invalid map_axis configuration")
	}

	mathVersion := binning.MathV2
	if cfg.Correction.MathVersion == "v1_linear" {
		mathVersion = binning.MathV1
	}
	corrector := binning.New(rpmAxis, mapAxis, binning.Config{
		Math:        mathVersion,
		LinearK:     cfg.Correction.LinearK,
		ClampLimit:  cfg.Correction.ClampLimit,
		TorqueFloor: cfg.Correction.TorqueFloor,
		Logger:      logger,
	})

	bar := newProgressBar(globals, int64(len(samples)), "ingesting samples")
	for i, s := range samples {
		corrector.Accumulate(s)
		if bar != nil {
			_ = bar.Set64(int64(i + 1))
		}
	}
	finishBar(bar)

	frozen, err := corrector.Freeze()
	if err != nil {
		return err
	}

	var anomalies []manifest.Anomaly
	if err := binning.ExtremeCorrectionCheck(frozen); err != nil {
		return err
	}

	smoothCfg := smoothing.Config{
		BasePasses:        cfg.Smoothing.BasePasses,
		GradientThreshold: cfg.Smoothing.GradientThreshold,
		Logger:            logger,
	}

	outAbs, err := absPath(*outDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outAbs, 0o750); err != nil {
		return err
	}
	outGuard, err := newGuard(outAbs)
	if err != nil {
		return err
	}

	var outputs []string
	binsTotal := frozen.Shape.Rows * frozen.Shape.Cols
	binsCovered := 0
	coverage := make(map[string]manifest.CylinderCoverage, 2)
	zoneOrder := []grid.Zone{grid.ZoneCruise, grid.ZonePartThrottle, grid.ZoneWOT, grid.ZoneDecel, grid.ZoneEdge}

	for cyl := 0; cyl < 2; cyl++ {
		input := grid.NewGrid[smoothing.CellInput](frozen.Shape)
		skipped := grid.NewGrid[bool](frozen.Shape)
		frozen.Diagnostics[cyl].Each(func(i, j int, d binning.CellDiagnostic) {
			input.Set(i, j, smoothing.CellInput{Hits: d.Hits, Skipped: d.Skipped})
			skipped.Set(i, j, d.Skipped)
			if !d.Skipped {
				binsCovered++
			}
			if d.Clamped {
				anomalies = append(anomalies, manifest.Anomaly{
					Code: "clamped_on_freeze",
					Cell: [2]int{i, j},
					Cyl:  cylinderNames[cyl],
				})
			}
		})

		smoothed := smoothing.Smooth(frozen.Corrections[cyl], input, rpmAxis, mapAxis, smoothCfg)

		cov := binning.ComputeCoverage(frozen.Diagnostics[cyl])
		zones := make([]manifest.ZoneCoverage, 0, len(zoneOrder))
		for _, z := range zoneOrder {
			stat := cov.Zones[z]
			zones = append(zones, manifest.ZoneCoverage{
				Zone:            z.String(),
				TotalCells:      stat.TotalCells,
				SufficientCells: stat.SufficientCells,
			})
		}
		coverage[cylinderNames[cyl]] = manifest.CylinderCoverage{
			Percentage: cov.Percentage,
			Zones:      zones,
		}

		fileName := fmt.Sprintf("correction_%s.vetable", cylinderNames[cyl])
		dest, err := outGuard.Resolve(fileName, false)
		if err != nil {
			return err
		}
		if err := hashcodec.WriteAtomic(dest, vetable.EncodeDelta(smoothed, skipped)); err != nil {
			return err
		}
		outputs = append(outputs, filepath.Join(*outDir, fileName))
	}

	if frozen.OutOfRange > 0 {
		anomalies = append(anomalies, manifest.Anomaly{
			Code:   "samples_out_of_range",
			Detail: fmt.Sprintf("%d", frozen.OutOfRange),
		})
	}

	end := time.Now().UTC()
	m := manifest.Manifest{
		SchemaID: manifest.SchemaID,
		Status:   manifest.Status{Code: "ok"},
		Stats: manifest.Stats{
			RowsRead:    ingestStats.RowsRead,
			RowsDropped: ingestStats.RowsDropped,
			BinsTotal:   binsTotal * 2,
			BinsCovered: binsCovered,
		},
		Timing: manifest.Timing{
			StartUTC: start.Format(timeLayout),
			EndUTC:   end.Format(timeLayout),
		},
		Coverage: coverage,
		Apply: &manifest.ApplyInfo{
			Allowed:     true,
			Outputs:     outputs,
			MathVersion: mathVersion.String(),
			Kernel: manifest.KernelFingerprint{
				MathVersion:         mathVersion.String(),
				ClampLimit:          cfg.Correction.ClampLimit,
				SmoothBasePasses:    smoothCfg.BasePasses,
				SmoothGradientLimit: smoothCfg.GradientThreshold,
				Stage3CenterBias:    smoothing.DefaultStage3Constants.CenterBias,
				Stage3DistancePower: smoothing.DefaultStage3Constants.DistancePower,
				Stage3BlendAlpha:    smoothing.DefaultStage3Constants.BlendAlpha,
			},
		},
		Anomalies: anomalies,
	}

	manifestPath, err := outGuard.Resolve("manifest.json", false)
	if err != nil {
		return err
	}
	if err := manifest.Write(manifestPath, m); err != nil {
		return err
	}

	ui.OK("analyzed %d samples (%d dropped), coverage %d/%d bins", ingestStats.RowsRead, ingestStats.RowsDropped, binsCovered, binsTotal*2)
	for _, o := range outputs {
		ui.Info("wrote %s", o)
	}
	return nil
}
