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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/dynocal/internal/cliutil"
	"github.com/kraklabs/dynocal/internal/ui"
	"github.com/kraklabs/dynocal/pkg/apply"
	"github.com/kraklabs/dynocal/pkg/grid"
)

func runApply(args []string, configPath string, globals cliutil.GlobalFlags) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Compute the output without writing any files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 4 {
		return fmt.Errorf("usage: dynocal apply <base> <correction> <out> <metadata>")
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

	rpmAxis, ok := grid.NewAxis(cfg.RPMAxis.Breakpoints, cfg.RPMAxis.Tolerance)
	if !ok {
		return fmt.Errorf("invalid rpm_axis configuration")
	}
	mapAxis, ok := grid.NewAxis(cfg.MAPAxis.Breakpoints, cfg.MAPAxis.Tolerance)
	if !ok {
		return fmt.Errorf("invalid map_axis configuration")
	}
	shape := grid.Shape{Rows: rpmAxis.Len() - 1, Cols: mapAxis.Len() - 1}

	res, err := apply.Apply(fs.Arg(0), fs.Arg(1), fs.Arg(2), fs.Arg(3), shape, apply.Options{
		Guard:      guard,
		Logger:     cliutil.NewLogger(globals),
		AppVersion: version,
		ClampLimit: cfg.Correction.ClampLimit,
		DryRun:     *dryRun,
	})
	if err != nil {
		return err
	}

	if res.Written {
		ui.OK("applied correction, wrote %s and %s", fs.Arg(2), fs.Arg(3))
	} else {
		ui.Info("dry run: output computed, nothing written")
	}
	if res.BoundCells > 0 {
		ui.Info("%d cell(s) exceeded the clamp limit and were bound to the boundary", res.BoundCells)
	}
	return nil
}
