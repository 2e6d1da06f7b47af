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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/dynocal/internal/cliutil"
	"github.com/kraklabs/dynocal/internal/config"
	"github.com/kraklabs/dynocal/internal/ui"
)

func runInit(args []string, configPath string, globals cliutil.GlobalFlags) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	projectID := fs.String("project-id", "", "Project identifier (default: current directory name)")
	force := fs.Bool("force", false, "Overwrite an existing dynocal.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *projectID == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		*projectID = filepath.Base(wd)
	}

	path := config.Path(".")
	if configPath != "" {
		path = configPath
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig(*projectID)
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	ui.OK("wrote %s", path)
	return nil
}
