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
	"os"
	"path/filepath"

	"github.com/kraklabs/dynocal/internal/config"
	"github.com/kraklabs/dynocal/pkg/pathguard"
)

// loadConfig loads the dynocal.yaml at configPath, or discovered from
// the current directory when configPath is empty.
func loadConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}

// projectRoot resolves the directory a config file (or its absence)
// implies every pathguard.Guard should be scoped to: the config's
// DataDir if set, otherwise the directory containing dynocal.yaml,
// otherwise the current working directory.
func projectRoot(cfg *config.Config, configPath string) (string, error) {
	if cfg != nil && cfg.DataDir != "" {
		return absPath(cfg.DataDir)
	}
	if configPath != "" {
		return absPath(filepath.Dir(configPath))
	}
	return os.Getwd()
}

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// newGuard builds a pathguard.Guard rooted at root, additionally
// allow-listing the OS temp directory so commands that stage work
// through os.CreateTemp stay within a validated boundary.
func newGuard(root string) (*pathguard.Guard, error) {
	return pathguard.New(root, os.TempDir())
}
