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

// Package config loads and saves dynocal.yaml, the per-project
// configuration file that pins the RPM/MAP envelope, correction
// parameters, and live-ingest settings for a calibration project.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/dynocal/internal/errs"
)

const (
	DefaultFileName = "dynocal.yaml"
	configVersion   = "1"
)

// AxisConfig describes one RPM or MAP axis.
type AxisConfig struct {
	Breakpoints []float64 `yaml:"breakpoints" json:"breakpoints"`
	Tolerance   float64   `yaml:"tolerance" json:"tolerance"`
}

// CorrectionConfig mirrors binning.Config's frozen run parameters.
type CorrectionConfig struct {
	MathVersion string  `yaml:"math_version" json:"math_version"` // "v1_linear" or "v2_ratio"
	LinearK     float64 `yaml:"linear_k,omitempty" json:"linear_k,omitempty"`
	ClampLimit  float64 `yaml:"clamp_limit" json:"clamp_limit"`
	TorqueFloor float64 `yaml:"torque_floor" json:"torque_floor"`
}

// SmoothingConfig mirrors smoothing.Config's frozen run parameters.
type SmoothingConfig struct {
	BasePasses        int     `yaml:"base_passes" json:"base_passes"`
	GradientThreshold float64 `yaml:"gradient_threshold" json:"gradient_threshold"`
}

// MulticastConfig configures LiveIngest's telemetry listener.
type MulticastConfig struct {
	GroupAddress string `yaml:"group_address" json:"group_address"`
	Port         int    `yaml:"port" json:"port"`
	Interface    string `yaml:"interface,omitempty" json:"interface,omitempty"`
}

// Config is the dynocal.yaml document.
type Config struct {
	Version    string           `yaml:"version" json:"version"`
	ProjectID  string           `yaml:"project_id" json:"project_id"`
	DataDir    string           `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	RPMAxis    AxisConfig       `yaml:"rpm_axis" json:"rpm_axis"`
	MAPAxis    AxisConfig       `yaml:"map_axis" json:"map_axis"`
	Correction CorrectionConfig `yaml:"correction" json:"correction"`
	Smoothing  SmoothingConfig  `yaml:"smoothing" json:"smoothing"`
	Multicast  MulticastConfig  `yaml:"multicast,omitempty" json:"multicast,omitempty"`
}

// DefaultConfig returns sensible defaults for a new project.
func DefaultConfig(projectID string) *Config {
	return &Config{
		Version:   configVersion,
		ProjectID: projectID,
		RPMAxis: AxisConfig{
			Breakpoints: []float64{800, 1200, 1600, 2000, 2400, 2800, 3200, 3600, 4000, 4500, 5000, 5500, 6000, 6500, 7000},
			Tolerance:   10,
		},
		MAPAxis: AxisConfig{
			Breakpoints: []float64{20, 30, 40, 50, 60, 70, 80, 90, 100, 105},
			Tolerance:   2,
		},
		Correction: CorrectionConfig{
			MathVersion: "v2_ratio",
			ClampLimit:  0.07,
			TorqueFloor: 5,
		},
		Smoothing: SmoothingConfig{
			BasePasses:        2,
			GradientThreshold: 1.0,
		},
		Multicast: MulticastConfig{
			GroupAddress: getEnv("DYNOCAL_MULTICAST_GROUP", "239.51.12.1"),
			Port:         5130,
		},
	}
}

// Path returns the config file path inside dir.
func Path(dir string) string { return filepath.Join(dir, DefaultFileName) }

// Load reads and parses the config at path, or finds dynocal.yaml by
// walking up from the current directory when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DYNOCAL_CONFIG_PATH")
	}
	if path == "" {
		var err error
		path, err = find()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.CodeEmptyInput, "cannot read configuration file",
			fmt.Sprintf("failed to read %s", path),
			"check the file exists and is readable", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New(errs.CodeSchemaError, "invalid configuration format",
			"YAML parsing failed", "run 'dynocal init --force' to recreate it", err)
	}
	if cfg.Version != configVersion {
		return nil, errs.New(errs.CodeSchemaError, "unsupported configuration version",
			fmt.Sprintf("got %q, want %q", cfg.Version, configVersion),
			"run 'dynocal init --force' to regenerate the configuration", nil)
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// Save marshals cfg as YAML and writes it to path, creating the parent
// directory if needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.New(errs.CodeEncodeError, "cannot encode configuration", "", "", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func find() (string, error) {
	if p := os.Getenv("DYNOCAL_CONFIG_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", errs.New(errs.CodeSchemaError, "configuration file not found",
			fmt.Sprintf("DYNOCAL_CONFIG_PATH=%q does not exist", p), "", nil)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		p := Path(dir)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errs.New(errs.CodeSchemaError, "configuration not found",
		"no dynocal.yaml in the current directory or any parent",
		"run 'dynocal init' to create one", nil)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DYNOCAL_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("DYNOCAL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DYNOCAL_MULTICAST_GROUP"); v != "" {
		c.Multicast.GroupAddress = v
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
