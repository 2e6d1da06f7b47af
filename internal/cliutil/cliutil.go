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

// Package cliutil holds the small pieces shared by every dynocal
// subcommand: global flag state, the slog logger they derive from it,
// and environment-variable lookups with a fallback.
package cliutil

import (
	"log/slog"
	"os"
)

// GlobalFlags holds the flags parsed once in main and threaded into
// every subcommand handler.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int // 0=warn, 1=-v info, 2=-vv debug
	Quiet   bool
}

// NewLogger builds the slog.Logger every component receives, with a
// level derived from the global verbosity/quiet flags. Quiet beats
// verbose: --json auto-enables quiet so progress/info logs never
// corrupt JSON stdout.
func NewLogger(g GlobalFlags) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case g.Quiet:
		level = slog.LevelError
	case g.Verbose >= 2:
		level = slog.LevelDebug
	case g.Verbose >= 1:
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// GetEnv retrieves an environment variable or returns a fallback value
// if it's unset or empty.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
