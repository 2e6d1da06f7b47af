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

// Package ui provides the CLI's colored status output: a small set of
// semantic print helpers (OK/Warn/Fail/Info) that degrade to plain text
// when color is disabled, redirected to a non-terminal, or NO_COLOR is set.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

// InitColors enables or disables color output globally based on the
// --no-color flag, the NO_COLOR environment variable, and whether
// stdout is a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// OK prints a green success line to stdout.
func OK(format string, args ...any) {
	okColor.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

// Warn prints a yellow warning line to stderr.
func Warn(format string, args ...any) {
	warnColor.Fprintf(os.Stderr, "! "+format+"\n", args...)
}

// Fail prints a red failure line to stderr.
func Fail(format string, args ...any) {
	failColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Info prints a cyan informational line to stdout.
func Info(format string, args ...any) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

// Plain prints an uncolored line to stdout, for output (e.g. JSON) that
// must never carry escape codes regardless of color settings.
func Plain(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
