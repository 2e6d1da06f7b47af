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

// Package vetable encodes and decodes a single-cylinder RPM x MAP table
// (base volumetric-efficiency values or a correction-multiplier grid) as
// a canonical, whitespace-insensitive text form. Encoding fixes float
// precision and row order so two encodings of an identical grid produce
// byte-identical output, which is what lets hashcodec digest them
// meaningfully.
package vetable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/grid"
)

// floatPrecision is the VE-table and correction-delta on-disk precision:
// exactly four fractional digits, fixed by the file-format contract.
const floatPrecision = 4

// Encode renders g as comma-separated rows, one grid row per line, in
// fixed row-major order with a trailing newline.
func Encode(g *grid.Grid[float64]) []byte {
	shape := g.Shape()
	var b strings.Builder
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(g.At(i, j), 'f', floatPrecision, 64))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Decode parses data produced by Encode into a Grid of the given shape.
// A row or column count mismatch is a ShapeMismatch error.
func Decode(data []byte, shape grid.Shape) (*grid.Grid[float64], error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	if len(lines) != shape.Rows {
		return nil, errs.ShapeMismatchErr([2]int{shape.Rows, shape.Cols}, [2]int{len(lines), 0})
	}

	out := grid.NewGrid[float64](shape)
	for i, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) != shape.Cols {
			return nil, errs.ShapeMismatchErr([2]int{shape.Rows, shape.Cols}, [2]int{i + 1, len(fields)})
		}
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("vetable: row %d col %d: %w", i, j, err)
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}

// EncodeDelta renders a correction multiplier grid as the on-disk
// correction-delta artifact: each cell is a signed percent-delta with
// four fractional digits ("+2.3456", "-7.0000"), "0.0000" meaning no
// correction, and an empty field marking a skipped cell. Conversion from
// the in-memory multiplier happens exactly here, at the artifact
// boundary.
func EncodeDelta(g *grid.Grid[float64], skipped *grid.Grid[bool]) []byte {
	shape := g.Shape()
	var b strings.Builder
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			if j > 0 {
				b.WriteByte(',')
			}
			if skipped != nil && skipped.At(i, j) {
				continue
			}
			b.WriteString(formatSignedDelta(percentDelta(g.At(i, j))))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeDelta parses a correction-delta artifact produced by EncodeDelta
// back into an in-memory multiplier grid. An empty field (skipped / no
// data) decodes to the identity multiplier 1.0.
func DecodeDelta(data []byte, shape grid.Shape) (*grid.Grid[float64], error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	if len(lines) != shape.Rows {
		return nil, errs.ShapeMismatchErr([2]int{shape.Rows, shape.Cols}, [2]int{len(lines), 0})
	}

	out := grid.NewGrid[float64](shape)
	for i, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) != shape.Cols {
			return nil, errs.ShapeMismatchErr([2]int{shape.Rows, shape.Cols}, [2]int{i + 1, len(fields)})
		}
		for j, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				out.Set(i, j, 1.0)
				continue
			}
			pct, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("vetable: row %d col %d: %w", i, j, err)
			}
			out.Set(i, j, 1+pct/100)
		}
	}
	return out, nil
}

func percentDelta(multiplier float64) float64 { return (multiplier - 1) * 100 }

func formatSignedDelta(pct float64) string {
	if pct == 0 {
		return strconv.FormatFloat(0, 'f', floatPrecision, 64)
	}
	sign := "+"
	if pct < 0 {
		sign = "-"
		pct = -pct
	}
	return sign + strconv.FormatFloat(pct, 'f', floatPrecision, 64)
}
