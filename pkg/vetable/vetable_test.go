// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/grid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	shape := grid.Shape{Rows: 2, Cols: 3}
	g := grid.NewGrid[float64](shape)
	g.Set(0, 0, 1.0)
	g.Set(0, 1, 1.07)
	g.Set(0, 2, 0.93)
	g.Set(1, 0, 1.5)
	g.Set(1, 1, 2.25)
	g.Set(1, 2, 0.0001)

	encoded := Encode(g)
	decoded, err := Decode(encoded, shape)
	require.NoError(t, err)
	g.Each(func(i, j int, v float64) {
		require.InDelta(t, v, decoded.At(i, j), 1e-6)
	})
}

func TestEncodeIsDeterministic(t *testing.T) {
	shape := grid.Shape{Rows: 2, Cols: 2}
	g := grid.NewGrid[float64](shape)
	g.Set(0, 0, 1.23456789)
	g.Set(1, 1, 0.1)

	require.Equal(t, Encode(g), Encode(g))
}

func TestDecodeRejectsRowCountMismatch(t *testing.T) {
	_, err := Decode([]byte("1,2\n"), grid.Shape{Rows: 2, Cols: 2})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeShapeMismatch, e.Code)
}

func TestDecodeRejectsColumnCountMismatch(t *testing.T) {
	_, err := Decode([]byte("1,2,3\n4,5\n"), grid.Shape{Rows: 2, Cols: 2})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeShapeMismatch, e.Code)
}

func TestEncodeUsesFourFractionalDigits(t *testing.T) {
	shape := grid.Shape{Rows: 1, Cols: 2}
	g := grid.NewGrid[float64](shape)
	g.Set(0, 0, 8.0)
	g.Set(0, 1, 0.0)

	require.Equal(t, "8.0000,0.0000\n", string(Encode(g)))
}

func TestEncodeDeltaFormatsSignedPercent(t *testing.T) {
	shape := grid.Shape{Rows: 1, Cols: 4}
	g := grid.NewGrid[float64](shape)
	g.Set(0, 0, 1.077)  // +7.70% -> +7.7000
	g.Set(0, 1, 0.93)   // -7%    -> -7.0000
	g.Set(0, 2, 1.0)    // no change -> 0.0000
	g.Set(0, 3, 1.5)    // skipped -> empty field

	skipped := grid.NewGrid[bool](shape)
	skipped.Set(0, 3, true)

	require.Equal(t, "+7.7000,-7.0000,0.0000,\n", string(EncodeDelta(g, skipped)))
}

func TestDecodeDeltaRecoversMultiplier(t *testing.T) {
	shape := grid.Shape{Rows: 1, Cols: 4}
	decoded, err := DecodeDelta([]byte("+7.7000,-7.0000,0.0000,\n"), shape)
	require.NoError(t, err)
	require.InDelta(t, 1.077, decoded.At(0, 0), 1e-9)
	require.InDelta(t, 0.93, decoded.At(0, 1), 1e-9)
	require.InDelta(t, 1.0, decoded.At(0, 2), 1e-9)
	require.InDelta(t, 1.0, decoded.At(0, 3), 1e-9, "empty field (skipped) decodes to the identity multiplier")
}

func TestEncodeDeltaDecodeDeltaRoundTrip(t *testing.T) {
	shape := grid.Shape{Rows: 2, Cols: 2}
	g := grid.NewGrid[float64](shape)
	g.Set(0, 0, 1.0234)
	g.Set(0, 1, 0.95)
	g.Set(1, 0, 1.0)
	g.Set(1, 1, 1.15)

	encoded := EncodeDelta(g, grid.NewGrid[bool](shape))
	decoded, err := DecodeDelta(encoded, shape)
	require.NoError(t, err)
	g.Each(func(i, j int, v float64) {
		require.InDelta(t, v, decoded.At(i, j), 1e-6)
	})
}

func TestDecodeDeltaRejectsShapeMismatch(t *testing.T) {
	_, err := DecodeDelta([]byte("+1.0000\n"), grid.Shape{Rows: 2, Cols: 1})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeShapeMismatch, e.Code)
}
