// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package smoothing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dynocal/pkg/grid"
)

// testAxes builds linearly-spaced RPM/MAP axes spanning a typical dyno
// envelope, sized to match a grid of the given shape.
func testAxes(rows, cols int) (grid.Axis, grid.Axis) {
	rpmBreaks := make([]float64, rows+1)
	for i := range rpmBreaks {
		rpmBreaks[i] = 800 + (7000-800)*float64(i)/float64(rows)
	}
	mapBreaks := make([]float64, cols+1)
	for j := range mapBreaks {
		mapBreaks[j] = 15 + (105-15)*float64(j)/float64(cols)
	}
	rpmAxis, _ := grid.NewAxis(rpmBreaks, 1.0)
	mapAxis, _ := grid.NewAxis(mapBreaks, 1.0)
	return rpmAxis, mapAxis
}

func uniformGrids(shape grid.Shape, corrValue float64, hits uint64) (*grid.Grid[float64], *grid.Grid[CellInput]) {
	corr := grid.NewGrid[float64](shape)
	in := grid.NewGrid[CellInput](shape)
	for i := 0; i < shape.Rows; i++ {
		for j := 0; j < shape.Cols; j++ {
			corr.Set(i, j, corrValue)
			in.Set(i, j, CellInput{Hits: hits})
		}
	}
	return corr, in
}

func TestPassCountTapering(t *testing.T) {
	require.Equal(t, 0, passCount(3.0, 2))
	require.Equal(t, 0, passCount(5.0, 2))
	require.Equal(t, 2, passCount(1.0, 2))
	require.Equal(t, 2, passCount(0.2, 2))
	require.Equal(t, 1, passCount(2.0, 2), "midpoint between 1.0 and 3.0 tapers to half the passes")
}

func TestSkippedCellStaysIdentity(t *testing.T) {
	shape := grid.Shape{Rows: 3, Cols: 3}
	corr, in := uniformGrids(shape, 1.10, 50)

	// Mark the center cell skipped even though it carries a correction
	// value; the smoother must not let it influence or receive a
	// non-identity output.
	in.Set(1, 1, CellInput{Hits: 0, Skipped: true})
	corr.Set(1, 1, 1.30)

	rpmAxis, mapAxis := testAxes(shape.Rows, shape.Cols)
	out := Smooth(corr, in, rpmAxis, mapAxis, Config{})
	require.Equal(t, 1.0, out.At(1, 1))
}

func TestStage1HighGradientCellResistsSmoothing(t *testing.T) {
	shape := grid.Shape{Rows: 3, Cols: 3}
	corr, in := uniformGrids(shape, 1.0, 50)

	// Center cell is a steep outlier relative to its flat neighborhood;
	// Stage 1's alpha term should keep it close to its own value rather
	// than average it away. Exercised directly on Stage 1 since Stage 2's
	// confidence clamp would otherwise mask the effect being tested.
	corr.Set(1, 1, 1.20)

	out := stage1GradientLimitedMean(corr, in, Config{}.withDefaults())
	require.InDelta(t, 1.20, out.At(1, 1), 1e-9)
}

func TestLowConfidenceCellClampedTighter(t *testing.T) {
	shape := grid.Shape{Rows: 1, Cols: 1}
	corr := grid.NewGrid[float64](shape)
	in := grid.NewGrid[CellInput](shape)

	// A single-cell axis pair placing the cell's RPM midpoint outside
	// [1200, 5500] resolves to the edge zone; 4 hits is above edge's
	// minimum of 3 but below its medium threshold of 15, so confidence
	// is low (+/-0.03).
	corr.Set(0, 0, 1.20)
	in.Set(0, 0, CellInput{Hits: 4})

	rpmAxis, _ := grid.NewAxis([]float64{700, 900}, 1.0)
	mapAxis, _ := grid.NewAxis([]float64{10, 20}, 1.0)
	out := Smooth(corr, in, rpmAxis, mapAxis, Config{})
	require.InDelta(t, 1.03, out.At(0, 0), 1e-9)
}

func TestSmoothIsDeterministic(t *testing.T) {
	shape := grid.Shape{Rows: 4, Cols: 4}
	rpmAxis, mapAxis := testAxes(shape.Rows, shape.Cols)
	build := func() *grid.Grid[float64] {
		corr, in := uniformGrids(shape, 1.0, 50)
		corr.Set(1, 2, 1.15)
		corr.Set(2, 1, 0.92)
		in.Set(0, 0, CellInput{Hits: 1})
		return Smooth(corr, in, rpmAxis, mapAxis, Config{})
	}

	a := build()
	b := build()
	a.Each(func(i, j int, v float64) {
		require.Equal(t, v, b.At(i, j))
	})
}

func TestSmoothNeverMutatesInput(t *testing.T) {
	shape := grid.Shape{Rows: 2, Cols: 2}
	corr, in := uniformGrids(shape, 1.10, 50)
	snapshot := corr.Clone()

	rpmAxis, mapAxis := testAxes(shape.Rows, shape.Cols)
	Smooth(corr, in, rpmAxis, mapAxis, Config{})

	corr.Each(func(i, j int, v float64) {
		require.Equal(t, snapshot.At(i, j), v)
	})
}
