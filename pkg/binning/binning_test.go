// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package binning

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dynocal/pkg/grid"
	"github.com/kraklabs/dynocal/pkg/sample"
)

func axes(t *testing.T) (grid.Axis, grid.Axis) {
	t.Helper()
	rpm, ok := grid.NewAxis([]float64{1000, 1500, 2000, 2500, 3000, 3500}, 10)
	require.True(t, ok)
	mp, ok := grid.NewAxis([]float64{20, 40, 60, 80, 100}, 2)
	require.True(t, ok)
	return rpm, mp
}

func TestClampEnforcement(t *testing.T) {
	rpm, mp := axes(t)
	c := New(rpm, mp, Config{ClampLimit: 0.07})

	// cell (2000 RPM, 80 kPa): ratio 1.2 -> must clamp to exactly 1.07
	for k := 0; k < 20; k++ {
		c.Accumulate(sample.Sample{
			RPM: 2000, MAPKPa: 80, Torque: 50,
			CommandedAFR: [2]float64{13.0, 13.0},
			MeasuredAFR:  [2]float64{13.0 * 1.2, 13.0 * 1.2},
		})
	}

	g, err := c.Freeze()
	require.NoError(t, err)

	i, _ := rpm.Index(2000)
	j, _ := mp.Index(80)
	require.InDelta(t, 1.07, g.Corrections[0].At(i, j), 1e-9)
	require.True(t, g.Diagnostics[0].At(i, j).Clamped)
}

func TestHitGating(t *testing.T) {
	rpm, mp := axes(t)
	c := New(rpm, mp, Config{ClampLimit: 0.07})

	for k := 0; k < 2; k++ { // below min hits of 3
		c.Accumulate(sample.Sample{
			RPM: 3000, MAPKPa: 80, Torque: 50,
			CommandedAFR: [2]float64{13.0, 13.0},
			MeasuredAFR:  [2]float64{14.0, 14.0},
		})
	}

	g, err := c.Freeze()
	require.NoError(t, err)

	i, _ := rpm.Index(3000)
	j, _ := mp.Index(80)
	require.Equal(t, 1.0, g.Corrections[0].At(i, j))
	require.True(t, g.Diagnostics[0].At(i, j).Skipped)
}

func TestZeroHitsEmitsIdentity(t *testing.T) {
	rpm, mp := axes(t)
	c := New(rpm, mp, Config{})
	g, err := c.Freeze()
	require.NoError(t, err)
	require.Equal(t, 1.0, g.Corrections[0].At(0, 0))
	require.True(t, g.Diagnostics[0].At(0, 0).Skipped)
}

func TestOutOfRangeCounted(t *testing.T) {
	rpm, mp := axes(t)
	c := New(rpm, mp, Config{})
	c.Accumulate(sample.Sample{RPM: 99999, MAPKPa: 50, Torque: 10, CommandedAFR: [2]float64{13, 13}, MeasuredAFR: [2]float64{13, 13}})
	require.Equal(t, uint64(1), c.OutOfRange())
}

func TestExtremeCorrectionCheck(t *testing.T) {
	rpm, mp := axes(t)
	c := New(rpm, mp, Config{ClampLimit: 0.07})
	for k := 0; k < 10; k++ {
		c.Accumulate(sample.Sample{
			RPM: 2000, MAPKPa: 80, Torque: 50,
			CommandedAFR: [2]float64{13.0, 13.0},
			MeasuredAFR:  [2]float64{13.0 * 1.40, 13.0 * 1.40}, // raw ratio 1.4 > 1.25 block
		})
	}
	g, err := c.Freeze()
	require.NoError(t, err)
	require.Error(t, ExtremeCorrectionCheck(g))
}

func TestDeterministicFreeze(t *testing.T) {
	rpm, mp := axes(t)
	build := func() Grid {
		c := New(rpm, mp, Config{ClampLimit: 0.07})
		for k := 0; k < 15; k++ {
			c.Accumulate(sample.Sample{
				RPM: 1500 + float64(k), MAPKPa: 55, Torque: 40,
				CommandedAFR: [2]float64{13.1, 13.1},
				MeasuredAFR:  [2]float64{13.3, 12.9},
			})
		}
		g, err := c.Freeze()
		require.NoError(t, err)
		return g
	}

	a := build()
	b := build()
	a.Corrections[0].Each(func(i, j int, v float64) {
		require.Equal(t, v, b.Corrections[0].At(i, j))
	})
}
