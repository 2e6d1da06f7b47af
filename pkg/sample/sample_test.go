// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func validSample() Sample {
	return Sample{
		RPM:            2000,
		MAPKPa:         50,
		CommandedAFR:   [2]float64{13.2, 13.2},
		MeasuredAFR:    [2]float64{13.0, 13.4},
		IntakeAirTempC: 25,
		Torque:         80,
		KnockIntensity: 0,
		TimestampMS:    1000,
	}
}

func TestValidSamplePasses(t *testing.T) {
	require.True(t, validSample().Valid(DefaultPlausibilityWindow))
}

func TestNonFiniteRejected(t *testing.T) {
	s := validSample()
	s.Torque = math.NaN()
	require.False(t, s.Valid(DefaultPlausibilityWindow))

	s = validSample()
	s.RPM = math.Inf(1)
	require.False(t, s.Valid(DefaultPlausibilityWindow))
}

func TestAFROutsidePlausibilityWindowRejected(t *testing.T) {
	s := validSample()
	s.MeasuredAFR[0] = 20.0
	require.False(t, s.Valid(DefaultPlausibilityWindow))

	s = validSample()
	s.MeasuredAFR[1] = 5.0
	require.False(t, s.Valid(DefaultPlausibilityWindow))
}

func TestAFRAtWindowBoundaryAccepted(t *testing.T) {
	s := validSample()
	s.MeasuredAFR[0] = DefaultPlausibilityWindow.Min
	s.MeasuredAFR[1] = DefaultPlausibilityWindow.Max
	require.True(t, s.Valid(DefaultPlausibilityWindow))
}
