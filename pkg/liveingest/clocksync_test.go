// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveingest

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestClockSyncObservePongWithoutPingFails(t *testing.T) {
	cs := NewClockSync(clock.NewMock())
	_, ok := cs.ObservePong(1, 7, time.Now())
	require.False(t, ok)
}

func TestClockSyncEstimatesOffsetFromSymmetricRTT(t *testing.T) {
	mock := clock.NewMock()
	cs := NewClockSync(mock)

	cs.RecordPingSent(1, 1)
	mock.Add(50 * time.Millisecond) // one-way trip

	remoteTime := mock.Now().Add(2 * time.Hour) // remote is 2h ahead
	mock.Add(50 * time.Millisecond)             // return trip, RTT=100ms, symmetric

	off, ok := cs.ObservePong(1, 1, remoteTime)
	require.True(t, ok)
	require.InDelta(t, 2*time.Hour, off, float64(5*time.Millisecond))
}

func TestClockSyncOffsetUnknownHost(t *testing.T) {
	cs := NewClockSync(clock.NewMock())
	_, ok := cs.Offset(42)
	require.False(t, ok)
}

func TestClockSyncNormalizeWithoutEstimateReturnsInput(t *testing.T) {
	cs := NewClockSync(clock.NewMock())
	now := time.Now()
	require.Equal(t, now, cs.Normalize(1, now))
}

func TestClockSyncSmoothsSuccessiveSamples(t *testing.T) {
	mock := clock.NewMock()
	cs := NewClockSync(mock)

	cs.RecordPingSent(1, 1)
	mock.Add(10 * time.Millisecond)
	first, _ := cs.ObservePong(1, 1, mock.Now().Add(1*time.Second))

	cs.RecordPingSent(1, 2)
	mock.Add(10 * time.Millisecond)
	second, ok := cs.ObservePong(1, 2, mock.Now().Add(2*time.Second))
	require.True(t, ok)

	// second estimate should move toward the new 2s sample but not jump
	// all the way there in one step.
	require.Greater(t, second, first)
	require.Less(t, second, 2*time.Second)
}

func TestClockSyncDuplicatePongIgnored(t *testing.T) {
	mock := clock.NewMock()
	cs := NewClockSync(mock)
	cs.RecordPingSent(1, 5)
	_, ok := cs.ObservePong(1, 5, mock.Now())
	require.True(t, ok)

	_, ok = cs.ObservePong(1, 5, mock.Now())
	require.False(t, ok)
}
