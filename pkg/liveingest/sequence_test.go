// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceFirstFrameIsInOrder(t *testing.T) {
	tr := NewSequenceTracker()
	res := tr.Accept(1, 100)
	require.Equal(t, SeqInOrder, res.Outcome)
}

func TestSequenceAdvancesByOne(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 10)
	res := tr.Accept(1, 11)
	require.Equal(t, SeqInOrder, res.Outcome)
}

func TestSequenceDetectsDuplicate(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 10)
	res := tr.Accept(1, 10)
	require.Equal(t, SeqDuplicate, res.Outcome)
}

func TestSequenceDetectsReorder(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 10)
	tr.Accept(1, 11)
	res := tr.Accept(1, 9)
	require.Equal(t, SeqReordered, res.Outcome)
}

func TestSequenceDetectsGapAndCountsMissed(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 10)
	res := tr.Accept(1, 15)
	require.Equal(t, SeqGap, res.Outcome)
	require.Equal(t, uint32(4), res.Missed)

	total, missed, ok := tr.Stats(1)
	require.True(t, ok)
	require.Equal(t, uint64(2), total)
	require.Equal(t, uint64(4), missed)
}

func TestSequenceWrapsAroundUint32(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, ^uint32(0)) // max uint32
	res := tr.Accept(1, 0)
	require.Equal(t, SeqInOrder, res.Outcome)
}

func TestSequenceTracksHostsIndependently(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 5)
	res := tr.Accept(2, 0)
	require.Equal(t, SeqInOrder, res.Outcome)
}

func TestSequenceForgetResetsHost(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Accept(1, 10)
	tr.Forget(1)
	res := tr.Accept(1, 0)
	require.Equal(t, SeqInOrder, res.Outcome)
	_, _, ok := tr.Stats(1)
	require.True(t, ok)
}

func TestSequenceStatsUnknownHost(t *testing.T) {
	tr := NewSequenceTracker()
	_, _, ok := tr.Stats(99)
	require.False(t, ok)
}
