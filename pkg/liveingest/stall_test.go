// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveingest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dynocal/internal/errs"
)

func TestStallDetectorAcceptsConsistentStream(t *testing.T) {
	d := NewStallDetector()
	require.NoError(t, d.Check(1, protocolVersion, "10.0.0.5:5130"))
	require.NoError(t, d.Check(1, protocolVersion, "10.0.0.5:5130"))
	reason, _, stalled := d.Stalled()
	require.False(t, stalled)
	require.Equal(t, StallNone, reason)
}

func TestStallDetectorLatchesAddressCollision(t *testing.T) {
	d := NewStallDetector()
	require.NoError(t, d.Check(1, protocolVersion, "10.0.0.5:5130"))
	err := d.Check(1, protocolVersion, "10.0.0.9:5130")
	require.ErrorIs(t, err, errs.ErrAddressCollision)

	reason, detail, stalled := d.Stalled()
	require.True(t, stalled)
	require.Equal(t, StallAddressCollision, reason)
	require.Equal(t, "10.0.0.9:5130", detail)

	// once latched, further frames fail the same way regardless of content
	err = d.Check(2, protocolVersion, "10.0.0.5:5130")
	require.ErrorIs(t, err, errs.ErrAddressCollision)
}

func TestStallDetectorLatchesInvalidVersion(t *testing.T) {
	d := NewStallDetector()
	err := d.Check(1, protocolVersion+1, "10.0.0.5:5130")
	require.ErrorIs(t, err, errs.ErrInvalidVersion)

	reason, _, stalled := d.Stalled()
	require.True(t, stalled)
	require.Equal(t, StallInvalidVersion, reason)
}

func TestStallDetectorResetClearsState(t *testing.T) {
	d := NewStallDetector()
	_ = d.Check(1, protocolVersion+1, "10.0.0.5:5130")
	d.Reset()

	_, _, stalled := d.Stalled()
	require.False(t, stalled)
	require.NoError(t, d.Check(1, protocolVersion, "10.0.0.5:5130"))
}

func TestStallReasonString(t *testing.T) {
	require.Equal(t, "none", StallNone.String())
	require.Equal(t, "address_collision", StallAddressCollision.String())
	require.Equal(t, "invalid_version", StallInvalidVersion.String())
}
