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

package liveingest

import (
	"sync"

	"github.com/kraklabs/dynocal/internal/errs"
)

// StallReason identifies why the listener entered the Stalled state.
// A listener that stalls stops dispatching frames until an operator
// clears it; these two conditions signal a misconfigured network
// rather than ordinary packet loss, which the sequence tracker already
// absorbs on its own.
type StallReason int

const (
	StallNone StallReason = iota
	StallAddressCollision
	StallInvalidVersion
)

func (r StallReason) String() string {
	switch r {
	case StallAddressCollision:
		return "address_collision"
	case StallInvalidVersion:
		return "invalid_version"
	default:
		return "none"
	}
}

// StallDetector watches incoming frames for two disqualifying
// conditions: two distinct source addresses claiming the same host ID
// (AddressCollision), and a frame carrying a protocol version this
// build doesn't understand (InvalidVersion). Once stalled it latches
// until Reset is called; it does not self-clear, since both
// conditions indicate a configuration problem an operator must fix.
type StallDetector struct {
	mu     sync.Mutex
	addrOf map[uint64]string
	reason StallReason
	detail string
}

// NewStallDetector returns a detector with no hosts seen and no stall
// latched.
func NewStallDetector() *StallDetector {
	return &StallDetector{addrOf: make(map[uint64]string)}
}

// Check validates one frame's host ID against its source address and
// protocol version. If the frame disqualifies the stream it latches
// the corresponding StallReason and returns a non-nil error; once
// latched, every subsequent call returns the same error until Reset.
func (d *StallDetector) Check(hostID uint64, version uint8, srcAddr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reason != StallNone {
		return d.errorForReason()
	}

	if !CheckVersion(version) {
		d.reason = StallInvalidVersion
		d.detail = srcAddr
		return errs.InvalidVersionErr(version)
	}

	if prev, ok := d.addrOf[hostID]; ok && prev != srcAddr {
		d.reason = StallAddressCollision
		d.detail = srcAddr
		return errs.AddressCollisionErr(hostID)
	}
	d.addrOf[hostID] = srcAddr
	return nil
}

// Stalled reports the latched stall reason, if any.
func (d *StallDetector) Stalled() (StallReason, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason, d.detail, d.reason != StallNone
}

// Reset clears the latched stall and forgets all known host addresses,
// so the stream can resume after an operator fixes the root cause.
func (d *StallDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reason = StallNone
	d.detail = ""
	d.addrOf = make(map[uint64]string)
}

func (d *StallDetector) errorForReason() error {
	switch d.reason {
	case StallAddressCollision:
		return errs.ErrAddressCollision
	case StallInvalidVersion:
		return errs.ErrInvalidVersion
	default:
		return nil
	}
}
