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
	"time"

	"github.com/benbjohnson/clock"
)

// offsetSmoothing weights a new Cristian's-algorithm sample against the
// running estimate; picked to damp single-round-trip jitter without
// lagging a genuine clock drift by more than a few samples.
const offsetSmoothing = 0.25

type pingState struct {
	sentAt time.Time
}

type hostOffset struct {
	offset  time.Duration
	rtt     time.Duration
	haveEst bool
	pings   map[uint32]pingState
}

// ClockSync estimates, per remote host, the offset between that host's
// clock and ours using Cristian's algorithm: it timestamps an
// outbound Ping, and on the matching Pong computes the remote clock's
// offset from the round-trip midpoint.
type ClockSync struct {
	clock clock.Clock

	mu    sync.Mutex
	hosts map[uint64]*hostOffset
}

// NewClockSync builds a tracker using clk for wall-clock reads; pass
// clock.New() in production and clock.NewMock() in tests.
func NewClockSync(clk clock.Clock) *ClockSync {
	if clk == nil {
		clk = clock.New()
	}
	return &ClockSync{clock: clk, hosts: make(map[uint64]*hostOffset)}
}

// RecordPingSent notes the local send time of an outbound ping so the
// matching Pong can compute a round trip.
func (c *ClockSync) RecordPingSent(hostID uint64, seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.host(hostID)
	h.pings[seq] = pingState{sentAt: c.clock.Now()}
}

// ObservePong consumes the Pong matching (hostID, seq) carrying the
// remote's timestamp at the moment it replied, and folds the resulting
// offset sample into the running estimate. It reports false if no
// matching outbound ping is pending (a late or duplicate Pong).
func (c *ClockSync) ObservePong(hostID uint64, seq uint32, remoteTime time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.host(hostID)
	ps, ok := h.pings[seq]
	if !ok {
		return 0, false
	}
	delete(h.pings, seq)

	received := c.clock.Now()
	rtt := received.Sub(ps.sentAt)
	midpoint := ps.sentAt.Add(rtt / 2)
	sample := remoteTime.Sub(midpoint)

	if !h.haveEst {
		h.offset = sample
		h.haveEst = true
	} else {
		h.offset = h.offset + time.Duration(offsetSmoothing*float64(sample-h.offset))
	}
	h.rtt = rtt
	return h.offset, true
}

// Offset returns the current estimated clock offset for a host, or
// ok=false if no Pong has been observed yet.
func (c *ClockSync) Offset(hostID uint64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[hostID]
	if !ok || !h.haveEst {
		return 0, false
	}
	return h.offset, true
}

// Normalize converts a remote timestamp into local clock terms by
// subtracting the host's estimated offset, or returns t unchanged if
// no estimate exists yet.
func (c *ClockSync) Normalize(hostID uint64, t time.Time) time.Time {
	off, ok := c.Offset(hostID)
	if !ok {
		return t
	}
	return t.Add(-off)
}

// host returns (creating if absent) the offset-tracking state for a
// host. Callers must hold c.mu.
func (c *ClockSync) host(hostID uint64) *hostOffset {
	h, ok := c.hosts[hostID]
	if !ok {
		h = &hostOffset{pings: make(map[uint32]pingState)}
		c.hosts[hostID] = h
	}
	return h
}
