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

import "sync"

// SeqOutcome classifies how a received sequence number relates to the
// last one seen from the same host.
type SeqOutcome int

const (
	SeqInOrder SeqOutcome = iota
	SeqDuplicate
	SeqReordered
	SeqGap
)

// SeqResult reports the outcome of tracking one frame's sequence number,
// plus how many frames were apparently lost (Missed, only set for SeqGap).
type SeqResult struct {
	Outcome SeqOutcome
	Missed  uint32
}

type remoteState struct {
	lastSeq     uint32
	initialized bool
	total       uint64
	missed      uint64
}

// SequenceTracker tracks per-host frame sequence continuity. A single
// mutex guards both the last-seen sequence and the loss counters
// together, so a reader can never observe one updated without the
// other — splitting them into separate locks would let a concurrent
// Accept interleave a sequence update with a stale loss count.
type SequenceTracker struct {
	mu    sync.Mutex
	hosts map[uint64]*remoteState
}

// NewSequenceTracker returns an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{hosts: make(map[uint64]*remoteState)}
}

// Accept records a received (hostID, seq) pair and classifies it
// relative to the host's prior sequence. Sequence numbers wrap at
// 2^32; the comparison uses signed-delta arithmetic so a wrap is
// indistinguishable from ordinary forward progress.
func (t *SequenceTracker) Accept(hostID uint64, seq uint32) SeqResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.hosts[hostID]
	if !ok {
		st = &remoteState{}
		t.hosts[hostID] = st
	}
	st.total++

	if !st.initialized {
		st.initialized = true
		st.lastSeq = seq
		return SeqResult{Outcome: SeqInOrder}
	}

	delta := int32(seq - st.lastSeq)
	switch {
	case delta == 0:
		return SeqResult{Outcome: SeqDuplicate}
	case delta < 0:
		return SeqResult{Outcome: SeqReordered}
	case delta == 1:
		st.lastSeq = seq
		return SeqResult{Outcome: SeqInOrder}
	default:
		missed := uint32(delta - 1)
		st.missed += uint64(missed)
		st.lastSeq = seq
		return SeqResult{Outcome: SeqGap, Missed: missed}
	}
}

// Stats returns the total frames accepted and the cumulative missed
// count for a host, or ok=false if the host has never been seen.
func (t *SequenceTracker) Stats(hostID uint64) (total, missed uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, found := t.hosts[hostID]
	if !found {
		return 0, 0, false
	}
	return st.total, st.missed, true
}

// Forget drops tracking state for a host, e.g. after it's been idle
// past a timeout or displaced in an address collision.
func (t *SequenceTracker) Forget(hostID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.hosts, hostID)
}
