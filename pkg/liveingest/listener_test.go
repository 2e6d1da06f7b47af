// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveingest

import (
	"net"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestListener(t *testing.T, depth int) *Listener {
	t.Helper()
	cfg := Config{HostID: 1, QueueDepth: depth, Clock: clock.NewMock()}.withDefaults()
	return &Listener{
		cfg:      cfg,
		Sequence: NewSequenceTracker(),
		Stall:    NewStallDetector(),
		Clock:    NewClockSync(cfg.Clock),
		queue:    make(chan outbound, cfg.QueueDepth),
	}
}

func TestEncodeDecodeTimestampRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	payload := encodeTimestamp(mock)
	got, err := DecodeTimestamp(payload)
	require.NoError(t, err)
	require.Equal(t, mock.Now().UnixNano(), got)
}

func TestDecodeTimestampRejectsWrongLength(t *testing.T) {
	_, err := DecodeTimestamp([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	l := newTestListener(t, 1)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5130}

	l.enqueue(Frame{Kind: KindPong}, addr)
	l.enqueue(Frame{Kind: KindPong}, addr) // queue depth 1, this one drops
	require.Equal(t, uint64(1), l.Dropped())
	require.Len(t, l.queue, 1)
}

func TestDispatchRoutesChannelValues(t *testing.T) {
	l := newTestListener(t, 4)
	var got Frame
	l.handlers = Handlers{OnChannelValues: func(f Frame) { got = f }}

	l.dispatch(Frame{Kind: KindChannelValues, Seq: 9}, nil)
	require.Equal(t, uint32(9), got.Seq)
}

func TestDispatchPingTriggersPongAndHandler(t *testing.T) {
	l := newTestListener(t, 4)
	called := false
	l.handlers = Handlers{OnPing: func(f Frame, addr *net.UDPAddr) { called = true }}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}

	l.dispatch(Frame{Kind: KindPing, Seq: 3}, addr)
	require.True(t, called)
	require.Len(t, l.queue, 1)

	out := <-l.queue
	require.Equal(t, KindPong, out.frame.Kind)
	require.Equal(t, uint32(3), out.frame.Seq)
	require.Equal(t, addr, out.addr)
}

func TestHandleDatagramDropsMalformed(t *testing.T) {
	l := newTestListener(t, 4)
	called := false
	l.handlers = Handlers{OnChannelValues: func(f Frame) { called = true }}

	l.handleDatagram([]byte{0, 1, 2}, nil)
	require.False(t, called)
}

func TestHandleDatagramTracksSequenceForOtherHosts(t *testing.T) {
	l := newTestListener(t, 4)
	l.cfg.HostID = 99 // our own id, excluded from sequence tracking

	f1 := Frame{Version: protocolVersion, Kind: KindChannelValues, HostID: 1, Seq: 1}
	l.handleDatagram(Encode(f1), nil)
	f2 := Frame{Version: protocolVersion, Kind: KindChannelValues, HostID: 1, Seq: 5}
	l.handleDatagram(Encode(f2), nil)

	total, missed, ok := l.Sequence.Stats(1)
	require.True(t, ok)
	require.Equal(t, uint64(2), total)
	require.Equal(t, uint64(3), missed)
}

func TestHandleDatagramLatchesStallOnCollision(t *testing.T) {
	l := newTestListener(t, 4)
	src1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	src2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}

	l.handleDatagram(Encode(Frame{Version: protocolVersion, Kind: KindPing, HostID: 7}), src1)
	l.handleDatagram(Encode(Frame{Version: protocolVersion, Kind: KindPing, HostID: 7}), src2)

	reason, _, stalled := l.Stall.Stalled()
	require.True(t, stalled)
	require.Equal(t, StallAddressCollision, reason)
}
