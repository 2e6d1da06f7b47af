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
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/dynocal/internal/errs"
)

// defaultQueueDepth bounds the listener's outbound queue (Pong replies
// and any operator-initiated requests). A slow or wedged network
// should never let the queue grow unbounded and exhaust memory; frames
// are dropped and counted instead once it's full.
const defaultQueueDepth = 64

const maxDatagramSize = 2048

// Handlers holds the callbacks invoked for each accepted frame kind.
// A nil handler simply skips that kind.
type Handlers struct {
	OnChannelInfo        func(Frame)
	OnChannelValues      func(Frame)
	OnClearChannelInfo   func(Frame)
	OnPing               func(Frame, *net.UDPAddr)
	OnPong               func(Frame)
	OnRequestChannelInfo func(Frame)
}

// Config configures a Listener.
type Config struct {
	GroupAddress string
	Port         int
	Interface    string
	HostID       uint64
	QueueDepth   int
	Clock        clock.Clock
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type outbound struct {
	frame Frame
	addr  *net.UDPAddr
}

// Listener joins a multicast group and dispatches received telemetry
// frames while tracking per-sender sequence continuity and the
// address-collision / invalid-version stall conditions. The listener
// sends no Ping and does not feed its Clock estimator; received Pongs
// go only to Handlers.OnPong.
type Listener struct {
	cfg      Config
	pc       *ipv4.PacketConn
	conn     net.PacketConn
	group    *net.UDPAddr
	handlers Handlers

	Sequence *SequenceTracker
	Stall    *StallDetector
	Clock    *ClockSync

	queue   chan outbound
	dropped uint64
}

// NewListener opens a UDP socket bound to cfg.Port, joins
// cfg.GroupAddress on cfg.Interface (or the default multicast-capable
// interface when empty), and returns a Listener ready for Run.
func NewListener(cfg Config, h Handlers) (*Listener, error) {
	cfg = cfg.withDefaults()

	group := &net.UDPAddr{IP: net.ParseIP(cfg.GroupAddress), Port: cfg.Port}
	if group.IP == nil {
		return nil, fmt.Errorf("liveingest: invalid multicast group address %q", cfg.GroupAddress)
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("liveingest: listen: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("liveingest: interface %q: %w", cfg.Interface, err)
		}
	}

	if err := pc.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("liveingest: join group %s: %w", group, err)
	}

	return &Listener{
		cfg:      cfg,
		pc:       pc,
		conn:     conn,
		group:    group,
		handlers: h,
		Sequence: NewSequenceTracker(),
		Stall:    NewStallDetector(),
		Clock:    NewClockSync(cfg.Clock),
		queue:    make(chan outbound, cfg.QueueDepth),
	}, nil
}

// Close leaves the multicast group and closes the underlying socket.
func (l *Listener) Close() error {
	_ = l.pc.LeaveGroup(nil, l.group)
	return l.conn.Close()
}

// Dropped returns the number of outbound frames discarded because the
// transmit queue was full.
func (l *Listener) Dropped() uint64 { return l.dropped }

// enqueue offers an outbound frame to the transmit queue without
// blocking. If the queue is full the frame is dropped and counted
// rather than backing up the reader loop that calls it.
func (l *Listener) enqueue(f Frame, addr *net.UDPAddr) {
	select {
	case l.queue <- outbound{frame: f, addr: addr}:
	default:
		l.dropped++
		l.cfg.Logger.Warn("liveingest: transmit queue full, dropping frame",
			"kind", f.Kind.String(), "depth", cap(l.queue))
	}
}

// Run drives the read and write loops until ctx is canceled or either
// loop returns an unrecoverable error.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.readLoop(ctx) })
	g.Go(func() error { return l.writeLoop(ctx) })
	return g.Wait()
}

func (l *Listener) readLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("liveingest: read: %w", err)
		}

		udpSrc, _ := src.(*net.UDPAddr)
		l.handleDatagram(buf[:n], udpSrc)
	}
}

func (l *Listener) handleDatagram(raw []byte, src *net.UDPAddr) {
	f, err := Decode(raw)
	if err != nil {
		l.cfg.Logger.Warn("liveingest: malformed frame", "err", err, "src", src)
		return
	}

	var srcKey string
	if src != nil {
		srcKey = src.String()
	}
	if err := l.Stall.Check(f.HostID, f.Version, srcKey); err != nil {
		l.cfg.Logger.Error("liveingest: stalling", "err", err, "host_id", f.HostID)
		return
	}

	if f.HostID != l.cfg.HostID {
		res := l.Sequence.Accept(f.HostID, f.Seq)
		if res.Outcome == SeqGap {
			l.cfg.Logger.Warn("liveingest: sequence gap", "host_id", f.HostID, "missed", res.Missed)
		}
	}

	l.dispatch(f, src)
}

func (l *Listener) dispatch(f Frame, src *net.UDPAddr) {
	switch f.Kind {
	case KindChannelInfo:
		if l.handlers.OnChannelInfo != nil {
			l.handlers.OnChannelInfo(f)
		}
	case KindChannelValues:
		if l.handlers.OnChannelValues != nil {
			l.handlers.OnChannelValues(f)
		}
	case KindClearChannelInfo:
		if l.handlers.OnClearChannelInfo != nil {
			l.handlers.OnClearChannelInfo(f)
		}
	case KindPing:
		l.replyPong(f, src)
		if l.handlers.OnPing != nil {
			l.handlers.OnPing(f, src)
		}
	case KindPong:
		if l.handlers.OnPong != nil {
			l.handlers.OnPong(f)
		}
	case KindRequestChannelInfo:
		if l.handlers.OnRequestChannelInfo != nil {
			l.handlers.OnRequestChannelInfo(f)
		}
	}
}

func (l *Listener) replyPong(ping Frame, src *net.UDPAddr) {
	if src == nil {
		return
	}
	pong := Frame{
		Version: ping.Version,
		Kind:    KindPong,
		HostID:  l.cfg.HostID,
		Seq:     ping.Seq,
		Payload: encodeTimestamp(l.cfg.Clock),
	}
	l.enqueue(pong, src)
}

func (l *Listener) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-l.queue:
			raw := Encode(out.frame)
			if _, err := l.pc.WriteTo(raw, nil, out.addr); err != nil {
				l.cfg.Logger.Warn("liveingest: write failed", "err", err, "addr", out.addr)
			}
		}
	}
}

// encodeTimestamp packs the current clock time (per Config.Clock) into
// a Pong payload as nanoseconds-since-epoch, big-endian.
func encodeTimestamp(clk clock.Clock) []byte {
	ns := clk.Now().UnixNano()
	buf := make([]byte, 8)
	u := uint64(ns)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

// DecodeTimestamp unpacks a Pong payload produced by encodeTimestamp.
func DecodeTimestamp(payload []byte) (int64, error) {
	if len(payload) != 8 {
		return 0, errs.MalformedFrameErr("pong payload must be 8 bytes")
	}
	var u uint64
	for _, b := range payload {
		u = u<<8 | uint64(b)
	}
	return int64(u), nil
}
