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

package main

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/dynocal/internal/cliutil"
	"github.com/kraklabs/dynocal/internal/ui"
	"github.com/kraklabs/dynocal/pkg/liveingest"
)

func runLive(args []string, configPath string, globals cliutil.GlobalFlags) error {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	group := fs.String("group", "", "Override the configured multicast group address")
	port := fs.Int("port", 0, "Override the configured multicast port")
	iface := fs.String("interface", "", "Override the configured network interface")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	groupAddr := cfg.Multicast.GroupAddress
	if *group != "" {
		groupAddr = *group
	}
	listenPort := cfg.Multicast.Port
	if *port != 0 {
		listenPort = *port
	}
	listenIface := cfg.Multicast.Interface
	if *iface != "" {
		listenIface = *iface
	}

	logger := cliutil.NewLogger(globals)

	l, err := liveingest.NewListener(liveingest.Config{
		GroupAddress: groupAddr,
		Port:         listenPort,
		Interface:    listenIface,
		HostID:       rand.Uint64(),
		Logger:       logger,
	}, liveingest.Handlers{
		OnChannelValues: func(f liveingest.Frame) {
			logger.Debug("live: channel values", "host_id", f.HostID, "seq", f.Seq, "bytes", len(f.Payload))
		},
		OnPing: func(f liveingest.Frame, src *net.UDPAddr) {
			logger.Debug("live: ping", "host_id", f.HostID, "src", src)
		},
	})
	if err != nil {
		return err
	}
	defer l.Close()

	ui.OK("listening on %s:%d (%s)", groupAddr, listenPort, listenIface)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = l.Run(ctx)
	if errors.Is(err, context.Canceled) {
		ui.Info("live: shutting down (%d frames dropped)", l.Dropped())
		return nil
	}
	return err
}
