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

// Package runner launches isolated analyze/apply runs concurrently on
// the same process. Each run is isolated by its own output directory
// and in-memory accumulators, so the only thing this package
// coordinates is fan-out and first-error propagation; no process-wide
// mutable state crosses into a run's numeric core.
package runner

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// defaultLimit caps how many runs execute concurrently, so a large
// batch of queued runs doesn't open an unbounded number of file
// handles or threads at once.
const defaultLimit = 4

// Run is one isolated unit of work: Exec must not share mutable state
// with any other Run's Exec beyond what's passed in through ID-scoped
// paths.
type Run struct {
	ID   string
	Exec func(ctx context.Context) error
}

// Options configures a batch.
type Options struct {
	// Limit bounds concurrent runs. Zero uses defaultLimit; negative
	// means unbounded.
	Limit  int
	Logger *slog.Logger
}

// All executes every run concurrently, each on its own goroutine,
// bounded by opts.Limit. It returns the first error encountered (if
// any) and cancels the shared context so sibling runs still in
// progress wind down promptly; it still waits for every run to return
// before giving back control.
func All(ctx context.Context, runs []Run, opts Options) error {
	limit := opts.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, r := range runs {
		r := r
		g.Go(func() error {
			logger.Info("runner: starting run", "run_id", r.ID)
			if err := r.Exec(gctx); err != nil {
				logger.Error("runner: run failed", "run_id", r.ID, "err", err)
				return err
			}
			logger.Info("runner: run complete", "run_id", r.ID)
			return nil
		})
	}
	return g.Wait()
}
