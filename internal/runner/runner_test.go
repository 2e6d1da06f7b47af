// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllRunsEverythingWhenNoError(t *testing.T) {
	var count int64
	runs := make([]Run, 10)
	for i := range runs {
		runs[i] = Run{ID: "ok", Exec: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}}
	}
	err := All(context.Background(), runs, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(10), count)
}

func TestAllPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	runs := []Run{
		{ID: "a", Exec: func(ctx context.Context) error { return nil }},
		{ID: "b", Exec: func(ctx context.Context) error { return boom }},
	}
	err := All(context.Background(), runs, Options{})
	require.ErrorIs(t, err, boom)
}

func TestAllCancelsSiblingsOnError(t *testing.T) {
	boom := errors.New("boom")
	canceled := make(chan struct{}, 1)
	runs := []Run{
		{ID: "fails", Exec: func(ctx context.Context) error { return boom }},
		{ID: "waits", Exec: func(ctx context.Context) error {
			<-ctx.Done()
			canceled <- struct{}{}
			return ctx.Err()
		}},
	}
	err := All(context.Background(), runs, Options{Limit: 2})
	require.Error(t, err)
	<-canceled
}

func TestAllRespectsConcurrencyLimit(t *testing.T) {
	var active, maxActive int64
	runs := make([]Run, 8)
	for i := range runs {
		runs[i] = Run{ID: "x", Exec: func(ctx context.Context) error {
			n := atomic.AddInt64(&active, 1)
			for {
				cur := atomic.LoadInt64(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt64(&maxActive, cur, n) {
					break
				}
			}
			atomic.AddInt64(&active, -1)
			return nil
		}}
	}
	require.NoError(t, All(context.Background(), runs, Options{Limit: 2}))
	require.LessOrEqual(t, atomic.LoadInt64(&maxActive), int64(2))
}
