// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dynocal/internal/errs"
	"github.com/kraklabs/dynocal/pkg/pathguard"
)

func TestWriteManifestIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	g, err := pathguard.New(dir, "")
	require.NoError(t, err)

	m := Manifest{
		SchemaID: SchemaID,
		Status:   Status{Code: "ok"},
		Stats:    Stats{RowsRead: 100, RowsDropped: 2, BinsTotal: 50, BinsCovered: 30},
		Timing:   Timing{StartUTC: "2026-01-01T00:00:00Z", EndUTC: "2026-01-01T00:01:00Z"},
	}

	p1, err := g.Resolve("a.json", false)
	require.NoError(t, err)
	require.NoError(t, Write(p1, m))

	p2, err := g.Resolve("b.json", false)
	require.NoError(t, err)
	require.NoError(t, Write(p2, m))

	a, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestWriteManifestCoverageIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	g, err := pathguard.New(dir, "")
	require.NoError(t, err)

	m := Manifest{
		SchemaID: SchemaID,
		Status:   Status{Code: "ok"},
		Coverage: map[string]CylinderCoverage{
			"front": {Percentage: 87.5, Zones: []ZoneCoverage{
				{Zone: "cruise", TotalCells: 10, SufficientCells: 9},
				{Zone: "edge", TotalCells: 4, SufficientCells: 1},
			}},
			"rear": {Percentage: 60, Zones: []ZoneCoverage{
				{Zone: "cruise", TotalCells: 10, SufficientCells: 6},
			}},
		},
	}

	p1, err := g.Resolve("a.json", false)
	require.NoError(t, err)
	require.NoError(t, Write(p1, m))
	p2, err := g.Resolve("b.json", false)
	require.NoError(t, err)
	require.NoError(t, Write(p2, m))

	a, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestLoadApplyMetadataMissingFileIsMetadataMissing(t *testing.T) {
	dir := t.TempDir()
	g, err := pathguard.New(dir, "")
	require.NoError(t, err)
	p, err := g.Resolve("missing.json", false)
	require.NoError(t, err)

	_, err = LoadApplyMetadata(p, func(pathguard.ResolvedPath) ([]byte, error) {
		return nil, os.ErrNotExist
	})
	require.ErrorIs(t, err, errs.ErrMetadataMissing)
}

func TestLoadApplyMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g, err := pathguard.New(dir, "")
	require.NoError(t, err)
	p, err := g.Resolve("meta.json", false)
	require.NoError(t, err)

	md := ApplyMetadata{
		BaseSHA256:       "abc",
		CorrectionSHA256: "def",
		OutputSHA256:     "ghi",
		AppliedAtUTC:     "2026-01-01T00:00:00Z",
		ClampPct:         0.07,
		AppVersion:       "test",
	}
	require.NoError(t, WriteApplyMetadata(p, md))

	got, err := LoadApplyMetadata(p, func(rp pathguard.ResolvedPath) ([]byte, error) {
		return os.ReadFile(rp.String())
	})
	require.NoError(t, err)
	require.Equal(t, md, got)
}
