// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package binning

import "github.com/kraklabs/dynocal/pkg/grid"

// ZoneStat is the per-zone tally feeding the cell-weighted coverage
// percentage.
type ZoneStat struct {
	TotalCells      int
	SufficientCells int
}

// Coverage is the manifest-bound coverage summary for one cylinder.
type Coverage struct {
	Zones      map[grid.Zone]ZoneStat
	Percentage float64
}

// ComputeCoverage partitions g's diagnostics into the five zones and
// computes the cell-weighted coverage percentage from :
//
//	Σ(sufficient_cells_z * weight_z) / Σ(total_cells_z * weight_z)
func ComputeCoverage(diag *grid.Grid[CellDiagnostic]) Coverage {
	zones := map[grid.Zone]ZoneStat{
		grid.ZoneCruise:       {},
		grid.ZonePartThrottle: {},
		grid.ZoneWOT:          {},
		grid.ZoneDecel:        {},
		grid.ZoneEdge:         {},
	}

	diag.Each(func(i, j int, d CellDiagnostic) {
		z := zones[d.Zone]
		z.TotalCells++
		if !d.Skipped {
			z.SufficientCells++
		}
		zones[d.Zone] = z
	})

	var weightedSufficient, weightedTotal float64
	for z, stat := range zones {
		w := z.Weight()
		weightedSufficient += float64(stat.SufficientCells) * w
		weightedTotal += float64(stat.TotalCells) * w
	}

	pct := 0.0
	if weightedTotal > 0 {
		pct = 100 * weightedSufficient / weightedTotal
	}

	return Coverage{Zones: zones, Percentage: pct}
}
