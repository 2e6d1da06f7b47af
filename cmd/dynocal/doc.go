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

// Package main implements the dynocal CLI: a thin reference driver
// over the analyze/apply/rollback/live-ingest programmatic surface.
//
// Usage:
//
//	dynocal init                         Create dynocal.yaml configuration
//	dynocal analyze <log> --out <dir>    Run the offline calibration pipeline
//	dynocal apply <base> <corr> <out> <md>          Apply a correction table to a base table
//	dynocal rollback <out> <md> <corr> <restore>    Reverse a prior apply
//	dynocal live                         Start the multicast telemetry listener
//	dynocal config [--json]              Show effective configuration
package main
