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

// Package pathguard validates every filesystem access dynocal performs
// against a project-root boundary before any read or write is attempted.
package pathguard

import (
	"path/filepath"
	"strings"

	"github.com/kraklabs/dynocal/internal/errs"
)

// ResolvedPath is an opaque, validated filesystem path token. Downstream
// readers/writers must accept only a ResolvedPath, never a raw string,
// so a path can't reach disk without passing through Guard.Resolve.
type ResolvedPath struct {
	clean string
}

// String returns the canonicalized absolute path.
func (r ResolvedPath) String() string { return r.clean }

// IsZero reports whether r is the zero value (never resolved).
func (r ResolvedPath) IsZero() bool { return r.clean == "" }

// Guard checks candidate paths against a configured project root, and
// optionally a secondary allow-list root (e.g. a temp directory) for
// operations that explicitly opt in via allowParentDir.
type Guard struct {
	root      string
	parentDir string // secondary allow-list root, e.g. os.TempDir(); empty disables it
}

// New constructs a Guard rooted at root. parentDir may be empty if no
// secondary allow-list root is needed.
func New(root, parentDir string) (*Guard, error) {
	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, errs.PathEscape(root)
	}
	g := &Guard{root: cleanRoot}
	if parentDir != "" {
		cleanParent, err := filepath.Abs(filepath.Clean(parentDir))
		if err != nil {
			return nil, errs.PathEscape(parentDir)
		}
		g.parentDir = cleanParent
	}
	return g, nil
}

// Root returns the guard's configured project root.
func (g *Guard) Root() string { return g.root }

// Resolve canonicalizes candidate and asserts it falls under the
// configured project root (or, when allowParentDir is set, under the
// secondary allow-list root instead). It rejects embedded control
// characters and normalizes path separators via filepath.Clean.
func (g *Guard) Resolve(candidate string, allowParentDir bool) (ResolvedPath, error) {
	if containsControlChar(candidate) {
		return ResolvedPath{}, errs.PathEscape(candidate)
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := canonicalize(abs)
	if err != nil {
		// The target may not exist yet (e.g. a write destination); fall
		// back to the lexical form, which is still bounds-checked below.
		resolved = abs
	}

	if underRoot(resolved, g.root) {
		return ResolvedPath{clean: resolved}, nil
	}
	if allowParentDir && g.parentDir != "" && underRoot(resolved, g.parentDir) {
		return ResolvedPath{clean: resolved}, nil
	}
	return ResolvedPath{}, errs.PathEscape(candidate)
}

func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func containsControlChar(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
