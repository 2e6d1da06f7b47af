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

// Package hashcodec provides deterministic content-addressing (streaming
// SHA-256) and crash-safe atomic writes: a sibling temp file is written in
// full, fsynced, then renamed over the destination so a reader never
// observes a partially-written artifact.
package hashcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/kraklabs/dynocal/pkg/pathguard"
)

const chunkSize = 64 * 1024

// Digest reads path in fixed 64 KiB chunks and returns the lowercase hex
// SHA-256 digest. Identical bytes yield an identical digest on any
// platform; no file-metadata (mtime, permissions) enters the hash.
func Digest(path pathguard.ResolvedPath) (string, error) {
	f, err := os.Open(path.String())
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DigestReader(f)
}

// DigestReader hashes r in fixed-size chunks, for callers that already
// hold an open handle (e.g. a freshly-committed temp file).
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteAtomic creates a sibling temp file next to path, writes content in
// full, fsyncs it, then renames it over path. On any failure the
// destination is left untouched and the temp file is removed.
func WriteAtomic(path pathguard.ResolvedPath, content []byte) error {
	dest := path.String()
	dir := filepath.Dir(dest)

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

// WriteJSONAtomic is the JSON specialization of WriteAtomic. Map and
// struct keys are emitted in the order encoding/json already guarantees
// (struct field order; map keys sorted) so that re-serializing a parsed
// manifest reproduces byte-identical output and therefore an identical
// digest.
func WriteJSONAtomic(path pathguard.ResolvedPath, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	return WriteAtomic(path, buf)
}
