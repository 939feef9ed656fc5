// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package hashutil provides reference implementations of the directory
// and alias hash functions the store uses. They return raw []byte
// fingerprints; flowstore.Options wraps them as its default
// DirectoryHasher and AliasHasher. They are a ready default, not a
// requirement: any function matching those flowstore signatures works.
package hashutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Blake2bAliasHasher fingerprints an alias name with unkeyed BLAKE2b-256.
func Blake2bAliasHasher(name string) ([]byte, error) {
	sum := blake2b.Sum256([]byte(name))
	return sum[:], nil
}

// Blake2bDirectoryHasher fingerprints a finalized build tree with
// BLAKE2b-256 over a deterministic walk: every regular file's path
// (relative to dir, forward-slash separated) and content are fed into the
// hash in sorted order, so that two byte-identical trees always produce
// the same fingerprint regardless of directory-entry iteration order.
func Blake2bDirectoryHasher(dir string) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("hashutil: new hasher: %w", err)
	}

	var rels []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("hashutil: walk %q: %w", dir, err)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		if _, err := io.WriteString(h, rel); err != nil {
			return nil, err
		}
		if _, err := h.Write([]byte{0}); err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("hashutil: open %q: %w", rel, err)
		}
		_, copyErr := io.Copy(h, f)
		closeErr := f.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("hashutil: hash %q: %w", rel, copyErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("hashutil: close %q: %w", rel, closeErr)
		}
	}
	return h.Sum(nil), nil
}
