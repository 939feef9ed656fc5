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

// Package state implements the per-key Missing/Pending/Complete
// observation and the transitions between those states, using the
// filesystem directly as ground truth (spec'd in §4.E). Every exported
// function here assumes the caller already holds the store's process
// lock (package lockfile); this package does no locking of its own.
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"flowstore/internal/layout"
)

func pendingPath(root, keyHex string) string  { return layout.PendingPath(root, keyHex) }
func completePath(root, keyHex string) string { return layout.CompletePath(root, keyHex) }
func itemPath(root, itemHex string) string    { return layout.ItemPath(root, itemHex) }

// Kind classifies a key's observed state.
type Kind int

const (
	Missing Kind = iota
	Pending
	Complete
)

// Observation is the result of reading a key's state from the filesystem.
type Observation struct {
	Kind     Kind
	BuildDir string // valid when Kind == Pending
	ItemHash string // valid when Kind == Complete
}

// Observe reads the current state of keyHex directly from root.
func Observe(root, keyHex string) (Observation, error) {
	pPath := pendingPath(root, keyHex)
	if fi, err := os.Stat(pPath); err == nil && fi.IsDir() {
		return Observation{Kind: Pending, BuildDir: pPath}, nil
	} else if err != nil && !os.IsNotExist(err) {
		return Observation{}, fmt.Errorf("state: stat %q: %w", pPath, err)
	}

	cPath := completePath(root, keyHex)
	target, err := os.Readlink(cPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Observation{Kind: Missing}, nil
		}
		return Observation{}, fmt.Errorf("state: readlink %q: %w", cPath, err)
	}
	base := filepath.Base(target)
	kind, hex, ok := layout.DecodeName(base)
	if !ok || kind != layout.KindItem {
		return Observation{}, &CorruptedLinkError{Key: keyHex, Target: target}
	}
	return Observation{Kind: Complete, ItemHash: hex}, nil
}

// MarkPending performs the Missing→Pending transition, creating a
// writable build directory for keyHex. It fails with AlreadyPendingError
// or AlreadyCompleteError if keyHex is not currently Missing.
func MarkPending(root, keyHex string) (buildDir string, err error) {
	obs, err := Observe(root, keyHex)
	if err != nil {
		return "", err
	}
	switch obs.Kind {
	case Pending:
		return "", &AlreadyPendingError{Key: keyHex}
	case Complete:
		return "", &AlreadyCompleteError{Key: keyHex}
	}

	exit, err := EnterWindow(root)
	if err != nil {
		return "", err
	}
	defer func() { _ = exit() }()

	dir := pendingPath(root, keyHex)
	if err := os.Mkdir(dir, buildDirPerm); err != nil {
		return "", fmt.Errorf("state: mkdir %q: %w", dir, err)
	}
	return dir, nil
}

// MarkComplete performs the Pending→Complete transition for keyHex: it
// locks down the build tree, hashes it with hashDir, either deduplicates
// against an existing item-<h> or renames the build tree into place, and
// finally links complete-<k> to it. It fails with NotPendingError if
// keyHex is not currently Pending.
func MarkComplete(root, keyHex string, hashDir func(dir string) (string, error)) (itemHash string, err error) {
	obs, err := Observe(root, keyHex)
	if err != nil {
		return "", err
	}
	if obs.Kind != Pending {
		return "", &NotPendingError{Key: keyHex}
	}

	if err := lockdownTree(obs.BuildDir); err != nil {
		return "", fmt.Errorf("state: lock down build tree %q: %w", obs.BuildDir, err)
	}

	h, err := hashDir(obs.BuildDir)
	if err != nil {
		return "", fmt.Errorf("state: hash build tree %q: %w", obs.BuildDir, err)
	}

	exit, err := EnterWindow(root)
	if err != nil {
		return "", err
	}
	defer func() { _ = exit() }()

	dst := itemPath(root, h)
	if _, statErr := os.Stat(dst); statErr == nil {
		// Deduplicate: an item with this content hash already exists.
		if err := unlockTree(obs.BuildDir); err != nil {
			return "", fmt.Errorf("state: unlock duplicate build tree %q: %w", obs.BuildDir, err)
		}
		if err := os.RemoveAll(obs.BuildDir); err != nil {
			return "", fmt.Errorf("state: remove duplicate build tree %q: %w", obs.BuildDir, err)
		}
	} else if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("state: stat %q: %w", dst, statErr)
	} else {
		if err := os.Rename(obs.BuildDir, dst); err != nil {
			return "", fmt.Errorf("state: rename %q to %q: %w", obs.BuildDir, dst, err)
		}
	}

	rel, err := filepath.Rel(root, dst)
	if err != nil {
		return "", fmt.Errorf("state: relative path from %q to %q: %w", root, dst, err)
	}
	link := completePath(root, keyHex)
	if err := os.Symlink(rel, link); err != nil {
		return "", fmt.Errorf("state: symlink %q -> %q: %w", link, rel, err)
	}
	return h, nil
}
