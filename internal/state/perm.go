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

package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	rootReadOnlyPerm = 0o500 // owner read+execute, no write
	rootWritablePerm = 0o700 // owner read+write+execute
	buildDirPerm     = 0o755 // owner rwx, group/other rx; caller may restrict further
)

// EnterWindow opens a mutation window on root: it adds the owner write bit
// so the caller may create or remove top-level entries, and returns an
// exit function that restores the root to read-only. The exit function is
// idempotent and must be deferred by the caller on every exit path;
// mutation windows are always opened while the process lock (package
// lockfile) is already held, so at most one is ever active.
func EnterWindow(root string) (exit func() error, err error) {
	if err := os.Chmod(root, rootWritablePerm); err != nil {
		return nil, fmt.Errorf("state: open mutation window on %q: %w", root, err)
	}
	exited := false
	exit = func() error {
		if exited {
			return nil
		}
		exited = true
		return os.Chmod(root, rootReadOnlyPerm)
	}
	return exit, nil
}

// Repair forces root back to read-only, recovering from a prior process
// having crashed inside a mutation window and left the root writable. It
// is exposed as flowstore.Repair for a root with no open Store; Open does
// not call it and restores the root's mode itself. It does not consult the
// process lock. It is a no-op if root already has mode rootReadOnlyPerm or
// does not exist.
func Repair(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: repair stat %q: %w", root, err)
	}
	if info.Mode().Perm() == rootReadOnlyPerm {
		return nil
	}
	if err := os.Chmod(root, rootReadOnlyPerm); err != nil {
		return fmt.Errorf("state: repair chmod %q: %w", root, err)
	}
	return nil
}

// lockdownTree recursively clears all write bits beneath and including
// path, making a finished item tree tamper-resistant.
func lockdownTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm() &^ 0o222
		return os.Chmod(p, mode)
	})
}

// unlockTree recursively restores the owner write bit beneath and
// including path, so that a read-only item tree can be removed.
func unlockTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm() | 0o200
		return os.Chmod(p, mode)
	})
}
