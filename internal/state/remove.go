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
	"os"
)

// RemoveFailed performs the Pending→Missing transition for keyHex:
// deletes its build directory recursively. It fails with NotPendingError
// if keyHex is not currently Pending. A waiter blocked on keyHex observes
// Missing on its next wakeup and reports Failed.
func RemoveFailed(root, keyHex string) error {
	obs, err := Observe(root, keyHex)
	if err != nil {
		return err
	}
	if obs.Kind != Pending {
		return &NotPendingError{Key: keyHex}
	}

	exit, err := EnterWindow(root)
	if err != nil {
		return err
	}
	defer func() { _ = exit() }()

	if err := os.RemoveAll(obs.BuildDir); err != nil {
		return fmt.Errorf("state: remove failed build tree %q: %w", obs.BuildDir, err)
	}
	return nil
}

// RemoveForcibly deletes whichever of pending-<k> or complete-<k> exists
// for keyHex, without regard to aliases. The underlying item-<h> tree, if
// any, is left untouched. It is a no-op if keyHex is Missing.
func RemoveForcibly(root, keyHex string) error {
	obs, err := Observe(root, keyHex)
	if err != nil {
		return err
	}

	exit, err := EnterWindow(root)
	if err != nil {
		return err
	}
	defer func() { _ = exit() }()

	switch obs.Kind {
	case Pending:
		if err := os.RemoveAll(obs.BuildDir); err != nil {
			return fmt.Errorf("state: remove pending tree %q: %w", obs.BuildDir, err)
		}
	case Complete:
		link := completePath(root, keyHex)
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("state: remove completion link %q: %w", link, err)
		}
	}
	return nil
}

// RemoveItemForcibly deletes the item-<h> tree for itemHex, restoring
// write bits first since item trees are read-only. Completion symlinks
// pointing at it are left dangling; orphan collection is not implemented.
func RemoveItemForcibly(root, itemHex string) error {
	path := itemPath(root, itemHex)

	exit, err := EnterWindow(root)
	if err != nil {
		return err
	}
	defer func() { _ = exit() }()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: stat item tree %q: %w", path, err)
	}
	if err := unlockTree(path); err != nil {
		return fmt.Errorf("state: unlock item tree %q: %w", path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("state: remove item tree %q: %w", path, err)
	}
	return nil
}
