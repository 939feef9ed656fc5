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

package flowstore

import "fmt"

// NotPendingError is returned when an operation requires a pending build
// for Key that does not exist.
type NotPendingError struct {
	Key Key
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("flowstore: key %s is not pending", e.Key)
}

// AlreadyPendingError is returned when an operation requires Key to be
// absent, but a pending build already exists for it.
type AlreadyPendingError struct {
	Key Key
}

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("flowstore: key %s is already pending", e.Key)
}

// AlreadyCompleteError is returned when an operation requires Key to be
// absent or pending, but it is already complete.
type AlreadyCompleteError struct {
	Key Key
}

func (e *AlreadyCompleteError) Error() string {
	return fmt.Sprintf("flowstore: key %s is already complete", e.Key)
}

// CorruptedLinkError is returned when a completion symlink exists but its
// target does not parse as an item-<hash> directory name. It is
// non-recoverable and surfaces to the caller unchanged.
type CorruptedLinkError struct {
	Key    Key
	Target string
}

func (e *CorruptedLinkError) Error() string {
	return fmt.Sprintf("flowstore: completion link for key %s has corrupted target %q", e.Key, e.Target)
}

// FailedToConstructError wraps the reason a wait terminated because the
// pending directory was cleaned up (via RemoveFailed) rather than
// completing.
type FailedToConstructError struct {
	Key Key
	Err error
}

func (e *FailedToConstructError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flowstore: failed to construct key %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("flowstore: failed to construct key %s", e.Key)
}

func (e *FailedToConstructError) Unwrap() error { return e.Err }
