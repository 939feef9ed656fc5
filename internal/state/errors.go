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

import "fmt"

// This package stays free of the flowstore package's exported error types
// (which would create an import cycle, since flowstore imports state) and
// instead exposes its own tagged errors. The flowstore package's store.go
// translates these into its public NotPendingError/AlreadyPendingError/etc.

type NotPendingError struct{ Key string }

func (e *NotPendingError) Error() string { return fmt.Sprintf("state: key %s is not pending", e.Key) }

type AlreadyPendingError struct{ Key string }

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("state: key %s is already pending", e.Key)
}

type AlreadyCompleteError struct{ Key string }

func (e *AlreadyCompleteError) Error() string {
	return fmt.Sprintf("state: key %s is already complete", e.Key)
}

type CorruptedLinkError struct {
	Key    string
	Target string
}

func (e *CorruptedLinkError) Error() string {
	return fmt.Sprintf("state: completion link for key %s has corrupted target %q", e.Key, e.Target)
}
