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

	"flowstore/internal/layout"
)

// Listing is a one-pass classification of every immediate child of root.
type Listing struct {
	PendingKeys  []string
	CompleteKeys []string
	Items        []string
}

// ListAll scans root once and classifies each entry by its prefix,
// ignoring anything that isn't a recognized pending-/complete-/item-
// directory name (notably lock and metadata.db).
func ListAll(root string) (Listing, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return Listing{}, fmt.Errorf("state: list %q: %w", root, err)
	}
	var l Listing
	for _, e := range entries {
		kind, hex, ok := layout.DecodeName(e.Name())
		if !ok {
			continue
		}
		switch kind {
		case layout.KindPending:
			l.PendingKeys = append(l.PendingKeys, hex)
		case layout.KindComplete:
			l.CompleteKeys = append(l.CompleteKeys, hex)
		case layout.KindItem:
			l.Items = append(l.Items, hex)
		}
	}
	return l, nil
}
