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

// Package layout is the single, shared implementation of the store's
// on-disk directory-name encoding (spec'd as Component A, Path Encoding):
// the three pending-<hex>/complete-<hex>/item-<hex> forms a root entry can
// take. It operates on raw hex strings rather than the flowstore package's
// Hash type, so both flowstore and internal/state can import it without an
// import cycle; internal/state is the only caller that builds actual
// on-disk paths with it, since the store's path construction happens
// entirely behind the process lock.
package layout

import (
	"path/filepath"
	"strings"
)

// Kind identifies which of the three on-disk directory forms a root entry
// takes.
type Kind int

const (
	KindPending Kind = iota
	KindComplete
	KindItem
)

const (
	PendingPrefix  = "pending-"
	CompletePrefix = "complete-"
	ItemPrefix     = "item-"
)

// EncodeName renders the on-disk basename for hex under the given kind.
func EncodeName(kind Kind, hex string) string {
	switch kind {
	case KindPending:
		return PendingPrefix + hex
	case KindComplete:
		return CompletePrefix + hex
	case KindItem:
		return ItemPrefix + hex
	default:
		panic("layout: unknown entry kind")
	}
}

// DecodeName reverses EncodeName. ok is false if name doesn't match one of
// the three fixed prefixes.
func DecodeName(name string) (kind Kind, hex string, ok bool) {
	switch {
	case strings.HasPrefix(name, PendingPrefix):
		return KindPending, strings.TrimPrefix(name, PendingPrefix), true
	case strings.HasPrefix(name, CompletePrefix):
		return KindComplete, strings.TrimPrefix(name, CompletePrefix), true
	case strings.HasPrefix(name, ItemPrefix):
		return KindItem, strings.TrimPrefix(name, ItemPrefix), true
	default:
		return 0, "", false
	}
}

// PendingPath joins root with the pending-<hex> basename.
func PendingPath(root, hex string) string { return filepath.Join(root, EncodeName(KindPending, hex)) }

// CompletePath joins root with the complete-<hex> basename.
func CompletePath(root, hex string) string {
	return filepath.Join(root, EncodeName(KindComplete, hex))
}

// ItemPath joins root with the item-<hex> basename.
func ItemPath(root, hex string) string { return filepath.Join(root, EncodeName(KindItem, hex)) }
