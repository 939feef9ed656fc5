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

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Hash is an opaque, fixed-width content fingerprint. Equality is byte
// equality. The store never interprets its contents; it only encodes it to
// and from directory names.
type Hash []byte

// Key is the input fingerprint a caller supplies when addressing the
// store, typically derived from the recipe that would produce an artifact.
type Key = Hash

// String renders the fingerprint as lowercase hex, the on-disk encoding
// used for pending-/complete-/item- directory names.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Equal reports whether two fingerprints are byte-identical.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// ParseHash parses the hex encoding produced by Hash.String back into a
// Hash. It returns an error if s is not valid hex.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("flowstore: parse hash %q: %w", s, err)
	}
	return Hash(b), nil
}

// Item identifies a completed, immutable artifact by the fingerprint of its
// finished directory contents.
type Item struct {
	Hash Hash
}

// String renders the item's fingerprint.
func (i Item) String() string {
	return i.Hash.String()
}

// ContentRef addresses either an entire Item (SubPath == "") or a file or
// subdirectory within it. Content references hash deterministically by
// composing the Item's fingerprint with the relative path.
type ContentRef struct {
	Item    Item
	SubPath string
}

// WithPath returns a new ContentRef addressing rel within the same Item,
// concatenated onto any existing SubPath.
func (c ContentRef) WithPath(rel string) ContentRef {
	next := rel
	if c.SubPath != "" {
		next = c.SubPath + "/" + rel
	}
	return ContentRef{Item: c.Item, SubPath: next}
}

// Fingerprint composes the Item's hash with SubPath using the supplied
// AliasHasher-shaped function, giving content references a stable identity
// distinct from the bare Item hash. It never touches the filesystem.
func (c ContentRef) Fingerprint(hash func(string) (Hash, error)) (Hash, error) {
	if c.SubPath == "" {
		return c.Item.Hash, nil
	}
	suffixed, err := hash(c.Item.Hash.String() + "\x00" + c.SubPath)
	if err != nil {
		return nil, fmt.Errorf("flowstore: fingerprint content ref: %w", err)
	}
	return suffixed, nil
}

// DirectoryHasher produces a fingerprint for a finalized build tree. It is
// supplied by the caller; the store never hashes content itself.
type DirectoryHasher func(dir string) (Hash, error)

// AliasHasher produces a fingerprint for an alias name, used as the
// sidecar's primary key.
type AliasHasher func(name string) (Hash, error)
