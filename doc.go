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

// Package flowstore implements a hash-addressed content store: a durable,
// concurrent, multi-process-safe repository that maps opaque content
// fingerprints to immutable on-disk artifacts, mediating construction of
// those artifacts under mutual exclusion.
//
// A caller addresses the store by a Key (an input fingerprint, typically
// derived from the recipe that would produce an artifact). The store walks
// the key through three states: Missing, Pending (a writable build
// directory exists), and Complete (the key resolves to an immutable Item).
// Exactly one process ever gets to build an Item for a given key; everyone
// else either observes the finished Item or waits for it.
//
// The store does not hash content itself: callers supply a DirectoryHasher
// and an AliasHasher (see hashutil for a ready implementation) and the
// store treats fingerprints as opaque, fixed-width byte strings.
package flowstore
