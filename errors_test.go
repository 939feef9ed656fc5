package flowstore

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

import (
	"errors"
	"strings"
	"testing"
)

func TestFailedToConstructErrorUnwrap(t *testing.T) {
	cause := errors.New("build aborted")
	err := &FailedToConstructError{Key: Hash{1}, Err: cause}

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestErrorMessagesMentionKey(t *testing.T) {
	k := Hash{0xaa, 0xbb}
	cases := []error{
		&NotPendingError{Key: k},
		&AlreadyPendingError{Key: k},
		&AlreadyCompleteError{Key: k},
		&CorruptedLinkError{Key: k, Target: "garbage"},
	}
	for _, err := range cases {
		if !strings.Contains(err.Error(), k.String()) {
			t.Fatalf("expected the error message for %T to mention key %s, got %q", err, k, err.Error())
		}
	}
}
