package sidecar

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
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSidecar(t *testing.T) *Sidecar {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open sidecar failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLookupMissingReturnsErrNotFound(t *testing.T) {
	s := newTestSidecar(t)
	_, err := s.Lookup(context.Background(), "deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignLookupRoundTrip(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	if err := s.Assign(ctx, "hash-nightly", "item-1", "nightly"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	a, err := s.Lookup(ctx, "hash-nightly")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if a.Dest != "item-1" || a.Name != "nightly" {
		t.Fatalf("unexpected alias: %+v", a)
	}
}

func TestAssignOverwritesExistingDest(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	if err := s.Assign(ctx, "hash-nightly", "item-1", "nightly"); err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}
	if err := s.Assign(ctx, "hash-nightly", "item-2", "nightly"); err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	a, err := s.Lookup(ctx, "hash-nightly")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if a.Dest != "item-2" {
		t.Fatalf("expected overwritten dest item-2, got %s", a.Dest)
	}
}

func TestRemoveThenLookupReturnsNotFound(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	if err := s.Assign(ctx, "hash-nightly", "item-1", "nightly"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := s.Remove(ctx, "hash-nightly"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Lookup(ctx, "hash-nightly"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Remove, got %v", err)
	}
}

func TestListReturnsAllRows(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	if err := s.Assign(ctx, "hash-a", "item-a", "a"); err != nil {
		t.Fatalf("Assign a failed: %v", err)
	}
	if err := s.Assign(ctx, "hash-b", "item-b", "b"); err != nil {
		t.Fatalf("Assign b failed: %v", err)
	}

	rows, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
}
