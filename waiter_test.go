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
	"context"
	"testing"
	"time"
)

func TestWaiterWaitRespectsContextCancellation(t *testing.T) {
	w := &Waiter{updates: make(chan Update), cancelFn: func() {}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error, got nil")
	}
}

func TestWaiterCancelIsIdempotent(t *testing.T) {
	calls := 0
	w := &Waiter{updates: make(chan Update, 1), cancelFn: func() { calls++ }}
	w.Cancel()
	w.Cancel()
	if calls != 1 {
		t.Fatalf("expected cancelFn to run exactly once, got %d", calls)
	}
}

func TestWaiterWaitDeliversUpdate(t *testing.T) {
	w := &Waiter{updates: make(chan Update, 1), cancelFn: func() {}}
	want := Update{Item: Item{Hash: Hash{1, 2, 3}}}
	w.updates <- want

	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !got.Item.Hash.Equal(want.Item.Hash) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
