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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeOut(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "out"), []byte(content), 0o644); err != nil {
		t.Fatalf("write build output: %v", err)
	}
}

// S1: construct, complete, re-query.
func TestScenarioConstructCompleteRequery(t *testing.T) {
	s := newTestStore(t)
	k1 := Hash{0xaa}

	st, waiter, err := s.ConstructOrAsync(k1)
	if err != nil {
		t.Fatalf("ConstructOrAsync failed: %v", err)
	}
	if st.Kind != Missing || waiter != nil {
		t.Fatalf("expected Missing with no waiter, got %+v, waiter=%v", st, waiter)
	}
	writeOut(t, st.BuildDir, "hello")

	item, err := s.MarkComplete(k1)
	if err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	q, err := s.Query(k1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if q.Kind != Complete || !q.Item.Hash.Equal(item.Hash) {
		t.Fatalf("expected Complete(%v), got %+v", item, q)
	}

	ok, err := s.IsComplete(k1)
	if err != nil || !ok {
		t.Fatalf("expected IsComplete true, got %v, err=%v", ok, err)
	}
}

// S2: two distinct keys with identical content dedup to one item.
func TestScenarioDedup(t *testing.T) {
	s := newTestStore(t)
	k1 := Hash{0x01}
	k2 := Hash{0x02}

	st1, _, err := s.ConstructOrAsync(k1)
	if err != nil {
		t.Fatalf("ConstructOrAsync k1 failed: %v", err)
	}
	writeOut(t, st1.BuildDir, "X")
	item1, err := s.MarkComplete(k1)
	if err != nil {
		t.Fatalf("MarkComplete k1 failed: %v", err)
	}

	st2, _, err := s.ConstructOrAsync(k2)
	if err != nil {
		t.Fatalf("ConstructOrAsync k2 failed: %v", err)
	}
	writeOut(t, st2.BuildDir, "X")
	item2, err := s.MarkComplete(k2)
	if err != nil {
		t.Fatalf("MarkComplete k2 failed: %v", err)
	}

	if !item1.Hash.Equal(item2.Hash) {
		t.Fatalf("expected identical content to dedup, got %v and %v", item1, item2)
	}

	items, err := s.ListItems()
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d: %v", len(items), items)
	}
}

// S3: a waiter blocked on a pending key observes completion.
func TestScenarioWaitAcrossGoroutines(t *testing.T) {
	s := newTestStore(t)
	k := Hash{0x03}

	st, _, err := s.ConstructOrAsync(k)
	if err != nil {
		t.Fatalf("ConstructOrAsync failed: %v", err)
	}
	if st.Kind != Missing {
		t.Fatalf("expected Missing, got %+v", st)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var gotItem Item
	var gotOK bool
	var waitErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gotItem, gotOK, waitErr = s.WaitUntilComplete(ctx, k)
	}()

	time.Sleep(50 * time.Millisecond)
	writeOut(t, st.BuildDir, "payload")
	item, err := s.MarkComplete(k)
	if err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	wg.Wait()
	if waitErr != nil {
		t.Fatalf("WaitUntilComplete returned error: %v", waitErr)
	}
	if !gotOK || !gotItem.Hash.Equal(item.Hash) {
		t.Fatalf("expected waiter to observe %v, got ok=%v item=%v", item, gotOK, gotItem)
	}
}

// S4: a waiter observes failure when the pending build is removed.
func TestScenarioFailureSurfaces(t *testing.T) {
	s := newTestStore(t)
	k := Hash{0x04}

	st, err := s.ConstructIfMissing(k)
	if err != nil {
		t.Fatalf("ConstructIfMissing failed: %v", err)
	}
	if st.Kind != Missing {
		t.Fatalf("expected Missing, got %+v", st)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var constructErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, constructErr = s.ConstructOrWait(ctx, k)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.RemoveFailed(k); err != nil {
		t.Fatalf("RemoveFailed failed: %v", err)
	}

	wg.Wait()
	if constructErr == nil {
		t.Fatalf("expected ConstructOrWait to fail, got nil")
	}
	if _, ok := constructErr.(*FailedToConstructError); !ok {
		t.Fatalf("expected FailedToConstructError, got %T: %v", constructErr, constructErr)
	}
}

// S5: alias lifecycle.
func TestScenarioAliasLifecycle(t *testing.T) {
	s := newTestStore(t)
	item1 := Item{Hash: Hash{0x10}}
	item2 := Item{Hash: Hash{0x20}}

	if err := s.AssignAlias("nightly", item1); err != nil {
		t.Fatalf("AssignAlias failed: %v", err)
	}
	got, ok, err := s.LookupAlias("nightly")
	if err != nil || !ok || !got.Hash.Equal(item1.Hash) {
		t.Fatalf("expected nightly -> item1, got %v ok=%v err=%v", got, ok, err)
	}

	if err := s.AssignAlias("nightly", item2); err != nil {
		t.Fatalf("overwrite AssignAlias failed: %v", err)
	}
	got, ok, err = s.LookupAlias("nightly")
	if err != nil || !ok || !got.Hash.Equal(item2.Hash) {
		t.Fatalf("expected nightly -> item2 after overwrite, got %v ok=%v err=%v", got, ok, err)
	}

	if err := s.RemoveAlias("nightly"); err != nil {
		t.Fatalf("RemoveAlias failed: %v", err)
	}
	_, ok, err = s.LookupAlias("nightly")
	if err != nil {
		t.Fatalf("LookupAlias after remove failed: %v", err)
	}
	if ok {
		t.Fatalf("expected no alias after RemoveAlias")
	}
}

// S6: illegal transitions raise the documented errors.
func TestScenarioIllegalTransitions(t *testing.T) {
	s := newTestStore(t)
	k := Hash{0x06}

	if _, err := s.MarkComplete(k); err == nil {
		t.Fatalf("expected NotPendingError on Missing key, got nil")
	} else if _, ok := err.(*NotPendingError); !ok {
		t.Fatalf("expected NotPendingError, got %T: %v", err, err)
	}

	st, _, err := s.ConstructOrAsync(k)
	if err != nil {
		t.Fatalf("ConstructOrAsync failed: %v", err)
	}
	writeOut(t, st.BuildDir, "content")
	if _, err := s.MarkComplete(k); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	if _, err := s.MarkPending(k); err == nil {
		t.Fatalf("expected AlreadyCompleteError on Complete key, got nil")
	} else if _, ok := err.(*AlreadyCompleteError); !ok {
		t.Fatalf("expected AlreadyCompleteError, got %T: %v", err, err)
	}
}

func TestConcurrentConstructOrAsyncHasSingleConstructor(t *testing.T) {
	s := newTestStore(t)
	k := Hash{0x07}

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	missingCount := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			st, _, err := s.ConstructOrAsync(k)
			if err != nil {
				t.Errorf("ConstructOrAsync failed: %v", err)
				return
			}
			if st.Kind == Missing {
				mu.Lock()
				missingCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if missingCount != 1 {
		t.Fatalf("expected exactly one caller to observe Missing, got %d", missingCount)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	k := Hash{0x08}
	st, waiter, err := s.ConstructOrAsync(k)
	if err != nil {
		t.Fatalf("ConstructOrAsync failed: %v", err)
	}
	_ = st
	if waiter != nil {
		waiter.Cancel()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
