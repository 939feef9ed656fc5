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
	"context"
	"sync"
	"time"

	"flowstore/internal/metrics"
	"flowstore/internal/state"
)

// Update is the terminal value delivered to a Waiter: either a completed
// Item (Err == nil) or a failure reason (Err != nil, typically a
// *FailedToConstructError). This widens the original one-shot
// Completed/Failed variant with a cause, per the store's open design
// questions on failure enrichment.
type Update struct {
	Item Item
	Err  error
}

// Waiter is a one-shot, cancellable handle delivering the terminal state
// of a key that was Pending at subscription time. Wait may be called by
// at most the goroutine(s) holding the Waiter; the underlying channel
// delivers exactly one value.
type Waiter struct {
	updates chan Update

	once     sync.Once
	cancelFn func()
}

// Wait blocks until the terminal Update arrives or ctx is done.
func (w *Waiter) Wait(ctx context.Context) (Update, error) {
	select {
	case u := <-w.updates:
		return u, nil
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

// Cancel unregisters the underlying watcher and ticker subscription. It
// is safe to call more than once and safe to call after Wait has already
// returned.
func (w *Waiter) Cancel() {
	w.once.Do(func() {
		if w.cancelFn != nil {
			w.cancelFn()
		}
	})
}

// registerWaiter subscribes to changes on buildDir and spawns the
// listener goroutine described in the store facade's pending waiter
// design: every wake-up re-queries state under the process lock and
// delivers the first terminal state observed, ignoring repeated
// Pending observations (spurious wakeups are harmless).
func (s *Store) registerWaiter(key Key, buildDir string) *Waiter {
	ch, unsubscribe := s.watcher.Subscribe(buildDir)

	updates := make(chan Update, 1)
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopFn := func() {
		stopOnce.Do(func() {
			close(stop)
			unsubscribe()
		})
	}

	subscribedAt := s.now()
	go func() {
		defer stopFn()
		for {
			select {
			case <-stop:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
			}

			u, terminal := s.pollWaiterState(key)
			if !terminal {
				continue
			}
			metrics.ObserveWaiterLatency(s.now().Sub(subscribedAt))
			select {
			case updates <- u:
			default:
			}
			return
		}
	}()

	return &Waiter{updates: updates, cancelFn: stopFn}
}

// pollWaiterState re-observes key under the process lock and reports
// whether the observation is terminal (Complete or Missing) along with
// the Update it implies. A non-terminal (Pending) or errored observation
// returns terminal == false so the caller keeps waiting.
func (s *Store) pollWaiterState(key Key) (update Update, terminal bool) {
	release, err := s.lock.Acquire()
	if err != nil {
		s.log.Warn("flowstore: waiter lock acquire failed", "error", err)
		return Update{}, false
	}
	obs, err := state.Observe(s.root, key.String())
	_ = release()
	if err != nil {
		s.log.Warn("flowstore: waiter observe failed", "key", key, "error", err)
		return Update{}, false
	}

	switch obs.Kind {
	case state.Complete:
		h, perr := ParseHash(obs.ItemHash)
		if perr != nil {
			return Update{Err: perr}, true
		}
		return Update{Item: Item{Hash: h}}, true
	case state.Missing:
		return Update{Err: &FailedToConstructError{Key: key}}, true
	default:
		return Update{}, false
	}
}

func (s *Store) now() time.Time { return time.Now() }
