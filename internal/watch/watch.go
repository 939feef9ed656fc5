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

// Package watch delivers best-effort, at-least-once wake-up signals for a
// directory: either an OS-level fsnotify event naming it, or a periodic
// ticker fallback, whichever fires first. Callers never get a guarantee
// that a particular filesystem change produced the wake-up; they must
// re-check the condition they're waiting on.
//
// The watcher abstraction and its ticker fallback are grounded on
// Yakitrak/obsidian-cli's pkg/cache Service (watcherFactory-injected
// fsnotify.Watcher wrapped behind a narrow interface, plus a stale-check
// ticker that runs alongside OS notifications) and on
// imicola/notebit's pkg/watcher Service event loop.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fallbackInterval bounds how long a waiter can be stuck if an fsnotify
// event is dropped or coalesced by the OS.
const fallbackInterval = 3 * time.Second

// Notifier is the narrow surface the store needs from an fsnotify watcher,
// so tests can substitute a fake.
type Notifier interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsNotifier struct{ w *fsnotify.Watcher }

func (n *fsNotifier) Add(name string) error    { return n.w.Add(name) }
func (n *fsNotifier) Remove(name string) error { return n.w.Remove(name) }
func (n *fsNotifier) Close() error             { return n.w.Close() }
func (n *fsNotifier) Events() <-chan fsnotify.Event { return n.w.Events }
func (n *fsNotifier) Errors() <-chan error          { return n.w.Errors }

func newFsNotifier() (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsNotifier{w: w}, nil
}

// Watcher multiplexes wake-up requests for many directories onto a single
// fsnotify watcher, with a ticker fallback that keeps firing even if the
// watcher itself could not be constructed.
type Watcher struct {
	log *slog.Logger

	mu       sync.Mutex
	notifier Notifier // nil if construction failed; ticker-only mode
	subs     map[string][]chan struct{}
	closed   bool
	done     chan struct{}
}

// New starts a Watcher. If the underlying OS notification mechanism
// cannot be constructed, New still returns a usable Watcher that relies
// solely on its ticker fallback, logging the degradation.
func New(log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	notifier, err := newFsNotifier()
	if err != nil {
		log.Warn("watch: falling back to poll-only mode", "error", err)
		notifier = nil
	}
	w := &Watcher{
		log:      log,
		notifier: notifier,
		subs:     make(map[string][]chan struct{}),
		done:     make(chan struct{}),
	}
	if notifier != nil {
		go w.runNotify()
	}
	go w.runTicker()
	return w
}

// Subscribe registers interest in dir and returns a channel that receives
// a value (at-least-once, best-effort) whenever dir changes or the ticker
// fires, whichever is sooner. Call the returned cancel function to
// unregister; it is safe to call more than once.
func (w *Watcher) Subscribe(dir string) (ch <-chan struct{}, cancel func()) {
	c := make(chan struct{}, 1)

	w.mu.Lock()
	w.subs[dir] = append(w.subs[dir], c)
	first := len(w.subs[dir]) == 1
	w.mu.Unlock()

	if first && w.notifier != nil {
		if err := w.notifier.Add(dir); err != nil {
			w.log.Warn("watch: add failed, relying on ticker fallback", "dir", dir, "error", err)
		}
	}

	cancelled := false
	cancel = func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		list := w.subs[dir]
		for i, sc := range list {
			if sc == c {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(w.subs, dir)
			if w.notifier != nil {
				_ = w.notifier.Remove(dir)
			}
		} else {
			w.subs[dir] = list
		}
	}
	return c, cancel
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
	if w.notifier != nil {
		return w.notifier.Close()
	}
	return nil
}

func (w *Watcher) runNotify() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.notifier.Events():
			if !ok {
				return
			}
			w.wake(ev.Name)
		case err, ok := <-w.notifier.Errors():
			if !ok {
				return
			}
			w.log.Warn("watch: notifier error", "error", err)
		}
	}
}

func (w *Watcher) runTicker() {
	t := time.NewTicker(fallbackInterval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.wakeAll()
		}
	}
}

func (w *Watcher) wake(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.subs[dir] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) wakeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, list := range w.subs {
		for _, c := range list {
			select {
			case c <- struct{}{}:
			default:
			}
		}
	}
}
