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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flowstore/hashutil"
	"flowstore/internal/lockfile"
	"flowstore/internal/logging"
	"flowstore/internal/metrics"
	"flowstore/internal/sidecar"
	"flowstore/internal/state"
	"flowstore/internal/watch"
)

const (
	lockFileName     = "lock"
	sidecarFileName  = "metadata.db"
	rootWritablePerm = 0o700
	rootReadOnlyPerm = 0o500
)

// StatusKind is the discriminant of Status.
type StatusKind int

const (
	Missing StatusKind = iota
	Pending
	Complete
)

// Status is the result of Query: a key's current position in the
// Missing/Pending/Complete lifecycle.
type Status struct {
	Kind     StatusKind
	BuildDir string // valid when Kind == Pending
	Item     Item   // valid when Kind == Complete
}

// Options configures Open. Any zero-valued field is defaulted the way
// the teacher's worker configuration defaults missing fields: a Logger
// defaults to an info-level text logger from package logging, and the
// two hash functions default to the BLAKE2b reference implementations in
// package hashutil.
type Options struct {
	DirectoryHasher DirectoryHasher
	AliasHasher     AliasHasher
	Logger          *slog.Logger
}

func (o *Options) setDefaults() {
	if o.DirectoryHasher == nil {
		o.DirectoryHasher = func(dir string) (Hash, error) {
			b, err := hashutil.Blake2bDirectoryHasher(dir)
			return Hash(b), err
		}
	}
	if o.AliasHasher == nil {
		o.AliasHasher = func(name string) (Hash, error) {
			b, err := hashutil.Blake2bAliasHasher(name)
			return Hash(b), err
		}
	}
	if o.Logger == nil {
		o.Logger = logging.New("info")
	}
}

// Store is a handle on a hash-addressed content store rooted at a single
// directory. A Store is safe for concurrent use by multiple goroutines;
// the process lock additionally serializes against other OS processes
// that have Open'd the same root.
type Store struct {
	root string

	lock    *lockfile.Lock
	watcher *watch.Watcher
	sidecar *sidecar.Sidecar

	hashDir   DirectoryHasher
	hashAlias AliasHasher
	log       *slog.Logger
}

// Open prepares root for use as a store: creating it if absent, ensuring
// the lock file and alias sidecar exist, and leaving the root read-only
// on return (the permission-restoration-on-crash open question: Open
// unconditionally forces the root through a writable setup window and
// back to read-only, recovering from a prior process having crashed
// mid-mutation-window and left it writable).
func Open(root string, opts Options) (*Store, error) {
	opts.setDefaults()

	if err := os.MkdirAll(root, rootWritablePerm); err != nil {
		return nil, fmt.Errorf("flowstore: create root %q: %w", root, err)
	}
	if err := os.Chmod(root, rootWritablePerm); err != nil {
		return nil, fmt.Errorf("flowstore: open setup window on %q: %w", root, err)
	}

	lockPath := filepath.Join(root, lockFileName)
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flowstore: create lock file %q: %w", lockPath, err)
	}
	_ = lf.Close()

	sc, err := sidecar.Open(context.Background(), filepath.Join(root, sidecarFileName))
	if err != nil {
		return nil, fmt.Errorf("flowstore: open sidecar: %w", err)
	}

	w := watch.New(opts.Logger)

	if err := os.Chmod(root, rootReadOnlyPerm); err != nil {
		_ = sc.Close()
		_ = w.Close()
		return nil, fmt.Errorf("flowstore: close setup window on %q: %w", root, err)
	}

	return &Store{
		root:      root,
		lock:      lockfile.New(lockPath),
		watcher:   w,
		sidecar:   sc,
		hashDir:   opts.DirectoryHasher,
		hashAlias: opts.AliasHasher,
		log:       opts.Logger,
	}, nil
}

// Repair forces root's permission bits back to the read-only regime used
// between mutation windows. Open already does this unconditionally on
// every call, so a normal caller never needs it; it is exposed
// separately for an operator tool to run against a store root without a
// full Open/Close cycle, after a process crashed mid-mutation-window on
// a root nothing is currently using.
func Repair(root string) error {
	return state.Repair(root)
}

// Close releases the sidecar connection and stops the directory watcher.
// After Close, no background watcher or timer remains scheduled. It does
// not remove or alter any on-disk state.
func (s *Store) Close() error {
	werr := s.watcher.Close()
	serr := s.sidecar.Close()
	if werr != nil {
		return werr
	}
	return serr
}

// WithStore opens root, runs action, and closes the store on every exit
// path including a panic propagated out of action.
func WithStore(root string, opts Options, action func(*Store) error) error {
	s, err := Open(root, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return action(s)
}

func (s *Store) withLock(op string, fn func() error) error {
	start := time.Now()
	release, err := s.lock.Acquire()
	if err != nil {
		return fmt.Errorf("flowstore: acquire lock: %w", err)
	}
	metrics.ObserveLockWait(op, time.Since(start))
	defer func() { _ = release() }()
	return fn()
}

func translateObserveErr(err error) error {
	if cle, ok := err.(*state.CorruptedLinkError); ok {
		key, _ := ParseHash(cle.Key)
		return &CorruptedLinkError{Key: key, Target: cle.Target}
	}
	return err
}

func toStatus(obs state.Observation) (Status, error) {
	switch obs.Kind {
	case state.Pending:
		return Status{Kind: Pending, BuildDir: obs.BuildDir}, nil
	case state.Complete:
		h, err := ParseHash(obs.ItemHash)
		if err != nil {
			return Status{}, err
		}
		return Status{Kind: Complete, Item: Item{Hash: h}}, nil
	default:
		return Status{Kind: Missing}, nil
	}
}

// Query returns k's current status, taken under the process lock.
func (s *Store) Query(k Key) (Status, error) {
	var st Status
	err := s.withLock("query", func() error {
		obs, err := state.Observe(s.root, k.String())
		if err != nil {
			return translateObserveErr(err)
		}
		st, err = toStatus(obs)
		return err
	})
	return st, err
}

// IsMissing reports whether k is Missing.
func (s *Store) IsMissing(k Key) (bool, error) {
	st, err := s.Query(k)
	return err == nil && st.Kind == Missing, err
}

// IsPending reports whether k is Pending.
func (s *Store) IsPending(k Key) (bool, error) {
	st, err := s.Query(k)
	return err == nil && st.Kind == Pending, err
}

// IsComplete reports whether k is Complete.
func (s *Store) IsComplete(k Key) (bool, error) {
	st, err := s.Query(k)
	return err == nil && st.Kind == Complete, err
}

// Lookup is Query with the Item payload on completion; equivalent to
// Query for this implementation, since Status already carries it.
func (s *Store) Lookup(k Key) (Status, error) {
	return s.Query(k)
}

// LookupOrWait returns k's status; if Pending, the returned Waiter can be
// awaited for the terminal Update. The Waiter field is nil unless Kind ==
// Pending.
func (s *Store) LookupOrWait(k Key) (Status, *Waiter, error) {
	var st Status
	var buildDir string
	err := s.withLock("lookup_or_wait", func() error {
		obs, err := state.Observe(s.root, k.String())
		if err != nil {
			return translateObserveErr(err)
		}
		st, err = toStatus(obs)
		buildDir = obs.BuildDir
		return err
	})
	if err != nil {
		return Status{}, nil, err
	}
	if st.Kind != Pending {
		return st, nil, nil
	}
	return st, s.registerWaiter(k, buildDir), nil
}

// WaitUntilComplete blocks until k resolves to a terminal state: it
// returns the Item on success, and (Item{}, false, nil) if k was never
// pending or construction failed.
func (s *Store) WaitUntilComplete(ctx context.Context, k Key) (Item, bool, error) {
	st, waiter, err := s.LookupOrWait(k)
	if err != nil {
		return Item{}, false, err
	}
	switch st.Kind {
	case Complete:
		return st.Item, true, nil
	case Missing:
		return Item{}, false, nil
	}
	defer waiter.Cancel()
	u, err := waiter.Wait(ctx)
	if err != nil {
		return Item{}, false, err
	}
	if u.Err != nil {
		return Item{}, false, nil
	}
	return u.Item, true, nil
}

// ConstructOrAsync atomically observes k's status and, if Missing,
// transitions it to Pending, all from one lock-held critical section. If
// already Pending, it returns a Waiter instead. Callers mutate the
// returned build directory outside the lock.
func (s *Store) ConstructOrAsync(k Key) (Status, *Waiter, error) {
	var st Status
	var buildDir string
	err := s.withLock("construct_or_async", func() error {
		obs, err := state.Observe(s.root, k.String())
		if err != nil {
			return translateObserveErr(err)
		}
		if obs.Kind == state.Missing {
			dir, merr := state.MarkPending(s.root, k.String())
			if merr != nil {
				return merr
			}
			st = Status{Kind: Missing, BuildDir: dir}
			return nil
		}
		st, err = toStatus(obs)
		buildDir = obs.BuildDir
		return err
	})
	if err != nil {
		return Status{}, nil, err
	}

	switch st.Kind {
	case Missing:
		metrics.IncConstructOutcome(metrics.OutcomeMissing)
		return st, nil, nil
	case Complete:
		metrics.IncConstructOutcome(metrics.OutcomeComplete)
		return st, nil, nil
	default:
		metrics.IncConstructOutcome(metrics.OutcomePending)
		return st, s.registerWaiter(k, buildDir), nil
	}
}

// ConstructOrWait is like ConstructOrAsync, but if k is already Pending
// it blocks until a terminal Update arrives, raising FailedToConstructError
// on failure instead of returning a Waiter.
func (s *Store) ConstructOrWait(ctx context.Context, k Key) (Status, error) {
	st, waiter, err := s.ConstructOrAsync(k)
	if err != nil {
		return Status{}, err
	}
	if waiter == nil {
		return st, nil
	}
	defer waiter.Cancel()
	u, err := waiter.Wait(ctx)
	if err != nil {
		return Status{}, err
	}
	if u.Err != nil {
		return Status{}, u.Err
	}
	return Status{Kind: Complete, Item: u.Item}, nil
}

// ConstructIfMissing is like ConstructOrAsync but never subscribes a
// waiter: a Pending observation is returned as-is, with no BuildDir.
func (s *Store) ConstructIfMissing(k Key) (Status, error) {
	var st Status
	err := s.withLock("construct_if_missing", func() error {
		obs, err := state.Observe(s.root, k.String())
		if err != nil {
			return translateObserveErr(err)
		}
		if obs.Kind == state.Missing {
			dir, merr := state.MarkPending(s.root, k.String())
			if merr != nil {
				return merr
			}
			st = Status{Kind: Missing, BuildDir: dir}
			return nil
		}
		st, err = toStatus(obs)
		if st.Kind == Pending {
			st.BuildDir = ""
		}
		return err
	})
	return st, err
}

// MarkPending performs the Missing→Pending transition directly, failing
// with AlreadyPendingError or AlreadyCompleteError if k is not Missing.
func (s *Store) MarkPending(k Key) (buildDir string, err error) {
	err = s.withLock("mark_pending", func() error {
		dir, merr := state.MarkPending(s.root, k.String())
		if merr != nil {
			return translateStateErr(k, merr)
		}
		buildDir = dir
		return nil
	})
	return buildDir, err
}

// MarkComplete performs the Pending→Complete transition for k: it locks
// down the build tree, hashes it, deduplicates or renames it into place,
// and links complete-<k>. Fails with NotPendingError if k is not Pending.
func (s *Store) MarkComplete(k Key) (Item, error) {
	var item Item
	err := s.withLock("mark_complete", func() error {
		h, merr := state.MarkComplete(s.root, k.String(), func(dir string) (string, error) {
			hash, herr := s.hashDir(dir)
			if herr != nil {
				return "", herr
			}
			return hash.String(), nil
		})
		if merr != nil {
			return translateStateErr(k, merr)
		}
		hash, perr := ParseHash(h)
		if perr != nil {
			return perr
		}
		item = Item{Hash: hash}
		return nil
	})
	return item, err
}

func translateStateErr(k Key, err error) error {
	switch e := err.(type) {
	case *state.NotPendingError:
		return &NotPendingError{Key: k}
	case *state.AlreadyPendingError:
		return &AlreadyPendingError{Key: k}
	case *state.AlreadyCompleteError:
		return &AlreadyCompleteError{Key: k}
	case *state.CorruptedLinkError:
		return &CorruptedLinkError{Key: k, Target: e.Target}
	default:
		return err
	}
}

// Listing is the result of ListAll: a one-pass classification of every
// root entry.
type Listing struct {
	PendingKeys  []Key
	CompleteKeys []Key
	Items        []Item
}

// ListAll scans the root directory once and classifies every entry by
// its prefix.
func (s *Store) ListAll() (Listing, error) {
	var out Listing
	err := s.withLock("list_all", func() error {
		l, err := state.ListAll(s.root)
		if err != nil {
			return err
		}
		for _, hx := range l.PendingKeys {
			h, err := ParseHash(hx)
			if err != nil {
				return err
			}
			out.PendingKeys = append(out.PendingKeys, h)
		}
		for _, hx := range l.CompleteKeys {
			h, err := ParseHash(hx)
			if err != nil {
				return err
			}
			out.CompleteKeys = append(out.CompleteKeys, h)
		}
		for _, hx := range l.Items {
			h, err := ParseHash(hx)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, Item{Hash: h})
		}
		return nil
	})
	if err == nil {
		metrics.SetItemCounts(len(out.Items), len(out.PendingKeys))
	}
	return out, err
}

// ListPending returns every currently pending key.
func (s *Store) ListPending() ([]Key, error) {
	l, err := s.ListAll()
	return l.PendingKeys, err
}

// ListComplete returns every currently complete key.
func (s *Store) ListComplete() ([]Key, error) {
	l, err := s.ListAll()
	return l.CompleteKeys, err
}

// ListItems returns every item currently present in the store.
func (s *Store) ListItems() ([]Item, error) {
	l, err := s.ListAll()
	return l.Items, err
}

// Alias is a human-chosen name resolving to an Item.
type Alias struct {
	Name string
	Dest Item
}

// ListAliases returns every alias currently recorded in the sidecar.
func (s *Store) ListAliases() ([]Alias, error) {
	var out []Alias
	err := s.withLock("list_aliases", func() error {
		rows, err := s.sidecar.List(context.Background())
		if err != nil {
			return err
		}
		for _, r := range rows {
			h, err := ParseHash(r.Dest)
			if err != nil {
				return err
			}
			out = append(out, Alias{Name: r.Name, Dest: Item{Hash: h}})
		}
		metrics.SetAliasCount(len(rows))
		return nil
	})
	return out, err
}

// AssignAlias records name as resolving to item, overwriting any prior
// destination for the same name.
func (s *Store) AssignAlias(name string, item Item) error {
	nameHash, err := s.hashAlias(name)
	if err != nil {
		return fmt.Errorf("flowstore: hash alias %q: %w", name, err)
	}
	return s.withLock("assign_alias", func() error {
		return s.sidecar.Assign(context.Background(), nameHash.String(), item.Hash.String(), name)
	})
}

// LookupAlias resolves name to an Item, returning ok == false if no such
// alias is recorded (including if it was never assigned or has since been
// removed; a dangling alias whose destination item has been forcibly
// removed is still returned as ok == true, per the store's tolerance for
// dangling aliases).
func (s *Store) LookupAlias(name string) (item Item, ok bool, err error) {
	nameHash, err := s.hashAlias(name)
	if err != nil {
		return Item{}, false, fmt.Errorf("flowstore: hash alias %q: %w", name, err)
	}
	err = s.withLock("lookup_alias", func() error {
		row, lerr := s.sidecar.Lookup(context.Background(), nameHash.String())
		if lerr == sidecar.ErrNotFound {
			return nil
		}
		if lerr != nil {
			return lerr
		}
		h, perr := ParseHash(row.Dest)
		if perr != nil {
			return perr
		}
		item = Item{Hash: h}
		ok = true
		return nil
	})
	return item, ok, err
}

// RemoveAlias deletes the alias named name, if any.
func (s *Store) RemoveAlias(name string) error {
	nameHash, err := s.hashAlias(name)
	if err != nil {
		return fmt.Errorf("flowstore: hash alias %q: %w", name, err)
	}
	return s.withLock("remove_alias", func() error {
		return s.sidecar.Remove(context.Background(), nameHash.String())
	})
}

// RemoveFailed performs the Pending→Missing transition for k, deleting
// its build directory. Any waiter registered on k observes Missing on
// its next wakeup and delivers Update{Err: FailedToConstructError}.
func (s *Store) RemoveFailed(k Key) error {
	return s.withLock("remove_failed", func() error {
		if err := state.RemoveFailed(s.root, k.String()); err != nil {
			return translateStateErr(k, err)
		}
		return nil
	})
}

// RemoveForcibly deletes whichever of pending-<k> or complete-<k> exists
// for k, without touching the underlying item tree or checking aliases.
func (s *Store) RemoveForcibly(k Key) error {
	return s.withLock("remove_forcibly", func() error {
		if err := state.RemoveForcibly(s.root, k.String()); err != nil {
			return translateStateErr(k, err)
		}
		return nil
	})
}

// RemoveItemForcibly deletes the item-<h> tree for item, restoring write
// bits first. Completion symlinks pointing at it are left dangling.
func (s *Store) RemoveItemForcibly(item Item) error {
	return s.withLock("remove_item_forcibly", func() error {
		return state.RemoveItemForcibly(s.root, item.Hash.String())
	})
}
