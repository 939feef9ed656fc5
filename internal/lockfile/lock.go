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

// Package lockfile implements the store's single exclusive lock: an
// in-process mutex combined with an OS-level advisory file lock, so that
// both goroutines within one process and other OS processes sharing the
// same store root are serialized by a single critical section.
//
// The flock technique (open/create the lock file, then syscall.Flock with
// LOCK_EX, retrying on EINTR) is grounded on the POSIX storage
// backend's lockFile helper elsewhere in the reference corpus
// (transparency-dev/trillian-tessera's storage/posix package), adapted
// here to guard an entire content-store root rather than a single log's
// tree-state file.
package lockfile

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

const filePerm = 0o644

// Lock is the store's single exclusive lock: an in-process sync.Mutex
// acquired before an OS-level advisory flock on path. It is not reentrant.
type Lock struct {
	mu   sync.Mutex
	path string

	// instanceID is a per-Lock random tag stamped into the lock file on
	// every acquisition, purely for human diagnostics (e.g. "who is
	// holding this lock"). It is never read back by the store itself.
	instanceID string
}

// New returns a Lock guarding the advisory file at path. The file is
// created on first acquisition if it does not already exist.
func New(path string) *Lock {
	return &Lock{path: path, instanceID: uuid.NewString()}
}

// Acquire blocks until the lock is held, first taking the in-process
// mutex, then the OS-level flock. It returns a release function that must
// be called to release both, in reverse order; the caller should defer it
// on every exit path, including error paths elsewhere in the critical
// section.
func (l *Lock) Acquire() (release func() error, err error) {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_CLOEXEC, filePerm)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("lockfile: open %q: %w", l.path, err)
	}

	for {
		ferr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
		if ferr == syscall.EINTR {
			continue
		}
		if ferr != nil {
			_ = f.Close()
			l.mu.Unlock()
			return nil, fmt.Errorf("lockfile: flock %q: %w", l.path, ferr)
		}
		break
	}

	// Best-effort diagnostic stamp; failure to write it never fails the
	// acquisition, since it carries no correctness meaning.
	stamp := fmt.Sprintf("pid:%d instance:%s\n", os.Getpid(), l.instanceID)
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(stamp), 0)

	released := false
	release = func() error {
		if released {
			return nil
		}
		released = true
		funlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		closeErr := f.Close()
		l.mu.Unlock()
		if funlockErr != nil {
			return fmt.Errorf("lockfile: unlock %q: %w", l.path, funlockErr)
		}
		return closeErr
	}
	return release, nil
}
