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

// Package sidecar provides the alias table: a small embedded SQL database
// that maps alias names to completed item fingerprints. It is a sidecar,
// not a source of truth — the filesystem alone decides item state; this
// package only persists human-chosen names for items that already exist.
//
// Schema and connection handling are adapted from the provisioner
// controller's store package in the reference corpus (sqlite DSN
// pragmas, WithTx transaction helper), swapped from SQLite-backed job
// leasing onto a single alias table created with CREATE TABLE IF NOT
// EXISTS; there is no schema-version table.
package sidecar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// ErrNotFound indicates no alias matched the lookup.
var ErrNotFound = errors.New("sidecar: not found")

// Sidecar wraps the aliases table at <root>/metadata.db.
type Sidecar struct {
	db *sql.DB
}

// Alias is one row of the aliases table.
type Alias struct {
	Hash string // fingerprint of Name, primary key
	Dest string // fingerprint of the destination item
	Name string // original textual alias
}

// Open opens (or creates) the sidecar database at path and ensures its
// schema exists.
func Open(ctx context.Context, path string) (*Sidecar, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sidecar: open %q: %w", path, err)
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sidecar: ping %q: %w", path, err)
	}

	s := &Sidecar{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sidecar: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Sidecar) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Sidecar) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS aliases (
  hash TEXT PRIMARY KEY,
  dest TEXT NOT NULL,
  name TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// WithTx runs fn inside a serializable transaction, rolling back on error
// or panic and committing otherwise. The store calls Assign and Remove
// while holding its process lock; it does not open a mutation window on
// the root around them.
func (s *Sidecar) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("sidecar: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sidecar: commit tx: %w", err)
	}
	return nil
}

// Assign inserts or replaces the alias keyed by nameHash.
func (s *Sidecar) Assign(ctx context.Context, nameHash, dest, name string) error {
	const q = `INSERT INTO aliases (hash, dest, name) VALUES (?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET dest = excluded.dest, name = excluded.name`
	_, err := s.db.ExecContext(ctx, q, nameHash, dest, name)
	if err != nil {
		return fmt.Errorf("sidecar: assign %q: %w", name, err)
	}
	return nil
}

// Lookup returns the alias keyed by nameHash, or ErrNotFound.
func (s *Sidecar) Lookup(ctx context.Context, nameHash string) (Alias, error) {
	const q = `SELECT hash, dest, name FROM aliases WHERE hash = ?`
	var a Alias
	err := s.db.QueryRowContext(ctx, q, nameHash).Scan(&a.Hash, &a.Dest, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Alias{}, ErrNotFound
	}
	if err != nil {
		return Alias{}, fmt.Errorf("sidecar: lookup %q: %w", nameHash, err)
	}
	return a, nil
}

// Remove deletes the alias keyed by nameHash. It is not an error if no
// such alias exists.
func (s *Sidecar) Remove(ctx context.Context, nameHash string) error {
	const q = `DELETE FROM aliases WHERE hash = ?`
	_, err := s.db.ExecContext(ctx, q, nameHash)
	if err != nil {
		return fmt.Errorf("sidecar: remove %q: %w", nameHash, err)
	}
	return nil
}

// List returns every alias row, ordered by name for stable output.
func (s *Sidecar) List(ctx context.Context) ([]Alias, error) {
	const q = `SELECT hash, dest, name FROM aliases ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sidecar: list: %w", err)
	}
	defer rows.Close()

	var out []Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.Hash, &a.Dest, &a.Name); err != nil {
			return nil, fmt.Errorf("sidecar: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sidecar: rows: %w", err)
	}
	return out, nil
}
