// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds in-memory doubles for the pgx surface the copier
// uses, so packages can be tested without a PostgreSQL server.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call is one recorded statement.
type Call struct {
	SQL  string
	Args []any
}

// FakePool is a scriptable stand-in for *pgxpool.Pool. QueryFunc and
// ExecFunc, when set, decide the result of each statement; every statement
// is recorded either way.
type FakePool struct {
	QueryFunc func(ctx context.Context, sql string, args []any) (pgx.Rows, error)
	ExecFunc  func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error)
	PingErr   error

	mu      sync.Mutex
	queries []Call
	execs   []Call
	closed  bool
}

func (f *FakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	f.queries = append(f.queries, Call{SQL: sql, Args: args})
	fn := f.QueryFunc
	f.mu.Unlock()
	if fn == nil {
		return NewRows(nil), nil
	}
	return fn(ctx, sql, args)
}

func (f *FakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := f.Query(ctx, sql, args...)
	return &row{rows: rows, err: err}
}

func (f *FakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	f.execs = append(f.execs, Call{SQL: sql, Args: args})
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn == nil {
		return pgconn.NewCommandTag("OK"), nil
	}
	return fn(ctx, sql, args)
}

func (f *FakePool) Ping(context.Context) error { return f.PingErr }

func (f *FakePool) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close was called.
func (f *FakePool) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Queries returns a copy of the recorded queries.
func (f *FakePool) Queries() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.queries...)
}

// Execs returns a copy of the recorded exec statements.
func (f *FakePool) Execs() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.execs...)
}

// CountExecPrefix counts exec statements starting with prefix.
func (f *FakePool) CountExecPrefix(prefix string) int {
	n := 0
	for _, c := range f.Execs() {
		if strings.HasPrefix(c.SQL, prefix) {
			n++
		}
	}
	return n
}

type row struct {
	rows pgx.Rows
	err  error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}
