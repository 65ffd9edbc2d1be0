// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is an in-memory pgx.Rows. Scan converts with reflection, so a nil
// cell scans into a pointer destination as nil and into a value as zero.
type Rows struct {
	fields []string
	data   [][]any
	idx    int
	err    error
	closed bool
}

var _ pgx.Rows = (*Rows)(nil)

// NewRows builds a result set with the given column names.
func NewRows(fields []string, data ...[]any) *Rows {
	return &Rows{fields: fields, data: data, idx: -1}
}

// FailAfter makes iteration stop with err once n rows have been read.
func (r *Rows) FailAfter(n int, err error) *Rows {
	if n < len(r.data) {
		r.data = r.data[:n]
	}
	r.err = err
	return r
}

func (r *Rows) Close()     { r.closed = true }
func (r *Rows) Err() error { return r.err }

func (r *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.data)))
}

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	if r.idx >= len(r.data) {
		r.closed = true
		return false
	}
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan called without a current row")
	}
	cur := r.data[r.idx]
	if len(dest) != len(cur) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(cur))
	}
	for i, d := range dest {
		if err := assign(d, cur[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, fmt.Errorf("values called without a current row")
	}
	return append([]any(nil), r.data[r.idx]...), nil
}

func (r *Rows) RawValues() [][]byte { return nil }
func (r *Rows) Conn() *pgx.Conn     { return nil }

func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dest)
	}
	target := dv.Elem()
	if src == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if target.Kind() == reflect.Interface {
		target.Set(sv)
		return nil
	}
	if target.Kind() == reflect.Pointer {
		elem := reflect.New(target.Type().Elem())
		if err := assign(elem.Interface(), src); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	}
	if !sv.Type().ConvertibleTo(target.Type()) {
		return fmt.Errorf("cannot scan %T into %s", src, target.Type())
	}
	target.Set(sv.Convert(target.Type()))
	return nil
}
