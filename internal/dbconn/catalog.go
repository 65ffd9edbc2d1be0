// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package dbconn

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/toeirei/dbcopier/internal/errs"
)

const listTablesSQL = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

const tableColumnsSQL = `SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// ListTables returns the base tables of the session's schema, sorted by name.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	return s.queryNames(ctx, "list tables", listTablesSQL, s.Schema())
}

// TableColumns returns the column names of table in ordinal order. An
// unknown table yields a not-found error.
func (s *Session) TableColumns(ctx context.Context, table string) ([]string, error) {
	names, err := s.queryNames(ctx, "list columns of "+table, tableColumnsSQL, s.Schema(), table)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errs.NotFound("table " + s.Schema() + "." + table)
	}
	return names, nil
}

func (s *Session) queryNames(ctx context.Context, op, sql string, args ...any) ([]string, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Classify(op, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.Classify(op, err)
	}
	return names, nil
}
