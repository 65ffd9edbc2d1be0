// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package schema reads table definitions from a source database and
// recreates them on a target.
package schema // import "github.com/toeirei/dbcopier/internal/schema"

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
)

// Querier is the read side of a pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const columnsSQL = `SELECT column_name, data_type, udt_name, is_nullable, column_default, character_maximum_length
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const indexesSQL = `SELECT indexdef FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2
ORDER BY indexname`

// Primary keys first, then unique keys, then the rest by name.
const constraintsSQL = `SELECT c.conname, pg_get_constraintdef(c.oid)
FROM pg_constraint c
JOIN pg_class t ON t.oid = c.conrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1 AND t.relname = $2 AND c.contype IN ('p', 'u', 'c', 'f', 'x')
ORDER BY CASE c.contype WHEN 'p' THEN 0 WHEN 'u' THEN 1 ELSE 2 END, c.conname`

// Inspector reads table metadata from one schema and caches it per table.
// A cached entry is never replaced except after Invalidate.
type Inspector struct {
	q      Querier
	schema string

	mu    sync.RWMutex
	cache map[string]model.TableInfo
}

// NewInspector returns an Inspector over schemaName ("public" when empty).
func NewInspector(q Querier, schemaName string) *Inspector {
	if schemaName == "" {
		schemaName = model.DefaultSchema
	}
	return &Inspector{q: q, schema: schemaName, cache: make(map[string]model.TableInfo)}
}

// Schema returns the inspected schema name.
func (i *Inspector) Schema() string { return i.schema }

// SchemaOf returns the definition of table, reading the catalog only on a
// cache miss. Failures are not retried.
func (i *Inspector) SchemaOf(ctx context.Context, table string) (model.TableInfo, error) {
	i.mu.RLock()
	info, ok := i.cache[table]
	i.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := i.inspect(ctx, table)
	if err != nil {
		return model.TableInfo{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.cache[table]; ok {
		return existing, nil
	}
	i.cache[table] = info
	return info, nil
}

// Invalidate drops the cached definition of table.
func (i *Inspector) Invalidate(table string) {
	i.mu.Lock()
	delete(i.cache, table)
	i.mu.Unlock()
}

// Cached reports whether table is in the cache.
func (i *Inspector) Cached(table string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.cache[table]
	return ok
}

func (i *Inspector) inspect(ctx context.Context, table string) (model.TableInfo, error) {
	op := "inspect " + table
	if err := CheckIdents("table", table); err != nil {
		return model.TableInfo{}, err
	}

	rows, err := i.q.Query(ctx, columnsSQL, i.schema, table)
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}
	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ColumnInfo, error) {
		var c model.ColumnInfo
		var nullable string
		err := row.Scan(&c.Name, &c.DataType, &c.UDTName, &nullable, &c.ColumnDefault, &c.CharacterMaximumLength)
		c.IsNullable = strings.EqualFold(nullable, "YES")
		return c, err
	})
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}
	if len(columns) == 0 {
		return model.TableInfo{}, errs.Query(op, errs.NotFound("table "+i.schema+"."+table))
	}

	rows, err = i.q.Query(ctx, indexesSQL, i.schema, table)
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}
	indexes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}

	rows, err = i.q.Query(ctx, constraintsSQL, i.schema, table)
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}
	constraints, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name, def string
		if err := row.Scan(&name, &def); err != nil {
			return "", err
		}
		return "CONSTRAINT " + Quote(name) + " " + def, nil
	})
	if err != nil {
		return model.TableInfo{}, errs.Classify(op, err)
	}

	return model.TableInfo{Name: table, Columns: columns, Indexes: indexes, Constraints: constraints}, nil
}
