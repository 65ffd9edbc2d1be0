// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package copier moves tables from a source to a target database: schema
// sync, then batched row transfer with per-column masking.
package copier // import "github.com/toeirei/dbcopier/internal/copier"

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/mask"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/monitor"
	"github.com/toeirei/dbcopier/internal/schema"
)

const (
	// DefaultBatchRows is the row count that triggers a flush.
	DefaultBatchRows = 1000
	// DefaultBatchBytes is the buffered value size that triggers a flush.
	DefaultBatchBytes = 16 << 20
	// DefaultWorkers is how many tables copy at once.
	DefaultWorkers = 4
	// maxParams is the PostgreSQL bind parameter ceiling per statement.
	maxParams = 65535
)

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	BatchRows  int
	BatchBytes int64
	Workers    int
}

func (o Options) withDefaults() Options {
	if o.BatchRows <= 0 {
		o.BatchRows = DefaultBatchRows
	}
	if o.BatchBytes <= 0 {
		o.BatchBytes = DefaultBatchBytes
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// TableError attaches the table name to a copy failure.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string { return "table " + e.Table + ": " + e.Err.Error() }
func (e *TableError) Unwrap() error { return e.Err }

// Engine copies tables between one source and one target.
type Engine struct {
	src       schema.Querier
	dst       schema.Execer
	srcSchema string
	dstSchema string
	inspector *schema.Inspector
	sync      *schema.Synchronizer
	gauge     *monitor.Gauge
	opts      Options
}

// Config wires an Engine. Gauge may be nil.
type Config struct {
	Source       schema.Querier
	SourceSchema string
	Target       schema.Execer
	TargetSchema string
	Gauge        *monitor.Gauge
	Options      Options
}

// NewEngine returns an Engine with its own schema cache.
func NewEngine(cfg Config) *Engine {
	srcSchema, dstSchema := cfg.SourceSchema, cfg.TargetSchema
	if srcSchema == "" {
		srcSchema = model.DefaultSchema
	}
	if dstSchema == "" {
		dstSchema = model.DefaultSchema
	}
	return &Engine{
		src:       cfg.Source,
		dst:       cfg.Target,
		srcSchema: srcSchema,
		dstSchema: dstSchema,
		inspector: schema.NewInspector(cfg.Source, srcSchema),
		sync:      schema.NewSynchronizer(cfg.Target, dstSchema),
		gauge:     cfg.Gauge,
		opts:      cfg.Options.withDefaults(),
	}
}

// Inspector exposes the engine's schema cache.
func (e *Engine) Inspector() *schema.Inspector { return e.inspector }

// Workers returns the configured concurrency.
func (e *Engine) Workers() int { return e.opts.Workers }

// CopyTable syncs the structure of job's table and, unless structure-only,
// streams its rows into the target. Ignored jobs are a no-op. Any failure
// aborts the table and is returned as a *TableError.
func (e *Engine) CopyTable(ctx context.Context, job model.TableConfig) error {
	if job.Ignore {
		logging.Debugf("table %s ignored", job.Name)
		return nil
	}
	if err := e.copyTable(ctx, job); err != nil {
		return &TableError{Table: job.Name, Err: err}
	}
	return nil
}

func (e *Engine) copyTable(ctx context.Context, job model.TableConfig) error {
	info, err := e.inspector.SchemaOf(ctx, job.Name)
	if err != nil {
		return err
	}
	if err := e.sync.Sync(ctx, info, job.IgnoreForeignKeys); err != nil {
		return err
	}
	if job.StructureOnly {
		logging.Infof("table %s: structure copied", job.Name)
		return nil
	}

	cols, err := selectColumns(job, info)
	if err != nil {
		return err
	}
	n, err := e.copyRows(ctx, job.Name, cols)
	if err != nil {
		return err
	}
	if err := e.sync.ResetSequences(ctx, info); err != nil {
		return err
	}
	logging.Infof("table %s: %d rows copied", job.Name, n)
	return nil
}

// column is a selected column and its optional mask.
type column struct {
	name string
	mask *model.MaskRule
}

// selectColumns resolves the job's column list against the inspected
// table. An empty list selects every column; ignored columns are dropped.
func selectColumns(job model.TableConfig, info model.TableInfo) ([]column, error) {
	var out []column
	if len(job.Columns) == 0 {
		for _, c := range info.Columns {
			out = append(out, column{name: c.Name})
		}
		return out, nil
	}
	for _, c := range job.Columns {
		if c.Ignore {
			continue
		}
		if _, ok := info.Column(c.Name); !ok {
			return nil, errs.Config("column %q does not exist in source table %s", c.Name, job.Name)
		}
		if c.MaskRule != nil && !mask.Validate(*c.MaskRule) {
			return nil, errs.Config("column %q has an invalid mask rule %q", c.Name, c.MaskRule.RuleType)
		}
		out = append(out, column{name: c.Name, mask: c.MaskRule})
	}
	if len(out) == 0 {
		return nil, errs.Config("table %s has no columns selected", job.Name)
	}
	return out, nil
}

// selectSQL reads every column in its text form so any type, including
// enums and arrays, round-trips through masking and back as a text
// parameter.
func selectSQL(schemaName, table string, cols []column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = schema.Quote(c.name) + "::text"
	}
	return "SELECT " + strings.Join(parts, ", ") + " FROM " + schema.QualifiedName(schemaName, table)
}

// insertPrefix renders INSERT INTO "s"."t" ("a", "b") VALUES.
func insertPrefix(schemaName, table string, cols []column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = schema.Quote(c.name)
	}
	return "INSERT INTO " + schema.QualifiedName(schemaName, table) + " (" + strings.Join(names, ", ") + ") VALUES "
}

// batch is the buffered rows of one multi-row INSERT.
type batch struct {
	prefix string
	width  int
	args   []any
	rows   int
	bytes  int64
}

func (b *batch) add(vals []any, size int64) {
	b.args = append(b.args, vals...)
	b.rows++
	b.bytes += size
}

func (b *batch) reset() {
	b.args = b.args[:0]
	b.rows = 0
	b.bytes = 0
}

func (b *batch) sql() string {
	var sb strings.Builder
	sb.Grow(len(b.prefix) + b.rows*b.width*6)
	sb.WriteString(b.prefix)
	p := 1
	for r := 0; r < b.rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < b.width; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(p))
			p++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func (e *Engine) copyRows(ctx context.Context, table string, cols []column) (int64, error) {
	for _, c := range cols {
		if err := schema.CheckIdents("column", c.name); err != nil {
			return 0, err
		}
	}
	rows, err := e.src.Query(ctx, selectSQL(e.srcSchema, table, cols))
	if err != nil {
		return 0, errs.Classify("read "+table, err)
	}
	defer rows.Close()

	maxRows := e.opts.BatchRows
	if limit := maxParams / len(cols); limit < maxRows {
		maxRows = limit
	}
	b := &batch{prefix: insertPrefix(e.dstSchema, table, cols), width: len(cols)}
	var copied int64

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return copied, errs.Classify("read "+table, err)
		}
		if len(vals) != len(cols) {
			return copied, errs.Query("read "+table, fmt.Errorf("got %d values for %d columns", len(vals), len(cols)))
		}
		var size int64
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if cols[i].mask != nil {
				s = mask.Apply(s, *cols[i].mask)
				vals[i] = s
			}
			size += int64(len(s))
		}
		b.add(vals, size)

		if b.rows >= maxRows || b.bytes >= e.opts.BatchBytes {
			if err := e.flush(ctx, table, b); err != nil {
				return copied, err
			}
			copied += int64(b.rows)
			b.reset()
		}
	}
	if err := rows.Err(); err != nil {
		return copied, errs.Classify("read "+table, err)
	}
	if b.rows > 0 {
		if err := e.flush(ctx, table, b); err != nil {
			return copied, err
		}
		copied += int64(b.rows)
	}
	return copied, nil
}

// flush executes one batch. The gauge holds the batch's size while the
// statement is in flight.
func (e *Engine) flush(ctx context.Context, table string, b *batch) error {
	e.gauge.Add(b.bytes)
	defer e.gauge.Add(-b.bytes)
	if _, err := e.dst.Exec(ctx, b.sql(), b.args...); err != nil {
		return errs.Classify(fmt.Sprintf("write %s (%d rows)", table, b.rows), err)
	}
	return nil
}

// IsTableError reports whether err carries a table name and returns it.
func IsTableError(err error) (*TableError, bool) {
	var te *TableError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
