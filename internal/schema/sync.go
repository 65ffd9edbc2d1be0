// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
)

// Execer is the write side of a pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Synchronizer recreates inspected tables on a target schema. Statements
// run one by one with no surrounding transaction; a failure leaves the
// target as the last successful statement left it.
type Synchronizer struct {
	x      Execer
	schema string
}

// NewSynchronizer returns a Synchronizer writing into schemaName.
func NewSynchronizer(x Execer, schemaName string) *Synchronizer {
	if schemaName == "" {
		schemaName = model.DefaultSchema
	}
	return &Synchronizer{x: x, schema: schemaName}
}

// Statements renders the DDL Sync would run, in order.
func (s *Synchronizer) Statements(info model.TableInfo, ignoreForeignKeys bool) ([]string, error) {
	if err := CheckIdents("table", info.Name); err != nil {
		return nil, err
	}
	table := QualifiedName(s.schema, info.Name)

	create, err := createTableSQL(table, info.Columns)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		"DROP TABLE IF EXISTS " + table + " CASCADE",
		create,
	}
	if !ignoreForeignKeys {
		for _, c := range info.Constraints {
			if strings.Contains(strings.ToUpper(c), "FOREIGN KEY") {
				continue
			}
			stmts = append(stmts, "ALTER TABLE "+table+" ADD "+c)
		}
	}
	for _, idx := range info.Indexes {
		stmts = append(stmts, indexIfNotExists(idx, table))
	}
	return stmts, nil
}

// Sync drops and recreates info on the target: table, then constraints
// (foreign keys never; none at all when ignoreForeignKeys), then indexes.
func (s *Synchronizer) Sync(ctx context.Context, info model.TableInfo, ignoreForeignKeys bool) error {
	stmts, err := s.Statements(info, ignoreForeignKeys)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.x.Exec(ctx, stmt); err != nil {
			return errs.Classify("sync "+info.Name, fmt.Errorf("%s: %w", firstLine(stmt), err))
		}
	}
	return nil
}

// SequenceStatements renders one setval per serial column, moving each
// target sequence past the highest copied value. An empty table resets the
// sequence so the next value is 1.
func (s *Synchronizer) SequenceStatements(info model.TableInfo) []string {
	table := QualifiedName(s.schema, info.Name)
	var stmts []string
	for _, c := range info.Columns {
		if !isSerial(c) {
			continue
		}
		col := Quote(c.Name)
		stmts = append(stmts, fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence(%s, %s), COALESCE(max(%s), 1), max(%s) IS NOT NULL) FROM %s",
			quoteLiteral(table), quoteLiteral(c.Name), col, col, table))
	}
	return stmts
}

// ResetSequences runs SequenceStatements. Call it after the rows are in.
func (s *Synchronizer) ResetSequences(ctx context.Context, info model.TableInfo) error {
	for _, stmt := range s.SequenceStatements(info) {
		if _, err := s.x.Exec(ctx, stmt); err != nil {
			return errs.Classify("reset sequences of "+info.Name, err)
		}
	}
	return nil
}

func createTableSQL(table string, columns []model.ColumnInfo) (string, error) {
	if len(columns) == 0 {
		return "", errs.Config("table %s has no columns", table)
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := CheckIdents("column", c.Name); err != nil {
			return "", err
		}
		defs = append(defs, "    "+ColumnDDL(c))
	}
	return "CREATE TABLE " + table + " (\n" + strings.Join(defs, ",\n") + "\n)", nil
}

var serialTypes = map[string]string{
	"integer":  "serial",
	"bigint":   "bigserial",
	"smallint": "smallserial",
}

// ColumnDDL renders one column definition: quoted name, type, NOT NULL and
// DEFAULT. Integer columns fed by nextval() become serial types so the
// sequence is created on the target too; ResetSequences advances it.
func ColumnDDL(c model.ColumnInfo) string {
	var b strings.Builder
	b.WriteString(Quote(c.Name))
	b.WriteByte(' ')

	def := ""
	if c.ColumnDefault != nil {
		def = *c.ColumnDefault
	}
	if isSerial(c) {
		b.WriteString(serialTypes[c.DataType])
		def = ""
	} else {
		b.WriteString(ColumnType(c))
	}
	if !c.IsNullable {
		b.WriteString(" NOT NULL")
	}
	if def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String()
}

func isSerial(c model.ColumnInfo) bool {
	_, ok := serialTypes[c.DataType]
	return ok && c.ColumnDefault != nil && strings.HasPrefix(*c.ColumnDefault, "nextval(")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ColumnType maps information_schema type names to DDL types.
func ColumnType(c model.ColumnInfo) string {
	switch c.DataType {
	case "character varying", "character", "bit", "bit varying":
		if c.CharacterMaximumLength != nil {
			return fmt.Sprintf("%s(%d)", c.DataType, *c.CharacterMaximumLength)
		}
	case "ARRAY":
		if strings.HasPrefix(c.UDTName, "_") {
			return c.UDTName[1:] + "[]"
		}
	case "USER-DEFINED":
		if c.UDTName != "" {
			return Quote(c.UDTName)
		}
	}
	return c.DataType
}

var (
	createIndexRE = regexp.MustCompile(`(?i)^CREATE\s+(UNIQUE\s+)?INDEX\s+(IF\s+NOT\s+EXISTS\s+)?`)
	indexTableRE  = regexp.MustCompile(`(?i)\sON\s+(ONLY\s+)?` + indexIdentPattern + `(\.` + indexIdentPattern + `)?`)
)

const indexIdentPattern = `(?:"(?:[^"]|"")*"|[^\s."(]+)`

// indexIfNotExists rewrites a pg_indexes definition so indexes that already
// exist through a constraint are skipped, and points it at table.
func indexIfNotExists(def, table string) string {
	m := createIndexRE.FindStringSubmatch(def)
	if m == nil {
		return def
	}
	prefix := "CREATE INDEX IF NOT EXISTS "
	if m[1] != "" {
		prefix = "CREATE UNIQUE INDEX IF NOT EXISTS "
	}
	rest := def[len(m[0]):]
	if loc := indexTableRE.FindStringSubmatchIndex(rest); loc != nil {
		on := " ON "
		if loc[2] >= 0 {
			on += "ONLY "
		}
		rest = rest[:loc[0]] + on + table + rest[loc[1]:]
	}
	return prefix + rest
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
