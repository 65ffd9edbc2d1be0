// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package copier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/monitor"
	"github.com/toeirei/dbcopier/internal/testutil"
)

// sourcePool serves the catalog of an "accounts" table with two
// constraints and two indexes, and the given data rows.
func sourcePool(data ...[]any) *testutil.FakePool {
	return &testutil.FakePool{
		QueryFunc: func(_ context.Context, sql string, args []any) (pgx.Rows, error) {
			switch {
			case strings.Contains(sql, "information_schema.columns"):
				return testutil.NewRows([]string{"column_name", "data_type", "udt_name", "is_nullable", "column_default", "character_maximum_length"},
					[]any{"id", "integer", "int4", "NO", nil, nil},
					[]any{"email", "text", "text", "YES", nil, nil},
					[]any{"phone", "text", "text", "YES", nil, nil},
				), nil
			case strings.Contains(sql, "pg_indexes"):
				return testutil.NewRows([]string{"indexdef"},
					[]any{"CREATE UNIQUE INDEX accounts_pkey ON public.accounts USING btree (id)"},
					[]any{"CREATE INDEX accounts_email_idx ON public.accounts USING btree (email)"},
				), nil
			case strings.Contains(sql, "pg_constraint"):
				return testutil.NewRows([]string{"conname", "def"},
					[]any{"accounts_pkey", "PRIMARY KEY (id)"},
					[]any{"accounts_email_key", "UNIQUE (email)"},
				), nil
			case strings.HasPrefix(sql, "SELECT "):
				return testutil.NewRows([]string{"id", "email", "phone"}, data...), nil
			}
			return nil, fmt.Errorf("unexpected query %q", sql)
		},
	}
}

func countQueries(p *testutil.FakePool, prefix string) int {
	n := 0
	for _, q := range p.Queries() {
		if strings.HasPrefix(q.SQL, prefix) {
			n++
		}
	}
	return n
}

func newTestEngine(src, dst *testutil.FakePool, gauge *monitor.Gauge, opts Options) *Engine {
	return NewEngine(Config{Source: src, Target: dst, Gauge: gauge, Options: opts})
}

func TestCopyTable_StructureOnly(t *testing.T) {
	src, dst := sourcePool([]any{"1", "a@example.com", "555"}), &testutil.FakePool{}
	e := newTestEngine(src, dst, nil, Options{})

	err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts", StructureOnly: true})
	if err != nil {
		t.Fatalf("CopyTable: %v", err)
	}
	if got := dst.CountExecPrefix("DROP TABLE"); got != 1 {
		t.Errorf("expected 1 drop, got %d", got)
	}
	if got := dst.CountExecPrefix("CREATE TABLE"); got != 1 {
		t.Errorf("expected 1 create, got %d", got)
	}
	if got := dst.CountExecPrefix("ALTER TABLE"); got != 2 {
		t.Errorf("expected 2 constraint statements, got %d", got)
	}
	indexes := dst.CountExecPrefix("CREATE INDEX") + dst.CountExecPrefix("CREATE UNIQUE INDEX")
	if indexes != 2 {
		t.Errorf("expected 2 index statements, got %d", indexes)
	}
	if len(dst.Execs()) != 6 {
		t.Errorf("expected exactly 6 target statements, got %d", len(dst.Execs()))
	}
	if dst.CountExecPrefix("INSERT") != 0 {
		t.Errorf("structure-only copy wrote rows")
	}
	// Only the three catalog reads touch the source.
	if got := len(src.Queries()); got != 3 {
		t.Errorf("expected 3 catalog queries and no row reads, got %d", got)
	}
}

func TestCopyTable_SchemaCacheAcrossCalls(t *testing.T) {
	src, dst := sourcePool(), &testutil.FakePool{}
	e := newTestEngine(src, dst, nil, Options{})
	job := model.TableConfig{Name: "accounts", StructureOnly: true}

	for i := 0; i < 2; i++ {
		if err := e.CopyTable(context.Background(), job); err != nil {
			t.Fatalf("CopyTable #%d: %v", i, err)
		}
	}
	if got := len(src.Queries()); got != 3 {
		t.Fatalf("second copy should reuse the cached schema, saw %d catalog queries", got)
	}
}

func TestCopyTable_BatchesAndMasks(t *testing.T) {
	src := sourcePool(
		[]any{"1", "a@example.com", "5550001"},
		[]any{"2", nil, "5550002"},
		[]any{"3", "c@example.com", nil},
		[]any{"4", "d@example.com", "5550004"},
		[]any{"5", "e@example.com", "5550005"},
	)
	dst := &testutil.FakePool{}
	gauge := monitor.NewGauge(time.Second, 1)
	e := newTestEngine(src, dst, gauge, Options{BatchRows: 2})

	pattern := "###****"
	job := model.TableConfig{Name: "accounts", Columns: []model.ColumnConfig{
		{Name: "id"},
		{Name: "email", MaskRule: &model.MaskRule{RuleType: model.MaskFixed}},
		{Name: "phone", MaskRule: &model.MaskRule{RuleType: model.MaskPattern, Pattern: &pattern}},
	}}
	if err := e.CopyTable(context.Background(), job); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}

	var inserts []testutil.Call
	for _, c := range dst.Execs() {
		if strings.HasPrefix(c.SQL, "INSERT") {
			inserts = append(inserts, c)
		}
	}
	if len(inserts) != 3 {
		t.Fatalf("expected 3 batches (2+2+1), got %d", len(inserts))
	}
	wantSQL := `INSERT INTO "public"."accounts" ("id", "email", "phone") VALUES ($1, $2, $3), ($4, $5, $6)`
	if inserts[0].SQL != wantSQL {
		t.Fatalf("unexpected insert:\n%s", inserts[0].SQL)
	}
	if !strings.HasSuffix(inserts[2].SQL, "VALUES ($1, $2, $3)") {
		t.Fatalf("last batch should hold one row: %s", inserts[2].SQL)
	}

	first := inserts[0].Args
	if first[0] != "1" || first[1] != "****" || first[2] != "555****" {
		t.Fatalf("unexpected masked row: %v", first[:3])
	}
	if first[4] != nil {
		t.Fatalf("NULL must stay NULL under masking, got %v", first[4])
	}
	if inserts[1].Args[2] != nil {
		t.Fatalf("NULL phone must stay NULL, got %v", inserts[1].Args[2])
	}

	sel := src.Queries()[3].SQL
	if sel != `SELECT "id"::text, "email"::text, "phone"::text FROM "public"."accounts"` {
		t.Fatalf("unexpected select: %s", sel)
	}
	if gauge.Current() != 0 || gauge.Peak() == 0 {
		t.Fatalf("gauge should be released after each batch: current=%d peak=%d", gauge.Current(), gauge.Peak())
	}
}

func TestCopyTable_ResetsSerialSequences(t *testing.T) {
	serialSource := func() *testutil.FakePool {
		src := sourcePool([]any{"7", "a@example.com", "5550001"})
		catalog := src.QueryFunc
		src.QueryFunc = func(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
			if strings.Contains(sql, "information_schema.columns") {
				return testutil.NewRows([]string{"column_name", "data_type", "udt_name", "is_nullable", "column_default", "character_maximum_length"},
					[]any{"id", "integer", "int4", "NO", "nextval('accounts_id_seq'::regclass)", nil},
					[]any{"email", "text", "text", "YES", nil, nil},
					[]any{"phone", "text", "text", "YES", nil, nil},
				), nil
			}
			return catalog(ctx, sql, args)
		}
		return src
	}

	dst := &testutil.FakePool{}
	e := NewEngine(Config{Source: serialSource(), Target: dst, TargetSchema: "staging"})
	if err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts"}); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}
	execs := dst.Execs()
	want := `SELECT setval(pg_get_serial_sequence('"staging"."accounts"', 'id'), COALESCE(max("id"), 1), max("id") IS NOT NULL) FROM "staging"."accounts"`
	if last := execs[len(execs)-1].SQL; last != want {
		t.Fatalf("sequence must be advanced after the rows, last statement was %q", last)
	}
	if got := dst.CountExecPrefix("SELECT setval"); got != 1 {
		t.Fatalf("expected 1 setval, got %d", got)
	}

	dst = &testutil.FakePool{}
	e = NewEngine(Config{Source: serialSource(), Target: dst, TargetSchema: "staging"})
	if err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts", StructureOnly: true}); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}
	if got := dst.CountExecPrefix("SELECT setval"); got != 0 {
		t.Fatalf("structure-only copy must leave the sequence alone, got %d setval", got)
	}
}

func TestCopyTable_IgnoredColumnsAndTables(t *testing.T) {
	src, dst := sourcePool([]any{"1", "555"}), &testutil.FakePool{}
	e := newTestEngine(src, dst, nil, Options{})

	if err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts", Ignore: true}); err != nil {
		t.Fatalf("ignored table: %v", err)
	}
	if len(src.Queries())+len(dst.Execs()) != 0 {
		t.Fatal("ignored table touched a database")
	}

	job := model.TableConfig{Name: "accounts", Columns: []model.ColumnConfig{{Name: "id"}, {Name: "email", Ignore: true}, {Name: "phone"}}}
	if err := e.CopyTable(context.Background(), job); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}
	if got := src.Queries()[3].SQL; strings.Contains(got, "email") {
		t.Fatalf("ignored column selected: %s", got)
	}
}

func TestCopyTable_UnknownColumnIsConfigError(t *testing.T) {
	e := newTestEngine(sourcePool(), &testutil.FakePool{}, nil, Options{})
	err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts", Columns: []model.ColumnConfig{{Name: "nope"}}})
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestCopyTable_WriteFailureNamesTable(t *testing.T) {
	src := sourcePool([]any{"1", "a", "b"})
	dst := &testutil.FakePool{ExecFunc: func(_ context.Context, sql string, _ []any) (pgconn.CommandTag, error) {
		if strings.HasPrefix(sql, "INSERT") {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
		}
		return pgconn.NewCommandTag("OK"), nil
	}}
	gauge := monitor.NewGauge(time.Second, 1)
	e := newTestEngine(src, dst, gauge, Options{})

	err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts"})
	te, ok := IsTableError(err)
	if !ok || te.Table != "accounts" {
		t.Fatalf("expected table error for accounts, got %v", err)
	}
	if !errors.Is(err, errs.ErrQuery) || !strings.Contains(err.Error(), "duplicate key value") {
		t.Fatalf("expected query error with cause, got %v", err)
	}
	if gauge.Current() != 0 {
		t.Fatalf("failed batch must release the gauge, got %d", gauge.Current())
	}
}

func TestCopyTable_ReadFailureMidStream(t *testing.T) {
	src := sourcePool()
	base := src.QueryFunc
	src.QueryFunc = func(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
		if strings.HasPrefix(sql, "SELECT ") {
			return testutil.NewRows([]string{"id", "email", "phone"}, []any{"1", "a", "b"}, []any{"2", "c", "d"}).
				FailAfter(1, errors.New("connection reset")), nil
		}
		return base(ctx, sql, args)
	}
	e := newTestEngine(src, &testutil.FakePool{}, nil, Options{})
	if err := e.CopyTable(context.Background(), model.TableConfig{Name: "accounts"}); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected read failure, got %v", err)
	}
}

func TestBatchRowsRespectParameterCeiling(t *testing.T) {
	cols := make([]column, 300)
	for i := range cols {
		cols[i] = column{name: fmt.Sprintf("c%d", i)}
	}
	b := &batch{prefix: insertPrefix("public", "wide", cols), width: len(cols)}
	for i := 0; i < maxParams/len(cols); i++ {
		b.add(make([]any, len(cols)), 0)
	}
	params := regexp.MustCompile(`\$\d+`).FindAllString(b.sql(), -1)
	if len(params) > maxParams || len(params) != len(b.args) {
		t.Fatalf("batch has %d params for %d args", len(params), len(b.args))
	}
}

func TestRunBounded_LimitsConcurrency(t *testing.T) {
	jobs := make([]model.TableConfig, 10)
	for i := range jobs {
		jobs[i] = model.TableConfig{Name: fmt.Sprintf("t%d", i)}
	}

	var inFlight, maxSeen int32
	var mu sync.Mutex
	var ran []int
	fn := func(_ context.Context, i int, job model.TableConfig) error {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ran = append(ran, i)
		mu.Unlock()
		if i == 3 || i == 7 {
			return &TableError{Table: job.Name, Err: errors.New("boom")}
		}
		return nil
	}

	err := RunBounded(context.Background(), jobs, 4, fn, Hooks{})
	if err == nil {
		t.Fatal("expected an error when jobs 3 and 7 fail")
	}
	te, ok := IsTableError(err)
	if !ok || (te.Table != "t3" && te.Table != "t7") {
		t.Fatalf("expected failure of t3 or t7, got %v", err)
	}
	if maxSeen > 4 {
		t.Fatalf("observed %d tables in flight, limit is 4", maxSeen)
	}
	if len(ran) != 10 {
		t.Fatalf("without a Stop hook every table runs, ran %d", len(ran))
	}
}

func TestRunBounded_HooksOrderAndStop(t *testing.T) {
	jobs := []model.TableConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	var events []string
	var failed bool
	hooks := Hooks{
		BeforeTable: func(i int, job model.TableConfig) { events = append(events, "before "+job.Name) },
		AfterTable:  func(i int, job model.TableConfig) { events = append(events, "after "+job.Name) },
		OnError: func(i int, job model.TableConfig, err error) {
			failed = true
			events = append(events, "error "+job.Name)
		},
		Stop: func() bool { return failed },
	}
	fn := func(_ context.Context, i int, job model.TableConfig) error {
		events = append(events, "copy "+job.Name)
		if job.Name == "b" {
			return errors.New("boom")
		}
		return nil
	}

	if err := RunBounded(context.Background(), jobs, 1, fn, hooks); err == nil {
		t.Fatal("expected error")
	}
	got := strings.Join(events, ",")
	if got != "before a,copy a,after a,before b,copy b,error b" {
		t.Fatalf("unexpected event order: %s", got)
	}
}
