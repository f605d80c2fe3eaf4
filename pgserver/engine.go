package pgserver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/fwojciec/arrowpg"
	"github.com/jackc/pgx/v5/pgconn"
)

// Engine plans and runs queries.
type Engine interface {
	// Describe returns the parameter types the engine can infer for sql
	// (nil entries for unknown ones) and the result schema, or a nil schema
	// if it is only known once parameters are bound.
	Describe(ctx context.Context, sql string) ([]arrow.DataType, *arrow.Schema, error)

	// Execute runs sql with bound parameters and returns its result batches.
	// Readers that implement Release are released after the result is sent.
	Execute(ctx context.Context, sql string, params []scalar.Scalar) (arrowpg.BatchReader, error)
}

var (
	placeholderRe = regexp.MustCompile(`\$([0-9]+)`)
	tableRe       = regexp.MustCompile(`(?is)^\s*select\s+\*\s+from\s+([a-z_][a-z0-9_]*)\s*;?\s*$`)
)

const codeUndefinedTable = "42P01"

// EchoEngine answers "SELECT * FROM name" from registered tables and any
// other query with a single row holding its bound parameters, one column
// per parameter.
type EchoEngine struct {
	mem memory.Allocator

	mu     sync.RWMutex
	tables map[string]arrow.Record
}

var _ Engine = (*EchoEngine)(nil)

// NewEchoEngine creates an engine allocating result arrays from mem.
func NewEchoEngine(mem memory.Allocator) *EchoEngine {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &EchoEngine{mem: mem, tables: make(map[string]arrow.Record)}
}

// AddTable registers rec under name, replacing any previous table. The
// engine retains rec until Close.
func (e *EchoEngine) AddTable(name string, rec arrow.Record) {
	rec.Retain()
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.ToLower(name)
	if old, ok := e.tables[key]; ok {
		old.Release()
	}
	e.tables[key] = rec
}

// Close releases the registered tables.
func (e *EchoEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, rec := range e.tables {
		rec.Release()
		delete(e.tables, name)
	}
}

// table returns the record sql selects from, with ok reporting whether sql
// is a table scan at all. The record is retained; callers release it.
func (e *EchoEngine) table(sql string) (rec arrow.Record, ok bool, err error) {
	m := tableRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, false, nil
	}
	name := strings.ToLower(m[1])
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, found := e.tables[name]
	if !found {
		return nil, true, &pgconn.PgError{
			Severity: arrowpg.SeverityError,
			Code:     codeUndefinedTable,
			Message:  fmt.Sprintf("relation %q does not exist", name),
		}
	}
	rec.Retain()
	return rec, true, nil
}

func (e *EchoEngine) Describe(_ context.Context, sql string) ([]arrow.DataType, *arrow.Schema, error) {
	rec, ok, err := e.table(sql)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		defer rec.Release()
		return nil, rec.Schema(), nil
	}
	return make([]arrow.DataType, placeholderCount(sql)), nil, nil
}

func (e *EchoEngine) Execute(ctx context.Context, sql string, params []scalar.Scalar) (arrowpg.BatchReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok, err := e.table(sql)
	if err != nil {
		return nil, err
	}
	if ok {
		defer rec.Release()
		return array.NewRecordReader(rec.Schema(), []arrow.Record{rec})
	}

	fields := make([]arrow.Field, len(params))
	cols := make([]arrow.Array, len(params))
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i, p := range params {
		col, err := scalar.MakeArrayFromScalar(p, 1, e.mem)
		if err != nil {
			return nil, fmt.Errorf("echo parameter $%d: %w", i+1, err)
		}
		cols[i] = col
		fields[i] = arrow.Field{Name: "?column?", Type: p.DataType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)
	out := array.NewRecord(schema, cols, 1)
	defer out.Release()
	return array.NewRecordReader(schema, []arrow.Record{out})
}

// placeholderCount returns the highest $n referenced by sql.
func placeholderCount(sql string) int {
	n := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(sql, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v > n {
			n = v
		}
	}
	return n
}
