package postgres_test

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execCall captures one Exec invocation.
type execCall struct {
	sql  string
	args []any
}

// poolStub implements postgres.PgxPool for tests. Exec invocations are
// recorded; QueryRow and Query dispatch through optional funcs so a test can
// answer by inspecting the SQL.
type poolStub struct {
	mu    sync.Mutex
	execs []execCall

	execTag    pgconn.CommandTag
	execErr    error
	queryRowFn func(sql string, args []any) pgx.Row
	queryFn    func(sql string, args []any) (pgx.Rows, error)
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRowFn == nil {
		return rowStub{scan: func(...any) error { return errors.New("no row configured") }}
	}
	return p.queryRowFn(sql, args)
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.queryFn == nil {
		return nil, errors.New("no rows configured")
	}
	return p.queryFn(sql, args)
}

func (p *poolStub) calls() []execCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]execCall, len(p.execs))
	copy(out, p.execs)
	return out
}

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// valuesRow answers Scan by assigning the given values positionally.
func valuesRow(values ...any) rowStub {
	return rowStub{scan: func(dest ...any) error { return assign(values, dest) }}
}

// rowsStub implements pgx.Rows over a fixed value grid.
type rowsStub struct {
	grid [][]any
	idx  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }

func (r *rowsStub) Next() bool {
	if r.idx >= len(r.grid) {
		return false
	}
	r.idx++
	return true
}

func (r *rowsStub) Scan(dest ...any) error {
	return assign(r.grid[r.idx-1], dest)
}

// assign copies values into scan destinations; a nil value leaves the
// destination at its zero value, matching a NULL column.
func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("scan arity mismatch")
	}
	for i, v := range values {
		dv := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(v)
		if !sv.Type().AssignableTo(dv.Type()) {
			if sv.Type().ConvertibleTo(dv.Type()) {
				sv = sv.Convert(dv.Type())
			} else {
				return errors.New("scan type mismatch")
			}
		}
		dv.Set(sv)
	}
	return nil
}
