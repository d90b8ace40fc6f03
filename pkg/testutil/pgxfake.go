package testutil

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakeRow satisfies pgx.Row with a canned scan function.
type FakeRow struct {
	ScanFunc func(dest ...any) error
}

// Scan delegates to the canned function.
func (r FakeRow) Scan(dest ...any) error {
	return r.ScanFunc(dest...)
}

// FakeRows satisfies pgx.Rows over a fixed grid of values.
type FakeRows struct {
	Rows    [][]any
	RowsErr error
	ScanErr error

	idx int
}

func (r *FakeRows) Close()                                       {}
func (r *FakeRows) Err() error                                   { return r.RowsErr }
func (r *FakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *FakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *FakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *FakeRows) RawValues() [][]byte                          { return nil }
func (r *FakeRows) Conn() *pgx.Conn                              { return nil }

func (r *FakeRows) Next() bool {
	if r.idx >= len(r.Rows) {
		return false
	}
	r.idx++
	return true
}

func (r *FakeRows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}

	row := r.Rows[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan has %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

// FakeQuerier records statements and plays back canned results. It satisfies
// the querier interfaces of the PostGIS connector and the layer catalog.
type FakeQuerier struct {
	ExecSQL  []string
	ExecArgs [][]any
	ExecTag  pgconn.CommandTag
	ExecErr  error

	QuerySQL  []string
	QueryArgs [][]any
	QueryRows pgx.Rows
	QueryErr  error

	RowSQL   []string
	RowArgs  [][]any
	RowQueue []FakeRow
}

func (f *FakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.ExecSQL = append(f.ExecSQL, sql)
	f.ExecArgs = append(f.ExecArgs, args)
	return f.ExecTag, f.ExecErr
}

func (f *FakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.QuerySQL = append(f.QuerySQL, sql)
	f.QueryArgs = append(f.QueryArgs, args)
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return f.QueryRows, nil
}

// QueryRow pops the next canned row; an empty queue behaves like a query
// matching nothing.
func (f *FakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.RowSQL = append(f.RowSQL, sql)
	f.RowArgs = append(f.RowArgs, args)

	if len(f.RowQueue) == 0 {
		return FakeRow{ScanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	}
	row := f.RowQueue[0]
	f.RowQueue = f.RowQueue[1:]
	return row
}

// assign stores src through the dest pointer, converting when the types are
// compatible.
func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scan destination must be a non-nil pointer, got %T", dest)
	}

	el := dv.Elem()
	if src == nil {
		el.Set(reflect.Zero(el.Type()))
		return nil
	}

	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(el.Type()):
		el.Set(sv)
	case sv.Type().ConvertibleTo(el.Type()):
		el.Set(sv.Convert(el.Type()))
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
	return nil
}
