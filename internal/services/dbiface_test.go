package services

import (
	"context"
	"fmt"
	"reflect"
)

// Test doubles for the DB, Tx, Rows and Row interfaces. Unset funcs fall back
// to empty results, except QueryRow which reports that nothing was stubbed.

type fakeCommandTag struct {
	rowsAffected int64
}

func (f fakeCommandTag) RowsAffected() int64 { return f.rowsAffected }

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.scanFunc == nil {
		return fmt.Errorf("fakeRow: scanFunc not set")
	}
	return f.scanFunc(dest...)
}

// errRow is a Row whose Scan always fails with err.
func errRow(err error) Row {
	return fakeRow{scanFunc: func(dest ...any) error { return err }}
}

// rowFromValues is a Row that scans values positionally into dest.
func rowFromValues(values ...any) Row {
	return fakeRow{scanFunc: func(dest ...any) error {
		return assignRow(dest, values)
	}}
}

type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func (f *fakeRows) Close()     { f.closed = true }
func (f *fakeRows) Err() error { return f.err }

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.idx == 0 || f.idx > len(f.rows) {
		return fmt.Errorf("fakeRows: scan without a current row")
	}
	return assignRow(dest, f.rows[f.idx-1])
}

type execFn func(ctx context.Context, sql string, args ...any) (CommandTag, error)
type queryFn func(ctx context.Context, sql string, args ...any) (Rows, error)
type queryRowFn func(ctx context.Context, sql string, args ...any) Row

func runExec(ctx context.Context, fn execFn, sql string, args []any) (CommandTag, error) {
	if fn == nil {
		return fakeCommandTag{}, nil
	}
	return fn(ctx, sql, args...)
}

func runQuery(ctx context.Context, fn queryFn, sql string, args []any) (Rows, error) {
	if fn == nil {
		return &fakeRows{}, nil
	}
	return fn(ctx, sql, args...)
}

func runQueryRow(ctx context.Context, fn queryRowFn, sql string, args []any) Row {
	if fn == nil {
		return errRow(fmt.Errorf("QueryRowFunc not set for %q", sql))
	}
	return fn(ctx, sql, args...)
}

// fakeDB answers statements through its Func fields. Without a BeginFunc,
// Begin hands out a fakeTx that routes statements back to the same funcs.
type fakeDB struct {
	ExecFunc     execFn
	QueryFunc    queryFn
	QueryRowFunc queryRowFn
	BeginFunc    func(ctx context.Context) (Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return runExec(ctx, f.ExecFunc, sql, args)
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return runQuery(ctx, f.QueryFunc, sql, args)
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return runQueryRow(ctx, f.QueryRowFunc, sql, args)
}

func (f *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if f.BeginFunc != nil {
		return f.BeginFunc(ctx)
	}
	return &fakeTx{ExecFunc: f.ExecFunc, QueryFunc: f.QueryFunc, QueryRowFunc: f.QueryRowFunc}, nil
}

type fakeTx struct {
	ExecFunc     execFn
	QueryFunc    queryFn
	QueryRowFunc queryRowFn
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return runExec(ctx, f.ExecFunc, sql, args)
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return runQuery(ctx, f.QueryFunc, sql, args)
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return runQueryRow(ctx, f.QueryRowFunc, sql, args)
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.CommitFunc == nil {
		return nil
	}
	return f.CommitFunc(ctx)
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.RollbackFunc == nil {
		return nil
	}
	return f.RollbackFunc(ctx)
}

// assignRow copies values into scan destinations, converting where the
// types allow it. A nil value zeroes the destination.
func assignRow(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(values))
	}
	for i, value := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a non-nil pointer", i)
		}
		elem := target.Elem()
		if value == nil {
			elem.SetZero()
			continue
		}
		src := reflect.ValueOf(value)
		switch {
		case src.Type().AssignableTo(elem.Type()):
			elem.Set(src)
		case src.Type().ConvertibleTo(elem.Type()):
			elem.Set(src.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s in column %d", value, elem.Type(), i)
		}
	}
	return nil
}
