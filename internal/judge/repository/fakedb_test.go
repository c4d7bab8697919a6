package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"judgeflow/internal/common/db"
)

type execCall struct {
	query string
	args  []interface{}
}

// fakeDB answers QueryRow/Query with scripted values and records Exec calls.
type fakeDB struct {
	rows         [][]interface{} // queued single-row answers; nil entry means no rows
	multi        [][]interface{} // answer for Query
	rowsAffected int64
	execErr      error
	execs        []execCall
	queries      []execCall
}

func (f *fakeDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.queries = append(f.queries, execCall{query, args})
	return &fakeRows{data: f.multi, pos: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	f.queries = append(f.queries, execCall{query, args})
	if len(f.rows) == 0 {
		return fakeRow{}
	}
	next := f.rows[0]
	f.rows = f.rows[1:]
	return fakeRow{values: next}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, execCall{strings.Join(strings.Fields(query), " "), args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult(f.rowsAffected), nil
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }
func (f *fakeDB) Driver() string             { return "fake" }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct{ values []interface{} }

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.values == nil {
		return sql.ErrNoRows
	}
	return assignAll(dest, r.values)
}

type fakeRows struct {
	data [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool                     { r.pos++; return r.pos < len(r.data) }
func (r *fakeRows) Scan(dest ...interface{}) error { return assignAll(dest, r.data[r.pos]) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func assignAll(dest, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		if err := assign(d, values[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v interface{}) error {
	switch d := dest.(type) {
	case sql.Scanner:
		return d.Scan(v)
	case *string:
		*d = v.(string)
	case *int64:
		*d = v.(int64)
	case *int:
		*d = v.(int)
	case *bool:
		*d = v.(bool)
	case *time.Time:
		*d = v.(time.Time)
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}
