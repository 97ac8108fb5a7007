package executor

import (
	"context"

	"github.com/ha1tch/sqlbridge/pkg/codec"
)

type fakeSet struct {
	cols []codec.Column
	rows [][]interface{}
}

// fakeConn replays scripted result sets and records what it was sent.
type fakeConn struct {
	sets     []fakeSet
	affected int64
	err      error

	queries []string
	args    [][]interface{}
}

func (f *fakeConn) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{sets: f.sets, row: -1}, nil
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return 0, f.err
	}
	return f.affected, nil
}

type fakeRows struct {
	sets   []fakeSet
	set    int
	row    int
	closed bool
}

func (r *fakeRows) Columns() ([]codec.Column, error) {
	if r.set >= len(r.sets) {
		return nil, nil
	}
	return r.sets[r.set].cols, nil
}

func (r *fakeRows) Next() bool {
	if r.set >= len(r.sets) {
		return false
	}
	r.row++
	return r.row < len(r.sets[r.set].rows)
}

func (r *fakeRows) Values() ([]interface{}, error) {
	return r.sets[r.set].rows[r.row], nil
}

func (r *fakeRows) NextResultSet() bool {
	r.set++
	r.row = -1
	return r.set < len(r.sets)
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { r.closed = true; return nil }
