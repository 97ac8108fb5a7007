package executor

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

// Conn is the session capability a command runs against.
type Conn interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Rows iterates one or more result sets.
type Rows interface {
	Columns() ([]codec.Column, error)
	Next() bool
	Values() ([]interface{}, error)
	NextResultSet() bool
	Err() error
	Close() error
}

// Session is satisfied by *sqlx.Conn and *sqlx.DB.
type Session interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLConn adapts an sqlx session to Conn.
type SQLConn struct {
	S      Session
	logger *log.Logger
}

// Wrap adapts s.
func Wrap(s Session) *SQLConn {
	return &SQLConn{S: s}
}

// WithLogger sets the logger used for driver conditions that do not fail
// the call.
func (c *SQLConn) WithLogger(l *log.Logger) *SQLConn {
	c.logger = l
	return c
}

func (c *SQLConn) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := c.S.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

func (c *SQLConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := c.S.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Statements without a count report zero.
		if c.logger != nil {
			c.logger.Execution().Debug("rows affected unavailable", "error", err.Error())
		}
		return 0, nil
	}
	return n, nil
}

type sqlRows struct {
	rows *sqlx.Rows
}

func (r *sqlRows) Columns() ([]codec.Column, error) {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]codec.Column, len(types))
	for i, ct := range types {
		cols[i] = codec.Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	return cols, nil
}

func (r *sqlRows) Next() bool                     { return r.rows.Next() }
func (r *sqlRows) Values() ([]interface{}, error) { return r.rows.SliceScan() }
func (r *sqlRows) NextResultSet() bool            { return r.rows.NextResultSet() }
func (r *sqlRows) Err() error                     { return r.rows.Err() }
func (r *sqlRows) Close() error                   { return r.rows.Close() }
