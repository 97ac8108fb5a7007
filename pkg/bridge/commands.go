package bridge

import (
	"context"

	"github.com/ha1tch/sqlbridge/pkg/bulk"
	"github.com/ha1tch/sqlbridge/pkg/codec"
	"github.com/ha1tch/sqlbridge/pkg/command"
	"github.com/ha1tch/sqlbridge/pkg/executor"
	"github.com/ha1tch/sqlbridge/pkg/pool"
)

// Query runs a command and returns the rows of its first result set.
func (b *Bridge) Query(ctx context.Context, connID uint64, cmdJSON []byte) (rows []codec.Row, err error) {
	defer b.record(connID, &err)
	defer b.recover("Query", &err)

	cmd, err := command.Parse(cmdJSON)
	if err != nil {
		return nil, err
	}
	b.logger.Execution().Debug("query", "conn_id", connID, "sql", describe(cmd.SQL))

	err = b.withConn(connID, func(c *pool.Client) error {
		ctx, cancel := executor.WithTimeout(ctx, cmd, c.RequestTimeout())
		defer cancel()
		rows, err = b.exec.Query(ctx, c.Session(), cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Execute runs a command and returns the affected row count.
func (b *Bridge) Execute(ctx context.Context, connID uint64, cmdJSON []byte) (res *executor.NonQueryResult, err error) {
	defer b.record(connID, &err)
	defer b.recover("Execute", &err)

	cmd, err := command.Parse(cmdJSON)
	if err != nil {
		return nil, err
	}
	b.logger.Execution().Debug("execute", "conn_id", connID, "sql", describe(cmd.SQL))

	err = b.withConn(connID, func(c *pool.Client) error {
		ctx, cancel := executor.WithTimeout(ctx, cmd, c.RequestTimeout())
		defer cancel()
		res, err = b.exec.NonQuery(ctx, c.Session(), cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Exec runs a command collecting every result set, the affected row count
// and OUTPUT parameter values.
func (b *Bridge) Exec(ctx context.Context, connID uint64, cmdJSON []byte) (res *executor.Result, err error) {
	defer b.record(connID, &err)
	defer b.recover("Exec", &err)

	cmd, err := command.Parse(cmdJSON)
	if err != nil {
		return nil, err
	}
	b.logger.Execution().Debug("exec", "conn_id", connID, "sql", describe(cmd.SQL))

	err = b.withConn(connID, func(c *pool.Client) error {
		ctx, cancel := executor.WithTimeout(ctx, cmd, c.RequestTimeout())
		defer cancel()
		res, err = b.exec.Exec(ctx, c.Session(), cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Stream runs a command and returns a cursor handle over its first result
// set. The connection is free again as soon as Stream returns.
func (b *Bridge) Stream(ctx context.Context, connID uint64, cmdJSON []byte) (id uint64, err error) {
	defer b.record(connID, &err)
	defer b.recover("Stream", &err)

	cmd, err := command.Parse(cmdJSON)
	if err != nil {
		return 0, err
	}
	b.logger.Execution().Debug("stream", "conn_id", connID, "sql", describe(cmd.SQL))

	err = b.withConn(connID, func(c *pool.Client) error {
		ctx, cancel := executor.WithTimeout(ctx, cmd, c.RequestTimeout())
		defer cancel()
		cur, err := b.exec.Stream(ctx, c.Session(), cmd)
		if err != nil {
			return err
		}
		id = b.reg.AddCursor(cur)
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.logger.Execution().Debug("cursor opened", "cursor_id", id, "conn_id", connID)
	return id, nil
}

// StreamNext returns the next row of a cursor. It reports false once the
// cursor is exhausted or when the handle is unknown.
func (b *Bridge) StreamNext(cursorID uint64) (codec.Row, bool) {
	cur, ok := b.reg.Cursor(cursorID)
	if !ok {
		return nil, false
	}
	return cur.Next()
}

// StreamClose forgets a cursor.
func (b *Bridge) StreamClose(cursorID uint64) {
	b.logger.Execution().Debug("cursor closed", "cursor_id", cursorID)
	b.reg.RemoveCursor(cursorID)
}

// Bulk inserts the rows of a bulk request in batches.
func (b *Bridge) Bulk(ctx context.Context, connID uint64, reqJSON []byte) (res *executor.NonQueryResult, err error) {
	defer b.record(connID, &err)
	defer b.recover("Bulk", &err)

	req, err := bulk.ParseRequest(reqJSON)
	if err != nil {
		return nil, err
	}

	err = b.withConn(connID, func(c *pool.Client) error {
		n, err := b.bulk.Execute(ctx, c.Session(), req)
		if err != nil {
			return err
		}
		res = &executor.NonQueryResult{RowsAffected: n}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
