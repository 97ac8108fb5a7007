// Package executor runs command documents against a session in one of five
// modes: query, non-query, exec, exec with OUTPUT parameters, and streaming.
package executor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	"github.com/ha1tch/sqlbridge/pkg/command"
	"github.com/ha1tch/sqlbridge/pkg/cursor"
	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/rewrite"
)

// RowCountColumn is the column name of the row-count query appended to exec
// batches. Rows carrying it are consumed, not returned.
const RowCountColumn = "__rc"

// Result is the outcome of an exec command.
type Result struct {
	RowsAffected int64         `json:"rowsAffected"`
	ResultSets   [][]codec.Row `json:"resultSets"`
	OutputParams codec.Row     `json:"outputParams"`
}

// NonQueryResult is the outcome of a non-query command.
type NonQueryResult struct {
	RowsAffected int64 `json:"rowsAffected"`
}

// Executor runs commands. It holds no per-connection state.
type Executor struct {
	logger *log.Logger
}

// New creates an executor.
func New(logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{logger: logger}
}

// WithTimeout bounds ctx by the command's timeout, or fallback when the
// command has none.
func WithTimeout(ctx context.Context, cmd *command.Command, fallback time.Duration) (context.Context, context.CancelFunc) {
	d := cmd.Timeout(fallback)
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Query runs cmd and returns the rows of its first result set.
func (e *Executor) Query(ctx context.Context, conn Conn, cmd *command.Command) ([]codec.Row, error) {
	defer e.timed("query", time.Now())

	sql, args, err := bind(cmd)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	defer rows.Close()

	cols, raw, err := readSet(rows)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	out := make([]codec.Row, len(raw))
	for i, values := range raw {
		out[i] = codec.DecodeRow(cols, values)
	}
	return out, nil
}

// NonQuery runs cmd and returns the affected row count.
func (e *Executor) NonQuery(ctx context.Context, conn Conn, cmd *command.Command) (*NonQueryResult, error) {
	defer e.timed("execute", time.Now())

	sql, args, err := bind(cmd)
	if err != nil {
		return nil, err
	}
	n, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	return &NonQueryResult{RowsAffected: n}, nil
}

// Stream runs cmd, buffers the first result set undecoded, and returns a
// cursor over it.
func (e *Executor) Stream(ctx context.Context, conn Conn, cmd *command.Command) (*cursor.Cursor, error) {
	defer e.timed("stream", time.Now())

	sql, args, err := bind(cmd)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	defer rows.Close()

	cols, raw, err := readSet(rows)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	return cursor.New(cols, raw), nil
}

// Exec runs cmd collecting every non-empty result set, the affected row
// count and any OUTPUT parameter values.
func (e *Executor) Exec(ctx context.Context, conn Conn, cmd *command.Command) (*Result, error) {
	defer e.timed("exec", time.Now())

	var (
		batch   string
		args    []interface{}
		outputs []string
		err     error
	)
	if cmd.HasOutputs() {
		batch, outputs, err = buildOutputBatch(cmd)
	} else {
		batch, args, err = buildExecBatch(cmd)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Execution().Debug("exec batch", "sql", batch, "outputs", len(outputs))

	rows, err := conn.Query(ctx, batch, args...)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	defer rows.Close()

	res, err := collect(rows, outputs)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	return res, nil
}

func (e *Executor) timed(mode string, start time.Time) {
	e.logger.Performance().Debug("command finished", "mode", mode, "elapsed", time.Since(start))
}

// bind rewrites named references and encodes the argument list. Every
// parameter is encoded, referenced or not, so a bad value always fails
// before anything is sent. With no references the SQL is sent as written.
func bind(cmd *command.Command) (string, []interface{}, error) {
	encoded, err := encodeAll(cmd.Params)
	if err != nil {
		return "", nil, err
	}
	sql, order := rewrite.Rewrite(cmd.SQL, cmd.Params)
	if len(order) == 0 {
		return cmd.SQL, nil, nil
	}
	args := make([]interface{}, len(order))
	for i, idx := range order {
		args[i] = encoded[idx]
	}
	return sql, args, nil
}

func encodeAll(params []command.Param) ([]interface{}, error) {
	out := make([]interface{}, len(params))
	for i, p := range params {
		v, err := codec.Encode(p.Value, p.Type)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// buildExecBatch appends the row-count query. A procedure call binds its
// parameters by name to positional markers.
func buildExecBatch(cmd *command.Command) (string, []interface{}, error) {
	if !cmd.IsProcedure() {
		sql, args, err := bind(cmd)
		if err != nil {
			return "", nil, err
		}
		return sql + "; SELECT @@ROWCOUNT AS " + RowCountColumn, args, nil
	}

	encoded, err := encodeAll(cmd.Params)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("EXEC ")
	b.WriteString(cmd.SQL)
	for i, p := range cmd.Params {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString("@" + command.CleanName(p.Name) + " = @P" + strconv.Itoa(i+1))
	}
	b.WriteString("; SELECT @@ROWCOUNT AS " + RowCountColumn)
	return b.String(), encoded, nil
}

// collect drains every result set. Probe rows set the affected count, rows
// whose columns are exactly the output names become output values, and
// empty sets are dropped.
func collect(rows Rows, outputs []string) (*Result, error) {
	res := &Result{ResultSets: [][]codec.Row{}, OutputParams: codec.Row{}}

	for {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		var set []codec.Row
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, err
			}
			row := codec.DecodeRow(cols, values)

			if rc, ok := row.Get(RowCountColumn); ok {
				if n, ok := rc.(int64); ok {
					res.RowsAffected = n
					continue
				}
			}
			if len(outputs) > 0 && len(row) == len(outputs) && row.Has(outputs...) {
				for _, f := range row {
					res.OutputParams = res.OutputParams.Set(f.Name, f.Value)
				}
				continue
			}
			set = append(set, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(set) > 0 {
			res.ResultSets = append(res.ResultSets, set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	return res, rows.Err()
}

// readSet buffers the first result set and drains any that follow so the
// session is left clean.
func readSet(rows Rows) ([]codec.Column, [][]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for rows.NextResultSet() {
		for rows.Next() {
		}
	}
	if out == nil {
		out = [][]interface{}{}
	}
	return cols, out, rows.Err()
}
