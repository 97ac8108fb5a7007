// Package bulk loads rows into a table with batched multi-row INSERT
// statements.
package bulk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/executor"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

// DefaultBatchSize is the number of rows per INSERT when the request does
// not say.
const DefaultBatchSize = 1000

// Column describes a target column. Nullable is accepted but not enforced.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Request is a bulk insert document.
type Request struct {
	Table     string          `json:"table"`
	Columns   []Column        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	BatchSize *int            `json:"batch_size,omitempty"`
}

// ParseRequest decodes a bulk insert document, keeping numbers exact.
func ParseRequest(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeQueryMalformed, "Invalid bulk insert JSON").Err()
	}
	if strings.TrimSpace(req.Table) == "" {
		return nil, bridgeerrors.New(bridgeerrors.ErrCodeQueryMalformed, "missing field `table`").Err()
	}
	return &req, nil
}

// Planner executes bulk requests.
type Planner struct {
	logger           *log.Logger
	defaultBatchSize int
}

// NewPlanner creates a planner. A batch size below 1 selects the default.
func NewPlanner(logger *log.Logger, defaultBatchSize int) *Planner {
	if logger == nil {
		logger = log.Discard()
	}
	if defaultBatchSize < 1 {
		defaultBatchSize = DefaultBatchSize
	}
	return &Planner{logger: logger, defaultBatchSize: defaultBatchSize}
}

func (p *Planner) batchSize(req *Request) int {
	n := p.defaultBatchSize
	if req.BatchSize != nil {
		n = *req.BatchSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Execute inserts the request's rows in sequential batches and returns the
// total affected count. The first failing batch stops the load; batches
// already applied stay applied.
func (p *Planner) Execute(ctx context.Context, conn executor.Conn, req *Request) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}

	size := p.batchSize(req)
	logger := p.logger.Execution().WithFields("table", req.Table)
	logger.Debug("bulk insert starting", "columns", len(req.Columns), "rows", len(req.Rows), "batch_size", size)

	var total int64
	for start := 0; start < len(req.Rows); start += size {
		end := start + size
		if end > len(req.Rows) {
			end = len(req.Rows)
		}

		stmt, err := BuildInsertBatch(req.Table, req.Columns, req.Rows[start:end])
		if err != nil {
			return total, err
		}

		n, err := conn.Exec(ctx, stmt)
		if err != nil {
			cerr := executor.Classify(ctx, err)
			logger.Error("bulk insert batch failed", cerr, "offset", start, "inserted", total)
			return total, bridgeerrors.Wrap(cerr, bridgeerrors.ErrCodeBulkBatch, "Bulk insert batch failed").
				WithField("offset", start).Err()
		}
		total += n
	}

	logger.Debug("bulk insert complete", "rows_affected", total)
	return total, nil
}

// BuildInsertBatch renders one INSERT ... VALUES statement for rows.
func BuildInsertBatch(table string, columns []Column, rows [][]interface{}) (string, error) {
	var b strings.Builder
	b.Grow(len(rows) * 64)

	b.WriteString("INSERT INTO ")
	b.WriteString(codec.BracketEscape(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(codec.BracketEscape(c.Name))
	}
	b.WriteString(") VALUES ")

	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		if len(row) > len(columns) {
			return "", bridgeerrors.Query("Row has %d values but only %d columns defined", len(row), len(columns)).Err()
		}
		b.WriteByte('(')
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			lit, err := literal(v, columns[i].Type)
			if err != nil {
				return "", err
			}
			b.WriteString(lit)
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

// literal renders a JSON value for a column of the given type.
func literal(v interface{}, colType string) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case json.Number:
		return x.String(), nil
	case float64:
		return codec.Literal(x), nil
	case string:
		switch strings.ToLower(colType) {
		case "uniqueidentifier":
			if _, err := codec.ParseUUID(x); err != nil {
				return "", err
			}
			return "'" + x + "'", nil
		case "varbinary", "binary", "image":
			raw, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return "", bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTypeConversion, "Invalid base64").Err()
			}
			return codec.HexLiteral(raw), nil
		}
		return codec.QuoteN(x), nil
	case []interface{}, map[string]interface{}:
		data, err := json.Marshal(x)
		if err != nil {
			return "", bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTypeConversion, "cannot serialise value").Err()
		}
		return codec.QuoteN(string(data)), nil
	}
	return "", bridgeerrors.Conversion("unsupported value of type %T", v).Err()
}
