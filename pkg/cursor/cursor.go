// Package cursor holds materialised query results that the host consumes
// one row per call.
package cursor

import (
	"sync"

	"github.com/ha1tch/sqlbridge/pkg/codec"
)

// Cursor yields buffered rows in order. Rows stay in driver form until they
// are handed out. Once an advance finds nothing left the cursor is exhausted
// for good, and it cannot be rewound.
type Cursor struct {
	mu      sync.Mutex
	columns []codec.Column
	rows    [][]interface{}
	pos     int
	done    bool
}

// New creates a cursor over rows described by columns.
func New(columns []codec.Column, rows [][]interface{}) *Cursor {
	return &Cursor{columns: columns, rows: rows}
}

// Next decodes and returns the next row. The second result is false once
// the cursor is exhausted.
func (c *Cursor) Next() (codec.Row, bool) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil, false
	}
	if c.pos >= len(c.rows) {
		c.done = true
		c.rows = nil
		c.mu.Unlock()
		return nil, false
	}
	raw := c.rows[c.pos]
	c.rows[c.pos] = nil
	c.pos++
	c.mu.Unlock()

	return codec.DecodeRow(c.columns, raw), true
}

// Exhausted reports whether an advance has already come up empty.
func (c *Cursor) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Remaining is the number of rows not yet handed out.
func (c *Cursor) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 0
	}
	return len(c.rows) - c.pos
}

// Columns returns the result columns.
func (c *Cursor) Columns() []codec.Column {
	return c.columns
}
