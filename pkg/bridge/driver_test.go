package bridge

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/ha1tch/sqlbridge/pkg/config"
)

// recorder is a database that accepts any statement and remembers it.
// Statements containing reject fail with a server-style error.
type recorder struct {
	mu     sync.Mutex
	stmts  []string
	reject string
}

func (r *recorder) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

var recorders sync.Map // dsn -> *recorder

const recorderDriver = "sqlbridge-recorder"

func init() {
	sql.Register(recorderDriver, recDriver{})
}

type recDriver struct{}

func (recDriver) Open(dsn string) (driver.Conn, error) {
	r, ok := recorders.Load(dsn)
	if !ok {
		return nil, errors.New("unknown recorder " + dsn)
	}
	return &recConn{r: r.(*recorder)}, nil
}

type recConn struct {
	r *recorder
}

func (c *recConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *recConn) Close() error { return nil }

func (c *recConn) Begin() (driver.Tx, error) {
	return nil, errors.New("begin not supported")
}

func (c *recConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.stmts = append(c.r.stmts, query)
	if c.r.reject != "" && strings.Contains(query, c.r.reject) {
		return nil, errors.New("statement rejected: " + c.r.reject)
	}
	return driver.RowsAffected(0), nil
}

// recorderOpener returns an opener whose connections all record into a
// fresh recorder owned by the test.
func recorderOpener(t *testing.T) (func(*config.Config) (*sqlx.DB, error), *recorder) {
	t.Helper()
	r := &recorder{}
	recorders.Store(t.Name(), r)
	t.Cleanup(func() { recorders.Delete(t.Name()) })
	return func(*config.Config) (*sqlx.DB, error) {
		return sqlx.Open(recorderDriver, t.Name())
	}, r
}
