// Package bridge implements the boundary entry points. Callers hold only
// integer handles and JSON documents; every failure is returned as an
// error and, when it happened against a connection, also recorded in that
// connection's last-error slot.
package bridge

import (
	"context"
	"fmt"

	"github.com/ha1tch/sqlbridge/pkg/bulk"
	"github.com/ha1tch/sqlbridge/pkg/config"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/executor"
	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/pool"
	"github.com/ha1tch/sqlbridge/pkg/registry"
)

// Options configures a Bridge.
type Options struct {
	// Opener creates database handles. Nil dials SQL Server.
	Opener pool.Opener

	// Logger receives all bridge logging. Nil logs to stderr at INFO,
	// or DEBUG when SQLBRIDGE_DEBUG is set.
	Logger *log.Logger

	// BulkBatchSize is the rows-per-INSERT default for bulk requests that
	// do not name one.
	BulkBatchSize int
}

// Bridge owns the handle registry and the command pipeline.
type Bridge struct {
	reg    *registry.Registry
	exec   *executor.Executor
	bulk   *bulk.Planner
	logger *log.Logger
}

// New creates a bridge with empty handle tables.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	b := &Bridge{
		reg:    registry.New(opts.Opener, logger),
		exec:   executor.New(logger),
		bulk:   bulk.NewPlanner(logger, opts.BulkBatchSize),
		logger: logger,
	}
	logger.System().Debug("bridge initialized", "debug", logger.DebugEnabled())
	return b
}

// Logger returns the bridge logger.
func (b *Bridge) Logger() *log.Logger {
	return b.logger
}

// recover converts a panic in an entry point into an internal error.
func (b *Bridge) recover(op string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := bridgeerrors.Newf(bridgeerrors.ErrCodePanic, "panic in %s: %v", op, r).
		Critical().
		WithOp("Bridge." + op).
		WithStack().
		Build()
	b.logger.System().Error("entry point panicked", err, "op", op)
	*errp = err
}

// record stores a failure in the connection's last-error slot.
func (b *Bridge) record(connID uint64, errp *error) {
	if *errp == nil {
		return
	}
	if e, err := b.reg.Conn(connID); err == nil {
		e.SetError(*errp)
	}
}

// withConn checks the connection's client out for fn and restores it
// afterwards, even when fn panics.
func (b *Bridge) withConn(connID uint64, fn func(c *pool.Client) error) error {
	entry, client, err := b.reg.Checkout(connID)
	if err != nil {
		return err
	}
	defer b.reg.Restore(entry, client)
	return fn(client)
}

// PoolCreate parses a configuration document and returns a pool handle.
// Equivalent configurations share one pool.
func (b *Bridge) PoolCreate(ctx context.Context, configJSON []byte) (id uint64, err error) {
	defer b.recover("PoolCreate", &err)

	cfg, err := config.FromJSON(configJSON)
	if err != nil {
		b.logger.Pool().Error("pool creation failed", err)
		return 0, err
	}
	id, err = b.reg.CreatePool(ctx, cfg)
	if err != nil {
		b.logger.Pool().Error("pool creation failed", err, "server", cfg.Server, "port", cfg.Port)
		return 0, err
	}
	return id, nil
}

// PoolAcquire checks a session out of a pool and returns a connection
// handle. Failures are recorded on the pool.
func (b *Bridge) PoolAcquire(ctx context.Context, poolID uint64) (id uint64, err error) {
	defer b.recover("PoolAcquire", &err)
	return b.reg.AcquireConnection(ctx, poolID)
}

// PoolRelease returns a pooled connection to its pool.
func (b *Bridge) PoolRelease(poolID, connID uint64) (err error) {
	defer b.recover("PoolRelease", &err)

	if e, lookupErr := b.reg.Conn(connID); lookupErr == nil && e.PoolID != poolID {
		b.logger.Pool().Warn("connection released to a different pool",
			"conn_id", connID, "pool_id", poolID, "owner", e.PoolID)
	}
	return b.reg.ReleaseConnection(connID)
}

// PoolClose drops one reference to a pool.
func (b *Bridge) PoolClose(poolID uint64) (err error) {
	defer b.recover("PoolClose", &err)
	return b.reg.ReleasePool(poolID)
}

// Connect opens a bare connection and returns its handle.
func (b *Bridge) Connect(ctx context.Context, configJSON []byte) (id uint64, err error) {
	defer b.recover("Connect", &err)

	cfg, err := config.FromJSON(configJSON)
	if err != nil {
		b.logger.Connection().Error("connection failed", err)
		return 0, err
	}
	id, err = b.reg.CreateBareConnection(ctx, cfg)
	if err != nil {
		b.logger.Connection().Error("connection failed", err, "server", cfg.Server, "port", cfg.Port)
		return 0, err
	}
	return id, nil
}

// Disconnect removes a connection handle. A connection with an operation
// in flight is closed when that operation finishes.
func (b *Bridge) Disconnect(connID uint64) (err error) {
	defer b.recover("Disconnect", &err)
	return b.reg.ReleaseConnection(connID)
}

// Cancel accepts a cancellation request. Statements already sent to the
// server are not interrupted; callers must bound commands with
// command_timeout_ms instead.
func (b *Bridge) Cancel(connID uint64) {
	b.logger.Connection().Debug("cancel requested; not supported mid-statement", "conn_id", connID)
}

// Diagnostics returns a snapshot of every pool and connection.
func (b *Bridge) Diagnostics() registry.Snapshot {
	return b.reg.Snapshot()
}

// SetDebug turns DEBUG logging on every category on or off.
func (b *Bridge) SetDebug(enabled bool) {
	b.logger.SetDebug(enabled)
	b.logger.System().Info("debug logging toggled", "enabled", enabled)
}

// CloseAll drops every cursor, stream, connection and pool.
func (b *Bridge) CloseAll() {
	b.logger.System().Debug("closing all handles")
	b.reg.ClearAll()
}

// LastError drains the last-error slot of a connection or pool handle.
func (b *Bridge) LastError(handle uint64) (string, bool) {
	return b.reg.LastError(handle)
}

func describe(sql string) string {
	if len(sql) > 100 {
		return fmt.Sprintf("%s...", sql[:100])
	}
	return sql
}
