// Package pool wraps database/sql pools and single sessions behind the
// capabilities the registry hands out.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ha1tch/sqlbridge/pkg/config"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/executor"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

// DriverName is the database/sql driver name of go-mssqldb.
const DriverName = "sqlserver"

// Opener creates an unconnected database handle for a configuration.
type Opener func(cfg *config.Config) (*sqlx.DB, error)

// MSSQL opens handles through go-mssqldb.
func MSSQL(cfg *config.Config) (*sqlx.DB, error) {
	connector, err := cfg.Connector()
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(sql.OpenDB(connector), DriverName), nil
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Total int `json:"total"`
	Idle  int `json:"idle"`
	InUse int `json:"in_use"`
	Max   int `json:"max"`
}

// Pool is a bounded set of sessions sharing one configuration.
type Pool struct {
	db             *sqlx.DB
	settings       config.PoolSettings
	connectTimeout time.Duration
	requestTimeout time.Duration
	closed         atomic.Bool
	logger         *log.Logger
}

// New opens a pool and establishes its minimum number of sessions. A pool
// whose first session cannot be established is not returned.
func New(ctx context.Context, cfg *config.Config, open Opener, logger *log.Logger) (*Pool, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if open == nil {
		open = MSSQL
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	s := cfg.PoolSettings()
	db.SetMaxOpenConns(s.Max)
	db.SetMaxIdleConns(s.Max)
	db.SetConnMaxIdleTime(s.IdleTimeout)

	p := &Pool{
		db:             db,
		settings:       s,
		connectTimeout: cfg.ConnectTimeout(),
		requestTimeout: cfg.RequestTimeout(),
		logger:         logger,
	}

	logger.Pool().Debug("creating pool", "server", cfg.Server, "min", s.Min, "max", s.Max,
		"timeout_ms", p.connectTimeout.Milliseconds())

	if err := p.warm(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// warm opens max(min, 1) sessions at once and returns them idle.
func (p *Pool) warm(ctx context.Context) error {
	n := p.settings.Min
	if n < 1 {
		n = 1
	}

	conns := make([]*sqlx.Conn, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = p.connect(ctx)
		}(i)
	}
	wg.Wait()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) connect(ctx context.Context) (*sqlx.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	conn, err := p.db.Connx(ctx)
	if err == nil {
		err = conn.PingContext(ctx)
		if err != nil {
			conn.Close()
		}
	}
	if err == nil {
		return conn, nil
	}

	switch {
	case p.closed.Load() || errors.Is(err, sql.ErrConnDone):
		return nil, bridgeerrors.New(bridgeerrors.ErrCodePoolClosed, "Pool is closed").Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, bridgeerrors.Newf(bridgeerrors.ErrCodePoolExhausted,
			"Connection timeout after %dms: pool exhausted", p.connectTimeout.Milliseconds()).Err()
	case errors.Is(err, context.Canceled):
		return nil, bridgeerrors.Cancelled().Err()
	}
	return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodePoolCreate, "Could not establish connection").Err()
}

// Acquire checks a session out of the pool.
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	if p.closed.Load() {
		return nil, bridgeerrors.New(bridgeerrors.ErrCodePoolClosed, "Pool is closed").Err()
	}
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: p.requestTimeout, logger: p.logger}, nil
}

// Stats reports pool occupancy.
func (p *Pool) Stats() Stats {
	st := p.db.Stats()
	return Stats{
		Total: st.OpenConnections,
		Idle:  st.Idle,
		InUse: st.InUse,
		Max:   st.MaxOpenConnections,
	}
}

// RequestTimeout is the default command timeout for sessions of this pool.
func (p *Pool) RequestTimeout() time.Duration {
	return p.requestTimeout
}

// Close closes idle sessions and prevents new checkouts. Sessions still
// checked out close when they are released.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Client is one session: either checked out of a pool or a bare
// connection that owns its own handle.
type Client struct {
	conn    *sqlx.Conn
	bare    *sqlx.DB
	timeout time.Duration
	logger  *log.Logger
}

// OpenBare establishes a single session outside any pool.
func OpenBare(ctx context.Context, cfg *config.Config, open Opener, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if open == nil {
		open = MSSQL
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Connection().Debug("creating bare connection", "server", cfg.Server, "port", cfg.Port)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	conn, err := db.Connx(ctx)
	if err == nil {
		if err = conn.PingContext(ctx); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		db.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, bridgeerrors.Newf(bridgeerrors.ErrCodeConnectionFailed,
				"connect timeout after %dms", cfg.ConnectTimeout().Milliseconds()).Err()
		}
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConnectionFailed, "Could not connect").Err()
	}
	return &Client{conn: conn, bare: db, timeout: cfg.RequestTimeout(), logger: logger}, nil
}

// Session returns the executor view of the client.
func (c *Client) Session() executor.Conn {
	return executor.Wrap(c.conn).WithLogger(c.logger)
}

// RequestTimeout is the command timeout used when a command names none.
func (c *Client) RequestTimeout() time.Duration {
	return c.timeout
}

// Pooled reports whether the client came from a pool.
func (c *Client) Pooled() bool {
	return c.bare == nil
}

// Close returns a pooled session to its pool or tears down a bare one.
func (c *Client) Close() error {
	err := c.conn.Close()
	if c.bare != nil {
		if cerr := c.bare.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
