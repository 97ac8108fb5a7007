// Package registry maps the integer handles held by callers to live pools,
// connections, cursors and large-object streams.
//
// Every table has its own mutex, held only for lookup, insert and remove.
// No operation holds two table locks at once and no lock is held across
// network I/O.
package registry

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ha1tch/sqlbridge/pkg/config"
	"github.com/ha1tch/sqlbridge/pkg/cursor"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/pool"
)

// Registry owns every handle table.
type Registry struct {
	open   pool.Opener
	logger *log.Logger

	poolsMu sync.Mutex
	pools   map[uint64]*PoolEntry
	dedup   map[string]uint64 // dedup key -> pool handle

	connsMu sync.Mutex
	conns   map[uint64]*ConnEntry

	cursorsMu sync.Mutex
	cursors   map[uint64]*cursor.Cursor

	streamsMu sync.Mutex
	streams   map[uint64]io.ReadWriteCloser

	nextPool   atomic.Uint64
	nextConn   atomic.Uint64
	nextCursor atomic.Uint64
	nextStream atomic.Uint64
}

// New creates an empty registry. A nil opener dials SQL Server.
func New(open pool.Opener, logger *log.Logger) *Registry {
	if open == nil {
		open = pool.MSSQL
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Registry{
		open:    open,
		logger:  logger,
		pools:   make(map[uint64]*PoolEntry),
		dedup:   make(map[string]uint64),
		conns:   make(map[uint64]*ConnEntry),
		cursors: make(map[uint64]*cursor.Cursor),
		streams: make(map[uint64]io.ReadWriteCloser),
	}
}

// issue returns the next handle from a counter. Handles start at 1.
func issue(counter *atomic.Uint64) uint64 {
	return counter.Add(1)
}

// errSlot holds the most recent failure message of an entry.
type errSlot struct {
	mu  sync.Mutex
	msg *string
}

func (s *errSlot) set(err error) {
	msg := err.Error()
	s.mu.Lock()
	s.msg = &msg
	s.mu.Unlock()
}

func (s *errSlot) take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg == nil {
		return "", false
	}
	msg := *s.msg
	s.msg = nil
	return msg, true
}

// PoolEntry is a registered pool. refs is guarded by the pools table lock.
type PoolEntry struct {
	ID   uint64
	Pool *pool.Pool

	key     string
	refs    int
	lastErr errSlot
}

// SetError records err in the pool's last-error slot.
func (e *PoolEntry) SetError(err error) {
	e.lastErr.set(err)
}

// CreatePool returns the handle of the pool serving cfg, creating the pool
// when no live pool has the same dedup key.
func (r *Registry) CreatePool(ctx context.Context, cfg *config.Config) (uint64, error) {
	key := cfg.DedupKey()
	if id, ok := r.retain(key); ok {
		r.logger.Pool().Debug("pool dedup hit", "pool_id", id)
		return id, nil
	}

	p, err := pool.New(ctx, cfg, r.open, r.logger)
	if err != nil {
		return 0, err
	}

	r.poolsMu.Lock()
	if id, ok := r.dedup[key]; ok {
		// Lost a creation race; share the winner.
		r.pools[id].refs++
		r.poolsMu.Unlock()
		p.Close()
		return id, nil
	}
	id := issue(&r.nextPool)
	r.pools[id] = &PoolEntry{ID: id, Pool: p, key: key, refs: 1}
	r.dedup[key] = id
	r.poolsMu.Unlock()

	r.logger.Pool().Info("pool created", "pool_id", id, "server", cfg.Server)
	return id, nil
}

func (r *Registry) retain(key string) (uint64, bool) {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	id, ok := r.dedup[key]
	if !ok {
		return 0, false
	}
	r.pools[id].refs++
	return id, true
}

// Pool looks up a pool entry.
func (r *Registry) Pool(id uint64) (*PoolEntry, error) {
	r.poolsMu.Lock()
	e, ok := r.pools[id]
	r.poolsMu.Unlock()
	if !ok {
		return nil, bridgeerrors.Newf(bridgeerrors.ErrCodePoolNotFound, "Pool %d not found", id).Err()
	}
	return e, nil
}

// ReleasePool drops one reference. The pool is closed and its dedup key
// forgotten when the last reference goes.
func (r *Registry) ReleasePool(id uint64) error {
	r.poolsMu.Lock()
	e, ok := r.pools[id]
	if !ok {
		r.poolsMu.Unlock()
		return bridgeerrors.Newf(bridgeerrors.ErrCodePoolNotFound, "Pool %d not found", id).Err()
	}
	e.refs--
	if e.refs > 0 {
		refs := e.refs
		r.poolsMu.Unlock()
		r.logger.Pool().Debug("pool reference released", "pool_id", id, "ref_count", refs)
		return nil
	}
	delete(r.pools, id)
	delete(r.dedup, e.key)
	r.poolsMu.Unlock()

	r.logger.Pool().Info("pool closed", "pool_id", id)
	return e.Pool.Close()
}

// ConnEntry is a registered connection. The client is nil while an
// operation has it checked out.
type ConnEntry struct {
	ID     uint64
	PoolID uint64 // 0 for bare connections

	mu       sync.Mutex
	client   *pool.Client
	released bool
	tx       *string
	lastErr  errSlot
}

// SetError records err in the connection's last-error slot.
func (e *ConnEntry) SetError(err error) {
	e.lastErr.set(err)
}

// Transaction returns the active transaction id.
func (e *ConnEntry) Transaction() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return "", false
	}
	return *e.tx, true
}

// SetTransaction records the active transaction id. An empty id clears it.
func (e *ConnEntry) SetTransaction(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		e.tx = nil
		return
	}
	e.tx = &id
}

func (r *Registry) storeConn(c *pool.Client, poolID uint64) uint64 {
	id := issue(&r.nextConn)
	r.connsMu.Lock()
	r.conns[id] = &ConnEntry{ID: id, PoolID: poolID, client: c}
	r.connsMu.Unlock()
	return id
}

// AcquireConnection checks a session out of a pool and registers it.
// Failures are also recorded on the pool entry.
func (r *Registry) AcquireConnection(ctx context.Context, poolID uint64) (uint64, error) {
	e, err := r.Pool(poolID)
	if err != nil {
		return 0, err
	}
	c, err := e.Pool.Acquire(ctx)
	if err != nil {
		e.SetError(err)
		r.logger.Pool().Warn("acquire failed", "pool_id", poolID, "error", err.Error())
		return 0, err
	}
	id := r.storeConn(c, poolID)
	r.logger.Pool().Debug("connection acquired", "pool_id", poolID, "conn_id", id)
	return id, nil
}

// CreateBareConnection opens and registers a session owned by no pool.
func (r *Registry) CreateBareConnection(ctx context.Context, cfg *config.Config) (uint64, error) {
	c, err := pool.OpenBare(ctx, cfg, r.open, r.logger)
	if err != nil {
		return 0, err
	}
	id := r.storeConn(c, 0)
	r.logger.Connection().Info("connection established", "conn_id", id, "server", cfg.Server)
	return id, nil
}

// Conn looks up a connection entry.
func (r *Registry) Conn(id uint64) (*ConnEntry, error) {
	r.connsMu.Lock()
	e, ok := r.conns[id]
	r.connsMu.Unlock()
	if !ok {
		return nil, bridgeerrors.Newf(bridgeerrors.ErrCodeConnectionNotFound, "Connection %d not found", id).Err()
	}
	return e, nil
}

// Checkout takes the client out of a connection entry for the duration of
// one operation. A second checkout fails until Restore is called.
func (r *Registry) Checkout(id uint64) (*ConnEntry, *pool.Client, error) {
	e, err := r.Conn(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return e, nil, bridgeerrors.New(bridgeerrors.ErrCodeConnectionBusy, "Connection is in use").Err()
	}
	c := e.client
	e.client = nil
	return e, c, nil
}

// Restore puts a checked-out client back. If the entry was released in
// the meantime the client is closed instead.
func (r *Registry) Restore(e *ConnEntry, c *pool.Client) {
	e.mu.Lock()
	if !e.released {
		e.client = c
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	r.logger.Connection().Debug("closing connection released during operation", "conn_id", e.ID)
	c.Close()
}

// ReleaseConnection removes a connection entry. Pooled sessions return to
// their pool and bare sessions are closed.
func (r *Registry) ReleaseConnection(id uint64) error {
	r.connsMu.Lock()
	e, ok := r.conns[id]
	delete(r.conns, id)
	r.connsMu.Unlock()
	if !ok {
		return bridgeerrors.Newf(bridgeerrors.ErrCodeConnectionNotFound, "Connection %d not found", id).Err()
	}
	r.logger.Connection().Debug("connection released", "conn_id", id, "pool_id", e.PoolID)
	return e.release()
}

func (e *ConnEntry) release() error {
	e.mu.Lock()
	e.released = true
	c := e.client
	e.client = nil
	e.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// LastError drains the last-error slot of a handle. Connections are
// checked before pools since the two handle spaces overlap.
func (r *Registry) LastError(id uint64) (string, bool) {
	if e, err := r.Conn(id); err == nil {
		if msg, ok := e.lastErr.take(); ok {
			return msg, true
		}
	}
	if e, err := r.Pool(id); err == nil {
		if msg, ok := e.lastErr.take(); ok {
			return msg, true
		}
	}
	return "", false
}

// AddCursor registers a cursor.
func (r *Registry) AddCursor(c *cursor.Cursor) uint64 {
	id := issue(&r.nextCursor)
	r.cursorsMu.Lock()
	r.cursors[id] = c
	r.cursorsMu.Unlock()
	return id
}

// Cursor looks up a cursor.
func (r *Registry) Cursor(id uint64) (*cursor.Cursor, bool) {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	c, ok := r.cursors[id]
	return c, ok
}

// RemoveCursor forgets a cursor. It reports whether the cursor existed.
func (r *Registry) RemoveCursor(id uint64) bool {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	_, ok := r.cursors[id]
	delete(r.cursors, id)
	return ok
}

// AddStream registers an open large-object stream.
func (r *Registry) AddStream(s io.ReadWriteCloser) uint64 {
	id := issue(&r.nextStream)
	r.streamsMu.Lock()
	r.streams[id] = s
	r.streamsMu.Unlock()
	return id
}

// Stream looks up a large-object stream.
func (r *Registry) Stream(id uint64) (io.ReadWriteCloser, bool) {
	r.streamsMu.Lock()
	defer r.streamsMu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// RemoveStream closes and forgets a large-object stream.
func (r *Registry) RemoveStream(id uint64) error {
	r.streamsMu.Lock()
	s, ok := r.streams[id]
	delete(r.streams, id)
	r.streamsMu.Unlock()
	if !ok {
		return bridgeerrors.Newf(bridgeerrors.ErrCodeStreamNotFound, "Stream %d not found", id).Err()
	}
	return s.Close()
}

// ClearAll drops every handle in every table, closing what it owns.
// Handle counters are not reset.
func (r *Registry) ClearAll() {
	r.cursorsMu.Lock()
	r.cursors = make(map[uint64]*cursor.Cursor)
	r.cursorsMu.Unlock()

	r.streamsMu.Lock()
	streams := r.streams
	r.streams = make(map[uint64]io.ReadWriteCloser)
	r.streamsMu.Unlock()
	for _, s := range streams {
		s.Close()
	}

	r.connsMu.Lock()
	conns := r.conns
	r.conns = make(map[uint64]*ConnEntry)
	r.connsMu.Unlock()
	for _, e := range conns {
		e.release()
	}

	r.poolsMu.Lock()
	pools := r.pools
	r.pools = make(map[uint64]*PoolEntry)
	r.dedup = make(map[string]uint64)
	r.poolsMu.Unlock()
	for _, e := range pools {
		e.Pool.Close()
	}

	r.logger.System().Info("all handles closed",
		"pools", len(pools), "connections", len(conns), "streams", len(streams))
}

// PoolInfo describes one pool in a Snapshot.
type PoolInfo struct {
	ID uint64 `json:"id"`
	pool.Stats
	RefCount int `json:"ref_count"`
}

// ConnInfo describes one connection in a Snapshot.
type ConnInfo struct {
	ID                   uint64  `json:"id"`
	PoolID               *uint64 `json:"pool_id"`
	IsPooled             bool    `json:"is_pooled"`
	HasActiveTransaction bool    `json:"has_active_transaction"`
}

// Snapshot is a read-only view of the registry.
type Snapshot struct {
	Pools       []PoolInfo `json:"pools"`
	Connections []ConnInfo `json:"connections"`
}

// Snapshot reports every pool and connection, ordered by handle.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Pools: []PoolInfo{}, Connections: []ConnInfo{}}

	r.poolsMu.Lock()
	for id, e := range r.pools {
		snap.Pools = append(snap.Pools, PoolInfo{ID: id, Stats: e.Pool.Stats(), RefCount: e.refs})
	}
	r.poolsMu.Unlock()

	r.connsMu.Lock()
	entries := make([]*ConnEntry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	r.connsMu.Unlock()

	for _, e := range entries {
		info := ConnInfo{ID: e.ID, IsPooled: e.PoolID != 0}
		if info.IsPooled {
			pid := e.PoolID
			info.PoolID = &pid
		}
		_, info.HasActiveTransaction = e.Transaction()
		snap.Connections = append(snap.Connections, info)
	}

	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].ID < snap.Pools[j].ID })
	sort.Slice(snap.Connections, func(i, j int) bool { return snap.Connections[i].ID < snap.Connections[j].ID })
	return snap
}
