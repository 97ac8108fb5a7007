package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/pool"
)

// Isolation levels accepted by Begin, mapped to their T-SQL spelling.
var isolationLevels = map[string]string{
	"READ_UNCOMMITTED": "READ UNCOMMITTED",
	"READ_COMMITTED":   "READ COMMITTED",
	"REPEATABLE_READ":  "REPEATABLE READ",
	"SNAPSHOT":         "SNAPSHOT",
	"SERIALIZABLE":     "SERIALIZABLE",
}

// BeginRequest is the begin-transaction document.
type BeginRequest struct {
	ID        string `json:"id"`
	Isolation string `json:"isolation"`
}

// BeginStatement returns the batch that opens a transaction at the given
// isolation level.
func BeginStatement(isolation string) (string, error) {
	level, ok := isolationLevels[isolation]
	if !ok {
		return "", bridgeerrors.Newf(bridgeerrors.ErrCodeTxnIsolation, "Unknown isolation level: %s", isolation).Err()
	}
	return "SET TRANSACTION ISOLATION LEVEL " + level + "; BEGIN TRANSACTION", nil
}

func parseBegin(data []byte) (*BeginRequest, error) {
	var req BeginRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&req); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTxnFailed, "Invalid transaction request").Err()
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, bridgeerrors.Transaction("missing field `id`").Err()
	}
	return &req, nil
}

// Begin opens a transaction on a connection. Only one transaction may be
// active per connection.
func (b *Bridge) Begin(ctx context.Context, connID uint64, txJSON []byte) (err error) {
	defer b.record(connID, &err)
	defer b.recover("Begin", &err)

	req, err := parseBegin(txJSON)
	if err != nil {
		return err
	}
	stmt, err := BeginStatement(req.Isolation)
	if err != nil {
		return err
	}

	entry, err := b.reg.Conn(connID)
	if err != nil {
		return err
	}
	if active, ok := entry.Transaction(); ok {
		return bridgeerrors.Newf(bridgeerrors.ErrCodeTxnActive, "Transaction %s already active", active).Err()
	}

	b.logger.Connection().Debug("begin transaction", "conn_id", connID, "tx_id", req.ID, "isolation", req.Isolation)

	err = b.withConn(connID, func(c *pool.Client) error {
		return b.runTxn(ctx, c, stmt)
	})
	if err != nil {
		return err
	}
	entry.SetTransaction(req.ID)
	return nil
}

// Commit commits the connection's active transaction. The transaction id
// argument is informational; the connection's own id is authoritative.
func (b *Bridge) Commit(ctx context.Context, connID uint64, txID string) (err error) {
	defer b.record(connID, &err)
	defer b.recover("Commit", &err)
	return b.endTxn(ctx, connID, txID, "COMMIT TRANSACTION")
}

// Rollback rolls back the connection's active transaction.
func (b *Bridge) Rollback(ctx context.Context, connID uint64, txID string) (err error) {
	defer b.record(connID, &err)
	defer b.recover("Rollback", &err)
	return b.endTxn(ctx, connID, txID, "ROLLBACK TRANSACTION")
}

func (b *Bridge) endTxn(ctx context.Context, connID uint64, txID, stmt string) error {
	entry, err := b.reg.Conn(connID)
	if err != nil {
		return err
	}
	if active, ok := entry.Transaction(); ok && txID != "" && txID != active {
		b.logger.Connection().Warn("transaction id mismatch", "conn_id", connID, "requested", txID, "active", active)
	}

	b.logger.Connection().Debug(strings.ToLower(stmt), "conn_id", connID)

	err = b.withConn(connID, func(c *pool.Client) error {
		return b.runTxn(ctx, c, stmt)
	})
	if err != nil {
		return err
	}
	entry.SetTransaction("")
	return nil
}

func (b *Bridge) runTxn(ctx context.Context, c *pool.Client, stmt string) error {
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout())
	defer cancel()
	if _, err := c.Session().Exec(ctx, stmt); err != nil {
		return bridgeerrors.From(err, bridgeerrors.ErrCodeTxnFailed).Err()
	}
	return nil
}
