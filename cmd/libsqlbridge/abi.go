// Command libsqlbridge builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libsqlbridge.so ./cmd/libsqlbridge
//
// Entry points return 0 or NULL when they produce nothing; the message is
// then available from mssql_last_error for connection-scoped calls.
// Transaction calls return NULL on success and the error text on failure.
// Every returned string must be released with mssql_free_string.
package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ha1tch/sqlbridge/pkg/bridge"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/settings"
)

func main() {}

var (
	sharedMu sync.Mutex
	shared   *bridge.Bridge
)

// instance returns the process-wide bridge, creating it on first use from
// the SQLBRIDGE_* environment.
func instance() *bridge.Bridge {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = newFromEnv()
	}
	return shared
}

func newFromEnv() *bridge.Bridge {
	opts := bridge.Options{BulkBatchSize: settings.DefaultBulkBatchSize}

	loader, err := settings.NewLoader(nil)
	if err == nil {
		var s *settings.Settings
		if s, err = loader.Load(); err == nil {
			opts.Logger = log.New(s.LoggerConfig())
			opts.BulkBatchSize = s.BulkBatchSize
		}
	}
	b := bridge.New(opts)
	if err != nil {
		b.Logger().System().Warn("ignoring invalid settings", "error", err.Error())
	}
	return b
}

func encode(b *bridge.Bridge, v interface{}) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.Logger().System().Error("encode result",
			bridgeerrors.Internal("result is not JSON-encodable: "+err.Error()).WithOp("abi.encode").Err())
		return "", false
	}
	return string(data), true
}

func poolCreate(configJSON string) uint64 {
	id, _ := instance().PoolCreate(context.Background(), []byte(configJSON))
	return id
}

func poolAcquire(poolID uint64) uint64 {
	id, _ := instance().PoolAcquire(context.Background(), poolID)
	return id
}

func poolRelease(poolID, connID uint64) {
	instance().PoolRelease(poolID, connID)
}

func poolClose(poolID uint64) {
	instance().PoolClose(poolID)
}

func connect(configJSON string) uint64 {
	id, _ := instance().Connect(context.Background(), []byte(configJSON))
	return id
}

func disconnect(connID uint64) {
	instance().Disconnect(connID)
}

func query(connID uint64, cmdJSON string) (string, bool) {
	b := instance()
	rows, err := b.Query(context.Background(), connID, []byte(cmdJSON))
	if err != nil {
		return "", false
	}
	if rows == nil {
		return "[]", true
	}
	return encode(b, rows)
}

func execute(connID uint64, cmdJSON string) (string, bool) {
	b := instance()
	res, err := b.Execute(context.Background(), connID, []byte(cmdJSON))
	if err != nil {
		return "", false
	}
	return encode(b, res)
}

func exec(connID uint64, cmdJSON string) (string, bool) {
	b := instance()
	res, err := b.Exec(context.Background(), connID, []byte(cmdJSON))
	if err != nil {
		return "", false
	}
	return encode(b, res)
}

func stream(connID uint64, cmdJSON string) uint64 {
	id, _ := instance().Stream(context.Background(), connID, []byte(cmdJSON))
	return id
}

func streamNext(cursorID uint64) (string, bool) {
	b := instance()
	row, ok := b.StreamNext(cursorID)
	if !ok {
		return "", false
	}
	return encode(b, row)
}

func streamClose(cursorID uint64) {
	instance().StreamClose(cursorID)
}

func bulk(connID uint64, reqJSON string) (string, bool) {
	b := instance()
	res, err := b.Bulk(context.Background(), connID, []byte(reqJSON))
	if err != nil {
		return "", false
	}
	return encode(b, res)
}

// failure turns a transaction result into the returned message.
func failure(err error) (string, bool) {
	if err != nil {
		return err.Error(), true
	}
	return "", false
}

func begin(connID uint64, txJSON string) (string, bool) {
	return failure(instance().Begin(context.Background(), connID, []byte(txJSON)))
}

func commit(connID uint64, txID string) (string, bool) {
	return failure(instance().Commit(context.Background(), connID, txID))
}

func rollback(connID uint64, txID string) (string, bool) {
	return failure(instance().Rollback(context.Background(), connID, txID))
}

func cancel(connID uint64) {
	instance().Cancel(connID)
}

func filestreamAvailable() uint32 {
	if instance().FilestreamAvailable() {
		return 1
	}
	return 0
}

func filestreamOpen(reqJSON string) uint64 {
	id, _ := instance().FilestreamOpen([]byte(reqJSON))
	return id
}

// filestreamRead answers NULL for an unknown handle and {"__error": msg}
// when the read itself fails.
func filestreamRead(fsID, maxBytes uint64) (string, bool) {
	b := instance()
	res, err := b.FilestreamRead(fsID, maxBytes)
	if err != nil {
		if bridgeerrors.IsCode(err, bridgeerrors.ErrCodeStreamNotFound) {
			return "", false
		}
		return encode(b, map[string]string{"__error": err.Error()})
	}
	return encode(b, res)
}

func filestreamWrite(fsID uint64, payload string) uint64 {
	n, err := instance().FilestreamWrite(fsID, payload)
	if err != nil {
		return 0
	}
	return uint64(n)
}

func filestreamClose(fsID uint64) {
	instance().FilestreamClose(fsID)
}

func diagnostics() string {
	b := instance()
	s, _ := encode(b, b.Diagnostics())
	return s
}

func setDebug(enabled uint32) {
	instance().SetDebug(enabled != 0)
}

func closeAll() {
	instance().CloseAll()
}

func lastError(handle uint64) (string, bool) {
	return instance().LastError(handle)
}
