package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

func TestBeginStatement(t *testing.T) {
	tests := []struct {
		isolation string
		want      string
	}{
		{"READ_UNCOMMITTED", "SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED; BEGIN TRANSACTION"},
		{"READ_COMMITTED", "SET TRANSACTION ISOLATION LEVEL READ COMMITTED; BEGIN TRANSACTION"},
		{"REPEATABLE_READ", "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ; BEGIN TRANSACTION"},
		{"SNAPSHOT", "SET TRANSACTION ISOLATION LEVEL SNAPSHOT; BEGIN TRANSACTION"},
		{"SERIALIZABLE", "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE; BEGIN TRANSACTION"},
	}
	for _, tt := range tests {
		t.Run(tt.isolation, func(t *testing.T) {
			got, err := BeginStatement(tt.isolation)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BeginStatement("read_committed")
	assert.Equal(t, "Transaction error: Unknown isolation level: read_committed", err.Error())
}

func TestTransactionLifecycle(t *testing.T) {
	open, rec := recorderOpener(t)
	b := newBridge(t, open)
	ctx := context.Background()

	id, err := b.Connect(ctx, []byte(testConfig))
	require.NoError(t, err)

	require.NoError(t, b.Begin(ctx, id, []byte(`{"id": "tx-1", "isolation": "SNAPSHOT"}`)))
	assert.True(t, b.Diagnostics().Connections[0].HasActiveTransaction)

	err = b.Begin(ctx, id, []byte(`{"id": "tx-2", "isolation": "SNAPSHOT"}`))
	assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeTxnActive))
	assert.Equal(t, "Transaction error: Transaction tx-1 already active", err.Error())

	require.NoError(t, b.Commit(ctx, id, "tx-1"))
	assert.False(t, b.Diagnostics().Connections[0].HasActiveTransaction)

	require.NoError(t, b.Begin(ctx, id, []byte(`{"id": "tx-3", "isolation": "READ_COMMITTED"}`)))
	require.NoError(t, b.Rollback(ctx, id, ""))
	assert.False(t, b.Diagnostics().Connections[0].HasActiveTransaction)

	assert.Equal(t, []string{
		"SET TRANSACTION ISOLATION LEVEL SNAPSHOT; BEGIN TRANSACTION",
		"COMMIT TRANSACTION",
		"SET TRANSACTION ISOLATION LEVEL READ COMMITTED; BEGIN TRANSACTION",
		"ROLLBACK TRANSACTION",
	}, rec.statements())
}

func TestBeginUnknownIsolationSendsNothing(t *testing.T) {
	open, rec := recorderOpener(t)
	b := newBridge(t, open)

	id, err := b.Connect(context.Background(), []byte(testConfig))
	require.NoError(t, err)

	err = b.Begin(context.Background(), id, []byte(`{"id": "tx", "isolation": "CHAOS"}`))
	assert.Equal(t, "Transaction error: Unknown isolation level: CHAOS", err.Error())
	assert.Empty(t, rec.statements())
	assert.False(t, b.Diagnostics().Connections[0].HasActiveTransaction)
}

func TestBeginFailureLeavesNoTransaction(t *testing.T) {
	open, rec := recorderOpener(t)
	rec.reject = "BEGIN"
	b := newBridge(t, open)

	id, err := b.Connect(context.Background(), []byte(testConfig))
	require.NoError(t, err)

	err = b.Begin(context.Background(), id, []byte(`{"id": "tx", "isolation": "SERIALIZABLE"}`))
	assert.Equal(t, "Transaction error: statement rejected: BEGIN", err.Error())
	assert.False(t, b.Diagnostics().Connections[0].HasActiveTransaction)

	msg, ok := b.LastError(id)
	require.True(t, ok)
	assert.Equal(t, err.Error(), msg)
}

func TestCommitWithoutConnection(t *testing.T) {
	b := newBridge(t, sqlite)
	err := b.Commit(context.Background(), 9, "")
	assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeConnectionNotFound))
}
