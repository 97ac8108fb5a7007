package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	"github.com/ha1tch/sqlbridge/pkg/command"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

func mustCommand(t *testing.T, doc string) *command.Command {
	t.Helper()
	cmd, err := command.Parse([]byte(doc))
	require.NoError(t, err)
	return cmd
}

func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// sqliteConn opens an in-memory database seeded with a users table.
func sqliteConn(t *testing.T) Conn {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connx(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.ExecContext(context.Background(), `
		CREATE TABLE users (id INTEGER, name TEXT, big INTEGER);
		INSERT INTO users VALUES (1, 'alice', 9007199254740993), (2, 'bob', 5), (3, 'carol', NULL);`)
	require.NoError(t, err)
	return Wrap(conn)
}

func TestQuery(t *testing.T) {
	conn := sqliteConn(t)
	e := New(nil)

	cmd := mustCommand(t, `{"sql": "SELECT id, name, big FROM users WHERE name = @Name OR id = @id ORDER BY id",
		"params": [{"name": "@id", "value": 3}, {"name": "name", "value": "alice"}],
		"command_type": "query"}`)

	rows, err := e.Query(context.Background(), conn, cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id": 1, "name": "alice", "big": "9007199254740993"},
		{"id": 3, "name": "carol", "big": null}
	]`, toJSON(t, rows))
}

func TestQueryEmptyResult(t *testing.T) {
	conn := sqliteConn(t)
	rows, err := New(nil).Query(context.Background(), conn,
		mustCommand(t, `{"sql": "SELECT id FROM users WHERE id < 0", "command_type": "query"}`))
	require.NoError(t, err)
	assert.Equal(t, `[]`, toJSON(t, rows))
}

func TestQueryRepeatedParameter(t *testing.T) {
	conn := sqliteConn(t)
	cmd := mustCommand(t, `{"sql": "SELECT id FROM users WHERE id = @x OR id = @x + 1 ORDER BY id",
		"params": [{"name": "x", "value": 1}], "command_type": "query"}`)
	rows, err := New(nil).Query(context.Background(), conn, cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id": 1}, {"id": 2}]`, toJSON(t, rows))
}

func TestQueryDriverError(t *testing.T) {
	conn := sqliteConn(t)
	_, err := New(nil).Query(context.Background(), conn,
		mustCommand(t, `{"sql": "SELECT * FROM missing", "command_type": "query"}`))
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsCategory(err, bridgeerrors.CategoryQuery))
	assert.Contains(t, err.Error(), "Query error: no such table: missing")
}

func TestNonQuery(t *testing.T) {
	conn := sqliteConn(t)
	cmd := mustCommand(t, `{"sql": "UPDATE users SET name = @n WHERE id >= @min",
		"params": [{"name": "@n", "value": "x"}, {"name": "@min", "value": 2}], "command_type": "execute"}`)

	res, err := New(nil).NonQuery(context.Background(), conn, cmd)
	require.NoError(t, err)
	assert.Equal(t, `{"rowsAffected":2}`, toJSON(t, res))
}

func TestStream(t *testing.T) {
	conn := sqliteConn(t)
	cur, err := New(nil).Stream(context.Background(), conn,
		mustCommand(t, `{"sql": "SELECT id, name FROM users ORDER BY id", "command_type": "query"}`))
	require.NoError(t, err)

	var names []interface{}
	for {
		row, ok := cur.Next()
		if !ok {
			break
		}
		name, _ := row.Get("name")
		names = append(names, name)
	}
	assert.Equal(t, []interface{}{"alice", "bob", "carol"}, names)
	assert.True(t, cur.Exhausted())
}

func TestConversionFailsBeforeSend(t *testing.T) {
	conn := &fakeConn{}
	e := New(nil)
	cmd := mustCommand(t, `{"sql": "SELECT 1", "params": [{"name": "unused", "value": "nope", "type": "uniqueidentifier"}],
		"command_type": "query"}`)

	_, err := e.Query(context.Background(), conn, cmd)
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeTypeConversion))

	_, err = e.NonQuery(context.Background(), conn, cmd)
	require.Error(t, err)
	_, err = e.Exec(context.Background(), conn, cmd)
	require.Error(t, err)
	_, err = e.Stream(context.Background(), conn, cmd)
	require.Error(t, err)

	assert.Empty(t, conn.queries, "nothing may reach the session")
}

func TestExecCollectsResultSets(t *testing.T) {
	conn := &fakeConn{sets: []fakeSet{
		{cols: []codec.Column{{Name: "id", DatabaseType: "INT"}, {Name: "name", DatabaseType: "NVARCHAR"}}, rows: [][]interface{}{{int64(1), "a"}, {int64(2), "b"}}},
		{cols: []codec.Column{{Name: "x", DatabaseType: "INT"}}},
		{cols: []codec.Column{{Name: "total", DatabaseType: "MONEY"}}, rows: [][]interface{}{{[]byte("12.5000")}}},
		{cols: []codec.Column{{Name: RowCountColumn, DatabaseType: "INT"}}, rows: [][]interface{}{{int64(7)}}},
	}}
	cmd := mustCommand(t, `{"sql": "SELECT * FROM t WHERE id > @min", "params": [{"name": "min", "value": 0}],
		"command_type": "execute"}`)

	res, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)

	require.Len(t, conn.queries, 1)
	assert.Equal(t, "SELECT * FROM t WHERE id > @P1; SELECT @@ROWCOUNT AS __rc", conn.queries[0])
	assert.Equal(t, []interface{}{int32(0)}, conn.args[0])

	assert.JSONEq(t, `{
		"rowsAffected": 7,
		"resultSets": [[{"id": 1, "name": "a"}, {"id": 2, "name": "b"}], [{"total": "12.5"}]],
		"outputParams": {}
	}`, toJSON(t, res))
}

func TestExecNoRows(t *testing.T) {
	conn := &fakeConn{sets: []fakeSet{{cols: []codec.Column{{Name: RowCountColumn, DatabaseType: "INT"}}, rows: [][]interface{}{{int64(0)}}}}}
	res, err := New(nil).Exec(context.Background(), conn, mustCommand(t, `{"sql": "DELETE FROM t", "command_type": "execute"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"rowsAffected":0,"resultSets":[],"outputParams":{}}`, toJSON(t, res))
	assert.Equal(t, "DELETE FROM t; SELECT @@ROWCOUNT AS __rc", conn.queries[0])
	assert.Empty(t, conn.args[0])
}

func TestExecProcedureWithoutOutputs(t *testing.T) {
	conn := &fakeConn{}
	cmd := mustCommand(t, `{"sql": "dbo.AddUser", "params": [{"name": "@name", "value": "x"}, {"name": "age", "value": 30, "type": "tinyint"}],
		"command_type": "stored_procedure"}`)
	_, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)
	assert.Equal(t, "EXEC dbo.AddUser @name = @P1, @age = @P2; SELECT @@ROWCOUNT AS __rc", conn.queries[0])
	assert.Equal(t, []interface{}{"x", uint8(30)}, conn.args[0])
}

func TestExecProcedureWithOutputs(t *testing.T) {
	conn := &fakeConn{sets: []fakeSet{
		{cols: []codec.Column{{Name: "id", DatabaseType: "INT"}}, rows: [][]interface{}{{int64(10)}}},
		{cols: []codec.Column{{Name: "total", DatabaseType: "INT"}, {Name: "msg", DatabaseType: "NVARCHAR"}}, rows: [][]interface{}{{int64(42), "ok"}}},
		{cols: []codec.Column{{Name: RowCountColumn, DatabaseType: "BIGINT"}}, rows: [][]interface{}{{int64(1)}}},
	}}
	cmd := mustCommand(t, `{"sql": "dbo.Calc", "params": [
		{"name": "@in", "value": "it's"},
		{"name": "@total", "value": 5, "type": "int", "output": true},
		{"name": "@msg", "value": null, "output": true}
	], "command_type": "stored_procedure"}`)

	res, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)

	want := "DECLARE @__sqlbridge_rc BIGINT;\n" +
		"DECLARE @total INT;\n" +
		"SET @total = 5;\n" +
		"DECLARE @msg NVARCHAR(MAX);\n" +
		"EXEC dbo.Calc @in = N'it''s', @total = @total OUTPUT, @msg = @msg OUTPUT;\n" +
		"SET @__sqlbridge_rc = @@ROWCOUNT;\n" +
		"SELECT @total AS [total], @msg AS [msg];\n" +
		"SELECT @__sqlbridge_rc AS __rc;\n"
	assert.Equal(t, want, conn.queries[0])
	assert.Empty(t, conn.args[0], "output batches embed literals")

	assert.JSONEq(t, `{
		"rowsAffected": 1,
		"resultSets": [[{"id": 10}]],
		"outputParams": {"total": 42, "msg": "ok"}
	}`, toJSON(t, res))
}

func TestExecRawSQLWithOutputs(t *testing.T) {
	conn := &fakeConn{}
	cmd := mustCommand(t, `{"sql": "SET @out = @a * 2", "params": [
		{"name": "a", "value": 21},
		{"name": "out", "value": null, "type": "bigint", "output": true}
	], "command_type": "execute"}`)

	_, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)

	want := "DECLARE @__sqlbridge_rc BIGINT;\n" +
		"DECLARE @out BIGINT;\n" +
		"DECLARE @a INT;\n" +
		"SET @a = 21;\n" +
		"SET @out = @a * 2;\n" +
		"SET @__sqlbridge_rc = @@ROWCOUNT;\n" +
		"SELECT @out AS [out];\n" +
		"SELECT @__sqlbridge_rc AS __rc;\n"
	assert.Equal(t, want, conn.queries[0])
}

func TestExecRawSQLOutputsDeclareEveryInputHint(t *testing.T) {
	conn := &fakeConn{}
	cmd := mustCommand(t, `{"sql": "SET @out = @price * 2", "params": [
		{"name": "price", "value": 1.5, "type": "money"},
		{"name": "fee", "value": "0.25", "type": "smallmoney"},
		{"name": "ratio", "value": 3, "type": "numeric"},
		{"name": "blob", "value": "AQID", "type": "image"},
		{"name": "at", "value": "2024-01-02T03:04:00", "type": "smalldatetime"},
		{"name": "out", "value": null, "type": "float", "output": true}
	], "command_type": "execute"}`)

	_, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)

	batch := conn.queries[0]
	for _, decl := range []string{
		"DECLARE @out FLOAT;\n",
		"DECLARE @price MONEY;\n",
		"DECLARE @fee SMALLMONEY;\n",
		"DECLARE @ratio DECIMAL(38, 18);\n",
		"DECLARE @blob VARBINARY(MAX);\n",
		"DECLARE @at SMALLDATETIME;\n",
	} {
		assert.Contains(t, batch, decl)
	}
}

func TestExecOutputUnknownType(t *testing.T) {
	conn := &fakeConn{}
	cmd := mustCommand(t, `{"sql": "p", "params": [{"name": "o", "value": null, "type": "geometry", "output": true}],
		"command_type": "stored_procedure"}`)
	_, err := New(nil).Exec(context.Background(), conn, cmd)
	require.Error(t, err)
	assert.Equal(t, "Query error: Unknown SQL type: geometry", err.Error())
	assert.Empty(t, conn.queries)
}

func TestOutputRowNeedsExactColumns(t *testing.T) {
	conn := &fakeConn{sets: []fakeSet{
		{cols: []codec.Column{{Name: "o", DatabaseType: "INT"}, {Name: "extra", DatabaseType: "INT"}}, rows: [][]interface{}{{int64(1), int64(2)}}},
	}}
	cmd := mustCommand(t, `{"sql": "p", "params": [{"name": "o", "value": null, "type": "int", "output": true}],
		"command_type": "stored_procedure"}`)
	res, err := New(nil).Exec(context.Background(), conn, cmd)
	require.NoError(t, err)
	assert.Empty(t, res.OutputParams)
	require.Len(t, res.ResultSets, 1)
}

func TestWithTimeout(t *testing.T) {
	cmd := mustCommand(t, `{"sql": "x", "command_type": "query", "command_timeout_ms": 50}`)
	ctx, cancel := WithTimeout(context.Background(), cmd, time.Hour)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)

	plain := mustCommand(t, `{"sql": "x", "command_type": "query"}`)
	ctx2, cancel2 := WithTimeout(context.Background(), plain, 0)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.False(t, ok)
}
