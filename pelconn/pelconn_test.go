package pelconn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicandb/pelican/pelconn"
	"github.com/pelicandb/pelican/pelmock"
)

func startServer(t *testing.T, query pelmock.QueryFunc) *pelmock.Server {
	t.Helper()
	srv, err := pelmock.NewServer(query)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, srv *pelmock.Server, extra string) *pelconn.Connector {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := pelconn.Connect(ctx, srv.ConnString(extra))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestConnectHandshake(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	assert.Equal(t, pelconn.StateReady, c.State())
	assert.NotZero(t, c.PID())
	assert.EqualValues(t, 'I', c.TxStatus())
	assert.Equal(t, "14.5", c.ParameterStatus("server_version"))

	v, err := c.ServerVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 14, v.Major())
}

func TestConnectCleartextPassword(t *testing.T) {
	srv := startServer(t, nil)
	srv.Password = "opensesame"

	c := connect(t, srv, "Password=opensesame")
	assert.Equal(t, pelconn.StateReady, c.State())
}

func TestConnectCleartextPasswordRejected(t *testing.T) {
	srv := startServer(t, nil)
	srv.Password = "opensesame"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := pelconn.Connect(ctx, srv.ConnString("Password=wrong"))
	require.Error(t, err)

	var pgErr *pelconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "28P01", pgErr.SQLState())
}

func TestConnectMD5Password(t *testing.T) {
	srv := startServer(t, nil)
	srv.Password = "opensesame"
	srv.MD5 = true

	c := connect(t, srv, "Password=opensesame")
	assert.Equal(t, pelconn.StateReady, c.State())
}

func TestSingleLiteralSelect(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{
		pelconn.NewStatement("SELECT 8"),
	}, nil)
	require.NoError(t, err)

	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)

	require.False(t, reader.Read())
	assert.False(t, reader.NextResult())
	require.NoError(t, reader.Close())

	stmt := reader.Statements()[0]
	assert.Equal(t, pelconn.StatementTypeSelect, stmt.StatementType)
	assert.EqualValues(t, 1, stmt.Rows)
	require.NotNil(t, stmt.RowDescription)
	assert.Equal(t, "?column?", stmt.RowDescription.Fields[0].Name)

	assert.Equal(t, pelconn.StateReady, c.State())
}

func TestSinglePositionalParameter(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{
		pelconn.NewStatement("SELECT $1", int32(8)),
	}, nil)
	require.NoError(t, err)

	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	require.NoError(t, reader.Close())
}

func TestTwoStatementPipeline(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{
		pelconn.NewStatement("SELECT $1", int32(8)),
		pelconn.NewStatement("SELECT $1", int32(9)),
	}, nil)
	require.NoError(t, err)

	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)

	require.True(t, reader.NextResult())
	require.True(t, reader.Read())
	n, err = reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)

	assert.False(t, reader.NextResult())
	require.NoError(t, reader.Close())
}

func TestLargePipelineFlushesMidStream(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	const count = 1000
	stmts := make([]*pelconn.Statement, count)
	for i := range stmts {
		stmts[i] = pelconn.NewStatement("SELECT $1", int32(8))
	}

	reader, err := c.Execute(context.Background(), stmts, nil)
	require.NoError(t, err)

	var sum int64
	for i := 0; ; i++ {
		for reader.Read() {
			n, err := reader.GetInt64(0)
			require.NoError(t, err)
			sum += n
		}
		if !reader.NextResult() {
			break
		}
	}
	require.NoError(t, reader.Close())
	assert.EqualValues(t, 8*count, sum)
}

func TestOutputParameterRejectedBeforeAnyByte(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	stmt := pelconn.NewStatement("SELECT $1", 1)
	stmt.InputParameters[0].Direction = pelconn.Output

	_, err := c.Execute(context.Background(), []*pelconn.Statement{stmt}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Output")

	// Nothing was sent: the connector still works.
	assert.Equal(t, pelconn.StateReady, c.State())
	require.NoError(t, c.Exec(context.Background(), "SELECT 1"))
}

func TestServerErrorLeavesConnectorReady(t *testing.T) {
	srv := startServer(t, func(sql string, params [][]byte, formats []int16) pelmock.Result {
		if sql == "SELECT boom" {
			return pelmock.Result{Err: &pelmock.ServerError{Severity: "ERROR", Code: "42703", Message: "column \"boom\" does not exist"}}
		}
		return pelmock.DefaultQuery(sql, params, formats)
	})
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{
		pelconn.NewStatement("SELECT boom"),
	}, nil)
	require.NoError(t, err)

	assert.False(t, reader.Read())
	err = reader.Close()
	require.Error(t, err)

	var pgErr *pelconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42703", pgErr.SQLState())

	// The pipeline drained to ReadyForQuery: the connector is usable.
	assert.Equal(t, pelconn.StateReady, c.State())

	reader, err = c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("SELECT 3")}, nil)
	require.NoError(t, err)
	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, reader.Close())
}

func TestPipelineErrorSkipsLaterStatements(t *testing.T) {
	srv := startServer(t, func(sql string, params [][]byte, formats []int16) pelmock.Result {
		if sql == "SELECT boom" {
			return pelmock.Result{Err: &pelmock.ServerError{Severity: "ERROR", Code: "22012", Message: "boom"}}
		}
		return pelmock.DefaultQuery(sql, params, formats)
	})
	c := connect(t, srv, "")

	stmts := []*pelconn.Statement{
		pelconn.NewStatement("SELECT boom"),
		pelconn.NewStatement("SELECT 9"),
	}
	reader, err := c.Execute(context.Background(), stmts, nil)
	require.NoError(t, err)

	assert.False(t, reader.Read())
	err = reader.Close()
	var pgErr *pelconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "22012", pgErr.SQLState())
}

func TestConnectorBusyDuringFetch(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("SELECT 1")}, nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("SELECT 2")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	require.NoError(t, reader.Close())
}

func TestSimpleExecAndReset(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	require.NoError(t, c.Exec(context.Background(), "SET search_path=pg_temp"))
	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, pelconn.StateReady, c.State())

	// Reset is idempotent.
	require.NoError(t, c.Reset(context.Background()))
}

func TestResetSkippedWhenOptedOut(t *testing.T) {
	calls := 0
	srv := startServer(t, func(sql string, params [][]byte, formats []int16) pelmock.Result {
		calls++
		return pelmock.DefaultQuery(sql, params, formats)
	})
	c := connect(t, srv, "NoResetOnClose=true")

	require.NoError(t, c.Reset(context.Background()))
	assert.Zero(t, calls)
}

func TestPrepareAndExecutePrepared(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	stmt := pelconn.NewStatement("SELECT $1", int32(8))
	require.NoError(t, c.Prepare(context.Background(), stmt, ""))
	assert.True(t, stmt.IsPrepared)
	assert.NotEmpty(t, stmt.PreparedStatementName)
	require.NotNil(t, stmt.RowDescription)

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{stmt}, nil)
	require.NoError(t, err)
	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	require.NoError(t, reader.Close())

	require.NoError(t, c.Unprepare(context.Background(), stmt))
	assert.False(t, stmt.IsPrepared)
}

func TestNoticeDispatch(t *testing.T) {
	srv := startServer(t, func(sql string, params [][]byte, formats []int16) pelmock.Result {
		res := pelmock.DefaultQuery(sql, params, formats)
		if params != nil {
			res.Notices = []pelmock.ServerError{{Severity: "NOTICE", Code: "01000", Message: "heads up"}}
		}
		return res
	})

	var notices []*pelconn.Notice
	config, err := pelconn.ParseConfig(srv.ConnString(""))
	require.NoError(t, err)
	config.OnNotice = func(n *pelconn.Notice) { notices = append(notices, n) }

	c, err := pelconn.ConnectConfig(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("SELECT 8")}, nil)
	require.NoError(t, err)

	// The notice does not interrupt the row flow.
	require.True(t, reader.Read())
	n, err := reader.GetInt32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	require.NoError(t, reader.Close())

	require.Len(t, notices, 1)
	assert.Equal(t, "NOTICE", notices[0].Severity)
	assert.Equal(t, "01000", notices[0].Code)
	assert.Equal(t, "heads up", notices[0].Message)
}

func TestEmptyQuery(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	reader, err := c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("")}, nil)
	require.NoError(t, err)
	assert.False(t, reader.Read())
	require.NoError(t, reader.Close())
	assert.Equal(t, pelconn.StatementTypeEmpty, reader.Statements()[0].StatementType)
}

func TestContextAlreadyDone(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Execute(ctx, []*pelconn.Statement{pelconn.NewStatement("SELECT 1")}, nil)
	require.Error(t, err)
	assert.True(t, pelconn.Timeout(err) || errors.Is(err, context.Canceled))

	// Nothing was sent; the connector is still Ready.
	assert.Equal(t, pelconn.StateReady, c.State())
}

func TestCloseIsOrderly(t *testing.T) {
	srv := startServer(t, nil)
	ctx := context.Background()

	c, err := pelconn.Connect(ctx, srv.ConnString(""))
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, pelconn.StateClosed, c.State())

	// Closing again is a no-op.
	require.NoError(t, c.Close(ctx))
}

func TestSSLPreferDowngradesWhenRefused(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "SslMode=prefer")
	assert.Equal(t, pelconn.StateReady, c.State())
}

func TestMaxRowsPassedThrough(t *testing.T) {
	srv := startServer(t, nil)
	c := connect(t, srv, "")

	// The mock ignores the limit; this exercises the Execute message path
	// with a non-zero max-rows field end to end.
	reader, err := c.Execute(context.Background(), []*pelconn.Statement{pelconn.NewStatement("SELECT 8")},
		&pelconn.ExecuteOptions{MaxRows: 5})
	require.NoError(t, err)
	require.True(t, reader.Read())
	require.NoError(t, reader.Close())
}
