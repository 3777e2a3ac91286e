// Package pelican is a PostgreSQL client library: a connection façade and
// command model over the pelconn protocol engine, the pelpool connector
// pool, and the peltype handler registry.
package pelican

import (
	"context"

	"github.com/pelicandb/pelican/pelconn"
	"github.com/pelicandb/pelican/pelpool"
)

// Re-exported core types, so most callers import only this package.
type (
	Statement = pelconn.Statement
	Parameter = pelconn.Parameter
	Notice    = pelconn.Notice
	PgError   = pelconn.PgError
	Config    = pelconn.Config
	Logger    = pelconn.Logger
	LogLevel  = pelconn.LogLevel
)

// NewStatement builds a positional statement; see pelconn.NewStatement.
var NewStatement = pelconn.NewStatement

// Conn is an open logical connection. With pooling enabled (the default) it
// borrows a connector from the connection string's shared pool for its
// lifetime and returns it on Close.
type Conn struct {
	config    *pelconn.Config
	pool      *pelpool.Pool
	connector *pelconn.Connector
}

// Connect opens a connection for connString. Pooling=false in the
// connection string bypasses the pool manager and dedicates a connector to
// this Conn.
func Connect(ctx context.Context, connString string) (*Conn, error) {
	config, err := pelconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, config)
}

// ConnectConfig is Connect for an already-parsed Config.
func ConnectConfig(ctx context.Context, config *Config) (*Conn, error) {
	conn := &Conn{config: config}
	if config.Pooling {
		pool, err := pelpool.GetPool(config)
		if err != nil {
			return nil, err
		}
		conn.pool = pool
		conn.connector, err = pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		conn.connector, err = pelconn.ConnectConfig(ctx, config)
		if err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// Connector exposes the underlying protocol engine.
func (conn *Conn) Connector() *pelconn.Connector { return conn.connector }

// PID returns the backend process id serving this connection.
func (conn *Conn) PID() uint32 { return conn.connector.PID() }

// Close returns the connector to its pool, or closes it for an unpooled
// connection.
func (conn *Conn) Close(ctx context.Context) error {
	if conn.connector == nil {
		return nil
	}
	c := conn.connector
	conn.connector = nil
	if conn.pool != nil {
		conn.pool.Release(c)
		return nil
	}
	return c.Close(ctx)
}

// ExecuteReader runs cmd and returns a row cursor.
func (conn *Conn) ExecuteReader(ctx context.Context, cmd *Command) (*Rows, error) {
	stmts, err := cmd.build()
	if err != nil {
		return nil, err
	}
	var opts *pelconn.ExecuteOptions
	if cmd.MaxRows > 0 {
		opts = &pelconn.ExecuteOptions{MaxRows: cmd.MaxRows}
	}
	dr, err := conn.connector.Execute(ctx, stmts, opts)
	if err != nil {
		return nil, err
	}
	return &Rows{reader: dr, stmts: stmts}, nil
}

// ExecuteNonQuery runs cmd, drains all results, and returns the total
// affected row count.
func (conn *Conn) ExecuteNonQuery(ctx context.Context, cmd *Command) (int64, error) {
	rows, err := conn.ExecuteReader(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range rows.stmts {
		total += s.Rows
	}
	return total, nil
}

// ExecuteScalar runs cmd and returns the first column of the first row, or
// nil when no row is produced.
func (conn *Conn) ExecuteScalar(ctx context.Context, cmd *Command) (any, error) {
	rows, err := conn.ExecuteReader(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var value any
	if rows.Next() {
		value, err = rows.Get(0)
		if err != nil {
			rows.Close()
			return nil, err
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return value, nil
}

// Query is shorthand for ExecuteReader over a single positional statement.
func (conn *Conn) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	return conn.ExecuteReader(ctx, NewRawCommand(NewStatement(sql, args...)))
}

// Exec is shorthand for ExecuteNonQuery over a single positional statement.
func (conn *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return conn.ExecuteNonQuery(ctx, NewRawCommand(NewStatement(sql, args...)))
}

// Prepare creates a named server-side statement bound to this connection's
// connector.
func (conn *Conn) Prepare(ctx context.Context, s *Statement, name string) error {
	return conn.connector.Prepare(ctx, s, name)
}
