// Package pelconn is a low-level PostgreSQL connection engine: one socket,
// one buffer pair, and the extended-query protocol state machine. Most
// applications use the pelican package instead, which adds pooling and a
// command façade on top.
package pelconn

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/pelicandb/pelican/pelconn/internal/ctxwatch"
	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
	"github.com/pelicandb/pelican/peltype"
)

// State is the connector lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateReady
	StateExecuting
	StateFetching
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFetching:
		return "fetching"
	case StateBroken:
		return "broken"
	default:
		return fmt.Sprintf("invalid state %d", int32(s))
	}
}

// Connector owns one connection to a PostgreSQL backend. It serves at most
// one caller at a time; concurrent use surfaces as a lock error, not data
// corruption.
type Connector struct {
	conn     net.Conn
	rb       *pelio.ReadBuffer
	wb       *pelio.WriteBuffer
	frontend *pelproto.Frontend
	config   *Config
	typeMap  *peltype.Map

	pid               uint32
	secretKey         uint32
	parameterStatuses map[string]string
	txStatus          byte

	mu    sync.Mutex
	state State

	contextWatcher *ctxwatch.ContextWatcher // startup: cancellation kills the socket
	commandWatcher *ctxwatch.ContextWatcher // commands: cancellation tries CancelRequest first
	reader         *DataReader
	stmtCounter    int
}

// ErrTLSRefused occurs when TLS is required and the server refuses it.
var ErrTLSRefused = errors.New("server refused TLS connection")

// Connect parses connString and establishes a connection.
func Connect(ctx context.Context, connString string) (*Connector, error) {
	config, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, config)
}

// ConnectConfig establishes a connection: TCP (or unix socket), optional
// TLS, the startup packet, the authentication exchange, and the first
// ReadyForQuery.
func ConnectConfig(ctx context.Context, config *Config) (*Connector, error) {
	c := &Connector{
		config:            config,
		typeMap:           peltype.NewMap(),
		parameterStatuses: make(map[string]string),
		state:             StateConnecting,
	}

	network, address := config.NetworkAddress()
	conn, err := config.DialFunc(ctx, network, address)
	if err != nil {
		return nil, &connectError{config: config, msg: "dial error", err: normalizeTimeoutError(ctx, err)}
	}
	c.conn = conn
	c.contextWatcher = ctxwatch.NewContextWatcher(
		func() { c.conn.SetDeadline(time.Date(1, 1, 1, 1, 1, 1, 1, time.UTC)) },
		func() { c.conn.SetDeadline(time.Time{}) },
	)
	c.commandWatcher = ctxwatch.NewContextWatcher(
		func() {
			// Negotiated cancellation: ask the server to abort on a second
			// connection, and force the socket only if it stays deaf.
			go func() {
				cancelCtx, cancel := context.WithTimeout(context.Background(), cancelGraceTime)
				defer cancel()
				c.CancelRequest(cancelCtx)
			}()
			c.conn.SetDeadline(time.Now().Add(cancelGraceTime))
		},
		func() { c.conn.SetDeadline(time.Time{}) },
	)
	c.contextWatcher.Watch(ctx)
	defer c.contextWatcher.Unwatch()

	if config.TLSConfig != nil {
		if err := c.startTLS(config.TLSConfig); err != nil {
			conn.Close()
			if err == ErrTLSRefused && !config.SSLRequired {
				// Downgrade: reconnect without TLS.
				plain := config.Copy()
				plain.TLSConfig = nil
				return ConnectConfig(ctx, plain)
			}
			return nil, &connectError{config: config, msg: "TLS error", err: err}
		}
	}

	size := config.BufferSize
	if size == 0 {
		size = pelio.DefaultBufferSize
	}
	c.rb = pelio.NewReadBuffer(c.conn, size, config.Encoding)
	c.wb = pelio.NewWriteBuffer(c.conn, size)
	c.frontend = pelproto.NewFrontend(c.rb, c.wb)

	startupParams := map[string]string{
		"user":            config.User,
		"client_encoding": "UTF8",
	}
	if config.Database != "" {
		startupParams["database"] = config.Database
	}
	for k, v := range config.RuntimeParams {
		startupParams[k] = v
	}

	if err := c.frontend.Send(&pelproto.StartupMessage{
		ProtocolVersion: pelproto.ProtocolVersionNumber,
		Parameters:      startupParams,
	}); err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		conn.Close()
		return nil, &connectError{config: config, msg: "failed to write startup message", err: normalizeTimeoutError(ctx, err)}
	}

	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			conn.Close()
			var pgErr *PgError
			if errors.As(err, &pgErr) {
				return nil, &connectError{config: config, msg: "server error", err: pgErr}
			}
			return nil, &connectError{config: config, msg: "failed to receive message", err: err}
		}

		switch msg := msg.(type) {
		case *pelproto.Authentication:
			if err := c.rxAuthentication(ctx, msg); err != nil {
				conn.Close()
				return nil, &connectError{config: config, msg: "authentication failed", err: err}
			}
		case *pelproto.BackendKeyData:
			c.pid = msg.ProcessID
			c.secretKey = msg.SecretKey
		case *pelproto.ParameterStatus, *pelproto.NoticeResponse:
			// bookkeeping and dispatch done in receiveMessage
		case *pelproto.ReadyForQuery:
			c.setState(StateReady)
			c.log(ctx, LogLevelInfo, "connection established", map[string]any{"host": config.Host, "database": config.Database})
			return c, nil
		case *pelproto.ErrorResponse:
			conn.Close()
			return nil, &connectError{config: config, msg: "server error", err: errorDetailsToPgError(&msg.ErrorDetails)}
		default:
			conn.Close()
			return nil, &connectError{config: config, msg: "unexpected message during startup", err: protoError(msg)}
		}
	}
}

func protoError(msg pelproto.BackendMessage) error {
	return &pelproto.ProtocolError{Reason: fmt.Sprintf("unexpected message %T", msg)}
}

// startTLS negotiates the protocol-level TLS upgrade before the startup
// packet: an SSLRequest frame, a one-byte reply, then the handshake.
func (c *Connector) startTLS(tlsConfig *tls.Config) error {
	wb := pelio.NewWriteBuffer(c.conn, pelio.MinBufferSize)
	if err := (&pelproto.SSLRequest{}).Encode(wb); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	response := make([]byte, 1)
	if _, err := io.ReadFull(c.conn, response); err != nil {
		return err
	}
	if response[0] != 'S' {
		return ErrTLSRefused
	}

	c.conn = tls.Client(c.conn, tlsConfig)
	return nil
}

func (c *Connector) rxAuthentication(ctx context.Context, msg *pelproto.Authentication) error {
	switch msg.Type {
	case pelproto.AuthTypeOk:
		return nil
	case pelproto.AuthTypeCleartextPassword:
		return c.txPasswordMessage(c.config.Password)
	case pelproto.AuthTypeMD5Password:
		digested := "md5" + hexMD5(hexMD5(c.config.Password+c.config.User)+string(msg.Salt[:]))
		return c.txPasswordMessage(digested)
	case pelproto.AuthTypeSASL:
		return c.scramAuth(ctx, msg.SASLAuthMechanisms)
	default:
		return fmt.Errorf("pelconn: unsupported authentication request type %d", msg.Type)
	}
}

func (c *Connector) txPasswordMessage(password string) error {
	if err := c.frontend.Send(&pelproto.PasswordMessage{Password: password}); err != nil {
		return err
	}
	return c.frontend.Flush()
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}

// receiveMessage reads one backend message and performs the asynchronous
// bookkeeping every caller needs: parameter status, transaction status,
// notices, notifications, and fatal errors.
func (c *Connector) receiveMessage(ctx context.Context) (pelproto.BackendMessage, error) {
	msg, err := c.frontend.Receive()
	if err != nil {
		err = normalizeTimeoutError(ctx, err)
		c.die(err)
		return nil, err
	}

	switch msg := msg.(type) {
	case *pelproto.ParameterStatus:
		c.parameterStatuses[msg.Name] = msg.Value
	case *pelproto.ReadyForQuery:
		c.txStatus = msg.TxStatus
	case *pelproto.NoticeResponse:
		if c.config.OnNotice != nil {
			c.config.OnNotice((*Notice)(errorDetailsToPgError(&msg.ErrorDetails)))
		}
	case *pelproto.NotificationResponse:
		if c.config.OnNotification != nil {
			c.config.OnNotification(&Notification{PID: msg.PID, Channel: msg.Channel, Payload: msg.Payload})
		}
	case *pelproto.ErrorResponse:
		if msg.Severity == "FATAL" {
			pgErr := errorDetailsToPgError(&msg.ErrorDetails)
			c.die(pgErr)
			return nil, pgErr
		}
	}
	return msg, nil
}

// die marks the connector Broken and severs the socket. Everything
// in-flight fails from here on.
func (c *Connector) die(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.state == StateBroken {
		return
	}
	c.state = StateBroken
	c.conn.Close()
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// lock transitions Ready -> to, failing when the connector is busy, broken,
// or closed.
func (c *Connector) lock(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		c.state = to
		return nil
	case StateClosed:
		return &connLockError{status: "conn closed"}
	case StateBroken:
		return &connLockError{status: "conn broken"}
	case StateConnecting:
		return &connLockError{status: "conn still connecting"}
	default:
		return &connLockError{status: "conn busy"}
	}
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsBroken reports whether the connector has been marked Broken.
func (c *Connector) IsBroken() bool { return c.State() == StateBroken }

// PID returns the backend process id from BackendKeyData.
func (c *Connector) PID() uint32 { return c.pid }

// TxStatus returns the last transaction status byte from ReadyForQuery.
func (c *Connector) TxStatus() byte { return c.txStatus }

// ParameterStatus returns a server-reported run-time parameter value, e.g.
// server_version. Unknown parameters return "".
func (c *Connector) ParameterStatus(key string) string {
	return c.parameterStatuses[key]
}

// TypeMap returns the connector's type handler registry.
func (c *Connector) TypeMap() *peltype.Map { return c.typeMap }

// Config returns the configuration this connector was established with.
func (c *Connector) Config() *Config { return c.config }

// ServerVersion parses the server_version parameter status.
func (c *Connector) ServerVersion() (*semver.Version, error) {
	raw := c.parameterStatuses["server_version"]
	if raw == "" {
		return nil, errors.New("pelconn: server_version not reported")
	}
	// "14.5 (Debian 14.5-1)" -> "14.5"
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		raw = raw[:i]
	}
	return semver.NewVersion(raw)
}

// ExecuteOptions modifies a pipeline execution.
type ExecuteOptions struct {
	// MaxRows limits each statement's result to this many rows; 0 means
	// no limit.
	MaxRows uint32
}

// stmtPlan is one statement with its parameters already validated and
// bound, so nothing is written to the socket until the whole pipeline is
// known to be encodable.
type stmtPlan struct {
	stmt          *Statement
	paramOIDs     []uint32
	paramFormats  []int16
	paramValues   []pelproto.BindValue
	resultFormats []int16
}

func (c *Connector) planStatement(s *Statement) (*stmtPlan, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	p := &stmtPlan{
		stmt:          s,
		paramOIDs:     make([]uint32, 0, len(s.InputParameters)),
		paramFormats:  make([]int16, 0, len(s.InputParameters)),
		paramValues:   make([]pelproto.BindValue, 0, len(s.InputParameters)),
		resultFormats: nil, // zero codes: all-text results
	}
	for _, param := range s.InputParameters {
		if param.Value == nil {
			p.paramOIDs = append(p.paramOIDs, uint32(param.OID))
			p.paramFormats = append(p.paramFormats, pelproto.TextFormat)
			p.paramValues = append(p.paramValues, nil)
			continue
		}
		var handler peltype.Handler
		if param.OID != 0 {
			handler = c.typeMap.ForOID(param.OID)
		} else {
			var err error
			handler, err = c.typeMap.ForValue(param.Value)
			if err != nil {
				return nil, err
			}
		}
		bound, err := peltype.BindValue(handler, param.Value)
		if err != nil {
			return nil, err
		}
		p.paramOIDs = append(p.paramOIDs, uint32(handler.OID()))
		p.paramFormats = append(p.paramFormats, handler.Format())
		p.paramValues = append(p.paramValues, bound)
	}
	if s.IsPrepared && s.RowDescription != nil {
		p.resultFormats = preferredResultFormats(c.typeMap, s.RowDescription)
	}
	return p, nil
}

func preferredResultFormats(m *peltype.Map, rd *pelproto.RowDescription) []int16 {
	formats := make([]int16, len(rd.Fields))
	for i, fd := range rd.Fields {
		formats[i] = m.ForOID(peltype.OID(fd.DataTypeOID)).Format()
	}
	return formats
}

// Execute runs stmts as one extended-query pipeline: for each statement
// Parse/Describe/Bind/Execute (Bind/Describe/Execute when already
// prepared), one Sync after the last, then a single flush. The returned
// DataReader consumes the responses; the connector stays Fetching until the
// reader sees ReadyForQuery.
func (c *Connector) Execute(ctx context.Context, stmts []*Statement, opts *ExecuteOptions) (*DataReader, error) {
	// The whole pipeline is validated and bound before the first byte is
	// written.
	plans := make([]*stmtPlan, len(stmts))
	for i, s := range stmts {
		p, err := c.planStatement(s)
		if err != nil {
			return nil, err
		}
		plans[i] = p
	}

	if err := c.lock(StateExecuting); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		c.setState(StateReady)
		return nil, newContextAlreadyDoneError(ctx)
	}

	var cancel context.CancelFunc
	if c.config.CommandTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		}
	}
	c.commandWatcher.Watch(ctx)

	var maxRows uint32
	if opts != nil {
		maxRows = opts.MaxRows
	}

	for _, p := range plans {
		if err := c.sendStatement(p, maxRows); err != nil {
			c.hardFail(cancel, err)
			return nil, err
		}
	}
	if err := c.frontend.Send(&pelproto.Sync{}); err != nil {
		c.hardFail(cancel, err)
		return nil, err
	}
	if err := c.frontend.Flush(); err != nil {
		err = normalizeTimeoutError(ctx, err)
		c.hardFail(cancel, err)
		return nil, err
	}

	c.setState(StateFetching)
	r := &DataReader{
		c:      c,
		ctx:    ctx,
		cancel: cancel,
		stmts:  stmts,
		state:  readerBeforeFirstResult,
	}
	c.reader = r
	return r, nil
}

func (c *Connector) sendStatement(p *stmtPlan, maxRows uint32) error {
	name := ""
	if p.stmt.IsPrepared {
		name = p.stmt.PreparedStatementName
	} else {
		if err := c.frontend.Send(&pelproto.Parse{Name: "", Query: p.stmt.SQL, ParameterOIDs: p.paramOIDs}); err != nil {
			return err
		}
		if err := c.frontend.Send(&pelproto.Describe{ObjectType: pelproto.DescribeStatement, Name: ""}); err != nil {
			return err
		}
	}
	if err := c.frontend.Send(&pelproto.Bind{
		DestinationPortal:    "",
		PreparedStatement:    name,
		ParameterFormatCodes: p.paramFormats,
		Parameters:           p.paramValues,
		ResultFormatCodes:    p.resultFormats,
	}); err != nil {
		return err
	}
	if p.stmt.IsPrepared {
		// Bound portals of a named statement are described per flight so
		// the reader sees the negotiated result formats.
		if err := c.frontend.Send(&pelproto.Describe{ObjectType: pelproto.DescribePortal, Name: ""}); err != nil {
			return err
		}
	}
	return c.frontend.Send(&pelproto.Execute{Portal: "", MaxRows: maxRows})
}

// cancelGraceTime is how long a canceled command waits for the server to
// honor a CancelRequest before the socket is forced.
const cancelGraceTime = 2 * time.Second

func (c *Connector) hardFail(cancel context.CancelFunc, err error) {
	c.commandWatcher.Unwatch()
	if cancel != nil {
		cancel()
	}
	c.die(err)
}

// Prepare parses and describes a statement under a server-side name so
// later executions skip Parse. An empty name auto-generates one. The
// statement records its name, description, and IsPrepared on success.
func (c *Connector) Prepare(ctx context.Context, s *Statement, name string) error {
	plan, err := c.planStatement(s)
	if err != nil {
		return err
	}
	if err := c.lock(StateExecuting); err != nil {
		return err
	}
	if name == "" {
		c.stmtCounter++
		name = fmt.Sprintf("_pel_stmt_%d", c.stmtCounter)
	}

	c.commandWatcher.Watch(ctx)
	defer c.commandWatcher.Unwatch()

	err = c.frontend.Send(&pelproto.Parse{Name: name, Query: s.SQL, ParameterOIDs: plan.paramOIDs})
	if err == nil {
		err = c.frontend.Send(&pelproto.Describe{ObjectType: pelproto.DescribeStatement, Name: name})
	}
	if err == nil {
		err = c.frontend.Send(&pelproto.Sync{})
	}
	if err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		err = normalizeTimeoutError(ctx, err)
		c.die(err)
		return err
	}

	var pgErr *PgError
	for {
		msg, rxErr := c.receiveMessage(ctx)
		if rxErr != nil {
			return rxErr
		}
		switch msg := msg.(type) {
		case *pelproto.RowDescription:
			s.RowDescription = msg.Copy()
		case *pelproto.NoData:
			s.RowDescription = nil
		case *pelproto.ErrorResponse:
			pgErr = errorDetailsToPgError(&msg.ErrorDetails)
		case *pelproto.ReadyForQuery:
			c.setState(StateReady)
			if pgErr != nil {
				return pgErr
			}
			s.PreparedStatementName = name
			s.IsPrepared = true
			return nil
		}
	}
}

// Unprepare closes a named prepared statement on the server.
func (c *Connector) Unprepare(ctx context.Context, s *Statement) error {
	if !s.IsPrepared {
		return nil
	}
	if err := c.lock(StateExecuting); err != nil {
		return err
	}
	c.commandWatcher.Watch(ctx)
	defer c.commandWatcher.Unwatch()

	err := c.frontend.Send(&pelproto.Close{ObjectType: pelproto.DescribeStatement, Name: s.PreparedStatementName})
	if err == nil {
		err = c.frontend.Send(&pelproto.Sync{})
	}
	if err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		err = normalizeTimeoutError(ctx, err)
		c.die(err)
		return err
	}

	var pgErr *PgError
	for {
		msg, rxErr := c.receiveMessage(ctx)
		if rxErr != nil {
			return rxErr
		}
		switch msg := msg.(type) {
		case *pelproto.ErrorResponse:
			pgErr = errorDetailsToPgError(&msg.ErrorDetails)
		case *pelproto.ReadyForQuery:
			c.setState(StateReady)
			if pgErr == nil {
				s.PreparedStatementName = ""
				s.IsPrepared = false
			}
			return pgErr.orNil()
		}
	}
}

// Exec runs sql via the simple query protocol and drains every result. It
// serves session chores: Reset, transaction control, settings.
func (c *Connector) Exec(ctx context.Context, sql string) error {
	if err := c.lock(StateExecuting); err != nil {
		return err
	}
	c.commandWatcher.Watch(ctx)
	defer c.commandWatcher.Unwatch()

	err := c.frontend.Send(&pelproto.Query{SQL: sql})
	if err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		err = normalizeTimeoutError(ctx, err)
		c.die(err)
		return err
	}

	c.setState(StateFetching)
	var pgErr *PgError
	for {
		msg, rxErr := c.receiveMessage(ctx)
		if rxErr != nil {
			return rxErr
		}
		switch msg := msg.(type) {
		case *pelproto.ErrorResponse:
			pgErr = errorDetailsToPgError(&msg.ErrorDetails)
		case *pelproto.ReadyForQuery:
			c.setState(StateReady)
			return pgErr.orNil()
		}
	}
}

// orNil lets a typed nil *PgError collapse to an untyped nil error.
func (pe *PgError) orNil() error {
	if pe == nil {
		return nil
	}
	return pe
}

// Reset restores session state before the connector returns to its pool:
// open transactions roll back and session settings are discarded, so a GUC
// change never leaks to the next borrower. Idempotent and cheap when the
// session is already pristine.
func (c *Connector) Reset(ctx context.Context) error {
	if c.config.NoResetOnClose {
		return nil
	}
	if c.txStatus != 0 && c.txStatus != pelproto.TxStatusIdle {
		if err := c.Exec(ctx, "ROLLBACK"); err != nil {
			return err
		}
	}
	return c.Exec(ctx, c.config.ResetCommand)
}

// CancelRequest opens a second short-lived connection and asks the server
// to abort whatever this connector is running. It is never sent on the main
// connection.
func (c *Connector) CancelRequest(ctx context.Context) error {
	network, address := c.config.NetworkAddress()
	conn, err := c.config.DialFunc(ctx, network, address)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	wb := pelio.NewWriteBuffer(conn, pelio.MinBufferSize)
	if err := (&pelproto.CancelRequest{ProcessID: c.pid, SecretKey: c.secretKey}).Encode(wb); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	// The server acknowledges by closing the connection.
	_, err = conn.Read(make([]byte, 1))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Close performs an orderly shutdown: Terminate, then socket close. Closing
// a closed or broken connector is a no-op.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	if state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	if state == StateBroken {
		return c.conn.Close()
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	if err := c.frontend.Send(&pelproto.Terminate{}); err == nil {
		c.frontend.Flush()
	}
	return c.conn.Close()
}
