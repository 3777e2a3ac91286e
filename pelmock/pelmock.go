// Package pelmock is an in-process PostgreSQL server good enough to
// exercise the client's wire protocol end to end in tests: startup and
// authentication, the simple query protocol, and the extended-query
// pipeline with correct per-message response ordering. It answers queries
// from a pluggable QueryFunc; the default echoes integer SELECTs.
package pelmock

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Column describes one result column of a mocked query.
type Column struct {
	Name     string
	TypeOID  uint32
	TypeSize int16
	Format   int16
}

// Int4Column is the shape PostgreSQL reports for an integer expression.
func Int4Column(name string) Column {
	return Column{Name: name, TypeOID: 23, TypeSize: 4}
}

// TextColumn is the shape for a text expression.
func TextColumn(name string) Column {
	return Column{Name: name, TypeOID: 25, TypeSize: -1}
}

// ServerError makes a query fail with an ErrorResponse.
type ServerError struct {
	Severity string
	Code     string
	Message  string
}

// Result is what a QueryFunc produces for one statement execution. Values
// travel in text format, matching the client's default result-format
// request.
type Result struct {
	Columns []Column
	Rows    [][][]byte
	Tag     string
	Err     *ServerError
	// Notices are emitted as NoticeResponse messages ahead of the rows.
	Notices []ServerError
}

// QueryFunc answers one statement. params holds the bound parameter values
// as received (per their format codes); it is nil for the describe pass and
// for the simple protocol.
type QueryFunc func(sql string, params [][]byte, formats []int16) Result

// Server accepts connections and serves each with the configured behavior.
type Server struct {
	ln    net.Listener
	query QueryFunc

	// Password switches authentication from trust to cleartext; MD5 uses
	// the md5 exchange instead.
	Password string
	MD5      bool

	pidCounter uint32

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer starts a server on a loopback port with the given QueryFunc
// (nil selects DefaultQuery).
func NewServer(query QueryFunc) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = DefaultQuery
	}
	s := &Server{ln: ln, query: query, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener's host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// ConnString returns a connection string pointing at this server.
func (s *Server) ConnString(extra string) string {
	host, port, _ := net.SplitHostPort(s.Addr())
	cs := fmt.Sprintf("Host=%s;Port=%s;Username=mock;Database=mockdb", host, port)
	if extra != "" {
		cs += ";" + extra
	}
	return cs
}

// Close stops accepting and severs every live connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.ln.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			conn.Close()
		}()
	}
}

const (
	sslRequestCode    = 80877103
	cancelRequestCode = 80877102
)

type session struct {
	srv *Server
	r   *bufio.Reader
	w   *bufio.Writer
	pid uint32

	stmts   map[string]*mockStmt
	portals map[string]*mockPortal
}

type mockStmt struct {
	sql  string
	oids []uint32
}

type mockPortal struct {
	stmt    *mockStmt
	params  [][]byte
	formats []int16
}

func (s *Server) serve(conn net.Conn) {
	sess := &session{
		srv:     s,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriterSize(conn, 1<<20),
		pid:     atomic.AddUint32(&s.pidCounter, 1),
		stmts:   make(map[string]*mockStmt),
		portals: make(map[string]*mockPortal),
	}
	sess.run()
}

func (sess *session) run() {
	user, ok := sess.startup()
	if !ok {
		return
	}
	if !sess.authenticate(user) {
		return
	}

	writeMessage(sess.w, 'S', buildParameterStatus("server_version", "14.5"))
	writeMessage(sess.w, 'S', buildParameterStatus("client_encoding", "UTF8"))
	writeMessage(sess.w, 'K', buildBackendKeyData(sess.pid, 4242))
	writeMessage(sess.w, 'Z', buildReadyForQuery('I'))
	if sess.w.Flush() != nil {
		return
	}

	for {
		msgType, body, err := readMessage(sess.r)
		if err != nil {
			return
		}
		if !sess.dispatch(msgType, body) {
			return
		}
	}
}

// startup handles the untyped frames: any number of SSLRequests (always
// refused), CancelRequests (connection dropped), then the StartupMessage.
func (sess *session) startup() (user string, ok bool) {
	for {
		body, err := readStartup(sess.r)
		if err != nil {
			return "", false
		}
		code := body.readUint32()
		switch code {
		case sslRequestCode:
			sess.w.WriteByte('N')
			if sess.w.Flush() != nil {
				return "", false
			}
		case cancelRequestCode:
			return "", false
		default:
			// protocol version; the name/value pairs follow
			params := map[string]string{}
			for body.remaining() > 1 {
				k := body.readCString()
				if k == "" {
					break
				}
				params[k] = body.readCString()
			}
			return params["user"], true
		}
	}
}

func (sess *session) authenticate(user string) bool {
	switch {
	case sess.srv.MD5:
		salt := [4]byte{'p', 'e', 'l', '!'}
		writeMessage(sess.w, 'R', buildAuthenticationMD5(salt))
		if sess.w.Flush() != nil {
			return false
		}
		msgType, body, err := readMessage(sess.r)
		if err != nil || msgType != 'p' {
			return false
		}
		want := "md5" + hexmd5(hexmd5(sess.srv.Password+user)+string(salt[:]))
		if body.readCString() != want {
			sess.authFail()
			return false
		}
	case sess.srv.Password != "":
		writeMessage(sess.w, 'R', buildAuthenticationCleartext())
		if sess.w.Flush() != nil {
			return false
		}
		msgType, body, err := readMessage(sess.r)
		if err != nil || msgType != 'p' {
			return false
		}
		if body.readCString() != sess.srv.Password {
			sess.authFail()
			return false
		}
	}
	writeMessage(sess.w, 'R', buildAuthenticationOk())
	return true
}

func (sess *session) authFail() {
	writeMessage(sess.w, 'E', buildErrorFields("FATAL", "28P01", "password authentication failed"))
	sess.w.Flush()
}

func hexmd5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// dispatch answers one frontend message, mirroring the server's response
// ordering: each message is acknowledged as it is processed; everything is
// flushed at Sync.
func (sess *session) dispatch(msgType byte, body *payload) bool {
	switch msgType {
	case 'Q':
		sql := body.readCString()
		sess.runQuery(sql, nil, nil)
		writeMessage(sess.w, 'Z', buildReadyForQuery('I'))
		return sess.w.Flush() == nil

	case 'P':
		name := body.readCString()
		sql := body.readCString()
		n := int(body.readInt16())
		oids := make([]uint32, n)
		for i := range oids {
			oids[i] = body.readUint32()
		}
		sess.stmts[name] = &mockStmt{sql: sql, oids: oids}
		return writeMessage(sess.w, '1', nil) == nil

	case 'B':
		portal := body.readCString()
		stmtName := body.readCString()
		nFormats := int(body.readInt16())
		formats := make([]int16, nFormats)
		for i := range formats {
			formats[i] = body.readInt16()
		}
		nParams := int(body.readInt16())
		params := make([][]byte, nParams)
		for i := range params {
			vlen := int(body.readInt32())
			if vlen == -1 {
				params[i] = nil
				continue
			}
			params[i] = append([]byte(nil), body.readBytes(vlen)...)
		}
		stmt := sess.stmts[stmtName]
		if stmt == nil {
			writeMessage(sess.w, 'E', buildErrorFields("ERROR", "26000", "prepared statement \""+stmtName+"\" does not exist"))
			return true
		}
		sess.portals[portal] = &mockPortal{stmt: stmt, params: params, formats: expandFormats(formats, nParams)}
		return writeMessage(sess.w, '2', nil) == nil

	case 'D':
		kind := body.readByte()
		name := body.readCString()
		var stmt *mockStmt
		if kind == 'S' {
			stmt = sess.stmts[name]
		} else if p := sess.portals[name]; p != nil {
			stmt = p.stmt
		}
		if stmt == nil {
			writeMessage(sess.w, 'E', buildErrorFields("ERROR", "26000", "could not describe "+string(kind)+" "+name))
			return true
		}
		if kind == 'S' {
			writeMessage(sess.w, 't', buildParameterDescription(stmt.oids))
		}
		res := sess.srv.query(stmt.sql, nil, nil)
		if len(res.Columns) == 0 {
			writeMessage(sess.w, 'n', nil)
		} else {
			writeMessage(sess.w, 'T', buildRowDescription(res.Columns))
		}
		return true

	case 'E':
		portal := body.readCString()
		p := sess.portals[portal]
		if p == nil {
			writeMessage(sess.w, 'E', buildErrorFields("ERROR", "34000", "portal \""+portal+"\" does not exist"))
			return true
		}
		sess.runQuery(p.stmt.sql, p.params, p.formats)
		return true

	case 'C':
		body.readByte()
		name := body.readCString()
		delete(sess.stmts, name)
		delete(sess.portals, name)
		return writeMessage(sess.w, '3', nil) == nil

	case 'S':
		writeMessage(sess.w, 'Z', buildReadyForQuery('I'))
		return sess.w.Flush() == nil

	case 'H':
		return sess.w.Flush() == nil

	case 'X':
		sess.w.Flush()
		return false

	default:
		writeMessage(sess.w, 'E', buildErrorFields("ERROR", "08P01", fmt.Sprintf("unknown message type %q", msgType)))
		return true
	}
}

// runQuery emits the data-phase messages of one statement. The simple
// protocol (params nil via 'Q') additionally emits the RowDescription,
// which the extended protocol delivered during Describe.
func (sess *session) runQuery(sql string, params [][]byte, formats []int16) {
	res := sess.srv.query(sql, params, formats)
	for _, n := range res.Notices {
		writeMessage(sess.w, 'N', buildErrorFields(n.Severity, n.Code, n.Message))
	}
	if res.Err != nil {
		writeMessage(sess.w, 'E', buildErrorFields(res.Err.Severity, res.Err.Code, res.Err.Message))
		return
	}
	if params == nil && formats == nil && len(res.Columns) > 0 {
		writeMessage(sess.w, 'T', buildRowDescription(res.Columns))
	}
	for _, row := range res.Rows {
		writeMessage(sess.w, 'D', buildDataRow(row))
	}
	tag := res.Tag
	if tag == "" {
		tag = defaultTag(sql, len(res.Rows))
	}
	if strings.TrimSpace(sql) == "" {
		writeMessage(sess.w, 'I', nil)
		return
	}
	writeMessage(sess.w, 'C', buildCommandComplete(tag))
}

func expandFormats(formats []int16, n int) []int16 {
	switch len(formats) {
	case 0:
		return make([]int16, n) // all text
	case 1:
		out := make([]int16, n)
		for i := range out {
			out[i] = formats[0]
		}
		return out
	default:
		return formats
	}
}

func defaultTag(sql string, rows int) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "SELECT 0"
	}
	word := strings.ToUpper(fields[0])
	switch word {
	case "SELECT", "FETCH":
		return fmt.Sprintf("%s %d", word, rows)
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", rows)
	case "UPDATE", "DELETE":
		return fmt.Sprintf("%s %d", word, rows)
	case "DISCARD":
		return "DISCARD ALL"
	default:
		return word
	}
}

// DefaultQuery mocks the expression SELECTs the test suite leans on:
// "SELECT <n>" returns n, "SELECT $1" echoes the bound parameter, anything
// else completes with a bare tag. Integer parameters are recognized in both
// wire formats.
func DefaultQuery(sql string, params [][]byte, formats []int16) Result {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	if rest, ok := strings.CutPrefix(upper, "SELECT "); ok {
		rest = strings.TrimSpace(rest)
		if n, err := strconv.Atoi(rest); err == nil {
			return intResult(n, params == nil)
		}
		if rest == "$1" {
			if params == nil {
				// describe pass
				return Result{Columns: []Column{Int4Column("?column?")}}
			}
			if len(params) > 0 {
				n, ok := decodeIntParam(params[0], formats[0])
				if ok {
					return intResult(int(n), false)
				}
			}
			return Result{Columns: []Column{TextColumn("?column?")}, Rows: [][][]byte{{params[0]}}, Tag: "SELECT 1"}
		}
	}
	return Result{Tag: defaultTag(trimmed, 0)}
}

func intResult(n int, describeOnly bool) Result {
	res := Result{Columns: []Column{Int4Column("?column?")}}
	if !describeOnly {
		res.Rows = [][][]byte{{[]byte(strconv.Itoa(n))}}
		res.Tag = "SELECT 1"
	}
	return res
}

func decodeIntParam(v []byte, format int16) (int64, bool) {
	if v == nil {
		return 0, false
	}
	if format == 0 {
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	}
	switch len(v) {
	case 2:
		return int64(int16(uint16(v[0])<<8 | uint16(v[1]))), true
	case 4:
		return int64(int32(uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3]))), true
	case 8:
		var n uint64
		for _, b := range v {
			n = n<<8 | uint64(b)
		}
		return int64(n), true
	}
	return 0, false
}
