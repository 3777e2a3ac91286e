package pelconn

import (
	"context"
	"fmt"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
	"github.com/pelicandb/pelican/peltype"
)

type readerState int

const (
	readerBeforeFirstResult readerState = iota
	readerInResult
	readerBetweenResults
	readerConsumed
	readerClosed
)

// DataReader is a forward-only cursor over the result sets of one pipeline
// execution. Rows are decoded lazily: Read materializes the raw column
// values, the Get accessors invoke the type handlers on demand.
//
// The reader drives the connector's read side; the connector stays Fetching
// until the pipeline's ReadyForQuery is consumed, at which point it returns
// to Ready whether or not the pipeline failed.
type DataReader struct {
	c      *Connector
	ctx    context.Context
	cancel context.CancelFunc // releases the command-timeout context

	stmts   []*Statement
	stmtIdx int

	fields []pelproto.FieldDescription
	values [][]byte

	state     readerState
	err       error
	concluded bool

	// onClose runs once when the reader closes; the pool release hook.
	onClose func()
}

// SetOnClose registers fn to run exactly once when the reader closes.
func (r *DataReader) SetOnClose(fn func()) { r.onClose = fn }

// Err returns the first error the pipeline produced, if any.
func (r *DataReader) Err() error { return r.err }

// FieldDescriptions describes the columns of the current result set.
func (r *DataReader) FieldDescriptions() []pelproto.FieldDescription { return r.fields }

// Statements returns the statements this reader is consuming; their result
// fields fill in as the pipeline progresses.
func (r *DataReader) Statements() []*Statement { return r.stmts }

func (r *DataReader) currentStatement() *Statement {
	if r.stmtIdx < len(r.stmts) {
		return r.stmts[r.stmtIdx]
	}
	return nil
}

func (r *DataReader) receive() (pelproto.BackendMessage, bool) {
	msg, err := r.c.receiveMessage(r.ctx)
	if err != nil {
		r.err = err
		r.state = readerClosed
		r.conclude()
		return nil, false
	}
	return msg, true
}

// Read advances to the next row of the current result set. It returns false
// at the end of the result (CommandComplete or EmptyQueryResponse), on
// error, or when no result set is open; check Err afterwards.
func (r *DataReader) Read() bool {
	switch r.state {
	case readerBeforeFirstResult:
		if !r.nextResultSet() {
			return false
		}
	case readerInResult:
		// continue below
	default:
		return false
	}

	for {
		msg, ok := r.receive()
		if !ok {
			return false
		}
		switch msg := msg.(type) {
		case *pelproto.DataRow:
			r.values = msg.Values
			return true
		case *pelproto.CommandComplete:
			if s := r.currentStatement(); s != nil {
				s.applyCommandTag(msg.Tag)
			}
			r.closeResult()
			return false
		case *pelproto.EmptyQueryResponse:
			if s := r.currentStatement(); s != nil {
				s.StatementType = StatementTypeEmpty
			}
			r.closeResult()
			return false
		case *pelproto.PortalSuspended:
			// MaxRows reached; the portal holds further rows but this
			// pipeline will not run it again.
			r.closeResult()
			return false
		case *pelproto.ErrorResponse:
			r.failPipeline(errorDetailsToPgError(&msg.ErrorDetails))
			return false
		case *pelproto.ReadyForQuery:
			r.finish()
			return false
		default:
			// Acknowledgements interleaved with data are no-ops here.
		}
	}
}

func (r *DataReader) closeResult() {
	r.values = nil
	r.stmtIdx++
	r.state = readerBetweenResults
}

// NextResult skips any unread rows of the current result, then positions
// the reader at the next statement's result set. It returns false once the
// pipeline's ReadyForQuery has been consumed, or on error.
func (r *DataReader) NextResult() bool {
	for r.state == readerInResult {
		if !r.Read() {
			break
		}
	}
	if r.state == readerConsumed || r.state == readerClosed {
		return false
	}
	return r.nextResultSet()
}

// nextResultSet scans forward to the next RowDescription. Statements that
// produce no result set (INSERT and friends) have their command tags
// applied along the way.
func (r *DataReader) nextResultSet() bool {
	for {
		msg, ok := r.receive()
		if !ok {
			return false
		}
		switch msg := msg.(type) {
		case *pelproto.RowDescription:
			rd := msg.Copy()
			if s := r.currentStatement(); s != nil {
				s.RowDescription = rd
			}
			r.fields = rd.Fields
			r.state = readerInResult
			return true
		case *pelproto.NoData:
			if s := r.currentStatement(); s != nil {
				s.RowDescription = nil
			}
		case *pelproto.CommandComplete:
			if s := r.currentStatement(); s != nil {
				s.applyCommandTag(msg.Tag)
			}
			r.stmtIdx++
		case *pelproto.EmptyQueryResponse:
			if s := r.currentStatement(); s != nil {
				s.StatementType = StatementTypeEmpty
			}
			r.stmtIdx++
		case *pelproto.ErrorResponse:
			r.failPipeline(errorDetailsToPgError(&msg.ErrorDetails))
			return false
		case *pelproto.ReadyForQuery:
			r.finish()
			return false
		default:
			// ParseComplete, BindComplete, ParameterDescription.
		}
	}
}

// failPipeline records the server error and drains the rest of the
// pipeline. Per Sync semantics the server skips the remaining statements,
// so the drain only discards until ReadyForQuery, leaving the connector
// Ready rather than Broken.
func (r *DataReader) failPipeline(pgErr *PgError) {
	r.err = pgErr
	r.values = nil
	for {
		msg, err := r.c.receiveMessage(r.ctx)
		if err != nil {
			r.err = err
			r.state = readerClosed
			r.conclude()
			return
		}
		if _, ok := msg.(*pelproto.ReadyForQuery); ok {
			r.finish()
			return
		}
	}
}

// finish records that the pipeline's ReadyForQuery was consumed.
func (r *DataReader) finish() {
	r.values = nil
	r.state = readerConsumed
	r.conclude()
}

func (r *DataReader) conclude() {
	if r.concluded {
		return
	}
	r.concluded = true
	r.c.commandWatcher.Unwatch()
	if r.cancel != nil {
		r.cancel()
	}
	r.c.reader = nil
	if !r.c.IsBroken() {
		r.c.setState(StateReady)
	}
}

// Close drains every remaining message up to ReadyForQuery so the connector
// returns to Ready, then runs the close hook. It returns the pipeline's
// error, if any.
func (r *DataReader) Close() error {
	for r.state != readerConsumed && r.state != readerClosed {
		if !r.NextResult() {
			break
		}
	}
	if r.state != readerClosed {
		r.state = readerClosed
	}
	r.conclude()
	if r.onClose != nil {
		fn := r.onClose
		r.onClose = nil
		fn()
	}
	return r.err
}

// Values returns the raw wire values of the current row. Slices alias the
// read buffer and are valid only until the next Read.
func (r *DataReader) Values() [][]byte { return r.values }

// Get decodes column i of the current row via its type handler. SQL NULL
// decodes to nil.
func (r *DataReader) Get(i int) (any, error) {
	if r.values == nil {
		return nil, fmt.Errorf("pelconn: no row is positioned; call Read first")
	}
	if i < 0 || i >= len(r.values) {
		return nil, fmt.Errorf("pelconn: column %d out of range (%d columns)", i, len(r.values))
	}
	v := r.values[i]
	if v == nil {
		return nil, nil
	}
	fd := &r.fields[i]
	handler := r.c.typeMap.ForOID(peltype.OID(fd.DataTypeOID))
	buf := pelio.NewReadBufferBytes(v)
	return handler.Read(buf, len(v), fd.Format)
}

// GetInt64 decodes column i as an integer of any width.
func (r *DataReader) GetInt64(i int) (int64, error) {
	v, err := r.Get(i)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	}
	return 0, castError(r, i, v, "integer")
}

// GetInt32 decodes column i as an int32.
func (r *DataReader) GetInt32(i int) (int32, error) {
	n, err := r.GetInt64(i)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// GetString decodes column i as a string.
func (r *DataReader) GetString(i int) (string, error) {
	v, err := r.Get(i)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", castError(r, i, v, "string")
}

// GetBool decodes column i as a bool.
func (r *DataReader) GetBool(i int) (bool, error) {
	v, err := r.Get(i)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, castError(r, i, v, "bool")
}

// GetFloat64 decodes column i as a float64.
func (r *DataReader) GetFloat64(i int) (float64, error) {
	v, err := r.Get(i)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, castError(r, i, v, "float")
}

// GetBytes decodes column i as raw bytes.
func (r *DataReader) GetBytes(i int) ([]byte, error) {
	v, err := r.Get(i)
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, castError(r, i, v, "[]byte")
}

func castError(r *DataReader, i int, v any, want string) error {
	return &peltype.CastError{
		OID:    peltype.OID(r.fields[i].DataTypeOID),
		GoType: fmt.Sprintf("%T", v),
		Reason: "column is not a " + want,
	}
}
