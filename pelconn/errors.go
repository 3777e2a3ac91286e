package pelconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/pelicandb/pelican/pelproto"
)

// PgError represents an error reported by the PostgreSQL server. See
// https://www.postgresql.org/docs/current/protocol-error-fields.html for
// detailed field descriptions.
type PgError struct {
	Severity            string
	SeverityUnlocalized string
	Code                string
	Message             string
	Detail              string
	Hint                string
	Position            int32
	InternalPosition    int32
	InternalQuery       string
	Where               string
	SchemaName          string
	TableName           string
	ColumnName          string
	DataTypeName        string
	ConstraintName      string
	File                string
	Line                int32
	Routine             string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// SQLState returns the SQLSTATE of the error.
func (pe *PgError) SQLState() string {
	return pe.Code
}

func errorDetailsToPgError(d *pelproto.ErrorDetails) *PgError {
	return &PgError{
		Severity:            d.Severity,
		SeverityUnlocalized: d.SeverityUnlocalized,
		Code:                d.Code,
		Message:             d.Message,
		Detail:              d.Detail,
		Hint:                d.Hint,
		Position:            d.Position,
		InternalPosition:    d.InternalPosition,
		InternalQuery:       d.InternalQuery,
		Where:               d.Where,
		SchemaName:          d.SchemaName,
		TableName:           d.TableName,
		ColumnName:          d.ColumnName,
		DataTypeName:        d.DataTypeName,
		ConstraintName:      d.ConstraintName,
		File:                d.File,
		Line:                d.Line,
		Routine:             d.Routine,
	}
}

// Notice is a non-error message from the server, dispatched to
// Config.OnNotice. It shares PgError's field layout.
type Notice PgError

// Notification is a LISTEN/NOTIFY payload dispatched to
// Config.OnNotification.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// SafeToRetry reports whether err is guaranteed to have occurred before any
// byte reached the server.
func SafeToRetry(err error) bool {
	var e interface{ SafeToRetry() bool }
	if errors.As(err, &e) {
		return e.SafeToRetry()
	}
	return false
}

// Timeout reports whether err was caused by a deadline: a
// context.DeadlineExceeded, or a net.Error timeout observed inside pelconn.
func Timeout(err error) bool {
	var te *errTimeout
	return errors.As(err, &te)
}

type connectError struct {
	config *Config
	msg    string
	err    error
}

func (e *connectError) Error() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "failed to connect to `host=%s user=%s database=%s`: %s", e.config.Host, e.config.User, e.config.Database, e.msg)
	if e.err != nil {
		fmt.Fprintf(sb, " (%s)", e.err.Error())
	}
	return sb.String()
}

func (e *connectError) Unwrap() error { return e.err }

type connLockError struct {
	status string
}

func (e *connLockError) Error() string { return e.status }

// A lock failure by definition happens before the connection is used.
func (e *connLockError) SafeToRetry() bool { return true }

type parseConfigError struct {
	connString string
	msg        string
	err        error
}

func (e *parseConfigError) Error() string {
	connString := redactPW(e.connString)
	if e.err == nil {
		return fmt.Sprintf("cannot parse `%s`: %s", connString, e.msg)
	}
	return fmt.Sprintf("cannot parse `%s`: %s (%s)", connString, e.msg, e.err.Error())
}

func (e *parseConfigError) Unwrap() error { return e.err }

// errTimeout wraps an error caused by a deadline: context.DeadlineExceeded
// or a net.Error where Timeout() is true.
type errTimeout struct {
	err error
}

func (e *errTimeout) Error() string     { return fmt.Sprintf("timeout: %s", e.err.Error()) }
func (e *errTimeout) SafeToRetry() bool { return SafeToRetry(e.err) }
func (e *errTimeout) Unwrap() error     { return e.err }

func normalizeTimeoutError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if ctx.Err() == context.Canceled {
			// The deadline was forced by a context cancellation; the
			// cancellation is the real cause.
			return context.Canceled
		} else if ctx.Err() == context.DeadlineExceeded {
			return &errTimeout{err: ctx.Err()}
		}
		return &errTimeout{err: netErr}
	}
	return err
}

type contextAlreadyDoneError struct {
	err error
}

func (e *contextAlreadyDoneError) Error() string {
	return fmt.Sprintf("context already done: %s", e.err.Error())
}

func (e *contextAlreadyDoneError) SafeToRetry() bool { return true }
func (e *contextAlreadyDoneError) Unwrap() error     { return e.err }

func newContextAlreadyDoneError(ctx context.Context) error {
	return &errTimeout{&contextAlreadyDoneError{err: ctx.Err()}}
}

func redactPW(connString string) string {
	quoted := regexp.MustCompile(`(?i)password='[^']*'`)
	connString = quoted.ReplaceAllLiteralString(connString, "Password=xxxxx")
	plain := regexp.MustCompile(`(?i)password=[^;]*`)
	return plain.ReplaceAllLiteralString(connString, "Password=xxxxx")
}
