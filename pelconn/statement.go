package pelconn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelicandb/pelican/pelproto"
	"github.com/pelicandb/pelican/peltype"
)

// ParameterDirection declares how a parameter participates in a statement.
// The wire protocol only carries input values; the other directions exist
// for façade compatibility and are rejected before anything is sent.
type ParameterDirection int

const (
	Input ParameterDirection = iota
	Output
	InputOutput
)

func (d ParameterDirection) String() string {
	switch d {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case InputOutput:
		return "InputOutput"
	default:
		return "ParameterDirection(" + strconv.Itoa(int(d)) + ")"
	}
}

// Parameter is one input value of a statement. Name is only meaningful to
// the named-parameter preprocessor at the façade; the core binds by
// position. A zero OID lets the type handler (or the server) choose.
type Parameter struct {
	Value     any
	Direction ParameterDirection
	Name      string
	OID       peltype.OID
}

// StatementType classifies a completed statement by its command tag.
type StatementType int

const (
	StatementTypeUnknown StatementType = iota
	StatementTypeSelect
	StatementTypeInsert
	StatementTypeUpdate
	StatementTypeDelete
	StatementTypeMerge
	StatementTypeCopy
	StatementTypeMove
	StatementTypeFetch
	StatementTypeBegin
	StatementTypeCommit
	StatementTypeRollback
	StatementTypeCreate
	StatementTypeDrop
	StatementTypeAlter
	StatementTypeSet
	StatementTypeEmpty
)

// Statement is one SQL statement with positional placeholders ($1, $2, ...)
// and its input parameters. Execution attaches the result fields.
type Statement struct {
	SQL             string
	InputParameters []*Parameter

	// Results, populated when the statement completes.
	StatementType  StatementType
	Rows           int64
	OID            uint32
	RowDescription *pelproto.RowDescription

	// Prepared-statement bookkeeping.
	PreparedStatementName string
	IsPrepared            bool
}

// NewStatement returns a Statement over sql with the given input values.
func NewStatement(sql string, args ...any) *Statement {
	params := make([]*Parameter, len(args))
	for i, a := range args {
		params[i] = &Parameter{Value: a, Direction: Input}
	}
	return &Statement{SQL: sql, InputParameters: params}
}

// Clone returns a deep copy: the parameter list is duplicated so the copy
// can be mutated independently. Parameter values are shared; they are
// treated as immutable once attached.
func (s *Statement) Clone() *Statement {
	params := make([]*Parameter, len(s.InputParameters))
	for i, p := range s.InputParameters {
		cp := *p
		params[i] = &cp
	}
	return &Statement{SQL: s.SQL, InputParameters: params}
}

// validate enforces the core's contract with the façade before any byte is
// written to the socket.
func (s *Statement) validate() error {
	for i, p := range s.InputParameters {
		if p.Direction != Input {
			return fmt.Errorf("pelconn: parameter %d of %q has direction %s; only Input parameters reach the wire", i+1, abbreviateSQL(s.SQL), p.Direction)
		}
	}
	return nil
}

func abbreviateSQL(sql string) string {
	if len(sql) > 40 {
		return sql[:40] + "..."
	}
	return sql
}

// applyCommandTag parses a CommandComplete tag such as "SELECT 42",
// "INSERT 0 1", or "CREATE TABLE" into the statement's result fields.
func (s *Statement) applyCommandTag(tag string) {
	s.StatementType = statementTypeFromTag(tag)

	parts := strings.Split(tag, " ")
	switch s.StatementType {
	case StatementTypeInsert:
		// INSERT <oid> <rows>
		if len(parts) == 3 {
			oid, _ := strconv.ParseUint(parts[1], 10, 32)
			s.OID = uint32(oid)
			s.Rows, _ = strconv.ParseInt(parts[2], 10, 64)
		}
	case StatementTypeSelect, StatementTypeUpdate, StatementTypeDelete,
		StatementTypeMerge, StatementTypeMove, StatementTypeFetch, StatementTypeCopy:
		if len(parts) >= 2 {
			s.Rows, _ = strconv.ParseInt(parts[len(parts)-1], 10, 64)
		}
	}
}

func statementTypeFromTag(tag string) StatementType {
	word := tag
	if i := strings.IndexByte(tag, ' '); i >= 0 {
		word = tag[:i]
	}
	switch word {
	case "SELECT":
		return StatementTypeSelect
	case "INSERT":
		return StatementTypeInsert
	case "UPDATE":
		return StatementTypeUpdate
	case "DELETE":
		return StatementTypeDelete
	case "MERGE":
		return StatementTypeMerge
	case "COPY":
		return StatementTypeCopy
	case "MOVE":
		return StatementTypeMove
	case "FETCH":
		return StatementTypeFetch
	case "BEGIN":
		return StatementTypeBegin
	case "COMMIT":
		return StatementTypeCommit
	case "ROLLBACK":
		return StatementTypeRollback
	case "CREATE":
		return StatementTypeCreate
	case "DROP":
		return StatementTypeDrop
	case "ALTER":
		return StatementTypeAlter
	case "SET":
		return StatementTypeSet
	default:
		return StatementTypeUnknown
	}
}
