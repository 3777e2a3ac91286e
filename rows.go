package pelican

import (
	"github.com/pelicandb/pelican/pelconn"
	"github.com/pelicandb/pelican/pelproto"
)

// Rows is a forward-only cursor over the result sets of one executed
// command.
type Rows struct {
	reader *pelconn.DataReader
	stmts  []*Statement
}

// Next advances to the next row of the current result set.
func (rows *Rows) Next() bool { return rows.reader.Read() }

// NextResultSet positions the cursor at the next statement's result set.
func (rows *Rows) NextResultSet() bool { return rows.reader.NextResult() }

// FieldDescriptions describes the current result's columns.
func (rows *Rows) FieldDescriptions() []pelproto.FieldDescription {
	return rows.reader.FieldDescriptions()
}

// Statements returns the executed statements with their result fields.
func (rows *Rows) Statements() []*Statement { return rows.stmts }

// Err returns the first error the pipeline produced.
func (rows *Rows) Err() error { return rows.reader.Err() }

// Get decodes column i of the current row.
func (rows *Rows) Get(i int) (any, error) { return rows.reader.Get(i) }

// GetInt32 decodes column i as an int32.
func (rows *Rows) GetInt32(i int) (int32, error) { return rows.reader.GetInt32(i) }

// GetInt64 decodes column i as an int64.
func (rows *Rows) GetInt64(i int) (int64, error) { return rows.reader.GetInt64(i) }

// GetString decodes column i as a string.
func (rows *Rows) GetString(i int) (string, error) { return rows.reader.GetString(i) }

// GetBool decodes column i as a bool.
func (rows *Rows) GetBool(i int) (bool, error) { return rows.reader.GetBool(i) }

// GetFloat64 decodes column i as a float64.
func (rows *Rows) GetFloat64(i int) (float64, error) { return rows.reader.GetFloat64(i) }

// GetBytes decodes column i as raw bytes.
func (rows *Rows) GetBytes(i int) ([]byte, error) { return rows.reader.GetBytes(i) }

// Close drains the pipeline so the connection is ready for the next
// command, and returns the pipeline's error, if any.
func (rows *Rows) Close() error { return rows.reader.Close() }
