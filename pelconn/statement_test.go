package pelconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCommandTag(t *testing.T) {
	cases := []struct {
		tag      string
		stmtType StatementType
		rows     int64
		oid      uint32
	}{
		{"SELECT 42", StatementTypeSelect, 42, 0},
		{"INSERT 0 1", StatementTypeInsert, 1, 0},
		{"INSERT 16385 1", StatementTypeInsert, 1, 16385},
		{"UPDATE 7", StatementTypeUpdate, 7, 0},
		{"DELETE 0", StatementTypeDelete, 0, 0},
		{"CREATE TABLE", StatementTypeCreate, 0, 0},
		{"DROP TABLE", StatementTypeDrop, 0, 0},
		{"BEGIN", StatementTypeBegin, 0, 0},
		{"ROLLBACK", StatementTypeRollback, 0, 0},
		{"FETCH 5", StatementTypeFetch, 5, 0},
		{"COPY 100", StatementTypeCopy, 100, 0},
		{"SET", StatementTypeSet, 0, 0},
		{"LISTEN", StatementTypeUnknown, 0, 0},
	}

	for _, tc := range cases {
		s := &Statement{}
		s.applyCommandTag(tc.tag)
		assert.Equal(t, tc.stmtType, s.StatementType, tc.tag)
		assert.Equal(t, tc.rows, s.Rows, tc.tag)
		assert.Equal(t, tc.oid, s.OID, tc.tag)
	}
}

func TestStatementValidateRejectsNonInputParameters(t *testing.T) {
	s := NewStatement("SELECT $1", 1)
	require.NoError(t, s.validate())

	s.InputParameters[0].Direction = Output
	err := s.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Output")

	s.InputParameters[0].Direction = InputOutput
	require.Error(t, s.validate())
}

func TestStatementClone(t *testing.T) {
	s := NewStatement("SELECT $1, $2", 1, "x")
	s.IsPrepared = true
	s.PreparedStatementName = "p1"

	c := s.Clone()
	assert.Equal(t, s.SQL, c.SQL)
	require.Len(t, c.InputParameters, 2)

	// The clone owns its parameter structs but shares values.
	c.InputParameters[0].Direction = Output
	assert.Equal(t, Input, s.InputParameters[0].Direction)

	// Prepared-state bookkeeping does not survive cloning.
	assert.False(t, c.IsPrepared)
	assert.Empty(t, c.PreparedStatementName)
}
