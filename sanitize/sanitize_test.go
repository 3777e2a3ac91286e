package sanitize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicandb/pelican/sanitize"
)

func rewrite(t *testing.T, sql string) (string, []string) {
	t.Helper()
	q, err := sanitize.NewQuery(sql)
	require.NoError(t, err)
	return q.Rewrite()
}

func TestRewriteNamedParameters(t *testing.T) {
	out, names := rewrite(t, "SELECT * FROM t WHERE a = @a AND b = :b")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", out)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRewriteRepeatedNameSharesNumber(t *testing.T) {
	out, names := rewrite(t, "SELECT @x, @y, @x")
	assert.Equal(t, "SELECT $1, $2, $1", out)
	assert.Equal(t, []string{"x", "y"}, names)
}

func TestRewriteNamedAfterPositional(t *testing.T) {
	out, names := rewrite(t, "SELECT $1, @extra")
	assert.Equal(t, "SELECT $1, $2", out)
	assert.Equal(t, []string{"extra"}, names)
}

func TestRewritePositionalPassesThrough(t *testing.T) {
	out, names := rewrite(t, "SELECT $1 + $2")
	assert.Equal(t, "SELECT $1 + $2", out)
	assert.Empty(t, names)
}

func TestQuotedTextIsNotRewritten(t *testing.T) {
	cases := []string{
		"SELECT '@notaparam'",
		`SELECT "@column name" FROM t`,
		"SELECT 'it''s @fine'",
		"SELECT E'backslash \\' @quoted'",
		"-- comment with @name\nSELECT 1",
		"/* block @name /* nested */ still */ SELECT 1",
		"SELECT $tag$body with @name$tag$",
		"SELECT $$body with @name$$",
	}
	for _, sql := range cases {
		out, names := rewrite(t, sql)
		assert.Equal(t, sql, out, sql)
		assert.Empty(t, names, sql)
	}
}

func TestCastIsNotAParameter(t *testing.T) {
	out, names := rewrite(t, "SELECT x::int FROM t")
	assert.Equal(t, "SELECT x::int FROM t", out)
	assert.Empty(t, names)
}

func TestHasNamed(t *testing.T) {
	q, err := sanitize.NewQuery("SELECT @a")
	require.NoError(t, err)
	assert.True(t, q.HasNamed())

	q, err = sanitize.NewQuery("SELECT $1")
	require.NoError(t, err)
	assert.False(t, q.HasNamed())
}

func TestSplitStatements(t *testing.T) {
	stmts := sanitize.Split("SELECT 1; SELECT 2;  ; SELECT 3")
	assert.Equal(t, []string{"SELECT 1", "SELECT 2", "SELECT 3"}, stmts)
}

func TestSplitRespectsQuoting(t *testing.T) {
	stmts := sanitize.Split("SELECT 'a;b'; SELECT $$x;y$$")
	assert.Equal(t, []string{"SELECT 'a;b'", "SELECT $$x;y$$"}, stmts)
}

func TestSplitSingleStatement(t *testing.T) {
	stmts := sanitize.Split("SELECT 42")
	assert.Equal(t, []string{"SELECT 42"}, stmts)
}
