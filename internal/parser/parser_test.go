package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelect(t *testing.T) {
	stmts, err := Parse("SELECT id, name FROM widgets WHERE id = 1")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	sel, ok := stmts[0].(*SelectStmt)
	require.True(t, ok)
	assert.Len(t, sel.Targets, 2)
	require.Len(t, sel.From, 1)
	assert.Equal(t, "widgets", sel.From[0].Table)
	require.NotNil(t, sel.Where)
}

func TestParseInsert(t *testing.T) {
	stmts, err := Parse("INSERT INTO widgets (id, name) VALUES (1, 'a')")
	require.NoError(t, err)
	ins, ok := stmts[0].(*InsertStmt)
	require.True(t, ok)
	assert.Equal(t, "widgets", ins.Table)
	assert.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Values, 1)
}

func TestParseCreateTable(t *testing.T) {
	stmts, err := Parse("CREATE TABLE widgets (id bigint PRIMARY KEY, name text NOT NULL)")
	require.NoError(t, err)
	ct, ok := stmts[0].(*CreateTableStmt)
	require.True(t, ok)
	assert.Equal(t, "widgets", ct.Table)
	require.Len(t, ct.Columns, 2)
	assert.True(t, ct.Columns[1].NotNull)
	assert.Equal(t, []string{"id"}, ct.PrimaryKey)
}

func TestParseBeginCommit(t *testing.T) {
	stmts, err := Parse("BEGIN")
	require.NoError(t, err)
	tc, ok := stmts[0].(*TxnControlStmt)
	require.True(t, ok)
	assert.Equal(t, TxnBegin, tc.Kind)

	stmts, err = Parse("COMMIT")
	require.NoError(t, err)
	tc, ok = stmts[0].(*TxnControlStmt)
	require.True(t, ok)
	assert.Equal(t, TxnCommit, tc.Kind)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse("SELEC * FROM")
	assert.Error(t, err)
}
