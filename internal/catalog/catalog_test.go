package catalog

import (
	"context"
	"testing"

	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, kv.Backend) {
	t.Helper()
	backend := kv.NewMemBackend()
	return New(backend), backend
}

func TestCreateTableThenRefreshIsVisible(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t)

	txn, err := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, err)
	tbl := &Table{
		Schema: "public", Name: "widgets",
		Columns: []Column{
			{Name: "id", Ordinal: 0, Type: value.TypeInt8, NotNull: true},
			{Name: "name", Ordinal: 1, Type: value.TypeText},
		},
		PK: []string{"id"},
	}
	require.NoError(t, c.CreateTable(ctx, txn, tbl))
	require.NoError(t, c.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	got, ok := c.LookupTable("public", "widgets")
	require.True(t, ok)
	assert.Equal(t, "widgets", got.Name)
	assert.Len(t, got.Columns, 2)
	assert.NotZero(t, got.ID)
}

func TestCreateDuplicateTableFails(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t)
	txn, _ := backend.Begin(ctx, kv.ReadCommitted)
	tbl := &Table{Schema: "public", Name: "t"}
	require.NoError(t, c.CreateTable(ctx, txn, tbl))
	require.NoError(t, c.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := backend.Begin(ctx, kv.ReadCommitted)
	err := c.CreateTable(ctx, txn2, &Table{Schema: "public", Name: "t"})
	assert.Error(t, err)
}

func TestDropTableRejectsDanglingFK(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t)

	txn, _ := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, c.CreateTable(ctx, txn, &Table{Schema: "public", Name: "parent"}))
	require.NoError(t, c.CreateTable(ctx, txn, &Table{
		Schema: "public", Name: "child",
		FKs: []ForeignKey{{Name: "fk1", Columns: []string{"parent_id"}, RefSchema: "public", RefTable: "parent", RefColumns: []string{"id"}}},
	}))
	require.NoError(t, c.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := backend.Begin(ctx, kv.ReadCommitted)
	err := c.DropTable(ctx, txn2, "public", "parent", false)
	assert.Error(t, err)

	err = c.DropTable(ctx, txn2, "public", "parent", true)
	assert.NoError(t, err)
}

func TestResolveSearchPath(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t)
	txn, _ := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, c.CreateTable(ctx, txn, &Table{Schema: "app", Name: "users"}))
	require.NoError(t, c.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	schema, ok := c.Resolve("users", []string{"public", "app"})
	require.True(t, ok)
	assert.Equal(t, "app", schema)

	_, ok = c.Resolve("missing", []string{"public", "app"})
	assert.False(t, ok)
}

func TestCanonicalizeIdentifier(t *testing.T) {
	assert.Equal(t, "mytable", Canonicalize("MyTable", false))
	assert.Equal(t, "MyTable", Canonicalize("MyTable", true))
}

func TestRefreshIsIdempotentOnChecksum(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t)
	txn, _ := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, c.CreateTable(ctx, txn, &Table{Schema: "public", Name: "t"}))
	require.NoError(t, c.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))
	first := c.Snapshot().Checksum

	txn2, _ := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, c.Refresh(ctx, txn2))
	require.NoError(t, txn2.Commit(ctx))
	assert.Equal(t, first, c.Snapshot().Checksum)
}
