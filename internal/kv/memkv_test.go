package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBackendPutGetCommit(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	txn, err := b.Begin(ctx, ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := b.Begin(ctx, ReadCommitted)
	require.NoError(t, err)
	v, ok, err := txn2.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestMemBackendRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	txn, _ := b.Begin(ctx, ReadCommitted)
	_ = txn.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, txn.Rollback(ctx))

	txn2, _ := b.Begin(ctx, ReadCommitted)
	_, ok, _ := txn2.Get(ctx, []byte("k"))
	assert.False(t, ok)
}

func TestMemBackendSavepointRollbackTo(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	txn, _ := b.Begin(ctx, ReadCommitted)
	require.NoError(t, txn.Put(ctx, []byte("x"), []byte("1")))
	require.NoError(t, txn.Savepoint(ctx, "sp1"))
	require.NoError(t, txn.Put(ctx, []byte("x"), []byte("2")))
	require.NoError(t, txn.Put(ctx, []byte("y"), []byte("new")))
	require.NoError(t, txn.RollbackTo(ctx, "sp1"))

	v, ok, err := txn.Get(ctx, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok, err = txn.Get(ctx, []byte("y"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, txn.Commit(ctx))
}

func TestMemBackendScanOrderedRange(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	txn, _ := b.Begin(ctx, ReadCommitted)
	for _, k := range []string{"b", "a", "c", "d"} {
		require.NoError(t, txn.Put(ctx, []byte(k), []byte(k)))
	}
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := b.Begin(ctx, ReadCommitted)
	it, err := txn2.Scan(ctx, []byte("a"), []byte("d"), 0, false)
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemBackendIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	txn, _ := b.Begin(ctx, ReadCommitted)
	v1, err := txn.Increment(ctx, []byte("seq"), 1)
	require.NoError(t, err)
	v2, err := txn.Increment(ctx, []byte("seq"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)
}

// Write-write conflicts must surface as a retryable ConflictError under
// RepeatableRead/Serializable (spec §6 "commit returns an error
// distinguishable between write conflict and fatal").
func TestMemBackendSerializableConflict(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	seed, _ := b.Begin(ctx, ReadCommitted)
	require.NoError(t, seed.Put(ctx, []byte("k"), []byte("0")))
	require.NoError(t, seed.Commit(ctx))

	t1, _ := b.Begin(ctx, Serializable)
	t2, _ := b.Begin(ctx, Serializable)

	_, _, err := t1.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.NoError(t, t1.Put(ctx, []byte("k"), []byte("1")))
	require.NoError(t, t1.Commit(ctx))

	_, _, err = t2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.NoError(t, t2.Put(ctx, []byte("k"), []byte("2")))
	err = t2.Commit(ctx)
	require.Error(t, err)
	var confErr *ConflictError
	assert.ErrorAs(t, err, &confErr)
}
