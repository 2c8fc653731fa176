package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/parser"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ctx := context.Background()
	backend := kv.NewMemBackend()
	cat := catalog.New(backend)

	txn, err := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, cat.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	return NewManager(backend, cat)
}

func exec1(t *testing.T, sess *Session, sql string) (*Session, error) {
	t.Helper()
	stmts, err := parser.Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	_, err = sess.Exec(context.Background(), stmts[0])
	return sess, err
}

func mustExec(t *testing.T, sess *Session, sql string) {
	t.Helper()
	_, err := exec1(t, sess, sql)
	require.NoError(t, err)
}

func TestAutocommitCommitsEachStatement(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")

	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)
	assert.Equal(t, StateIdle, sess.state)

	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)
	assert.Equal(t, StateIdle, sess.state)
}

func TestExplicitTransactionCommit(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	assert.Equal(t, StateInTxn, sess.state)

	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)
	assert.Equal(t, StateInTxn, sess.state)

	mustExec(t, sess, `COMMIT`)
	assert.Equal(t, StateIdle, sess.state)

	res, err := sess.Exec(context.Background(), mustParseOne(t, `SELECT count(*) FROM t`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0].Int)
}

func TestExplicitTransactionRollback(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)
	mustExec(t, sess, `ROLLBACK`)
	assert.Equal(t, StateIdle, sess.state)

	res, err := sess.Exec(context.Background(), mustParseOne(t, `SELECT count(*) FROM t`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows[0][0].Int)
}

func TestBeginWhileInTxnIsNoOp(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	txn := sess.txn
	mustExec(t, sess, `BEGIN`)
	assert.Same(t, txn, sess.txn)
	mustExec(t, sess, `ROLLBACK`)
}

func TestErrorAbortsTransaction(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	_, err := exec1(t, sess, `SELECT * FROM nope`)
	require.Error(t, err)
	assert.Equal(t, StateAborted, sess.state)

	_, err = exec1(t, sess, `INSERT INTO t (id) VALUES (1)`)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.TransactionState, kind)

	mustExec(t, sess, `ROLLBACK`)
	assert.Equal(t, StateIdle, sess.state)
}

func TestCommitWhileAbortedImplicitlyRollsBack(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)
	_, err := exec1(t, sess, `SELECT * FROM nope`)
	require.Error(t, err)
	assert.Equal(t, StateAborted, sess.state)

	mustExec(t, sess, `COMMIT`)
	assert.Equal(t, StateIdle, sess.state)

	res, err := sess.Exec(context.Background(), mustParseOne(t, `SELECT count(*) FROM t`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows[0][0].Int)
}

func TestSavepointReleaseAndRollbackTo(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)
	mustExec(t, sess, `SAVEPOINT sp1`)
	mustExec(t, sess, `INSERT INTO t (id) VALUES (2)`)
	require.Len(t, sess.savepoints, 1)

	mustExec(t, sess, `ROLLBACK TO sp1`)
	assert.Equal(t, StateInTxn, sess.state)
	require.Len(t, sess.savepoints, 1)

	mustExec(t, sess, `SAVEPOINT sp2`)
	mustExec(t, sess, `RELEASE sp2`)
	assert.Len(t, sess.savepoints, 1)

	mustExec(t, sess, `COMMIT`)

	res, err := sess.Exec(context.Background(), mustParseOne(t, `SELECT count(*) FROM t`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0].Int)
}

func TestRollbackToSavepointEscapesAborted(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	mustExec(t, sess, `BEGIN`)
	mustExec(t, sess, `SAVEPOINT sp1`)
	mustExec(t, sess, `INSERT INTO t (id) VALUES (1)`)

	_, err := exec1(t, sess, `SELECT * FROM nope`)
	require.Error(t, err)
	assert.Equal(t, StateAborted, sess.state)

	mustExec(t, sess, `ROLLBACK TO sp1`)
	assert.Equal(t, StateInTxn, sess.state)

	mustExec(t, sess, `COMMIT`)
}

func TestUnknownSavepointNameErrors(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `BEGIN`)
	_, err := exec1(t, sess, `RELEASE nope`)
	require.Error(t, err)
	mustExec(t, sess, `ROLLBACK`)
}

func TestSetSearchPath(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `SET search_path = 'foo, bar'`)
	assert.Equal(t, []string{"foo", "bar"}, sess.searchPath)
}

func TestSimpleQueryBatchStopsOnFirstError(t *testing.T) {
	mgr := newTestManager(t)
	sess := mgr.Open("s1", "u", "db")
	mustExec(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY)`)

	_, _, err := sess.SimpleQuery(context.Background(), `INSERT INTO t (id) VALUES (1); SELECT * FROM nope; INSERT INTO t (id) VALUES (2)`)
	require.Error(t, err)

	res, err := sess.Exec(context.Background(), mustParseOne(t, `SELECT count(*) FROM t`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0].Int)
}

func mustParseOne(t *testing.T, sql string) parser.Statement {
	t.Helper()
	stmts, err := parser.Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	return stmts[0]
}
