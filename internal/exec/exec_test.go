package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/exec"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/session"
)

// newSession boots a fresh memkv-backed engine and one session, the
// harness every test in this file drives statements through.
func newSession(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	backend := kv.NewMemBackend()
	cat := catalog.New(backend)

	txn, err := backend.Begin(ctx, kv.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, cat.Refresh(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	mgr := session.NewManager(backend, cat)
	return mgr.Open("test", "tester", "testdb")
}

// run executes sql (a single statement) and returns its Result.
func run(t *testing.T, sess *session.Session, sql string) *exec.Result {
	t.Helper()
	stmts, err := parser.Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	res, err := sess.Exec(context.Background(), stmts[0])
	require.NoError(t, err)
	return res
}

// runErr executes sql and asserts it fails, returning the error.
func runErr(t *testing.T, sess *session.Session, sql string) error {
	t.Helper()
	stmts, err := parser.Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	_, err = sess.Exec(context.Background(), stmts[0])
	require.Error(t, err)
	return err
}

func TestBasicSelectAndFilter(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, name text, score float8)`)
	run(t, sess, `INSERT INTO t (id, name, score) VALUES (1, 'alice', 10.5)`)
	run(t, sess, `INSERT INTO t (id, name, score) VALUES (2, 'bob', 3.25)`)
	run(t, sess, `INSERT INTO t (id, name, score) VALUES (3, 'carol', 7.0)`)

	res := run(t, sess, `SELECT name FROM t WHERE score > 5 ORDER BY score DESC`)
	assert.Equal(t, []string{"name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0][0].Str)
	assert.Equal(t, "carol", res.Rows[1][0].Str)
}

func TestInsertUpdateDelete(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, name text)`)
	run(t, sess, `INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')`)

	upd := run(t, sess, `UPDATE t SET name = 'z' WHERE id = 2`)
	assert.Equal(t, int64(1), upd.RowsUpdated)

	res := run(t, sess, `SELECT name FROM t WHERE id = 2`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "z", res.Rows[0][0].Str)

	del := run(t, sess, `DELETE FROM t WHERE id = 1`)
	assert.Equal(t, int64(1), del.RowsDeleted)

	res = run(t, sess, `SELECT id FROM t ORDER BY id`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(2), res.Rows[0][0].Int)
	assert.Equal(t, int64(3), res.Rows[1][0].Int)
}

func TestOnConflictUpsert(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, n int8)`)
	run(t, sess, `INSERT INTO t (id, n) VALUES (1, 1)`)

	res := run(t, sess, `INSERT INTO t (id, n) VALUES (1, 99) ON CONFLICT (id) DO UPDATE SET n = excluded.n`)
	assert.Equal(t, int64(0), res.RowsCreated)
	assert.Equal(t, int64(1), res.RowsUpdated)

	got := run(t, sess, `SELECT n FROM t WHERE id = 1`)
	assert.Equal(t, int64(99), got.Rows[0][0].Int)

	res = run(t, sess, `INSERT INTO t (id, n) VALUES (2, 5) ON CONFLICT (id) DO NOTHING`)
	assert.Equal(t, int64(1), res.RowsCreated)

	res = run(t, sess, `INSERT INTO t (id, n) VALUES (2, 500) ON CONFLICT (id) DO NOTHING`)
	assert.Equal(t, int64(0), res.RowsCreated)
	assert.Equal(t, int64(0), res.RowsUpdated)
}

func TestJoinKinds(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE a (id int8 PRIMARY KEY, label text)`)
	run(t, sess, `CREATE TABLE b (id int8 PRIMARY KEY, a_id int8, note text)`)
	run(t, sess, `INSERT INTO a (id, label) VALUES (1, 'x'), (2, 'y')`)
	run(t, sess, `INSERT INTO b (id, a_id, note) VALUES (10, 1, 'n1')`)

	inner := run(t, sess, `SELECT a.label, b.note FROM a JOIN b ON a.id = b.a_id`)
	require.Len(t, inner.Rows, 1)
	assert.Equal(t, "x", inner.Rows[0][0].Str)

	left := run(t, sess, `SELECT a.label, b.note FROM a LEFT JOIN b ON a.id = b.a_id ORDER BY a.label`)
	require.Len(t, left.Rows, 2)
	assert.Equal(t, "x", left.Rows[0][0].Str)
	assert.Equal(t, "n1", left.Rows[0][1].Str)
	assert.Equal(t, "y", left.Rows[1][0].Str)
	assert.True(t, left.Rows[1][1].Null)
}

func TestGroupByHavingAggregates(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE sales (region text, amount int8)`)
	run(t, sess, `INSERT INTO sales (region, amount) VALUES ('east', 10), ('east', 20), ('west', 5)`)

	res := run(t, sess, `SELECT region, sum(amount) AS total, count(*) AS n FROM sales GROUP BY region HAVING sum(amount) > 10 ORDER BY region`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "east", res.Rows[0][0].Str)
	assert.Equal(t, "30", res.Rows[0][1].Dec.String())
}

func TestScalarAggregateOverEmptySet(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, n int8)`)

	res := run(t, sess, `SELECT count(*), sum(n) FROM t`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(0), res.Rows[0][0].Int)
	assert.True(t, res.Rows[0][1].Null)
}

func TestWindowRowNumberAndLag(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, grp text, n int8)`)
	run(t, sess, `INSERT INTO t (id, grp, n) VALUES (1, 'a', 10), (2, 'a', 20), (3, 'b', 5)`)

	res := run(t, sess, `SELECT grp, n, row_number() OVER (PARTITION BY grp ORDER BY n) AS rn, lag(n) OVER (PARTITION BY grp ORDER BY n) AS prev FROM t ORDER BY grp, n`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, int64(1), res.Rows[0][2].Int)
	assert.True(t, res.Rows[0][3].Null)
	assert.Equal(t, int64(2), res.Rows[1][2].Int)
	assert.Equal(t, int64(10), res.Rows[1][3].Int)
}

func TestDistinctOn(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, grp text, n int8)`)
	run(t, sess, `INSERT INTO t (id, grp, n) VALUES (1, 'a', 5), (2, 'a', 9), (3, 'b', 1)`)

	res := run(t, sess, `SELECT DISTINCT ON (grp) grp, n FROM t ORDER BY grp, n DESC`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(9), res.Rows[0][1].Int)
	assert.Equal(t, int64(1), res.Rows[1][1].Int)
}

func TestRecursiveCTE(t *testing.T) {
	sess := newSession(t)
	res := run(t, sess, `
		WITH RECURSIVE counter(n) AS (
			SELECT 1
			UNION ALL
			SELECT n + 1 FROM counter WHERE n < 5
		)
		SELECT n FROM counter ORDER BY n`)
	require.Len(t, res.Rows, 5)
	for i, r := range res.Rows {
		assert.Equal(t, int64(i+1), r[0].Int)
	}
}

func TestCorrelatedSubquery(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE dept (id int8 PRIMARY KEY, name text)`)
	run(t, sess, `CREATE TABLE emp (id int8 PRIMARY KEY, dept_id int8, salary int8)`)
	run(t, sess, `INSERT INTO dept (id, name) VALUES (1, 'eng'), (2, 'sales')`)
	run(t, sess, `INSERT INTO emp (id, dept_id, salary) VALUES (1, 1, 100), (2, 1, 50), (3, 2, 10)`)

	res := run(t, sess, `SELECT name FROM dept d WHERE EXISTS (SELECT 1 FROM emp e WHERE e.dept_id = d.id AND e.salary > 60) ORDER BY name`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "eng", res.Rows[0][0].Str)
}

func TestForeignKeyCascade(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE parent (id int8 PRIMARY KEY)`)
	run(t, sess, `CREATE TABLE child (id int8 PRIMARY KEY, parent_id int8 REFERENCES parent(id) ON DELETE CASCADE)`)
	run(t, sess, `INSERT INTO parent (id) VALUES (1)`)
	run(t, sess, `INSERT INTO child (id, parent_id) VALUES (10, 1)`)

	run(t, sess, `DELETE FROM parent WHERE id = 1`)
	res := run(t, sess, `SELECT id FROM child`)
	assert.Len(t, res.Rows, 0)
}

func TestNotNullViolation(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE t (id int8 PRIMARY KEY, name text NOT NULL)`)
	runErr(t, sess, `INSERT INTO t (id, name) VALUES (1, NULL)`)
}

func TestUndefinedTable(t *testing.T) {
	sess := newSession(t)
	runErr(t, sess, `SELECT * FROM nope`)
}

func TestInformationSchemaIntrospection(t *testing.T) {
	sess := newSession(t)
	run(t, sess, `CREATE TABLE widgets (id int8 PRIMARY KEY, label text NOT NULL)`)

	res := run(t, sess, `SELECT table_name, table_type FROM information_schema.tables WHERE table_name = 'widgets'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "widgets", res.Rows[0][0].Str)
	assert.Equal(t, "BASE TABLE", res.Rows[0][1].Str)

	res = run(t, sess, `SELECT column_name, is_nullable FROM information_schema.columns WHERE table_name = 'widgets' ORDER BY ordinal_position`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "id", res.Rows[0][0].Str)
	assert.Equal(t, "label", res.Rows[1][0].Str)
	assert.Equal(t, "NO", res.Rows[1][1].Str)

	res = run(t, sess, `SELECT constraint_type FROM information_schema.table_constraints WHERE table_name = 'widgets'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "PRIMARY KEY", res.Rows[0][0].Str)

	res = run(t, sess, `SELECT column_name FROM information_schema.key_column_usage WHERE table_name = 'widgets'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "id", res.Rows[0][0].Str)
}

func TestPgCatalogTypeAndNamespaceStubs(t *testing.T) {
	sess := newSession(t)

	res := run(t, sess, `SELECT typname FROM pg_catalog.pg_type WHERE oid = 25`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "text", res.Rows[0][0].Str)

	res = run(t, sess, `SELECT nspname FROM pg_catalog.pg_namespace WHERE nspname = 'public'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "public", res.Rows[0][0].Str)
}
