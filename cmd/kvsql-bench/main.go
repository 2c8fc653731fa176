// Command kvsql-bench drives an in-process engine through a batch of
// faked INSERT/SELECT statements and reports elapsed time, the way the
// teacher's cmd/pg_lineage_demo drives its pipeline against one query
// supplied via flags and prints a summary - here against a generated
// workload instead of a single analyzed query.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/session"
	"github.com/kvsql/kvsql/pkg/fake"
)

func main() {
	rows := flag.Int("rows", 1000, "number of rows to insert")
	schema := flag.String("schema", "public", "schema to create the bench table in")
	table := flag.String("table", "bench", "bench table name")
	flag.Parse()

	ctx := context.Background()
	backend := kv.NewMemBackend()
	cat := catalog.New(backend)

	txn, err := backend.Begin(ctx, kv.ReadCommitted)
	if err != nil {
		fmt.Println("begin:", err)
		return
	}
	if err := cat.Refresh(ctx, txn); err != nil {
		fmt.Println("refresh:", err)
		return
	}
	if err := txn.Commit(ctx); err != nil {
		fmt.Println("commit:", err)
		return
	}

	mgr := session.NewManager(backend, cat)
	sess := mgr.Open("bench", "bench_user", "bench")

	createSQL := fmt.Sprintf(
		"CREATE TABLE %s.%s (id int8 PRIMARY KEY, name text, email text, score float8, active bool)",
		*schema, *table)
	if err := run(ctx, sess, createSQL); err != nil {
		fmt.Println("create table:", err)
		return
	}

	start := time.Now()
	for _, row := range fake.Rows(*rows) {
		if err := run(ctx, sess, fake.InsertSQL(*schema, *table, row)); err != nil {
			fmt.Println("insert:", err)
			return
		}
	}
	inserted := time.Since(start)

	start = time.Now()
	if err := run(ctx, sess, fmt.Sprintf("SELECT count(*) FROM %s.%s WHERE active", *schema, *table)); err != nil {
		fmt.Println("select:", err)
		return
	}
	selected := time.Since(start)

	fmt.Printf("inserted %d rows in %v (%v/row)\n", *rows, inserted, inserted/time.Duration(*rows))
	fmt.Printf("aggregate select in %v\n", selected)
}

func run(ctx context.Context, sess *session.Session, sql string) error {
	stmts, err := parser.Parse(sql)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := sess.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
