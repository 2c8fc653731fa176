// Package exec is the statement executor (C6, spec §4.5): dispatches a
// parsed statement to DDL, DML, or the SELECT pipeline, pulling tuples via
// internal/codec from a kv.Txn and evaluating predicates/projections
// through internal/eval and internal/agg.
//
// Grounded on the teacher's pkg/pg_lineage/rewrite_pks.go for the
// PK-aware row addressing idiom (there: rewrite a SELECT to expose a
// synthetic PK column for a UI; here: use the resolved PK to address the
// KV row during UPDATE/DELETE) and internal/reactive/refresh.go for the
// bounded iterate-to-fixpoint shape reused for recursive CTEs.
package exec

import (
	"context"
	"time"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// ExecContext carries everything one statement's execution needs beyond
// the AST itself. internal/session builds one of these per statement and
// owns its lifetime; exec never retains it past Exec's return.
type ExecContext struct {
	Ctx           context.Context
	Txn           kv.Txn
	SearchPath    []string
	CurrentUser   string
	StatementTime time.Time

	// Params holds a prepared statement's bind values, resolved by
	// internal/session before Exec is called, addressed by parser.ParamRef's
	// 1-based Ordinal (Params[0] is $1).
	Params []value.Value

	// recursionDepth guards recursive CTE fixpoint iteration and
	// correlated-subquery nesting against runaway plans.
	recursionDepth int
}

const maxRecursionDepth = 10000

// Result is what every statement kind produces; RowsCreated/RowsUpdated
// distinguish an upsert's insert-vs-update outcome for ON CONFLICT DO
// UPDATE (spec §9 "upsert's created flag semantics"), since a single
// value.Value affected-row count can't carry that distinction.
type Result struct {
	Columns     []string
	Rows        [][]value.Value
	RowsCreated int64
	RowsUpdated int64
	RowsDeleted int64
	Tag         string
}

// Executor holds the catalog handle every statement resolves identifiers
// against; it is stateless otherwise; all per-statement state lives in
// ExecContext and the Result it returns.
type Executor struct {
	Catalog *catalog.Cache
}

func New(cat *catalog.Cache) *Executor {
	return &Executor{Catalog: cat}
}

// Exec dispatches stmt to the right handler. TxnControlStmt and SetStmt
// are intercepted by internal/session before reaching here; seeing one
// here means the session layer has a bug, so it is reported as such
// rather than silently ignored.
func (e *Executor) Exec(ec *ExecContext, stmt parser.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.SelectStmt:
		return e.execSelect(ec, s)
	case *parser.InsertStmt:
		return e.execInsert(ec, s)
	case *parser.UpdateStmt:
		return e.execUpdate(ec, s)
	case *parser.DeleteStmt:
		return e.execDelete(ec, s)
	case *parser.CreateTableStmt:
		return e.execCreateTable(ec, s)
	case *parser.DropTableStmt:
		return e.execDropTable(ec, s)
	case *parser.CreateIndexStmt:
		return e.execCreateIndex(ec, s)
	case *parser.CreateViewStmt:
		return e.execCreateView(ec, s)
	case *parser.DropViewStmt:
		return e.execDropView(ec, s)
	case *parser.TxnControlStmt, *parser.SetStmt:
		return nil, errs.New(errs.FeatureNotSupported, "transaction-control and SET statements must be handled by the session layer")
	case *parser.RawPassthroughStmt:
		return nil, errs.New(errs.FeatureNotSupported, "statement kind %q is not implemented", s.Kind)
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unrecognized statement")
	}
}

// resolveTable resolves an unqualified or qualified table name against
// search_path, per spec §4.2.
func (e *Executor) resolveTable(ec *ExecContext, schema, name string) (*catalog.Table, error) {
	if schema == "" {
		s, ok := e.Catalog.Resolve(name, ec.SearchPath)
		if !ok {
			return nil, errs.New(errs.UndefinedTable, "relation %q does not exist", name)
		}
		schema = s
	}
	t, ok := e.Catalog.LookupTable(schema, name)
	if !ok {
		return nil, errs.New(errs.UndefinedTable, "relation %q does not exist", name)
	}
	return t, nil
}
