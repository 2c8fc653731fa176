package exec

import (
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/eval"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// cteBinding is one materialized CTE: a row set plus the column names it
// exposes to the rest of the query (the CTE's own Columns alias list
// takes precedence over the underlying query's target list names).
type cteBinding struct {
	rows []*eval.Row
}

// planScope carries everything a nested SELECT evaluation needs beyond
// the statement itself: the CTEs visible at this nesting level and an
// optional correlated outer row (non-nil only while evaluating a
// correlated subquery's body).
type planScope struct {
	ctes  map[string]*cteBinding
	outer *eval.Row
}

func (e *Executor) execSelect(ec *ExecContext, s *parser.SelectStmt) (*Result, error) {
	if ec.recursionDepth > maxRecursionDepth {
		return nil, errs.New(errs.ResourceExhausted, "statement recursion depth exceeded")
	}
	return e.runSelect(ec, s, &planScope{ctes: map[string]*cteBinding{}})
}

func (e *Executor) runSelect(ec *ExecContext, s *parser.SelectStmt, scope *planScope) (*Result, error) {
	if len(s.With) > 0 {
		child := &planScope{ctes: cloneCTEs(scope.ctes), outer: scope.outer}
		for _, cte := range s.With {
			var rows []*eval.Row
			var err error
			if cte.Recursive {
				rows, err = e.evalRecursiveCTE(ec, cte, child)
			} else {
				rows, err = e.materializeQuery(ec, cte.Query, child)
			}
			if err != nil {
				return nil, err
			}
			child.ctes[cte.Name] = &cteBinding{rows: aliasRows(rows, cte.Name, cte.Columns)}
		}
		scope = child
	}

	if s.SetOp != parser.SetOpNone {
		return e.runSetOp(ec, s, scope)
	}

	rows, err := e.resolveFromList(ec, s.From, scope)
	if err != nil {
		return nil, err
	}

	if s.Where != nil {
		rows, err = e.filterRows(ec, rows, s.Where, scope)
		if err != nil {
			return nil, err
		}
	}

	rows, planned, err := e.groupAndWindow(ec, s, rows, scope)
	if err != nil {
		return nil, err
	}

	result, err := e.project(ec, planned, rows, scope)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// materializeQuery fully evaluates q (e.g. a non-recursive CTE or a FROM
// subquery) and returns its rows re-bound with unqualified column names
// taken from the projection (spec §4.5 "CTEs materialize once").
func (e *Executor) materializeQuery(ec *ExecContext, q *parser.SelectStmt, scope *planScope) ([]*eval.Row, error) {
	res, err := e.runSelect(ec, q, scope)
	if err != nil {
		return nil, err
	}
	out := make([]*eval.Row, len(res.Rows))
	cols := make([]eval.ColumnName, len(res.Columns))
	for i, c := range res.Columns {
		cols[i] = eval.ColumnName{Name: c}
	}
	for i, r := range res.Rows {
		out[i] = &eval.Row{Columns: cols, Values: r}
	}
	return out, nil
}

func aliasRows(rows []*eval.Row, table string, columns []string) []*eval.Row {
	out := make([]*eval.Row, len(rows))
	for i, r := range rows {
		cols := make([]eval.ColumnName, len(r.Columns))
		for j := range r.Columns {
			name := r.Columns[j].Name
			if j < len(columns) {
				name = columns[j]
			}
			cols[j] = eval.ColumnName{Table: table, Name: name}
		}
		out[i] = &eval.Row{Columns: cols, Values: r.Values}
	}
	return out
}

func cloneCTEs(in map[string]*cteBinding) map[string]*cteBinding {
	out := make(map[string]*cteBinding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// evalRecursiveCTE iterates the non-recursive term, then the recursive
// term against the prior round's working set, to fixpoint: UNION dedups
// the accumulated rows against everything seen so far, UNION ALL simply
// appends (spec §4.5 "recursive CTEs ... bounded by maxRecursionDepth").
func (e *Executor) evalRecursiveCTE(ec *ExecContext, cte parser.CTE, scope *planScope) ([]*eval.Row, error) {
	q := cte.Query
	if q.SetOp != parser.SetOpUnion && q.SetOp != parser.SetOpUnionAll {
		return nil, errs.New(errs.FeatureNotSupported, "recursive CTE %q must be a UNION [ALL] of a base and recursive term", cte.Name)
	}
	dedup := q.SetOp == parser.SetOpUnion

	base, err := e.materializeQuery(ec, q.Left, scope)
	if err != nil {
		return nil, err
	}
	var all []*eval.Row
	seen := map[string]bool{}
	addRows := func(rows []*eval.Row) []*eval.Row {
		var fresh []*eval.Row
		for _, r := range rows {
			if dedup {
				key := rowDedupKey(r.Values)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			all = append(all, r)
			fresh = append(fresh, r)
		}
		return fresh
	}
	working := addRows(base)

	for iter := 0; len(working) > 0; iter++ {
		if iter >= maxRecursionDepth {
			return nil, errs.New(errs.ResourceExhausted, "recursive CTE %q exceeded max iteration depth", cte.Name)
		}
		child := &planScope{ctes: cloneCTEs(scope.ctes), outer: scope.outer}
		child.ctes[cte.Name] = &cteBinding{rows: aliasRows(working, cte.Name, cte.Columns)}
		next, err := e.materializeQuery(ec, q.Right, child)
		if err != nil {
			return nil, err
		}
		working = addRows(next)
	}
	return all, nil
}

func rowDedupKey(vals []value.Value) string {
	var b []byte
	for _, v := range vals {
		b = append(b, []byte(v.String())...)
		b = append(b, 0)
	}
	return string(b)
}

func (e *Executor) runSetOp(ec *ExecContext, s *parser.SelectStmt, scope *planScope) (*Result, error) {
	left, err := e.runSelect(ec, s.Left, scope)
	if err != nil {
		return nil, err
	}
	right, err := e.runSelect(ec, s.Right, scope)
	if err != nil {
		return nil, err
	}
	var rows [][]value.Value
	switch s.SetOp {
	case parser.SetOpUnion:
		rows = dedupRows(append(append([][]value.Value{}, left.Rows...), right.Rows...))
	case parser.SetOpUnionAll:
		rows = append(append([][]value.Value{}, left.Rows...), right.Rows...)
	case parser.SetOpIntersect:
		rows = intersectRows(left.Rows, right.Rows)
	case parser.SetOpExcept:
		rows = exceptRows(left.Rows, right.Rows)
	}
	return &Result{Columns: left.Columns, Rows: rows}, nil
}

func dedupRows(rows [][]value.Value) [][]value.Value {
	seen := map[string]bool{}
	var out [][]value.Value
	for _, r := range rows {
		k := rowDedupKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func intersectRows(left, right [][]value.Value) [][]value.Value {
	rset := map[string]bool{}
	for _, r := range right {
		rset[rowDedupKey(r)] = true
	}
	seen := map[string]bool{}
	var out [][]value.Value
	for _, r := range left {
		k := rowDedupKey(r)
		if rset[k] && !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}

func exceptRows(left, right [][]value.Value) [][]value.Value {
	rset := map[string]bool{}
	for _, r := range right {
		rset[rowDedupKey(r)] = true
	}
	seen := map[string]bool{}
	var out [][]value.Value
	for _, r := range left {
		k := rowDedupKey(r)
		if rset[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func (e *Executor) filterRows(ec *ExecContext, rows []*eval.Row, where parser.Expr, scope *planScope) ([]*eval.Row, error) {
	var out []*eval.Row
	for _, r := range rows {
		v, err := e.evalRow(ec, r, where, scope)
		if err != nil {
			return nil, err
		}
		ok, isNull := v.Truthy()
		if !isNull && ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// evalRow evaluates expr against one row, merging scope.outer's columns
// in behind the row's own (inner scope shadows outer, per SQL's nested
// scoping rule) so a correlated subquery's expressions can see both.
func (e *Executor) evalRow(ec *ExecContext, r *eval.Row, expr parser.Expr, scope *planScope) (value.Value, error) {
	bound := r
	if scope.outer != nil {
		bound = &eval.Row{
			Columns: append(append([]eval.ColumnName{}, r.Columns...), scope.outer.Columns...),
			Values:  append(append([]value.Value{}, r.Values...), scope.outer.Values...),
		}
	}
	ctx := &eval.Context{
		Row:           bound,
		Params:        ec.Params,
		StatementTime: ec.StatementTime,
		Subquery:      e.subqueryRunner(ec, bound, scope),
	}
	return eval.Eval(ctx, expr)
}

// subqueryRunner implements eval.SubqueryRunner for the given outer
// binding, so a correlated scalar/EXISTS/IN subquery sees the enclosing
// row's columns while its own FROM/WHERE resolve normally.
func (e *Executor) subqueryRunner(ec *ExecContext, outer *eval.Row, scope *planScope) eval.SubqueryRunner {
	return func(q *parser.SelectStmt, _ *eval.Row) ([][]value.Value, error) {
		if ec.recursionDepth+1 > maxRecursionDepth {
			return nil, errs.New(errs.ResourceExhausted, "subquery nesting depth exceeded")
		}
		childEC := *ec
		childEC.recursionDepth = ec.recursionDepth + 1
		childScope := &planScope{ctes: scope.ctes, outer: outer}
		res, err := e.runSelect(&childEC, q, childScope)
		if err != nil {
			return nil, err
		}
		return res.Rows, nil
	}
}
