package exec

import (
	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/eval"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// resolveFromList resolves every comma-separated FROM item and takes
// their cross product (spec §4.5's default join when no explicit JOIN
// condition connects two items).
func (e *Executor) resolveFromList(ec *ExecContext, items []parser.FromItem, scope *planScope) ([]*eval.Row, error) {
	if len(items) == 0 {
		return []*eval.Row{{}}, nil // a FROM-less SELECT has exactly one empty row
	}
	rows, err := e.resolveFromItem(ec, items[0], scope)
	if err != nil {
		return nil, err
	}
	for _, item := range items[1:] {
		next, err := e.resolveFromItem(ec, item, scope)
		if err != nil {
			return nil, err
		}
		rows = crossJoin(rows, next)
	}
	return rows, nil
}

func (e *Executor) resolveFromItem(ec *ExecContext, f parser.FromItem, scope *planScope) ([]*eval.Row, error) {
	if f.Join != nil {
		return e.resolveJoin(ec, f.Join, scope)
	}
	if f.Subquery != nil {
		rows, err := e.materializeQuery(ec, f.Subquery, scope)
		if err != nil {
			return nil, err
		}
		if f.Alias != "" {
			rows = aliasRows(rows, f.Alias, nil)
		}
		return rows, nil
	}
	if f.Schema == "" {
		if cte, ok := scope.ctes[f.Table]; ok {
			alias := f.Alias
			if alias == "" {
				alias = f.Table
			}
			return aliasRowsKeepNames(cte.rows, alias), nil
		}
	}
	if f.Schema != "" && catalog.IsVirtualSchema(f.Schema) {
		cols, rows, ok := e.Catalog.VirtualTable(f.Schema, f.Table)
		if !ok {
			return nil, errs.New(errs.UndefinedTable, "relation %q does not exist", f.Schema+"."+f.Table)
		}
		alias := f.Alias
		if alias == "" {
			alias = f.Table
		}
		return virtualRows(cols, rows, alias), nil
	}
	if v, ok := e.Catalog.LookupView(schemaOrResolve(e, ec, f.Schema, f.Table), f.Table); ok {
		return e.resolveView(ec, v, f.Alias, scope)
	}
	t, err := e.resolveTable(ec, f.Schema, f.Table)
	if err != nil {
		return nil, err
	}
	return e.collectTableRows(ec, t, f.Alias)
}

func schemaOrResolve(e *Executor, ec *ExecContext, schema, name string) string {
	if schema != "" {
		return schema
	}
	s, ok := e.Catalog.Resolve(name, ec.SearchPath)
	if !ok {
		return searchPathDefault(ec)
	}
	return s
}

func (e *Executor) resolveView(ec *ExecContext, v *catalog.View, alias string, scope *planScope) ([]*eval.Row, error) {
	stmts, err := parser.Parse(v.Query)
	if err != nil {
		return nil, errs.Wrap(errs.KvBackendError, err, "reparse view definition for %s.%s", v.Schema, v.Name)
	}
	sel, ok := stmts[0].(*parser.SelectStmt)
	if !ok {
		return nil, errs.New(errs.FeatureNotSupported, "view %s.%s does not wrap a SELECT", v.Schema, v.Name)
	}
	rows, err := e.materializeQuery(ec, sel, scope)
	if err != nil {
		return nil, err
	}
	name := alias
	if name == "" {
		name = v.Name
	}
	return aliasRowsKeepNames(rows, name), nil
}

// virtualRows wraps one of internal/catalog's synthesized
// information_schema/pg_catalog result sets as eval.Rows addressed
// under table (its alias or bare name), the same shape any other FROM
// item produces.
func virtualRows(cols []string, data [][]value.Value, table string) []*eval.Row {
	names := make([]eval.ColumnName, len(cols))
	for i, c := range cols {
		names[i] = eval.ColumnName{Table: table, Name: c}
	}
	out := make([]*eval.Row, len(data))
	for i, vals := range data {
		out[i] = &eval.Row{Columns: names, Values: vals}
	}
	return out
}

func aliasRowsKeepNames(rows []*eval.Row, table string) []*eval.Row {
	out := make([]*eval.Row, len(rows))
	for i, r := range rows {
		cols := make([]eval.ColumnName, len(r.Columns))
		for j, c := range r.Columns {
			cols[j] = eval.ColumnName{Table: table, Name: c.Name}
		}
		out[i] = &eval.Row{Columns: cols, Values: r.Values}
	}
	return out
}

func (e *Executor) resolveJoin(ec *ExecContext, j *parser.JoinItem, scope *planScope) ([]*eval.Row, error) {
	left, err := e.resolveFromItem(ec, *j.Left, scope)
	if err != nil {
		return nil, err
	}
	right, err := e.resolveFromItem(ec, *j.Right, scope)
	if err != nil {
		return nil, err
	}

	cond := j.On
	if cond == nil && len(j.Using) > 0 {
		cond = usingCondition(j.Using, j.Left, j.Right)
	}

	switch j.Kind {
	case parser.JoinCross:
		return crossJoin(left, right), nil
	case parser.JoinInner:
		return nestedLoopJoin(e, ec, left, right, cond, scope, false, false)
	case parser.JoinLeft, parser.JoinLateral:
		return nestedLoopJoin(e, ec, left, right, cond, scope, true, false)
	case parser.JoinRight:
		return nestedLoopJoin(e, ec, right, left, cond, scope, true, false)
	case parser.JoinFull:
		return nestedLoopJoin(e, ec, left, right, cond, scope, true, true)
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported join kind")
	}
}

// usingCondition builds an equivalent ON expression for JOIN ... USING
// (cols): each col must be equal across both sides, each reference
// qualified by its side's alias or table name (left unqualified when that
// side is a nested join or an unaliased subquery).
func usingCondition(cols []string, left, right *parser.FromItem) parser.Expr {
	lname, rname := left.Alias, right.Alias
	if lname == "" {
		lname = left.Table
	}
	if rname == "" {
		rname = right.Table
	}
	var cond parser.Expr
	for _, c := range cols {
		eq := &parser.BinaryExpr{
			Op:   "=",
			Left: &parser.ColumnRef{Table: lname, Column: c},
			Right: &parser.ColumnRef{Table: rname, Column: c},
		}
		if cond == nil {
			cond = eq
		} else {
			cond = &parser.BinaryExpr{Op: "AND", Left: cond, Right: eq}
		}
	}
	return cond
}

func crossJoin(left, right []*eval.Row) []*eval.Row {
	out := make([]*eval.Row, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			out = append(out, mergeRows(l, r))
		}
	}
	return out
}

func mergeRows(l, r *eval.Row) *eval.Row {
	return &eval.Row{
		Columns: append(append([]eval.ColumnName{}, l.Columns...), r.Columns...),
		Values:  append(append([]value.Value{}, l.Values...), r.Values...),
	}
}

func nullRow(cols []eval.ColumnName) *eval.Row {
	vals := make([]value.Value, len(cols))
	for i := range vals {
		vals[i] = value.Null(value.TypeNull)
	}
	return &eval.Row{Columns: cols, Values: vals}
}

// nestedLoopJoin evaluates cond for every (left, right) pair; outerLeft
// pads a left row with NULLs when it matched nothing (LEFT/FULL),
// outerRight does the same for unmatched right rows (FULL).
func nestedLoopJoin(e *Executor, ec *ExecContext, left, right []*eval.Row, cond parser.Expr, scope *planScope, outerLeft, outerRight bool) ([]*eval.Row, error) {
	var rightCols []eval.ColumnName
	if len(right) > 0 {
		rightCols = right[0].Columns
	}
	var leftCols []eval.ColumnName
	if len(left) > 0 {
		leftCols = left[0].Columns
	}

	rightMatched := make([]bool, len(right))
	var out []*eval.Row
	for _, l := range left {
		matched := false
		for ri, r := range right {
			combined := mergeRows(l, r)
			if cond != nil {
				v, err := e.evalRow(ec, combined, cond, scope)
				if err != nil {
					return nil, err
				}
				ok, isNull := v.Truthy()
				if isNull || !ok {
					continue
				}
			}
			matched = true
			rightMatched[ri] = true
			out = append(out, combined)
		}
		if !matched && outerLeft {
			out = append(out, mergeRows(l, nullRow(rightCols)))
		}
	}
	if outerRight {
		for ri, r := range right {
			if !rightMatched[ri] {
				out = append(out, mergeRows(nullRow(leftCols), r))
			}
		}
	}
	return out, nil
}
