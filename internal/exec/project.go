package exec

import (
	"sort"
	"strings"

	"github.com/kvsql/kvsql/internal/eval"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// project evaluates s.Targets against rows, applies DISTINCT/DISTINCT ON,
// ORDER BY, and LIMIT/OFFSET, and assembles the final Result. s is the
// statement groupAndWindow returned, with any aggregate/window FuncCall
// already rewritten to a synthetic ColumnRef.
func (e *Executor) project(ec *ExecContext, s *parser.SelectStmt, rows []*eval.Row, scope *planScope) (*Result, error) {
	colNames, colExprs := expandTargets(s.Targets, rows)
	sortExprs, sortDesc, sortNullsFirst := orderBySpecs(s.OrderBy)

	type prow struct {
		out  []value.Value
		sort []value.Value
		dist []value.Value
	}
	prows := make([]prow, 0, len(rows))
	for _, r := range rows {
		out := make([]value.Value, len(colExprs))
		for i, ce := range colExprs {
			v, err := e.evalRow(ec, r, ce, scope)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		sortVals := make([]value.Value, len(sortExprs))
		for i, se := range sortExprs {
			v, err := e.evalRow(ec, r, se, scope)
			if err != nil {
				return nil, err
			}
			sortVals[i] = v
		}
		var distVals []value.Value
		if len(s.DistinctOn) > 0 {
			distVals = make([]value.Value, len(s.DistinctOn))
			for i, de := range s.DistinctOn {
				v, err := e.evalRow(ec, r, de, scope)
				if err != nil {
					return nil, err
				}
				distVals[i] = v
			}
		}
		prows = append(prows, prow{out: out, sort: sortVals, dist: distVals})
	}

	if len(sortExprs) > 0 {
		keys := make([]value.SortKey, len(sortExprs))
		for i := range keys {
			keys[i] = value.SortKey{Col: i, Desc: sortDesc[i], NullsFirst: sortNullsFirst[i]}
		}
		sort.SliceStable(prows, func(a, b int) bool {
			return value.Less(prows[a].sort, prows[b].sort, keys)
		})
	}

	var result [][]value.Value
	switch {
	case len(s.DistinctOn) > 0:
		seen := map[string]bool{}
		for _, pr := range prows {
			k := rowDedupKey(pr.dist)
			if seen[k] {
				continue
			}
			seen[k] = true
			result = append(result, pr.out)
		}
	case s.Distinct:
		seen := map[string]bool{}
		for _, pr := range prows {
			k := rowDedupKey(pr.out)
			if seen[k] {
				continue
			}
			seen[k] = true
			result = append(result, pr.out)
		}
	default:
		result = make([][]value.Value, len(prows))
		for i, pr := range prows {
			result[i] = pr.out
		}
	}

	result, err := e.applyLimitOffset(ec, s, result, rows, scope)
	if err != nil {
		return nil, err
	}

	return &Result{Columns: colNames, Rows: result}, nil
}

func (e *Executor) applyLimitOffset(ec *ExecContext, s *parser.SelectStmt, rows [][]value.Value, srcRows []*eval.Row, scope *planScope) ([][]value.Value, error) {
	if s.Offset == nil && s.Limit == nil {
		return rows, nil
	}
	rep := &eval.Row{}
	if len(srcRows) > 0 {
		rep = srcRows[0]
	}
	if s.Offset != nil {
		v, err := e.evalRow(ec, rep, s.Offset, scope)
		if err != nil {
			return nil, err
		}
		offset := int(v.Int)
		if offset < 0 {
			offset = 0
		}
		if offset > len(rows) {
			offset = len(rows)
		}
		rows = rows[offset:]
	}
	if s.Limit != nil {
		v, err := e.evalRow(ec, rep, s.Limit, scope)
		if err != nil {
			return nil, err
		}
		limit := int(v.Int)
		if limit < 0 {
			limit = 0
		}
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}
	return rows, nil
}

// expandTargets turns a target list into parallel output-column names and
// the expressions that produce them, expanding SELECT */t.* against the
// schema of rows' first entry (a star against zero result rows expands to
// zero columns, since no row carries the schema to expand against).
func expandTargets(targets []parser.SelectItem, rows []*eval.Row) ([]string, []parser.Expr) {
	var cols []eval.ColumnName
	if len(rows) > 0 {
		cols = rows[0].Columns
	}
	var names []string
	var exprs []parser.Expr
	for _, t := range targets {
		if t.Star {
			for _, c := range cols {
				if t.Table != "" && c.Table != t.Table {
					continue
				}
				if c.Name == implicitRowidColumn {
					continue
				}
				names = append(names, c.Name)
				exprs = append(exprs, &parser.ColumnRef{Table: c.Table, Column: c.Name})
			}
			continue
		}
		name := t.Alias
		if name == "" {
			name = columnLabel(t.Expr)
		}
		names = append(names, name)
		exprs = append(exprs, t.Expr)
	}
	return names, exprs
}

func columnLabel(e parser.Expr) string {
	switch x := e.(type) {
	case *parser.ColumnRef:
		return x.Column
	case *parser.FuncCall:
		return strings.ToLower(x.Name)
	default:
		return "?column?"
	}
}

func orderBySpecs(items []parser.OrderItem) ([]parser.Expr, []bool, []bool) {
	exprs := make([]parser.Expr, len(items))
	desc := make([]bool, len(items))
	nullsFirst := make([]bool, len(items))
	for i, o := range items {
		exprs[i] = o.Expr
		desc[i] = o.Desc
		if o.NullsSet {
			nullsFirst[i] = o.NullsFirst
		} else {
			nullsFirst[i] = o.Desc // PostgreSQL default: NULLS LAST for ASC, NULLS FIRST for DESC
		}
	}
	return exprs, desc, nullsFirst
}
