package exec

import (
	"fmt"

	"github.com/kvsql/kvsql/internal/agg"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/eval"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// groupAndWindow resolves GROUP BY/aggregate and OVER/window calls against
// rows, returning the (possibly grouped) rows plus a rewritten statement
// whose Targets/Having/OrderBy reference the precomputed values as
// synthetic columns instead of the original FuncCall nodes, since eval
// rejects a bare aggregate or window call outside its own pass (spec §4.4).
func (e *Executor) groupAndWindow(ec *ExecContext, s *parser.SelectStmt, rows []*eval.Row, scope *planScope) ([]*eval.Row, *parser.SelectStmt, error) {
	exprs := collectStmtExprs(s)

	var aggCalls []*parser.FuncCall
	for _, x := range exprs {
		collectAggCalls(x, &aggCalls)
	}
	var winCalls []*parser.FuncCall
	for _, x := range exprs {
		collectWindowCalls(x, &winCalls)
	}

	repl := map[*parser.FuncCall]string{}
	out := rows

	if len(s.GroupBy) > 0 || len(aggCalls) > 0 {
		var err error
		out, err = e.evalGroups(ec, s, out, aggCalls, repl, scope)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(winCalls) > 0 {
		var err error
		out, err = e.evalWindows(ec, out, winCalls, repl, scope)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(repl) == 0 {
		return out, s, nil
	}
	return out, rewriteSelectStmt(s, repl), nil
}

func collectStmtExprs(s *parser.SelectStmt) []parser.Expr {
	var out []parser.Expr
	for _, t := range s.Targets {
		if t.Expr != nil {
			out = append(out, t.Expr)
		}
	}
	if s.Having != nil {
		out = append(out, s.Having)
	}
	for _, o := range s.OrderBy {
		out = append(out, o.Expr)
	}
	return out
}

func rewriteSelectStmt(s *parser.SelectStmt, repl map[*parser.FuncCall]string) *parser.SelectStmt {
	cp := *s
	targets := make([]parser.SelectItem, len(s.Targets))
	for i, t := range s.Targets {
		nt := t
		nt.Expr = substitute(t.Expr, repl)
		targets[i] = nt
	}
	cp.Targets = targets
	if s.Having != nil {
		cp.Having = substitute(s.Having, repl)
	}
	if len(s.OrderBy) > 0 {
		ob := make([]parser.OrderItem, len(s.OrderBy))
		for i, o := range s.OrderBy {
			no := o
			no.Expr = substitute(o.Expr, repl)
			ob[i] = no
		}
		cp.OrderBy = ob
	}
	return &cp
}

type rowGroup struct {
	rep  *eval.Row
	rows []*eval.Row
}

// evalGroups partitions rows by s.GroupBy (or treats all of rows as one
// global group when aggCalls is non-empty with no explicit GROUP BY),
// computes every aggCalls entry per group, and applies HAVING.
func (e *Executor) evalGroups(ec *ExecContext, s *parser.SelectStmt, rows []*eval.Row, aggCalls []*parser.FuncCall, repl map[*parser.FuncCall]string, scope *planScope) ([]*eval.Row, error) {
	var groups []*rowGroup
	if len(s.GroupBy) == 0 {
		if len(rows) == 0 {
			groups = []*rowGroup{{rep: &eval.Row{}}}
		} else {
			groups = []*rowGroup{{rep: rows[0], rows: rows}}
		}
	} else {
		index := map[string]*rowGroup{}
		var order []string
		for _, r := range rows {
			keyVals := make([]value.Value, len(s.GroupBy))
			for i, ge := range s.GroupBy {
				v, err := e.evalRow(ec, r, ge, scope)
				if err != nil {
					return nil, err
				}
				keyVals[i] = v
			}
			key := agg.GroupKey(keyVals)
			g, ok := index[key]
			if !ok {
				g = &rowGroup{rep: r}
				index[key] = g
				order = append(order, key)
			}
			g.rows = append(g.rows, r)
		}
		for _, k := range order {
			groups = append(groups, index[k])
		}
	}

	names := make([]string, len(aggCalls))
	for i, f := range aggCalls {
		names[i] = fmt.Sprintf("__agg%d__", i)
		repl[f] = names[i]
	}

	out := make([]*eval.Row, len(groups))
	for gi, g := range groups {
		cols := append([]eval.ColumnName{}, g.rep.Columns...)
		vals := append([]value.Value{}, g.rep.Values...)
		for ai, f := range aggCalls {
			v, err := e.evalAggCall(ec, f, g.rows, scope)
			if err != nil {
				return nil, err
			}
			cols = append(cols, eval.ColumnName{Name: names[ai]})
			vals = append(vals, v)
		}
		out[gi] = &eval.Row{Columns: cols, Values: vals}
	}

	if s.Having != nil {
		havingExpr := substitute(s.Having, repl)
		var filtered []*eval.Row
		for _, r := range out {
			v, err := e.evalRow(ec, r, havingExpr, scope)
			if err != nil {
				return nil, err
			}
			ok, isNull := v.Truthy()
			if !isNull && ok {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}
	return out, nil
}

func (e *Executor) evalAggCall(ec *ExecContext, f *parser.FuncCall, rows []*eval.Row, scope *planScope) (value.Value, error) {
	spec, err := aggSpecOf(f)
	if err != nil {
		return value.Value{}, err
	}
	st := agg.NewState(spec)
	for _, r := range rows {
		var v value.Value
		if f.Star {
			v = value.Bool(true)
		} else {
			if len(f.Args) == 0 {
				return value.Value{}, errs.New(errs.FeatureNotSupported, "%s requires an argument", f.Name)
			}
			v, err = e.evalRow(ec, r, f.Args[0], scope)
			if err != nil {
				return value.Value{}, err
			}
		}
		if err := st.Add(v); err != nil {
			return value.Value{}, err
		}
	}
	return st.Finish()
}

func aggSpecOf(f *parser.FuncCall) (agg.Spec, error) {
	switch f.Name {
	case "COUNT":
		if f.Star {
			return agg.Spec{Kind: agg.KindCountStar}, nil
		}
		return agg.Spec{Kind: agg.KindCount, Distinct: f.Distinct}, nil
	case "SUM":
		return agg.Spec{Kind: agg.KindSum, Distinct: f.Distinct}, nil
	case "AVG":
		return agg.Spec{Kind: agg.KindAvg, Distinct: f.Distinct}, nil
	case "MIN":
		return agg.Spec{Kind: agg.KindMin, Distinct: f.Distinct}, nil
	case "MAX":
		return agg.Spec{Kind: agg.KindMax, Distinct: f.Distinct}, nil
	case "ARRAY_AGG":
		return agg.Spec{Kind: agg.KindArrayAgg, Distinct: f.Distinct}, nil
	case "STRING_AGG":
		sep := ""
		if len(f.Args) > 1 {
			if lit, ok := f.Args[1].(*parser.Literal); ok && lit.Value.Typ == value.TypeText {
				sep = lit.Value.Str
			}
		}
		return agg.Spec{Kind: agg.KindStringAgg, Distinct: f.Distinct, Separator: sep}, nil
	default:
		return agg.Spec{}, errs.New(errs.FeatureNotSupported, "unsupported aggregate function %q", f.Name)
	}
}

// evalWindows computes every winCalls entry over rows as one partition
// set and appends a synthetic column per call; rows retains its original
// order throughout (agg.EvalWindow realigns internally).
func (e *Executor) evalWindows(ec *ExecContext, rows []*eval.Row, winCalls []*parser.FuncCall, repl map[*parser.FuncCall]string, scope *planScope) ([]*eval.Row, error) {
	n := len(rows)
	out := make([]*eval.Row, n)
	for i, r := range rows {
		out[i] = &eval.Row{
			Columns: append([]eval.ColumnName{}, r.Columns...),
			Values:  append([]value.Value{}, r.Values...),
		}
	}
	if n == 0 {
		for i, f := range winCalls {
			repl[f] = fmt.Sprintf("__win%d__", i)
		}
		return out, nil
	}

	for wi, f := range winCalls {
		name := fmt.Sprintf("__win%d__", wi)
		repl[f] = name

		pLen := len(f.Over.PartitionBy)
		oLen := len(f.Over.OrderBy)
		orderDesc := make([]bool, oLen)
		for oi, o := range f.Over.OrderBy {
			orderDesc[oi] = o.Desc
		}

		table := make([][]value.Value, n)
		for i, r := range rows {
			row := make([]value.Value, 0, pLen+oLen+1)
			for _, pe := range f.Over.PartitionBy {
				v, err := e.evalRow(ec, r, pe, scope)
				if err != nil {
					return nil, err
				}
				row = append(row, v)
			}
			for _, oitem := range f.Over.OrderBy {
				v, err := e.evalRow(ec, r, oitem.Expr, scope)
				if err != nil {
					return nil, err
				}
				row = append(row, v)
			}
			if !f.Star && len(f.Args) > 0 {
				v, err := e.evalRow(ec, r, f.Args[0], scope)
				if err != nil {
					return nil, err
				}
				row = append(row, v)
			} else {
				row = append(row, value.Bool(true))
			}
			table[i] = row
		}
		partitionCols := seqInts(0, pLen)
		orderCols := seqInts(pLen, pLen+oLen)
		argCol := pLen + oLen

		call, err := windowCallOf(f, argCol)
		if err != nil {
			return nil, err
		}
		if call.Func == agg.FuncLead || call.Func == agg.FuncLag {
			call.Default = value.Null(value.TypeNull)
			if len(f.Args) > 1 {
				v, err := e.evalRow(ec, rows[0], f.Args[1], scope)
				if err != nil {
					return nil, err
				}
				call.Offset = v.Int
			}
			if len(f.Args) > 2 {
				v, err := e.evalRow(ec, rows[0], f.Args[2], scope)
				if err != nil {
					return nil, err
				}
				call.Default = v
			}
		}
		if call.Func == agg.FuncRowNumber || call.Func == agg.FuncRank || call.Func == agg.FuncDenseRank {
			call.ArgCol = -1
		}

		frame, err := e.frameOf(ec, f.Over, scope, rows)
		if err != nil {
			return nil, err
		}

		results, err := agg.EvalWindow(table, partitionCols, orderCols, orderDesc, frame, call)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].Columns = append(out[i].Columns, eval.ColumnName{Name: name})
			out[i].Values = append(out[i].Values, results[i])
		}
	}
	return out, nil
}

func seqInts(start, end int) []int {
	out := make([]int, end-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func windowCallOf(f *parser.FuncCall, argCol int) (agg.Call, error) {
	fn, ok := windowFuncOf(f.Name)
	if !ok {
		return agg.Call{}, errs.New(errs.FeatureNotSupported, "unsupported window function %q", f.Name)
	}
	return agg.Call{Func: fn, ArgCol: argCol}, nil
}

func windowFuncOf(name string) (agg.WindowFunc, bool) {
	switch name {
	case "ROW_NUMBER":
		return agg.FuncRowNumber, true
	case "RANK":
		return agg.FuncRank, true
	case "DENSE_RANK":
		return agg.FuncDenseRank, true
	case "LEAD":
		return agg.FuncLead, true
	case "LAG":
		return agg.FuncLag, true
	case "FIRST_VALUE":
		return agg.FuncFirstValue, true
	case "LAST_VALUE":
		return agg.FuncLastValue, true
	case "SUM":
		return agg.FuncSum, true
	case "AVG":
		return agg.FuncAvg, true
	case "COUNT":
		return agg.FuncCount, true
	case "MIN":
		return agg.FuncMin, true
	case "MAX":
		return agg.FuncMax, true
	default:
		return 0, false
	}
}

// frameOf translates a parser.WindowSpec's frame bounds into an agg.Frame,
// always as ROWS framing (WindowSpec carries no ROWS/RANGE mode marker).
// The parser does not read a query's frame clause and leaves FrameStart
// nil, so this returns nil, which leaves agg.EvalWindow to apply its own
// default (RANGE UNBOUNDED PRECEDING..CURRENT ROW under ORDER BY, the
// whole partition otherwise), matching spec §4.4's default-frame rule.
func (e *Executor) frameOf(ec *ExecContext, w *parser.WindowSpec, scope *planScope, rows []*eval.Row) (*agg.Frame, error) {
	if w.FrameStart == nil {
		return nil, nil
	}
	start, err := e.boundOf(ec, w.FrameStart, scope, rows)
	if err != nil {
		return nil, err
	}
	end := agg.Bound{Kind: agg.BoundCurrentRow}
	if w.FrameEnd != nil {
		end, err = e.boundOf(ec, w.FrameEnd, scope, rows)
		if err != nil {
			return nil, err
		}
	}
	return &agg.Frame{Mode: agg.FrameRows, Start: start, End: end}, nil
}

func (e *Executor) boundOf(ec *ExecContext, b *parser.FrameBound, scope *planScope, rows []*eval.Row) (agg.Bound, error) {
	kind, err := frameBoundKindOf(b.Kind)
	if err != nil {
		return agg.Bound{}, err
	}
	out := agg.Bound{Kind: kind}
	if b.Offset != nil {
		rep := &eval.Row{}
		if len(rows) > 0 {
			rep = rows[0]
		}
		v, err := e.evalRow(ec, rep, b.Offset, scope)
		if err != nil {
			return agg.Bound{}, err
		}
		out.Offset = v.Int
	}
	return out, nil
}

func frameBoundKindOf(k parser.FrameBoundKind) (agg.BoundKind, error) {
	switch k {
	case parser.FrameUnboundedPreceding:
		return agg.BoundUnboundedPreceding, nil
	case parser.FrameOffsetPreceding:
		return agg.BoundOffsetPreceding, nil
	case parser.FrameCurrentRow:
		return agg.BoundCurrentRow, nil
	case parser.FrameOffsetFollowing:
		return agg.BoundOffsetFollowing, nil
	case parser.FrameUnboundedFollowing:
		return agg.BoundUnboundedFollowing, nil
	default:
		return 0, errs.New(errs.FeatureNotSupported, "unsupported frame bound kind")
	}
}
