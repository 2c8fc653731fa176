package exec

import "github.com/kvsql/kvsql/internal/parser"

// aggregateFuncNames are the set-returning-per-group functions GROUP
// BY/HAVING must precompute one value for, per group, before the rest of
// an expression tree can be evaluated (spec §4.4). Window functions
// (ROW_NUMBER, RANK, ...) are handled separately by collectWindowCalls
// since they need the full ordered partition, not one group's rows.
var aggregateFuncNames = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"ARRAY_AGG": true, "STRING_AGG": true,
}

var windowOnlyFuncNames = map[string]bool{
	"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true,
	"LEAD": true, "LAG": true, "FIRST_VALUE": true, "LAST_VALUE": true,
}

// collectAggCalls walks e (and, shallowly, the pieces of a SELECT that
// hang off it) collecting every aggregate FuncCall with no OVER clause.
func collectAggCalls(e parser.Expr, out *[]*parser.FuncCall) {
	walkExpr(e, func(x parser.Expr) {
		if f, ok := x.(*parser.FuncCall); ok && f.Over == nil && aggregateFuncNames[f.Name] {
			*out = append(*out, f)
		}
	})
}

// collectWindowCalls walks e collecting every FuncCall with an OVER
// clause (aggregate-as-window or a window-only function).
func collectWindowCalls(e parser.Expr, out *[]*parser.FuncCall) {
	walkExpr(e, func(x parser.Expr) {
		if f, ok := x.(*parser.FuncCall); ok && f.Over != nil {
			*out = append(*out, f)
		}
	})
}

// walkExpr visits every Expr node reachable from e without crossing into
// a nested subquery's own SELECT (a subquery's aggregates/windows belong
// to its own query, planned independently).
func walkExpr(e parser.Expr, visit func(parser.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch x := e.(type) {
	case *parser.BinaryExpr:
		walkExpr(x.Left, visit)
		walkExpr(x.Right, visit)
	case *parser.UnaryExpr:
		walkExpr(x.Operand, visit)
	case *parser.FuncCall:
		for _, a := range x.Args {
			walkExpr(a, visit)
		}
		if x.Filter != nil {
			walkExpr(x.Filter, visit)
		}
		if x.Over != nil {
			for _, p := range x.Over.PartitionBy {
				walkExpr(p, visit)
			}
			for _, o := range x.Over.OrderBy {
				walkExpr(o.Expr, visit)
			}
		}
	case *parser.CaseExpr:
		walkExpr(x.Arg, visit)
		for _, w := range x.Whens {
			walkExpr(w.Cond, visit)
			walkExpr(w.Result, visit)
		}
		walkExpr(x.Else, visit)
	case *parser.Cast:
		walkExpr(x.Expr, visit)
	case *parser.ArrayExpr:
		for _, el := range x.Elements {
			walkExpr(el, visit)
		}
	case *parser.SubqueryExpr:
		walkExpr(x.Expr, visit)
	}
}

// substitute returns a copy of e with every FuncCall present (by pointer
// identity) in repl replaced by a ColumnRef naming its precomputed
// synthetic column.
func substitute(e parser.Expr, repl map[*parser.FuncCall]string) parser.Expr {
	if e == nil {
		return nil
	}
	if f, ok := e.(*parser.FuncCall); ok {
		if name, found := repl[f]; found {
			return &parser.ColumnRef{Column: name}
		}
	}
	switch x := e.(type) {
	case *parser.BinaryExpr:
		return &parser.BinaryExpr{Op: x.Op, Left: substitute(x.Left, repl), Right: substitute(x.Right, repl)}
	case *parser.UnaryExpr:
		return &parser.UnaryExpr{Op: x.Op, Operand: substitute(x.Operand, repl)}
	case *parser.FuncCall:
		args := make([]parser.Expr, len(x.Args))
		for i, a := range x.Args {
			args[i] = substitute(a, repl)
		}
		cp := *x
		cp.Args = args
		return &cp
	case *parser.CaseExpr:
		cp := *x
		cp.Arg = substitute(x.Arg, repl)
		cp.Else = substitute(x.Else, repl)
		whens := make([]parser.WhenClause, len(x.Whens))
		for i, w := range x.Whens {
			whens[i] = parser.WhenClause{Cond: substitute(w.Cond, repl), Result: substitute(w.Result, repl)}
		}
		cp.Whens = whens
		return &cp
	case *parser.Cast:
		return &parser.Cast{Expr: substitute(x.Expr, repl), Type: x.Type}
	case *parser.ArrayExpr:
		els := make([]parser.Expr, len(x.Elements))
		for i, el := range x.Elements {
			els[i] = substitute(el, repl)
		}
		return &parser.ArrayExpr{Elements: els, ElemType: x.ElemType}
	default:
		return e
	}
}

func hasAggregates(exprs ...parser.Expr) bool {
	var out []*parser.FuncCall
	for _, e := range exprs {
		collectAggCalls(e, &out)
	}
	return len(out) > 0
}
