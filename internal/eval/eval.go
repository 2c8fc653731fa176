// Package eval implements the expression evaluator (C4, spec §4.3): binary
// and unary operators with PostgreSQL's promotion rules, pattern matching,
// three-valued logic, casts, JSON operators, builtin functions, and
// subquery evaluation.
//
// Grounded on the teacher's pkg/pg_lineage/resolver.go for the
// type-switch-over-AST-node walking idiom; resolver.go walks pg_query_go's
// v5 JSON tree to resolve column lineage, here the same shape walks this
// module's own parser.Expr tree (itself derived from pg_query_go v6's
// typed tree) to produce a runtime value.
package eval

import (
	"time"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// ColumnName identifies one column in a row binding; Table is empty when
// the binding has no qualifier (e.g. a bare scalar subquery result).
type ColumnName struct{ Table, Name string }

// Row binds column names to runtime values for one tuple of input,
// typically one joined row the executor is currently iterating over.
type Row struct {
	Columns []ColumnName
	Values  []value.Value
}

func (r *Row) lookup(table, name string) (value.Value, bool) {
	for i, c := range r.Columns {
		if c.Name != name {
			continue
		}
		if table == "" || c.Table == "" || c.Table == table {
			return r.Values[i], true
		}
	}
	return value.Value{}, false
}

// SubqueryRunner executes a subquery's plan and returns its result rows;
// supplied by internal/exec since eval has no access to the executor.
type SubqueryRunner func(q *parser.SelectStmt, outer *Row) ([][]value.Value, error)

// Context carries everything Eval needs beyond the expression tree itself.
type Context struct {
	Row           *Row
	Params        []value.Value
	Subquery      SubqueryRunner
	StatementTime time.Time // set by internal/exec before evaluating a statement's expressions
}

// Eval evaluates e against ctx, returning SQL NULL (not an error) whenever
// NULL propagation per spec §3 applies.
func Eval(ctx *Context, e parser.Expr) (value.Value, error) {
	switch n := e.(type) {
	case nil:
		return value.Null(value.TypeNull), nil
	case *parser.Literal:
		return coerceLiteral(n.Value), nil
	case *parser.ColumnRef:
		if ctx.Row == nil {
			return value.Value{}, errs.New(errs.UndefinedColumn, "no row context for column %q", n.Column)
		}
		v, ok := ctx.Row.lookup(n.Table, n.Column)
		if !ok {
			return value.Value{}, errs.New(errs.UndefinedColumn, "column %q does not exist", qualifiedName(n.Table, n.Column))
		}
		return v, nil
	case *parser.ParamRef:
		if n.Ordinal < 1 || n.Ordinal > len(ctx.Params) {
			return value.Value{}, errs.New(errs.TypeMismatch, "parameter $%d not bound", n.Ordinal)
		}
		return ctx.Params[n.Ordinal-1], nil
	case *parser.BinaryExpr:
		return evalBinary(ctx, n)
	case *parser.UnaryExpr:
		return evalUnary(ctx, n)
	case *parser.FuncCall:
		return evalFuncCall(ctx, n)
	case *parser.CaseExpr:
		return evalCase(ctx, n)
	case *parser.Cast:
		v, err := Eval(ctx, n.Expr)
		if err != nil {
			return value.Value{}, err
		}
		return Cast(v, n.Type)
	case *parser.ArrayExpr:
		return evalArray(ctx, n)
	case *parser.SubqueryExpr:
		return evalSubquery(ctx, n)
	case *parser.Star:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "* cannot be evaluated as a scalar")
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported expression node")
	}
}

func qualifiedName(table, col string) string {
	if table == "" {
		return col
	}
	return table + "." + col
}

// coerceLiteral is a hook for literal-level normalization; parser.Literal
// already carries a fully-typed value.Value (integer literals are parsed
// to value.Int8 and other numeric literals straight to value.Decimal, so
// no float64 round trip loses precision).
func coerceLiteral(v value.Value) value.Value {
	return v
}

func evalCase(ctx *Context, c *parser.CaseExpr) (value.Value, error) {
	var arg value.Value
	var hasArg bool
	if c.Arg != nil {
		v, err := Eval(ctx, c.Arg)
		if err != nil {
			return value.Value{}, err
		}
		arg, hasArg = v, true
	}
	for _, w := range c.Whens {
		if hasArg {
			rv, err := Eval(ctx, w.Cond)
			if err != nil {
				return value.Value{}, err
			}
			if arg.IsNull() || rv.IsNull() {
				continue
			}
			if value.Compare(arg, rv) == 0 {
				return Eval(ctx, w.Result)
			}
			continue
		}
		cv, err := Eval(ctx, w.Cond)
		if err != nil {
			return value.Value{}, err
		}
		if cv.IsNull() {
			continue
		}
		if cv.Typ != value.TypeBool {
			return value.Value{}, errs.New(errs.TypeMismatch, "CASE condition must be boolean")
		}
		if cv.Bool {
			return Eval(ctx, w.Result)
		}
	}
	if c.Else != nil {
		return Eval(ctx, c.Else)
	}
	return value.Null(value.TypeNull), nil
}

func evalArray(ctx *Context, a *parser.ArrayExpr) (value.Value, error) {
	elems := make([]value.Value, len(a.Elements))
	elemT := a.ElemType
	for i, e := range a.Elements {
		v, err := Eval(ctx, e)
		if err != nil {
			return value.Value{}, err
		}
		elems[i] = v
		if elemT == value.TypeNull && !v.IsNull() {
			elemT = v.Typ
		}
	}
	return value.Array(elemT, elems), nil
}

func evalSubquery(ctx *Context, s *parser.SubqueryExpr) (value.Value, error) {
	if ctx.Subquery == nil {
		return value.Value{}, errs.New(errs.FeatureNotSupported, "subqueries are not supported in this context")
	}
	rows, err := ctx.Subquery(s.Query, ctx.Row)
	if err != nil {
		return value.Value{}, err
	}
	switch s.Kind {
	case parser.SubqueryExists:
		return value.Bool(len(rows) > 0), nil
	case parser.SubqueryScalar:
		if len(rows) == 0 {
			return value.Null(value.TypeNull), nil
		}
		if len(rows) > 1 {
			return value.Value{}, errs.New(errs.SubqueryCardinality, "more than one row returned by a subquery used as an expression")
		}
		if len(rows[0]) != 1 {
			return value.Value{}, errs.New(errs.SubqueryCardinality, "subquery must return exactly one column")
		}
		return rows[0][0], nil
	case parser.SubqueryIn, parser.SubqueryAny, parser.SubqueryAll:
		lhs, err := Eval(ctx, s.Expr)
		if err != nil {
			return value.Value{}, err
		}
		op := s.Op
		if op == "" {
			op = "="
		}
		return evalAnyAll(lhs, rows, s.Kind, op)
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported subquery form")
	}
}

// evalAnyAll implements IN/ANY/ALL (x op ANY(subquery), x op ALL(subquery),
// x IN (subquery)) with PostgreSQL's NULL-aware three-valued semantics: a
// NULL anywhere that doesn't already determine the result turns it into
// NULL rather than true/false (spec §3).
func evalAnyAll(lhs value.Value, rows [][]value.Value, kind parser.SubqueryKind, op string) (value.Value, error) {
	if lhs.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	sawNull := false
	for _, r := range rows {
		if len(r) != 1 {
			return value.Value{}, errs.New(errs.SubqueryCardinality, "subquery must return exactly one column")
		}
		if r[0].IsNull() {
			sawNull = true
			continue
		}
		cmp, err := evalCompare(op, lhs, r[0])
		if err != nil {
			return value.Value{}, err
		}
		match := !cmp.IsNull() && cmp.Bool
		if kind != parser.SubqueryAll && match {
			return value.Bool(true), nil
		}
		if kind == parser.SubqueryAll && !match {
			return value.Bool(false), nil
		}
	}
	if sawNull {
		return value.Null(value.TypeBool), nil
	}
	return value.Bool(kind == parser.SubqueryAll), nil
}
