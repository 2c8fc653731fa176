package parser

import (
	"errors"
	"fmt"
	"strings"

	pg "github.com/pganalyze/pg_query_go/v6"
	pgparser "github.com/pganalyze/pg_query_go/v6/parser"
	"github.com/shopspring/decimal"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
)

// Parse runs sql through pg_query_go's real PostgreSQL grammar and
// converts each resulting statement into this module's own AST (spec
// §4.7). A syntax error pg_query_go itself rejects is reported as
// errs.SyntaxError with the position pg_query_go returns; a statement
// pg_query_go accepts but this engine does not implement becomes a
// RawPassthroughStmt, left for the caller to reject with
// errs.FeatureNotSupported.
func Parse(sql string) ([]Statement, error) {
	result, err := pg.Parse(sql)
	if err != nil {
		perr := errs.Wrap(errs.SyntaxError, err, "parse statement")
		var pe *pgparser.Error
		if errors.As(err, &pe) {
			perr = perr.WithPosition(pe.Cursorpos)
		}
		return nil, perr
	}
	out := make([]Statement, 0, len(result.Stmts))
	for _, raw := range result.Stmts {
		if raw.Stmt == nil {
			continue
		}
		stmt, err := convertStmt(raw.Stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

// ParseExpr parses a single bare expression, such as a column DEFAULT or
// CHECK constraint body persisted as text in the catalog. It works by
// wrapping sql in a throwaway SELECT and pulling the target list's sole
// expression back out, since pg_query_go only parses full statements.
func ParseExpr(sql string) (Expr, error) {
	stmts, err := Parse("SELECT " + sql)
	if err != nil {
		return nil, err
	}
	sel, ok := stmts[0].(*SelectStmt)
	if !ok || len(sel.Targets) != 1 {
		return nil, errs.New(errs.SyntaxError, "not a single expression: %q", sql)
	}
	return sel.Targets[0].Expr, nil
}

func convertStmt(n *pg.Node) (Statement, error) {
	switch node := n.Node.(type) {
	case *pg.Node_SelectStmt:
		return convertSelect(node.SelectStmt)
	case *pg.Node_InsertStmt:
		return convertInsert(node.InsertStmt)
	case *pg.Node_UpdateStmt:
		return convertUpdate(node.UpdateStmt)
	case *pg.Node_DeleteStmt:
		return convertDelete(node.DeleteStmt)
	case *pg.Node_CreateStmt:
		return convertCreateTable(node.CreateStmt)
	case *pg.Node_DropStmt:
		return convertDrop(node.DropStmt)
	case *pg.Node_IndexStmt:
		return convertCreateIndex(node.IndexStmt)
	case *pg.Node_ViewStmt:
		return convertCreateView(node.ViewStmt)
	case *pg.Node_TransactionStmt:
		return convertTransaction(node.TransactionStmt)
	case *pg.Node_VariableSetStmt:
		return convertSet(node.VariableSetStmt)
	default:
		return &RawPassthroughStmt{Kind: fmt.Sprintf("%T", node)}, nil
	}
}

func convertSelect(s *pg.SelectStmt) (*SelectStmt, error) {
	if s.Op != pg.SetOperation_SETOP_NONE {
		left, err := convertSelect(s.Larg)
		if err != nil {
			return nil, err
		}
		right, err := convertSelect(s.Rarg)
		if err != nil {
			return nil, err
		}
		var kind SetOpKind
		switch s.Op {
		case pg.SetOperation_SETOP_UNION:
			if s.All {
				kind = SetOpUnionAll
			} else {
				kind = SetOpUnion
			}
		case pg.SetOperation_SETOP_INTERSECT:
			kind = SetOpIntersect
		case pg.SetOperation_SETOP_EXCEPT:
			kind = SetOpExcept
		}
		return &SelectStmt{SetOp: kind, Left: left, Right: right}, nil
	}

	out := &SelectStmt{}
	for _, t := range s.TargetList {
		rt, ok := t.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		item, err := convertSelectItem(rt.ResTarget)
		if err != nil {
			return nil, err
		}
		out.Targets = append(out.Targets, item)
	}
	for _, f := range s.FromClause {
		item, err := convertFromItem(f)
		if err != nil {
			return nil, err
		}
		out.From = append(out.From, *item)
	}
	if s.WhereClause != nil {
		e, err := convertExpr(s.WhereClause)
		if err != nil {
			return nil, err
		}
		out.Where = e
	}
	for _, g := range s.GroupClause {
		e, err := convertExpr(g)
		if err != nil {
			return nil, err
		}
		out.GroupBy = append(out.GroupBy, e)
	}
	if s.HavingClause != nil {
		e, err := convertExpr(s.HavingClause)
		if err != nil {
			return nil, err
		}
		out.Having = e
	}
	for _, sc := range s.SortClause {
		oi, err := convertSortBy(sc)
		if err != nil {
			return nil, err
		}
		out.OrderBy = append(out.OrderBy, oi)
	}
	if s.LimitCount != nil {
		e, err := convertExpr(s.LimitCount)
		if err != nil {
			return nil, err
		}
		out.Limit = e
	}
	if s.LimitOffset != nil {
		e, err := convertExpr(s.LimitOffset)
		if err != nil {
			return nil, err
		}
		out.Offset = e
	}
	if len(s.DistinctClause) > 0 {
		out.Distinct = true
		for _, d := range s.DistinctClause {
			if d == nil || d.Node == nil {
				continue
			}
			e, err := convertExpr(d)
			if err != nil {
				return nil, err
			}
			out.DistinctOn = append(out.DistinctOn, e)
		}
	}
	if s.WithClause != nil {
		for _, c := range s.WithClause.Ctes {
			cn, ok := c.Node.(*pg.Node_CommonTableExpr)
			if !ok {
				continue
			}
			q, err := convertSelect(cn.CommonTableExpr.Ctequery.GetSelectStmt())
			if err != nil {
				return nil, err
			}
			out.With = append(out.With, CTE{
				Name:      cn.CommonTableExpr.Ctename,
				Recursive: s.WithClause.Recursive,
				Query:     q,
			})
		}
	}
	return out, nil
}

func convertSelectItem(rt *pg.ResTarget) (SelectItem, error) {
	if cr, ok := rt.Val.Node.(*pg.Node_ColumnRef); ok {
		if isStarRef(cr.ColumnRef) {
			table := ""
			if len(cr.ColumnRef.Fields) > 1 {
				table = fieldName(cr.ColumnRef.Fields[0])
			}
			return SelectItem{Star: true, Table: table}, nil
		}
	}
	e, err := convertExpr(rt.Val)
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Expr: e, Alias: rt.Name}, nil
}

func isStarRef(cr *pg.ColumnRef) bool {
	for _, f := range cr.Fields {
		if _, ok := f.Node.(*pg.Node_AStar); ok {
			return true
		}
	}
	return false
}

func fieldName(n *pg.Node) string {
	if s, ok := n.Node.(*pg.Node_String_); ok {
		return s.String_.Sval
	}
	return ""
}

func convertFromItem(n *pg.Node) (*FromItem, error) {
	switch node := n.Node.(type) {
	case *pg.Node_RangeVar:
		alias := ""
		if node.RangeVar.Alias != nil {
			alias = node.RangeVar.Alias.Aliasname
		}
		return &FromItem{Schema: node.RangeVar.Schemaname, Table: node.RangeVar.Relname, Alias: alias}, nil
	case *pg.Node_RangeSubselect:
		sub, err := convertSelect(node.RangeSubselect.Subquery.GetSelectStmt())
		if err != nil {
			return nil, err
		}
		alias := ""
		if node.RangeSubselect.Alias != nil {
			alias = node.RangeSubselect.Alias.Aliasname
		}
		return &FromItem{Subquery: sub, Alias: alias}, nil
	case *pg.Node_JoinExpr:
		left, err := convertFromItem(node.JoinExpr.Larg)
		if err != nil {
			return nil, err
		}
		right, err := convertFromItem(node.JoinExpr.Rarg)
		if err != nil {
			return nil, err
		}
		var kind JoinKind
		switch node.JoinExpr.Jointype {
		case pg.JoinType_JOIN_INNER:
			kind = JoinInner
		case pg.JoinType_JOIN_LEFT:
			kind = JoinLeft
		case pg.JoinType_JOIN_RIGHT:
			kind = JoinRight
		case pg.JoinType_JOIN_FULL:
			kind = JoinFull
		default:
			kind = JoinInner
		}
		var on Expr
		if node.JoinExpr.Quals != nil {
			on, err = convertExpr(node.JoinExpr.Quals)
			if err != nil {
				return nil, err
			}
		}
		var using []string
		for _, u := range node.JoinExpr.UsingClause {
			using = append(using, fieldName(u))
		}
		return &FromItem{Join: &JoinItem{Kind: kind, Left: left, Right: right, On: on, Using: using}}, nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported FROM item %T", node)
	}
}

func convertSortBy(n *pg.Node) (OrderItem, error) {
	sb, ok := n.Node.(*pg.Node_SortBy)
	if !ok {
		return OrderItem{}, errs.New(errs.FeatureNotSupported, "unsupported ORDER BY item")
	}
	e, err := convertExpr(sb.SortBy.Node)
	if err != nil {
		return OrderItem{}, err
	}
	oi := OrderItem{Expr: e, Desc: sb.SortBy.SortbyDir == pg.SortByDir_SORTBY_DESC}
	switch sb.SortBy.SortbyNulls {
	case pg.SortByNulls_SORTBY_NULLS_FIRST:
		oi.NullsFirst, oi.NullsSet = true, true
	case pg.SortByNulls_SORTBY_NULLS_LAST:
		oi.NullsFirst, oi.NullsSet = false, true
	}
	return oi, nil
}

func convertExpr(n *pg.Node) (Expr, error) {
	if n == nil {
		return nil, nil
	}
	switch node := n.Node.(type) {
	case *pg.Node_AConst:
		return convertAConst(node.AConst)
	case *pg.Node_ColumnRef:
		return convertColumnRef(node.ColumnRef)
	case *pg.Node_ParamRef:
		return &ParamRef{Ordinal: int(node.ParamRef.Number)}, nil
	case *pg.Node_AExpr:
		return convertAExpr(node.AExpr)
	case *pg.Node_BoolExpr:
		return convertBoolExpr(node.BoolExpr)
	case *pg.Node_NullTest:
		inner, err := convertExpr(node.NullTest.Arg)
		if err != nil {
			return nil, err
		}
		op := "IS NULL"
		if node.NullTest.Nulltesttype == pg.NullTestType_IS_NOT_NULL {
			op = "IS NOT NULL"
		}
		return &UnaryExpr{Op: op, Operand: inner}, nil
	case *pg.Node_BooleanTest:
		inner, err := convertExpr(node.BooleanTest.Arg)
		if err != nil {
			return nil, err
		}
		op := map[pg.BoolTestType]string{
			pg.BoolTestType_IS_TRUE:     "ISTRUE",
			pg.BoolTestType_IS_FALSE:    "ISFALSE",
			pg.BoolTestType_IS_NOT_TRUE: "ISNOTTRUE",
		}[node.BooleanTest.Booltesttype]
		return &UnaryExpr{Op: op, Operand: inner}, nil
	case *pg.Node_FuncCall:
		return convertFuncCall(node.FuncCall)
	case *pg.Node_CaseExpr:
		return convertCaseExpr(node.CaseExpr)
	case *pg.Node_TypeCast:
		return convertTypeCast(node.TypeCast)
	case *pg.Node_SubLink:
		return convertSubLink(node.SubLink)
	case *pg.Node_AArrayExpr:
		var elems []Expr
		for _, e := range node.AArrayExpr.Elements {
			ce, err := convertExpr(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, ce)
		}
		return &ArrayExpr{Elements: elems}, nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported expression %T", node)
	}
}

func convertAConst(c *pg.A_Const) (Expr, error) {
	if c.Isnull {
		return &Literal{Value: value.Null(value.TypeNull)}, nil
	}
	switch v := c.Val.(type) {
	case *pg.A_Const_Ival:
		return &Literal{Value: value.Int8(v.Ival.Ival)}, nil
	case *pg.A_Const_Fval:
		d, derr := decimal.NewFromString(v.Fval.Fval)
		if derr != nil {
			return nil, errs.Wrap(errs.ParseError, derr, "invalid numeric literal %q", v.Fval.Fval)
		}
		return &Literal{Value: value.Decimal(d)}, nil
	case *pg.A_Const_Sval:
		return &Literal{Value: value.Text(v.Sval.Sval)}, nil
	case *pg.A_Const_Boolval:
		return &Literal{Value: value.Bool(v.Boolval.Boolval)}, nil
	default:
		return &Literal{Value: value.Null(value.TypeNull)}, nil
	}
}

func convertColumnRef(cr *pg.ColumnRef) (Expr, error) {
	if isStarRef(cr) {
		table := ""
		if len(cr.Fields) > 1 {
			table = fieldName(cr.Fields[0])
		}
		return &Star{Table: table}, nil
	}
	var parts []string
	for _, f := range cr.Fields {
		parts = append(parts, fieldName(f))
	}
	if len(parts) == 1 {
		return &ColumnRef{Column: parts[0]}, nil
	}
	return &ColumnRef{Table: strings.Join(parts[:len(parts)-1], "."), Column: parts[len(parts)-1]}, nil
}

func convertAExpr(e *pg.A_Expr) (Expr, error) {
	opName := ""
	if len(e.Name) > 0 {
		opName = fieldName(e.Name[0])
	}
	left, err := convertExpr(e.Lexpr)
	if err != nil {
		return nil, err
	}
	right, err := convertExpr(e.Rexpr)
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case pg.A_Expr_Kind_AEXPR_LIKE:
		return &BinaryExpr{Op: "LIKE", Left: left, Right: right}, nil
	case pg.A_Expr_Kind_AEXPR_ILIKE:
		return &BinaryExpr{Op: "ILIKE", Left: left, Right: right}, nil
	case pg.A_Expr_Kind_AEXPR_SIMILAR:
		return &BinaryExpr{Op: "SIMILAR TO", Left: left, Right: right}, nil
	default:
		if left == nil && opName == "-" {
			return &UnaryExpr{Op: "-", Operand: right}, nil
		}
		return &BinaryExpr{Op: opName, Left: left, Right: right}, nil
	}
}

func convertBoolExpr(b *pg.BoolExpr) (Expr, error) {
	var args []Expr
	for _, a := range b.Args {
		ce, err := convertExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, ce)
	}
	switch b.Boolop {
	case pg.BoolExprType_NOT_EXPR:
		return &UnaryExpr{Op: "NOT", Operand: args[0]}, nil
	case pg.BoolExprType_AND_EXPR:
		return foldBinary("AND", args), nil
	case pg.BoolExprType_OR_EXPR:
		return foldBinary("OR", args), nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported boolean expression")
	}
}

func foldBinary(op string, args []Expr) Expr {
	if len(args) == 0 {
		return nil
	}
	acc := args[0]
	for _, a := range args[1:] {
		acc = &BinaryExpr{Op: op, Left: acc, Right: a}
	}
	return acc
}

func convertFuncCall(f *pg.FuncCall) (Expr, error) {
	name := ""
	if len(f.Funcname) > 0 {
		name = fieldName(f.Funcname[len(f.Funcname)-1])
	}
	var args []Expr
	for _, a := range f.Args {
		ce, err := convertExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, ce)
	}
	fc := &FuncCall{Name: name, Args: args, Distinct: f.AggDistinct, Star: f.AggStar}
	if f.AggFilter != nil {
		filt, err := convertExpr(f.AggFilter)
		if err != nil {
			return nil, err
		}
		fc.Filter = filt
	}
	for _, o := range f.AggOrder {
		oi, err := convertSortBy(o)
		if err != nil {
			return nil, err
		}
		fc.OrderBy = append(fc.OrderBy, oi)
	}
	if f.Over != nil {
		ws := &WindowSpec{}
		for _, p := range f.Over.PartitionClause {
			pe, err := convertExpr(p)
			if err != nil {
				return nil, err
			}
			ws.PartitionBy = append(ws.PartitionBy, pe)
		}
		for _, o := range f.Over.OrderClause {
			oi, err := convertSortBy(o)
			if err != nil {
				return nil, err
			}
			ws.OrderBy = append(ws.OrderBy, oi)
		}
		fc.Over = ws
	}
	return fc, nil
}

func convertCaseExpr(c *pg.CaseExpr) (Expr, error) {
	ce := &CaseExpr{}
	if c.Arg != nil {
		a, err := convertExpr(c.Arg)
		if err != nil {
			return nil, err
		}
		ce.Arg = a
	}
	for _, w := range c.Args {
		wc, ok := w.Node.(*pg.Node_CaseWhen)
		if !ok {
			continue
		}
		cond, err := convertExpr(wc.CaseWhen.Expr)
		if err != nil {
			return nil, err
		}
		res, err := convertExpr(wc.CaseWhen.Result)
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, WhenClause{Cond: cond, Result: res})
	}
	if c.Defresult != nil {
		d, err := convertExpr(c.Defresult)
		if err != nil {
			return nil, err
		}
		ce.Else = d
	}
	return ce, nil
}

func convertTypeCast(tc *pg.TypeCast) (Expr, error) {
	inner, err := convertExpr(tc.Arg)
	if err != nil {
		return nil, err
	}
	return &Cast{Expr: inner, Type: convertTypeName(tc.TypeName)}, nil
}

func convertTypeName(tn *pg.TypeName) value.Type {
	if tn == nil || len(tn.Names) == 0 {
		return value.TypeText
	}
	name := fieldName(tn.Names[len(tn.Names)-1])
	switch strings.ToLower(name) {
	case "int2", "smallint":
		return value.TypeInt2
	case "int4", "integer", "int":
		return value.TypeInt4
	case "int8", "bigint":
		return value.TypeInt8
	case "float4", "float8", "double precision", "real":
		return value.TypeFloat8
	case "numeric", "decimal":
		return value.TypeDecimal
	case "bool", "boolean":
		return value.TypeBool
	case "bytea":
		return value.TypeBytea
	case "uuid":
		return value.TypeUUID
	case "date":
		return value.TypeDate
	case "time":
		return value.TypeTime
	case "timestamp":
		return value.TypeTimestamp
	case "timestamptz":
		return value.TypeTimestampTZ
	case "interval":
		return value.TypeInterval
	case "json", "jsonb":
		return value.TypeJSON
	default:
		return value.TypeText
	}
}

func convertSubLink(s *pg.SubLink) (Expr, error) {
	sub, err := convertSelect(s.Subselect.GetSelectStmt())
	if err != nil {
		return nil, err
	}
	se := &SubqueryExpr{Query: sub}
	switch s.SubLinkType {
	case pg.SubLinkType_EXISTS_SUBLINK:
		se.Kind = SubqueryExists
	case pg.SubLinkType_ANY_SUBLINK:
		se.Kind = SubqueryIn
		if s.Testexpr != nil {
			lhs, err := convertExpr(s.Testexpr)
			if err != nil {
				return nil, err
			}
			se.Expr = lhs
		}
	case pg.SubLinkType_ALL_SUBLINK:
		se.Kind = SubqueryAll
		if s.Testexpr != nil {
			lhs, err := convertExpr(s.Testexpr)
			if err != nil {
				return nil, err
			}
			se.Expr = lhs
		}
	default:
		se.Kind = SubqueryScalar
	}
	return se, nil
}

func convertInsert(s *pg.InsertStmt) (*InsertStmt, error) {
	out := &InsertStmt{Schema: s.Relation.Schemaname, Table: s.Relation.Relname}
	for _, c := range s.Cols {
		rt, ok := c.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		out.Columns = append(out.Columns, rt.ResTarget.Name)
	}
	if sel := s.SelectStmt.GetSelectStmt(); sel != nil {
		if len(sel.ValuesLists) > 0 {
			for _, row := range sel.ValuesLists {
				list, ok := row.Node.(*pg.Node_List)
				if !ok {
					continue
				}
				var vals []Expr
				for _, item := range list.List.Items {
					e, err := convertExpr(item)
					if err != nil {
						return nil, err
					}
					vals = append(vals, e)
				}
				out.Values = append(out.Values, vals)
			}
		} else {
			conv, err := convertSelect(sel)
			if err != nil {
				return nil, err
			}
			out.Select = conv
		}
	}
	for _, r := range s.ReturningList {
		rt, ok := r.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		item, err := convertSelectItem(rt.ResTarget)
		if err != nil {
			return nil, err
		}
		out.ReturningList = append(out.ReturningList, item)
	}
	if s.OnConflictClause != nil {
		oc := &OnConflict{DoUpdate: s.OnConflictClause.Action == pg.OnConflictAction_ONCONFLICT_UPDATE}
		if s.OnConflictClause.Infer != nil {
			for _, ie := range s.OnConflictClause.Infer.IndexElems {
				idx, ok := ie.Node.(*pg.Node_IndexElem)
				if ok {
					oc.Columns = append(oc.Columns, idx.IndexElem.Name)
				}
			}
		}
		for _, t := range s.OnConflictClause.TargetList {
			rt, ok := t.Node.(*pg.Node_ResTarget)
			if !ok {
				continue
			}
			val, err := convertExpr(rt.Val)
			if err != nil {
				return nil, err
			}
			oc.Sets = append(oc.Sets, UpdateSet{Column: rt.Name, Value: val})
		}
		if s.OnConflictClause.WhereClause != nil {
			w, err := convertExpr(s.OnConflictClause.WhereClause)
			if err != nil {
				return nil, err
			}
			oc.Where = w
		}
		out.OnConflict = oc
	}
	return out, nil
}

func convertUpdate(s *pg.UpdateStmt) (*UpdateStmt, error) {
	out := &UpdateStmt{Schema: s.Relation.Schemaname, Table: s.Relation.Relname}
	if s.Relation.Alias != nil {
		out.Alias = s.Relation.Alias.Aliasname
	}
	for _, t := range s.TargetList {
		rt, ok := t.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		val, err := convertExpr(rt.Val)
		if err != nil {
			return nil, err
		}
		out.Sets = append(out.Sets, UpdateSet{Column: rt.Name, Value: val})
	}
	if s.WhereClause != nil {
		w, err := convertExpr(s.WhereClause)
		if err != nil {
			return nil, err
		}
		out.Where = w
	}
	for _, r := range s.ReturningList {
		rt, ok := r.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		item, err := convertSelectItem(rt.ResTarget)
		if err != nil {
			return nil, err
		}
		out.ReturningList = append(out.ReturningList, item)
	}
	return out, nil
}

func convertDelete(s *pg.DeleteStmt) (*DeleteStmt, error) {
	out := &DeleteStmt{Schema: s.Relation.Schemaname, Table: s.Relation.Relname}
	if s.Relation.Alias != nil {
		out.Alias = s.Relation.Alias.Aliasname
	}
	if s.WhereClause != nil {
		w, err := convertExpr(s.WhereClause)
		if err != nil {
			return nil, err
		}
		out.Where = w
	}
	for _, r := range s.ReturningList {
		rt, ok := r.Node.(*pg.Node_ResTarget)
		if !ok {
			continue
		}
		item, err := convertSelectItem(rt.ResTarget)
		if err != nil {
			return nil, err
		}
		out.ReturningList = append(out.ReturningList, item)
	}
	return out, nil
}

func convertCreateTable(s *pg.CreateStmt) (*CreateTableStmt, error) {
	out := &CreateTableStmt{
		Schema:      s.Relation.Schemaname,
		Table:       s.Relation.Relname,
		IfNotExists: s.IfNotExists,
	}
	for _, elt := range s.TableElts {
		switch node := elt.Node.(type) {
		case *pg.Node_ColumnDef:
			col, err := convertColumnDef(node.ColumnDef)
			if err != nil {
				return nil, err
			}
			out.Columns = append(out.Columns, col)
			if col.PrimaryKey {
				out.PrimaryKey = append(out.PrimaryKey, col.Name)
			}
			for _, cn := range node.ColumnDef.Constraints {
				if cons, ok := cn.Node.(*pg.Node_Constraint); ok && cons.Constraint.Contype == pg.ConstrType_CONSTR_FOREIGN {
					applyTableConstraint(out, cons.Constraint)
					out.ForeignKeys[len(out.ForeignKeys)-1].Columns = []string{col.Name}
				}
			}
		case *pg.Node_Constraint:
			applyTableConstraint(out, node.Constraint)
		}
	}
	return out, nil
}

func convertColumnDef(c *pg.ColumnDef) (ColumnDef, error) {
	col := ColumnDef{Name: c.Colname, Type: convertTypeName(c.TypeName)}
	for _, cn := range c.Constraints {
		cons, ok := cn.Node.(*pg.Node_Constraint)
		if !ok {
			continue
		}
		switch cons.Constraint.Contype {
		case pg.ConstrType_CONSTR_NOTNULL:
			col.NotNull = true
		case pg.ConstrType_CONSTR_PRIMARY:
			col.PrimaryKey = true
			col.NotNull = true
		case pg.ConstrType_CONSTR_DEFAULT:
			e, err := convertExpr(cons.Constraint.RawExpr)
			if err != nil {
				return ColumnDef{}, err
			}
			col.HasDefault = true
			col.Default = e
		}
	}
	return col, nil
}

func applyTableConstraint(out *CreateTableStmt, c *pg.Constraint) {
	switch c.Contype {
	case pg.ConstrType_CONSTR_PRIMARY:
		for _, k := range c.Keys {
			out.PrimaryKey = append(out.PrimaryKey, fieldName(k))
		}
	case pg.ConstrType_CONSTR_FOREIGN:
		fk := ForeignKeyDef{}
		for _, k := range c.FkAttrs {
			fk.Columns = append(fk.Columns, fieldName(k))
		}
		if c.Pktable != nil {
			fk.RefSchema = c.Pktable.Schemaname
			fk.RefTable = c.Pktable.Relname
		}
		for _, k := range c.PkAttrs {
			fk.RefColumns = append(fk.RefColumns, fieldName(k))
		}
		actions := map[string]string{"a": "NO ACTION", "r": "RESTRICT", "c": "CASCADE", "n": "SET NULL", "d": "SET DEFAULT"}
		fk.OnDelete, fk.OnUpdate = actions[c.FkDelAction], actions[c.FkUpdAction]
		out.ForeignKeys = append(out.ForeignKeys, fk)
	case pg.ConstrType_CONSTR_CHECK:
		e, err := convertExpr(c.RawExpr)
		if err == nil {
			out.Checks = append(out.Checks, CheckDef{Name: c.Conname, Expr: e})
		}
	}
}

func convertDrop(s *pg.DropStmt) (Statement, error) {
	if s.RemoveType != pg.ObjectType_OBJECT_TABLE && s.RemoveType != pg.ObjectType_OBJECT_VIEW {
		return &RawPassthroughStmt{Kind: "DropStmt"}, nil
	}
	if len(s.Objects) == 0 {
		return nil, errs.New(errs.SyntaxError, "DROP with no object")
	}
	list, ok := s.Objects[0].Node.(*pg.Node_List)
	if !ok {
		return nil, errs.New(errs.SyntaxError, "unsupported DROP target")
	}
	var parts []string
	for _, item := range list.List.Items {
		parts = append(parts, fieldName(item))
	}
	schema, name := "", ""
	if len(parts) == 1 {
		name = parts[0]
	} else if len(parts) >= 2 {
		schema, name = parts[0], parts[1]
	}
	cascade := s.Behavior == pg.DropBehavior_DROP_CASCADE
	if s.RemoveType == pg.ObjectType_OBJECT_VIEW {
		return &DropViewStmt{Schema: schema, Name: name, IfExists: s.MissingOk}, nil
	}
	return &DropTableStmt{Schema: schema, Table: name, IfExists: s.MissingOk, Cascade: cascade}, nil
}

func convertCreateIndex(s *pg.IndexStmt) (*CreateIndexStmt, error) {
	out := &CreateIndexStmt{
		Name:   s.Idxname,
		Schema: s.Relation.Schemaname,
		Table:  s.Relation.Relname,
		Unique: s.Unique,
	}
	for _, p := range s.IndexParams {
		ie, ok := p.Node.(*pg.Node_IndexElem)
		if !ok {
			continue
		}
		desc := ie.IndexElem.Ordering == pg.SortByDir_SORTBY_DESC
		out.Columns = append(out.Columns, IndexColumnDef{Name: ie.IndexElem.Name, Desc: desc})
	}
	return out, nil
}

func convertCreateView(s *pg.ViewStmt) (*CreateViewStmt, error) {
	q, err := convertSelect(s.Query.GetSelectStmt())
	if err != nil {
		return nil, err
	}
	return &CreateViewStmt{Schema: s.View.Schemaname, Name: s.View.Relname, Query: q}, nil
}

func convertTransaction(s *pg.TransactionStmt) (*TxnControlStmt, error) {
	out := &TxnControlStmt{Name: s.SavepointName}
	switch s.Kind {
	case pg.TransactionStmtKind_TRANS_STMT_BEGIN, pg.TransactionStmtKind_TRANS_STMT_START:
		out.Kind = TxnBegin
	case pg.TransactionStmtKind_TRANS_STMT_COMMIT:
		out.Kind = TxnCommit
	case pg.TransactionStmtKind_TRANS_STMT_ROLLBACK:
		out.Kind = TxnRollback
	case pg.TransactionStmtKind_TRANS_STMT_SAVEPOINT:
		out.Kind = TxnSavepoint
	case pg.TransactionStmtKind_TRANS_STMT_RELEASE:
		out.Kind = TxnRelease
	case pg.TransactionStmtKind_TRANS_STMT_ROLLBACK_TO:
		out.Kind = TxnRollbackTo
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported transaction statement kind")
	}
	for _, o := range s.Options {
		if de := o.GetDefElem(); de != nil && de.Defname == "transaction_isolation" {
			out.Isolation = de.GetArg().GetAConst().GetSval().GetSval()
		}
	}
	return out, nil
}

func convertSet(s *pg.VariableSetStmt) (*SetStmt, error) {
	val := ""
	if len(s.Args) > 0 {
		if c, ok := s.Args[0].Node.(*pg.Node_AConst); ok {
			if sv, ok := c.AConst.Val.(*pg.A_Const_Sval); ok {
				val = sv.Sval.Sval
			}
		}
	}
	return &SetStmt{Name: s.Name, Value: val}, nil
}
