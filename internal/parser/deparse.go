package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kvsql/kvsql/internal/value"
)

// Deparse renders stmt back to SQL text. It is used only to persist a
// CREATE VIEW's query into the catalog (stored as text, not AST, so a
// restarted node can reload it without depending on this process's AST
// shapes) and is not expected to byte-for-byte reproduce the original
// source — only to parse back to an equivalent AST.
func Deparse(stmt Statement) string {
	var b strings.Builder
	deparseStmt(&b, stmt)
	return b.String()
}

// DeparseExpr renders a single expression back to SQL text, used to
// persist a CHECK constraint or column DEFAULT's expression as text in
// the catalog (see internal/exec's DDL handlers).
func DeparseExpr(e Expr) string {
	var b strings.Builder
	deparseExpr(&b, e)
	return b.String()
}

func deparseStmt(b *strings.Builder, stmt Statement) {
	switch s := stmt.(type) {
	case *SelectStmt:
		deparseSelect(b, s)
	default:
		b.WriteString("/* unsupported statement */")
	}
}

func deparseSelect(b *strings.Builder, s *SelectStmt) {
	if len(s.With) > 0 {
		b.WriteString("WITH ")
		if s.With[0].Recursive {
			b.WriteString("RECURSIVE ")
		}
		for i, cte := range s.With {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(cte.Name))
			if len(cte.Columns) > 0 {
				b.WriteString(" (" + strings.Join(quoteIdents(cte.Columns), ", ") + ")")
			}
			b.WriteString(" AS (")
			deparseSelect(b, cte.Query)
			b.WriteString(")")
		}
		b.WriteString(" ")
	}

	if s.SetOp != SetOpNone {
		deparseSelect(b, s.Left)
		switch s.SetOp {
		case SetOpUnion:
			b.WriteString(" UNION ")
		case SetOpUnionAll:
			b.WriteString(" UNION ALL ")
		case SetOpIntersect:
			b.WriteString(" INTERSECT ")
		case SetOpExcept:
			b.WriteString(" EXCEPT ")
		}
		deparseSelect(b, s.Right)
		return
	}

	b.WriteString("SELECT ")
	if s.Distinct && len(s.DistinctOn) == 0 {
		b.WriteString("DISTINCT ")
	}
	if len(s.DistinctOn) > 0 {
		b.WriteString("DISTINCT ON (")
		for i, e := range s.DistinctOn {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseExpr(b, e)
		}
		b.WriteString(") ")
	}
	for i, item := range s.Targets {
		if i > 0 {
			b.WriteString(", ")
		}
		deparseSelectItem(b, item)
	}

	if len(s.From) > 0 {
		b.WriteString(" FROM ")
		for i, f := range s.From {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseFromItem(b, f)
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		deparseExpr(b, s.Where)
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, e := range s.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseExpr(b, e)
		}
	}
	if s.Having != nil {
		b.WriteString(" HAVING ")
		deparseExpr(b, s.Having)
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseExpr(b, o.Expr)
			if o.Desc {
				b.WriteString(" DESC")
			}
			if o.NullsSet {
				if o.NullsFirst {
					b.WriteString(" NULLS FIRST")
				} else {
					b.WriteString(" NULLS LAST")
				}
			}
		}
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT ")
		deparseExpr(b, s.Limit)
	}
	if s.Offset != nil {
		b.WriteString(" OFFSET ")
		deparseExpr(b, s.Offset)
	}
}

func deparseSelectItem(b *strings.Builder, item SelectItem) {
	if item.Star {
		if item.Table != "" {
			b.WriteString(quoteIdent(item.Table) + ".*")
		} else {
			b.WriteString("*")
		}
		return
	}
	deparseExpr(b, item.Expr)
	if item.Alias != "" {
		b.WriteString(" AS " + quoteIdent(item.Alias))
	}
}

func deparseFromItem(b *strings.Builder, f FromItem) {
	if f.Join != nil {
		deparseFromItem(b, *f.Join.Left)
		switch f.Join.Kind {
		case JoinInner:
			b.WriteString(" JOIN ")
		case JoinLeft:
			b.WriteString(" LEFT JOIN ")
		case JoinRight:
			b.WriteString(" RIGHT JOIN ")
		case JoinFull:
			b.WriteString(" FULL JOIN ")
		case JoinCross:
			b.WriteString(" CROSS JOIN ")
		}
		deparseFromItem(b, *f.Join.Right)
		if f.Join.On != nil {
			b.WriteString(" ON ")
			deparseExpr(b, f.Join.On)
		} else if len(f.Join.Using) > 0 {
			b.WriteString(" USING (" + strings.Join(quoteIdents(f.Join.Using), ", ") + ")")
		}
		return
	}
	if f.Subquery != nil {
		b.WriteString("(")
		deparseSelect(b, f.Subquery)
		b.WriteString(")")
	} else {
		if f.Schema != "" {
			b.WriteString(quoteIdent(f.Schema) + ".")
		}
		b.WriteString(quoteIdent(f.Table))
	}
	if f.Alias != "" {
		b.WriteString(" AS " + quoteIdent(f.Alias))
	}
}

func deparseExpr(b *strings.Builder, e Expr) {
	switch x := e.(type) {
	case nil:
		b.WriteString("NULL")
	case *Literal:
		b.WriteString(deparseLiteral(x))
	case *ColumnRef:
		if x.Table != "" {
			b.WriteString(quoteIdent(x.Table) + "." + quoteIdent(x.Column))
		} else {
			b.WriteString(quoteIdent(x.Column))
		}
	case *ParamRef:
		b.WriteString("$" + strconv.Itoa(x.Ordinal))
	case *Star:
		if x.Table != "" {
			b.WriteString(quoteIdent(x.Table) + ".*")
		} else {
			b.WriteString("*")
		}
	case *BinaryExpr:
		b.WriteString("(")
		deparseExpr(b, x.Left)
		fmt.Fprintf(b, " %s ", x.Op)
		deparseExpr(b, x.Right)
		b.WriteString(")")
	case *UnaryExpr:
		switch x.Op {
		case "IS NULL", "IS NOT NULL":
			b.WriteString("(")
			deparseExpr(b, x.Operand)
			fmt.Fprintf(b, " %s)", x.Op)
		case "ISTRUE", "ISFALSE", "ISNOTTRUE":
			b.WriteString("(")
			deparseExpr(b, x.Operand)
			b.WriteString(map[string]string{"ISTRUE": " IS TRUE)", "ISFALSE": " IS FALSE)", "ISNOTTRUE": " IS NOT TRUE)"}[x.Op])
		default:
			fmt.Fprintf(b, "(%s ", x.Op)
			deparseExpr(b, x.Operand)
			b.WriteString(")")
		}
	case *FuncCall:
		deparseFuncCall(b, x)
	case *CaseExpr:
		b.WriteString("CASE ")
		if x.Arg != nil {
			deparseExpr(b, x.Arg)
			b.WriteString(" ")
		}
		for _, w := range x.Whens {
			b.WriteString("WHEN ")
			deparseExpr(b, w.Cond)
			b.WriteString(" THEN ")
			deparseExpr(b, w.Result)
			b.WriteString(" ")
		}
		if x.Else != nil {
			b.WriteString("ELSE ")
			deparseExpr(b, x.Else)
			b.WriteString(" ")
		}
		b.WriteString("END")
	case *Cast:
		b.WriteString("CAST(")
		deparseExpr(b, x.Expr)
		fmt.Fprintf(b, " AS %s)", x.Type)
	case *ArrayExpr:
		b.WriteString("ARRAY[")
		for i, el := range x.Elements {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseExpr(b, el)
		}
		b.WriteString("]")
	case *SubqueryExpr:
		switch x.Kind {
		case SubqueryScalar, SubqueryExists:
			if x.Kind == SubqueryExists {
				b.WriteString("EXISTS ")
			}
			b.WriteString("(")
			deparseSelect(b, x.Query)
			b.WriteString(")")
		default:
			if x.Expr != nil {
				deparseExpr(b, x.Expr)
				fmt.Fprintf(b, " %s ", x.Op)
			}
			switch x.Kind {
			case SubqueryAny:
				b.WriteString("ANY ")
			case SubqueryAll:
				b.WriteString("ALL ")
			case SubqueryIn:
				b.WriteString("IN ")
			}
			b.WriteString("(")
			deparseSelect(b, x.Query)
			b.WriteString(")")
		}
	default:
		b.WriteString("NULL")
	}
}

func deparseFuncCall(b *strings.Builder, f *FuncCall) {
	if f.Schema != "" {
		b.WriteString(quoteIdent(f.Schema) + ".")
	}
	b.WriteString(f.Name + "(")
	if f.Star {
		b.WriteString("*")
	} else {
		if f.Distinct {
			b.WriteString("DISTINCT ")
		}
		for i, a := range f.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			deparseExpr(b, a)
		}
	}
	b.WriteString(")")
	if f.Over != nil {
		b.WriteString(" OVER (")
		if len(f.Over.PartitionBy) > 0 {
			b.WriteString("PARTITION BY ")
			for i, e := range f.Over.PartitionBy {
				if i > 0 {
					b.WriteString(", ")
				}
				deparseExpr(b, e)
			}
			b.WriteString(" ")
		}
		if len(f.Over.OrderBy) > 0 {
			b.WriteString("ORDER BY ")
			for i, o := range f.Over.OrderBy {
				if i > 0 {
					b.WriteString(", ")
				}
				deparseExpr(b, o.Expr)
				if o.Desc {
					b.WriteString(" DESC")
				}
			}
		}
		b.WriteString(")")
	}
}

func deparseLiteral(l *Literal) string {
	v := l.Value
	if v.IsNull() {
		return "NULL"
	}
	switch v.Typ {
	case value.TypeText:
		return "'" + strings.ReplaceAll(v.Str, "'", "''") + "'"
	case value.TypeBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return v.String()
	}
}

func quoteIdent(s string) string {
	if s == "" {
		return s
	}
	needsQuote := false
	for i, r := range s {
		if r >= 'a' && r <= 'z' || r == '_' || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		needsQuote = true
		break
	}
	if !needsQuote {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIdents(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = quoteIdent(s)
	}
	return out
}
