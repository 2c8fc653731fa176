package eval

import (
	"strings"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

func evalBinary(ctx *Context, b *parser.BinaryExpr) (value.Value, error) {
	switch b.Op {
	case "AND":
		return evalAnd(ctx, b.Left, b.Right)
	case "OR":
		return evalOr(ctx, b.Left, b.Right)
	}

	left, err := Eval(ctx, b.Left)
	if err != nil {
		return value.Value{}, err
	}
	right, err := Eval(ctx, b.Right)
	if err != nil {
		return value.Value{}, err
	}

	switch b.Op {
	case "+", "-", "*", "/", "%":
		return evalArith(b.Op, left, right)
	case "=", "<>", "!=", "<", "<=", ">", ">=":
		return evalCompare(b.Op, left, right)
	case "||":
		return evalConcat(left, right)
	case "LIKE", "ILIKE", "SIMILAR TO":
		return evalPatternMatch(b.Op, left, right)
	case "~", "~*", "!~", "!~*":
		return evalPosixMatch(b.Op, left, right)
	case "->", "->>", "@>", "<@", "?", "?|", "?&", "#>", "#>>":
		return evalJSONOp(b.Op, left, right)
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported operator %q", b.Op)
	}
}

// evalAnd/evalOr implement PostgreSQL's three-valued boolean logic (spec
// §3 "Three-valued logic"): short-circuits on the determining operand
// even when the other operand is NULL.
func evalAnd(ctx *Context, le, re parser.Expr) (value.Value, error) {
	l, err := Eval(ctx, le)
	if err != nil {
		return value.Value{}, err
	}
	if !l.IsNull() && !l.Bool {
		return value.Bool(false), nil
	}
	r, err := Eval(ctx, re)
	if err != nil {
		return value.Value{}, err
	}
	if !r.IsNull() && !r.Bool {
		return value.Bool(false), nil
	}
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	return value.Bool(true), nil
}

func evalOr(ctx *Context, le, re parser.Expr) (value.Value, error) {
	l, err := Eval(ctx, le)
	if err != nil {
		return value.Value{}, err
	}
	if !l.IsNull() && l.Bool {
		return value.Bool(true), nil
	}
	r, err := Eval(ctx, re)
	if err != nil {
		return value.Value{}, err
	}
	if !r.IsNull() && r.Bool {
		return value.Bool(true), nil
	}
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	return value.Bool(false), nil
}

func evalUnary(ctx *Context, u *parser.UnaryExpr) (value.Value, error) {
	if u.Op == "IS NULL" || u.Op == "IS NOT NULL" {
		v, err := Eval(ctx, u.Operand)
		if err != nil {
			return value.Value{}, err
		}
		isNull := v.IsNull()
		if u.Op == "IS NULL" {
			return value.Bool(isNull), nil
		}
		return value.Bool(!isNull), nil
	}

	v, err := Eval(ctx, u.Operand)
	if err != nil {
		return value.Value{}, err
	}
	switch u.Op {
	case "NOT":
		if v.IsNull() {
			return value.Null(value.TypeBool), nil
		}
		return value.Bool(!v.Bool), nil
	case "-":
		if v.IsNull() {
			return v, nil
		}
		return negate(v)
	case "ISTRUE":
		return value.Bool(!v.IsNull() && v.Bool), nil
	case "ISFALSE":
		return value.Bool(!v.IsNull() && !v.Bool), nil
	case "ISNOTTRUE":
		return value.Bool(v.IsNull() || !v.Bool), nil
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported unary operator %q", u.Op)
	}
}

func negate(v value.Value) (value.Value, error) {
	switch v.Typ {
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		return value.Value{Typ: v.Typ, Int: -v.Int}, nil
	case value.TypeFloat8:
		return value.Float8(-v.Float), nil
	case value.TypeDecimal:
		return value.Decimal(v.Dec.Neg()), nil
	default:
		return value.Value{}, errs.New(errs.TypeMismatch, "cannot negate value of type %s", v.Typ)
	}
}

func evalArith(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeNull), nil
	}
	widened, err := value.WidenNumeric(l.Typ, r.Typ)
	if err != nil {
		return value.Value{}, err
	}
	if widened == value.TypeDecimal {
		ld, rd := toDecimal(l), toDecimal(r)
		switch op {
		case "+":
			return value.Decimal(ld.Add(rd)), nil
		case "-":
			return value.Decimal(ld.Sub(rd)), nil
		case "*":
			return value.Decimal(ld.Mul(rd)), nil
		case "/":
			if rd.IsZero() {
				return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
			}
			return value.Decimal(ld.Div(rd)), nil
		case "%":
			if rd.IsZero() {
				return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
			}
			return value.Decimal(ld.Mod(rd)), nil
		}
	}
	if widened == value.TypeFloat8 {
		lf, rf := toFloat(l), toFloat(r)
		switch op {
		case "+":
			return value.Float8(lf + rf), nil
		case "-":
			return value.Float8(lf - rf), nil
		case "*":
			return value.Float8(lf * rf), nil
		case "/":
			if rf == 0 {
				return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
			}
			return value.Float8(lf / rf), nil
		case "%":
			if rf == 0 {
				return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
			}
			return value.Float8(float64(int64(lf) % int64(rf))), nil
		}
	}
	// integer arithmetic, widened to the wider of the two integer types
	li, ri := l.Int, r.Int
	switch op {
	case "+":
		return value.Value{Typ: widened, Int: li + ri}, nil
	case "-":
		return value.Value{Typ: widened, Int: li - ri}, nil
	case "*":
		return value.Value{Typ: widened, Int: li * ri}, nil
	case "/":
		if ri == 0 {
			return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
		}
		return value.Value{Typ: widened, Int: li / ri}, nil
	case "%":
		if ri == 0 {
			return value.Value{}, errs.New(errs.DivisionByZero, "division by zero")
		}
		return value.Value{Typ: widened, Int: li % ri}, nil
	}
	return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported arithmetic operator %q", op)
}

func toDecimal(v value.Value) decimal.Decimal {
	switch v.Typ {
	case value.TypeDecimal:
		return v.Dec
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		return decimal.NewFromInt(v.Int)
	case value.TypeFloat8:
		return decimal.NewFromFloat(v.Float)
	default:
		return decimal.Zero
	}
}

func toFloat(v value.Value) float64 {
	switch v.Typ {
	case value.TypeFloat8:
		return v.Float
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		return float64(v.Int)
	case value.TypeDecimal:
		f, _ := v.Dec.Float64()
		return f
	default:
		return 0
	}
}

// evalCompare implements comparison with NULL propagation: any NULL
// operand makes the whole comparison NULL (spec §3).
func evalCompare(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	var c int
	if isNumeric(l.Typ) && isNumeric(r.Typ) {
		widened, err := value.WidenNumeric(l.Typ, r.Typ)
		if err != nil {
			return value.Value{}, err
		}
		if widened == value.TypeDecimal {
			c = toDecimal(l).Cmp(toDecimal(r))
		} else if widened == value.TypeFloat8 {
			lf, rf := toFloat(l), toFloat(r)
			switch {
			case lf < rf:
				c = -1
			case lf > rf:
				c = 1
			}
		} else {
			switch {
			case l.Int < r.Int:
				c = -1
			case l.Int > r.Int:
				c = 1
			}
		}
	} else {
		c = value.Compare(l, r)
	}
	switch op {
	case "=":
		return value.Bool(c == 0), nil
	case "<>", "!=":
		return value.Bool(c != 0), nil
	case "<":
		return value.Bool(c < 0), nil
	case "<=":
		return value.Bool(c <= 0), nil
	case ">":
		return value.Bool(c > 0), nil
	case ">=":
		return value.Bool(c >= 0), nil
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported comparison operator %q", op)
	}
}

func isNumeric(t value.Type) bool {
	switch t {
	case value.TypeInt2, value.TypeInt4, value.TypeInt8, value.TypeFloat8, value.TypeDecimal:
		return true
	default:
		return false
	}
}

func evalConcat(l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeText), nil
	}
	if l.Typ == value.TypeArray || r.Typ == value.TypeArray {
		return value.Value{}, errs.New(errs.FeatureNotSupported, "array concatenation is not supported")
	}
	return value.Text(asText(l) + asText(r)), nil
}

func asText(v value.Value) string {
	if v.Typ == value.TypeText {
		return v.Str
	}
	return v.String()
}

func evalPosixMatch(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	caseInsensitive := op == "~*" || op == "!~*"
	negate := strings.HasPrefix(op, "!")
	re, err := compilePosix(r.Str, caseInsensitive)
	if err != nil {
		return value.Value{}, err
	}
	matched := re.MatchString(asText(l))
	if negate {
		matched = !matched
	}
	return value.Bool(matched), nil
}
