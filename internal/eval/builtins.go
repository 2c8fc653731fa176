package eval

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

// evalFuncCall dispatches builtin scalar functions (spec §4.3's minimum
// function list). Aggregate and window functions are recognized here by
// name but rejected: they are evaluated by internal/agg, which calls Eval
// only on their argument expressions, never on the FuncCall node itself.
func evalFuncCall(ctx *Context, f *parser.FuncCall) (value.Value, error) {
	name := strings.ToUpper(f.Name)

	switch name {
	case "COALESCE":
		return evalCoalesce(ctx, f.Args)
	case "NULLIF":
		return evalNullIf(ctx, f.Args)
	case "GREATEST":
		return evalGreatestLeast(ctx, f.Args, true)
	case "LEAST":
		return evalGreatestLeast(ctx, f.Args, false)
	}

	if isAggregateName(name) && f.Over == nil {
		return value.Value{}, errs.New(errs.FeatureNotSupported, "aggregate function %q used outside of an aggregate context", f.Name)
	}

	args := make([]value.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := Eval(ctx, a)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}

	switch name {
	case "UPPER":
		return textFn1(args, strings.ToUpper)
	case "LOWER":
		return textFn1(args, strings.ToLower)
	case "LENGTH":
		if err := checkArgc(name, args, 1); err != nil {
			return value.Value{}, err
		}
		if args[0].IsNull() {
			return value.Null(value.TypeInt8), nil
		}
		return value.Int8(int64(len([]rune(args[0].Str)))), nil
	case "SUBSTRING":
		return evalSubstring(args)
	case "REPLACE":
		if err := checkArgc(name, args, 3); err != nil {
			return value.Value{}, err
		}
		if anyNull(args) {
			return value.Null(value.TypeText), nil
		}
		return value.Text(strings.ReplaceAll(args[0].Str, args[1].Str, args[2].Str)), nil
	case "SPLIT_PART":
		return evalSplitPart(args)
	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			if !a.IsNull() {
				b.WriteString(asText(a))
			}
		}
		return value.Text(b.String()), nil
	case "INITCAP":
		return textFn1(args, initcap)
	case "TRIM":
		return textFn1(args, strings.TrimSpace)
	case "LPAD":
		return evalPad(args, true)
	case "RPAD":
		return evalPad(args, false)
	case "REPEAT":
		if err := checkArgc(name, args, 2); err != nil {
			return value.Value{}, err
		}
		if anyNull(args) {
			return value.Null(value.TypeText), nil
		}
		n := int(args[1].Int)
		if n < 0 {
			n = 0
		}
		return value.Text(strings.Repeat(args[0].Str, n)), nil
	case "ABS":
		return evalAbs(args)
	case "CEIL", "CEILING":
		return evalRoundLike(args, math.Ceil)
	case "FLOOR":
		return evalRoundLike(args, math.Floor)
	case "ROUND":
		return evalRound(args)
	case "SQRT":
		return evalMathFloat(args, math.Sqrt)
	case "POWER":
		return evalPower(args)
	case "MOD":
		return evalArith("%", args[0], args[1])
	case "NOW", "CURRENT_TIMESTAMP":
		return value.TimestampTZ(ctx.now()), nil
	case "DATE_TRUNC":
		return evalDateTrunc(args)
	case "EXTRACT":
		return evalExtract(f, ctx)
	case "TO_CHAR":
		return evalToChar(args)
	default:
		return value.Value{}, errs.New(errs.UndefinedFunction, "function %s(%d) does not exist", f.Name, len(args))
	}
}

// now returns the evaluation-time instant shared by every NOW()/
// CURRENT_TIMESTAMP call within one statement (PostgreSQL's
// statement-start-time semantics); internal/exec stamps ctx.StatementTime
// before evaluating any expression of a statement.
func (ctx *Context) now() time.Time {
	if ctx.StatementTime.IsZero() {
		return time.Now().UTC()
	}
	return ctx.StatementTime
}

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "ARRAY_AGG", "STRING_AGG",
		"ROW_NUMBER", "RANK", "DENSE_RANK", "LEAD", "LAG", "FIRST_VALUE", "LAST_VALUE":
		return true
	default:
		return false
	}
}

func checkArgc(name string, args []value.Value, n int) error {
	if len(args) != n {
		return errs.New(errs.UndefinedFunction, "%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func anyNull(args []value.Value) bool {
	for _, a := range args {
		if a.IsNull() {
			return true
		}
	}
	return false
}

func textFn1(args []value.Value, fn func(string) string) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "expects exactly one argument")
	}
	if args[0].IsNull() {
		return value.Null(value.TypeText), nil
	}
	return value.Text(fn(args[0].Str)), nil
}

func initcap(s string) string {
	var b strings.Builder
	prevAlnum := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if prevAlnum {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevAlnum = true
		} else {
			b.WriteRune(r)
			prevAlnum = false
		}
	}
	return b.String()
}

func evalSubstring(args []value.Value) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "SUBSTRING expects 2 or 3 arguments")
	}
	if anyNull(args) {
		return value.Null(value.TypeText), nil
	}
	runes := []rune(args[0].Str)
	start := int(args[1].Int) - 1
	length := len(runes) - start
	if len(args) == 3 {
		length = int(args[2].Int)
	}
	if start < 0 {
		length += start
		start = 0
	}
	if start > len(runes) {
		return value.Text(""), nil
	}
	end := start + length
	if length < 0 {
		end = start
	}
	if end > len(runes) {
		end = len(runes)
	}
	if end < start {
		end = start
	}
	return value.Text(string(runes[start:end])), nil
}

func evalSplitPart(args []value.Value) (value.Value, error) {
	if err := checkArgc("SPLIT_PART", args, 3); err != nil {
		return value.Value{}, err
	}
	if anyNull(args) {
		return value.Null(value.TypeText), nil
	}
	parts := strings.Split(args[0].Str, args[1].Str)
	n := int(args[2].Int)
	if n < 1 || n > len(parts) {
		return value.Text(""), nil
	}
	return value.Text(parts[n-1]), nil
}

func evalPad(args []value.Value, left bool) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "pad function expects 2 or 3 arguments")
	}
	if anyNull(args) {
		return value.Null(value.TypeText), nil
	}
	fill := " "
	if len(args) == 3 {
		fill = args[2].Str
	}
	target := int(args[1].Int)
	runes := []rune(args[0].Str)
	if len(runes) >= target {
		if left {
			return value.Text(string(runes[len(runes)-target:])), nil
		}
		return value.Text(string(runes[:target])), nil
	}
	if fill == "" {
		return value.Text(string(runes)), nil
	}
	fillRunes := []rune(fill)
	var pad []rune
	for len(pad) < target-len(runes) {
		pad = append(pad, fillRunes[len(pad)%len(fillRunes)]...)
	}
	pad = pad[:target-len(runes)]
	if left {
		return value.Text(string(pad) + string(runes)), nil
	}
	return value.Text(string(runes) + string(pad)), nil
}

func evalAbs(args []value.Value) (value.Value, error) {
	if err := checkArgc("ABS", args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	switch v.Typ {
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		if v.Int < 0 {
			return value.Value{Typ: v.Typ, Int: -v.Int}, nil
		}
		return v, nil
	case value.TypeFloat8:
		return value.Float8(math.Abs(v.Float)), nil
	case value.TypeDecimal:
		return value.Decimal(v.Dec.Abs()), nil
	default:
		return value.Value{}, errs.New(errs.TypeMismatch, "ABS requires a numeric argument")
	}
}

func evalRoundLike(args []value.Value, fn func(float64) float64) (value.Value, error) {
	if err := checkArgc("round-like function", args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	if v.Typ == value.TypeDecimal {
		f, _ := v.Dec.Float64()
		return value.Decimal(decimal.NewFromFloat(fn(f))), nil
	}
	return value.Float8(fn(toFloat(v))), nil
}

func evalRound(args []value.Value) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "ROUND expects 1 or 2 arguments")
	}
	if args[0].IsNull() {
		return args[0], nil
	}
	places := int32(0)
	if len(args) == 2 {
		if args[1].IsNull() {
			return value.Null(args[0].Typ), nil
		}
		places = int32(args[1].Int)
	}
	if args[0].Typ == value.TypeDecimal {
		return value.Decimal(args[0].Dec.Round(places)), nil
	}
	shift := math.Pow(10, float64(places))
	return value.Float8(math.Round(toFloat(args[0])*shift) / shift), nil
}

func evalMathFloat(args []value.Value, fn func(float64) float64) (value.Value, error) {
	if err := checkArgc("math function", args, 1); err != nil {
		return value.Value{}, err
	}
	if args[0].IsNull() {
		return value.Null(value.TypeFloat8), nil
	}
	return value.Float8(fn(toFloat(args[0]))), nil
}

func evalPower(args []value.Value) (value.Value, error) {
	if err := checkArgc("POWER", args, 2); err != nil {
		return value.Value{}, err
	}
	if anyNull(args) {
		return value.Null(value.TypeFloat8), nil
	}
	return value.Float8(math.Pow(toFloat(args[0]), toFloat(args[1]))), nil
}

func evalCoalesce(ctx *Context, exprs []parser.Expr) (value.Value, error) {
	for _, e := range exprs {
		v, err := Eval(ctx, e)
		if err != nil {
			return value.Value{}, err
		}
		if !v.IsNull() {
			return v, nil
		}
	}
	return value.Null(value.TypeNull), nil
}

func evalNullIf(ctx *Context, exprs []parser.Expr) (value.Value, error) {
	if len(exprs) != 2 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "NULLIF expects exactly 2 arguments")
	}
	a, err := Eval(ctx, exprs[0])
	if err != nil {
		return value.Value{}, err
	}
	b, err := Eval(ctx, exprs[1])
	if err != nil {
		return value.Value{}, err
	}
	if !a.IsNull() && !b.IsNull() && value.Compare(a, b) == 0 {
		return value.Null(a.Typ), nil
	}
	return a, nil
}

func evalGreatestLeast(ctx *Context, exprs []parser.Expr, greatest bool) (value.Value, error) {
	var best value.Value
	have := false
	for _, e := range exprs {
		v, err := Eval(ctx, e)
		if err != nil {
			return value.Value{}, err
		}
		if v.IsNull() {
			continue
		}
		if !have {
			best, have = v, true
			continue
		}
		c := value.Compare(v, best)
		if (greatest && c > 0) || (!greatest && c < 0) {
			best = v
		}
	}
	if !have {
		return value.Null(value.TypeNull), nil
	}
	return best, nil
}

func evalDateTrunc(args []value.Value) (value.Value, error) {
	if err := checkArgc("DATE_TRUNC", args, 2); err != nil {
		return value.Value{}, err
	}
	if anyNull(args) {
		return value.Null(value.TypeTimestamp), nil
	}
	field := strings.ToLower(args[0].Str)
	t := args[1].Time
	var truncated time.Time
	switch field {
	case "microseconds", "second":
		truncated = t.Truncate(time.Second)
	case "minute":
		truncated = t.Truncate(time.Minute)
	case "hour":
		truncated = t.Truncate(time.Hour)
	case "day":
		truncated = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "month":
		truncated = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case "year":
		truncated = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	case "week":
		offset := (int(t.Weekday()) + 6) % 7
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		truncated = d.AddDate(0, 0, -offset)
	case "quarter":
		q := ((int(t.Month()) - 1) / 3) * 3
		truncated = time.Date(t.Year(), time.Month(q+1), 1, 0, 0, 0, 0, t.Location())
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported DATE_TRUNC field %q", field)
	}
	return value.Value{Typ: args[1].Typ, Time: truncated}, nil
}

func evalExtract(f *parser.FuncCall, ctx *Context) (value.Value, error) {
	if len(f.Args) != 2 {
		return value.Value{}, errs.New(errs.UndefinedFunction, "EXTRACT expects a field and a source expression")
	}
	fieldLit, ok := f.Args[0].(*parser.Literal)
	if !ok {
		return value.Value{}, errs.New(errs.FeatureNotSupported, "EXTRACT field must be a literal identifier")
	}
	v, err := Eval(ctx, f.Args[1])
	if err != nil {
		return value.Value{}, err
	}
	if v.IsNull() {
		return value.Null(value.TypeFloat8), nil
	}
	t := v.Time
	switch strings.ToLower(fieldLit.Value.Str) {
	case "year":
		return value.Float8(float64(t.Year())), nil
	case "month":
		return value.Float8(float64(t.Month())), nil
	case "day":
		return value.Float8(float64(t.Day())), nil
	case "hour":
		return value.Float8(float64(t.Hour())), nil
	case "minute":
		return value.Float8(float64(t.Minute())), nil
	case "second":
		return value.Float8(float64(t.Second())), nil
	case "dow":
		return value.Float8(float64(t.Weekday())), nil
	case "doy":
		return value.Float8(float64(t.YearDay())), nil
	case "epoch":
		return value.Float8(float64(t.Unix())), nil
	case "quarter":
		return value.Float8(float64((int(t.Month())-1)/3 + 1)), nil
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported EXTRACT field %q", fieldLit.Value.Str)
	}
}

func evalToChar(args []value.Value) (value.Value, error) {
	if err := checkArgc("TO_CHAR", args, 2); err != nil {
		return value.Value{}, err
	}
	if anyNull(args) {
		return value.Null(value.TypeText), nil
	}
	goLayout := pgFormatToGo(args[1].Str)
	return value.Text(args[0].Time.Format(goLayout)), nil
}

// pgFormatToGo translates the subset of PostgreSQL to_char date/time
// template tokens this engine supports into Go's reference-time layout.
func pgFormatToGo(pgFmt string) string {
	replacer := strings.NewReplacer(
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH24", "15",
		"HH12", "03",
		"HH", "03",
		"MI", "04",
		"SS", "05",
		"AM", "PM",
	)
	return replacer.Replace(pgFmt)
}
