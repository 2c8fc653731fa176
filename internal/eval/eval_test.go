package eval

import (
	"testing"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lit(v value.Value) parser.Expr { return &parser.Literal{Value: v} }

func TestThreeValuedAnd(t *testing.T) {
	ctx := &Context{}
	cases := []struct {
		l, r value.Value
		want value.Value
	}{
		{value.Bool(true), value.Bool(true), value.Bool(true)},
		{value.Bool(false), value.Null(value.TypeBool), value.Bool(false)},
		{value.Null(value.TypeBool), value.Bool(false), value.Bool(false)},
		{value.Null(value.TypeBool), value.Bool(true), value.Null(value.TypeBool)},
	}
	for _, c := range cases {
		v, err := Eval(ctx, &parser.BinaryExpr{Op: "AND", Left: lit(c.l), Right: lit(c.r)})
		require.NoError(t, err)
		assert.Equal(t, c.want.IsNull(), v.IsNull())
		if !c.want.IsNull() {
			assert.Equal(t, c.want.Bool, v.Bool)
		}
	}
}

func TestThreeValuedOr(t *testing.T) {
	ctx := &Context{}
	v, err := Eval(ctx, &parser.BinaryExpr{Op: "OR", Left: lit(value.Bool(true)), Right: lit(value.Null(value.TypeBool))})
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = Eval(ctx, &parser.BinaryExpr{Op: "OR", Left: lit(value.Null(value.TypeBool)), Right: lit(value.Bool(false))})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestComparisonNullPropagation(t *testing.T) {
	ctx := &Context{}
	v, err := Eval(ctx, &parser.BinaryExpr{Op: "=", Left: lit(value.Int8(1)), Right: lit(value.Null(value.TypeInt8))})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestNaNSortsHighest(t *testing.T) {
	nan := value.Float8(nanFloat())
	assert.Equal(t, 1, value.Compare(nan, value.Float8(1e300)))
	assert.Equal(t, -1, value.Compare(value.Float8(1e300), nan))
}

func nanFloat() float64 {
	var f float64
	return f / f
}

func TestLikePattern(t *testing.T) {
	ctx := &Context{}
	v, err := Eval(ctx, &parser.BinaryExpr{Op: "LIKE", Left: lit(value.Text("hello world")), Right: lit(value.Text("hello%"))})
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = Eval(ctx, &parser.BinaryExpr{Op: "LIKE", Left: lit(value.Text("HELLO")), Right: lit(value.Text("hello"))})
	require.NoError(t, err)
	assert.False(t, v.Bool)

	v, err = Eval(ctx, &parser.BinaryExpr{Op: "ILIKE", Left: lit(value.Text("HELLO")), Right: lit(value.Text("hello"))})
	require.NoError(t, err)
	assert.True(t, v.Bool)
}

func TestJSONArrowOperators(t *testing.T) {
	ctx := &Context{}
	obj := value.JSONVal(map[string]any{"a": map[string]any{"b": float64(42)}})
	v, err := Eval(ctx, &parser.BinaryExpr{
		Op:   "#>>",
		Left: lit(obj),
		Right: lit(value.Array(value.TypeText, []value.Value{value.Text("a"), value.Text("b")})),
	})
	require.NoError(t, err)
	assert.Equal(t, "42", v.Str)
}

func TestCoalesceAndNullIf(t *testing.T) {
	ctx := &Context{}
	v, err := Eval(ctx, &parser.FuncCall{Name: "COALESCE", Args: []parser.Expr{lit(value.Null(value.TypeInt8)), lit(value.Int8(5))}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int)

	v, err = Eval(ctx, &parser.FuncCall{Name: "NULLIF", Args: []parser.Expr{lit(value.Int8(5)), lit(value.Int8(5))}})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestCastTextToInt(t *testing.T) {
	v, err := Cast(value.Text("123"), value.TypeInt4)
	require.NoError(t, err)
	assert.Equal(t, int64(123), v.Int)

	_, err = Cast(value.Text("not a number"), value.TypeInt4)
	assert.Error(t, err)
}

func TestCastOverflow(t *testing.T) {
	_, err := Cast(value.Int8(100000), value.TypeInt2)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, "NumericOverflow", string(kind))
}

func TestInSubqueryAnyAll(t *testing.T) {
	rows := [][]value.Value{{value.Int8(1)}, {value.Int8(2)}, {value.Int8(3)}}
	v, err := evalAnyAll(value.Int8(2), rows, parser.SubqueryIn, "=")
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = evalAnyAll(value.Int8(5), rows, parser.SubqueryAll, "<")
	require.NoError(t, err)
	assert.False(t, v.Bool)

	v, err = evalAnyAll(value.Int8(0), rows, parser.SubqueryAll, "<")
	require.NoError(t, err)
	assert.True(t, v.Bool)
}

func TestCaseExprThreeValued(t *testing.T) {
	ctx := &Context{}
	c := &parser.CaseExpr{
		Whens: []parser.WhenClause{
			{Cond: lit(value.Null(value.TypeBool)), Result: lit(value.Text("never"))},
			{Cond: lit(value.Bool(true)), Result: lit(value.Text("yes"))},
		},
		Else: lit(value.Text("no")),
	}
	v, err := Eval(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "yes", v.Str)
}
