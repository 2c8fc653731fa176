package agg

import (
	"testing"

	"github.com/kvsql/kvsql/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumAvgWidenToDecimal(t *testing.T) {
	sum := NewState(Spec{Kind: KindSum})
	for _, i := range []int64{1, 2, 3} {
		require.NoError(t, sum.Add(value.Int8(i)))
	}
	v, err := sum.Finish()
	require.NoError(t, err)
	assert.Equal(t, value.TypeDecimal, v.Typ)
	assert.True(t, v.Dec.Equal(v.Dec)) // sanity: non-panicking decimal value
	assert.Equal(t, "6", v.Dec.String())

	avg := NewState(Spec{Kind: KindAvg})
	for _, i := range []int64{1, 2, 3} {
		require.NoError(t, avg.Add(value.Int8(i)))
	}
	av, err := avg.Finish()
	require.NoError(t, err)
	assert.Equal(t, "2", av.Dec.String())
}

func TestCountExcludesNulls(t *testing.T) {
	st := NewState(Spec{Kind: KindCount})
	require.NoError(t, st.Add(value.Int8(1)))
	require.NoError(t, st.Add(value.Null(value.TypeInt8)))
	require.NoError(t, st.Add(value.Int8(2)))
	v, err := st.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int)
}

func TestCountStarCountsNulls(t *testing.T) {
	st := NewState(Spec{Kind: KindCountStar})
	require.NoError(t, st.Add(value.Bool(true)))
	require.NoError(t, st.Add(value.Null(value.TypeInt8)))
	v, err := st.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int)
}

func TestDistinctDedup(t *testing.T) {
	st := NewState(Spec{Kind: KindCount, Distinct: true})
	for _, i := range []int64{1, 1, 2, 2, 3} {
		require.NoError(t, st.Add(value.Int8(i)))
	}
	v, err := st.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int)
}

func TestMinMax(t *testing.T) {
	st := NewState(Spec{Kind: KindMax})
	for _, i := range []int64{5, 1, 9, 3} {
		require.NoError(t, st.Add(value.Int8(i)))
	}
	v, err := st.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int)
}

func TestStringAgg(t *testing.T) {
	st := NewState(Spec{Kind: KindStringAgg, Separator: ","})
	require.NoError(t, st.Add(value.Text("a")))
	require.NoError(t, st.Add(value.Text("b")))
	require.NoError(t, st.Add(value.Text("c")))
	v, err := st.Finish()
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", v.Str)
}

func TestWindowRunningSum(t *testing.T) {
	rows := [][]value.Value{
		{value.Int8(1), value.Int8(100)},
		{value.Int8(2), value.Int8(200)},
		{value.Int8(3), value.Int8(300)},
		{value.Int8(4), value.Int8(400)},
		{value.Int8(5), value.Int8(500)},
	}
	result, err := EvalWindow(rows, nil, []int{0}, []bool{false}, nil, Call{Func: FuncSum, ArgCol: 1})
	require.NoError(t, err)
	want := []int64{100, 300, 600, 1000, 1500}
	for i, w := range want {
		assert.Equal(t, w, result[i].Dec.IntPart(), "row %d", i)
	}
}

func TestWindowRowNumberAndRank(t *testing.T) {
	rows := [][]value.Value{
		{value.Int8(1)},
		{value.Int8(1)},
		{value.Int8(2)},
	}
	rn, err := EvalWindow(rows, nil, []int{0}, []bool{false}, nil, Call{Func: FuncRowNumber, ArgCol: -1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rn[0].Int, rn[1].Int, rn[2].Int})

	rank, err := EvalWindow(rows, nil, []int{0}, []bool{false}, nil, Call{Func: FuncRank, ArgCol: -1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 3}, []int64{rank[0].Int, rank[1].Int, rank[2].Int})

	dense, err := EvalWindow(rows, nil, []int{0}, []bool{false}, nil, Call{Func: FuncDenseRank, ArgCol: -1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 2}, []int64{dense[0].Int, dense[1].Int, dense[2].Int})
}

func TestWindowLeadLag(t *testing.T) {
	rows := [][]value.Value{
		{value.Int8(1), value.Text("a")},
		{value.Int8(2), value.Text("b")},
		{value.Int8(3), value.Text("c")},
	}
	lead, err := EvalWindow(rows, nil, []int{0}, []bool{false}, nil, Call{Func: FuncLead, ArgCol: 1, Offset: 1, Default: value.Null(value.TypeText)})
	require.NoError(t, err)
	assert.Equal(t, "b", lead[0].Str)
	assert.Equal(t, "c", lead[1].Str)
	assert.True(t, lead[2].IsNull())
}

func TestWindowMovingAverageRowsFrame(t *testing.T) {
	rows := [][]value.Value{
		{value.Int8(1), value.Int8(100)},
		{value.Int8(2), value.Int8(200)},
		{value.Int8(3), value.Int8(300)},
		{value.Int8(4), value.Int8(400)},
		{value.Int8(5), value.Int8(500)},
	}
	frame := &Frame{
		Mode:  FrameRows,
		Start: Bound{Kind: BoundOffsetPreceding, Offset: 2},
		End:   Bound{Kind: BoundCurrentRow},
	}
	result, err := EvalWindow(rows, nil, []int{0}, []bool{false}, frame, Call{Func: FuncAvg, ArgCol: 1})
	require.NoError(t, err)
	want := []int64{100, 150, 200, 300, 400}
	for i, w := range want {
		assert.Equal(t, w, result[i].Dec.IntPart(), "row %d", i)
	}
}

func TestWindowPartitionBy(t *testing.T) {
	rows := [][]value.Value{
		{value.Int8(1), value.Int8(10)},
		{value.Int8(1), value.Int8(20)},
		{value.Int8(2), value.Int8(30)},
	}
	result, err := EvalWindow(rows, []int{0}, nil, nil, nil, Call{Func: FuncCount, ArgCol: -1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result[0].Int)
	assert.Equal(t, int64(2), result[1].Int)
	assert.Equal(t, int64(1), result[2].Int)
}
