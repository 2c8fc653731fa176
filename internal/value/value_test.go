package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNaNSortsHigh(t *testing.T) {
	nan := Float8(math.NaN())
	ten := Float8(10)
	assert.Equal(t, 1, Compare(nan, ten))
	assert.Equal(t, -1, Compare(ten, nan))
	assert.Equal(t, 0, Compare(nan, Float8(math.NaN())))
}

func TestCompareText(t *testing.T) {
	assert.True(t, Compare(Text("abc"), Text("abd")) < 0)
	assert.True(t, Compare(Text("z"), Text("a")) > 0)
}

func TestSortRowsNullsFirstLast(t *testing.T) {
	rows := [][]Value{
		{Int4(2)},
		{Null(TypeInt4)},
		{Int4(1)},
	}
	SortRows(rows, []SortKey{{Col: 0, NullsFirst: true}})
	require.True(t, rows[0][0].IsNull())
	assert.Equal(t, int64(1), rows[1][0].Int)
	assert.Equal(t, int64(2), rows[2][0].Int)

	rows2 := [][]Value{
		{Int4(2)},
		{Null(TypeInt4)},
		{Int4(1)},
	}
	SortRows(rows2, []SortKey{{Col: 0, NullsFirst: false}})
	assert.Equal(t, int64(1), rows2[0][0].Int)
	assert.Equal(t, int64(2), rows2[1][0].Int)
	assert.True(t, rows2[2][0].IsNull())
}

func TestWidenNumeric(t *testing.T) {
	w, err := WidenNumeric(TypeInt2, TypeInt8)
	require.NoError(t, err)
	assert.Equal(t, TypeInt8, w)

	w, err = WidenNumeric(TypeInt4, TypeDecimal)
	require.NoError(t, err)
	assert.Equal(t, TypeDecimal, w)

	_, err = WidenNumeric(TypeInt4, TypeText)
	assert.Error(t, err)
}

func TestAssignmentCompatible(t *testing.T) {
	assert.True(t, AssignmentCompatible(TypeInt2, TypeInt8))
	assert.True(t, AssignmentCompatible(TypeNull, TypeText))
	assert.False(t, AssignmentCompatible(TypeBool, TypeInt4))
}
