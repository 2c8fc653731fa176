package codec

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v value.Value, typ value.Type, desc bool, nulls NullsOrder) value.Value {
	t.Helper()
	buf, err := EncodeKeyColumn(nil, v, desc, nulls)
	require.NoError(t, err)
	got, rest, err := DecodeKeyColumn(buf, typ, desc, nulls)
	require.NoError(t, err)
	assert.Empty(t, rest)
	return got
}

func TestKeyColumnRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    value.Value
		typ  value.Type
	}{
		{"bool_true", value.Bool(true), value.TypeBool},
		{"bool_false", value.Bool(false), value.TypeBool},
		{"int_pos", value.Int8(42), value.TypeInt8},
		{"int_neg", value.Int8(-42), value.TypeInt8},
		{"int_zero", value.Int8(0), value.TypeInt8},
		{"float", value.Float8(3.14), value.TypeFloat8},
		{"float_neg", value.Float8(-3.14), value.TypeFloat8},
		{"decimal", value.Decimal(decimal.RequireFromString("123.456")), value.TypeDecimal},
		{"text", value.Text("hello world"), value.TypeText},
		{"text_with_nul", value.Text("a\x00b"), value.TypeText},
		{"bytes", value.Bytea([]byte{0x00, 0xFF, 0x01}), value.TypeBytea},
		{"uuid", value.UUIDVal(uuid.New()), value.TypeUUID},
		{"date", value.Date(time.Unix(1700000000, 0).UTC()), value.TypeDate},
		{"timestamp", value.Timestamp(time.UnixMicro(1700000000123456).UTC()), value.TypeTimestamp},
	}
	for _, desc := range []bool{false, true} {
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				got := roundTrip(t, tc.v, tc.typ, desc, NullsLast)
				assert.Equal(t, 0, value.Compare(tc.v, got), "round trip mismatch for %s desc=%v: got %v want %v", tc.name, desc, got, tc.v)
			})
		}
	}
}

func TestKeyColumnNullRoundTrip(t *testing.T) {
	buf, err := EncodeKeyColumn(nil, value.Null(value.TypeInt8), false, NullsFirst)
	require.NoError(t, err)
	got, rest, err := DecodeKeyColumn(buf, value.TypeInt8, false, NullsFirst)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, got.IsNull())
}

// Memcmp order must match declared index order (spec §8): for every pair
// of values, comparing their encoded ascending key bytes must agree with
// value.Compare, and for descending key columns the byte order must invert.
func TestKeyOrderMatchesValueOrder(t *testing.T) {
	ints := []int64{-100, -1, 0, 1, 2, 100, math.MaxInt32}
	for i := range ints {
		for j := range ints {
			a, err := EncodeKeyColumn(nil, value.Int8(ints[i]), false, NullsLast)
			require.NoError(t, err)
			b, err := EncodeKeyColumn(nil, value.Int8(ints[j]), false, NullsLast)
			require.NoError(t, err)
			wantCmp := 0
			if ints[i] < ints[j] {
				wantCmp = -1
			} else if ints[i] > ints[j] {
				wantCmp = 1
			}
			gotCmp := bytesCompareSign(a, b)
			assert.Equal(t, wantCmp, gotCmp, "asc %d vs %d", ints[i], ints[j])

			da, err := EncodeKeyColumn(nil, value.Int8(ints[i]), true, NullsLast)
			require.NoError(t, err)
			db, err := EncodeKeyColumn(nil, value.Int8(ints[j]), true, NullsLast)
			require.NoError(t, err)
			gotDescCmp := bytesCompareSign(da, db)
			assert.Equal(t, -wantCmp, gotDescCmp, "desc %d vs %d", ints[i], ints[j])
		}
	}
}

func TestKeyOrderTextDesc(t *testing.T) {
	words := []string{"apple", "banana", "zebra"}
	var encoded [][]byte
	for _, w := range words {
		b, err := EncodeKeyColumn(nil, value.Text(w), true, NullsLast)
		require.NoError(t, err)
		encoded = append(encoded, b)
	}
	// descending: "zebra" < "banana" < "apple" in byte order
	assert.True(t, bytesCompareSign(encoded[2], encoded[1]) < 0)
	assert.True(t, bytesCompareSign(encoded[1], encoded[0]) < 0)
}

func TestKeyTupleRoundTrip(t *testing.T) {
	vals := []value.Value{value.Int8(7), value.Text("widget"), value.Bool(true)}
	specs := []KeyColumnSpec{
		{Desc: false, Nulls: NullsLast},
		{Desc: true, Nulls: NullsLast},
		{Desc: false, Nulls: NullsLast},
	}
	buf, err := BuildKeyTuple(vals, specs)
	require.NoError(t, err)
	types := []value.Type{value.TypeInt8, value.TypeText, value.TypeBool}
	got, err := DecodeKeyTuple(buf, types, specs)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range vals {
		assert.Equal(t, 0, value.Compare(vals[i], got[i]))
	}
}

func bytesCompareSign(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
