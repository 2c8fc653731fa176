package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRowRoundTrip(t *testing.T) {
	ordinals := []uint16{0, 1, 2, 3, 4, 5}
	vals := []value.Value{
		value.Int8(42),
		value.Text("hello"),
		value.Bool(true),
		value.Decimal(decimal.RequireFromString("9.99")),
		value.Null(value.TypeText),
		value.UUIDVal(uuid.New()),
	}
	buf, err := EncodeRow(ordinals, vals)
	require.NoError(t, err)

	got, err := DecodeRow(buf)
	require.NoError(t, err)
	require.Len(t, got, len(vals))
	for i, ord := range ordinals {
		gv, ok := got[ord]
		require.True(t, ok, "missing ordinal %d", ord)
		if vals[i].IsNull() {
			assert.True(t, gv.IsNull())
			continue
		}
		assert.Equal(t, 0, value.Compare(vals[i], gv), "ordinal %d: got %v want %v", ord, gv, vals[i])
	}
}

// Additive column evolution (spec §4.1): decoding a row encoded under an
// older narrower schema must still succeed and simply omit the ordinals
// that were never written; a reader with a newer schema resolves the gap
// to the column's current default, which is the caller's job, not DecodeRow's.
func TestDecodeRowToleratesMissingOrdinals(t *testing.T) {
	buf, err := EncodeRow([]uint16{0, 2}, []value.Value{value.Int8(1), value.Text("x")})
	require.NoError(t, err)
	got, err := DecodeRow(buf)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	_, hasOne := got[1]
	assert.False(t, hasOne)
}

// Unknown ordinals from a newer writer must round-trip without error so a
// reader running an older schema isn't broken by additive evolution.
func TestDecodeRowToleratesUnknownOrdinals(t *testing.T) {
	buf, err := EncodeRow([]uint16{0, 99}, []value.Value{value.Int8(1), value.Text("future-column")})
	require.NoError(t, err)
	got, err := DecodeRow(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got[0].Int)
	assert.Equal(t, "future-column", got[99].Str)
}

func TestEncodeDecodeTimeValues(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC)
	ordinals := []uint16{0}
	vals := []value.Value{value.Timestamp(ts)}
	buf, err := EncodeRow(ordinals, vals)
	require.NoError(t, err)
	got, err := DecodeRow(buf)
	require.NoError(t, err)
	assert.True(t, got[0].Time.Equal(ts))
}

func TestEncodeDecodeArrayValue(t *testing.T) {
	arr := value.Array(value.TypeInt8, []value.Value{value.Int8(1), value.Int8(2), value.Int8(3)})
	buf, err := EncodeRow([]uint16{0}, []value.Value{arr})
	require.NoError(t, err)
	got, err := DecodeRow(buf)
	require.NoError(t, err)
	require.Len(t, got[0].Arr, 3)
	assert.Equal(t, int64(2), got[0].Arr[1].Int)
}

func TestEncodeDecodeJSONValue(t *testing.T) {
	doc := map[string]any{"a": float64(1), "b": "two"}
	buf, err := EncodeRow([]uint16{0}, []value.Value{value.JSONVal(doc)})
	require.NoError(t, err)
	got, err := DecodeRow(buf)
	require.NoError(t, err)
	m, ok := got[0].JSON.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "two", m["b"])
}

func TestEncodeRowArityMismatch(t *testing.T) {
	_, err := EncodeRow([]uint16{0, 1}, []value.Value{value.Int8(1)})
	assert.Error(t, err)
}
