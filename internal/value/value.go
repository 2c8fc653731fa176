// Package value implements the tagged scalar Value union that flows
// through the expression evaluator, aggregator, and tuple codec (spec §3,
// §9 "Dynamic typing of values").
package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is the logical type code carried alongside every Value, so
// polymorphic expressions (COALESCE, CASE, JSON ->>) can make runtime
// decisions without reflection.
type Type int

const (
	TypeNull Type = iota
	TypeBool
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat8
	TypeDecimal
	TypeText
	TypeBytea
	TypeUUID
	TypeDate
	TypeTime
	TypeTimestamp
	TypeTimestampTZ
	TypeInterval
	TypeJSON
	TypeArray
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "boolean"
	case TypeInt2:
		return "smallint"
	case TypeInt4:
		return "integer"
	case TypeInt8:
		return "bigint"
	case TypeFloat8:
		return "double precision"
	case TypeDecimal:
		return "numeric"
	case TypeText:
		return "text"
	case TypeBytea:
		return "bytea"
	case TypeUUID:
		return "uuid"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeTimestamp:
		return "timestamp"
	case TypeTimestampTZ:
		return "timestamptz"
	case TypeInterval:
		return "interval"
	case TypeJSON:
		return "json"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// Interval is a PostgreSQL-style [months, days, micros] interval triple;
// each field is compared independently of the others during arithmetic,
// matching PostgreSQL's non-normalized interval semantics.
type Interval struct {
	Months int32
	Days   int32
	Micros int64
}

// Value is the tagged union every expression, row cell, and aggregate
// accumulator is represented as. SQL NULL is a Value with Null set (see
// Null); the zero Value has Null unset and is not NULL.
type Value struct {
	Typ   Type
	Null  bool
	Bool  bool
	Int   int64       // int2/int4/int8
	Float float64     // float8
	Dec   decimal.Decimal
	Str   string      // text
	Bytes []byte      // bytea
	UUID  uuid.UUID
	Time  time.Time   // date/time/timestamp(tz)
	Ival  Interval
	JSON  any         // decoded structural JSON (map[string]any, []any, string, float64, bool, nil)
	Arr   []Value     // array-of-value
	ElemT Type        // element type, when Typ == TypeArray
}

// Null returns the NULL value of the given logical type (type is kept so
// NULL still participates in typed contexts such as column defaults).
func Null(t Type) Value { return Value{Typ: t, Null: true} }

func Bool(b bool) Value        { return Value{Typ: TypeBool, Bool: b} }
func Int2(i int16) Value       { return Value{Typ: TypeInt2, Int: int64(i)} }
func Int4(i int32) Value       { return Value{Typ: TypeInt4, Int: int64(i)} }
func Int8(i int64) Value       { return Value{Typ: TypeInt8, Int: i} }
func Float8(f float64) Value   { return Value{Typ: TypeFloat8, Float: f} }
func Decimal(d decimal.Decimal) Value { return Value{Typ: TypeDecimal, Dec: d} }
func Text(s string) Value      { return Value{Typ: TypeText, Str: s} }
func Bytea(b []byte) Value     { return Value{Typ: TypeBytea, Bytes: b} }
func UUIDVal(u uuid.UUID) Value { return Value{Typ: TypeUUID, UUID: u} }
func Date(t time.Time) Value   { return Value{Typ: TypeDate, Time: t} }
func Time(t time.Time) Value   { return Value{Typ: TypeTime, Time: t} }
func Timestamp(t time.Time) Value { return Value{Typ: TypeTimestamp, Time: t} }
func TimestampTZ(t time.Time) Value { return Value{Typ: TypeTimestampTZ, Time: t} }
func JSONVal(v any) Value      { return Value{Typ: TypeJSON, JSON: v} }
func Array(elemT Type, vs []Value) Value {
	return Value{Typ: TypeArray, ElemT: elemT, Arr: vs}
}

func (v Value) IsNull() bool { return v.Null }

// Truthy implements three-valued logic's boolean projection; only used
// where a strict boolean is required (e.g. CHECK constraint result).
func (v Value) Truthy() (b bool, isNull bool) {
	if v.Null {
		return false, true
	}
	return v.Bool, false
}

// String renders the value the way it would appear in a text-format
// result column (used by the admin debug surface and tests, not by any
// wire-binary encoding, which is out of scope per spec §1).
func (v Value) String() string {
	if v.Null {
		return "<NULL>"
	}
	switch v.Typ {
	case TypeBool:
		if v.Bool {
			return "t"
		}
		return "f"
	case TypeInt2, TypeInt4, TypeInt8:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat8:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeDecimal:
		return v.Dec.String()
	case TypeText:
		return v.Str
	case TypeBytea:
		return fmt.Sprintf("\\x%x", v.Bytes)
	case TypeUUID:
		return v.UUID.String()
	case TypeDate:
		return v.Time.Format("2006-01-02")
	case TypeTime:
		return v.Time.Format("15:04:05")
	case TypeTimestamp:
		return v.Time.Format("2006-01-02 15:04:05")
	case TypeTimestampTZ:
		return v.Time.Format("2006-01-02 15:04:05-07")
	case TypeInterval:
		return fmt.Sprintf("%d mons %d days %d us", v.Ival.Months, v.Ival.Days, v.Ival.Micros)
	case TypeJSON:
		return fmt.Sprint(v.JSON)
	case TypeArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}

// Compare implements PostgreSQL ordering: NULL is unordered (callers must
// special-case it before calling Compare for ORDER BY purposes, where
// NULLS FIRST/LAST applies), NaN sorts greater than any other number, and
// text compares codepoint-wise (Go's native string <).
//
// Compare panics if the two values are not comparable types; evaluator
// callers are expected to have already unified operand types via
// WidenNumeric, as internal/eval's arithmetic and comparison operators do.
func Compare(a, b Value) int {
	if a.Typ == TypeFloat8 || b.Typ == TypeFloat8 {
		af, bf := asFloat(a), asFloat(b)
		switch {
		case math.IsNaN(af) && math.IsNaN(bf):
			return 0
		case math.IsNaN(af):
			return 1
		case math.IsNaN(bf):
			return -1
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	switch a.Typ {
	case TypeBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case TypeInt2, TypeInt4, TypeInt8:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case TypeDecimal:
		return a.Dec.Cmp(b.Dec)
	case TypeText:
		return strings.Compare(a.Str, b.Str)
	case TypeBytea:
		return bytes.Compare(a.Bytes, b.Bytes)
	case TypeUUID:
		return bytes.Compare(a.UUID[:], b.UUID[:])
	case TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ:
		switch {
		case a.Time.Before(b.Time):
			return -1
		case a.Time.After(b.Time):
			return 1
		default:
			return 0
		}
	case TypeArray:
		n := len(a.Arr)
		if len(b.Arr) < n {
			n = len(b.Arr)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.Arr[i], b.Arr[i]); c != 0 {
				return c
			}
		}
		return len(a.Arr) - len(b.Arr)
	default:
		panic(fmt.Sprintf("value: incomparable type %s", a.Typ))
	}
}

func asFloat(v Value) float64 {
	switch v.Typ {
	case TypeFloat8:
		return v.Float
	case TypeInt2, TypeInt4, TypeInt8:
		return float64(v.Int)
	case TypeDecimal:
		f, _ := v.Dec.Float64()
		return f
	default:
		panic(fmt.Sprintf("value: cannot widen %s to float8", v.Typ))
	}
}

// Equal reports value equality under the same NULL-excluded rules as
// Compare (callers handle NULL propagation separately; see eval package).
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// SortRows sorts a slice of rows (each a []Value) by the given column
// indices, honoring per-key ascending/descending and NULLS FIRST/LAST.
// Shared by ORDER BY, DISTINCT ON, and window PARTITION/ORDER evaluation.
type SortKey struct {
	Col        int
	Desc       bool
	NullsFirst bool
}

func SortRows(rows [][]Value, keys []SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		return Less(rows[i], rows[j], keys)
	})
}

// Less reports whether row a sorts before row b under the given keys.
func Less(a, b []Value, keys []SortKey) bool {
	for _, k := range keys {
		av, bv := a[k.Col], b[k.Col]
		if av.Null || bv.Null {
			if av.Null == bv.Null {
				continue
			}
			if k.NullsFirst {
				return av.Null
			}
			return bv.Null
		}
		c := Compare(av, bv)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
