// Package agg implements per-group aggregate state machines and window
// function evaluation (C5, spec §4.4). The teacher repo has no
// aggregation code of its own — it is a read-passthrough schema/lineage
// tool — so this package is new code written in the teacher's
// documentation and testing idiom (doc density matching
// pkg/richcatalog/richcatalog.go's package doc, table-driven tests
// matching pkg/pg_lineage/resolver_test.go).
package agg

import (
	"sort"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

// Kind enumerates the aggregate functions this engine supports.
type Kind int

const (
	KindCount Kind = iota
	KindCountStar
	KindSum
	KindAvg
	KindMin
	KindMax
	KindArrayAgg
	KindStringAgg
)

// Spec describes one aggregate call site: which function, whether it
// carries DISTINCT, and (for string_agg) the separator.
type Spec struct {
	Kind      Kind
	Distinct  bool
	Separator string // string_agg's second argument
}

// State accumulates one aggregate's running value across a group of
// input rows. Reset to a fresh State per group.
type State struct {
	spec    Spec
	count   int64
	sumDec  decimal.Decimal
	sumInt  int64
	isFloat bool
	sumF    float64
	min     value.Value
	max     value.Value
	haveMM  bool
	arr     []value.Value
	strs    []string
	seen    map[string]bool // for DISTINCT dedup, keyed by value.Value.String()
}

// NewState returns a fresh accumulator for spec.
func NewState(spec Spec) *State {
	s := &State{spec: spec}
	if spec.Distinct {
		s.seen = make(map[string]bool)
	}
	return s
}

// Add feeds one input value (already evaluated from the aggregate's
// argument expression, or the NULL value for COUNT(*) is never passed —
// callers route COUNT(*) to Add with value.Bool(true) as a dummy non-null
// sentinel counted unconditionally) into the accumulator.
func (s *State) Add(v value.Value) error {
	if s.spec.Kind == KindCountStar {
		s.count++
		return nil
	}
	if v.IsNull() {
		return nil // NULL is excluded from every aggregate except COUNT(*)
	}
	if s.spec.Distinct {
		key := v.String()
		if s.seen[key] {
			return nil
		}
		s.seen[key] = true
	}
	s.count++
	switch s.spec.Kind {
	case KindCount:
		// count already incremented above
	case KindSum, KindAvg:
		if err := s.addNumeric(v); err != nil {
			return err
		}
	case KindMin:
		if !s.haveMM || value.Compare(v, s.min) < 0 {
			s.min, s.haveMM = v, true
		}
	case KindMax:
		if !s.haveMM || value.Compare(v, s.max) > 0 {
			s.max, s.haveMM = v, true
		}
	case KindArrayAgg:
		s.arr = append(s.arr, v)
	case KindStringAgg:
		s.strs = append(s.strs, textOf(v))
	}
	return nil
}

func textOf(v value.Value) string {
	if v.Typ == value.TypeText {
		return v.Str
	}
	return v.String()
}

// addNumeric widens integer accumulation to decimal (spec §4.4: "AVG and
// SUM over integers widen to decimal to avoid overflow"); float input
// accumulates in float64 without widening, matching PostgreSQL's
// documented floating-point AVG/SUM imprecision.
func (s *State) addNumeric(v value.Value) error {
	switch v.Typ {
	case value.TypeFloat8:
		s.isFloat = true
		s.sumF += v.Float
		return nil
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		s.sumDec = s.sumDec.Add(decimal.NewFromInt(v.Int))
		return nil
	case value.TypeDecimal:
		s.sumDec = s.sumDec.Add(v.Dec)
		return nil
	default:
		return errs.New(errs.TypeMismatch, "aggregate requires a numeric argument, got %s", v.Typ)
	}
}

// Finish returns the aggregate's final value after all group rows have
// been fed through Add.
func (s *State) Finish() (value.Value, error) {
	switch s.spec.Kind {
	case KindCount, KindCountStar:
		return value.Int8(s.count), nil
	case KindSum:
		if s.count == 0 {
			if s.isFloat {
				return value.Null(value.TypeFloat8), nil
			}
			return value.Null(value.TypeDecimal), nil
		}
		if s.isFloat {
			return value.Float8(s.sumF), nil
		}
		return value.Decimal(s.sumDec), nil
	case KindAvg:
		if s.count == 0 {
			return value.Null(value.TypeDecimal), nil
		}
		if s.isFloat {
			return value.Float8(s.sumF / float64(s.count)), nil
		}
		return value.Decimal(s.sumDec.Div(decimal.NewFromInt(s.count))), nil
	case KindMin, KindMax:
		if !s.haveMM {
			return value.Null(value.TypeNull), nil
		}
		if s.spec.Kind == KindMin {
			return s.min, nil
		}
		return s.max, nil
	case KindArrayAgg:
		if len(s.arr) == 0 {
			return value.Null(value.TypeArray), nil
		}
		return value.Array(s.arr[0].Typ, s.arr), nil
	case KindStringAgg:
		if len(s.strs) == 0 {
			return value.Null(value.TypeText), nil
		}
		sep := s.spec.Separator
		out := s.strs[0]
		for _, p := range s.strs[1:] {
			out += sep + p
		}
		return value.Text(out), nil
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported aggregate kind")
	}
}

// GroupKey returns a sort.Interface-comparable encoding of a group-by
// key tuple, used as a map key since value.Value is not itself hashable
// (it embeds a decimal.Decimal and a []byte/[]Value).
func GroupKey(vals []value.Value) string {
	var out string
	for _, v := range vals {
		if v.IsNull() {
			out += "\x00N\x01"
			continue
		}
		out += v.Typ.String() + ":" + v.String() + "\x01"
	}
	return out
}

// SortRowsBy sorts rows (each a parallel slice of column values) by the
// given column indices ascending, stable, NULLS LAST — the ordering
// PARTITION BY/ORDER BY needs before a window pass, and the ordering
// array_agg/string_agg's optional ORDER BY clause needs.
func SortRowsBy(rows [][]value.Value, cols []int, desc []bool) {
	keys := make([]value.SortKey, len(cols))
	for i, c := range cols {
		d := false
		if i < len(desc) {
			d = desc[i]
		}
		keys[i] = value.SortKey{Col: c, Desc: d, NullsFirst: false}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return value.Less(rows[i], rows[j], keys)
	})
}
