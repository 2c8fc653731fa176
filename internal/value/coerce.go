package value

import "github.com/kvsql/kvsql/internal/errs"

// category groups types the way PostgreSQL's assignment-cast rules do,
// so implicit promotion ("assignment category" per spec §4.3) can be
// looked up in a small table instead of an ad hoc chain of ifs.
type category int

const (
	catNumeric category = iota
	catString
	catBoolean
	catDateTime
	catOther
)

func categoryOf(t Type) category {
	switch t {
	case TypeInt2, TypeInt4, TypeInt8, TypeFloat8, TypeDecimal:
		return catNumeric
	case TypeText, TypeBytea, TypeUUID, TypeJSON:
		return catString
	case TypeBool:
		return catBoolean
	case TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ, TypeInterval:
		return catDateTime
	default:
		return catOther
	}
}

// numericRank orders numeric types from narrowest to widest so binary
// operators can widen both operands to the wider of the two (spec §4.3
// "PostgreSQL promotion rules").
var numericRank = map[Type]int{
	TypeInt2: 0, TypeInt4: 1, TypeInt8: 2, TypeFloat8: 3, TypeDecimal: 4,
}

// WidenNumeric returns the common numeric type two operands should be
// promoted to before a binary arithmetic operator is applied.
func WidenNumeric(a, b Type) (Type, error) {
	ra, aok := numericRank[a]
	rb, bok := numericRank[b]
	if !aok || !bok {
		return 0, errs.New(errs.TypeMismatch, "cannot widen non-numeric types %s, %s", a, b)
	}
	if ra >= rb {
		return a, nil
	}
	return b, nil
}

// AssignmentCompatible reports whether a value of type src may be
// implicitly assigned to a column of type dst (src and dst in the same
// category; relative width within a category is not checked) without an
// explicit CAST.
func AssignmentCompatible(src, dst Type) bool {
	if src == dst {
		return true
	}
	if src == TypeNull {
		return true
	}
	return categoryOf(src) == categoryOf(dst) && categoryOf(src) != catOther
}
