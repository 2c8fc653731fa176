package eval

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

// dateLayouts/timeLayouts/timestampLayouts are tried in order when casting
// text to a date/time type; PostgreSQL accepts a range of textual formats
// and this engine covers the common ISO-8601 ones.
var (
	dateLayouts      = []string{"2006-01-02"}
	timeLayouts      = []string{"15:04:05", "15:04:05.999999", "15:04"}
	timestampLayouts = []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
	timestampTZLayouts = []string{"2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05-07:00", "2006-01-02T15:04:05Z07:00"}
)

// Cast implements PostgreSQL's explicit CAST rules (spec §4.3 "casts").
// Assignment casts (implicit, narrower) are handled separately by
// value.AssignmentCompatible at the point of column assignment; Cast
// always performs the explicit, wider conversion a CAST(...) invokes.
func Cast(v value.Value, to value.Type) (value.Value, error) {
	if v.IsNull() {
		return value.Null(to), nil
	}
	if v.Typ == to {
		return v, nil
	}
	switch to {
	case value.TypeText:
		return value.Text(castToText(v)), nil
	case value.TypeBool:
		return castToBool(v)
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		return castToInt(v, to)
	case value.TypeFloat8:
		return castToFloat(v)
	case value.TypeDecimal:
		return castToDecimal(v)
	case value.TypeUUID:
		return castToUUID(v)
	case value.TypeDate:
		return castToTime(v, value.TypeDate, dateLayouts)
	case value.TypeTime:
		return castToTime(v, value.TypeTime, timeLayouts)
	case value.TypeTimestamp:
		return castToTime(v, value.TypeTimestamp, timestampLayouts)
	case value.TypeTimestampTZ:
		return castToTime(v, value.TypeTimestampTZ, append(timestampTZLayouts, timestampLayouts...))
	case value.TypeBytea:
		return value.Bytea([]byte(castToText(v))), nil
	default:
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to %s", v.Typ, to)
	}
}

func castToText(v value.Value) string {
	return v.String()
}

func castToBool(v value.Value) (value.Value, error) {
	if v.Typ == value.TypeText {
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "t", "true", "yes", "y", "1", "on":
			return value.Bool(true), nil
		case "f", "false", "no", "n", "0", "off":
			return value.Bool(false), nil
		default:
			return value.Value{}, errs.New(errs.InvalidCast, "invalid input syntax for type boolean: %q", v.Str)
		}
	}
	if isNumeric(v.Typ) {
		return value.Bool(toFloat(v) != 0), nil
	}
	return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to boolean", v.Typ)
}

func castToInt(v value.Value, to value.Type) (value.Value, error) {
	var i int64
	switch v.Typ {
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		i = v.Int
	case value.TypeFloat8:
		i = int64(v.Float + signOf(v.Float)*0.5)
	case value.TypeDecimal:
		i = v.Dec.Round(0).IntPart()
	case value.TypeBool:
		if v.Bool {
			i = 1
		}
	case value.TypeText:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
			if ferr != nil {
				return value.Value{}, errs.Wrap(errs.InvalidCast, err, "invalid input syntax for integer: %q", v.Str)
			}
			i = int64(f)
		} else {
			i = parsed
		}
	default:
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to %s", v.Typ, to)
	}
	if err := checkIntRange(i, to); err != nil {
		return value.Value{}, err
	}
	return value.Value{Typ: to, Int: i}, nil
}

func signOf(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func checkIntRange(i int64, to value.Type) error {
	switch to {
	case value.TypeInt2:
		if i < -32768 || i > 32767 {
			return errs.New(errs.NumericOverflow, "smallint out of range")
		}
	case value.TypeInt4:
		if i < -2147483648 || i > 2147483647 {
			return errs.New(errs.NumericOverflow, "integer out of range")
		}
	}
	return nil
}

func castToFloat(v value.Value) (value.Value, error) {
	switch v.Typ {
	case value.TypeText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return value.Value{}, errs.Wrap(errs.InvalidCast, err, "invalid input syntax for double precision: %q", v.Str)
		}
		return value.Float8(f), nil
	case value.TypeBool:
		if v.Bool {
			return value.Float8(1), nil
		}
		return value.Float8(0), nil
	default:
		if isNumeric(v.Typ) {
			return value.Float8(toFloat(v)), nil
		}
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to double precision", v.Typ)
	}
}

func castToDecimal(v value.Value) (value.Value, error) {
	switch v.Typ {
	case value.TypeText:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Str))
		if err != nil {
			return value.Value{}, errs.Wrap(errs.InvalidCast, err, "invalid input syntax for numeric: %q", v.Str)
		}
		return value.Decimal(d), nil
	case value.TypeBool:
		if v.Bool {
			return value.Decimal(decimal.NewFromInt(1)), nil
		}
		return value.Decimal(decimal.Zero), nil
	default:
		if isNumeric(v.Typ) {
			return value.Decimal(toDecimal(v)), nil
		}
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to numeric", v.Typ)
	}
}

func castToUUID(v value.Value) (value.Value, error) {
	if v.Typ != value.TypeText {
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to uuid", v.Typ)
	}
	u, err := uuid.Parse(strings.TrimSpace(v.Str))
	if err != nil {
		return value.Value{}, errs.Wrap(errs.InvalidCast, err, "invalid input syntax for uuid: %q", v.Str)
	}
	return value.UUIDVal(u), nil
}

func castToTime(v value.Value, to value.Type, layouts []string) (value.Value, error) {
	switch v.Typ {
	case value.TypeDate, value.TypeTime, value.TypeTimestamp, value.TypeTimestampTZ:
		return value.Value{Typ: to, Time: v.Time}, nil
	case value.TypeText:
		s := strings.TrimSpace(v.Str)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return value.Value{Typ: to, Time: t}, nil
			}
		}
		return value.Value{}, errs.New(errs.InvalidCast, "invalid input syntax for %s: %q", to, v.Str)
	default:
		return value.Value{}, errs.New(errs.InvalidCast, "cannot cast %s to %s", v.Typ, to)
	}
}
