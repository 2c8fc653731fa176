package codec

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

// Row value payload type tags. Distinct from the key-encoding tags above:
// row values are not required to be order-preserving, only self-describing
// and tolerant of additive column evolution (spec §4.1).
const (
	rvNull byte = iota
	rvBool
	rvInt
	rvFloat
	rvDecimal
	rvText
	rvBytes
	rvUUID
	rvDate
	rvTime
	rvTimestamp
	rvTimestampTZ
	rvInterval
	rvJSON
	rvArray
)

// EncodeRow encodes a row as a length-prefixed array of
// (column_ordinal, type_tag, payload) entries (spec §4.1 "Value
// encoding"). vals and ordinals must be parallel slices.
func EncodeRow(ordinals []uint16, vals []value.Value) ([]byte, error) {
	if len(ordinals) != len(vals) {
		return nil, errs.New(errs.KvBackendError, "row encode arity mismatch")
	}
	var buf []byte
	buf = appendU32(buf, uint32(len(vals)))
	for i, v := range vals {
		buf = appendU16(buf, ordinals[i])
		enc, err := encodeScalar(v)
		if err != nil {
			return nil, err
		}
		buf = appendU32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	return buf, nil
}

// DecodeRow decodes a row payload into a map from column ordinal to
// value. Unknown ordinals in the payload (from a newer schema) are kept
// in the map but ignored by callers that only know the current schema;
// missing ordinals are the caller's responsibility to fill with defaults
// (spec §4.1 "missing ordinals resolve to the column's current default").
func DecodeRow(b []byte) (map[uint16]value.Value, error) {
	if len(b) < 4 {
		return nil, errs.New(errs.KvBackendError, "truncated row header")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	out := make(map[uint16]value.Value, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 2 {
			return nil, errs.New(errs.KvBackendError, "truncated row entry ordinal")
		}
		ord := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if len(b) < 4 {
			return nil, errs.New(errs.KvBackendError, "truncated row entry length")
		}
		ln := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < ln {
			return nil, errs.New(errs.KvBackendError, "truncated row entry payload")
		}
		v, err := decodeScalar(b[:ln])
		if err != nil {
			return nil, err
		}
		out[ord] = v
		b = b[ln:]
	}
	return out, nil
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func encodeScalar(v value.Value) ([]byte, error) {
	if v.IsNull() {
		return []byte{rvNull}, nil
	}
	switch v.Typ {
	case value.TypeBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{rvBool, b}, nil
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		buf := []byte{rvInt}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		return append(buf, tmp[:]...), nil
	case value.TypeFloat8:
		buf := []byte{rvFloat}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Float))
		return append(buf, tmp[:]...), nil
	case value.TypeDecimal:
		return append([]byte{rvDecimal}, []byte(v.Dec.String())...), nil
	case value.TypeText:
		return append([]byte{rvText}, []byte(v.Str)...), nil
	case value.TypeBytea:
		return append([]byte{rvBytes}, v.Bytes...), nil
	case value.TypeUUID:
		return append([]byte{rvUUID}, v.UUID[:]...), nil
	case value.TypeDate, value.TypeTime, value.TypeTimestamp, value.TypeTimestampTZ:
		tag := map[value.Type]byte{
			value.TypeDate: rvDate, value.TypeTime: rvTime,
			value.TypeTimestamp: rvTimestamp, value.TypeTimestampTZ: rvTimestampTZ,
		}[v.Typ]
		b, err := v.Time.MarshalBinary()
		if err != nil {
			return nil, errs.Wrap(errs.KvBackendError, err, "encode time value")
		}
		return append([]byte{tag}, b...), nil
	case value.TypeInterval:
		buf := make([]byte, 1, 17)
		buf[0] = rvInterval
		var tmp [16]byte
		binary.BigEndian.PutUint32(tmp[0:4], uint32(v.Ival.Months))
		binary.BigEndian.PutUint32(tmp[4:8], uint32(v.Ival.Days))
		binary.BigEndian.PutUint64(tmp[8:16], uint64(v.Ival.Micros))
		return append(buf, tmp[:]...), nil
	case value.TypeJSON:
		js, err := json.Marshal(v.JSON)
		if err != nil {
			return nil, errs.Wrap(errs.JsonParseError, err, "encode json value")
		}
		return append([]byte{rvJSON}, js...), nil
	case value.TypeArray:
		buf := []byte{rvArray, byte(v.ElemT)}
		buf = appendU32(buf, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			enc, err := encodeScalar(e)
			if err != nil {
				return nil, err
			}
			buf = appendU32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
		return buf, nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "cannot encode value of type %s", v.Typ)
	}
}

func decodeScalar(b []byte) (value.Value, error) {
	if len(b) == 0 {
		return value.Value{}, errs.New(errs.KvBackendError, "empty scalar payload")
	}
	tag, body := b[0], b[1:]
	switch tag {
	case rvNull:
		return value.Null(value.TypeNull), nil
	case rvBool:
		if len(body) < 1 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated bool value")
		}
		return value.Bool(body[0] != 0), nil
	case rvInt:
		if len(body) < 8 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated int value")
		}
		return value.Int8(int64(binary.BigEndian.Uint64(body))), nil
	case rvFloat:
		if len(body) < 8 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated float value")
		}
		return value.Float8(math.Float64frombits(binary.BigEndian.Uint64(body))), nil
	case rvDecimal:
		d, err := decimal.NewFromString(string(body))
		if err != nil {
			return value.Value{}, errs.Wrap(errs.KvBackendError, err, "decode decimal value")
		}
		return value.Decimal(d), nil
	case rvText:
		return value.Text(string(body)), nil
	case rvBytes:
		return value.Bytea(append([]byte(nil), body...)), nil
	case rvUUID:
		if len(body) < 16 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated uuid value")
		}
		var u uuid.UUID
		copy(u[:], body)
		return value.UUIDVal(u), nil
	case rvDate, rvTime, rvTimestamp, rvTimestampTZ:
		var tm time.Time
		if err := tm.UnmarshalBinary(body); err != nil {
			return value.Value{}, errs.Wrap(errs.KvBackendError, err, "decode time value")
		}
		var t value.Value
		switch tag {
		case rvDate:
			t = value.Date(tm)
		case rvTime:
			t = value.Time(tm)
		case rvTimestamp:
			t = value.Timestamp(tm)
		case rvTimestampTZ:
			t = value.TimestampTZ(tm)
		}
		return t, nil
	case rvInterval:
		if len(body) < 16 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated interval value")
		}
		iv := value.Interval{
			Months: int32(binary.BigEndian.Uint32(body[0:4])),
			Days:   int32(binary.BigEndian.Uint32(body[4:8])),
			Micros: int64(binary.BigEndian.Uint64(body[8:16])),
		}
		return value.Value{Typ: value.TypeInterval, Ival: iv}, nil
	case rvJSON:
		var out any
		if err := json.Unmarshal(body, &out); err != nil {
			return value.Value{}, errs.Wrap(errs.JsonParseError, err, "decode json value")
		}
		return value.JSONVal(out), nil
	case rvArray:
		if len(body) < 5 {
			return value.Value{}, errs.New(errs.KvBackendError, "truncated array header")
		}
		elemT := value.Type(body[0])
		n := binary.BigEndian.Uint32(body[1:5])
		body = body[5:]
		elems := make([]value.Value, 0, n)
		for i := uint32(0); i < n; i++ {
			if len(body) < 4 {
				return value.Value{}, errs.New(errs.KvBackendError, "truncated array entry length")
			}
			ln := binary.BigEndian.Uint32(body[:4])
			body = body[4:]
			if uint32(len(body)) < ln {
				return value.Value{}, errs.New(errs.KvBackendError, "truncated array entry payload")
			}
			e, err := decodeScalar(body[:ln])
			if err != nil {
				return value.Value{}, err
			}
			elems = append(elems, e)
			body = body[ln:]
		}
		return value.Array(elemT, elems), nil
	default:
		return value.Value{}, errs.New(errs.KvBackendError, "unknown row value tag 0x%x", tag)
	}
}
