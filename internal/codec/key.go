// Package codec implements the tuple & schema codec (spec §4.1): the
// mapping between relational rows/keys and the byte strings stored in the
// KV backend. Key encoding is order-preserving so that a lexicographic
// KV range scan matches the declared logical order of an index.
package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/shopspring/decimal"
)

// Namespace prefix bytes, kept in their own byte so table data, indexes,
// catalog, and sequences never collide in the shared KV keyspace.
const (
	PrefixRow byte = 0x01
	PrefixIdx byte = 0x02
	PrefixCat byte = 0x03
	PrefixSeq byte = 0x04
)

// Per-column type tags used in the order-preserving key encoding. These
// are independent of value.Type's ordinal values so the on-disk encoding
// is stable even if value.Type gains new members.
const (
	tagNullLow  byte = 0x00
	tagBool     byte = 0x10
	tagInt      byte = 0x20
	tagFloat    byte = 0x30
	tagDecimal  byte = 0x31
	tagText     byte = 0x40
	tagBytes    byte = 0x41
	tagUUID     byte = 0x42
	tagDate     byte = 0x50
	tagTime     byte = 0x51
	tagTS       byte = 0x52
	tagTSTZ     byte = 0x53
	tagNullHigh byte = 0xFF
)

// RowKey builds the primary row key: prefix_row | table_id(4) | pk_bytes.
func RowKey(tableID uint32, pk []byte) []byte {
	buf := make([]byte, 0, 5+len(pk))
	buf = append(buf, PrefixRow)
	buf = appendU32(buf, tableID)
	buf = append(buf, pk...)
	return buf
}

// IndexKey builds a secondary index key:
// prefix_idx | table_id(4) | index_id(4) | key_bytes | pk_bytes. The pk
// suffix makes non-unique indexes unique in KV space (spec §4.1).
func IndexKey(tableID, indexID uint32, keyBytes, pk []byte) []byte {
	buf := make([]byte, 0, 9+len(keyBytes)+len(pk))
	buf = append(buf, PrefixIdx)
	buf = appendU32(buf, tableID)
	buf = appendU32(buf, indexID)
	buf = append(buf, keyBytes...)
	buf = append(buf, pk...)
	return buf
}

// IndexKeyPrefix builds the scan-start prefix for all entries of one
// index (no key_bytes/pk yet appended), used for full-index scans.
func IndexKeyPrefix(tableID, indexID uint32) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, PrefixIdx)
	buf = appendU32(buf, tableID)
	buf = appendU32(buf, indexID)
	return buf
}

// CatalogKey builds a catalog key: prefix_cat | object_kind(1) | name_bytes.
func CatalogKey(kind byte, name string) []byte {
	buf := make([]byte, 0, 2+len(name))
	buf = append(buf, PrefixCat, kind)
	buf = append(buf, []byte(name)...)
	return buf
}

// SequenceKey builds a sequence key: prefix_seq | name_bytes.
func SequenceKey(name string) []byte {
	buf := make([]byte, 0, 1+len(name))
	buf = append(buf, PrefixSeq)
	buf = append(buf, []byte(name)...)
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// NullsOrder controls whether NULL sorts before or after every non-null
// value of the column it tags, per the index definition (spec §4.1).
type NullsOrder int

const (
	NullsLast NullsOrder = iota
	NullsFirst
)

// KeyColumnSpec describes how one column participates in a key: its sort
// direction and where NULL sits relative to non-null values.
type KeyColumnSpec struct {
	Desc  bool
	Nulls NullsOrder
}

// EncodeKeyColumn appends the order-preserving encoding of one column
// value to buf and returns the extended slice. When desc is true, the
// payload bytes are bitwise-complemented so a descending key column still
// sorts correctly under a plain ascending byte compare.
func EncodeKeyColumn(buf []byte, v value.Value, desc bool, nulls NullsOrder) ([]byte, error) {
	if v.IsNull() {
		if nulls == NullsFirst {
			return append(buf, tagNullLow), nil
		}
		return append(buf, tagNullHigh), nil
	}

	switch v.Typ {
	case value.TypeBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return appendFixed(buf, tagBool, []byte{b}, desc), nil
	case value.TypeInt2, value.TypeInt4, value.TypeInt8:
		return appendFixed(buf, tagInt, encodeInt64Bytes(v.Int), desc), nil
	case value.TypeFloat8:
		return appendFixed(buf, tagFloat, encodeFloat64Bytes(v.Float), desc), nil
	case value.TypeDecimal:
		return appendVarlen(buf, tagDecimal, []byte(v.Dec.String()), desc), nil
	case value.TypeText:
		return appendVarlen(buf, tagText, []byte(v.Str), desc), nil
	case value.TypeBytea:
		return appendVarlen(buf, tagBytes, v.Bytes, desc), nil
	case value.TypeUUID:
		return appendFixed(buf, tagUUID, v.UUID[:], desc), nil
	case value.TypeDate:
		return appendFixed(buf, tagDate, encodeInt64Bytes(v.Time.Unix()), desc), nil
	case value.TypeTime:
		return appendFixed(buf, tagTime, encodeInt64Bytes(v.Time.UnixMicro()), desc), nil
	case value.TypeTimestamp:
		return appendFixed(buf, tagTS, encodeInt64Bytes(v.Time.UnixMicro()), desc), nil
	case value.TypeTimestampTZ:
		return appendFixed(buf, tagTSTZ, encodeInt64Bytes(v.Time.UnixMicro()), desc), nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "type %s is not usable as a key column", v.Typ)
	}
}

func appendFixed(buf []byte, tag byte, payload []byte, desc bool) []byte {
	buf = append(buf, tag)
	if desc {
		for _, c := range payload {
			buf = append(buf, ^c)
		}
	} else {
		buf = append(buf, payload...)
	}
	return buf
}

// appendVarlen escapes payload with a NUL-terminator scheme so
// concatenated variable-length key columns remain self-delimiting, then
// (if desc) bitwise-complements the escaped bytes so descending order
// still falls out of a plain ascending byte compare. Escaping and
// flipping commute: flip(terminator 0x00,0x00) == 0xFF,0xFF and
// flip(escape 0x00,0xFF) == 0xFF,0x00, both still unambiguous.
func appendVarlen(buf []byte, tag byte, payload []byte, desc bool) []byte {
	buf = append(buf, tag)
	put := func(b byte) { buf = append(buf, b) }
	if desc {
		put = func(b byte) { buf = append(buf, ^b) }
	}
	for _, c := range payload {
		if c == 0x00 {
			put(0x00)
			put(0xFF)
		} else {
			put(c)
		}
	}
	put(0x00)
	put(0x00)
	return buf
}

func encodeInt64Bytes(v int64) []byte {
	// Flip the sign bit so unsigned-memcmp order matches signed numeric order.
	u := uint64(v) ^ (1 << 63)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], u)
	return tmp[:]
}

func decodeInt64Bytes(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}

// encodeFloat64Bytes encodes an IEEE-754 float so memcmp order matches
// numeric order: flip all bits for negatives, flip just the sign bit for
// non-negatives (the standard float ordered-encoding trick).
func encodeFloat64Bytes(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], bits)
	return tmp[:]
}

func decodeFloat64Bytes(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// DecodeKeyColumn decodes one column value from the front of b, returning
// the decoded value and the remaining bytes. t is the column's declared
// logical type (needed to reconstruct int2/int4 vs int8, etc.).
func DecodeKeyColumn(b []byte, t value.Type, desc bool, nulls NullsOrder) (value.Value, []byte, error) {
	if len(b) == 0 {
		return value.Value{}, nil, errs.New(errs.KvBackendError, "empty key segment")
	}
	tag, rest := b[0], b[1:]
	if tag == tagNullLow || tag == tagNullHigh {
		return value.Null(t), rest, nil
	}
	switch tag {
	case tagBool:
		if len(rest) < 1 {
			return value.Value{}, nil, errs.New(errs.KvBackendError, "truncated bool key")
		}
		bb := rest[0]
		if desc {
			bb = ^bb
		}
		return value.Bool(bb != 0), rest[1:], nil
	case tagInt:
		payload, tail, err := takeFixed(rest, 8, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		return intValueOf(t, decodeInt64Bytes(payload)), tail, nil
	case tagFloat:
		payload, tail, err := takeFixed(rest, 8, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.Float8(decodeFloat64Bytes(payload)), tail, nil
	case tagUUID:
		payload, tail, err := takeFixed(rest, 16, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		var u uuid.UUID
		copy(u[:], payload)
		return value.UUIDVal(u), tail, nil
	case tagDate, tagTime, tagTS, tagTSTZ:
		payload, tail, err := takeFixed(rest, 8, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		sec := decodeInt64Bytes(payload)
		var tv value.Value
		switch tag {
		case tagDate:
			tv = value.Date(time.Unix(sec, 0).UTC())
		case tagTime:
			tv = value.Time(time.UnixMicro(sec).UTC())
		case tagTS:
			tv = value.Timestamp(time.UnixMicro(sec).UTC())
		case tagTSTZ:
			tv = value.TimestampTZ(time.UnixMicro(sec).UTC())
		}
		return tv, tail, nil
	case tagDecimal:
		data, tail, err := takeVarlen(rest, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return value.Value{}, nil, errs.Wrap(errs.KvBackendError, err, "decode decimal key")
		}
		return value.Decimal(d), tail, nil
	case tagText:
		data, tail, err := takeVarlen(rest, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.Text(string(data)), tail, nil
	case tagBytes:
		data, tail, err := takeVarlen(rest, desc)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.Bytea(data), tail, nil
	default:
		return value.Value{}, nil, errs.New(errs.KvBackendError, "unknown key tag 0x%x", tag)
	}
}

func takeFixed(b []byte, n int, desc bool) (payload, tail []byte, err error) {
	if len(b) < n {
		return nil, nil, errs.New(errs.KvBackendError, "truncated fixed-width key segment")
	}
	payload = append([]byte(nil), b[:n]...)
	if desc {
		for i := range payload {
			payload[i] = ^payload[i]
		}
	}
	return payload, b[n:], nil
}

// takeVarlen scans b for the escaped-NUL terminator in the (possibly
// complemented) domain selected by desc, returning the decoded plain
// payload bytes and the remaining tail of b.
func takeVarlen(b []byte, desc bool) (data []byte, tail []byte, err error) {
	marker := byte(0x00)
	if desc {
		marker = 0xFF
	}
	i := 0
	for {
		if i >= len(b) {
			return nil, nil, errs.New(errs.KvBackendError, "unterminated key segment")
		}
		if b[i] == marker {
			if i+1 >= len(b) {
				return nil, nil, errs.New(errs.KvBackendError, "truncated escape in key segment")
			}
			switch b[i+1] {
			case marker:
				return data, b[i+2:], nil
			case ^marker:
				data = append(data, 0x00)
				i += 2
				continue
			default:
				return nil, nil, errs.New(errs.KvBackendError, "invalid escape in key segment")
			}
		}
		c := b[i]
		if desc {
			c = ^c
		}
		data = append(data, c)
		i++
	}
}

func intValueOf(t value.Type, i int64) value.Value {
	switch t {
	case value.TypeInt2:
		return value.Int2(int16(i))
	case value.TypeInt4:
		return value.Int4(int32(i))
	default:
		return value.Int8(i)
	}
}

// BuildKeyTuple encodes an ordered list of (value, desc, nulls) columns
// into one key segment, used for both primary keys and secondary index
// keys.
func BuildKeyTuple(vals []value.Value, specs []KeyColumnSpec) ([]byte, error) {
	if len(vals) != len(specs) {
		return nil, errs.New(errs.KvBackendError, "key tuple arity mismatch: %d values, %d specs", len(vals), len(specs))
	}
	var buf []byte
	for i, v := range vals {
		var err error
		buf, err = EncodeKeyColumn(buf, v, specs[i].Desc, specs[i].Nulls)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeKeyTuple is the inverse of BuildKeyTuple, given the declared
// logical types of each key column.
func DecodeKeyTuple(b []byte, types []value.Type, specs []KeyColumnSpec) ([]value.Value, error) {
	if len(types) != len(specs) {
		return nil, errs.New(errs.KvBackendError, "key tuple arity mismatch")
	}
	out := make([]value.Value, len(types))
	rest := b
	for i, t := range types {
		v, r, err := DecodeKeyColumn(rest, t, specs[i].Desc, specs[i].Nulls)
		if err != nil {
			return nil, err
		}
		out[i] = v
		rest = r
	}
	return out, nil
}
