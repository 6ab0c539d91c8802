// Package keycodec encodes typed property values and composite index keys
// into memcmp-ordered byte strings (spec §4.4). The encoding is one-way:
// callers need ordering, equality, and uniqueness within (index id, row id),
// never a decoder back to the original value.
package keycodec

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrUnsupportedValue is returned for a Value whose Kind cannot appear in an
// index key (e.g. Map, Blob — spec §4.4 enumerates the supported kinds).
var ErrUnsupportedValue = errors.New("keycodec: unsupported value kind for index key")

// stringCollator produces memcmp-ordered sort keys for string values so
// that index ordering matches the same Unicode collation ORDER BY uses
// (pkg/cypher/value), rather than a second, divergent byte-compare.
var stringCollator = collate.New(language.Und)

var bufferPool = sync.Pool{New: func() any { return &collate.Buffer{} }}

// Kind tags the dynamic type of an indexable value. Tag bytes start at 1 so
// that 0x00 is free to use as a list terminator (see the KindList case of
// EncodeValue) — the
// ordering between kinds is exactly the numeric order of these constants,
// matching the type-tag byte's role as the most-significant ordering key.
type Kind byte

const (
	KindNull Kind = 1 + iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindList
)

// Value is the minimal tagged union keycodec needs to order a property
// value or index probe. Only one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64 // Unix nanoseconds, same encoding as Int
	List     []Value
}

// NullValue, BoolValue, IntValue, ... construct Values succinctly.
func NullValue() Value                { return Value{Kind: KindNull} }
func BoolValue(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value      { return Value{Kind: KindString, Str: s} }
func DateTimeValue(ns int64) Value    { return Value{Kind: KindDateTime, DateTime: ns} }
func ListValue(items []Value) Value   { return Value{Kind: KindList, List: items} }

// EncodeKey produces the composite index key (index_id, typed value, row_id)
// as a single memcmp-ordered byte string: a fixed-width big-endian index id,
// the type-tagged encoding of v, and a fixed-width big-endian row id so that
// entries for the same (index_id, value) are still totally ordered and
// unique by row id.
func EncodeKey(indexID uint32, v Value, rowID uint64) ([]byte, error) {
	var buf []byte
	buf = appendUint32(buf, indexID)
	enc, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	buf = append(buf, enc...)
	buf = appendUint64(buf, rowID)
	return buf, nil
}

// EncodeValue encodes a single typed value into its canonical,
// memcmp-ordered byte representation (tag byte + per-type payload).
func EncodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte{byte(KindNull)}, nil
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(KindBool), b}, nil
	case KindInt:
		out := make([]byte, 0, 9)
		out = append(out, byte(KindInt))
		out = appendUint64(out, biasInt64(v.Int))
		return out, nil
	case KindFloat:
		out := make([]byte, 0, 9)
		out = append(out, byte(KindFloat))
		out = appendUint64(out, orderedFloatBits(v.Float))
		return out, nil
	case KindDateTime:
		out := make([]byte, 0, 9)
		out = append(out, byte(KindDateTime))
		out = appendUint64(out, biasInt64(v.DateTime))
		return out, nil
	case KindString:
		buf := bufferPool.Get().(*collate.Buffer)
		key := stringCollator.KeyFromString(buf, v.Str)
		// 0x00 bytes are escaped as 0x00 0xFF and the key is closed by
		// 0x00 0x00, so a shorter key that is a prefix of a longer one
		// still sorts first under a plain byte compare.
		out := make([]byte, 0, len(key)+3)
		out = append(out, byte(KindString))
		for _, b := range key {
			if b == 0x00 {
				out = append(out, 0x00, 0xFF)
				continue
			}
			out = append(out, b)
		}
		out = append(out, 0x00, 0x00)
		buf.Reset()
		bufferPool.Put(buf)
		return out, nil
	case KindList:
		out := []byte{byte(KindList)}
		for _, item := range v.List {
			enc, err := EncodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
		}
		out = append(out, 0x00) // terminator: shorter prefix sorts first
		return out, nil
	default:
		return nil, ErrUnsupportedValue
	}
}

// biasInt64 maps the signed int64 range onto uint64 by flipping the sign
// bit, preserving numeric order in the unsigned, big-endian byte space:
// MinInt64 -> 0, 0 -> 1<<63, MaxInt64 -> ^uint64(0).
func biasInt64(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

// orderedFloatBits maps an IEEE-754 float64's bit pattern onto a uint64
// whose big-endian byte order matches the float's numeric total order
// (treating all NaNs as sorting after +Inf, and -0 immediately before +0).
// Negative floats (sign bit set) have every bit flipped; non-negative
// floats have only the sign bit flipped. This is the standard
// order-preserving float encoding used by memcmp-ordered key-value stores.
func orderedFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if f != f { // NaN: canonicalize to a single representation so equal
		// NaN inputs compare equal and sort after every real number.
		bits = math.Float64bits(math.NaN())
	}
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Compare reports the memcmp ordering between two values' encodings (-1, 0,
// 1). It is a convenience for callers that don't need the encoded bytes
// themselves — e.g. planner constant-folding of key-range predicates.
func Compare(a, b Value) (int, error) {
	ea, err := EncodeValue(a)
	if err != nil {
		return 0, err
	}
	eb, err := EncodeValue(b)
	if err != nil {
		return 0, err
	}
	switch {
	case string(ea) < string(eb):
		return -1, nil
	case string(ea) > string(eb):
		return 1, nil
	default:
		return 0, nil
	}
}
