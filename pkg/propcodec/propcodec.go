// Package propcodec is the opaque binary codec for property values and
// property maps (spec §4 "Property codec", data model §3). Unlike
// keycodec, round-tripping is required: this is the on-disk representation
// stored inside node and edge records, not an index key.
package propcodec

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrTruncated is returned when a buffer ends before a value's declared
	// length is satisfied — always a corruption, since every write goes
	// through Encode.
	ErrTruncated = errors.New("propcodec: truncated buffer")
	// ErrBadTag is returned for a type tag byte outside the known range.
	ErrBadTag = errors.New("propcodec: unknown type tag")
	// ErrMapNotAllowed reports a Map value used where the data model
	// forbids it: as a bare node/edge property, or nested anywhere other
	// than directly inside a List, and even there only when shaped as the
	// reserved duration discriminator (data model §3).
	ErrMapNotAllowed = errors.New("propcodec: map value not allowed here")
)

// Kind tags the dynamic type of a property value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindBlob
	KindList
	KindMap
)

// DurationKindKey is the reserved map key that marks a Map value as a
// structured duration rather than an arbitrary (disallowed) nested object.
const DurationKindKey = "__kind"

// DurationKindValue is the only permitted value of DurationKindKey.
const DurationKindValue = "duration"

// Value is the tagged union stored as a node or edge property, or nested
// inside a List or duration Map.
type Value struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64
	Blob     []byte
	List     []Value
	Map      *Map
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value         { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value     { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func DateTime(ns int64) Value   { return Value{Kind: KindDateTime, DateTime: ns} }
func Blob(b []byte) Value       { return Value{Kind: KindBlob, Blob: b} }
func List(items []Value) Value  { return Value{Kind: KindList, List: items} }
func MapValue(m *Map) Value     { return Value{Kind: KindMap, Map: m} }

// Map is an insertion-ordered string-keyed map, matching the data model's
// "ordered map of property name → property value" (spec §3).
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// Set inserts or overwrites key, preserving its original position on
// overwrite and appending on first insertion.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get reports the value for key and whether it was present.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key, preserving order of the remaining keys.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len reports the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// IsDuration reports whether m is shaped as the reserved duration
// discriminator: __kind == "duration".
func (m *Map) IsDuration() bool {
	v, ok := m.Get(DurationKindKey)
	return ok && v.Kind == KindString && v.Str == DurationKindValue
}

// ValidatePropertyValue enforces the data model's rule that bare Map values
// cannot be stored as a property, and that a Map nested inside a List is
// permitted only when it is the duration discriminator shape (spec §3).
// Lists may nest further lists and scalars without restriction.
func ValidatePropertyValue(v Value) error {
	if v.Kind == KindMap {
		return ErrMapNotAllowed
	}
	if v.Kind == KindList {
		for _, item := range v.List {
			if err := validateListElement(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateListElement(v Value) error {
	switch v.Kind {
	case KindMap:
		if v.Map == nil || !v.Map.IsDuration() {
			return ErrMapNotAllowed
		}
		return nil
	case KindList:
		for _, item := range v.List {
			if err := validateListElement(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// Encode serializes v to its binary form. Callers that need the data-model
// restriction on Map enforced should call ValidatePropertyValue first;
// Encode itself is representationally complete (it can round-trip any
// Value, including a bare Map) so that internal code — e.g. duration maps
// carried as List elements — never needs a special case.
func Encode(v Value) ([]byte, error) {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		return buf, nil
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return append(buf, b), nil
	case KindInt:
		return appendUint64(buf, uint64(v.Int)), nil
	case KindFloat:
		return appendUint64(buf, math.Float64bits(v.Float)), nil
	case KindDateTime:
		return appendUint64(buf, uint64(v.DateTime)), nil
	case KindString:
		buf = appendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...), nil
	case KindBlob:
		buf = appendUint32(buf, uint32(len(v.Blob)))
		return append(buf, v.Blob...), nil
	case KindList:
		buf = appendUint32(buf, uint32(len(v.List)))
		var err error
		for _, item := range v.List {
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindMap:
		if v.Map == nil {
			buf = appendUint32(buf, 0)
			return buf, nil
		}
		keys := v.Map.Keys()
		buf = appendUint32(buf, uint32(len(keys)))
		var err error
		for _, k := range keys {
			buf = appendUint32(buf, uint32(len(k)))
			buf = append(buf, k...)
			val, _ := v.Map.Get(k)
			buf, err = appendValue(buf, val)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, ErrBadTag
	}
}

// Decode parses exactly one value from the front of buf, returning it and
// the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	return readValue(buf)
}

func readValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, ErrTruncated
	}
	kind := Kind(buf[0])
	rest := buf[1:]
	consumed := 1

	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, consumed, nil
	case KindBool:
		if len(rest) < 1 {
			return Value{}, 0, ErrTruncated
		}
		return Value{Kind: KindBool, Bool: rest[0] != 0}, consumed + 1, nil
	case KindInt:
		u, n, err := readUint64(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindInt, Int: int64(u)}, consumed + n, nil
	case KindFloat:
		u, n, err := readUint64(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindFloat, Float: math.Float64frombits(u)}, consumed + n, nil
	case KindDateTime:
		u, n, err := readUint64(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindDateTime, DateTime: int64(u)}, consumed + n, nil
	case KindString:
		s, n, err := readLenPrefixedString(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: s}, consumed + n, nil
	case KindBlob:
		length, n, err := readUint32(rest)
		if err != nil {
			return Value{}, 0, err
		}
		rest = rest[n:]
		if uint32(len(rest)) < length {
			return Value{}, 0, ErrTruncated
		}
		blob := make([]byte, length)
		copy(blob, rest[:length])
		return Value{Kind: KindBlob, Blob: blob}, consumed + n + int(length), nil
	case KindList:
		count, n, err := readUint32(rest)
		if err != nil {
			return Value{}, 0, err
		}
		total := consumed + n
		rest = rest[n:]
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			item, m, err := readValue(rest)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			rest = rest[m:]
			total += m
		}
		return Value{Kind: KindList, List: items}, total, nil
	case KindMap:
		count, n, err := readUint32(rest)
		if err != nil {
			return Value{}, 0, err
		}
		total := consumed + n
		rest = rest[n:]
		m := NewMap()
		for i := uint32(0); i < count; i++ {
			key, kn, err := readLenPrefixedString(rest)
			if err != nil {
				return Value{}, 0, err
			}
			rest = rest[kn:]
			total += kn
			val, vn, err := readValue(rest)
			if err != nil {
				return Value{}, 0, err
			}
			rest = rest[vn:]
			total += vn
			m.Set(key, val)
		}
		return Value{Kind: KindMap, Map: m}, total, nil
	default:
		return Value{}, 0, ErrBadTag
	}
}

func readLenPrefixedString(buf []byte) (string, int, error) {
	length, n, err := readUint32(buf)
	if err != nil {
		return "", 0, err
	}
	buf = buf[n:]
	if uint32(len(buf)) < length {
		return "", 0, ErrTruncated
	}
	return string(buf[:length]), n + int(length), nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(buf), 4, nil
}

func readUint64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(buf), 8, nil
}

// EncodeMap is a convenience for encoding an entire property map as a
// top-level Map value (used for the node/edge property blob).
func EncodeMap(m *Map) ([]byte, error) {
	return Encode(Value{Kind: KindMap, Map: m})
}

// DecodeMap decodes a property-map blob previously produced by EncodeMap.
func DecodeMap(buf []byte) (*Map, error) {
	v, _, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindMap {
		return nil, ErrBadTag
	}
	if v.Map == nil {
		return NewMap(), nil
	}
	return v.Map, nil
}
