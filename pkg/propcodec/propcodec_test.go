package propcodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc, err := Encode(v)
	require.NoError(t, err)
	dec, n, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	return dec
}

func TestScalarRoundTrip(t *testing.T) {
	require.Equal(t, Null(), roundTrip(t, Null()))
	require.Equal(t, Bool(true), roundTrip(t, Bool(true)))
	require.Equal(t, Int(-42), roundTrip(t, Int(-42)))
	require.Equal(t, Float(3.5), roundTrip(t, Float(3.5)))
	require.Equal(t, String("hello"), roundTrip(t, String("hello")))
	require.Equal(t, DateTime(1_700_000_000), roundTrip(t, DateTime(1_700_000_000)))
	require.Equal(t, Blob([]byte{1, 2, 3}), roundTrip(t, Blob([]byte{1, 2, 3})))
}

func TestFloatRoundTripPreservesNaN(t *testing.T) {
	nan := math.NaN()
	got := roundTrip(t, Float(nan))
	require.True(t, math.IsNaN(got.Float))
}

func TestListRoundTrip(t *testing.T) {
	v := List([]Value{Int(1), String("a"), Bool(false), List([]Value{Int(2)})})
	got := roundTrip(t, v)
	require.Equal(t, v, got)
}

func TestMapRoundTripPreservesInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("z", Int(1))
	m.Set("a", Int(2))
	m.Set("m", Int(3))
	got := roundTrip(t, MapValue(m))
	require.Equal(t, []string{"z", "a", "m"}, got.Map.Keys())
}

func TestMapOverwritePreservesOriginalPosition(t *testing.T) {
	m := NewMap()
	m.Set("a", Int(1))
	m.Set("b", Int(2))
	m.Set("a", Int(99))
	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(99), v.Int)
}

func TestMapDeletePreservesOrderOfRemaining(t *testing.T) {
	m := NewMap()
	m.Set("a", Int(1))
	m.Set("b", Int(2))
	m.Set("c", Int(3))
	m.Delete("b")
	require.Equal(t, []string{"a", "c"}, m.Keys())
	require.Equal(t, 2, m.Len())
}

func TestEncodeMapDecodeMap(t *testing.T) {
	m := NewMap()
	m.Set("name", String("alice"))
	m.Set("age", Int(30))
	enc, err := EncodeMap(m)
	require.NoError(t, err)
	got, err := DecodeMap(enc)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "age"}, got.Keys())
}

func TestValidatePropertyValueRejectsBareMap(t *testing.T) {
	m := NewMap()
	m.Set("x", Int(1))
	err := ValidatePropertyValue(MapValue(m))
	require.ErrorIs(t, err, ErrMapNotAllowed)
}

func TestValidatePropertyValueAllowsDurationMapInsideList(t *testing.T) {
	dur := NewMap()
	dur.Set(DurationKindKey, String(DurationKindValue))
	dur.Set("seconds", Int(60))
	v := List([]Value{MapValue(dur)})
	require.NoError(t, ValidatePropertyValue(v))
}

func TestValidatePropertyValueRejectsNonDurationMapInsideList(t *testing.T) {
	plain := NewMap()
	plain.Set("x", Int(1))
	v := List([]Value{MapValue(plain)})
	require.ErrorIs(t, ValidatePropertyValue(v), ErrMapNotAllowed)
}

func TestValidatePropertyValueAllowsNestedLists(t *testing.T) {
	v := List([]Value{List([]Value{Int(1), Int(2)}), List([]Value{String("a")})})
	require.NoError(t, ValidatePropertyValue(v))
}

func TestIsDuration(t *testing.T) {
	m := NewMap()
	require.False(t, m.IsDuration())
	m.Set(DurationKindKey, String(DurationKindValue))
	require.True(t, m.IsDuration())
}

func TestDecodeTruncatedBufferErrors(t *testing.T) {
	_, _, err := Decode([]byte{byte(KindString), 0xFF, 0xFF, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrTruncated)
}
