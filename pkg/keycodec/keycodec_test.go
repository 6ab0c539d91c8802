package keycodec

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func encStr(t *testing.T, v Value) string {
	t.Helper()
	b, err := EncodeValue(v)
	require.NoError(t, err)
	return string(b)
}

func TestIntOrderingMatchesSignedOrder(t *testing.T) {
	ints := []int64{math.MinInt64, -1_000_000, -1, 0, 1, 1_000_000, math.MaxInt64}
	encoded := make([]string, len(ints))
	for i, v := range ints {
		encoded[i] = encStr(t, IntValue(v))
	}
	require.True(t, sort.StringsAreSorted(encoded))
}

func TestFloatOrderingMatchesNumericOrderAndHandlesSignedZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	floats := []float64{math.Inf(-1), -1e300, -1.5, negZero, 0, 1.5, 1e300, math.Inf(1)}
	encoded := make([]string, len(floats))
	for i, v := range floats {
		encoded[i] = encStr(t, FloatValue(v))
	}
	require.True(t, sort.StringsAreSorted(encoded))

	require.Equal(t, encStr(t, FloatValue(negZero)) < encStr(t, FloatValue(0)), true)
}

func TestNaNCanonicalizesToSingleEncodingAndSortsLast(t *testing.T) {
	nan1 := math.NaN()
	nan2 := -math.NaN()
	require.Equal(t, encStr(t, FloatValue(nan1)), encStr(t, FloatValue(nan2)))
	require.True(t, encStr(t, FloatValue(1e300)) < encStr(t, FloatValue(nan1)))
}

func TestStringOrderingIsLexicographic(t *testing.T) {
	strs := []string{"", "a", "aa", "ab", "b", "banana", "z"}
	encoded := make([]string, len(strs))
	for i, s := range strs {
		encoded[i] = encStr(t, StringValue(s))
	}
	require.True(t, sort.StringsAreSorted(encoded))
}

func TestKindOrderingPutsNullFirst(t *testing.T) {
	require.True(t, encStr(t, NullValue()) < encStr(t, BoolValue(false)))
	require.True(t, encStr(t, BoolValue(true)) < encStr(t, IntValue(math.MinInt64)))
}

func TestListOrderingIsLexByElement(t *testing.T) {
	short := ListValue([]Value{IntValue(1)})
	longer := ListValue([]Value{IntValue(1), IntValue(2)})
	other := ListValue([]Value{IntValue(2)})

	require.True(t, encStr(t, short) < encStr(t, longer))
	require.True(t, encStr(t, longer) < encStr(t, other))
}

func TestEncodeKeyOrdersByIndexThenValueThenRowID(t *testing.T) {
	k1, err := EncodeKey(1, IntValue(5), 1)
	require.NoError(t, err)
	k2, err := EncodeKey(1, IntValue(5), 2)
	require.NoError(t, err)
	k3, err := EncodeKey(1, IntValue(6), 1)
	require.NoError(t, err)
	k4, err := EncodeKey(2, IntValue(1), 1)
	require.NoError(t, err)

	require.True(t, string(k1) < string(k2))
	require.True(t, string(k2) < string(k3))
	require.True(t, string(k3) < string(k4))
}

func TestCompareMatchesEncodedOrder(t *testing.T) {
	c, err := Compare(IntValue(1), IntValue(2))
	require.NoError(t, err)
	require.Equal(t, -1, c)

	c2, err := Compare(StringValue("b"), StringValue("a"))
	require.NoError(t, err)
	require.Equal(t, 1, c2)

	c3, err := Compare(IntValue(5), IntValue(5))
	require.NoError(t, err)
	require.Equal(t, 0, c3)
}

func TestUnsupportedKindIsRejected(t *testing.T) {
	_, err := EncodeValue(Value{Kind: 99})
	require.ErrorIs(t, err, ErrUnsupportedValue)
}
