package ccs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind Kind
		want any
	}{
		{"integer", "3", KindInt, int64(3)},
		{"negative integer", "-42", KindInt, int64(-42)},
		{"float with point", "3.5", KindFloat, 3.5},
		{"float with exponent", "5e-4", KindFloat, 5e-4},
		{"true literal", "True", KindBool, true},
		{"false literal", "False", KindBool, false},
		{"none literal", "None", KindNull, nil},
		{"plain string", "FE55", KindString, "FE55"},
		{"string containing e", "hello", KindString, "hello"},
		{"trailing whitespace stripped", "3\n", KindInt, int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseValue(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.want, v.Interface())
		})
	}
}

func TestParseValueList(t *testing.T) {
	v := ParseValue("[1, 2, 3]")
	items, ok := v.List()
	require.True(t, ok)
	require.Len(t, items, 3)
	for i, item := range items {
		n, ok := item.Int()
		require.True(t, ok)
		assert.Equal(t, int64(i+1), n)
	}

	mixed := ParseValue("[1.5, foo, False]")
	items, ok = mixed.List()
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, KindFloat, items[0].Kind())
	assert.Equal(t, KindString, items[1].Kind())
	assert.Equal(t, KindBool, items[2].Kind())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "True", BoolValue(true).String())
	assert.Equal(t, "None", Null().String())
	assert.Equal(t, "[1, 2]", ListValue([]Value{IntValue(1), IntValue(2)}).String())
	assert.Equal(t, "3.5", FloatValue(3.5).String())
}

func TestValueNumericAccess(t *testing.T) {
	f, ok := IntValue(7).Float()
	require.True(t, ok)
	assert.Equal(t, 7.0, f)

	i, ok := FloatValue(2.9).Int()
	require.True(t, ok)
	assert.Equal(t, int64(2), i)

	_, ok = StringValue("x").Float()
	assert.False(t, ok)
}
