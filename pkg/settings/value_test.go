package settings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonicalForms(t *testing.T) {
	tests := []struct {
		kind Kind
		raw  string
		want string
	}{
		{KindString, " padded ", " padded "},
		{KindInt, " 42 ", "42"},
		{KindFloat, "1.50", "1.5"},
		{KindBool, "TRUE", "true"},
		{KindDateTime, "2024-03-01T10:00:00+02:00", "2024-03-01T08:00:00Z"},
		{KindDuration, "90s", "1m30s"},
		{KindJSON, `{ "a" : 1 }`, `{"a":1}`},
		{KindStringList, `["x", "y"]`, `["x","y"]`},
		{KindEnum, "blue", "blue"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			v, err := Parse(tt.kind, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for kind, raw := range map[Kind]string{
		KindInt:        "4.2",
		KindFloat:      "NaN",
		KindBool:       "maybe",
		KindDateTime:   "yesterday",
		KindDuration:   "5 minutes",
		KindJSON:       "{",
		KindStringList: `"x"`,
	} {
		_, err := Parse(kind, raw)
		assert.Error(t, err, "kind %s", kind)
	}

	_, err := Parse(Kind("blob"), "x")
	assert.Error(t, err)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, IntValue(3).Equal(IntValue(3)))
	assert.False(t, IntValue(3).Equal(IntValue(4)))
	assert.False(t, IntValue(3).Equal(StringValue("3")), "different kinds")
	assert.True(t, Value{}.Equal(Value{}))
	assert.False(t, Value{}.Equal(StringValue("")))

	a := MustParse(KindJSON, `{"a":1,"b":2}`)
	b := MustParse(KindJSON, `{"b":2,"a":1}`)
	assert.True(t, a.Equal(b), "json comparison ignores key order")

	t1 := DateTimeValue(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	t2 := MustParse(KindDateTime, "2024-01-01T13:00:00+01:00")
	assert.True(t, t1.Equal(t2))
}

func TestValueConvert(t *testing.T) {
	v, err := IntValue(7).Convert(KindFloat)
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind())
	f, ok := v.AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)

	_, err = StringValue("seven").Convert(KindInt)
	assert.Error(t, err)
}

func TestValueJSONRoundTrip(t *testing.T) {
	original := Values{
		"timeout": DurationValue(5 * time.Second),
		"hosts":   StringListValue([]string{"a", "b"}),
		"unset":   {},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Values
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Empty(t, ChangedNames(original, decoded))
	assert.True(t, decoded["unset"].IsZero())
}

func TestChangedNames(t *testing.T) {
	before := Values{"a": IntValue(1), "b": StringValue("x"), "c": BoolValue(true)}
	after := Values{"a": IntValue(1), "b": StringValue("y"), "d": BoolValue(false)}

	assert.Equal(t, []string{"b", "c", "d"}, ChangedNames(before, after))
	assert.Empty(t, ChangedNames(before, before.Clone()))
}
