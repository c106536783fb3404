package settings

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Value is a tagged union over the closed set of setting kinds. The zero Value
// is "unset".
type Value struct {
	kind Kind
	v    any
}

// Parse decodes the canonical string form of a value of the given kind.
func Parse(kind Kind, raw string) (Value, error) {
	c, ok := codecs[kind]
	if !ok {
		return Value{}, fmt.Errorf("unknown setting kind %q", kind)
	}
	v, err := c.parse(raw)
	if err != nil {
		return Value{}, fmt.Errorf("invalid %s value %q: %w", kind, raw, err)
	}
	return Value{kind: kind, v: v}, nil
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(kind Kind, raw string) Value {
	v, err := Parse(kind, raw)
	if err != nil {
		panic(err)
	}
	return v
}

func StringValue(s string) Value          { return Value{kind: KindString, v: s} }
func IntValue(i int64) Value              { return Value{kind: KindInt, v: i} }
func FloatValue(f float64) Value          { return Value{kind: KindFloat, v: f} }
func BoolValue(b bool) Value              { return Value{kind: KindBool, v: b} }
func DateTimeValue(t time.Time) Value     { return Value{kind: KindDateTime, v: t.UTC()} }
func DurationValue(d time.Duration) Value { return Value{kind: KindDuration, v: d} }
func EnumValue(s string) Value            { return Value{kind: KindEnum, v: s} }

func StringListValue(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{kind: KindStringList, v: slices.Clone(items)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsZero() bool { return v.kind == "" }

// String returns the canonical string form, or "" when unset.
func (v Value) String() string {
	if v.IsZero() {
		return ""
	}
	return codecs[v.kind].format(v.v)
}

// Equal compares two values using the codec of their kind. Values of
// different kinds are never equal; two unset values are.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.IsZero() {
		return true
	}
	return codecs[v.kind].equal(v.v, o.v)
}

// Convert re-parses the canonical form as another kind.
func (v Value) Convert(kind Kind) (Value, error) {
	if v.IsZero() || v.kind == kind {
		return v, nil
	}
	return Parse(kind, v.String())
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && (v.kind == KindString || v.kind == KindEnum)
}

func (v Value) AsInt() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok
}

func (v Value) AsFloat() (float64, bool) {
	switch n := v.v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

func (v Value) AsTime() (time.Time, bool) {
	t, ok := v.v.(time.Time)
	return t, ok
}

func (v Value) AsDuration() (time.Duration, bool) {
	d, ok := v.v.(time.Duration)
	return d, ok
}

func (v Value) AsStringList() ([]string, bool) {
	items, ok := v.v.([]string)
	return slices.Clone(items), ok
}

type wireValue struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(wireValue{Kind: v.kind, Value: v.String()})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := Parse(w.Kind, w.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Values maps setting names to values.
type Values map[string]Value

func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// ChangedNames returns the sorted names whose value differs between before and
// after, including names present on only one side.
func ChangedNames(before, after Values) []string {
	var changed []string
	for name, v := range after {
		if prev, ok := before[name]; !ok || !prev.Equal(v) {
			changed = append(changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
