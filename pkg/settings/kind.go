package settings

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind tags the type of a setting value. The set is closed.
type Kind string

const (
	KindString     Kind = "string"
	KindInt        Kind = "int"
	KindFloat      Kind = "float"
	KindBool       Kind = "bool"
	KindDateTime   Kind = "datetime"
	KindDuration   Kind = "duration"
	KindJSON       Kind = "json"
	KindStringList Kind = "string_list"
	KindEnum       Kind = "enum"
)

// Kinds lists every supported kind.
var Kinds = []Kind{
	KindString, KindInt, KindFloat, KindBool, KindDateTime,
	KindDuration, KindJSON, KindStringList, KindEnum,
}

func (k Kind) Valid() bool {
	_, ok := codecs[k]
	return ok
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown setting kind %q", s)
	}
	return k, nil
}

// codec holds the parse, format and comparison logic for one kind.
type codec struct {
	parse  func(raw string) (any, error)
	format func(v any) string
	equal  func(a, b any) bool
}

var codecs = map[Kind]codec{
	KindString: {
		parse:  func(raw string) (any, error) { return raw, nil },
		format: func(v any) string { return v.(string) },
		equal:  func(a, b any) bool { return a.(string) == b.(string) },
	},
	KindEnum: {
		parse:  func(raw string) (any, error) { return strings.TrimSpace(raw), nil },
		format: func(v any) string { return v.(string) },
		equal:  func(a, b any) bool { return a.(string) == b.(string) },
	},
	KindInt: {
		parse: func(raw string) (any, error) {
			return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		},
		format: func(v any) string { return strconv.FormatInt(v.(int64), 10) },
		equal:  func(a, b any) bool { return a.(int64) == b.(int64) },
	},
	KindFloat: {
		parse: func(raw string) (any, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, err
			}
			if f != f {
				return nil, fmt.Errorf("NaN is not a valid float setting")
			}
			return f, nil
		},
		format: func(v any) string { return strconv.FormatFloat(v.(float64), 'g', -1, 64) },
		equal:  func(a, b any) bool { return a.(float64) == b.(float64) },
	},
	KindBool: {
		parse: func(raw string) (any, error) {
			return strconv.ParseBool(strings.TrimSpace(raw))
		},
		format: func(v any) string { return strconv.FormatBool(v.(bool)) },
		equal:  func(a, b any) bool { return a.(bool) == b.(bool) },
	},
	KindDateTime: {
		parse: func(raw string) (any, error) {
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
			if err != nil {
				return nil, err
			}
			return t.UTC(), nil
		},
		format: func(v any) string { return v.(time.Time).Format(time.RFC3339Nano) },
		equal:  func(a, b any) bool { return a.(time.Time).Equal(b.(time.Time)) },
	},
	KindDuration: {
		parse: func(raw string) (any, error) {
			return time.ParseDuration(strings.TrimSpace(raw))
		},
		format: func(v any) string { return v.(time.Duration).String() },
		equal:  func(a, b any) bool { return a.(time.Duration) == b.(time.Duration) },
	},
	KindJSON: {
		parse: func(raw string) (any, error) {
			var decoded any
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				return nil, err
			}
			compact, err := json.Marshal(decoded)
			if err != nil {
				return nil, err
			}
			return string(compact), nil
		},
		format: func(v any) string { return v.(string) },
		equal: func(a, b any) bool {
			var da, db any
			_ = json.Unmarshal([]byte(a.(string)), &da)
			_ = json.Unmarshal([]byte(b.(string)), &db)
			return reflect.DeepEqual(da, db)
		},
	},
	KindStringList: {
		parse: func(raw string) (any, error) {
			var items []string
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				return nil, fmt.Errorf("expected a JSON array of strings: %w", err)
			}
			if items == nil {
				items = []string{}
			}
			return items, nil
		},
		format: func(v any) string {
			b, _ := json.Marshal(v.([]string))
			return string(b)
		},
		equal: func(a, b any) bool { return slices.Equal(a.([]string), b.([]string)) },
	},
}
