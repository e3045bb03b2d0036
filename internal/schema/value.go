package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "null"
}

// Value is a read-only view over one node of a normalized event.
// The zero Value is null.
type Value struct {
	raw any
}

// Null is the null Value.
var Null = Value{}

// ValueOf wraps v after normalizing it.
func ValueOf(v any) Value {
	return Value{raw: Normalize(v)}
}

// Kind reports the dynamic type of the value.
func (v Value) Kind() Kind {
	switch v.raw.(type) {
	case string:
		return KindString
	case float64:
		return KindNumber
	case bool:
		return KindBool
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	}
	return KindNull
}

// IsNull reports whether the value is absent or null.
func (v Value) IsNull() bool {
	return v.raw == nil
}

// Exists is the negation of IsNull.
func (v Value) Exists() bool {
	return v.raw != nil
}

// Str returns the string if the value is a string.
func (v Value) Str() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// StrOr returns the string value or def.
func (v Value) StrOr(def string) string {
	if s, ok := v.raw.(string); ok {
		return s
	}
	return def
}

// Number returns the value as float64 if it is numeric.
func (v Value) Number() (float64, bool) {
	n, ok := v.raw.(float64)
	return n, ok
}

// Int returns the value as int64 if it is a whole number.
func (v Value) Int() (int64, bool) {
	n, ok := v.raw.(float64)
	if !ok || n != math.Trunc(n) {
		return 0, false
	}
	return int64(n), true
}

// Bool returns the value if it is a boolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// Truthy follows the usual loose truthiness rules: null, false, zero, empty
// string and empty collections are false.
func (v Value) Truthy() bool {
	switch t := v.raw.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Array returns the elements if the value is an array.
func (v Value) Array() []Value {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Value, len(arr))
	for i, item := range arr {
		out[i] = Value{raw: item}
	}
	return out
}

// Strings returns the string elements of an array value. Non-string
// elements are skipped.
func (v Value) Strings() []string {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the sorted keys of an object value.
func (v Value) Keys() []string {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the member key of an object value, or null.
func (v Value) Get(key string) Value {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return Null
	}
	return Value{raw: obj[key]}
}

// Index returns the i-th element of an array value, or null.
func (v Value) Index(i int) Value {
	arr, ok := v.raw.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Null
	}
	return Value{raw: arr[i]}
}

// Path walks nested objects and arrays. Numeric path segments index arrays.
func (v Value) Path(path ...string) Value {
	cur := v
	for _, p := range path {
		switch cur.Kind() {
		case KindObject:
			cur = cur.Get(p)
		case KindArray:
			i, err := strconv.Atoi(p)
			if err != nil {
				return Null
			}
			cur = cur.Index(i)
		default:
			return Null
		}
		if cur.IsNull() {
			return Null
		}
	}
	return cur
}

// In reports whether the value equals any of the candidates after
// normalization.
func (v Value) In(candidates ...any) bool {
	for _, c := range candidates {
		if v.Equal(c) {
			return true
		}
	}
	return false
}

// Equal compares the value with other using normalized deep equality.
func (v Value) Equal(other any) bool {
	if ov, ok := other.(Value); ok {
		return reflect.DeepEqual(v.raw, ov.raw)
	}
	return reflect.DeepEqual(v.raw, Normalize(other))
}

// Interface returns a deep copy of the underlying plain Go value.
func (v Value) Interface() any {
	return Normalize(v.raw)
}

// String renders the value for use in titles and log lines.
func (v Value) String() string {
	switch t := v.raw.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// Normalize deep-copies v into the canonical representation used by events:
// numbers become float64, slices become []any and string-keyed maps become
// map[string]any. Values of unsupported types are rendered with fmt.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Value:
		return Normalize(t.raw)
	case string:
		return t
	case bool:
		return t
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out
	}
	return normalizeReflect(v)
}

func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	}
	return fmt.Sprintf("%v", v)
}
