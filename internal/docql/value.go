package docql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ValueType is the runtime classification of a request or document value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeDictionary
	TypeArray
	TypeString
	TypeDecimal
	TypeInteger
	TypeBool
)

var typeNames = map[ValueType]string{
	TypeNull:       "null",
	TypeDictionary: "dictionary",
	TypeArray:      "array",
	TypeString:     "string",
	TypeDecimal:    "decimal",
	TypeInteger:    "integer",
	TypeBool:       "bool",
}

func (t ValueType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value is a classified value. V holds the normalized Go representation:
// map[string]any, []any, string, float64, int64, bool or nil.
type Value struct {
	Type ValueType
	V    any
}

// NullValue is the typed null.
var NullValue = Value{Type: TypeNull}

// Classify decides the type of v. Checks run in a fixed order and the first
// that applies wins: dictionary, array, string, decimal, integer, bool, null.
func Classify(v any) Value {
	if d, ok := asDictionary(v); ok {
		return Value{Type: TypeDictionary, V: d}
	}
	if a, ok := asArray(v); ok {
		return Value{Type: TypeArray, V: a}
	}
	if s, ok := v.(string); ok {
		return Value{Type: TypeString, V: s}
	}
	if f, ok := asDecimal(v); ok {
		return Value{Type: TypeDecimal, V: f}
	}
	if n, ok := asInteger(v); ok {
		return Value{Type: TypeInteger, V: n}
	}
	if b, ok := v.(bool); ok {
		return Value{Type: TypeBool, V: b}
	}
	return NullValue
}

// Equal reports whether two values have the same type and the same scalar
// value. Dictionaries, arrays and nulls are never equal to anything.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeString:
		return v.V.(string) == o.V.(string)
	case TypeDecimal:
		return v.V.(float64) == o.V.(float64)
	case TypeInteger:
		return v.V.(int64) == o.V.(int64)
	case TypeBool:
		return v.V.(bool) == o.V.(bool)
	default:
		return false
	}
}

// String renders the value the way it appears in compiled expression dumps.
func (v Value) String() string {
	switch v.Type {
	case TypeString:
		return strconv.Quote(v.V.(string))
	case TypeDecimal:
		s := strconv.FormatFloat(v.V.(float64), 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case TypeInteger:
		return strconv.FormatInt(v.V.(int64), 10)
	case TypeBool:
		return strconv.FormatBool(v.V.(bool))
	case TypeDictionary, TypeArray:
		b, err := json.Marshal(v.V)
		if err != nil {
			return v.Type.String()
		}
		return string(b)
	default:
		return "null"
	}
}

func asDictionary(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case map[string]any:
		return d, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case nil, string, []byte, json.RawMessage:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asDecimal(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case json.Number:
		if !strings.ContainsAny(string(f), ".eE") {
			return 0, false
		}
		x, err := f.Float64()
		return x, err == nil
	}
	return 0, false
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case json.Number:
		x, err := n.Int64()
		return x, err == nil
	}
	return 0, false
}
