// Package domain defines the core model of the flagmesh platform: projects,
// environments, features and their states, segments, identities and traits.
// Everything here is plain data plus invariant checks; persistence and
// transport concerns live in other packages.
package domain

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates the typed value union used for flag values,
// multivariate option values and trait values.
type ValueKind uint8

const (
	// KindNil represents the absence of a value (e.g. a boolean-only flag).
	KindNil ValueKind = iota
	KindString
	KindInt
	KindBool
)

// String returns the wire name of the kind ("none", "unicode", "int", "bool").
// The names match the type discriminators stored in edge documents.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "unicode"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "none"
	}
}

// Value is a tagged union holding exactly one of {nil, string, int64, bool}.
// The zero value is the nil value. Values are immutable and comparable via Equal.
type Value struct {
	kind ValueKind
	str  string
	num  int64
	b    bool
}

// NilValue returns the absent value.
func NilValue() Value { return Value{} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: KindInt, num: i} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ValueFromAny converts a dynamically-typed value (as produced by JSON or
// document deserialization) into a Value. Numeric JSON values arrive as
// float64; integral floats are narrowed to int64, anything else is rejected.
func ValueFromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NilValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t)), nil
		}
		return Value{}, fmt.Errorf("unsupported non-integral numeric value %v", t)
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// ParseValue reconstructs a Value from its wire kind name and canonical
// string form, the representation database rows use.
func ParseValue(kind, s string) (Value, error) {
	switch kind {
	case "none", "":
		return NilValue(), nil
	case "unicode":
		return StringValue(s), nil
	case "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("malformed int value %q: %w", s, err)
		}
		return IntValue(n), nil
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("malformed bool value %q: %w", s, err)
		}
		return BoolValue(b), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

// Kind returns the discriminator of the union.
func (v Value) Kind() ValueKind { return v.kind }

// IsNil reports whether the value is absent.
func (v Value) IsNil() bool { return v.kind == KindNil }

// String returns the canonical string form of the value. Nil renders as the
// empty string, booleans as "true"/"false", integers in base 10. This is the
// form used by condition evaluation and by the edge document encoding.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Int returns the integer payload. The second return is false when the value
// does not hold an integer.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

// Bool returns the boolean payload. The second return is false when the value
// does not hold a boolean.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Float returns the value as a float64 when it is numeric (integer) or a
// string that parses as a number. Used by the ordering condition operators.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.num), true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Raw returns the underlying dynamically-typed payload (nil, string, int64
// or bool). Used when encoding documents.
func (v Value) Raw() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool { return v == o }
