package wire

import (
	"fmt"
	"math"
)

// DefaultEpsilon is the tolerance used when comparing float values.
const DefaultEpsilon = 1e-3

// Kind identifies the primitive category carried by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTree:
		return "tree"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the primitive categories that can travel on
// the wire. The zero Value is invalid.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    Tree
}

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps an integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps a float.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Nested wraps a subtree.
func Nested(t Tree) Value { return Value{kind: KindTree, t: t} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsTree returns the nested tree payload.
func (v Value) AsTree() (Tree, bool) {
	return v.t, v.kind == KindTree
}

// Coerce converts v to the requested kind. Integers widen to floats and
// integral floats narrow to integers; every other mismatch fails.
func (v Value) Coerce(kind Kind) (Value, bool) {
	if v.kind == kind {
		return v, true
	}
	switch {
	case v.kind == KindInt && kind == KindFloat:
		return Float(float64(v.i)), true
	case v.kind == KindFloat && kind == KindInt:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) || v.f != math.Trunc(v.f) {
			return Value{}, false
		}
		if v.f < math.MinInt64 || v.f >= math.MaxInt64 {
			return Value{}, false
		}
		return Int(int64(v.f)), true
	}
	return Value{}, false
}

// Equal compares two values. Floats are equal when they differ by less than
// epsilon; a non-positive epsilon selects DefaultEpsilon.
func (v Value) Equal(other Value, epsilon float64) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return FloatEqual(v.f, other.f, epsilon)
	case KindString:
		return v.s == other.s
	case KindTree:
		return v.t.Equal(other.t, epsilon)
	default:
		return true
	}
}

// FloatEqual reports whether a and b are within epsilon of each other. Two
// NaNs are equal so an unchanged NaN is not a change.
func FloatEqual(a, b, epsilon float64) bool {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if a == b || (math.IsNaN(a) && math.IsNaN(b)) {
		return true
	}
	return math.Abs(a-b) < epsilon
}

// Plain returns the value as a plain Go value: bool, int64, float64, string
// or map[Key]any for trees.
func (v Value) Plain() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTree:
		return v.t.Plain()
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindTree {
		return fmt.Sprintf("%v", v.t.Plain())
	}
	return fmt.Sprintf("%v", v.Plain())
}

// FromPlain converts a decoded Go value into a Value. Maps must be keyed by
// non-negative integers.
func FromPlain(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case Tree:
		return Nested(v), nil
	case map[Key]any:
		return treeFromMap(v)
	case map[any]any:
		return treeFromMap(v)
	case map[uint64]any:
		return treeFromMap(v)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

func fromUint(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: integer %d overflows int64", ErrUnsupportedValue, v)
	}
	return Int(int64(v)), nil
}

func treeFromMap[K comparable](m map[K]any) (Value, error) {
	tree := make(Tree, len(m))
	for rawKey, rawValue := range m {
		key, err := KeyFromPlain(rawKey)
		if err != nil {
			return Value{}, err
		}
		value, err := FromPlain(rawValue)
		if err != nil {
			return Value{}, fmt.Errorf("key %d: %w", key, err)
		}
		tree[key] = value
	}
	return Nested(tree), nil
}
