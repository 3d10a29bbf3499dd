package wire

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrUnsupportedValue reports a decoded value outside the supported kinds.
	ErrUnsupportedValue = errors.New("wire: unsupported value")
	// ErrInvalidKey reports a map key that is not a non-negative integer.
	ErrInvalidKey = errors.New("wire: invalid key")
)

// Key addresses a field or unit inside a tree. Keys are small non-negative
// integers that stay stable across protocol versions.
type Key uint32

// Tree is the wire shape of replicated state: integer keys mapping to
// primitive values or nested trees. No type tags are carried.
type Tree map[Key]Value

// Keys returns the tree keys in ascending order.
func (t Tree) Keys() []Key {
	keys := make([]Key, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Equal compares two trees key by key using Value.Equal.
func (t Tree) Equal(other Tree, epsilon float64) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		o, ok := other[k]
		if !ok || !v.Equal(o, epsilon) {
			return false
		}
	}
	return true
}

// Plain flattens the tree into nested map[Key]any values.
func (t Tree) Plain() map[Key]any {
	if t == nil {
		return nil
	}
	out := make(map[Key]any, len(t))
	for k, v := range t {
		out[k] = v.Plain()
	}
	return out
}

// Empty reports whether the tree carries no entries.
func (t Tree) Empty() bool {
	return len(t) == 0
}

// KeyFromPlain converts a decoded map key into a Key.
func KeyFromPlain(raw any) (Key, error) {
	var n int64
	switch v := raw.(type) {
	case Key:
		return v, nil
	case int:
		n = int64(v)
	case int64:
		n = v
	case int32:
		n = int64(v)
	case uint:
		if uint64(v) > math.MaxUint32 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidKey, v)
		}
		return Key(v), nil
	case uint64:
		if v > math.MaxUint32 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidKey, v)
		}
		return Key(v), nil
	case uint32:
		return Key(v), nil
	case uint16:
		return Key(v), nil
	case uint8:
		return Key(v), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidKey, raw)
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKey, n)
	}
	return Key(n), nil
}
