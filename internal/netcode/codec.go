package netcode

import (
	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

// Codec converts between a live Go value and its wire representation. The
// kind is fixed at registration so merge dispatch never inspects Go types.
type Codec[T any] struct {
	Kind   wire.Kind
	Encode func(T) wire.Value
	Decode func(wire.Value) (T, bool)
}

var (
	Bool   = Codec[bool]{Kind: wire.KindBool, Encode: wire.Bool, Decode: wire.Value.AsBool}
	Int    = IntCodec[int64]()
	Float  = FloatCodec[float64]()
	String = Codec[string]{Kind: wire.KindString, Encode: wire.String, Decode: wire.Value.AsString}
)

// Integer is the set of Go integer types an int field can bind to.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32
}

// IntCodec binds an int field to any integer type. Values outside T's range
// are rejected on decode.
func IntCodec[T Integer]() Codec[T] {
	return Codec[T]{
		Kind:   wire.KindInt,
		Encode: func(v T) wire.Value { return wire.Int(int64(v)) },
		Decode: func(v wire.Value) (T, bool) {
			raw, ok := v.AsInt()
			if !ok {
				return 0, false
			}
			out := T(raw)
			if int64(out) != raw || (raw < 0) != (out < 0) {
				return 0, false
			}
			return out, true
		},
	}
}

// FloatCodec binds a float field to float32 or float64.
func FloatCodec[T ~float32 | ~float64]() Codec[T] {
	return Codec[T]{
		Kind:   wire.KindFloat,
		Encode: func(v T) wire.Value { return wire.Float(float64(v)) },
		Decode: func(v wire.Value) (T, bool) {
			raw, ok := v.AsFloat()
			return T(raw), ok
		},
	}
}

// Accessor is how a unit exposes one piece of live state to its field set.
// Has is optional and defaults to always present; Set may be nil for fields
// that are never written from the network.
type Accessor[T any] struct {
	Has func() bool
	Get func() T
	Set func(T)
}

// Handle is the opaque result of registering a typed field.
type Handle[T any] struct {
	field *Field
	codec Codec[T]
}

// Field returns the underlying replicated field.
func (h *Handle[T]) Field() *Field {
	if h == nil {
		return nil
	}
	return h.field
}

// Has reports whether the field holds a value.
func (h *Handle[T]) Has() bool {
	return h != nil && h.field.Has()
}

// Value returns the decoded value. Reading a field before it holds a value is
// reported as a diagnostic and yields the zero value.
func (h *Handle[T]) Value() (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	raw, ok := h.field.Value()
	if !ok {
		h.field.deps.diag.missingValue(h.field.Seq(), h.field.path)
		return zero, false
	}
	return h.codec.Decode(raw)
}

// Set writes v at seq directly, bypassing the accessor.
func (h *Handle[T]) Set(v T, seq uint64) bool {
	if h == nil {
		return false
	}
	return h.field.Set(h.codec.Encode(v), seq)
}

type typedBinding[T any] struct {
	codec    Codec[T]
	accessor Accessor[T]
}

func (b typedBinding[T]) pull() (wire.Value, bool) {
	if b.accessor.Get == nil {
		return wire.Value{}, false
	}
	if b.accessor.Has != nil && !b.accessor.Has() {
		return wire.Value{}, false
	}
	return b.codec.Encode(b.accessor.Get()), true
}

func (b typedBinding[T]) push(v wire.Value) {
	if b.accessor.Set == nil {
		return
	}
	if decoded, ok := b.codec.Decode(v); ok {
		b.accessor.Set(decoded)
	}
}

// Register adds a typed field under key. The accessor is read on every
// UpdateFrom and written whenever a merge changes the field.
func Register[T any](set *FieldSet, key wire.Key, codec Codec[T], accessor Accessor[T], policy Policy) (*Handle[T], error) {
	field, err := set.add(key, codec.Kind, policy, typedBinding[T]{codec: codec, accessor: accessor})
	if err != nil {
		return nil, err
	}
	return &Handle[T]{field: field, codec: codec}, nil
}

// EqualFunc adapts a typed equality into a Policy.Equal override.
func EqualFunc[T any](codec Codec[T], equal func(a, b T) bool) func(a, b wire.Value) bool {
	return func(a, b wire.Value) bool {
		left, ok := codec.Decode(a)
		if !ok {
			return false
		}
		right, ok := codec.Decode(b)
		if !ok {
			return false
		}
		return equal(left, right)
	}
}
