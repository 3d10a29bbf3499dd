package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build cbor decoder: %v", err))
	}
}

// MarshalCBOR encodes the payload without any type tag; the receiver decides
// the kind from its own registration.
func (v Value) MarshalCBOR() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return encMode.Marshal(v.b)
	case KindInt:
		return encMode.Marshal(v.i)
	case KindFloat:
		return encMode.Marshal(v.f)
	case KindString:
		return encMode.Marshal(v.s)
	case KindTree:
		if v.t == nil {
			return encMode.Marshal(map[Key]Value{})
		}
		return encMode.Marshal(map[Key]Value(v.t))
	default:
		return nil, fmt.Errorf("%w: invalid value", ErrUnsupportedValue)
	}
}

// UnmarshalCBOR decodes a single data item, dispatching on its major type.
// Leaves with no Value counterpart (null, byte strings, arrays, tags, integers
// outside int64) decode to the invalid Value so sibling keys survive; the
// receiver reports them as type mismatches.
func (v *Value) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty item", ErrUnsupportedValue)
	}
	head := data[0]
	*v = Value{}
	switch head >> 5 {
	case 0, 1:
		var n int64
		if err := decMode.Unmarshal(data, &n); err == nil {
			*v = Int(n)
		}
	case 3:
		var s string
		if err := decMode.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 5:
		tree := Tree{}
		if err := decMode.Unmarshal(data, &tree); err != nil {
			return err
		}
		*v = Nested(tree)
	case 7:
		switch head {
		case 0xf4:
			*v = Bool(false)
		case 0xf5:
			*v = Bool(true)
		case 0xf9, 0xfa, 0xfb:
			var f float64
			if err := decMode.Unmarshal(data, &f); err != nil {
				return err
			}
			*v = Float(f)
		}
	}
	return nil
}

// EncodeTree renders a tree as CBOR.
func EncodeTree(t Tree) ([]byte, error) {
	return Nested(t).MarshalCBOR()
}

// DecodeTree parses a CBOR map into a tree.
func DecodeTree(data []byte) (Tree, error) {
	var v Value
	if err := v.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	tree, ok := v.AsTree()
	if !ok {
		return nil, fmt.Errorf("decode tree: %w: top level is %s", ErrUnsupportedValue, v.Kind())
	}
	return tree, nil
}
