package wire

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatEpsilonEquality(t *testing.T) {
	assert.True(t, Float(1.0).Equal(Float(1.0000001), 0))
	assert.True(t, Float(1.0).Equal(Float(1.0009), DefaultEpsilon))
	assert.False(t, Float(1.0).Equal(Float(1.002), DefaultEpsilon))
	assert.False(t, Float(1.0).Equal(Float(1.05), 0.01))
	assert.False(t, Float(1).Equal(Int(1), 0), "kinds differ")
	assert.True(t, Int(7).Equal(Int(7), 0))
	assert.False(t, String("a").Equal(String("b"), 0))
}

func TestTreeEquality(t *testing.T) {
	a := Tree{1: Float(2.0), 2: Nested(Tree{3: Bool(true)})}
	b := Tree{1: Float(2.0001), 2: Nested(Tree{3: Bool(true)})}
	c := Tree{1: Float(2.0), 2: Nested(Tree{3: Bool(false)})}
	assert.True(t, a.Equal(b, DefaultEpsilon))
	assert.False(t, a.Equal(c, DefaultEpsilon))
	assert.False(t, a.Equal(Tree{1: Float(2.0)}, DefaultEpsilon))
}

func TestCoerce(t *testing.T) {
	v, ok := Int(80).Coerce(KindFloat)
	require.True(t, ok)
	f, _ := v.AsFloat()
	assert.Equal(t, 80.0, f)

	v, ok = Float(12).Coerce(KindInt)
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(12), i)

	_, ok = Float(1.5).Coerce(KindInt)
	assert.False(t, ok)
	_, ok = Float(math.NaN()).Coerce(KindInt)
	assert.False(t, ok)
	_, ok = String("1").Coerce(KindInt)
	assert.False(t, ok)
	_, ok = Bool(true).Coerce(KindTree)
	assert.False(t, ok)
}

func TestTreeCodec(t *testing.T) {
	tree := Tree{
		0: Bool(true),
		1: Int(-42),
		2: Float(3.25),
		3: String("birdtown"),
		7: Nested(Tree{1: Int(100), 9: Nested(Tree{2: Float(0.5)})}),
	}
	data, err := EncodeTree(tree)
	require.NoError(t, err)

	decoded, err := DecodeTree(data)
	require.NoError(t, err)
	assert.True(t, tree.Equal(decoded, 0), "decoded %v", decoded.Plain())
}

func TestTreeCodecCarriesNoTags(t *testing.T) {
	data, err := EncodeTree(Tree{5: Int(1)})
	require.NoError(t, err)
	// map(1) { 5: 1 }
	assert.Equal(t, []byte{0xa1, 0x05, 0x01}, data)
}

func TestDecodeForeignShapes(t *testing.T) {
	data, err := cbor.Marshal(map[int]any{-1: 1})
	require.NoError(t, err)
	_, err = DecodeTree(data)
	assert.Error(t, err)

	data, err = cbor.Marshal([]int{1, 2})
	require.NoError(t, err)
	_, err = DecodeTree(data)
	assert.True(t, errors.Is(err, ErrUnsupportedValue))

	data, err = cbor.Marshal(uint64(math.MaxUint64))
	require.NoError(t, err)
	var v Value
	require.NoError(t, v.UnmarshalCBOR(data))
	assert.False(t, v.IsValid())
}

func TestDecodeKeepsSiblingsOfUnsupportedLeaves(t *testing.T) {
	data, err := cbor.Marshal(map[uint64]any{
		1: nil,
		2: 5,
		3: []byte{0x01},
		4: []int{1},
		5: map[uint64]any{1: nil, 2: "ok"},
	})
	require.NoError(t, err)

	tree, err := DecodeTree(data)
	require.NoError(t, err)
	require.Len(t, tree, 5)
	n, ok := tree[2].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
	for _, key := range []Key{1, 3, 4} {
		assert.Equal(t, KindInvalid, tree[key].Kind(), "key %d", key)
	}
	nested, ok := tree[5].AsTree()
	require.True(t, ok)
	assert.False(t, nested[1].IsValid())
	s, _ := nested[2].AsString()
	assert.Equal(t, "ok", s)

	frame, err := cbor.Marshal(map[int]any{1: EnvelopeState, 2: 1, 3: 7, 4: cbor.RawMessage(data)})
	require.NoError(t, err)
	env, err := Unmarshal(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Len(t, env.Payload, 5)
}

func TestFloatEqualTreatsNaNAsUnchanged(t *testing.T) {
	nan := math.NaN()
	assert.True(t, FloatEqual(nan, nan, 0))
	assert.False(t, FloatEqual(nan, 1, 0))
	assert.False(t, FloatEqual(1, nan, 0))
	assert.True(t, Float(nan).Equal(Float(nan), 0))
	assert.True(t, FloatEqual(math.Inf(1), math.Inf(1), 0))
	assert.False(t, FloatEqual(math.Inf(1), math.Inf(-1), 0))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Kind: EnvelopeState, Channel: 2, Seq: 99, Payload: Tree{4: Nested(Tree{1: Float(80)})}}
	data, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Equal(t, env.Channel, decoded.Channel)
	assert.Equal(t, env.Seq, decoded.Seq)
	assert.True(t, env.Payload.Equal(decoded.Payload, 0))

	data, err = Marshal(Envelope{Kind: 9})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestFromPlain(t *testing.T) {
	v, err := FromPlain(map[any]any{uint64(1): uint64(80), int64(2): map[any]any{uint64(3): "x"}})
	require.NoError(t, err)
	tree, ok := v.AsTree()
	require.True(t, ok)
	n, ok := tree[1].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(80), n)
	nested, ok := tree[2].AsTree()
	require.True(t, ok)
	s, _ := nested[3].AsString()
	assert.Equal(t, "x", s)

	_, err = FromPlain(map[any]any{"name": 1})
	assert.True(t, errors.Is(err, ErrInvalidKey))
	_, err = FromPlain([]int{1})
	assert.True(t, errors.Is(err, ErrUnsupportedValue))
}

func TestTreeKeysSorted(t *testing.T) {
	tree := Tree{9: Int(1), 2: Int(1), 5: Int(1)}
	assert.Equal(t, []Key{2, 5, 9}, tree.Keys())
}

func TestSchemaDescribesEnvelope(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema)
	assert.Equal(t, "Replication Envelope", schema.Title)

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	for _, field := range []string{`"kind"`, `"channel"`, `"seq"`, `"payload"`} {
		assert.Contains(t, string(data), field)
	}
}
