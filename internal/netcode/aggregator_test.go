package netcode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

type bird struct {
	fields *FieldSet
	live   stats
	owned  map[wire.Key]bool
	merges [][]wire.Key
	ctx    MergeContext
}

func newBird(t *testing.T, deps Deps) *bird {
	t.Helper()
	b := &bird{fields: NewFieldSet(deps), owned: map[wire.Key]bool{}}
	registerHealth(t, b.fields, &b.live)
	return b
}

func (b *bird) Fields() *FieldSet { return b.fields }

func (b *bird) AllowMerge(key wire.Key) bool { return !b.owned[key] }

func (b *bird) Merged(ctx MergeContext, changed []wire.Key) {
	b.ctx = ctx
	b.merges = append(b.merges, changed)
}

func TestAggregatorBuildOutgoingIsSparse(t *testing.T) {
	agg := NewAggregator(Deps{})
	entity, err := agg.AddGroup(7)
	require.NoError(t, err)

	body := newBird(t, agg.Deps())
	wing := newBird(t, agg.Deps())
	require.NoError(t, entity.Add(1, body))
	require.NoError(t, entity.Add(2, wing))
	require.NoError(t, agg.Add(8, newBird(t, agg.Deps())))

	body.live = stats{alive: true, health: 80}
	agg.Update(1)

	tree, ok := agg.BuildOutgoing(ChannelReliable, 1)
	require.True(t, ok)
	want := wire.Tree{7: wire.Nested(wire.Tree{1: wire.Nested(wire.Tree{keyHealth: wire.Int(80)})})}
	assert.True(t, want.Equal(tree, 0), "got %v", tree.Plain())

	tree, ok = NewAggregator(Deps{}).BuildOutgoing(ChannelReliable, 1)
	assert.False(t, ok)
	assert.Nil(t, tree)
}

func TestAggregatorRouteIncoming(t *testing.T) {
	fx := newFixture()
	agg := NewAggregator(fx.deps)
	entity, err := agg.AddGroup(7)
	require.NoError(t, err)
	body := newBird(t, agg.Deps())
	require.NoError(t, entity.Add(1, body))

	incoming := wire.Tree{
		7:  wire.Nested(wire.Tree{1: wire.Nested(wire.Tree{keyHealth: wire.Int(55)})}),
		99: wire.Nested(wire.Tree{keyHealth: wire.Int(1)}),
	}
	got := agg.RouteIncoming(incoming, 4, nil)
	assert.Equal(t, RouteStats{Routed: 1, Unknown: 1, Changed: 1}, got)
	assert.Equal(t, int64(55), body.live.health)
	require.Len(t, body.merges, 1)
	assert.Equal(t, []wire.Key{keyHealth}, body.merges[0])
	assert.Equal(t, uint64(4), body.ctx.Seq)
	assert.Equal(t, []wire.Key{7, 1}, body.ctx.Path)

	got = agg.RouteIncoming(incoming, 4, nil)
	assert.Equal(t, RouteStats{Routed: 1, Unknown: 1}, got, "second delivery changes nothing")
	assert.Len(t, body.merges, 1)
	assert.Equal(t, uint64(2), fx.counters.Value(metricUnknownKeys))
}

func TestAggregatorResolverSpawnsUnits(t *testing.T) {
	agg := NewAggregator(Deps{})
	var spawned *bird
	var asked [][]wire.Key
	resolve := func(path []wire.Key) (Replicable, bool) {
		if unit, ok := agg.Lookup(path...); ok {
			return unit, true
		}
		asked = append(asked, path)
		if path[0] != 12 {
			return nil, false
		}
		spawned = newBird(t, agg.Deps())
		return spawned, true
	}

	got := agg.RouteIncoming(wire.Tree{
		12: wire.Nested(wire.Tree{keyHealth: wire.Int(9)}),
		13: wire.Nested(wire.Tree{keyHealth: wire.Int(9)}),
	}, 1, resolve)

	assert.Equal(t, RouteStats{Routed: 1, Unknown: 1, Changed: 1}, got)
	assert.Equal(t, [][]wire.Key{{12}, {13}}, asked)
	require.NotNil(t, spawned)
	unit, ok := agg.Unit(12)
	require.True(t, ok)
	assert.Same(t, spawned, unit)
	assert.Equal(t, int64(9), spawned.live.health)

	found, ok := spawned.ctx.Lookup(12)
	require.True(t, ok)
	assert.Same(t, spawned, found)
}

func TestAggregatorRespectsMergeGate(t *testing.T) {
	agg := NewAggregator(Deps{})
	b := newBird(t, agg.Deps())
	b.owned[keyHealth] = true
	require.NoError(t, agg.Add(3, b))

	got := agg.RouteIncoming(wire.Tree{3: wire.Nested(wire.Tree{keyHealth: wire.Int(1)})}, 1, nil)
	assert.Equal(t, RouteStats{Routed: 1}, got)
	assert.Empty(t, b.merges)
	assert.Zero(t, b.live.health)
}

func TestAggregatorSkipsLeafAtUnitLevel(t *testing.T) {
	fx := newFixture()
	agg := NewAggregator(fx.deps)
	require.NoError(t, agg.Add(3, newBird(t, agg.Deps())))

	got := agg.RouteIncoming(wire.Tree{3: wire.Int(1)}, 1, nil)
	assert.Equal(t, RouteStats{}, got)
	assert.Equal(t, uint64(1), fx.counters.Value(metricTypeMismatches))
}

func TestAggregatorMembership(t *testing.T) {
	agg := NewAggregator(Deps{})
	group, err := agg.AddGroup(1)
	require.NoError(t, err)
	b := newBird(t, agg.Deps())
	require.NoError(t, group.Add(2, b))
	require.NoError(t, agg.Add(3, newBird(t, agg.Deps())))

	err = agg.Add(3, newBird(t, agg.Deps()))
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
	err = agg.Add(1, newBird(t, agg.Deps()))
	assert.True(t, errors.Is(err, ErrKindConflict), "got %v", err)
	_, err = agg.AddGroup(3)
	assert.True(t, errors.Is(err, ErrKindConflict), "got %v", err)
	again, err := agg.AddGroup(1)
	require.NoError(t, err)
	assert.Same(t, group, again)

	unit, ok := agg.Lookup(1, 2)
	require.True(t, ok)
	assert.Same(t, b, unit)
	_, ok = agg.Lookup(3, 2)
	assert.False(t, ok)
	_, ok = agg.Lookup()
	assert.False(t, ok)

	assert.Equal(t, []wire.Key{1, 3}, agg.Keys())
	assert.True(t, agg.Remove(1))
	assert.False(t, agg.Remove(1))
	assert.Equal(t, []wire.Key{3}, agg.Keys())
	assert.Equal(t, 1, agg.Len())
}
