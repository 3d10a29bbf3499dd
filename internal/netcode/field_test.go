package netcode

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
	"github.com/bchoi12/birdtown-sub001/logging"
)

const tick = time.Second / 60

type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	events []logging.Event
}

func (r *recorder) Publish(_ context.Context, event logging.Event) {
	r.events = append(r.events, event)
}

func (r *recorder) ofType(eventType logging.EventType) []logging.Event {
	var out []logging.Event
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fixture struct {
	clock    *manualClock
	events   *recorder
	counters *telemetry.Counters
	deps     Deps
}

func newFixture() *fixture {
	f := &fixture{clock: newManualClock(), events: &recorder{}, counters: telemetry.NewCounters()}
	f.deps = Deps{Publisher: f.events, Metrics: f.counters, Clock: f.clock}.WithDefaults()
	return f
}

// runTicks sets value(seq) and publishes on ch for every seq in [from, to],
// advancing the clock by one frame per tick. It returns the ticks that published.
func runTicks(t *testing.T, clock *manualClock, field *Field, ch Channel, from, to uint64, value func(uint64) wire.Value) []uint64 {
	t.Helper()
	var selected []uint64
	for seq := from; seq <= to; seq++ {
		clock.Advance(tick)
		field.Set(value(seq), seq)
		if _, ok := field.Publish(ch, seq); ok {
			selected = append(selected, seq)
		}
	}
	return selected
}

func changesAtFive(seq uint64) wire.Value {
	if seq < 5 {
		return wire.Int(100)
	}
	return wire.Int(80)
}

func TestFieldRejectsOlderSequence(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)

	require.True(t, field.Set(wire.Int(80), 10))
	assert.False(t, field.Set(wire.Int(75), 9))

	v, ok := field.Value()
	require.True(t, ok)
	assert.Equal(t, int64(80), mustInt(t, v))
	assert.Equal(t, uint64(10), field.Seq())
	assert.Equal(t, uint64(10), field.LastChanged())
	assert.Equal(t, uint64(1), fx.counters.Value(metricStaleRejections))
	assert.Len(t, fx.events.ofType("replication.stale_rejected"), 1)
}

func TestFieldSameSequenceIsAccepted(t *testing.T) {
	field := NewField(1, wire.KindInt, DefaultPolicy(), Deps{})
	require.True(t, field.Set(wire.Int(1), 4))
	assert.True(t, field.Set(wire.Int(2), 4))
	assert.False(t, field.Set(wire.Int(2), 4))
	assert.Equal(t, 1, field.History().ConsecutiveTrue())
}

func TestFieldFloatEpsilon(t *testing.T) {
	field := NewField(1, wire.KindFloat, DefaultPolicy(), Deps{})
	require.True(t, field.Set(wire.Float(1.0), 1))
	assert.False(t, field.Set(wire.Float(1.0000001), 2))
	assert.True(t, field.Set(wire.Float(1.01), 3))
}

func TestFieldRepeatedNaNIsUnchanged(t *testing.T) {
	field := NewField(1, wire.KindFloat, DefaultPolicy(), Deps{})
	require.True(t, field.Set(wire.Float(math.NaN()), 1))
	assert.False(t, field.Set(wire.Float(math.NaN()), 2))
	assert.False(t, field.Set(wire.Float(math.NaN()), 3))
	assert.Equal(t, uint64(1), field.LastChanged())
	assert.True(t, field.Set(wire.Float(0), 4))
}

func TestFieldCustomEquality(t *testing.T) {
	policy := DefaultPolicy()
	policy.Equal = EqualFunc(Int, func(a, b int64) bool { return a/10 == b/10 })
	field := NewField(1, wire.KindInt, policy, Deps{})

	require.True(t, field.Set(wire.Int(41), 1))
	assert.False(t, field.Set(wire.Int(45), 2))
	assert.True(t, field.Set(wire.Int(51), 3))
}

func TestFieldTypeMismatchIsReported(t *testing.T) {
	fx := newFixture()
	field := NewField(3, wire.KindInt, DefaultPolicy(), fx.deps)

	assert.False(t, field.Set(wire.String("eighty"), 1))
	assert.False(t, field.Has())

	mismatches := fx.events.ofType("replication.type_mismatch")
	require.Len(t, mismatches, 1)
	assert.Equal(t, logging.SeverityError, mismatches[0].Severity)
	assert.Equal(t, "3", mismatches[0].Actor.ID)
	assert.Equal(t, uint64(1), fx.counters.Value(metricTypeMismatches))
}

func TestFieldTypeMismatchAdvancesSequence(t *testing.T) {
	fx := newFixture()
	field := NewField(3, wire.KindInt, DefaultPolicy(), fx.deps)

	require.True(t, field.Set(wire.Int(10), 1))
	assert.False(t, field.Set(wire.String("bad"), 100))
	assert.Equal(t, uint64(100), field.Seq())

	// A well-typed write older than the rejected one is stale.
	assert.False(t, field.Set(wire.Int(20), 2))
	assert.Equal(t, uint64(1), fx.counters.Value(metricStaleRejections))
	v, _ := field.Value()
	assert.Equal(t, int64(10), mustInt(t, v))

	require.True(t, field.Set(wire.Int(20), 101))
	assert.Equal(t, uint64(101), field.LastChanged())
	assert.True(t, field.ShouldPublish(ChannelReliable, 101))
}

func TestFieldWithoutValueNeverPublishes(t *testing.T) {
	field := NewField(1, wire.KindInt, DefaultPolicy(), Deps{})
	for _, ch := range Channels {
		assert.False(t, field.ShouldPublish(ch, 1), ch.String())
	}
}

func TestFieldReliableEdgeTriggering(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)

	selected := runTicks(t, fx.clock, field, ChannelReliable, 1, 9, changesAtFive)
	// Tick 1 bootstraps the channel and tick 2 flushes the settled value.
	assert.Equal(t, []uint64{1, 2, 5, 6}, selected)
}

func TestFieldUnreliableRedundancy(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)

	selected := runTicks(t, fx.clock, field, ChannelUnreliable, 1, 9, changesAtFive)
	assert.Equal(t, []uint64{1, 2, 3, 5, 6, 7}, selected)
}

func TestFieldUnreliableSettlingGrace(t *testing.T) {
	fx := newFixture()
	policy := DefaultPolicy()
	policy.Redundancy = 0
	field := NewField(1, wire.KindInt, policy, fx.deps)

	selected := runTicks(t, fx.clock, field, ChannelUnreliable, 1, 9, changesAtFive)
	// Without redundancy the two ticks after settling still go out.
	assert.Equal(t, []uint64{1, 2, 3, 5, 6, 7}, selected)
}

func TestFieldUnreliableRemoteChanges(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)

	// Only ticks 1 and 5 carry a set; the rest count as unchanged.
	var selected []uint64
	for seq := uint64(1); seq <= 10; seq++ {
		fx.clock.Advance(tick)
		switch seq {
		case 1:
			field.Set(wire.Int(100), seq)
		case 5:
			field.Set(wire.Int(80), seq)
		}
		if _, ok := field.Publish(ChannelUnreliable, seq); ok {
			selected = append(selected, seq)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 5, 6, 7}, selected)
}

func TestFieldMinIntervalThrottles(t *testing.T) {
	fx := newFixture()
	policy := DefaultPolicy()
	policy.MinInterval = time.Second
	field := NewField(1, wire.KindInt, policy, fx.deps)

	field.Set(wire.Int(1), 1)
	_, ok := field.Publish(ChannelReliable, 1)
	require.True(t, ok)

	fx.clock.Advance(100 * time.Millisecond)
	field.Set(wire.Int(2), 2)
	_, ok = field.Publish(ChannelReliable, 2)
	assert.False(t, ok, "throttled")

	fx.clock.Advance(time.Second)
	field.Set(wire.Int(2), 3)
	_, ok = field.Publish(ChannelReliable, 3)
	assert.True(t, ok, "settling edge after the interval")
}

func TestFieldRefreshInterval(t *testing.T) {
	fx := newFixture()
	policy := DefaultPolicy()
	policy.RefreshInterval = 10 * tick
	field := NewField(1, wire.KindInt, policy, fx.deps)

	selected := runTicks(t, fx.clock, field, ChannelReliable, 1, 40, func(uint64) wire.Value { return wire.Int(7) })
	// Bootstrap, settle edge, then one refresh every ten frames.
	assert.Equal(t, []uint64{1, 2, 12, 22, 32}, selected)
}

func TestFieldInitialChannelAlwaysPublishes(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)
	field.Set(wire.Int(5), 1)

	for seq := uint64(1); seq <= 5; seq++ {
		_, ok := field.Publish(ChannelInitial, seq)
		assert.True(t, ok, "seq %d", seq)
	}
	assert.Equal(t, uint64(5), fx.counters.Value(metricFieldPublishes+"initial"))
}

func TestFieldChannelRestriction(t *testing.T) {
	policy := DefaultPolicy()
	policy.Channels = ChannelsOf(ChannelInitial, ChannelReliable)
	field := NewField(1, wire.KindInt, policy, Deps{})
	field.Set(wire.Int(5), 1)

	assert.True(t, field.ShouldPublish(ChannelReliable, 1))
	assert.False(t, field.ShouldPublish(ChannelUnreliable, 1))
}

func TestFieldPublishCoalescesSequence(t *testing.T) {
	fx := newFixture()
	field := NewField(1, wire.KindInt, DefaultPolicy(), fx.deps)
	field.Set(wire.Int(5), 8)

	_, ok := field.Publish(ChannelInitial, 8)
	require.True(t, ok)
	_, ok = field.Publish(ChannelInitial, 6)
	require.True(t, ok)

	seq, at, ok := field.LastPublished(ChannelInitial)
	require.True(t, ok)
	assert.Equal(t, uint64(8), seq)
	assert.Equal(t, fx.clock.Now(), at)
}

func mustInt(t *testing.T, v wire.Value) int64 {
	t.Helper()
	n, ok := v.AsInt()
	require.True(t, ok, "expected int, got %s", v.Kind())
	return n
}
