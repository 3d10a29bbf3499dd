package netcode

import (
	"time"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/history"
	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

type publishRecord struct {
	seq uint64
	at  time.Time
}

// Field is one replicated value together with its sequence bookkeeping,
// change history and per-channel publish records.
type Field struct {
	key    wire.Key
	path   []wire.Key
	kind   wire.Kind
	policy Policy
	deps   Deps

	value       wire.Value
	hasValue    bool
	seq         uint64
	lastChanged uint64
	history     history.History
	published   map[Channel]publishRecord
}

// NewField constructs a detached field. Fields owned by a FieldSet are
// created through FieldSet.Add or Register instead.
func NewField(key wire.Key, kind wire.Kind, policy Policy, deps Deps) *Field {
	return newField([]wire.Key{key}, kind, policy, deps.WithDefaults())
}

func newField(path []wire.Key, kind wire.Kind, policy Policy, deps Deps) *Field {
	return &Field{
		key:       path[len(path)-1],
		path:      path,
		kind:      kind,
		policy:    policy,
		deps:      deps,
		published: make(map[Channel]publishRecord, len(Channels)),
	}
}

func (f *Field) Key() wire.Key { return f.key }

func (f *Field) Kind() wire.Kind { return f.kind }

func (f *Field) Policy() Policy { return f.policy }

// Has reports whether the field holds a value.
func (f *Field) Has() bool { return f.hasValue }

// Seq is the newest sequence number accepted by Set.
func (f *Field) Seq() uint64 { return f.seq }

func (f *Field) LastChanged() uint64 { return f.lastChanged }

// Value returns the current value; ok is false until the first set.
func (f *Field) Value() (wire.Value, bool) {
	return f.value, f.hasValue
}

// History exposes the change history for inspection.
func (f *Field) History() *history.History {
	return &f.history
}

// Set stores value at seq and reports whether it changed. Sets older than the
// field's sequence number are rejected. Every call, accepted or not, advances
// the field's sequence number and records an outcome in the change history.
func (f *Field) Set(value wire.Value, seq uint64) bool {
	if value.Kind() != f.kind {
		f.deps.diag.typeMismatch(seq, f.path, f.kind, value.Kind())
		f.seq = max(f.seq, seq)
		f.history.Mark(seq, false)
		return false
	}
	if seq < f.seq {
		f.deps.diag.stale(seq, f.path, f.seq)
		f.history.Mark(seq, false)
		return false
	}

	changed := !f.hasValue || !f.equal(f.value, value)
	if changed {
		f.value = value
		f.hasValue = true
		f.lastChanged = max(f.lastChanged, seq)
		f.deps.diag.changed()
	}
	f.seq = max(f.seq, seq)
	f.history.Mark(seq, changed)
	return changed
}

func (f *Field) equal(a, b wire.Value) bool {
	if f.policy.Equal != nil {
		return f.policy.Equal(a, b)
	}
	return a.Equal(b, f.deps.Epsilon)
}

// ShouldPublish reports whether the field must be sent on ch at seq.
func (f *Field) ShouldPublish(ch Channel, seq uint64) bool {
	if !f.hasValue || !f.policy.Channels.Has(ch) {
		return false
	}
	class := ch.Class()
	last, ok := f.published[ch]
	if class == ClassFull || !ok {
		return true
	}
	if class == ClassLossy && seq >= f.lastChanged && seq-f.lastChanged <= uint64(max(f.policy.Redundancy, 0)) {
		return true
	}

	elapsed := f.deps.Clock.Now().Sub(last.at)
	if f.policy.MinInterval > 0 && elapsed < f.policy.MinInterval {
		return false
	}
	if f.policy.RefreshInterval > 0 && elapsed >= f.policy.RefreshInterval {
		return true
	}
	return class.selects(f.history.RunsAt(seq))
}

// Publish evaluates ShouldPublish and, when it passes, records the publish
// and returns the value to send.
func (f *Field) Publish(ch Channel, seq uint64) (wire.Value, bool) {
	if !f.ShouldPublish(ch, seq) {
		return wire.Value{}, false
	}
	record := f.published[ch]
	f.published[ch] = publishRecord{seq: max(record.seq, seq), at: f.deps.Clock.Now()}
	f.deps.diag.published(ch)
	return f.value, true
}

// LastPublished returns the sequence number and time of the latest publish on ch.
func (f *Field) LastPublished(ch Channel) (uint64, time.Time, bool) {
	record, ok := f.published[ch]
	return record.seq, record.at, ok
}
