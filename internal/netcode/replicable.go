package netcode

import "github.com/bchoi12/birdtown-sub001/internal/netcode/wire"

// Replicable is any stateful unit that owns a FieldSet. Units register their
// fields once at construction; the aggregator drives UpdateFrom and Merge.
type Replicable interface {
	Fields() *FieldSet
}

// MergeGate lets a unit veto network writes to keys it owns authoritatively.
type MergeGate interface {
	AllowMerge(key wire.Key) bool
}

// MergeObserver is notified after a merge changed at least one key, so the
// unit can re-derive cached state.
type MergeObserver interface {
	Merged(ctx MergeContext, changed []wire.Key)
}

// Resolver maps an id path with no registered unit to a live unit, for
// example by spawning an entity a remote peer created. Returning false leaves
// the key ignored.
type Resolver func(path []wire.Key) (Replicable, bool)

// MergeContext is handed to observers in place of an owner back-reference.
type MergeContext struct {
	Seq     uint64
	Path    []wire.Key
	Resolve Resolver
}

// Lookup resolves a path through the context's resolver.
func (c MergeContext) Lookup(path ...wire.Key) (Replicable, bool) {
	if c.Resolve == nil {
		return nil, false
	}
	return c.Resolve(path)
}
