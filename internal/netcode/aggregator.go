package netcode

import (
	"fmt"
	"slices"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

type member struct {
	unit  Replicable
	group *Aggregator
}

// Aggregator composes replicable units into one tree keyed by unit id. Groups
// nest aggregators for entity → component → sub-component layouts.
type Aggregator struct {
	deps    Deps
	path    []wire.Key
	order   []wire.Key
	members map[wire.Key]*member
}

// RouteStats summarises one RouteIncoming call.
type RouteStats struct {
	// Routed counts units that received a subtree.
	Routed int
	// Unknown counts ids that matched nothing and were not resolved.
	Unknown int
	// Changed counts units where at least one key changed.
	Changed int
}

// NewAggregator creates an empty root aggregator.
func NewAggregator(deps Deps) *Aggregator {
	return newAggregator(nil, deps.WithDefaults())
}

func newAggregator(path []wire.Key, deps Deps) *Aggregator {
	return &Aggregator{deps: deps, path: path, members: make(map[wire.Key]*member)}
}

// Deps returns the shared dependencies so units can build their field sets
// against the same diagnostics.
func (a *Aggregator) Deps() Deps {
	return a.deps
}

// Add places unit under id.
func (a *Aggregator) Add(id wire.Key, unit Replicable) error {
	if unit == nil || unit.Fields() == nil {
		return fmt.Errorf("add %s: unit has no field set", formatPath(childPath(a.path, id)))
	}
	if existing, ok := a.members[id]; ok {
		if existing.group != nil {
			return fmt.Errorf("add %s: %w", formatPath(childPath(a.path, id)), ErrKindConflict)
		}
		return fmt.Errorf("add %s: %w", formatPath(childPath(a.path, id)), ErrDuplicateKey)
	}
	a.insert(id, &member{unit: unit})
	return nil
}

// AddGroup returns the nested aggregator under id, creating it on first use.
func (a *Aggregator) AddGroup(id wire.Key) (*Aggregator, error) {
	if existing, ok := a.members[id]; ok {
		if existing.group == nil {
			return nil, fmt.Errorf("group %s: %w", formatPath(childPath(a.path, id)), ErrKindConflict)
		}
		return existing.group, nil
	}
	group := newAggregator(childPath(a.path, id), a.deps)
	a.insert(id, &member{group: group})
	return group, nil
}

func (a *Aggregator) insert(id wire.Key, m *member) {
	a.members[id] = m
	a.order = append(a.order, id)
}

// Remove drops the unit or group under id.
func (a *Aggregator) Remove(id wire.Key) bool {
	if _, ok := a.members[id]; !ok {
		return false
	}
	delete(a.members, id)
	a.order = slices.DeleteFunc(a.order, func(k wire.Key) bool { return k == id })
	return true
}

// Unit returns the unit directly under id.
func (a *Aggregator) Unit(id wire.Key) (Replicable, bool) {
	m, ok := a.members[id]
	if !ok || m.unit == nil {
		return nil, false
	}
	return m.unit, true
}

// Group returns the nested aggregator directly under id.
func (a *Aggregator) Group(id wire.Key) (*Aggregator, bool) {
	m, ok := a.members[id]
	if !ok || m.group == nil {
		return nil, false
	}
	return m.group, true
}

// Lookup walks groups along path and returns the unit at its end.
func (a *Aggregator) Lookup(path ...wire.Key) (Replicable, bool) {
	if len(path) == 0 {
		return nil, false
	}
	current := a
	for _, id := range path[:len(path)-1] {
		group, ok := current.Group(id)
		if !ok {
			return nil, false
		}
		current = group
	}
	return current.Unit(path[len(path)-1])
}

func (a *Aggregator) Keys() []wire.Key {
	return slices.Clone(a.order)
}

func (a *Aggregator) Len() int {
	return len(a.order)
}

// Update captures live state of every unit at seq.
func (a *Aggregator) Update(seq uint64) {
	for _, id := range a.order {
		m := a.members[id]
		if m.group != nil {
			m.group.Update(seq)
			continue
		}
		m.unit.Fields().UpdateFrom(seq)
	}
}

// BuildOutgoing composes the payload for ch at seq. Units that produced
// nothing are left out entirely.
func (a *Aggregator) BuildOutgoing(ch Channel, seq uint64) (wire.Tree, bool) {
	var (
		tree    wire.Tree
		hasData bool
	)
	for _, id := range a.order {
		m := a.members[id]
		var (
			sub     wire.Tree
			subData bool
		)
		if m.group != nil {
			sub, subData = m.group.BuildOutgoing(ch, seq)
		} else {
			sub, subData = m.unit.Fields().Filtered(ch, seq)
		}
		if len(sub) == 0 {
			continue
		}
		if tree == nil {
			tree = make(wire.Tree)
		}
		tree[id] = wire.Nested(sub)
		hasData = hasData || subData
	}
	return tree, hasData
}

// RouteIncoming dispatches an incoming tree to the matching units. Ids with
// no unit are offered to resolve, when given, and ignored otherwise.
func (a *Aggregator) RouteIncoming(tree wire.Tree, seq uint64, resolve Resolver) RouteStats {
	var stats RouteStats
	a.route(tree, seq, resolve, &stats)
	return stats
}

func (a *Aggregator) route(tree wire.Tree, seq uint64, resolve Resolver, stats *RouteStats) {
	for _, id := range tree.Keys() {
		incoming := tree[id]
		path := childPath(a.path, id)
		sub, ok := incoming.AsTree()
		if !ok {
			a.deps.diag.typeMismatch(seq, path, wire.KindTree, incoming.Kind())
			continue
		}

		m, ok := a.members[id]
		if !ok {
			unit, resolved := a.resolve(path, resolve)
			if !resolved {
				stats.Unknown++
				a.deps.diag.unknownKey(seq, a.path, id)
				continue
			}
			m = &member{unit: unit}
			a.insert(id, m)
		}
		if m.group != nil {
			m.group.route(sub, seq, resolve, stats)
			continue
		}

		stats.Routed++
		if len(mergeUnit(m.unit, sub, MergeContext{Seq: seq, Path: path, Resolve: resolve})) > 0 {
			stats.Changed++
		}
	}
}

func (a *Aggregator) resolve(path []wire.Key, resolve Resolver) (Replicable, bool) {
	if resolve == nil {
		return nil, false
	}
	unit, ok := resolve(slices.Clone(path))
	if !ok || unit == nil || unit.Fields() == nil {
		return nil, false
	}
	return unit, true
}

func mergeUnit(unit Replicable, tree wire.Tree, ctx MergeContext) []wire.Key {
	var allow func(wire.Key) bool
	if gate, ok := unit.(MergeGate); ok {
		allow = gate.AllowMerge
	}
	changed := unit.Fields().Merge(tree, ctx.Seq, allow)
	if observer, ok := unit.(MergeObserver); ok && len(changed) > 0 {
		observer.Merged(ctx, changed)
	}
	return changed
}
