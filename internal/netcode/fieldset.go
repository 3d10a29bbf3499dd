package netcode

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

var (
	// ErrDuplicateKey is returned when a key is registered twice.
	ErrDuplicateKey = errors.New("netcode: duplicate key")
	// ErrKindConflict is returned when a key is reused as both a leaf and a nested set.
	ErrKindConflict = errors.New("netcode: key kind conflict")
	// ErrUnknownKind is returned when a field is registered with a kind that cannot be a leaf.
	ErrUnknownKind = errors.New("netcode: unsupported field kind")
)

type binding interface {
	pull() (wire.Value, bool)
	push(wire.Value)
}

type entry struct {
	field   *Field
	binding binding
	child   *FieldSet
}

// FieldSet owns the replicated fields of one unit, keyed by small integers.
// A key is either a leaf field or a nested set for the lifetime of the set.
type FieldSet struct {
	deps    Deps
	path    []wire.Key
	order   []wire.Key
	entries map[wire.Key]*entry
}

// NewFieldSet creates an empty root set.
func NewFieldSet(deps Deps) *FieldSet {
	return newFieldSet(nil, deps.WithDefaults())
}

func newFieldSet(path []wire.Key, deps Deps) *FieldSet {
	return &FieldSet{deps: deps, path: path, entries: make(map[wire.Key]*entry)}
}

// Add registers an unbound leaf field. Its value is driven through Field.Set
// and merges.
func (s *FieldSet) Add(key wire.Key, kind wire.Kind, policy Policy) (*Field, error) {
	return s.add(key, kind, policy, nil)
}

func (s *FieldSet) add(key wire.Key, kind wire.Kind, policy Policy, b binding) (*Field, error) {
	switch kind {
	case wire.KindBool, wire.KindInt, wire.KindFloat, wire.KindString:
	default:
		return nil, fmt.Errorf("register %s as %s: %w", formatPath(childPath(s.path, key)), kind, ErrUnknownKind)
	}
	if existing, ok := s.entries[key]; ok {
		if existing.child != nil {
			return nil, fmt.Errorf("register %s: %w", formatPath(childPath(s.path, key)), ErrKindConflict)
		}
		return nil, fmt.Errorf("register %s: %w", formatPath(childPath(s.path, key)), ErrDuplicateKey)
	}
	field := newField(childPath(s.path, key), kind, policy, s.deps)
	s.entries[key] = &entry{field: field, binding: b}
	s.order = append(s.order, key)
	return field, nil
}

// Nest returns the nested set under key, creating it on first use.
func (s *FieldSet) Nest(key wire.Key) (*FieldSet, error) {
	if existing, ok := s.entries[key]; ok {
		if existing.child == nil {
			return nil, fmt.Errorf("nest %s: %w", formatPath(childPath(s.path, key)), ErrKindConflict)
		}
		return existing.child, nil
	}
	child := newFieldSet(childPath(s.path, key), s.deps)
	s.entries[key] = &entry{child: child}
	s.order = append(s.order, key)
	return child, nil
}

// Field returns the leaf field under key.
func (s *FieldSet) Field(key wire.Key) (*Field, bool) {
	e, ok := s.entries[key]
	if !ok || e.field == nil {
		return nil, false
	}
	return e.field, true
}

// Keys returns the registered keys in registration order.
func (s *FieldSet) Keys() []wire.Key {
	return slices.Clone(s.order)
}

func (s *FieldSet) Len() int {
	return len(s.order)
}

// UpdateFrom captures live state through each bound accessor at seq.
// Accessors that report no value are skipped.
func (s *FieldSet) UpdateFrom(seq uint64) {
	for _, key := range s.order {
		e := s.entries[key]
		if e.child != nil {
			e.child.UpdateFrom(seq)
			continue
		}
		if e.binding == nil {
			continue
		}
		if v, ok := e.binding.pull(); ok {
			e.field.Set(v, seq)
		}
	}
}

// Filtered publishes every field selected for ch at seq and returns them as a
// tree. hasData is false when nothing but optional fields was selected; an
// empty result is returned as (nil, false).
func (s *FieldSet) Filtered(ch Channel, seq uint64) (tree wire.Tree, hasData bool) {
	for _, key := range s.order {
		e := s.entries[key]
		if e.child != nil {
			sub, subData := e.child.Filtered(ch, seq)
			if len(sub) == 0 {
				continue
			}
			if tree == nil {
				tree = make(wire.Tree)
			}
			tree[key] = wire.Nested(sub)
			hasData = hasData || subData
			continue
		}
		v, ok := e.field.Publish(ch, seq)
		if !ok {
			continue
		}
		if tree == nil {
			tree = make(wire.Tree)
		}
		tree[key] = v
		if !e.field.policy.Optional {
			hasData = true
		}
	}
	return tree, hasData
}

// Merge applies an incoming tree at seq and returns the keys whose value
// changed, in ascending order. A nested key is reported when anything below
// it changed. allow, when non-nil, vetoes individual keys. Unknown keys and
// values of the wrong shape are reported and skipped.
func (s *FieldSet) Merge(tree wire.Tree, seq uint64, allow func(wire.Key) bool) []wire.Key {
	var changed []wire.Key
	for _, key := range tree.Keys() {
		if allow != nil && !allow(key) {
			continue
		}
		incoming := tree[key]
		e, ok := s.entries[key]
		if !ok {
			s.deps.diag.unknownKey(seq, s.path, key)
			continue
		}
		if e.child != nil {
			sub, ok := incoming.AsTree()
			if !ok {
				s.deps.diag.typeMismatch(seq, e.child.path, wire.KindTree, incoming.Kind())
				continue
			}
			if len(e.child.Merge(sub, seq, nil)) > 0 {
				changed = append(changed, key)
			}
			continue
		}
		if s.mergeField(e, incoming, seq) {
			changed = append(changed, key)
		}
	}
	return changed
}

func (s *FieldSet) mergeField(e *entry, incoming wire.Value, seq uint64) bool {
	v, ok := incoming.Coerce(e.field.kind)
	if !ok {
		v = incoming
	}
	if !e.field.Set(v, seq) {
		return false
	}
	if e.binding != nil {
		e.binding.push(v)
	}
	return true
}

// Flatten returns every field that holds a value as a plain wire tree.
func (s *FieldSet) Flatten() wire.Tree {
	tree := make(wire.Tree, len(s.order))
	for _, key := range s.order {
		e := s.entries[key]
		if e.child != nil {
			if sub := e.child.Flatten(); len(sub) > 0 {
				tree[key] = wire.Nested(sub)
			}
			continue
		}
		if v, ok := e.field.Value(); ok {
			tree[key] = v
		}
	}
	return tree
}
