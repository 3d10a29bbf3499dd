package netcode

import (
	"time"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

const (
	// DefaultRedundancy is how many ticks a change keeps being resent on a lossy channel.
	DefaultRedundancy = 2
	// DefaultMinInterval throttles republishing to about once per frame at 60Hz.
	DefaultMinInterval = 16 * time.Millisecond
)

// Policy tunes when a field is published.
type Policy struct {
	// Optional data alone does not justify sending a message.
	Optional bool
	// MinInterval is the minimum wall-clock gap between publishes on a channel.
	MinInterval time.Duration
	// RefreshInterval, when positive, republishes an unchanged value once
	// this much time has passed since the last publish on a channel.
	RefreshInterval time.Duration
	// Redundancy is the number of ticks after a change during which lossy
	// channels resend the value.
	Redundancy int
	// Channels restricts the field to a subset of channels; zero means all.
	Channels ChannelSet
	// Equal overrides the default epsilon equality.
	Equal func(a, b wire.Value) bool
}

// DefaultPolicy returns the policy used when a field does not override it.
func DefaultPolicy() Policy {
	return Policy{
		MinInterval: DefaultMinInterval,
		Redundancy:  DefaultRedundancy,
	}
}

// selects applies the per-class edge rule to the change history counters.
//
// Ordered channels publish on transition edges only: the tick a value became
// different and the tick it stopped changing. Lossy channels publish while the
// value is changing and for two ticks after it settles.
func (c Class) selects(trueRun, falseRun int) bool {
	switch c {
	case ClassFull:
		return true
	case ClassLossy:
		// Once trueRun >= 1 the second clause is irrelevant; it only matters
		// for the ticks right after settling. Kept as is pending product review.
		return trueRun >= 1 || falseRun <= 2
	default:
		return trueRun == 1 || falseRun == 1
	}
}
