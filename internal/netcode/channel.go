package netcode

import "fmt"

// Channel identifies a delivery class consumed from the transport.
type Channel uint8

const (
	// ChannelInitial carries the full state once when a peer joins.
	ChannelInitial Channel = iota + 1
	// ChannelReliable is ordered and lossless but slower.
	ChannelReliable
	// ChannelUnreliable is frequent but may drop, reorder or duplicate.
	ChannelUnreliable
)

// Channels lists the built-in channels in publish order.
var Channels = []Channel{ChannelInitial, ChannelReliable, ChannelUnreliable}

// Class groups channels by delivery guarantee, which decides the selection rule.
type Class uint8

const (
	ClassFull Class = iota + 1
	ClassOrdered
	ClassLossy
)

// Class returns the delivery class of ch. Channels outside the built-in set
// are treated as ordered.
func (ch Channel) Class() Class {
	switch ch {
	case ChannelInitial:
		return ClassFull
	case ChannelUnreliable:
		return ClassLossy
	default:
		return ClassOrdered
	}
}

func (ch Channel) String() string {
	switch ch {
	case ChannelInitial:
		return "initial"
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("channel_%d", uint8(ch))
	}
}

// ChannelSet is a bitmask of channels. The zero set means every channel.
type ChannelSet uint32

// ChannelsOf builds a set from the given channels.
func ChannelsOf(chs ...Channel) ChannelSet {
	var set ChannelSet
	for _, ch := range chs {
		if ch < 32 {
			set |= 1 << ch
		}
	}
	return set
}

// Has reports whether ch is part of the set.
func (s ChannelSet) Has(ch Channel) bool {
	if s == 0 {
		return true
	}
	return ch < 32 && s&(1<<ch) != 0
}
