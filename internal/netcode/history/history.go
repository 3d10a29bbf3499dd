// Package history records, per replicated field, whether the value changed at
// each of the most recent sequence numbers.
package history

// Capacity is the number of sequence numbers retained by a History ring.
const Capacity = 32

// History is a fixed-width circular bitfield addressed by sequence number
// modulo Capacity. Slot s holds the outcome of the most recent tick whose
// sequence number is congruent to s. Ticks that were never marked but fall
// between two marks count as unchanged.
//
// The zero value is ready to use.
type History struct {
	bits    uint32
	written uint32
	started bool
	newest  uint64

	trueRun  int
	falseRun int

	// Runs as they were before the newest tick was applied, so a second mark
	// for the same tick can be folded in without replaying the ring.
	priorTrue  int
	priorFalse int
}

func slot(seq uint64) uint32 {
	return 1 << (seq % Capacity)
}

// Mark records whether the value changed at seq. Repeated marks for the same
// tick are OR-ed together. Marks for ticks older than the newest mark only
// touch their slot (if it is still retained) and leave the run counters alone.
func (h *History) Mark(seq uint64, changed bool) {
	if h == nil {
		return
	}
	if !h.started {
		h.started = true
		h.newest = seq
		h.write(seq, changed)
		h.apply(changed)
		return
	}

	switch {
	case seq > h.newest:
		gap := seq - h.newest
		if gap > 1 {
			h.skip(gap - 1)
		}
		h.newest = seq
		h.write(seq, changed)
		h.apply(changed)
	case seq == h.newest:
		if !changed || h.bits&slot(seq) != 0 {
			return
		}
		h.write(seq, true)
		h.trueRun, h.falseRun = h.priorTrue, h.priorFalse
		h.apply(true)
	default:
		if h.newest-seq >= Capacity || !changed {
			return
		}
		h.write(seq, true)
	}
}

// skip clears the slots of n unmarked ticks following newest and counts them
// as unchanged.
func (h *History) skip(n uint64) {
	if n >= Capacity {
		h.bits = 0
		h.written = ^uint32(0)
	} else {
		for i := uint64(1); i <= n; i++ {
			s := slot(h.newest + i)
			h.bits &^= s
			h.written |= s
		}
	}
	if h.trueRun > 0 {
		h.trueRun = 0
		h.falseRun = 0
	}
	h.falseRun += int(n)
}

func (h *History) write(seq uint64, changed bool) {
	s := slot(seq)
	h.written |= s
	if changed {
		h.bits |= s
	} else {
		h.bits &^= s
	}
}

func (h *History) apply(changed bool) {
	h.priorTrue, h.priorFalse = h.trueRun, h.falseRun
	if changed {
		h.trueRun++
		h.falseRun = 0
		return
	}
	h.falseRun++
	h.trueRun = 0
}

// ConsecutiveTrue reports the length of the unbroken run of changed ticks
// ending at the newest mark.
func (h *History) ConsecutiveTrue() int {
	if h == nil {
		return 0
	}
	return h.trueRun
}

// ConsecutiveFalse reports the length of the unbroken run of unchanged ticks
// ending at the newest mark.
func (h *History) ConsecutiveFalse() int {
	if h == nil {
		return 0
	}
	return h.falseRun
}

// RunsAt reports the consecutive counters as observed at seq, counting every
// tick after the newest mark as unchanged. For seq at or before the newest
// mark it returns the stored counters.
func (h *History) RunsAt(seq uint64) (trueRun, falseRun int) {
	if h == nil {
		return 0, 0
	}
	if !h.started || seq <= h.newest {
		return h.trueRun, h.falseRun
	}
	gap := int(seq - h.newest)
	if h.trueRun > 0 {
		return 0, gap
	}
	return 0, h.falseRun + gap
}

// At reports the recorded outcome for seq. ok is false when seq is newer
// than the newest mark, has fallen out of the ring, or was never written;
// callers should treat that as changed.
func (h *History) At(seq uint64) (changed, ok bool) {
	if h == nil || !h.started || seq > h.newest || h.newest-seq >= Capacity {
		return true, false
	}
	s := slot(seq)
	if h.written&s == 0 {
		return true, false
	}
	return h.bits&s != 0, true
}

// Newest returns the newest marked sequence number.
func (h *History) Newest() (uint64, bool) {
	if h == nil || !h.started {
		return 0, false
	}
	return h.newest, true
}
