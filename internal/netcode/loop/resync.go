package loop

import (
	"fmt"
)

// ResyncReason records one routed message that referenced unknown ids.
type ResyncReason struct {
	Seq     uint64
	Unknown int
}

// ResyncSignal is raised once a peer keeps naming ids we cannot resolve.
type ResyncSignal struct {
	UnknownIDs  uint64
	TotalRouted uint64
	Reasons     []ResyncReason
}

// ResyncPolicy tracks, per peer, how many routed units referenced ids with no
// local unit. Past the threshold the peer is asked for a full sync.
type ResyncPolicy struct {
	totalRouted uint64
	unknownIDs  uint64
	pending     bool
	reasons     []ResyncReason
}

const unknownThresholdPerTenThousand = 1
const resyncReasonLimit = 8

func NewResyncPolicy() *ResyncPolicy {
	return &ResyncPolicy{reasons: make([]ResyncReason, 0, resyncReasonLimit)}
}

// NoteRouted counts units that received data.
func (p *ResyncPolicy) NoteRouted(n int) {
	if p == nil || n <= 0 {
		return
	}
	if p.totalRouted > ^uint64(0)-uint64(n) {
		p.totalRouted = p.totalRouted / 2
		p.unknownIDs = p.unknownIDs / 2
	}
	p.totalRouted += uint64(n)
}

// NoteUnknown counts ids in the message at seq that matched no unit.
func (p *ResyncPolicy) NoteUnknown(seq uint64, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.unknownIDs += uint64(n)
	if len(p.reasons) < resyncReasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Seq: seq, Unknown: n})
	}
	p.evaluate()
}

func (p *ResyncPolicy) evaluate() {
	if p == nil || p.pending || p.unknownIDs == 0 {
		return
	}
	total := p.totalRouted
	if total == 0 {
		total = 1
	}
	if p.unknownIDs*10000 >= total*unknownThresholdPerTenThousand {
		p.pending = true
	}
}

// Consume returns the pending signal, if any, and resets the counters.
func (p *ResyncPolicy) Consume() (ResyncSignal, bool) {
	if p == nil || !p.pending {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		UnknownIDs:  p.unknownIDs,
		TotalRouted: p.totalRouted,
		Reasons:     append([]ResyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.totalRouted = 0
	p.unknownIDs = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

func (s ResyncSignal) Summary() string {
	if s.UnknownIDs == 0 && s.TotalRouted == 0 {
		return ""
	}
	return fmt.Sprintf("unknown_ids=%d total_routed=%d reasons=%v", s.UnknownIDs, s.TotalRouted, s.Reasons)
}
