// Package loop drives replication at a fixed tick rate. Each step applies
// queued network messages, captures live state and publishes the outgoing
// envelopes, in that order.
package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bchoi12/birdtown-sub001/internal/netcode"
	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
	"github.com/bchoi12/birdtown-sub001/logging"
	"github.com/bchoi12/birdtown-sub001/logging/network"
	"github.com/bchoi12/birdtown-sub001/logging/replication"
	"github.com/bchoi12/birdtown-sub001/logging/simulation"
)

const (
	DefaultTickRate        = 60
	DefaultInboundCapacity = 1024
	DefaultMaxSeqLead      = 2 * DefaultTickRate

	// MaxPlausibleSeq bounds any sequence number adopted from a peer, leaving
	// room to keep incrementing without wrapping.
	MaxPlausibleSeq uint64 = 1 << 48

	outgoingBytesMetricKey = "loop_outgoing_bytes_"
	tickDurationMetricKey  = "loop_tick_duration_ms"
	seqMetricKey           = "loop_seq"
	seqRejectedMetricKey   = "loop_seq_rejections"
)

// Sender is the transport seen from the loop. Delivery guarantees per channel
// are the transport's concern.
type Sender interface {
	Broadcast(ch netcode.Channel, data []byte)
	SendTo(peer string, ch netcode.Channel, data []byte) error
}

// Config tunes the tick loop. MaxSeqLead is how far past a peer's previous
// sequence number a state envelope may jump, on top of the ticks elapsed
// since that envelope arrived.
type Config struct {
	TickRate        int
	InboundCapacity int
	MaxSeqLead      uint64
}

// Deps carries shared infrastructure for the loop.
type Deps struct {
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

// Hooks lets the application run simulation code inside a step.
type Hooks struct {
	// Prepare runs after merges and before live state is captured.
	Prepare func(seq uint64)
	// AfterStep observes the result of every step.
	AfterStep func(StepResult)
}

// StepResult summarises one tick.
type StepResult struct {
	Seq      uint64
	Inbound  int
	Routed   int
	Unknown  int
	Changed  int
	Rejected int
	Synced   []string
	Sent     map[netcode.Channel]int
	Duration time.Duration
}

// Loop owns the sequence number and serialises every access to the
// aggregator; units are only touched from Step.
type Loop struct {
	agg     *netcode.Aggregator
	sender  Sender
	resolve netcode.Resolver
	inbound *Buffer
	hooks   Hooks
	config  Config

	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock

	seq           uint64
	completed     atomic.Uint64
	overrunStreak uint64
	resync        map[string]*ResyncPolicy
	peerSeq       map[string]peerClock

	peersMu     sync.Mutex
	pendingSync map[string]struct{}
	departed    []string
}

// New wires a loop around agg. resolve may be nil.
func New(agg *netcode.Aggregator, sender Sender, resolve netcode.Resolver, cfg Config, deps Deps, hooks Hooks) *Loop {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = DefaultInboundCapacity
	}
	if cfg.MaxSeqLead == 0 {
		cfg.MaxSeqLead = DefaultMaxSeqLead
	}
	cfg.MaxSeqLead = min(cfg.MaxSeqLead, MaxPlausibleSeq)
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = logging.ClockFunc(time.Now)
	}
	return &Loop{
		agg:         agg,
		sender:      sender,
		resolve:     resolve,
		inbound:     NewBuffer(cfg.InboundCapacity, deps.Metrics),
		hooks:       hooks,
		config:      cfg,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		resync:      make(map[string]*ResyncPolicy),
		peerSeq:     make(map[string]peerClock),
		pendingSync: make(map[string]struct{}),
	}
}

// Seq returns the sequence number of the last completed step. It is safe to
// call from any goroutine.
func (l *Loop) Seq() uint64 {
	if l == nil {
		return 0
	}
	return l.completed.Load()
}

// Pending reports the number of queued inbound messages.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.inbound.Len()
}

// Deliver decodes a frame received from peer and queues it for the next step.
// It is safe to call from transport goroutines.
func (l *Loop) Deliver(peer string, data []byte) error {
	if l == nil {
		return ErrBufferFull
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		network.DecodeFailed(context.Background(), l.publisher, l.Seq(), network.PeerRef(peer), network.FramePayload{
			Bytes: len(data),
			Error: err.Error(),
		}, nil)
		return fmt.Errorf("deliver from %s: %w", peer, err)
	}
	return l.inbound.Push(Inbound{Peer: peer, Envelope: env, Received: l.clock.Now()})
}

// RequestFullSync schedules an initial-channel envelope for peer on the next
// step. Transports call it when a peer joins.
func (l *Loop) RequestFullSync(peer string) {
	if l == nil {
		return
	}
	l.peersMu.Lock()
	l.pendingSync[peer] = struct{}{}
	l.peersMu.Unlock()
}

// Forget drops per-peer state once a peer disconnects.
func (l *Loop) Forget(peer string) {
	if l == nil {
		return
	}
	l.peersMu.Lock()
	delete(l.pendingSync, peer)
	l.departed = append(l.departed, peer)
	l.peersMu.Unlock()
}

// Step advances one tick: merge inbound data, capture live state, publish.
func (l *Loop) Step() StepResult {
	if l == nil {
		return StepResult{}
	}
	start := l.clock.Now()
	l.forgetDeparted()

	messages := l.inbound.Drain()
	result := StepResult{Inbound: len(messages), Sent: make(map[netcode.Channel]int)}
	for _, msg := range messages {
		l.apply(msg, &result)
	}
	l.requestResyncs()

	// Sequence numbers act as a Lamport clock across peers so merged values
	// are never older than the next local capture.
	l.seq++
	seq := l.seq
	result.Seq = seq

	if l.hooks.Prepare != nil {
		l.hooks.Prepare(seq)
	}
	l.agg.Update(seq)
	result.Synced = l.publish(seq, result.Sent)

	result.Duration = l.clock.Now().Sub(start)
	l.completed.Store(seq)
	l.metrics.Store(seqMetricKey, seq)
	l.metrics.Store(tickDurationMetricKey, uint64(result.Duration.Milliseconds()))
	l.checkBudget(result)
	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}

// Run steps at the configured tick rate until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	ticker := time.NewTicker(l.budget())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}

func (l *Loop) budget() time.Duration {
	return time.Second / time.Duration(l.config.TickRate)
}

func (l *Loop) apply(msg Inbound, result *StepResult) {
	env := msg.Envelope
	switch env.Kind {
	case wire.EnvelopeResyncRequest:
		l.RequestFullSync(msg.Peer)
	case wire.EnvelopeState:
		if !l.admit(msg) {
			result.Rejected++
			return
		}
		if env.Seq > l.seq {
			l.seq = env.Seq
		}
		if env.Payload.Empty() {
			return
		}
		stats := l.agg.RouteIncoming(env.Payload, env.Seq, l.resolve)
		result.Routed += stats.Routed
		result.Unknown += stats.Unknown
		result.Changed += stats.Changed

		policy := l.resync[msg.Peer]
		if policy == nil {
			policy = NewResyncPolicy()
			l.resync[msg.Peer] = policy
		}
		policy.NoteRouted(stats.Routed)
		policy.NoteUnknown(env.Seq, stats.Unknown)
	}
}

type peerClock struct {
	seq uint64
	at  time.Time
}

// admit reports whether a state envelope's sequence number is plausible for
// its sender. A peer's first envelope only has to stay under MaxPlausibleSeq;
// later ones may lead the previous by MaxSeqLead plus the ticks elapsed.
func (l *Loop) admit(msg Inbound) bool {
	seq := msg.Envelope.Seq
	last, seen := l.peerSeq[msg.Peer]
	allowed := MaxPlausibleSeq - 1
	reason := "exceeds plausible range"
	if seen && seq > last.seq {
		var elapsed uint64
		if d := msg.Received.Sub(last.at); d > 0 {
			elapsed = uint64(d / l.budget())
		}
		allowed = min(allowed, last.seq+l.config.MaxSeqLead+elapsed)
		reason = "jumps ahead of peer"
	}
	if seq > allowed {
		l.metrics.Add(seqRejectedMetricKey, 1)
		network.SeqRejected(context.Background(), l.publisher, l.seq, network.PeerRef(msg.Peer), network.SeqRejectedPayload{
			Seq:     seq,
			Last:    last.seq,
			Allowed: allowed,
			Reason:  reason,
		}, nil)
		return false
	}
	if !seen || seq > last.seq {
		l.peerSeq[msg.Peer] = peerClock{seq: seq, at: msg.Received}
	}
	return true
}

func (l *Loop) requestResyncs() {
	for peer, policy := range l.resync {
		signal, ok := policy.Consume()
		if !ok {
			continue
		}
		replication.ResyncRequested(context.Background(), l.publisher, l.seq, replication.ResyncPayload{
			Peer:        peer,
			UnknownIDs:  signal.UnknownIDs,
			TotalRouted: signal.TotalRouted,
			Summary:     signal.Summary(),
		}, nil)
		if l.sender == nil {
			continue
		}
		data, err := wire.Marshal(wire.Envelope{
			Kind:    wire.EnvelopeResyncRequest,
			Channel: uint8(netcode.ChannelReliable),
			Seq:     l.seq,
		})
		if err == nil {
			err = l.sender.SendTo(peer, netcode.ChannelReliable, data)
		}
		if err != nil {
			l.reportSendFailure(peer, len(data), err)
		}
	}
}

func (l *Loop) publish(seq uint64, sent map[netcode.Channel]int) []string {
	synced := l.takePendingSync()
	if len(synced) > 0 {
		l.sendInitial(seq, synced, sent)
	}

	for _, ch := range []netcode.Channel{netcode.ChannelReliable, netcode.ChannelUnreliable} {
		tree, ok := l.agg.BuildOutgoing(ch, seq)
		if !ok {
			continue
		}
		data, err := l.encode(ch, seq, tree)
		if err != nil {
			l.reportSendFailure("", 0, err)
			continue
		}
		if l.sender != nil {
			l.sender.Broadcast(ch, data)
		}
		sent[ch] += len(data)
	}

	for ch, n := range sent {
		l.metrics.Add(outgoingBytesMetricKey+ch.String(), uint64(n))
	}
	return synced
}

func (l *Loop) sendInitial(seq uint64, peers []string, sent map[netcode.Channel]int) {
	tree, _ := l.agg.BuildOutgoing(netcode.ChannelInitial, seq)
	if len(tree) == 0 || l.sender == nil {
		return
	}
	data, err := l.encode(netcode.ChannelInitial, seq, tree)
	if err != nil {
		l.reportSendFailure("", 0, err)
		return
	}
	for _, peer := range peers {
		if err := l.sender.SendTo(peer, netcode.ChannelInitial, data); err != nil {
			l.reportSendFailure(peer, len(data), err)
			continue
		}
		sent[netcode.ChannelInitial] += len(data)
	}
}

func (l *Loop) encode(ch netcode.Channel, seq uint64, tree wire.Tree) ([]byte, error) {
	return wire.Marshal(wire.Envelope{
		Kind:    wire.EnvelopeState,
		Channel: uint8(ch),
		Seq:     seq,
		Payload: tree,
	})
}

func (l *Loop) takePendingSync() []string {
	l.peersMu.Lock()
	defer l.peersMu.Unlock()
	if len(l.pendingSync) == 0 {
		return nil
	}
	peers := make([]string, 0, len(l.pendingSync))
	for peer := range l.pendingSync {
		peers = append(peers, peer)
	}
	clear(l.pendingSync)
	return peers
}

func (l *Loop) forgetDeparted() {
	l.peersMu.Lock()
	departed := l.departed
	l.departed = nil
	l.peersMu.Unlock()
	for _, peer := range departed {
		delete(l.resync, peer)
		delete(l.peerSeq, peer)
	}
}

func (l *Loop) reportSendFailure(peer string, size int, err error) {
	network.SendFailed(context.Background(), l.publisher, l.seq, network.PeerRef(peer), network.FramePayload{
		Bytes: size,
		Error: err.Error(),
	}, nil)
}

func (l *Loop) checkBudget(result StepResult) {
	budget := l.budget()
	if result.Duration <= budget {
		l.overrunStreak = 0
		return
	}
	l.overrunStreak++
	simulation.TickBudgetOverrun(context.Background(), l.publisher, result.Seq, simulation.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(budget),
		Streak:         l.overrunStreak,
		Inbound:        result.Inbound,
	}, nil)
}
