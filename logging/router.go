package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBufferSize = 512
	dropWarnInterval  = 5 * time.Second
	maxSinkBackoff    = 32 * time.Second
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to its sinks from a single dispatch
// goroutine. Publish never blocks: a full queue drops the event.
type Router struct {
	queue       chan Event
	sinks       []*sinkWorker
	clock       Clock
	fallback    *log.Logger
	minSeverity Severity
	stop        chan struct{}
	closed      atomic.Bool
	wg          sync.WaitGroup

	forwarded   atomic.Uint64
	dropped     atomic.Uint64
	lastDropLog atomic.Int64
}

// RouterStats counts events since the router started. SinkDropped and
// SinkFailures sum over every sink.
type RouterStats struct {
	Forwarded    uint64
	Dropped      uint64
	SinkDropped  uint64
	SinkFailures uint64
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Router{
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    log.New(os.Stderr, "[logging] ", log.LstdFlags),
		minSeverity: cfg.MinimumSeverity,
		stop:        make(chan struct{}),
	}
	sinkBuffer := min(max(bufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, sinkBuffer),
			fallback: r.fallback,
		})
	}

	r.wg.Add(1 + len(r.sinks))
	go r.dispatch()
	for _, worker := range r.sinks {
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
	return r, nil
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
	}()
	for {
		select {
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.forward(event)
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	r.forwarded.Add(1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

// Publish queues event for the sinks. Untyped events and events published
// after Close are ignored.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.drop(event)
	}
}

func (r *Router) drop(event Event) {
	r.dropped.Add(1)
	now := time.Now().UnixNano()
	next := r.lastDropLog.Load()
	if now >= next && r.lastDropLog.CompareAndSwap(next, now+dropWarnInterval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping event type=%s seq=%d", event.Type, event.Seq)
	}
}

// Close drains queued events into the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		Forwarded: r.forwarded.Load(),
		Dropped:   r.dropped.Load(),
	}
	for _, worker := range r.sinks {
		stats.SinkDropped += worker.dropped.Load()
		stats.SinkFailures += worker.failed.Load()
	}
	return stats
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
	backoff time.Duration
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.dropped.Add(1)
	}
}

// run writes events in order. After a failed write the worker sleeps, doubling
// the delay per consecutive failure up to maxSinkBackoff.
func (w *sinkWorker) run() {
	for event := range w.events {
		if w.backoff > 0 {
			time.Sleep(w.backoff)
		}
		err := w.sink.Write(event)
		if err == nil {
			w.backoff = 0
			continue
		}
		w.failed.Add(1)
		w.backoff = min(max(2*w.backoff, time.Second), maxSinkBackoff)
		w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, w.backoff)
	}
}
