package loop

import (
	"errors"
	"sync"
	"time"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
)

const (
	inboundOccupancyMetricKey = "loop_inbound_occupancy"
	inboundOverflowMetricKey  = "loop_inbound_overflow"
)

// ErrBufferFull is returned when the inbound queue cannot take another message.
var ErrBufferFull = errors.New("loop: inbound buffer full")

// Inbound is one decoded message waiting for the next tick.
type Inbound struct {
	Peer     string
	Envelope wire.Envelope
	Received time.Time
}

// Buffer stores inbound messages in a fixed-size ring. It is safe for
// concurrent producers and a single consumer.
type Buffer struct {
	mu      sync.Mutex
	data    []Inbound
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewBuffer constructs a ring buffer with the provided capacity.
func NewBuffer(capacity int, metrics telemetry.Metrics) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data:    make([]Inbound, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of messages the buffer can hold.
func (b *Buffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Push stages a message, failing with ErrBufferFull when the ring is full.
func (b *Buffer) Push(msg Inbound) error {
	if b == nil {
		return ErrBufferFull
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.metrics != nil {
			b.metrics.Add(inboundOverflowMetricKey, 1)
		}
		return ErrBufferFull
	}
	b.data[b.tail] = msg
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
	return nil
}

// Drain returns all staged messages in arrival order and clears the buffer.
func (b *Buffer) Drain() []Inbound {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	messages := make([]Inbound, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		messages[i] = b.data[idx]
		b.data[idx] = Inbound{}
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
	return messages
}

// Len reports the number of staged messages.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(inboundOccupancyMetricKey, uint64(b.count))
}
