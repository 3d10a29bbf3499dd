package telemetry

import (
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Counters keeps in-process metric values for the diagnostics endpoint. It is
// safe for concurrent use.
type Counters struct {
	values *xsync.MapOf[string, *atomic.Uint64]
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: xsync.NewMapOf[string, *atomic.Uint64]()}
}

func (c *Counters) slot(key string) *atomic.Uint64 {
	value, _ := c.values.LoadOrCompute(key, func() *atomic.Uint64 {
		return new(atomic.Uint64)
	})
	return value
}

// Add implements Metrics.
func (c *Counters) Add(key string, delta uint64) {
	if c == nil || key == "" {
		return
	}
	c.slot(key).Add(delta)
}

// Store implements Metrics.
func (c *Counters) Store(key string, value uint64) {
	if c == nil || key == "" {
		return
	}
	c.slot(key).Store(value)
}

// Value returns the current value for key.
func (c *Counters) Value(key string) uint64 {
	if c == nil {
		return 0
	}
	value, ok := c.values.Load(key)
	if !ok {
		return 0
	}
	return value.Load()
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	out := make(map[string]uint64, c.values.Size())
	c.values.Range(func(key string, value *atomic.Uint64) bool {
		out[key] = value.Load()
		return true
	})
	return out
}

// Keys returns the known counter names in sorted order.
func (c *Counters) Keys() []string {
	snapshot := c.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
