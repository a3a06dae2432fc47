package session

import (
	"sync"
	"sync/atomic"

	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
)

const (
	inboxOccupancyMetricKey = "session_inbox_occupancy"
	inboxOverflowMetricKey  = "session_inbox_overflow_total"
)

// RemoteInput is one peer's input for one frame as it arrives off the wire.
type RemoteInput struct {
	Player sim.PlayerID
	Input  sim.FrameInput
	Source string
}

// Inbox stages remote input in a fixed-size ring. It is safe for concurrent
// producers and a single consumer.
type Inbox struct {
	mu      sync.Mutex
	data    []RemoteInput
	head    int
	count   int
	dropped atomic.Uint64
	metrics telemetry.Metrics
}

// NewInbox constructs a ring with the provided capacity.
func NewInbox(capacity int, metrics telemetry.Metrics) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Inbox{data: make([]RemoteInput, capacity), metrics: metrics}
}

// Capacity reports the maximum number of staged inputs.
func (b *Inbox) Capacity() int {
	return len(b.data)
}

// Push stages an input, returning false when the ring is full.
func (b *Inbox) Push(in RemoteInput) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.dropped.Add(1)
		b.metrics.Add(inboxOverflowMetricKey, 1)
		return false
	}
	b.data[(b.head+b.count)%len(b.data)] = in
	b.count++
	b.metrics.Store(inboxOccupancyMetricKey, uint64(b.count))
	return true
}

// Drain returns every staged input in arrival order and empties the ring.
func (b *Inbox) Drain() []RemoteInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	out := make([]RemoteInput, b.count)
	for i := range out {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	b.head = 0
	b.count = 0
	b.metrics.Store(inboxOccupancyMetricKey, 0)
	return out
}

// Len reports the number of staged inputs.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped reports how many pushes were refused.
func (b *Inbox) Dropped() uint64 {
	return b.dropped.Load()
}
