// Package bus implements the priority-ordered, tick-correlated signal
// transport between pipeline stages (spec component C2). It is the single
// cross-thread synchronization boundary in the runtime: producers (ports,
// neurons, filters) push from any goroutine; the scheduler alone drains.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/basket/pulseagent/internal/signal"
)

// DefaultCapacity is the bus's default bound, shared across all priorities.
const DefaultCapacity = 1024

// Bus is a bounded, priority-ordered, multi-producer/single-consumer queue.
// Within a priority, ordering is FIFO. Across priorities, dequeue is strict:
// all HIGH drain before any NORMAL, etc. Signals pushed together under one
// correlationId (the common case: everything a single tick emits) land in
// the same priority's FIFO in emission order and are therefore never
// reordered relative to each other by drain.
type Bus struct {
	mu     sync.Mutex
	queues [4][]signal.Signal // indexed by signal.Priority
	cap    int
	logger *slog.Logger

	size            atomic.Int64
	droppedTotal    atomic.Int64
	lastDropWarning atomic.Int64
}

// New creates a Bus with the default capacity.
func New(logger *slog.Logger) *Bus {
	return NewWithCapacity(DefaultCapacity, logger)
}

// NewWithCapacity creates a Bus bounded at capacity signals in total.
func NewWithCapacity(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{cap: capacity, logger: logger}
}

// Push enqueues a signal. HIGH priority signals are never dropped: if the
// bus is at capacity, the lowest-priority queued signal is evicted to make
// room. LOW/IDLE signals are dropped outright when the bus is full; the
// drop is counted and (at exponential thresholds) logged. Returns false iff
// the signal was dropped.
func (b *Bus) Push(s signal.Signal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(b.size.Load()) >= b.cap {
		if s.Priority == signal.PriorityHigh {
			if !b.evictLowestLocked() {
				// Nothing evictable (shouldn't happen: HIGH occupies a slot
				// too), drop as a last resort.
				b.recordDropLocked(s)
				return false
			}
		} else {
			b.recordDropLocked(s)
			return false
		}
	}

	b.queues[s.Priority] = append(b.queues[s.Priority], s)
	b.size.Add(1)
	return true
}

// PushBatch pushes a slice of signals that share a correlationId, preserving
// their relative order within each priority's FIFO.
func (b *Bus) PushBatch(signals []signal.Signal) (accepted int) {
	for _, s := range signals {
		if b.Push(s) {
			accepted++
		}
	}
	return accepted
}

// evictLowestLocked removes one signal from the lowest non-empty priority
// queue below HIGH. Must be called with b.mu held.
func (b *Bus) evictLowestLocked() bool {
	for p := signal.PriorityIdle; p <= signal.PriorityNormal; p++ {
		q := b.queues[p]
		if len(q) > 0 {
			b.queues[p] = q[1:]
			b.size.Add(-1)
			return true
		}
	}
	return false
}

func (b *Bus) recordDropLocked(s signal.Signal) {
	newCount := b.droppedTotal.Add(1)
	b.maybeLogDropWarning(newCount, s)
}

// Drain returns up to maxN signals in priority-then-FIFO order, removing
// them from the bus.
func (b *Bus) Drain(maxN int) []signal.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	if maxN <= 0 {
		maxN = int(b.size.Load())
	}
	out := make([]signal.Signal, 0, maxN)
	for p := signal.PriorityHigh; p >= signal.PriorityIdle && len(out) < maxN; p-- {
		q := b.queues[p]
		n := maxN - len(out)
		if n >= len(q) {
			out = append(out, q...)
			b.queues[p] = b.queues[p][:0]
		} else {
			out = append(out, q[:n]...)
			b.queues[p] = q[n:]
		}
	}
	b.size.Add(-int64(len(out)))
	return out
}

// Size returns the number of signals currently queued.
func (b *Bus) Size() int {
	return int(b.size.Load())
}

// Clear drops every queued signal.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := range b.queues {
		b.queues[p] = nil
	}
	b.size.Store(0)
}

// DroppedCount returns the total number of signals dropped due to capacity.
func (b *Bus) DroppedCount() int64 {
	return b.droppedTotal.Load()
}

func dropThreshold(count int64) int64 {
	threshold := int64(1)
	for threshold*10 <= count {
		threshold *= 10
	}
	return threshold
}

// maybeLogDropWarning logs once per exponential threshold crossing (1, 10,
// 100, ...) to avoid an I/O spike under sustained overflow.
func (b *Bus) maybeLogDropWarning(newCount int64, s signal.Signal) {
	if b.logger == nil {
		return
	}
	threshold := dropThreshold(newCount)
	if newCount != threshold {
		return
	}
	lastWarned := b.lastDropWarning.Load()
	if threshold <= lastWarned {
		return
	}
	if b.lastDropWarning.CompareAndSwap(lastWarned, threshold) {
		b.logger.Warn("bus_dropped_signals_reached_threshold",
			slog.Int64("count", newCount),
			slog.String("priority", s.Priority.String()),
			slog.String("signal_type", string(s.Type)),
		)
	}
}
