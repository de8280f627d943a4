// Package filter implements the filter registry (spec component C7): a
// keyed, ordered chain of signal→signal transformers that AUTONOMIC runs
// after neurons have produced a batch, before the batch reaches the bus.
// Grounded on the same mutex-guarded, id-keyed idiom as internal/neuron
// (itself grounded on the teacher's internal/agent/registry.go),
// generalized from "sense" to "transform a batch."
package filter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/basket/pulseagent/internal/signal"
)

// Context is the read-only state a Filter may consult while transforming a
// batch. It never carries a handle that lets a filter mutate AgentState
// directly.
type Context struct {
	Alertness     float64
	CorrelationID string
}

// Filter transforms a batch of signals into another batch. Filters run
// sequentially; the output of one becomes the input of the next (spec.md
// §4.5). A filter may drop, rewrite, or add signals.
type Filter func(signals []signal.Signal, ctx Context) []signal.Signal

type entry struct {
	id       string
	priority int
	handles  map[signal.Type]bool
	fn       Filter
}

func (e entry) handlesAny(signals []signal.Signal) bool {
	if len(e.handles) == 0 {
		return true
	}
	for _, s := range signals {
		if e.handles[s.Type] {
			return true
		}
	}
	return false
}

// Registry is the keyed, ordered chain of registered filters.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	// failures counts filter invocations that errored/panicked, keyed by id.
	failures map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry), failures: make(map[string]int)}
}

// Register adds or replaces a filter under id. Lower priority runs
// earlier in the chain. handles restricts which signal.Type values the
// filter is invoked for (empty/nil means "all types").
func (r *Registry) Register(id string, priority int, handles []signal.Type, fn Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[signal.Type]bool, len(handles))
	for _, t := range handles {
		set[t] = true
	}
	r.entries[id] = entry{id: id, priority: priority, handles: set, fn: fn}
}

// Unregister removes a filter by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len reports how many filters are registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// FailureCount returns how many times the filter id has errored or
// panicked since registry creation (spec.md §4.5's "failure is counted").
func (r *Registry) FailureCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[id]
}

func (r *Registry) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].id < out[j].id
	})
	return out
}

// Process runs every registered filter in priority order, chaining output
// to input. A filter whose invocation panics leaves that filter's input
// signals unchanged for the chain and increments its failure counter
// (spec.md §4.5: "on exception, the original signals for that filter pass
// through unchanged and the failure is counted").
func (r *Registry) Process(signals []signal.Signal, ctx Context) []signal.Signal {
	current := signals
	for _, e := range r.snapshot() {
		if !e.handlesAny(current) {
			continue
		}
		out, err := safeProcess(e.fn, current, ctx)
		if err != nil {
			r.mu.Lock()
			r.failures[e.id]++
			r.mu.Unlock()
			continue // current is left unchanged
		}
		current = out
	}
	return current
}

func safeProcess(fn Filter, signals []signal.Signal, ctx Context) (out []signal.Signal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("filter panicked: %v", p)
		}
	}()
	return fn(signals, ctx), nil
}
