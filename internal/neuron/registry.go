// Package neuron implements the neuron registry (spec component C6): a
// keyed set of pluggable state→signal producers that AUTONOMIC invokes
// every tick. Grounded on the teacher's mutex-guarded, id-keyed
// internal/agent/registry.go, generalized from "registered running
// agents" to "registered sensing functions." Refractory-period tracking
// and previous-value memory are generalized from the teacher's
// internal/engine/context_limits.go threshold bookkeeping.
package neuron

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

// State is the read-only view of AgentState a neuron's Check may consult.
type State struct {
	Energy               float64
	SocialDebt           float64
	TaskPressure         float64
	Curiosity            float64
	AcquaintancePressure float64
	ThoughtPressure      float64
	Now                  time.Time
	Extra                map[string]any
}

// CheckFunc computes a neuron's signal value for the current tick, given
// state, the current alertness ratio, and the tick's correlation id. It
// returns ok=false to emit nothing this tick.
type CheckFunc func(state State, alertness float64, correlationID string) (value float64, payload any, ok bool)

// Neuron is a registered state→signal producer. Description is carried
// for diagnostics/plugin manifests, not used by the registry itself.
type Neuron struct {
	ID          string
	SignalType  signal.Type
	Source      string
	Description string

	Check func(state State, alertness float64, correlationID string) (*signal.Signal, error)
}

// NewBase builds a Neuron around a CheckFunc, adding refractory-period
// tracking and previous-value memory so individual checks stay pure
// functions of (state, alertness). refractory <= 0 disables rate limiting.
func NewBase(id string, signalType signal.Type, source, description string, refractory time.Duration, fn CheckFunc) *Neuron {
	var mu sync.Mutex
	var lastEmit time.Time
	var havePrev bool
	var prevValue float64

	n := &Neuron{ID: id, SignalType: signalType, Source: source, Description: description}
	n.Check = func(state State, alertness float64, correlationID string) (*signal.Signal, error) {
		mu.Lock()
		inRefractory := refractory > 0 && !lastEmit.IsZero() && state.Now.Sub(lastEmit) < refractory
		mu.Unlock()
		if inRefractory {
			return nil, nil
		}

		value, payload, ok := fn(state, alertness, correlationID)
		if !ok {
			return nil, nil
		}

		mu.Lock()
		var prev *float64
		if havePrev {
			pv := prevValue
			prev = &pv
		}
		havePrev = true
		prevValue = value
		lastEmit = state.Now
		mu.Unlock()

		metrics := signal.NewMetrics(value, 1.0)
		if prev != nil {
			metrics = metrics.WithPreviousValue(*prev)
		}
		s := signal.New(signalType, source, signal.PriorityLow, state.Now, correlationID, metrics, payload)
		return &s, nil
	}
	return n
}

// Registry is the keyed, ordered set of registered neurons.
type Registry struct {
	mu      sync.Mutex
	entries map[string]regEntry
}

type regEntry struct {
	priority int
	neuron   *Neuron
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]regEntry)}
}

// Register adds or replaces a neuron. Changes take effect at the next
// tick boundary, never mid-tick (spec.md §4.5); callers achieve this by
// only calling Register/Unregister between RunAll invocations.
func (r *Registry) Register(n *Neuron, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[n.ID] = regEntry{priority: priority, neuron: n}
}

// Unregister removes a neuron by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len reports how many neurons are registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RunResult carries one neuron's outcome.
type RunResult struct {
	ID     string
	Signal *signal.Signal
	Err    error
}

func (r *Registry) snapshot() []regEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]regEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].neuron.ID < out[j].neuron.ID
	})
	return out
}

// RunAll invokes every registered neuron's Check against state, in
// priority order. A neuron that errors or panics contributes no signal
// but never stops the others from running (spec.md §7 fault isolation).
func (r *Registry) RunAll(state State, alertness float64, correlationID string) []RunResult {
	entries := r.snapshot()
	results := make([]RunResult, 0, len(entries))
	for _, e := range entries {
		s, err := safeRun(e.neuron, state, alertness, correlationID)
		results = append(results, RunResult{ID: e.neuron.ID, Signal: s, Err: err})
	}
	return results
}

func safeRun(n *Neuron, state State, alertness float64, correlationID string) (s *signal.Signal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("neuron %s panicked: %v", n.ID, p)
		}
	}()
	return n.Check(state, alertness, correlationID)
}

// Signals flattens a RunAll result set into the signal batch AUTONOMIC
// pushes through the filter chain.
func Signals(results []RunResult) []signal.Signal {
	out := make([]signal.Signal, 0, len(results))
	for _, r := range results {
		if r.Signal != nil {
			out = append(out, *r.Signal)
		}
	}
	return out
}
