// Package autonomic implements the AUTONOMIC pipeline stage (spec
// component C9): it runs every registered neuron against the current
// AgentState, pushes the resulting batch through the filter chain, and
// tags the survivors with the tick's correlation id before they reach the
// bus. Grounded on the teacher's internal/engine/loop.go step-execution
// idiom (run a bounded set of steps synchronously, never block on I/O).
package autonomic

import (
	"time"

	"github.com/basket/pulseagent/internal/filter"
	"github.com/basket/pulseagent/internal/neuron"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
)

// Stage runs the neuron→filter chain for one tick.
type Stage struct {
	neurons *neuron.Registry
	filters *filter.Registry
}

// New builds a Stage over the given neuron and filter registries.
func New(neurons *neuron.Registry, filters *filter.Registry) *Stage {
	return &Stage{neurons: neurons, filters: filters}
}

// alertnessOf derives a [0,1] alertness scalar from the agent's mode, used
// to scale neuron refractory sensitivity and filter thresholds.
func alertnessOf(mode state.Mode) float64 {
	switch mode {
	case state.ModeAlert:
		return 1.0
	case state.ModeNormal:
		return 0.6
	case state.ModeRelaxed:
		return 0.3
	case state.ModeSleep:
		return 0.1
	default:
		return 0.5
	}
}

// Run executes one AUTONOMIC pass: runs all neurons synchronously,
// flattens their output, and passes the batch through the filter chain.
// It never blocks on I/O (spec.md §4.8) and is deterministic given
// (state, alertness, correlationID) except where a neuron's own
// refractory memory introduces history-dependence by design.
func (s *Stage) Run(st *state.AgentState, now time.Time, correlationID string) []signal.Signal {
	alertness := alertnessOf(st.Sleep.Mode)
	neuronState := neuron.State{
		Energy:               st.Energy,
		SocialDebt:           st.SocialDebt,
		TaskPressure:         st.TaskPressure,
		Curiosity:            st.Curiosity,
		AcquaintancePressure: st.AcquaintancePressure,
		ThoughtPressure:      st.ThoughtPressure,
		Now:                  now,
	}

	results := s.neurons.RunAll(neuronState, alertness, correlationID)
	batch := neuron.Signals(results)

	return s.filters.Process(batch, filter.Context{
		Alertness:     alertness,
		CorrelationID: correlationID,
	})
}
