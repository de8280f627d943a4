// Package state implements the agent state machine (spec component C8):
// the sole mutable primary entity, owned exclusively by the scheduler
// thread. Grounded on the teacher's clamped-ratio bookkeeping idiom in
// internal/memory/budget.go, generalized from a token budget to the full
// energy/pressure/alertness model spec.md §3 and §4.7 describe.
package state

import "time"

// Mode is the agent's coarse alertness mode.
type Mode string

const (
	ModeAlert   Mode = "alert"
	ModeNormal  Mode = "normal"
	ModeRelaxed Mode = "relaxed"
	ModeSleep   Mode = "sleep"
)

// SleepState is the AgentState's sleep sub-state.
type SleepState struct {
	Mode             Mode
	Disturbance      float64
	DisturbanceDecay float64
	WakeThreshold    float64
}

// TickBounds bounds the dynamic tick interval.
type TickBounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultTickBounds matches spec.md §4.6's defaults (1s..60s).
func DefaultTickBounds() TickBounds {
	return TickBounds{Min: time.Second, Max: 60 * time.Second}
}

// AgentState is the sole mutable primary entity (spec.md §3). All ratio
// fields stay in [0,1]; mutation happens only via UPDATE_STATE intents or
// the scheduler's own tick method (spec.md invariant 1).
type AgentState struct {
	Energy               float64
	SocialDebt           float64
	TaskPressure         float64
	Curiosity            float64
	AcquaintancePressure float64
	ThoughtPressure      float64
	PendingThoughtCount  int

	LastTickAt   time.Time
	TickInterval time.Duration
	Bounds       TickBounds

	Sleep SleepState
}

// New creates an AgentState with energy at full and every pressure ratio at
// zero, awake in normal mode.
func New(bounds TickBounds) *AgentState {
	if bounds == (TickBounds{}) {
		bounds = DefaultTickBounds()
	}
	return &AgentState{
		Energy: 1.0,
		Bounds: bounds,
		Sleep: SleepState{
			Mode:             ModeNormal,
			DisturbanceDecay: 0.1,
			WakeThreshold:    0.5,
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp forces every ratio field back into [0,1] (spec.md invariant 1).
// Called after every field mutation.
func (s *AgentState) Clamp() {
	s.Energy = clamp01(s.Energy)
	s.SocialDebt = clamp01(s.SocialDebt)
	s.TaskPressure = clamp01(s.TaskPressure)
	s.Curiosity = clamp01(s.Curiosity)
	s.AcquaintancePressure = clamp01(s.AcquaintancePressure)
	s.ThoughtPressure = clamp01(s.ThoughtPressure)
	s.Sleep.Disturbance = clamp01(s.Sleep.Disturbance)
	s.Sleep.WakeThreshold = clamp01(s.Sleep.WakeThreshold)
}

// ReachOutPressure is the weighted sum spec.md §4.7 defines. It is an
// input to the alertness-mode and wake-decision logic, never a gate by
// itself.
func (s *AgentState) ReachOutPressure(p Personality) float64 {
	raw := s.SocialDebt*(1-p.Shyness)*0.4 +
		s.TaskPressure*p.Independence*0.4 +
		s.Curiosity*p.Curiosity*0.2
	energyModulation := 0.5 + s.Energy*0.5
	return raw * energyModulation
}

// ModeFor evaluates the alertness-mode matrix from spec.md §4.7, in order.
func ModeFor(pressure, taskPressure, energy float64, nightTime bool) Mode {
	switch {
	case pressure > 0.7 || taskPressure > 0.8:
		return ModeAlert
	case nightTime && pressure < 0.3 && energy < 0.5:
		return ModeSleep
	case pressure < 0.3 && energy < 0.4:
		return ModeRelaxed
	default:
		return ModeNormal
	}
}

func modeMultiplier(m Mode) float64 {
	switch m {
	case ModeAlert:
		return 0.3
	case ModeRelaxed:
		return 2.0
	case ModeSleep:
		return 4.0
	default:
		return 1.0
	}
}

func pressureMultiplier(pressure float64) float64 {
	v := 1 - pressure*0.5
	if v < 0.5 {
		return 0.5
	}
	return v
}

// RecomputeTickInterval implements spec.md §4.7's tick-interval formula:
// base * modeMultiplier * energyMultiplier * pressureMultiplier, clamped to
// s.Bounds. EnergyMultiplier comes from the EnergyModel (see energy.go).
func (s *AgentState) RecomputeTickInterval(base time.Duration, energyMultiplier, pressure float64) {
	scaled := float64(base) * modeMultiplier(s.Sleep.Mode) * energyMultiplier * pressureMultiplier(pressure)
	interval := time.Duration(scaled)
	if interval < s.Bounds.Min {
		interval = s.Bounds.Min
	}
	if interval > s.Bounds.Max {
		interval = s.Bounds.Max
	}
	s.TickInterval = interval
}

// ApplyDisturbance adds to the sleep sub-state's disturbance and, if it
// crosses wakeThreshold*energyMultiplier, flips mode to normal and zeroes
// disturbance (spec.md §4.7 disturbance model, boundary behavior §8).
func (s *AgentState) ApplyDisturbance(amount, energyMultiplier float64) {
	if s.Sleep.Mode != ModeSleep && s.Sleep.Mode != ModeRelaxed {
		return
	}
	s.Sleep.Disturbance = clamp01(s.Sleep.Disturbance + amount)
	if s.Sleep.Disturbance > s.Sleep.WakeThreshold*energyMultiplier {
		s.Sleep.Mode = ModeNormal
		s.Sleep.Disturbance = 0
	}
}

// DecayDisturbance applies the configured per-tick disturbance decay.
func (s *AgentState) DecayDisturbance() {
	if s.Sleep.DisturbanceDecay <= 0 {
		return
	}
	s.Sleep.Disturbance = clamp01(s.Sleep.Disturbance - s.Sleep.DisturbanceDecay)
}
