package state

import "time"

// EnergyConfig tunes the EnergyModel's drain and recharge rates.
type EnergyConfig struct {
	TickDrain          float64
	EventProcessDrain  float64
	LLMCallDrain       float64
	MessageSentDrain   float64
	PassiveRecharge    float64 // per hour, applied every Recharge call; x1.5 relaxed, x3 sleep
	BaseWakeThreshold  float64
}

// DefaultEnergyConfig mirrors the magnitudes spec.md §4.7 sketches: ticks
// and routine events cost little, LLM calls and outbound messages cost
// more, and passive recharge is slow relative to drain.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		TickDrain:         0.001,
		EventProcessDrain: 0.003,
		LLMCallDrain:      0.02,
		MessageSentDrain:  0.01,
		PassiveRecharge:   0.05,
		BaseWakeThreshold: 0.5,
	}
}

// EnergyModel owns the energy drain/recharge arithmetic so AgentState stays
// a plain data holder. Grounded on the teacher's internal/memory/budget.go
// accounting idiom (spend/refill against a capped pool), generalized from
// token budget to the agent's energy ratio.
type EnergyModel struct {
	cfg EnergyConfig
}

// NewEnergyModel builds an EnergyModel. A zero-value cfg substitutes
// DefaultEnergyConfig.
func NewEnergyModel(cfg EnergyConfig) *EnergyModel {
	if cfg == (EnergyConfig{}) {
		cfg = DefaultEnergyConfig()
	}
	return &EnergyModel{cfg: cfg}
}

// DrainKind names what consumed energy, for Drain's dispatch.
type DrainKind string

const (
	DrainTick         DrainKind = "tick"
	DrainEventProcess DrainKind = "event_process"
	DrainLLMCall      DrainKind = "llm_call"
	DrainMessageSent  DrainKind = "message_sent"
)

// Drain reduces s.Energy by the amount configured for kind, clamped to
// [0,1].
func (m *EnergyModel) Drain(s *AgentState, kind DrainKind) {
	var amount float64
	switch kind {
	case DrainTick:
		amount = m.cfg.TickDrain
	case DrainEventProcess:
		amount = m.cfg.EventProcessDrain
	case DrainLLMCall:
		amount = m.cfg.LLMCallDrain
	case DrainMessageSent:
		amount = m.cfg.MessageSentDrain
	}
	s.Energy = clamp01(s.Energy - amount)
}

// Recharge applies passive recharge proportional to elapsed wall time,
// scaled up while the agent is asleep (rest recovers energy faster than an
// alert, active tick loop). This is the resolution to the spec's open
// question on exact recharge dynamics: recharge scales with how deeply the
// agent is resting, not with a fixed constant.
func (m *EnergyModel) Recharge(s *AgentState, elapsed time.Duration) {
	hours := elapsed.Hours()
	if hours <= 0 {
		return
	}
	rate := m.cfg.PassiveRecharge
	switch s.Sleep.Mode {
	case ModeSleep:
		rate *= 3
	case ModeRelaxed:
		rate *= 1.5
	}
	s.Energy = clamp01(s.Energy + rate*hours)
}

// CalculateWakeThreshold scales the base wake threshold up as energy
// drops: a tired agent needs a louder disturbance to be worth waking for,
// which protects rest instead of letting every minor signal interrupt
// recovery. Resolves the open question left by spec.md §4.7.
func (m *EnergyModel) CalculateWakeThreshold(energy float64) float64 {
	base := m.cfg.BaseWakeThreshold
	if base <= 0 {
		base = DefaultEnergyConfig().BaseWakeThreshold
	}
	deficit := 1 - clamp01(energy)
	threshold := base + deficit*0.3
	return clamp01(threshold)
}

// CalculateTickMultiplier scales the tick interval up as energy drops, so
// a tired agent ticks less often and spends less. Resolves the open
// question left by spec.md §4.7; bounded to [0.5, 1.5] so it never
// dominates the mode multiplier.
func (m *EnergyModel) CalculateTickMultiplier(energy float64) float64 {
	v := 1.5 - clamp01(energy)
	if v < 0.5 {
		return 0.5
	}
	if v > 1.5 {
		return 1.5
	}
	return v
}
