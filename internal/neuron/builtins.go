package neuron

import (
	"github.com/basket/pulseagent/internal/signal"
)

// RegisterBuiltins wires the baseline neurons: one per internal pressure
// dimension (no refractory period; these are cheap reads of state
// already held in memory) plus a clock neuron that only fires on an
// hour-boundary crossing.
func RegisterBuiltins(r *Registry) {
	r.Register(NewBase("energy", signal.TypeEnergy, "neuron.energy", "current energy ratio", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.Energy, nil, true
		}), 0)
	r.Register(NewBase("social_debt", signal.TypeSocialDebt, "neuron.social_debt", "accumulated social debt", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.SocialDebt, nil, true
		}), 0)
	r.Register(NewBase("task_pressure", signal.TypeContactPressure, "neuron.task_pressure", "pending task pressure", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.TaskPressure, nil, true
		}), 0)
	r.Register(NewBase("curiosity", signal.TypeContactPressure, "neuron.curiosity", "curiosity drive", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.Curiosity, nil, true
		}), 0)
	r.Register(NewBase("acquaintance_pressure", signal.TypeContactPressure, "neuron.acquaintance_pressure", "pressure to reconnect", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.AcquaintancePressure, nil, true
		}), 0)
	r.Register(NewBase("thought_pressure", signal.TypeThought, "neuron.thought_pressure", "backlog of unresolved thoughts", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			return s.ThoughtPressure, nil, true
		}), 0)
	r.Register(clockNeuron(), 10)
}

// clockNeuron fires once per hour boundary, not every tick, so it cannot
// flood AGGREGATION with redundant time_event-adjacent noise.
func clockNeuron() *Neuron {
	lastHour := -1
	return NewBase("clock", signal.TypeHourChanged, "neuron.clock", "hour-boundary crossing", 0,
		func(s State, alertness float64, correlationID string) (float64, any, bool) {
			hour := s.Now.Hour()
			if hour == lastHour {
				return 0, nil, false
			}
			lastHour = hour
			payload := signal.TimePayload{
				Hour:      hour,
				TimeOfDay: timeOfDay(hour),
				Timezone:  s.Now.Location().String(),
			}
			return float64(hour), payload, true
		})
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	case hour < 22:
		return "evening"
	default:
		return "night"
	}
}
