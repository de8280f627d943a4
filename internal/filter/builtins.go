package filter

import "github.com/basket/pulseagent/internal/signal"

// RegisterBuiltins wires the baseline filters: a confidence floor applied
// to every signal, and a drop for idle-priority signals carrying no
// payload (heartbeat noise with nothing for COGNITION to act on).
func RegisterBuiltins(r *Registry, minConfidence float64) {
	r.Register("min_confidence", 0, nil, minConfidenceFilter(minConfidence))
	r.Register("drop_idle_payloadless", 10, nil, dropIdlePayloadless)
}

func minConfidenceFilter(min float64) Filter {
	return func(signals []signal.Signal, ctx Context) []signal.Signal {
		out := make([]signal.Signal, 0, len(signals))
		for _, s := range signals {
			if s.Metrics.Confidence >= min {
				out = append(out, s)
			}
		}
		return out
	}
}

func dropIdlePayloadless(signals []signal.Signal, ctx Context) []signal.Signal {
	out := make([]signal.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Priority == signal.PriorityIdle && s.Payload == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
