// Package aggregation implements the AGGREGATION pipeline stage (spec
// component C10): bucket signals by type, run pattern detection, ack-gate
// against C5, and emit a single WakeDecision. Grounded on the teacher's
// internal/engine/context_limits.go bucketing/threshold idiom and
// internal/coordinator/waiter.go's gate-then-decide shape.
package aggregation

import (
	"time"

	"github.com/basket/pulseagent/internal/ack"
	"github.com/basket/pulseagent/internal/detect"
	"github.com/basket/pulseagent/internal/signal"
)

// ContactPressureThreshold is the effective decider spec.md §9 leaves as
// an open question between competing variants observed in the source;
// this is the single value chosen for the wake-decision rule.
const ContactPressureThreshold = 0.6

// PatternBreakConfidenceThreshold is the minimum pattern-match confidence
// that counts toward waking cognition (spec.md §4.9 step 4).
const PatternBreakConfidenceThreshold = 0.7

// Aggregate is the per-type bucket produced by step 1.
type Aggregate struct {
	Type         signal.Type
	CurrentValue float64
	RateOfChange float64
	History      []detect.Sample
}

// WakeDecision is the ephemeral artifact AGGREGATION hands to COGNITION.
type WakeDecision struct {
	ShouldWake bool
	Reason     string
	Signals    []signal.Signal
	Aggregates map[signal.Type]Aggregate
}

type typeState struct {
	lastValue float64
	lastAt    time.Time
	haveLast  bool
	history   []detect.Sample
}

const maxHistoryPerType = 64

// Stage holds the cross-tick bucketing state (per-type last value/time
// for rate-of-change, and rolling short history) plus the pattern
// detector and ack registry it consults.
type Stage struct {
	changeDetector  *detect.Detector
	patternDetector *detect.PatternDetector
	acks            *ack.Registry

	types map[signal.Type]*typeState
}

// New builds a Stage over the given detectors and ack registry.
func New(changeDetector *detect.Detector, patternDetector *detect.PatternDetector, acks *ack.Registry) *Stage {
	return &Stage{
		changeDetector:  changeDetector,
		patternDetector: patternDetector,
		acks:            acks,
		types:           make(map[signal.Type]*typeState),
	}
}

func (s *Stage) bucket(sig signal.Signal, now time.Time) Aggregate {
	ts, ok := s.types[sig.Type]
	if !ok {
		ts = &typeState{}
		s.types[sig.Type] = ts
	}

	rate := 0.0
	if ts.haveLast {
		dt := now.Sub(ts.lastAt).Seconds()
		if dt > 0 {
			rate = (sig.Metrics.Value - ts.lastValue) / dt
		}
	}
	ts.lastValue = sig.Metrics.Value
	ts.lastAt = now
	ts.haveLast = true

	ts.history = append(ts.history, detect.Sample{Value: sig.Metrics.Value, Timestamp: now})
	if len(ts.history) > maxHistoryPerType {
		ts.history = ts.history[len(ts.history)-maxHistoryPerType:]
	}

	histCopy := make([]detect.Sample, len(ts.history))
	copy(histCopy, ts.history)

	s.patternDetector.Observe(sig.Type, sig.Metrics.Value, now)

	return Aggregate{Type: sig.Type, CurrentValue: sig.Metrics.Value, RateOfChange: rate, History: histCopy}
}

// Run executes the full AGGREGATION pipeline over one tick's drained
// signal batch and returns a single WakeDecision. Per spec.md §4.9, step 2
// (pattern detection) runs before step 3 (ack-gate), and the ack-gate
// covers every candidate signal — the tick's original batch and whatever
// pattern_break signals detection just derived from it — so a Suppress
// registration on a signal type also blocks the pattern_break derived from
// that type, rather than only the original.
func (s *Stage) Run(drained []signal.Signal, now time.Time) WakeDecision {
	aggregates := make(map[signal.Type]Aggregate, len(drained))
	currentByType := make(map[signal.Type]float64, len(drained))
	rateByType := make(map[signal.Type]float64, len(drained))

	for _, sig := range drained {
		agg := s.bucket(sig, now)
		aggregates[sig.Type] = agg
		currentByType[sig.Type] = agg.CurrentValue
		rateByType[sig.Type] = agg.RateOfChange
	}

	// 2. Pattern detection, over this tick's freshly bucketed values.
	matches := s.patternDetector.Detect(currentByType, rateByType, now)
	candidates := make([]signal.Signal, 0, len(drained)+len(matches))
	candidates = append(candidates, drained...)
	for _, m := range matches {
		if m.Confidence < PatternBreakConfidenceThreshold {
			continue
		}
		candidates = append(candidates, signal.New(
			signal.TypePatternBreak, "meta.pattern_detector", signal.PriorityNormal, now, "",
			signal.NewMetrics(m.Intensity, m.Confidence),
			signal.PatternPayload{PatternID: m.PatternID, Intensity: m.Intensity},
		))
	}

	// 3. Ack-gate every candidate, original or pattern-derived alike.
	surviving := make([]signal.Signal, 0, len(candidates))
	hasHighPriority := false
	hasUserMessage := false
	hasConfidentPattern := false
	contactPressure := 0.0
	for _, sig := range candidates {
		v := sig.Metrics.Value
		res := s.acks.Check(sig.Type, sig.Source, &v, now)
		if res.Blocked {
			continue
		}

		surviving = append(surviving, sig)
		if sig.Priority == signal.PriorityHigh {
			hasHighPriority = true
		}
		switch sig.Type {
		case signal.TypeUserMessage:
			hasUserMessage = true
		case signal.TypePatternBreak:
			hasConfidentPattern = true
		case signal.TypeContactPressure:
			contactPressure = sig.Metrics.Value
		}
	}

	shouldWake := hasHighPriority || contactPressure >= ContactPressureThreshold || hasConfidentPattern || hasUserMessage
	reason := "no trigger"
	switch {
	case hasUserMessage:
		reason = "user_message present"
	case hasHighPriority:
		reason = "high priority signal present"
	case hasConfidentPattern:
		reason = "confident pattern break"
	case contactPressure >= ContactPressureThreshold:
		reason = "contact pressure above threshold"
	}

	return WakeDecision{
		ShouldWake: shouldWake,
		Reason:     reason,
		Signals:    surviving,
		Aggregates: aggregates,
	}
}
