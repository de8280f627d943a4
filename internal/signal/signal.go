// Package signal defines the tagged envelopes that cross every stage of the
// pipeline (AUTONOMIC -> AGGREGATION -> COGNITION -> MOTOR): Signal flows
// forward, Intent flows out of cognition to motor.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of signal kinds the pipeline understands.
type Type string

const (
	TypeUserMessage      Type = "user_message"
	TypeSocialDebt       Type = "social_debt"
	TypeEnergy           Type = "energy"
	TypeContactPressure  Type = "contact_pressure"
	TypeTick             Type = "tick"
	TypeHourChanged      Type = "hour_changed"
	TypeTimeOfDay        Type = "time_of_day"
	TypePatternBreak     Type = "pattern_break"
	TypeThresholdCrossed Type = "threshold_crossed"
	TypePluginEvent      Type = "plugin_event"
	TypeMotorResult      Type = "motor_result"
	TypeThought          Type = "thought"
	TypeMessageReaction  Type = "message_reaction"
	TypeContactUrge      Type = "contact_urge"
)

// Priority orders signals through the bus. Higher values drain first.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
)

// String renders a Priority for logging.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "IDLE"
	}
}

// Metrics carries the numeric observation a signal reports. Value is always
// clamped to [0,1]; RateOfChange is signed and only set when known.
type Metrics struct {
	Value         float64
	RateOfChange  *float64
	PreviousValue *float64
	Confidence    float64
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

// NewMetrics builds a Metrics value with Value and Confidence clamped to [0,1].
func NewMetrics(value, confidence float64) Metrics {
	return Metrics{Value: clamp01(value), Confidence: clamp01(confidence)}
}

// WithRateOfChange returns a copy of m with RateOfChange set (signed, not clamped).
func (m Metrics) WithRateOfChange(roc float64) Metrics {
	m.RateOfChange = &roc
	return m
}

// WithPreviousValue returns a copy of m with PreviousValue recorded.
func (m Metrics) WithPreviousValue(v float64) Metrics {
	pv := clamp01(v)
	m.PreviousValue = &pv
	return m
}

// UserMessagePayload is carried by TypeUserMessage signals.
type UserMessagePayload struct {
	ChatID    string
	Text      string
	UserID    string
	MessageID string
	Channel   string
}

// ThoughtPayload is carried by TypeThought signals.
type ThoughtPayload struct {
	Content    string
	Depth      int
	DedupeKey  string
	ToolCallID string
}

// TimePayload is carried by TypeHourChanged and TypeTimeOfDay signals.
type TimePayload struct {
	Hour      int
	TimeOfDay string // "morning", "afternoon", "evening", "night"
	Timezone  string
}

// PatternPayload is carried by TypePatternBreak signals.
type PatternPayload struct {
	PatternID  string
	Intensity  float64
	WindowSize int
}

// PluginEventPayload is carried by TypePluginEvent signals.
type PluginEventPayload struct {
	PluginID string
	Name     string
	Data     map[string]any
}

// MotorResultPayload is carried by TypeMotorResult signals, feeding tool and
// send-message outcomes back into cognition.
type MotorResultPayload struct {
	IntentKind string
	Success    bool
	Detail     string
	ToolID     string
}

// ReactionPayload is carried by TypeMessageReaction signals.
type ReactionPayload struct {
	MessageID string
	Reaction  string
}

// Signal is a typed, timestamped observation. Immutable once emitted.
type Signal struct {
	ID            string
	Type          Type
	Source        string // neuron.<name> | sense.<channel> | plugin.<id> | meta.pattern_detector | cognition.thought
	Priority      Priority
	Timestamp     time.Time
	CorrelationID string
	Metrics       Metrics
	Payload       any // one of the *Payload types above, or nil
}

// New creates a Signal with a fresh id and the given timestamp, clamping
// Metrics.Value to [0,1] per the data-model invariant.
func New(typ Type, source string, priority Priority, ts time.Time, correlationID string, metrics Metrics, payload any) Signal {
	metrics.Value = clamp01(metrics.Value)
	metrics.Confidence = clamp01(metrics.Confidence)
	return Signal{
		ID:            uuid.NewString(),
		Type:          typ,
		Source:        source,
		Priority:      priority,
		Timestamp:     ts,
		CorrelationID: correlationID,
		Metrics:       metrics,
		Payload:       payload,
	}
}

// ThoughtDepth returns the depth carried by a thought signal, or -1 if the
// signal isn't a thought or carries no ThoughtPayload.
func (s Signal) ThoughtDepth() int {
	if s.Type != TypeThought {
		return -1
	}
	if tp, ok := s.Payload.(ThoughtPayload); ok {
		return tp.Depth
	}
	return -1
}
