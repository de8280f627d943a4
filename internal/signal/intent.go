package signal

import "time"

// IntentKind is the closed set of commands cognition can issue to motor.
type IntentKind string

const (
	IntentSendMessage IntentKind = "SEND_MESSAGE"
	IntentUpdateState IntentKind = "UPDATE_STATE"
	IntentSchedule    IntentKind = "SCHEDULE"
	IntentCallTool    IntentKind = "CALL_TOOL"
	IntentDefer       IntentKind = "DEFER"
	IntentSuppress    IntentKind = "SUPPRESS"
)

// MessageOptions mirrors the Channel port's optional send-message knobs.
type MessageOptions struct {
	ReplyTo            string
	ParseMode          string
	DisableLinkPreview bool
	Silent             bool
}

// Trace identifies the tick and triggering signal an intent was derived from.
type Trace struct {
	TickID        int64
	ParentSignalID string
}

// Intent is a command leaving cognition for motor to apply. Exactly one of
// the Kind-specific field groups is meaningful for a given Kind; the zero
// value of the others is ignored.
type Intent struct {
	Kind  IntentKind
	Trace Trace

	// SEND_MESSAGE
	Target  string
	Text    string
	Channel string
	Options MessageOptions

	// UPDATE_STATE
	Key   string
	Value float64
	Delta *float64

	// SCHEDULE
	FireAt     time.Time
	Recurrence string // cron expression, empty = one-shot
	Timezone   string
	Payload    map[string]any

	// CALL_TOOL
	ToolID string
	Args   map[string]any

	// DEFER / SUPPRESS
	SignalType Type
	SignalSrc  string
	DeferHours float64
	Reason     string
}

// SendMessage builds a SEND_MESSAGE intent.
func SendMessage(target, text, channel string, opts MessageOptions, trace Trace) Intent {
	return Intent{Kind: IntentSendMessage, Trace: trace, Target: target, Text: text, Channel: channel, Options: opts}
}

// UpdateState builds an UPDATE_STATE intent.
func UpdateState(key string, value float64, delta *float64, trace Trace) Intent {
	return Intent{Kind: IntentUpdateState, Trace: trace, Key: key, Value: value, Delta: delta}
}

// Schedule builds a SCHEDULE intent.
func Schedule(fireAt time.Time, recurrence, timezone string, payload map[string]any, trace Trace) Intent {
	return Intent{Kind: IntentSchedule, Trace: trace, FireAt: fireAt, Recurrence: recurrence, Timezone: timezone, Payload: payload}
}

// CallTool builds a CALL_TOOL intent.
func CallTool(toolID string, args map[string]any, trace Trace) Intent {
	return Intent{Kind: IntentCallTool, Trace: trace, ToolID: toolID, Args: args}
}

// Defer builds a DEFER intent.
func Defer(signalType Type, source string, hours float64, reason string, trace Trace) Intent {
	return Intent{Kind: IntentDefer, Trace: trace, SignalType: signalType, SignalSrc: source, DeferHours: hours, Reason: reason}
}

// Suppress builds a SUPPRESS intent.
func Suppress(signalType Type, reason string, trace Trace) Intent {
	return Intent{Kind: IntentSuppress, Trace: trace, SignalType: signalType, Reason: reason}
}
