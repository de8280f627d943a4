// Package motor implements the MOTOR pipeline stage (spec component C12):
// applies intents against ports with per-kind discipline (synchronous
// UPDATE_STATE, breaker+backoff SEND_MESSAGE, persisted SCHEDULE, routed
// CALL_TOOL, registry-backed DEFER/SUPPRESS). Grounded on the teacher's
// internal/engine/failover.go (breaker-wrapped outbound calls) and
// internal/coordinator/retry.go (retry-with-backoff), generalized from
// "retry an LLM call" to "retry any outbound intent."
package motor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/basket/pulseagent/internal/ack"
	"github.com/basket/pulseagent/internal/breaker"
	"github.com/basket/pulseagent/internal/policy"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pulseerr"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
	"github.com/basket/pulseagent/internal/tool"
)

// retriedCallToolConfidence is the confidence MOTOR assumes for a CALL_TOOL
// intent it applies directly. Intent carries no confidence field (that
// value lives in cognition's classify() output, which already gated the
// same call once); MOTOR only ever sees a CALL_TOOL intent that cognition's
// tool loop failed to execute and passed through for honest failure
// reporting, so it re-checks policy at the maximum confidence rather than
// refusing to gate at all.
const retriedCallToolConfidence = 1.0

// AutomaticFields are AgentState fields MOTOR rejects UPDATE_STATE writes
// to from a user-facing tool (spec.md §4.11, invariant 6 in §8). Only the
// scheduler's own tick method may change these.
var AutomaticFields = map[string]bool{
	"energy":     true,
	"socialDebt": true,
}

// RetryConfig tunes SEND_MESSAGE's retry-with-backoff.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig mirrors the teacher's own provider-retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Sanitizer rewrites outbound text before it reaches a channel (the
// supplemented safety layer, internal/safety). A nil Sanitizer is a no-op.
type Sanitizer func(text string) string

// AuditRecorder is the narrow interface Stage needs from
// internal/audit.Trail: every intent applied is appended to an audit log
// keyed by correlation id (spec.md's ambient audit requirement, not
// excluded by any Non-goal). Kept as an interface so Stage doesn't import
// internal/audit directly and tests can supply a fake.
type AuditRecorder interface {
	Record(ctx context.Context, correlationID, decision, capability, reason, policyVersion, subject string)
}

// Stage applies intents against ports.
type Stage struct {
	channels   map[string]ports.Channel
	breakers   map[string]*breaker.Breaker
	scheduler  ports.SchedulerPrimitive
	acks       *ack.Registry
	tools      *tool.Registry
	retry      RetryConfig
	sanitize   Sanitizer
	sentMsgIDs map[string]string // per-channel last message id, for observability

	audit  AuditRecorder
	policy policy.Checker
}

// New builds a Stage.
func New(channels map[string]ports.Channel, scheduler ports.SchedulerPrimitive, acks *ack.Registry, tools *tool.Registry, retry RetryConfig, sanitize Sanitizer) *Stage {
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	breakers := make(map[string]*breaker.Breaker, len(channels))
	for name := range channels {
		breakers[name] = breaker.New(breaker.Config{Name: "channel:" + name})
	}
	return &Stage{
		channels:   channels,
		breakers:   breakers,
		scheduler:  scheduler,
		acks:       acks,
		tools:      tools,
		retry:      retry,
		sanitize:   sanitize,
		sentMsgIDs: make(map[string]string),
	}
}

// Result is one intent's outcome, carrying any motor_result signal that
// should feed back into the pipeline next tick.
type Result struct {
	Signal *signal.Signal
	Err    error
}

// SetAudit attaches an AuditRecorder; every Apply call after this records
// one entry. A nil Stage.audit (the default) makes Apply a no-op here.
func (s *Stage) SetAudit(a AuditRecorder) {
	s.audit = a
}

// SetPolicy attaches a policy.Checker; CALL_TOOL intents are gated against
// it before invocation. A nil Stage.policy (the default) admits every call.
func (s *Stage) SetPolicy(p policy.Checker) {
	s.policy = p
}

// Apply executes a single intent, dispatching on its Kind. It never
// blocks beyond the per-intent timeout the caller's ctx carries (spec.md
// §4.11's "motor never blocks a tick beyond its per-intent timeout").
func (s *Stage) Apply(ctx context.Context, intent signal.Intent, st *state.AgentState, now time.Time) Result {
	var res Result
	switch intent.Kind {
	case signal.IntentUpdateState:
		res = s.applyUpdateState(intent, st)
	case signal.IntentSendMessage:
		res = s.applySendMessage(ctx, intent, now)
	case signal.IntentSchedule:
		res = s.applySchedule(ctx, intent)
	case signal.IntentCallTool:
		res = s.applyCallTool(ctx, intent, now)
	case signal.IntentDefer:
		res = s.applyDefer(intent, now)
	case signal.IntentSuppress:
		res = s.applySuppress(intent, now)
	default:
		res = Result{Err: pulseerr.New(pulseerr.KindMalformedSignal, false, fmt.Sprintf("unknown intent kind %q", intent.Kind))}
	}
	s.recordAudit(ctx, intent, res)
	return res
}

func (s *Stage) recordAudit(ctx context.Context, intent signal.Intent, res Result) {
	if s.audit == nil {
		return
	}
	decision := "allow"
	reason := ""
	if res.Err != nil {
		decision = "deny"
		reason = res.Err.Error()
	}
	subject := intent.Target
	if subject == "" {
		subject = intent.ToolID
	}
	s.audit.Record(ctx, intent.Trace.ParentSignalID, decision, string(intent.Kind), reason, "", subject)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func (s *Stage) applyUpdateState(intent signal.Intent, st *state.AgentState) Result {
	if AutomaticFields[intent.Key] {
		return Result{Err: pulseerr.New(pulseerr.KindPolicyViolation, false, fmt.Sprintf("field %q is automatic, rejecting user-facing update", intent.Key))}
	}

	value := round3(clamp01(intent.Value))
	switch intent.Key {
	case "taskPressure":
		st.TaskPressure = value
	case "curiosity":
		st.Curiosity = value
	case "acquaintancePressure":
		st.AcquaintancePressure = value
	case "thoughtPressure":
		st.ThoughtPressure = value
	default:
		return Result{Err: pulseerr.New(pulseerr.KindPolicyViolation, false, fmt.Sprintf("field %q is not a recognized state field", intent.Key))}
	}
	return Result{}
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

func (s *Stage) applySendMessage(ctx context.Context, intent signal.Intent, now time.Time) Result {
	ch, ok := s.channels[intent.Channel]
	if !ok {
		return s.motorResultErr(intent, pulseerr.New(pulseerr.KindProtocol, false, fmt.Sprintf("unknown channel %q", intent.Channel)), now)
	}
	b, ok := s.breakers[intent.Channel]
	if !ok {
		b = breaker.New(breaker.Config{Name: "channel:" + intent.Channel})
		s.breakers[intent.Channel] = b
	}

	text := intent.Text
	if s.sanitize != nil {
		text = s.sanitize(text)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.BaseDelay
	bo.MaxInterval = s.retry.MaxDelay

	sendResult, err := backoff.Retry(ctx, func() (ports.SendResult, error) {
		return breaker.Execute(b, ctx, func(ctx context.Context) (ports.SendResult, error) {
			res, err := ch.SendMessage(ctx, intent.Target, text, ports.MessageOptions{
				ReplyTo:            intent.Options.ReplyTo,
				ParseMode:          intent.Options.ParseMode,
				DisableLinkPreview: intent.Options.DisableLinkPreview,
				Silent:             intent.Options.Silent,
			})
			if err != nil {
				if pulseerr.Classify(err) == pulseerr.KindProtocol {
					return res, backoff.Permanent(err)
				}
				return res, err
			}
			return res, nil
		})
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(s.retry.MaxRetries+1)))

	if err != nil {
		return s.motorResultErr(intent, err, now)
	}
	s.sentMsgIDs[intent.Channel] = sendResult.MessageID
	return s.motorResultOK(intent, sendResult.MessageID, now)
}

func (s *Stage) motorResultOK(intent signal.Intent, detail string, now time.Time) Result {
	sig := signal.New(signal.TypeMotorResult, "motor", signal.PriorityLow, now, intent.Trace.ParentSignalID,
		signal.NewMetrics(1, 1),
		signal.MotorResultPayload{IntentKind: string(intent.Kind), Success: true, Detail: detail})
	return Result{Signal: &sig}
}

func (s *Stage) motorResultErr(intent signal.Intent, err error, now time.Time) Result {
	sig := signal.New(signal.TypeMotorResult, "motor", signal.PriorityLow, now, intent.Trace.ParentSignalID,
		signal.NewMetrics(0, 1),
		signal.MotorResultPayload{IntentKind: string(intent.Kind), Success: false, Detail: err.Error()})
	return Result{Signal: &sig, Err: err}
}

func (s *Stage) applySchedule(ctx context.Context, intent signal.Intent) Result {
	if s.scheduler == nil {
		return Result{Err: pulseerr.New(pulseerr.KindFatalInit, false, "no scheduler primitive configured")}
	}
	var rec *ports.Recurrence
	if intent.Recurrence != "" {
		rec = &ports.Recurrence{Spec: intent.Recurrence, Timezone: intent.Timezone}
	}
	_, err := s.scheduler.Schedule(ctx, ports.ScheduleRequest{
		FireAt:     intent.FireAt,
		Recurrence: rec,
		Timezone:   intent.Timezone,
		Data:       intent.Payload,
	})
	if err != nil {
		return Result{Err: pulseerr.Wrap(pulseerr.KindTransientIO, true, "schedule failed", err)}
	}
	return Result{}
}

func (s *Stage) applyCallTool(ctx context.Context, intent signal.Intent, now time.Time) Result {
	if s.tools == nil {
		return s.motorResultErr(intent, pulseerr.New(pulseerr.KindFatalInit, false, "no tool registry configured"), now)
	}
	if s.policy != nil {
		hasSideEffects := false
		if t, ok := s.tools.Get(intent.ToolID); ok {
			hasSideEffects = t.HasSideEffects
		}
		if allowed, reason := s.policy.AllowToolCall(intent.ToolID, hasSideEffects, retriedCallToolConfidence); !allowed {
			return s.motorResultErr(intent, pulseerr.New(pulseerr.KindPolicyViolation, false, reason), now)
		}
	}
	res, err := s.tools.Invoke(ctx, intent.ToolID, intent.Args)
	if err != nil {
		return s.motorResultErr(intent, err, now)
	}
	return s.motorResultOK(intent, res.Content, now)
}

func (s *Stage) applyDefer(intent signal.Intent, now time.Time) Result {
	deferUntil := now.Add(time.Duration(intent.DeferHours * float64(time.Hour)))
	s.acks.Register(intent.SignalType, intent.SignalSrc, ack.KindDeferred, now, deferUntil, nil, 0, intent.Reason)
	return Result{}
}

func (s *Stage) applySuppress(intent signal.Intent, now time.Time) Result {
	s.acks.Register(intent.SignalType, intent.SignalSrc, ack.KindSuppressed, now, time.Time{}, nil, 0, intent.Reason)
	return Result{}
}
