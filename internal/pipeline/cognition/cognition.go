// Package cognition implements the COGNITION pipeline stage (spec
// component C11): situation classification, fast/smart escalation, thought
// recursion control, and the agentic tool loop. Grounded on the teacher's
// internal/coordinator/retry.go retry-with-context idiom and
// internal/engine/loop.go's budget-bounded step loop, generalized from
// "retry an LLM call" to the full classify→decide→(fast|escalate)→tool-loop
// turn state machine spec.md §4.10 describes.
package cognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/pulseagent/internal/memory"
	"github.com/basket/pulseagent/internal/pipeline/aggregation"
	"github.com/basket/pulseagent/internal/policy"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pricing"
	"github.com/basket/pulseagent/internal/pulseerr"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
	"github.com/basket/pulseagent/internal/tokenutil"
	"github.com/basket/pulseagent/internal/tool"
)

// Situation is the classifier's output category.
type Situation string

const (
	SituationUserMessage     Situation = "user_message"
	SituationProactiveContact Situation = "proactive_contact"
	SituationPatternAnomaly  Situation = "pattern_anomaly"
	SituationChannelIssue    Situation = "channel_issue"
	SituationTimeEvent       Situation = "time_event"
	SituationThought         Situation = "thought"
)

// Action is the decision's verdict.
type Action string

const (
	ActionRespond  Action = "respond"
	ActionInitiate Action = "initiate"
	ActionEscalate Action = "escalate"
	ActionNone     Action = "none"
)

// TurnState names the agentic turn's state machine positions (spec.md
// §4.10's IDLE → CLASSIFY → DECIDE → (FAST|ESCALATE) → TOOL_LOOP* →
// EMIT_INTENTS → IDLE).
type TurnState string

const (
	TurnIdle         TurnState = "idle"
	TurnClassify     TurnState = "classify"
	TurnDecide       TurnState = "decide"
	TurnFast         TurnState = "fast"
	TurnEscalate     TurnState = "escalate"
	TurnToolLoop     TurnState = "tool_loop"
	TurnEmitIntents  TurnState = "emit_intents"
)

// Config tunes the escalation and thought-recursion rules.
type Config struct {
	MaxFastComplexity   float64
	EscalationThreshold float64
	MaxDepth            int
	MaxThoughtsPerTick  int
	MaxToolCallsPerTurn int
	DedupeWindow        time.Duration
	FastMaxTokens       int
	SmartMaxTokens      int
}

// DefaultConfig mirrors the magnitudes implied across spec.md §4.10 and
// §8's seed scenarios (MAX_DEPTH=4 matches scenario 6 directly).
func DefaultConfig() Config {
	return Config{
		MaxFastComplexity:   0.6,
		EscalationThreshold: 0.5,
		MaxDepth:            4,
		MaxThoughtsPerTick:  3,
		MaxToolCallsPerTurn: 5,
		DedupeWindow:        5 * time.Minute,
		FastMaxTokens:       256,
		SmartMaxTokens:      1024,
	}
}

// Outcome is a completed turn's result.
type Outcome struct {
	FinalState    TurnState
	Action        Action
	Intents       []signal.Intent
	RequeueSignals []signal.Signal // thought signals to re-enter the bus at NORMAL priority
	Metrics       Metrics
}

// Metrics counts the per-turn bookkeeping spec.md §8 asserts invariants
// over: dropped-over-budget thoughts, rejected-over-depth thoughts,
// escalations, tool calls.
type Metrics struct {
	ThoughtsDroppedOverBudget int
	ThoughtsRejectedOverDepth int
	ThoughtsDroppedDuplicate  int
	Escalated                 bool
	ToolCalls                 int
	SmartCostUSD              float64
}

// Stage holds the cross-turn state: per-tick thought budget, the dedupe
// window, per-chat conversation history, and the LLM/tool ports a turn
// may invoke.
type Stage struct {
	cfg       Config
	llm       ports.LLM
	tools     *tool.Registry
	policy    policy.Checker
	windowCfg memory.WindowConfig

	currentTick      string
	thoughtsThisTick int
	dedupeSeen       map[string]time.Time
	history          map[string][]memory.WindowMessage // keyed by chat id
}

// New builds a Stage.
func New(cfg Config, llm ports.LLM, tools *tool.Registry) *Stage {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Stage{
		cfg:        cfg,
		llm:        llm,
		tools:      tools,
		windowCfg:  memory.DefaultWindowConfig(),
		dedupeSeen: make(map[string]time.Time),
		history:    make(map[string][]memory.WindowMessage),
	}
}

// SetPolicy attaches a policy.Checker; CALL_TOOL intents the tool loop
// would otherwise invoke are gated against it first, using the turn's own
// classification confidence. A nil Stage.policy (the default) admits
// every call.
func (s *Stage) SetPolicy(p policy.Checker) {
	s.policy = p
}

func (s *Stage) resetTickBudgetIfNeeded(correlationID string) {
	if correlationID != s.currentTick {
		s.currentTick = correlationID
		s.thoughtsThisTick = 0
	}
}

// classify maps a trigger signal to a Situation and a confidence score
// (spec.md §4.10's deterministic, rule-based classifier).
func classify(trigger signal.Signal) (Situation, float64) {
	switch trigger.Type {
	case signal.TypeUserMessage:
		return SituationUserMessage, 0.95
	case signal.TypeThought:
		return SituationThought, 0.9
	case signal.TypePatternBreak, signal.TypeThresholdCrossed:
		return SituationPatternAnomaly, 0.8
	case signal.TypeHourChanged, signal.TypeTimeOfDay, signal.TypeTick:
		return SituationTimeEvent, 0.85
	case signal.TypeMotorResult:
		if mr, ok := trigger.Payload.(signal.MotorResultPayload); ok && !mr.Success {
			return SituationChannelIssue, 0.8
		}
		return SituationTimeEvent, 0.6
	case signal.TypeSocialDebt, signal.TypeContactPressure:
		return SituationProactiveContact, 0.7
	default:
		return SituationProactiveContact, 0.5
	}
}

// complexityScore is a cheap, deterministic proxy for how much reasoning a
// user_message needs, grounded on the teacher's internal/tokenutil
// fast-complexity heuristics (length and punctuation density) rather than
// a model call.
func complexityScore(text string) float64 {
	words := len(strings.Fields(text))
	score := float64(words) / 40.0
	if strings.Contains(text, "?") {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

func pickTrigger(decision aggregation.WakeDecision) (signal.Signal, bool) {
	if len(decision.Signals) == 0 {
		return signal.Signal{}, false
	}
	best := decision.Signals[0]
	for _, s := range decision.Signals[1:] {
		if s.Priority > best.Priority {
			best = s
		}
	}
	return best, true
}

func dedupeKey(content string) string {
	content = strings.ToLower(strings.TrimSpace(content))
	if len(content) > 48 {
		content = content[:48]
	}
	return content
}

// Run executes one cognition turn. It never blocks longer than ctx allows
// (deadline enforcement is the caller's responsibility, per spec.md §5).
func (s *Stage) Run(ctx context.Context, decision aggregation.WakeDecision, st *state.AgentState, now time.Time, correlationID string) (Outcome, error) {
	s.resetTickBudgetIfNeeded(correlationID)

	trigger, ok := pickTrigger(decision)
	if !ok {
		return Outcome{FinalState: TurnIdle, Action: ActionNone}, nil
	}

	// CLASSIFY
	if trigger.Type == signal.TypeThought {
		if rejected, metrics := s.gateThought(trigger, now); rejected {
			return Outcome{FinalState: TurnIdle, Action: ActionNone, Metrics: metrics}, nil
		}
	}
	situation, confidence := classify(trigger)

	// DECIDE
	escalate := s.shouldEscalate(situation, trigger, confidence)
	metrics := Metrics{Escalated: escalate}

	var (
		action  Action
		intents []signal.Intent
		err     error
	)

	if escalate {
		var costUSD float64
		action, intents, costUSD, err = s.runSmart(ctx, situation, trigger, st, now)
		metrics.SmartCostUSD = costUSD
		if err != nil {
			// Smart-path failure downgrades to fast-path acknowledgment
			// (spec.md §4.10 failure semantics).
			action, intents = s.fastAcknowledge(situation, trigger, now)
		}
	} else {
		action, intents = s.runFast(situation, trigger, now)
	}

	// TOOL_LOOP is folded into runSmart/runFast above for side-effectful
	// intents; CALL_TOOL intents they emit are executed here so their
	// results can feed back as thought signals within budget.
	toolCalls := 0
	var requeue []signal.Signal
	remaining := intents[:0]
	for _, it := range intents {
		if it.Kind != signal.IntentCallTool {
			remaining = append(remaining, it)
			continue
		}
		if toolCalls >= s.cfg.MaxToolCallsPerTurn {
			continue
		}
		if s.policy != nil {
			hasSideEffects := false
			if t, ok := s.tools.Get(it.ToolID); ok {
				hasSideEffects = t.HasSideEffects
			}
			if allowed, _ := s.policy.AllowToolCall(it.ToolID, hasSideEffects, confidence); !allowed {
				remaining = append(remaining, it) // policy denied; motor reports the violation honestly
				continue
			}
		}
		toolCalls++
		res, terr := s.tools.Invoke(ctx, it.ToolID, it.Args)
		if terr != nil {
			remaining = append(remaining, it) // surface the CALL_TOOL intent; motor reports failure honestly
			continue
		}
		if res.EscalateToSmart {
			metrics.Escalated = true
		}
		if res.Content != "" {
			if thoughtSig, accepted := s.emitThought(trigger, res.Content, now, correlationID); accepted {
				requeue = append(requeue, thoughtSig)
			} else {
				metrics.ThoughtsDroppedOverBudget++
			}
		}
	}
	metrics.ToolCalls = toolCalls
	intents = remaining

	return Outcome{
		FinalState:     TurnEmitIntents,
		Action:         action,
		Intents:        intents,
		RequeueSignals: requeue,
		Metrics:        metrics,
	}, nil
}

// gateThought enforces the thought-recursion invariants: depth derived
// strictly from the trigger, MAX_DEPTH rejection, per-tick budget, and
// dedupe-window suppression (spec.md §4.10, invariants 4-5 in §8).
func (s *Stage) gateThought(trigger signal.Signal, now time.Time) (rejected bool, metrics Metrics) {
	depth := trigger.ThoughtDepth()
	if depth > s.cfg.MaxDepth {
		return true, Metrics{ThoughtsRejectedOverDepth: 1}
	}
	if s.thoughtsThisTick >= s.cfg.MaxThoughtsPerTick {
		return true, Metrics{ThoughtsDroppedOverBudget: 1}
	}
	if tp, ok := trigger.Payload.(signal.ThoughtPayload); ok {
		key := tp.DedupeKey
		if key == "" {
			key = dedupeKey(tp.Content)
		}
		if last, seen := s.dedupeSeen[key]; seen && now.Sub(last) < s.cfg.DedupeWindow {
			return true, Metrics{ThoughtsDroppedDuplicate: 1}
		}
		s.dedupeSeen[key] = now
	}
	return false, Metrics{}
}

// emitThought builds a new thought signal whose depth is trigger.depth+1,
// applying the same budget/dedupe gates as gateThought before admitting
// it. Returns accepted=false if the thought should be dropped silently.
func (s *Stage) emitThought(trigger signal.Signal, content string, now time.Time, correlationID string) (signal.Signal, bool) {
	depth := 0
	if trigger.Type == signal.TypeThought {
		depth = trigger.ThoughtDepth() + 1
	}
	if depth > s.cfg.MaxDepth {
		return signal.Signal{}, false
	}
	if s.thoughtsThisTick >= s.cfg.MaxThoughtsPerTick {
		return signal.Signal{}, false
	}
	key := dedupeKey(content)
	if last, seen := s.dedupeSeen[key]; seen && now.Sub(last) < s.cfg.DedupeWindow {
		return signal.Signal{}, false
	}
	s.dedupeSeen[key] = now
	s.thoughtsThisTick++

	return signal.New(signal.TypeThought, "cognition.thought", signal.PriorityNormal, now, correlationID,
		signal.NewMetrics(1.0, 1.0),
		signal.ThoughtPayload{Content: content, Depth: depth, DedupeKey: key},
	), true
}

func (s *Stage) shouldEscalate(situation Situation, trigger signal.Signal, confidence float64) bool {
	if situation == SituationProactiveContact {
		return true
	}
	if confidence < s.cfg.EscalationThreshold {
		return true
	}
	if situation == SituationUserMessage {
		if um, ok := trigger.Payload.(signal.UserMessagePayload); ok {
			return complexityScore(um.Text) > s.cfg.MaxFastComplexity
		}
	}
	return false
}

func (s *Stage) runFast(situation Situation, trigger signal.Signal, now time.Time) (Action, []signal.Intent) {
	trace := signal.Trace{ParentSignalID: trigger.ID}
	switch situation {
	case SituationUserMessage:
		um, _ := trigger.Payload.(signal.UserMessagePayload)
		return ActionRespond, []signal.Intent{signal.SendMessage(um.ChatID, "got it.", um.Channel, signal.MessageOptions{}, trace)}
	case SituationChannelIssue:
		return ActionNone, nil
	case SituationTimeEvent:
		return ActionNone, nil
	default:
		return ActionNone, nil
	}
}

func (s *Stage) fastAcknowledge(situation Situation, trigger signal.Signal, now time.Time) (Action, []signal.Intent) {
	if situation == SituationUserMessage {
		if um, ok := trigger.Payload.(signal.UserMessagePayload); ok {
			trace := signal.Trace{ParentSignalID: trigger.ID}
			return ActionRespond, []signal.Intent{signal.SendMessage(um.ChatID, "sorry, I had trouble thinking that through, still here.", um.Channel, signal.MessageOptions{}, trace)}
		}
	}
	return ActionNone, nil
}

// runSmart also reports the completion's estimated USD cost (via
// internal/pricing, keyed on the provider's reported model name and
// token usage) so Run can fold it into the turn's Metrics; a provider
// that omits Usage or names an unrecognized model simply costs 0.
func (s *Stage) runSmart(ctx context.Context, situation Situation, trigger signal.Signal, st *state.AgentState, now time.Time) (Action, []signal.Intent, float64, error) {
	if s.llm == nil {
		return ActionNone, nil, 0, pulseerr.New(pulseerr.KindFatalInit, false, "no LLM port configured")
	}

	messages := s.buildMessages(situation, trigger, st)
	res, err := s.llm.Complete(ctx, ports.CompletionRequest{
		Messages:    messages,
		Role:        ports.RoleSmart,
		MaxTokens:   s.cfg.SmartMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return ActionNone, nil, 0, fmt.Errorf("smart completion: %w", err)
	}

	var costUSD float64
	if res.Usage != nil {
		costUSD = pricing.EstimateCost(res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}

	trace := signal.Trace{ParentSignalID: trigger.ID}
	switch situation {
	case SituationUserMessage:
		um, _ := trigger.Payload.(signal.UserMessagePayload)
		s.appendHistory(um.ChatID, "assistant", res.Content)
		return ActionRespond, []signal.Intent{signal.SendMessage(um.ChatID, res.Content, um.Channel, signal.MessageOptions{}, trace)}, costUSD, nil
	case SituationProactiveContact:
		return ActionInitiate, nil, costUSD, nil
	default:
		return ActionEscalate, nil, costUSD, nil
	}
}

// buildMessages assembles the smart-path completion request: a system
// line carrying the agent's current drive state, followed by as much
// windowed conversation history as internal/memory.BuildWindow admits
// under the stage's token budget. Situations outside a user_message
// dialogue (proactive contact, pattern anomalies, time events) have no
// per-chat history to window and fall back to the single-turn prompt
// internal/tokenutil already sizes elsewhere in this stage.
func (s *Stage) buildMessages(situation Situation, trigger signal.Signal, st *state.AgentState) []ports.Message {
	system := ports.Message{Role: "system", Content: fmt.Sprintf("situation=%s energy=%.2f socialDebt=%.2f", situation, st.Energy, st.SocialDebt)}

	um, ok := trigger.Payload.(signal.UserMessagePayload)
	if situation != SituationUserMessage || !ok {
		return []ports.Message{system, {Role: "user", Content: buildPrompt(situation, trigger, st)}}
	}

	s.appendHistory(um.ChatID, "user", um.Text)
	window := memory.BuildWindow(pinLatest(s.history[um.ChatID]), "", s.windowCfg)

	messages := make([]ports.Message, 0, len(window.Messages)+1)
	messages = append(messages, system)
	for _, m := range window.Messages {
		messages = append(messages, ports.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// appendHistory records one turn of a chat's conversation for future
// windowing, trimming the stored log well past the window's own
// MaxMessages so BuildWindow always has enough raw material to select
// from without this map growing without bound.
func (s *Stage) appendHistory(chatID, role, content string) {
	msgs := append(s.history[chatID], memory.WindowMessage{Role: role, Content: content, Tokens: tokenutil.EstimateTokens(content)})
	if keep := s.windowCfg.MaxMessages * 4; len(msgs) > keep {
		msgs = msgs[len(msgs)-keep:]
	}
	s.history[chatID] = msgs
}

// pinLatest returns a shallow copy of a chat's stored history with only
// the last message marked Pinned, so the message that triggered this turn
// always survives internal/memory.BuildWindow's trimming regardless of how
// full the window already is. The copy keeps s.history itself unpinned —
// pinning only ever applies to the one turn being built right now.
func pinLatest(msgs []memory.WindowMessage) []memory.WindowMessage {
	if len(msgs) == 0 {
		return msgs
	}
	pinned := make([]memory.WindowMessage, len(msgs))
	copy(pinned, msgs)
	pinned[len(pinned)-1].Pinned = true
	return pinned
}

func buildPrompt(situation Situation, trigger signal.Signal, st *state.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "situation=%s energy=%.2f socialDebt=%.2f\n", situation, st.Energy, st.SocialDebt)
	if um, ok := trigger.Payload.(signal.UserMessagePayload); ok {
		b.WriteString(um.Text)
	}
	return b.String()
}
