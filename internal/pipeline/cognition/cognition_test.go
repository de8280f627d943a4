package cognition

import (
	"context"
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/pipeline/aggregation"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
	"github.com/basket/pulseagent/internal/tool"
)

func newStage(cfg Config) *Stage {
	return New(cfg, nil, tool.NewRegistry())
}

func userMessageDecision(text string, now time.Time) aggregation.WakeDecision {
	sig := signal.New(signal.TypeUserMessage, "sense.telegram", signal.PriorityHigh, now, "c1",
		signal.NewMetrics(1, 1), signal.UserMessagePayload{ChatID: "42", Text: text, Channel: "telegram"})
	return aggregation.WakeDecision{ShouldWake: true, Signals: []signal.Signal{sig}}
}

func TestRun_SimpleUserMessageTakesFastPath(t *testing.T) {
	s := newStage(DefaultConfig())
	st := state.New(state.TickBounds{})
	now := time.Now()

	out, err := s.Run(context.Background(), userMessageDecision("hi", now), st, now, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionRespond {
		t.Fatalf("Action = %v, want respond", out.Action)
	}
	if out.Metrics.Escalated {
		t.Fatal("short, simple message should not escalate")
	}
	if len(out.Intents) != 1 || out.Intents[0].Kind != signal.IntentSendMessage {
		t.Fatalf("expected one SEND_MESSAGE intent, got %+v", out.Intents)
	}
}

func TestRun_NoLLMConfiguredDowngradesToFastAcknowledge(t *testing.T) {
	s := newStage(DefaultConfig())
	st := state.New(state.TickBounds{})
	now := time.Now()

	longText := ""
	for i := 0; i < 60; i++ {
		longText += "word "
	}
	out, err := s.Run(context.Background(), userMessageDecision(longText, now), st, now, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionRespond {
		t.Fatalf("Action = %v, want respond (downgraded)", out.Action)
	}
	if !out.Metrics.Escalated {
		t.Fatal("long message should have attempted escalation")
	}
}

func TestGateThought_RejectsOverMaxDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 1
	s := newStage(cfg)
	now := time.Now()

	deepThought := signal.New(signal.TypeThought, "cognition.thought", signal.PriorityNormal, now, "c1",
		signal.NewMetrics(1, 1), signal.ThoughtPayload{Content: "deep", Depth: 2})

	rejected, metrics := s.gateThought(deepThought, now)
	if !rejected {
		t.Fatal("expected thought beyond MaxDepth to be rejected")
	}
	if metrics.ThoughtsRejectedOverDepth != 1 {
		t.Fatalf("expected ThoughtsRejectedOverDepth=1, got %+v", metrics)
	}
}

func TestGateThought_DropsOverBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThoughtsPerTick = 0
	s := newStage(cfg)
	s.currentTick = "c1"
	now := time.Now()

	th := signal.New(signal.TypeThought, "cognition.thought", signal.PriorityNormal, now, "c1",
		signal.NewMetrics(1, 1), signal.ThoughtPayload{Content: "x", Depth: 0})

	rejected, metrics := s.gateThought(th, now)
	if !rejected {
		t.Fatal("expected thought over per-tick budget to be rejected")
	}
	if metrics.ThoughtsDroppedOverBudget != 1 {
		t.Fatalf("expected ThoughtsDroppedOverBudget=1, got %+v", metrics)
	}
}

func TestGateThought_DropsDuplicateWithinDedupeWindow(t *testing.T) {
	s := newStage(DefaultConfig())
	now := time.Now()
	th := signal.New(signal.TypeThought, "cognition.thought", signal.PriorityNormal, now, "c1",
		signal.NewMetrics(1, 1), signal.ThoughtPayload{Content: "repeat me", Depth: 0})

	rejected1, _ := s.gateThought(th, now)
	if rejected1 {
		t.Fatal("first occurrence should not be rejected")
	}
	th2 := th
	th2.ID = "different-id"
	rejected2, metrics := s.gateThought(th2, now.Add(time.Second))
	if !rejected2 {
		t.Fatal("duplicate within dedupe window should be rejected")
	}
	if metrics.ThoughtsDroppedDuplicate != 1 {
		t.Fatalf("expected ThoughtsDroppedDuplicate=1, got %+v", metrics)
	}
}

func TestEmitThought_DepthDerivedFromTrigger(t *testing.T) {
	s := newStage(DefaultConfig())
	now := time.Now()

	rootTrigger := signal.New(signal.TypeUserMessage, "sense.telegram", signal.PriorityHigh, now, "c1", signal.NewMetrics(1, 1), nil)
	rootThought, ok := s.emitThought(rootTrigger, "first thought", now, "c1")
	if !ok {
		t.Fatal("expected root thought to be accepted")
	}
	if rootThought.ThoughtDepth() != 0 {
		t.Fatalf("root thought depth = %d, want 0", rootThought.ThoughtDepth())
	}

	chained, ok := s.emitThought(rootThought, "second thought", now.Add(time.Minute), "c1")
	if !ok {
		t.Fatal("expected chained thought to be accepted")
	}
	if chained.ThoughtDepth() != 1 {
		t.Fatalf("chained thought depth = %d, want 1", chained.ThoughtDepth())
	}
}

func TestRun_EmptyWakeDecisionIsNoOp(t *testing.T) {
	s := newStage(DefaultConfig())
	st := state.New(state.TickBounds{})
	now := time.Now()

	out, err := s.Run(context.Background(), aggregation.WakeDecision{}, st, now, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FinalState != TurnIdle || out.Action != ActionNone {
		t.Fatalf("expected idle/none for empty decision, got %+v", out)
	}
}
