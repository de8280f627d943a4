package filter

import (
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

func sig(confidence float64, priority signal.Priority, payload any) signal.Signal {
	return signal.New(signal.TypeEnergy, "test", priority, time.Now(), "", signal.NewMetrics(0.5, confidence), payload)
}

func TestRegistry_ChainsOutputToInput(t *testing.T) {
	r := NewRegistry()
	r.Register("double", 0, nil, func(signals []signal.Signal, ctx Context) []signal.Signal {
		return append(signals, signals...)
	})
	r.Register("take_first", 1, nil, func(signals []signal.Signal, ctx Context) []signal.Signal {
		if len(signals) == 0 {
			return signals
		}
		return signals[:1]
	})

	out := r.Process([]signal.Signal{sig(1, signal.PriorityNormal, "x")}, Context{})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1 (chained through both filters)", len(out))
	}
}

func TestRegistry_HandlesRestrictsInvocation(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("only_thought", 0, []signal.Type{signal.TypeThought}, func(signals []signal.Signal, ctx Context) []signal.Signal {
		called = true
		return signals
	})
	r.Process([]signal.Signal{sig(1, signal.PriorityNormal, "x")}, Context{})
	if called {
		t.Fatal("filter scoped to thought signals should not run for an energy signal")
	}
}

func TestRegistry_PanicLeavesBatchUnchangedAndCounts(t *testing.T) {
	r := NewRegistry()
	r.Register("panics", 0, nil, func(signals []signal.Signal, ctx Context) []signal.Signal {
		panic("boom")
	})
	in := []signal.Signal{sig(1, signal.PriorityNormal, "x")}
	out := r.Process(in, Context{})
	if len(out) != len(in) {
		t.Fatalf("panicking filter must leave batch unchanged, got %d signals", len(out))
	}
	if r.FailureCount("panics") != 1 {
		t.Fatalf("FailureCount = %d, want 1", r.FailureCount("panics"))
	}
}

func TestBuiltins_MinConfidenceDropsLowConfidence(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, 0.5)
	out := r.Process([]signal.Signal{sig(0.1, signal.PriorityNormal, "x")}, Context{})
	if len(out) != 0 {
		t.Fatalf("expected low-confidence signal dropped, got %d", len(out))
	}
}

func TestBuiltins_DropsIdlePayloadless(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, 0)
	out := r.Process([]signal.Signal{sig(1, signal.PriorityIdle, nil)}, Context{})
	if len(out) != 0 {
		t.Fatal("expected idle payloadless signal dropped")
	}
}

func TestBuiltins_AllowsIdleWithPayload(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, 0)
	out := r.Process([]signal.Signal{sig(1, signal.PriorityIdle, "has payload")}, Context{})
	if len(out) != 1 {
		t.Fatal("idle signal with payload should pass")
	}
}
