package neuron

import (
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

func TestRegistry_RunAllCollectsSignals(t *testing.T) {
	r := NewRegistry()
	r.Register(NewBase("a", signal.TypeEnergy, "neuron.a", "", 0,
		func(s State, alertness float64, cid string) (float64, any, bool) { return 0.5, nil, true }), 0)
	r.Register(NewBase("b", signal.TypeEnergy, "neuron.b", "", 0,
		func(s State, alertness float64, cid string) (float64, any, bool) { return 0.7, nil, true }), 1)

	results := r.RunAll(State{Now: time.Now()}, 0.5, "tick-1")
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("expected priority order a,b; got %s,%s", results[0].ID, results[1].ID)
	}
	sigs := Signals(results)
	if len(sigs) != 2 {
		t.Fatalf("Signals() = %d, want 2", len(sigs))
	}
}

func TestRegistry_ErroringNeuronDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()
	bad := &Neuron{ID: "bad", Check: func(s State, alertness float64, cid string) (*signal.Signal, error) {
		panic("boom")
	}}
	r.Register(bad, 0)
	r.Register(NewBase("good", signal.TypeEnergy, "neuron.good", "", 0,
		func(s State, alertness float64, cid string) (float64, any, bool) { return 1, nil, true }), 1)

	results := r.RunAll(State{Now: time.Now()}, 0, "c")
	if results[0].Err == nil {
		t.Fatal("expected recovered panic to surface as an error")
	}
	if results[1].Signal == nil {
		t.Fatal("good neuron should still run and produce a signal")
	}
}

func TestRegistry_UnregisterRemovesNeuron(t *testing.T) {
	r := NewRegistry()
	r.Register(NewBase("a", signal.TypeEnergy, "neuron.a", "", 0,
		func(s State, alertness float64, cid string) (float64, any, bool) { return 1, nil, true }), 0)
	r.Unregister("a")
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after unregister", r.Len())
	}
}

func TestBase_RefractoryPeriodSuppressesRapidReEmission(t *testing.T) {
	n := NewBase("a", signal.TypeEnergy, "neuron.a", "", time.Minute,
		func(s State, alertness float64, cid string) (float64, any, bool) { return 1, nil, true })

	now := time.Now()
	s1, _ := n.Check(State{Now: now}, 0, "c1")
	if s1 == nil {
		t.Fatal("expected first check to emit")
	}
	s2, _ := n.Check(State{Now: now.Add(10 * time.Second)}, 0, "c2")
	if s2 != nil {
		t.Fatal("expected refractory period to suppress re-emission")
	}
	s3, _ := n.Check(State{Now: now.Add(2 * time.Minute)}, 0, "c3")
	if s3 == nil {
		t.Fatal("expected emission to resume once refractory period elapses")
	}
}

func TestBase_TracksPreviousValue(t *testing.T) {
	values := []float64{0.2, 0.9}
	i := 0
	n := NewBase("a", signal.TypeEnergy, "neuron.a", "", 0,
		func(s State, alertness float64, cid string) (float64, any, bool) {
			v := values[i]
			i++
			return v, nil, true
		})
	now := time.Now()
	s1, _ := n.Check(State{Now: now}, 0, "c1")
	if s1.Metrics.PreviousValue != nil {
		t.Fatal("first emission should have no previous value")
	}
	s2, _ := n.Check(State{Now: now.Add(time.Second)}, 0, "c2")
	if s2.Metrics.PreviousValue == nil || *s2.Metrics.PreviousValue != 0.2 {
		t.Fatalf("expected previous value 0.2, got %+v", s2.Metrics.PreviousValue)
	}
}

func TestRegisterBuiltins_PopulatesRegistry(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	if r.Len() == 0 {
		t.Fatal("expected builtin neurons to be registered")
	}
	results := r.RunAll(State{Energy: 0.7, Now: time.Now()}, 0.5, "c")
	found := false
	for _, res := range results {
		if res.Signal != nil && res.Signal.Type == signal.TypeEnergy {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an energy signal from builtins")
	}
}

func TestRegisterBuiltins_ClockFiresOnlyOnHourChange(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	countClockSignals := func(at time.Time) int {
		results := r.RunAll(State{Now: at}, 0.5, "c")
		n := 0
		for _, res := range results {
			if res.Signal != nil && res.Signal.Type == signal.TypeHourChanged {
				n++
			}
		}
		return n
	}

	if countClockSignals(base) != 1 {
		t.Fatal("expected clock to fire on first check")
	}
	if countClockSignals(base.Add(10*time.Minute)) != 0 {
		t.Fatal("expected clock to stay silent within the same hour")
	}
	if countClockSignals(base.Add(time.Hour)) != 1 {
		t.Fatal("expected clock to fire again once the hour changes")
	}
}
