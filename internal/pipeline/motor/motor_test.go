package motor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/ack"
	"github.com/basket/pulseagent/internal/policy"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pulseerr"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
	"github.com/basket/pulseagent/internal/tool"
)

type fakeChannel struct {
	name     string
	fail     int
	failErr  error
	sendFunc func(ctx context.Context, target, text string, opts ports.MessageOptions) (ports.SendResult, error)
	calls    int
}

func (f *fakeChannel) Name() string      { return f.name }
func (f *fakeChannel) IsAvailable() bool { return true }
func (f *fakeChannel) SendMessage(ctx context.Context, target, text string, opts ports.MessageOptions) (ports.SendResult, error) {
	f.calls++
	if f.sendFunc != nil {
		return f.sendFunc(ctx, target, text, opts)
	}
	if f.calls <= f.fail {
		return ports.SendResult{}, f.failErr
	}
	return ports.SendResult{Success: true, MessageID: "msg-1"}, nil
}

func newStageWithChannel(ch *fakeChannel) *Stage {
	return New(map[string]ports.Channel{ch.name: ch}, nil, ack.NewRegistry(0, 0), tool.NewRegistry(),
		RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
}

func TestApply_UpdateStateRejectsAutomaticField(t *testing.T) {
	s := newStageWithChannel(&fakeChannel{name: "telegram"})
	st := state.New(state.TickBounds{})
	before := st.Energy

	res := s.Apply(context.Background(), signal.UpdateState("energy", 0.9, nil, signal.Trace{}), st, time.Now())
	if res.Err == nil {
		t.Fatal("expected rejection of automatic field update")
	}
	if st.Energy != before {
		t.Fatalf("Energy changed to %v, want unchanged at %v", st.Energy, before)
	}
}

func TestApply_UpdateStateClampsAndRounds(t *testing.T) {
	s := newStageWithChannel(&fakeChannel{name: "telegram"})
	st := state.New(state.TickBounds{})

	res := s.Apply(context.Background(), signal.UpdateState("taskPressure", 1.23456, nil, signal.Trace{}), st, time.Now())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if st.TaskPressure != 1.0 {
		t.Fatalf("TaskPressure = %v, want clamped to 1.0", st.TaskPressure)
	}
}

func TestApply_SendMessageRetriesThenSucceeds(t *testing.T) {
	ch := &fakeChannel{name: "telegram", fail: 2, failErr: errors.New("503 service unavailable")}
	s := newStageWithChannel(ch)

	intent := signal.SendMessage("42", "hi", "telegram", signal.MessageOptions{}, signal.Trace{})
	res := s.Apply(context.Background(), intent, state.New(state.TickBounds{}), time.Now())
	if res.Err != nil {
		t.Fatalf("unexpected error after retries: %v", res.Err)
	}
	if ch.calls != 3 {
		t.Fatalf("calls = %d, want 3 (2 failures + 1 success)", ch.calls)
	}
	if res.Signal == nil || !res.Signal.Payload.(signal.MotorResultPayload).Success {
		t.Fatal("expected a successful motor_result signal")
	}
}

func TestApply_SendMessageNonRetryableFailsImmediately(t *testing.T) {
	ch := &fakeChannel{name: "telegram", fail: 99, failErr: errors.New("400 invalid target")}
	s := newStageWithChannel(ch)

	intent := signal.SendMessage("42", "hi", "telegram", signal.MessageOptions{}, signal.Trace{})
	res := s.Apply(context.Background(), intent, state.New(state.TickBounds{}), time.Now())
	if res.Err == nil {
		t.Fatal("expected failure")
	}
	if ch.calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-retryable should not retry)", ch.calls)
	}
}

func TestApply_DeferRegistersAck(t *testing.T) {
	acks := ack.NewRegistry(0, 0)
	s := New(map[string]ports.Channel{}, nil, acks, tool.NewRegistry(), DefaultRetryConfig(), nil)
	now := time.Now()

	res := s.Apply(context.Background(), signal.Defer(signal.TypeContactUrge, "", 4, "later", signal.Trace{}), state.New(state.TickBounds{}), now)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	check := acks.Check(signal.TypeContactUrge, "", nil, now.Add(time.Minute))
	if !check.Blocked {
		t.Fatal("expected deferred ack to block shortly after registration")
	}
}

func TestApply_SuppressRegistersAck(t *testing.T) {
	acks := ack.NewRegistry(0, 0)
	s := New(map[string]ports.Channel{}, nil, acks, tool.NewRegistry(), DefaultRetryConfig(), nil)
	now := time.Now()

	s.Apply(context.Background(), signal.Suppress(signal.TypeEnergy, "noisy", signal.Trace{}), state.New(state.TickBounds{}), now)
	check := acks.Check(signal.TypeEnergy, "", nil, now.Add(time.Hour))
	if !check.Blocked {
		t.Fatal("expected suppressed ack to always block")
	}
}

func TestApply_UnknownChannelProducesFailedMotorResult(t *testing.T) {
	s := newStageWithChannel(&fakeChannel{name: "telegram"})
	intent := signal.SendMessage("42", "hi", "discord", signal.MessageOptions{}, signal.Trace{})
	res := s.Apply(context.Background(), intent, state.New(state.TickBounds{}), time.Now())
	if res.Err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if res.Signal == nil || res.Signal.Payload.(signal.MotorResultPayload).Success {
		t.Fatal("expected a failed motor_result signal")
	}
}

func TestApply_CallToolDeniedBySideEffectPolicy(t *testing.T) {
	tools := tool.NewRegistry()
	tools.Register(tool.Tool{
		ID:             "delete_file",
		HasSideEffects: true,
		Execute: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			return tool.Result{Content: "deleted"}, nil
		},
	})
	s := New(map[string]ports.Channel{}, nil, ack.NewRegistry(0, 0), tools, DefaultRetryConfig(), nil)
	s.SetPolicy(policy.Policy{AllowSideEffects: false})

	res := s.Apply(context.Background(), signal.CallTool("delete_file", nil, signal.Trace{}), state.New(state.TickBounds{}), time.Now())
	if res.Err == nil {
		t.Fatal("expected side-effecting call to be denied by policy")
	}
	pe, ok := pulseerr.As(res.Err)
	if !ok || pe.Kind != pulseerr.KindPolicyViolation {
		t.Fatalf("expected KindPolicyViolation, got %+v", res.Err)
	}
}

func TestApply_CallToolAllowedWithNoPolicyConfigured(t *testing.T) {
	tools := tool.NewRegistry()
	tools.Register(tool.Tool{
		ID:             "delete_file",
		HasSideEffects: true,
		Execute: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			return tool.Result{Content: "deleted"}, nil
		},
	})
	s := New(map[string]ports.Channel{}, nil, ack.NewRegistry(0, 0), tools, DefaultRetryConfig(), nil)

	res := s.Apply(context.Background(), signal.CallTool("delete_file", nil, signal.Trace{}), state.New(state.TickBounds{}), time.Now())
	if res.Err != nil {
		t.Fatalf("expected unconfigured policy to admit every call, got: %v", res.Err)
	}
}
