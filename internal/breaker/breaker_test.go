package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAtMaxFailures(t *testing.T) {
	b := New(Config{Name: "dep", MaxFailures: 3, ResetTimeout: time.Minute})
	failing := func(ctx context.Context) (string, error) { return "", errors.New("boom") }

	for i := 0; i < 3; i++ {
		if _, err := Execute(b, context.Background(), failing); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	if got := b.GetStats().Status; got != StatusOpen {
		t.Fatalf("status = %s, want open", got)
	}

	_, err := Execute(b, context.Background(), failing)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen (no dependency call once open)", err)
	}
}

func TestBreaker_HalfOpenThenClosedOnSuccess(t *testing.T) {
	b := New(Config{Name: "dep", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	failing := func(ctx context.Context) (string, error) { return "", errors.New("boom") }
	succeeding := func(ctx context.Context) (string, error) { return "ok", nil }

	if _, err := Execute(b, context.Background(), failing); err == nil {
		t.Fatal("expected failure")
	}
	if b.GetStats().Status != StatusOpen {
		t.Fatal("expected open after maxFailures")
	}

	time.Sleep(15 * time.Millisecond)

	result, err := Execute(b, context.Background(), succeeding)
	if err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want ok", result)
	}
	if got := b.GetStats().Status; got != StatusClosed {
		t.Fatalf("status after successful probe = %s, want closed", got)
	}
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := New(Config{Name: "dep", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	failing := func(ctx context.Context) (string, error) { return "", errors.New("boom") }

	Execute(b, context.Background(), failing)
	time.Sleep(15 * time.Millisecond)
	if _, err := Execute(b, context.Background(), failing); err == nil {
		t.Fatal("expected probe to fail")
	}
	if got := b.GetStats().Status; got != StatusOpen {
		t.Fatalf("status after failed probe = %s, want open", got)
	}
}

func TestBreaker_OperationTimeoutCountsAsFailure(t *testing.T) {
	b := New(Config{Name: "dep", MaxFailures: 1, ResetTimeout: time.Minute, OperationTimeout: 5 * time.Millisecond})
	slow := func(ctx context.Context) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if _, err := Execute(b, context.Background(), slow); err == nil {
		t.Fatal("expected timeout error")
	}
	if got := b.GetStats().Status; got != StatusOpen {
		t.Fatalf("status = %s, want open after timeout failure", got)
	}
}

func TestBreaker_SuccessResetsCounters(t *testing.T) {
	b := New(Config{Name: "dep", MaxFailures: 3, ResetTimeout: time.Minute})
	failing := func(ctx context.Context) (string, error) { return "", errors.New("boom") }
	succeeding := func(ctx context.Context) (string, error) { return "ok", nil }

	Execute(b, context.Background(), failing)
	Execute(b, context.Background(), succeeding)
	if got := b.GetStats().ConsecutiveFailures; got != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0 after success", got)
	}
}
