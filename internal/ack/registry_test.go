package ack

import (
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

func TestRegistry_HandledConsumedOnCheck(t *testing.T) {
	r := NewRegistry(0, 0)
	now := time.Now()
	r.Register(signal.TypeContactUrge, "", KindHandled, now, time.Time{}, nil, 0, "handled this tick")

	res := r.Check(signal.TypeContactUrge, "", nil, now)
	if res.Blocked {
		t.Fatal("handled ack must not block")
	}
	if r.Len() != 0 {
		t.Fatal("handled ack must be consumed on check")
	}
}

func TestRegistry_SuppressedAlwaysBlocks(t *testing.T) {
	r := NewRegistry(0, 0)
	now := time.Now()
	r.Register(signal.TypeEnergy, "", KindSuppressed, now, time.Time{}, nil, 0, "noisy")

	res := r.Check(signal.TypeEnergy, "", nil, now.Add(time.Hour))
	if !res.Blocked {
		t.Fatal("suppressed ack must always block")
	}
	if r.Len() != 1 {
		t.Fatal("suppressed ack must not be cleared by check")
	}
}

func TestRegistry_DeferredUnblocksOnTimeExpiry(t *testing.T) {
	r := NewRegistry(0, 0)
	now := time.Now()
	deferUntil := now.Add(time.Hour)
	r.Register(signal.TypeContactUrge, "", KindDeferred, now, deferUntil, nil, 0, "later")

	blockedBefore := r.Check(signal.TypeContactUrge, "", nil, now.Add(30*time.Minute))
	if !blockedBefore.Blocked {
		t.Fatal("deferral must block before deferUntil")
	}
	// Re-register since Check on KindDeferred before expiry does not clear it.
	r.Register(signal.TypeContactUrge, "", KindDeferred, now, deferUntil, nil, 0, "later")
	afterExpiry := r.Check(signal.TypeContactUrge, "", nil, deferUntil.Add(time.Second))
	if afterExpiry.Blocked {
		t.Fatal("deferral must unblock once deferUntil has passed")
	}
}

func TestRegistry_DeferredOverrideDelta(t *testing.T) {
	r := NewRegistry(0, 0)
	now := time.Now()
	valueAtAck := 0.4
	r.Register(signal.TypeContactUrge, "", KindDeferred, now, now.Add(4*time.Hour), &valueAtAck, 0.25, "wait and see")

	below := 0.5 // delta 0.1 < 0.25
	res := r.Check(signal.TypeContactUrge, "", &below, now.Add(time.Minute))
	if res.Blocked == false {
		t.Fatal("delta below overrideDelta must still block")
	}

	above := 0.70 // delta 0.30 >= 0.25
	res2 := r.Check(signal.TypeContactUrge, "", &above, now.Add(2*time.Minute))
	if res2.Blocked {
		t.Fatal("delta past overrideDelta must unblock")
	}
	if !res2.IsOverride {
		t.Fatal("unblocking via value delta must report IsOverride")
	}
}

func TestRegistry_DeferralTruncatedToMaxCap(t *testing.T) {
	r := NewRegistry(24*time.Hour, 0)
	now := time.Now()
	requested := now.Add(48 * time.Hour) // 2x maxDeferral
	a := r.Register(signal.TypeContactUrge, "", KindDeferred, now, requested, nil, 0, "way later")

	wantCap := now.Add(24 * time.Hour)
	if !a.DeferUntil.Equal(wantCap) {
		t.Fatalf("DeferUntil = %v, want truncated to %v", a.DeferUntil, wantCap)
	}
}

func TestRegistry_PruneRemovesExpiredDeferrals(t *testing.T) {
	r := NewRegistry(0, 0)
	now := time.Now()
	r.Register(signal.TypeContactUrge, "", KindDeferred, now, now.Add(-time.Minute), nil, 0, "stale")
	r.Register(signal.TypeEnergy, "", KindSuppressed, now, time.Time{}, nil, 0, "kept")

	removed := r.Prune(now)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (suppressed entry kept)", r.Len())
	}
}
