package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/pulseagent/internal/policy"
)

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("min_confidence: 0.2\nallow_side_effects: true\n"), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}

	live := policy.NewLivePolicy(policy.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := policy.WatchFile(ctx, path, nil, live); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	write := func() {
		_ = os.WriteFile(path, []byte("min_confidence: 0.9\nallow_side_effects: false\n"), 0o644)
	}
	write()

	for {
		if snap := live.Snapshot(); !snap.AllowSideEffects && snap.MinConfidence == 0.9 {
			return
		}
		select {
		case <-writeTick.C:
			write()
		case <-deadline:
			t.Fatalf("timed out waiting for policy reload, snapshot = %+v", live.Snapshot())
		}
	}
}

func TestWatchFile_KeepsCurrentPolicyOnMalformedReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("min_confidence: 0.5\nallow_side_effects: true\n"), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}

	live := policy.NewLivePolicy(policy.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := policy.WatchFile(ctx, path, nil, live); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	deadline := time.After(1 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	write := func() {
		_ = os.WriteFile(path, []byte("min_confidence: 0.7\nallow_side_effects: true\n"), 0o644)
	}
	write()

	for {
		if live.Snapshot().MinConfidence == 0.7 {
			break
		}
		select {
		case <-writeTick.C:
			write()
		case <-deadline:
			t.Fatalf("timed out waiting for valid reload, snapshot = %+v", live.Snapshot())
		}
	}

	if err := os.WriteFile(path, []byte("min_confidence: [not valid"), 0o644); err != nil {
		t.Fatalf("write malformed policy: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	if got := live.Snapshot().MinConfidence; got != 0.7 {
		t.Fatalf("expected policy to remain unchanged after malformed reload, got MinConfidence=%v", got)
	}
}
