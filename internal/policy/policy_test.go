package policy_test

import (
	"testing"

	"github.com/basket/pulseagent/internal/policy"
)

func TestDefault_AllowsEverything(t *testing.T) {
	p := policy.Default()
	ok, reason := p.AllowToolCall("anything", true, 0)
	if !ok {
		t.Fatalf("expected default policy to allow, got reason %q", reason)
	}
}

func TestAllowToolCall_RejectsLowConfidenceSideEffect(t *testing.T) {
	p := policy.Policy{MinConfidence: 0.8, AllowSideEffects: true}
	ok, reason := p.AllowToolCall("send_message", true, 0.5)
	if ok {
		t.Fatal("expected low-confidence side-effecting call to be rejected")
	}
	if reason == "" {
		t.Fatal("expected a rejection reason")
	}
}

func TestAllowToolCall_AllowsReadOnlyRegardlessOfConfidence(t *testing.T) {
	p := policy.Policy{MinConfidence: 0.9, AllowSideEffects: true}
	ok, _ := p.AllowToolCall("read_only_tool", false, 0)
	if !ok {
		t.Fatal("expected a non-side-effecting tool to bypass the confidence floor")
	}
}

func TestAllowToolCall_SideEffectsDisabledBlocksEvenHighConfidence(t *testing.T) {
	p := policy.Policy{MinConfidence: 0, AllowSideEffects: false}
	ok, _ := p.AllowToolCall("send_message", true, 1.0)
	if ok {
		t.Fatal("expected side-effecting call to be blocked when AllowSideEffects is false")
	}
}

func TestAllowCapability_RestrictsToAllowlist(t *testing.T) {
	p := policy.Policy{AllowCapabilities: []string{"tools.read_url"}}
	if !p.AllowCapability("tools.read_url") {
		t.Fatal("expected allowlisted capability to be allowed")
	}
	if p.AllowCapability("tools.exec") {
		t.Fatal("expected non-allowlisted capability to be denied")
	}
}

func TestPolicyVersion_ChangesWithContent(t *testing.T) {
	a := policy.Policy{MinConfidence: 0.5}
	b := policy.Policy{MinConfidence: 0.9}
	if a.PolicyVersion() == b.PolicyVersion() {
		t.Fatal("expected different policies to produce different version fingerprints")
	}
}

func TestLivePolicy_ReloadChangesBehavior(t *testing.T) {
	lp := policy.NewLivePolicy(policy.Policy{AllowSideEffects: false})
	if ok, _ := lp.AllowToolCall("x", true, 1); ok {
		t.Fatal("expected initial policy to block side effects")
	}
	lp.Reload(policy.Policy{AllowSideEffects: true})
	if ok, _ := lp.AllowToolCall("x", true, 1); !ok {
		t.Fatal("expected reloaded policy to allow side effects")
	}
}
