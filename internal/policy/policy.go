// Package policy gates CALL_TOOL intents against a confidence threshold
// and side-effect allowance before MOTOR executes them — the concrete
// mechanism behind spec.md §7's "tool confidence below policy threshold"
// policy violation. Grounded on the teacher's internal/policy/policy.go
// (capability allowlist, FNV-hashed PolicyVersion, mutex-guarded
// LivePolicy), trimmed from the teacher's URL/path/MCP-rule surface (no
// domain-allowlisting or HTTP egress here — ports already mediate all
// outbound I/O) down to the capability + confidence-threshold shape
// CALL_TOOL gating needs.
package policy

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
)

// Policy is the serializable gating configuration.
type Policy struct {
	// MinConfidence is the minimum confidence score (0..1) COGNITION must
	// attach to a CALL_TOOL intent for a side-effecting tool. Tools
	// without side effects are never confidence-gated.
	MinConfidence float64 `yaml:"min_confidence"`
	// AllowSideEffects permits tools flagged HasSideEffects to run at
	// all; false refuses every side-effecting CALL_TOOL regardless of
	// confidence (a hard kill switch, e.g. for a read-only deployment).
	AllowSideEffects bool `yaml:"allow_side_effects"`
	// AllowCapabilities is the allowlist of tool ids (or capability tags)
	// permitted to run. An empty list allows every registered tool,
	// matching the teacher's backward-compatible "no allowlist set"
	// default.
	AllowCapabilities []string `yaml:"allow_capabilities"`
}

// Default returns a permissive policy: side effects allowed, no
// confidence floor, no capability restriction.
func Default() Policy {
	return Policy{MinConfidence: 0, AllowSideEffects: true}
}

// Checker is the interface CALL_TOOL gating consumes; MOTOR and
// COGNITION depend on this, not the concrete Policy/LivePolicy type.
type Checker interface {
	AllowCapability(capability string) bool
	AllowToolCall(toolID string, hasSideEffects bool, confidence float64) (bool, string)
	PolicyVersion() string
}

// AllowCapability reports whether capability is present in the
// allowlist. An empty allowlist allows everything.
func (p Policy) AllowCapability(capability string) bool {
	if len(p.AllowCapabilities) == 0 {
		return true
	}
	capability = strings.ToLower(strings.TrimSpace(capability))
	for _, allowed := range p.AllowCapabilities {
		if strings.ToLower(strings.TrimSpace(allowed)) == capability {
			return true
		}
	}
	return false
}

// AllowToolCall is the gate MOTOR's CALL_TOOL handling runs before
// invoking the tool registry. It returns false with a reason string
// instead of an error — the caller maps the reason into a
// pulseerr.KindPolicyViolation.
func (p Policy) AllowToolCall(toolID string, hasSideEffects bool, confidence float64) (bool, string) {
	if !p.AllowCapability(toolID) {
		return false, "tool not in capability allowlist"
	}
	if hasSideEffects {
		if !p.AllowSideEffects {
			return false, "side-effecting tools disabled by policy"
		}
		if confidence < p.MinConfidence {
			return false, fmt.Sprintf("confidence %.2f below policy threshold %.2f", confidence, p.MinConfidence)
		}
	}
	return true, ""
}

// PolicyVersion returns a short, stable fingerprint of this policy's
// content, for audit-trail correlation (spec.md §9's "policy version"
// concept, same FNV-hash idiom as the teacher's policyVersionFor).
func (p Policy) PolicyVersion() string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "min_confidence=%v|allow_side_effects=%v|", p.MinConfidence, p.AllowSideEffects)
	for _, v := range p.AllowCapabilities {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}

// LivePolicy is a mutex-guarded, hot-swappable Policy, for a plugin or
// admin surface that updates gating rules without a process restart.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
}

// NewLivePolicy wraps an initial Policy.
func NewLivePolicy(initial Policy) *LivePolicy {
	return &LivePolicy{data: initial}
}

func (lp *LivePolicy) AllowCapability(capability string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowCapability(capability)
}

func (lp *LivePolicy) AllowToolCall(toolID string, hasSideEffects bool, confidence float64) (bool, string) {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowToolCall(toolID, hasSideEffects, confidence)
}

func (lp *LivePolicy) PolicyVersion() string {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.PolicyVersion()
}

// Reload swaps in a new Policy wholesale.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// Snapshot returns a copy of the current policy data.
func (lp *LivePolicy) Snapshot() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data
}
