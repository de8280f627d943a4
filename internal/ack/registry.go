// Package ack implements the acknowledgment/deferral registry (spec
// component C5): a keyed memory of which signal classes are handled,
// deferred, or suppressed, gating AGGREGATION's escalation decisions.
// Grounded on the teacher's keyed, mutex-guarded, deadline-aware stores
// (internal/coordinator/waiter.go's bus-driven wait-for-terminal idiom and
// internal/persistence/retention_store.go's prune-on-expiry idiom),
// generalized from "wait for a task" to "remember a disposition".
package ack

import (
	"sync"
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

// Kind is the disposition an Ack records.
type Kind string

const (
	KindHandled    Kind = "handled"
	KindDeferred   Kind = "deferred"
	KindSuppressed Kind = "suppressed"
)

// DefaultMaxDeferral is the cap spec.md §4.4 requires on requested
// deferrals.
const DefaultMaxDeferral = 24 * time.Hour

// DefaultOverrideDelta is the default value-delta that unblocks a deferral
// early.
const DefaultOverrideDelta = 0.25

// Ack is a single registry entry.
type Ack struct {
	ID            string
	SignalType    signal.Type
	Source        string // optional; "" means type-wide
	Kind          Kind
	CreatedAt     time.Time
	DeferUntil    time.Time // zero if not deferred
	ValueAtAck    *float64
	OverrideDelta float64
	Reason        string
}

func key(signalType signal.Type, source string) string {
	if source == "" {
		return string(signalType)
	}
	return string(signalType) + ":" + source
}

// Registry is the keyed ack store. Accessed only from the scheduler thread
// per spec.md §5, so no internal locking is strictly required; a mutex is
// kept anyway so tests and future callers outside the scheduler loop remain
// safe.
type Registry struct {
	mu              sync.Mutex
	entries         map[string]*Ack
	maxDeferral     time.Duration
	defaultOverride float64
	checksSinceFull int
	pruneEvery      int
}

// NewRegistry creates an empty Registry. maxDeferral and defaultOverride
// fall back to the spec's defaults (24h / 0.25) when zero.
func NewRegistry(maxDeferral time.Duration, defaultOverride float64) *Registry {
	if maxDeferral <= 0 {
		maxDeferral = DefaultMaxDeferral
	}
	if defaultOverride <= 0 {
		defaultOverride = DefaultOverrideDelta
	}
	return &Registry{
		entries:         make(map[string]*Ack),
		maxDeferral:     maxDeferral,
		defaultOverride: defaultOverride,
		pruneEvery:      50,
	}
}

// Register creates a new ack. For KindDeferred, deferUntil is truncated to
// now+maxDeferral if the caller requested more (spec.md §4.4 deferral cap).
// A zero overrideDelta is replaced with the registry default.
func (r *Registry) Register(signalType signal.Type, source string, kind Kind, now time.Time, deferUntil time.Time, valueAtAck *float64, overrideDelta float64, reason string) *Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == KindDeferred {
		cap := now.Add(r.maxDeferral)
		if deferUntil.After(cap) {
			deferUntil = cap
		}
	}
	if overrideDelta <= 0 {
		overrideDelta = r.defaultOverride
	}

	a := &Ack{
		ID:            key(signalType, source),
		SignalType:    signalType,
		Source:        source,
		Kind:          kind,
		CreatedAt:     now,
		DeferUntil:    deferUntil,
		ValueAtAck:    valueAtAck,
		OverrideDelta: overrideDelta,
		Reason:        reason,
	}
	r.entries[a.ID] = a
	return a
}

// CheckResult is the outcome of consulting the registry for a signal.
type CheckResult struct {
	Blocked    bool
	IsOverride bool
}

// Check consults the registry for signalType/source against an optional
// current value, applying the disposition table in spec.md §4.4. A matched
// ack whose disposition resolves (handled, time-expired deferral, or
// value-override deferral) is cleared as a side effect.
func (r *Registry) Check(signalType signal.Type, source string, currentValue *float64, now time.Time) CheckResult {
	r.MaybePrune(now)
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[key(signalType, source)]
	if !ok {
		return CheckResult{Blocked: false}
	}

	switch a.Kind {
	case KindHandled:
		delete(r.entries, a.ID)
		return CheckResult{Blocked: false}

	case KindSuppressed:
		return CheckResult{Blocked: true}

	case KindDeferred:
		if !a.DeferUntil.IsZero() && !now.Before(a.DeferUntil) {
			delete(r.entries, a.ID)
			return CheckResult{Blocked: false}
		}
		if a.ValueAtAck != nil && currentValue != nil {
			if *currentValue-*a.ValueAtAck >= a.OverrideDelta {
				delete(r.entries, a.ID)
				return CheckResult{Blocked: false, IsOverride: true}
			}
		}
		return CheckResult{Blocked: true}
	}
	return CheckResult{Blocked: false}
}

// Clear removes a specific ack (e.g. the user re-engaging clears a
// contact_urge deferral outright).
func (r *Registry) Clear(signalType signal.Type, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key(signalType, source))
}

// ClearAll empties the registry.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Ack)
}

// Prune removes expired deferrals. Called automatically every N checks
// (Check invokes MaybePrune, which tracks the count) and can also be
// invoked directly.
func (r *Registry) Prune(now time.Time) (removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.entries {
		if a.Kind == KindDeferred && !a.DeferUntil.IsZero() && !now.Before(a.DeferUntil) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// MaybePrune increments the internal check counter and prunes once it
// reaches pruneEvery, per spec.md §4.4 ("prunes expired entries every N
// checks").
func (r *Registry) MaybePrune(now time.Time) {
	r.mu.Lock()
	r.checksSinceFull++
	due := r.checksSinceFull >= r.pruneEvery
	if due {
		r.checksSinceFull = 0
	}
	r.mu.Unlock()
	if due {
		r.Prune(now)
	}
}

// Len returns the number of entries currently tracked (test/metric helper).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
