// Package detect implements the Weber-Fechner change detector and the
// windowed pattern detector (spec component C4). Grounded on the teacher's
// threshold-table idiom in internal/engine/context_limits.go: a small
// config struct with defaulted constructor and pure, synchronous check
// functions — no I/O, safe to call from the AUTONOMIC/AGGREGATION stages
// directly on the scheduler thread.
package detect

import "math"

// ChangeConfig parameterizes the significance test.
type ChangeConfig struct {
	MinAbsoluteChange float64 // floor below which nothing is significant
	Base              float64 // t(alpha) lower bound
	Influence         float64 // weight of (1-alertness) in t(alpha)
	MaxThreshold      float64 // t(alpha) upper bound
	Epsilon           float64 // floor for max(|p|, epsilon) to avoid div-by-zero blowup
}

// DefaultChangeConfig matches the teacher's conservative threshold-table
// defaults: small absolute floor, base relative threshold 0.1, full
// influence swing up to 0.3 at minimum alertness.
func DefaultChangeConfig() ChangeConfig {
	return ChangeConfig{
		MinAbsoluteChange: 0.02,
		Base:              0.1,
		Influence:         0.2,
		MaxThreshold:      0.3,
		Epsilon:           0.05,
	}
}

// ChangeResult is the outcome of a significance test.
type ChangeResult struct {
	IsSignificant bool
	RelativeChange float64
	Reason        string
}

// Detector evaluates change significance using a fixed configuration.
type Detector struct {
	cfg ChangeConfig
}

// NewDetector creates a change Detector. A zero-value ChangeConfig is
// replaced with DefaultChangeConfig.
func NewDetector(cfg ChangeConfig) *Detector {
	if cfg == (ChangeConfig{}) {
		cfg = DefaultChangeConfig()
	}
	return &Detector{cfg: cfg}
}

func clampThreshold(t, base, max float64) float64 {
	if t < base {
		return base
	}
	if t > max {
		return max
	}
	return t
}

// thresholdFor computes t(alertness) per spec.md §4.3.
func (d *Detector) thresholdFor(alertness float64) float64 {
	t := d.cfg.Base + (1-alertness)*d.cfg.Influence
	return clampThreshold(t, d.cfg.Base, d.cfg.MaxThreshold)
}

// DetectChange tests whether the transition from previous to current is
// significant given the agent's current alertness in [0,1].
func (d *Detector) DetectChange(previous, current, alertness float64) ChangeResult {
	delta := math.Abs(current - previous)
	relative := 0.0
	base := math.Max(math.Abs(previous), d.cfg.Epsilon)
	if base > 0 {
		relative = delta / base
	}

	threshold := d.thresholdFor(alertness)
	requiredDelta := math.Max(d.cfg.MinAbsoluteChange, threshold*base)

	if delta < d.cfg.MinAbsoluteChange {
		return ChangeResult{IsSignificant: false, RelativeChange: relative, Reason: "below minimum absolute change"}
	}
	if delta < requiredDelta {
		return ChangeResult{IsSignificant: false, RelativeChange: relative, Reason: "below alertness-scaled relative threshold"}
	}
	return ChangeResult{IsSignificant: true, RelativeChange: relative, Reason: "change exceeds significance threshold"}
}
