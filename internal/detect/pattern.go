package detect

import (
	"time"

	"github.com/basket/pulseagent/internal/signal"
)

// Sample is one windowed observation of a signal type's aggregate value.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// Match is a detected pattern, emitted as a pattern_break signal when its
// Confidence reaches 0.5.
type Match struct {
	PatternID string
	Confidence float64
	Intensity  float64
}

// Snapshot is the aggregation-stage view a PatternFunc reasons over: current
// per-type values, rates of change, and windowed history, all for the
// current tick.
type Snapshot struct {
	Now          time.Time
	Current      map[signal.Type]float64
	RateOfChange map[signal.Type]float64
	History      map[signal.Type][]Sample
	IdleSince    map[signal.Type]time.Time
}

// PatternFunc inspects a Snapshot and reports a Match if its pattern fired.
type PatternFunc func(cfg PatternConfig, snap Snapshot) (Match, bool)

// PatternConfig parameterizes the three built-in patterns.
type PatternConfig struct {
	RateSpikeThreshold   float64       // |rateOfChange| above this is a spike
	SilenceActivityFloor float64       // average window activity must exceed this
	SilenceThreshold     time.Duration // idle duration required once current hits 0
	WindowSize           int           // max samples retained per type
	WindowDuration       time.Duration // max age retained per type
}

// DefaultPatternConfig mirrors the spec's illustrative constants.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		RateSpikeThreshold:   0.4,
		SilenceActivityFloor: 0.3,
		SilenceThreshold:     5 * time.Minute,
		WindowSize:           32,
		WindowDuration:       30 * time.Minute,
	}
}

// PatternDetector runs the windowed pattern detector.
type PatternDetector struct {
	cfg      PatternConfig
	patterns map[string]PatternFunc
	history  map[signal.Type][]Sample
	idleSince map[signal.Type]time.Time
}

// NewPatternDetector creates a PatternDetector with the three built-in
// patterns registered: rate-of-change spike, sudden silence, and
// energy/pressure cross-type correlation.
func NewPatternDetector(cfg PatternConfig) *PatternDetector {
	if cfg == (PatternConfig{}) {
		cfg = DefaultPatternConfig()
	}
	d := &PatternDetector{
		cfg:       cfg,
		patterns:  make(map[string]PatternFunc),
		history:   make(map[signal.Type][]Sample),
		idleSince: make(map[signal.Type]time.Time),
	}
	d.Register("rate_spike", rateSpikePattern)
	d.Register("sudden_silence", suddenSilencePattern)
	d.Register("energy_pressure_correlation", energyPressureCorrelationPattern)
	return d
}

// Register adds or replaces a named pattern, allowing plugins to extend the
// built-in set (spec.md §4.3: "extensible by registration").
func (d *PatternDetector) Register(id string, fn PatternFunc) {
	d.patterns[id] = fn
}

// Observe records the current value for a signal type into its rolling
// window, trimming by both size and age, and tracks idle duration (time
// since the value was last non-zero).
func (d *PatternDetector) Observe(typ signal.Type, value float64, now time.Time) {
	hist := append(d.history[typ], Sample{Value: value, Timestamp: now})
	cutoff := now.Add(-d.cfg.WindowDuration)
	trimmed := hist[:0]
	for _, s := range hist {
		if s.Timestamp.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) > d.cfg.WindowSize {
		trimmed = trimmed[len(trimmed)-d.cfg.WindowSize:]
	}
	d.history[typ] = trimmed

	if value != 0 {
		d.idleSince[typ] = now
	} else if _, ok := d.idleSince[typ]; !ok {
		d.idleSince[typ] = now
	}
}

// Detect runs every registered pattern against the current snapshot and
// returns matches with confidence >= 0.5, per spec.md §4.3.
func (d *PatternDetector) Detect(current map[signal.Type]float64, rateOfChange map[signal.Type]float64, now time.Time) []Match {
	histCopy := make(map[signal.Type][]Sample, len(d.history))
	for t, h := range d.history {
		histCopy[t] = h
	}
	snap := Snapshot{
		Now:          now,
		Current:      current,
		RateOfChange: rateOfChange,
		History:      histCopy,
		IdleSince:    d.idleSince,
	}

	var matches []Match
	for _, fn := range d.patterns {
		if m, ok := fn(d.cfg, snap); ok && m.Confidence >= 0.5 {
			matches = append(matches, m)
		}
	}
	return matches
}

func average(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rateSpikePattern(cfg PatternConfig, snap Snapshot) (Match, bool) {
	var best Match
	found := false
	for typ, roc := range snap.RateOfChange {
		abs := roc
		if abs < 0 {
			abs = -abs
		}
		if abs <= cfg.RateSpikeThreshold {
			continue
		}
		intensity := clamp01(abs / (cfg.RateSpikeThreshold * 2))
		if !found || intensity > best.Intensity {
			best = Match{PatternID: "rate_spike:" + string(typ), Confidence: intensity, Intensity: intensity}
			found = true
		}
	}
	return best, found
}

func suddenSilencePattern(cfg PatternConfig, snap Snapshot) (Match, bool) {
	for typ, cur := range snap.Current {
		if cur != 0 {
			continue
		}
		hist := snap.History[typ]
		if average(hist) <= cfg.SilenceActivityFloor {
			continue
		}
		since, ok := snap.IdleSince[typ]
		if !ok {
			continue
		}
		idleFor := snap.Now.Sub(since)
		if idleFor < cfg.SilenceThreshold {
			continue
		}
		intensity := clamp01(float64(idleFor) / float64(cfg.SilenceThreshold*2))
		return Match{PatternID: "sudden_silence:" + string(typ), Confidence: intensity, Intensity: intensity}, true
	}
	return Match{}, false
}

func energyPressureCorrelationPattern(cfg PatternConfig, snap Snapshot) (Match, bool) {
	energy, hasEnergy := snap.Current[signal.TypeEnergy]
	pressure, hasPressure := snap.Current[signal.TypeContactPressure]
	if !hasEnergy || !hasPressure {
		return Match{}, false
	}
	const energyLow = 0.3
	const pressureHigh = 0.7
	if energy >= energyLow || pressure <= pressureHigh {
		return Match{}, false
	}
	intensity := clamp01((energyLow-energy)/energyLow*0.5 + (pressure-pressureHigh)/(1-pressureHigh)*0.5)
	return Match{PatternID: "energy_low_pressure_high", Confidence: intensity, Intensity: intensity}, true
}
