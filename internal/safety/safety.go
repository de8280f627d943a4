// Package safety scans outbound text for leaked credentials before MOTOR
// hands it to a Channel port — an ambient safety concern the distilled
// spec didn't name but the teacher always carries. Grounded on the
// teacher's internal/safety/leak_detector.go (regex pattern table,
// capped-match scan) and internal/safety/sanitizer.go (Action enum,
// pattern-table idiom), merged into a single outbound-leaning Sanitizer
// since MOTOR needs one function: text in, safe text out.
package safety

import (
	"fmt"
	"regexp"
)

// leakPattern pairs a compiled matcher with the label used in logs.
type leakPattern struct {
	label string
	re    *regexp.Regexp
}

var leakPatterns = []leakPattern{
	{"generic_api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`)},
	{"bearer_token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"password_assignment", regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`)},
}

// maxMatchesPerPattern caps how many findings one pattern contributes per
// scan, so a pathological string can't blow up the warning list.
const maxMatchesPerPattern = 3

// Warning is one leak finding: the pattern label and a truncated sample
// for logging (never the full secret).
type Warning struct {
	Pattern string
	Sample  string
}

// Scan reports every leak pattern match found in output.
func Scan(output string) []Warning {
	var warnings []Warning
	for _, p := range leakPatterns {
		matches := p.re.FindAllString(output, maxMatchesPerPattern)
		for _, m := range matches {
			warnings = append(warnings, Warning{Pattern: p.label, Sample: truncate(m, 24)})
		}
	}
	return warnings
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Placeholder replaces every leak-pattern match in text with a redaction
// marker, for the common case where MOTOR should still send the message
// with the secret scrubbed rather than block it outright.
func Placeholder(text string) string {
	out := text
	for _, p := range leakPatterns {
		out = p.re.ReplaceAllString(out, "[redacted]")
	}
	return out
}

// Sanitizer builds the function signature internal/pipeline/motor.Stage
// expects for its outbound-text hook: scrub leak-pattern matches and
// return the cleaned text. Unlike Scan (report-only), this is the
// enforcement path MOTOR wires in at composition root.
func Sanitizer() func(text string) string {
	return Placeholder
}

// Explain renders a one-line human-readable summary of scan warnings, for
// audit-log or debug-log attachment.
func Explain(warnings []Warning) string {
	if len(warnings) == 0 {
		return ""
	}
	return fmt.Sprintf("%d potential credential leak(s) detected and redacted", len(warnings))
}
