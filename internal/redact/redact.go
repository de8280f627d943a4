// Package redact scrubs secret-bearing substrings from log lines and
// other outbound text. Grounded on the teacher's internal/shared.Redact
// (regex pattern table for API keys, bearer tokens, Google API keys,
// token-shaped UUIDs), kept unchanged apart from the package split since
// the teacher's internal/shared is a grab-bag this runtime doesn't carry
// wholesale.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
}

// String replaces every secret-bearing match in input with a placeholder,
// preserving a recognizable key/prefix where the pattern captured one.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 && submatch[1] != "" {
				return submatch[1] + placeholder
			}
			return placeholder
		})
	}
	return result
}

// EnvValue returns placeholder when key looks secret-bearing by name,
// else returns value unchanged — for redacting config/env dumps where the
// value itself may not match any pattern above (e.g. a short test token).
func EnvValue(key, value string) string {
	if isSensitiveKey(key) {
		return placeholder
	}
	return value
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range []string{"api_key", "apikey", "secret", "token", "password", "credential", "authorization", "bearer"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
