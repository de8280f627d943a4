// Package tokenutil estimates token counts for text without a real
// tokenizer, backing COGNITION's conversation-window token counts and
// the LLM port's usage figures. Grounded on the teacher's internal/tokenutil/tokenutil.go
// (word-count and char-count heuristics, max of the two), kept unchanged:
// this is a cheap approximation by design, not a tokenizer replacement.
package tokenutil

import "strings"

// EstimateTokens approximates a BPE tokenizer's output by taking the
// larger of a word-count-based estimate (words × 1.33, since most BPE
// vocabularies split uncommon words into sub-word pieces) and a
// char-count-based estimate (chars / 4, the common English-text rule of
// thumb), so short but visually large input isn't underestimated.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	byWords := int(float64(words) * 1.33)
	byChars := len(content) / 4
	if byWords > byChars {
		return byWords
	}
	return byChars
}
