package tokenutil_test

import (
	"strings"
	"testing"

	"github.com/basket/pulseagent/internal/tokenutil"
)

func TestEstimateTokens_Empty(t *testing.T) {
	if got := tokenutil.EstimateTokens(""); got != 0 {
		t.Fatalf("EstimateTokens(\"\") = %d, want 0", got)
	}
}

func TestEstimateTokens_ScalesWithLength(t *testing.T) {
	short := tokenutil.EstimateTokens("hello world")
	long := tokenutil.EstimateTokens(strings.Repeat("hello world ", 50))
	if long <= short {
		t.Fatal("expected longer text to estimate more tokens")
	}
}

func TestEstimateTokens_TakesMaxOfWordAndCharEstimate(t *testing.T) {
	// A single very long "word" (no spaces) should still score high via
	// the char-count estimate even though the word-count estimate is tiny.
	got := tokenutil.EstimateTokens(strings.Repeat("x", 400))
	if got < 100 {
		t.Fatalf("EstimateTokens = %d, want >= 100 for a 400-char unbroken string", got)
	}
}
