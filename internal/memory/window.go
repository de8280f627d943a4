// Package memory selects which prior turns fit into a COGNITION context
// window under a token budget, leaving the rest to a summary. Grounded on
// the teacher's internal/memory/window.go (BuildWindow's newest-first
// walk, oldest-first re-order, token budget arithmetic), adapted with a
// pinning carve-out the teacher's version has no equivalent of: a message
// flagged Pinned always survives windowing regardless of recency or
// budget, which internal/pipeline/cognition uses to guarantee a turn
// never drops the message that triggered it.
package memory

// WindowConfig controls sliding window behavior for conversation context.
type WindowConfig struct {
	MaxMessages    int // max messages to keep in window
	MaxTokens      int // max total tokens for messages
	SummaryBudget  int // tokens reserved for summary
	ReservedTokens int // tokens reserved for system prompt + pins + memories
}

// DefaultWindowConfig returns sensible defaults for a typical COGNITION turn.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxMessages:    50,
		MaxTokens:      8000,
		SummaryBudget:  500,
		ReservedTokens: 2000,
	}
}

// WindowMessage represents a single message for windowing calculations.
// Pinned messages are never dropped by BuildWindow's recency or token-budget
// trimming; a caller sets it on the one message per turn that must always
// reach the LLM regardless of how full the window already is.
type WindowMessage struct {
	Role    string
	Content string
	Tokens  int
	Pinned  bool
}

// WindowResult is the output of BuildWindow: what messages fit + optional summary.
type WindowResult struct {
	Summary        string
	Messages       []WindowMessage
	TotalTokens    int
	TruncatedCount int
}

// BuildWindow selects messages that fit within the context window. Takes
// all messages (oldest first), returns a fitting subset in the same order
// plus an optional summary. Pinned messages are admitted first and counted
// against the budget but never subject to the recency walk below, so a
// caller's pinned trigger message survives even a window too full to hold
// much else.
func BuildWindow(messages []WindowMessage, summary string, cfg WindowConfig) WindowResult {
	if len(messages) == 0 {
		return WindowResult{Summary: summary, Messages: []WindowMessage{}, TotalTokens: 0}
	}

	availableBudget := cfg.MaxTokens - cfg.ReservedTokens - cfg.SummaryBudget
	if availableBudget < 100 {
		availableBudget = 100
	}
	summaryTokens := len(summary) / 4

	selected := make([]bool, len(messages))
	totalMsgTokens := 0
	recencyCount := 0

	for i, msg := range messages {
		if !msg.Pinned {
			continue
		}
		selected[i] = true
		totalMsgTokens += msg.Tokens
	}

	// MaxMessages and the token budget only cap the recency walk. Pinned
	// messages are always kept and do not count toward MaxMessages; their
	// tokens do count toward the budget the walk fills, but a pinned
	// message is never dropped for exceeding it.
	for i := len(messages) - 1; i >= 0; i-- {
		if selected[i] {
			continue
		}
		if recencyCount >= cfg.MaxMessages {
			break
		}
		msg := messages[i]
		if totalMsgTokens+msg.Tokens+summaryTokens > availableBudget {
			break
		}
		selected[i] = true
		totalMsgTokens += msg.Tokens
		recencyCount++
	}

	selectedMsgs := make([]WindowMessage, 0, recencyCount+1)
	for i, msg := range messages {
		if selected[i] {
			selectedMsgs = append(selectedMsgs, msg)
		}
	}

	truncated := len(messages) - len(selectedMsgs)
	return WindowResult{
		Summary:        summary,
		Messages:       selectedMsgs,
		TotalTokens:    totalMsgTokens + summaryTokens,
		TruncatedCount: truncated,
	}
}
