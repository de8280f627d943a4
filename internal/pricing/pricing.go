// Package pricing estimates USD cost for an LLM completion from its
// model name and token counts, backing COGNITION's smart-path escalation
// budget with real accounting instead of a bare counter. Grounded on the
// teacher's internal/pricing/pricing.go (ModelPricing struct, knownModels
// table, EstimateCost), kept essentially unchanged since the pricing
// shape is provider-table lookups, not runtime logic.
package pricing

// ModelPricing is USD cost per million tokens, prompt and completion
// priced separately since most providers charge completion tokens at a
// higher rate.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

var knownModels = map[string]ModelPricing{
	"anthropic/claude-opus-4-6":          {PromptPer1M: 15.0, CompletionPer1M: 75.0},
	"anthropic/claude-sonnet-4-5":        {PromptPer1M: 3.0, CompletionPer1M: 15.0},
	"anthropic/claude-haiku-4-5":         {PromptPer1M: 0.8, CompletionPer1M: 4.0},
	"openai/gpt-4o":                      {PromptPer1M: 2.5, CompletionPer1M: 10.0},
	"openai/gpt-4o-mini":                 {PromptPer1M: 0.15, CompletionPer1M: 0.6},
	"google/gemini-2.5-pro":              {PromptPer1M: 1.25, CompletionPer1M: 5.0},
	"google/gemini-2.5-flash":            {PromptPer1M: 0.075, CompletionPer1M: 0.3},
	"meta-llama/llama-3.1-70b-instruct":  {PromptPer1M: 0.35, CompletionPer1M: 0.4},
}

// EstimateCost returns the USD cost for a completion, or 0 for an
// unrecognized model (fail-open on cost accounting: an unknown model
// never blocks a turn, it just isn't charged against the budget).
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := knownModels[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*p.PromptPer1M + float64(completionTokens)/1_000_000*p.CompletionPer1M
}
