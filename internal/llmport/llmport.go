// Package llmport adapts Firebase Genkit to the ports.LLM contract,
// routing each call by ports.Role to an independently configured fast or
// smart model. Grounded on the teacher's internal/engine/brain.go
// (provider switch over google/anthropic/openai/openai_compatible/
// openrouter via genkit plugins, defaultModelForProvider/
// envAPIKeyForProvider/modelNameForProvider) and internal/engine/failover.go
// (the idea of a per-role circuit breaker around provider calls) — but the
// breaker itself is internal/breaker.Execute rather than a second
// CircuitBreaker type, since that state machine already exists once in
// this module.
//
// Tool-calling is out of scope here: the teacher's brain wires
// genkit.DefineTool at brain-construction time against a fixed registry,
// which doesn't compose with a per-call, provider-agnostic ports.ToolSpec
// list. CALL_TOOL intents in this runtime are routed by the motor stage
// directly against its own tool registry, not through genkit's tool loop;
// Complete still accepts req.Tools so callers can pass tool descriptions
// in the prompt, but does not register them as genkit functions.
package llmport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/pulseagent/internal/breaker"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pulseerr"
	"github.com/basket/pulseagent/internal/tokenutil"
)

// RoleConfig configures the provider and model backing a single ports.Role.
type RoleConfig struct {
	// Provider is one of "google", "anthropic", "openai",
	// "openai_compatible", "openrouter". Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	// OpenAICompatibleProvider and OpenAICompatibleBaseURL are only
	// consulted when Provider == "openai_compatible".
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// Config configures a Port. Fast and Smart may point at the same or
// different providers/models; each gets its own genkit instance and
// breaker so a tripped smart-tier provider doesn't take down the fast
// tier, and vice versa.
type Config struct {
	Fast  RoleConfig
	Smart RoleConfig

	// BreakerMaxFailures and BreakerResetTimeout tune the per-role
	// breaker; zero values take breaker.Config's defaults.
	BreakerMaxFailures int
	BreakerResetTimeout time.Duration
}

type roleBackend struct {
	g         *genkit.Genkit
	modelName string
	available bool
	breaker   *breaker.Breaker
}

// Port is a ports.LLM implementation backed by Firebase Genkit, with one
// backend per role and a circuit breaker guarding each.
type Port struct {
	fast  roleBackend
	smart roleBackend
}

var _ ports.LLM = (*Port)(nil)

// New initializes genkit backends for the fast and smart roles. A role
// whose provider has no API key configured falls back to a deterministic
// unavailable backend: Complete returns a KindFatalInit error for that
// role rather than silently degrading output quality.
func New(ctx context.Context, cfg Config) *Port {
	breakerCfg := func(name string) breaker.Config {
		return breaker.Config{
			Name:         name,
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}
	}
	return &Port{
		fast:  newRoleBackend(ctx, cfg.Fast, breakerCfg("llm-fast")),
		smart: newRoleBackend(ctx, cfg.Smart, breakerCfg("llm-smart")),
	}
}

func newRoleBackend(ctx context.Context, rc RoleConfig, bcfg breaker.Config) roleBackend {
	provider := strings.ToLower(strings.TrimSpace(rc.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(rc.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(rc.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	available := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			available = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			available = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: rc.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  rc.OpenAICompatibleBaseURL,
			}))
			available = true
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			available = true
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			available = true
		}
	default:
		g = genkit.Init(ctx)
	}

	if g == nil {
		g = genkit.Init(ctx)
	}

	return roleBackend{
		g:         g,
		modelName: modelNameForProvider(provider, modelID),
		available: available,
		breaker:   breaker.New(bcfg),
	}
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	default:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}

func (p *Port) backendFor(role ports.Role) roleBackend {
	if role == ports.RoleSmart {
		return p.smart
	}
	return p.fast
}

// Complete routes req to the backend configured for req.Role, executing
// the call through that role's circuit breaker. Errors are classified
// into pulseerr taxonomy so callers can decide retry/deferral policy
// without inspecting provider-specific error types.
func (p *Port) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResult, error) {
	backend := p.backendFor(req.Role)
	if !backend.available {
		return ports.CompletionResult{}, pulseerr.New(pulseerr.KindFatalInit, false,
			fmt.Sprintf("no API key configured for role %q", req.Role))
	}

	opts, err := buildGenerateOptions(req, backend.modelName)
	if err != nil {
		return ports.CompletionResult{}, pulseerr.Wrap(pulseerr.KindMalformedSignal, false, "build completion request", err)
	}

	content, err := breaker.Execute(backend.breaker, ctx, func(ctx context.Context) (string, error) {
		resp, genErr := genkit.Generate(ctx, backend.g, opts...)
		if genErr != nil {
			return "", genErr
		}
		return resp.Text(), nil
	})
	if err != nil {
		if err == breaker.ErrOpen {
			return ports.CompletionResult{}, pulseerr.New(pulseerr.KindCircuitOpen, true,
				fmt.Sprintf("llm breaker open for role %q", req.Role))
		}
		kind := pulseerr.Classify(err)
		return ports.CompletionResult{}, pulseerr.Wrap(kind, kind == pulseerr.KindTransientIO, "genkit generate", err)
	}

	promptText := promptTextFor(req)
	return ports.CompletionResult{
		Content:      content,
		Model:        backend.modelName,
		FinishReason: "stop",
		Usage: &ports.Usage{
			PromptTokens:     tokenutil.EstimateTokens(promptText),
			CompletionTokens: tokenutil.EstimateTokens(content),
			TotalTokens:      tokenutil.EstimateTokens(promptText) + tokenutil.EstimateTokens(content),
		},
	}, nil
}

// buildGenerateOptions maps a provider-agnostic CompletionRequest onto
// genkit's GenerateOption list: the last system message becomes
// ai.WithSystem, the trailing user message becomes ai.WithPrompt, and
// everything before it becomes ai.WithMessages history.
func buildGenerateOptions(req ports.CompletionRequest, modelName string) ([]ai.GenerateOption, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("completion request has no messages")
	}

	var system string
	var history []*ai.Message
	var prompt string

	for i, m := range req.Messages {
		isLast := i == len(req.Messages)-1
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			if isLast {
				prompt = m.Content
				continue
			}
			history = append(history, &ai.Message{Role: ai.RoleUser, Content: []*ai.Part{ai.NewTextPart(m.Content)}})
		case "assistant":
			history = append(history, &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart(m.Content)}})
		case "tool":
			history = append(history, &ai.Message{Role: ai.RoleTool, Content: []*ai.Part{ai.NewTextPart(m.Content)}})
		}
	}
	if prompt == "" {
		return nil, fmt.Errorf("completion request has no trailing user message")
	}

	opts := []ai.GenerateOption{ai.WithModelName(modelName), ai.WithPrompt(prompt)}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if len(history) > 0 {
		opts = append(opts, ai.WithMessages(history...))
	}
	return opts, nil
}

func promptTextFor(req ports.CompletionRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
