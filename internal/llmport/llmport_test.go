package llmport_test

import (
	"context"
	"testing"

	"github.com/basket/pulseagent/internal/llmport"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pulseerr"
)

func TestComplete_FastRoleWithoutAPIKeyFailsFatalInit(t *testing.T) {
	p := llmport.New(context.Background(), llmport.Config{
		Fast: llmport.RoleConfig{Provider: "anthropic", APIKey: ""},
	})

	_, err := p.Complete(context.Background(), ports.CompletionRequest{
		Role:     ports.RoleFast,
		Messages: []ports.Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected Complete to fail without a configured API key")
	}
	pe, ok := pulseerr.As(err)
	if !ok {
		t.Fatalf("expected a pulseerr.Error, got %T", err)
	}
	if pe.Kind != pulseerr.KindFatalInit {
		t.Fatalf("Kind = %v, want %v", pe.Kind, pulseerr.KindFatalInit)
	}
	if pulseerr.IsRetryable(err) {
		t.Fatal("expected fatal_init error to be non-retryable")
	}
}

func TestComplete_SmartRoleWithoutAPIKeyFailsFatalInit(t *testing.T) {
	p := llmport.New(context.Background(), llmport.Config{
		Smart: llmport.RoleConfig{Provider: "google", APIKey: ""},
	})

	_, err := p.Complete(context.Background(), ports.CompletionRequest{
		Role:     ports.RoleSmart,
		Messages: []ports.Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected Complete to fail without a configured API key")
	}
}

func TestComplete_RejectsEmptyMessages(t *testing.T) {
	p := llmport.New(context.Background(), llmport.Config{
		Fast: llmport.RoleConfig{Provider: "anthropic", APIKey: "test-key"},
	})

	_, err := p.Complete(context.Background(), ports.CompletionRequest{
		Role: ports.RoleFast,
	})
	if err == nil {
		t.Fatal("expected Complete to reject a request with no messages")
	}
	pe, ok := pulseerr.As(err)
	if !ok || pe.Kind != pulseerr.KindMalformedSignal {
		t.Fatalf("expected KindMalformedSignal, got %+v", pe)
	}
}

func TestComplete_RejectsRequestWithNoTrailingUserMessage(t *testing.T) {
	p := llmport.New(context.Background(), llmport.Config{
		Fast: llmport.RoleConfig{Provider: "anthropic", APIKey: "test-key"},
	})

	_, err := p.Complete(context.Background(), ports.CompletionRequest{
		Role: ports.RoleFast,
		Messages: []ports.Message{
			{Role: "system", Content: "you are a helper"},
			{Role: "assistant", Content: "ok"},
		},
	})
	if err == nil {
		t.Fatal("expected Complete to reject a request without a trailing user message")
	}
}

func TestFastAndSmartRolesAreIndependentlyConfigured(t *testing.T) {
	p := llmport.New(context.Background(), llmport.Config{
		Fast:  llmport.RoleConfig{Provider: "anthropic", APIKey: ""},
		Smart: llmport.RoleConfig{Provider: "google", APIKey: ""},
	})

	_, fastErr := p.Complete(context.Background(), ports.CompletionRequest{
		Role:     ports.RoleFast,
		Messages: []ports.Message{{Role: "user", Content: "hi"}},
	})
	_, smartErr := p.Complete(context.Background(), ports.CompletionRequest{
		Role:     ports.RoleSmart,
		Messages: []ports.Message{{Role: "user", Content: "hi"}},
	})
	if fastErr == nil || smartErr == nil {
		t.Fatal("expected both unconfigured roles to fail independently")
	}
}
