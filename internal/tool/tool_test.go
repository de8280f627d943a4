package tool

import (
	"context"
	"testing"
)

func TestRegistry_InvokeRunsRegisteredTool(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{
		ID: "echo",
		Execute: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Content: args["text"].(string)}, nil
		},
	}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	res, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "hi" {
		t.Fatalf("Content = %q, want hi", res.Content)
	}
}

func TestRegistry_InvokeUnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Invoke(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestRegistry_InvokeRecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		ID: "boom",
		Execute: func(ctx context.Context, args map[string]any) (Result, error) {
			panic("kaboom")
		},
	})

	_, err := r.Invoke(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestRegistry_RegisterRejectsMalformedArgsSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{ID: "bad_schema", ArgsSchema: "{not json", Execute: func(ctx context.Context, args map[string]any) (Result, error) {
		return Result{}, nil
	}})
	if err == nil {
		t.Fatal("expected malformed schema to be rejected at Register")
	}
}

func TestRegistry_InvokeRejectsArgsFailingSchema(t *testing.T) {
	r := NewRegistry()
	schema := `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`
	r.Register(Tool{
		ID:         "read_file",
		ArgsSchema: schema,
		Execute: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Content: "ok"}, nil
		},
	})

	if _, err := r.Invoke(context.Background(), "read_file", map[string]any{}); err == nil {
		t.Fatal("expected missing required arg to fail schema validation")
	}

	res, err := r.Invoke(context.Background(), "read_file", map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("unexpected error for valid args: %v", err)
	}
	if res.Content != "ok" {
		t.Fatalf("Content = %q, want ok", res.Content)
	}
}

func TestRegistry_UnregisterClearsSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		ID:         "tmp",
		ArgsSchema: `{"type": "object", "required": ["x"]}`,
		Execute:    func(ctx context.Context, args map[string]any) (Result, error) { return Result{}, nil },
	})
	r.Unregister("tmp")
	if _, ok := r.Get("tmp"); ok {
		t.Fatal("expected tool to be gone after Unregister")
	}
}
