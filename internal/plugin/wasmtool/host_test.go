package wasmtool_test

import (
	"context"
	"testing"

	"github.com/basket/pulseagent/internal/plugin/wasmtool"
)

// minimalWASM is an empty valid module: magic bytes + version, no sections.
var minimalWASM = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newHost(t *testing.T) *wasmtool.Host {
	t.Helper()
	h, err := wasmtool.New(context.Background(), wasmtool.Config{})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestHost_LoadValidModule(t *testing.T) {
	h := newHost(t)
	if err := h.LoadModule(context.Background(), "empty", minimalWASM); err != nil {
		t.Fatalf("load valid module: %v", err)
	}
	if !h.HasModule("empty") {
		t.Fatal("expected module to be registered")
	}
}

func TestHost_LoadInvalidModuleFails(t *testing.T) {
	h := newHost(t)
	if err := h.LoadModule(context.Background(), "garbage", []byte("not wasm")); err == nil {
		t.Fatal("expected invalid module to be rejected")
	}
	if h.HasModule("garbage") {
		t.Fatal("rejected module must not be registered")
	}
}

func TestHost_InvokeUnknownModuleReturnsModuleNotFound(t *testing.T) {
	h := newHost(t)
	tl := h.Tool("missing.tool", "", "does-not-exist", false)
	_, err := tl.Execute(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected error invoking an unloaded module")
	}
	fault, ok := err.(*wasmtool.ToolFault)
	if !ok {
		t.Fatalf("expected *ToolFault, got %T", err)
	}
	if fault.Reason != wasmtool.FaultModuleNotFound {
		t.Fatalf("reason = %q, want %q", fault.Reason, wasmtool.FaultModuleNotFound)
	}
}

func TestHost_InvokeModuleMissingExportsRefuses(t *testing.T) {
	h := newHost(t)
	if err := h.LoadModule(context.Background(), "empty", minimalWASM); err != nil {
		t.Fatalf("load: %v", err)
	}
	tl := h.Tool("empty.tool", "", "empty", false)
	_, err := tl.Execute(context.Background(), map[string]any{"x": 1})
	if err == nil {
		t.Fatal("expected error invoking a module without alloc/invoke exports")
	}
	fault, ok := err.(*wasmtool.ToolFault)
	if !ok {
		t.Fatalf("expected *ToolFault, got %T", err)
	}
	if fault.Reason != wasmtool.FaultNoExport {
		t.Fatalf("reason = %q, want %q", fault.Reason, wasmtool.FaultNoExport)
	}
}

func TestHost_ReloadingSameNameReplacesModule(t *testing.T) {
	h := newHost(t)
	if err := h.LoadModule(context.Background(), "dup", minimalWASM); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := h.LoadModule(context.Background(), "dup", minimalWASM); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !h.HasModule("dup") {
		t.Fatal("expected module to remain registered after reload")
	}
}
