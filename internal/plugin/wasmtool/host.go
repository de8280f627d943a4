// Package wasmtool is the one sanctioned extension point for untrusted
// plugin-provided tool logic (spec.md §9's redesign flag against dynamic
// plugin import: everything else is a build-time Go value, but tool
// bodies are the one place arbitrary third-party code plausibly needs to
// run, so they run sandboxed instead of in-process). Grounded on the
// teacher's internal/sandbox/wasm/host.go (wazero runtime config, memory
// limits, invoke timeout, host-function surface, fault classification),
// generalized from "skill random/run export with a KV-store fallback" to
// a generic args-in/result-out tool.Tool adapter.
package wasmtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/pulseerr"
	"github.com/basket/pulseagent/internal/tool"
)

// Fault reason codes, mirroring the teacher's Fault* constants.
const (
	FaultModuleNotFound   = "WASM_MODULE_NOT_FOUND"
	FaultTimeout          = "WASM_TIMEOUT"
	FaultMemoryExceeded   = "WASM_MEMORY_EXCEEDED"
	FaultNoExport         = "WASM_NO_EXPORT"
	FaultExecError        = "WASM_FAULT"
	FaultMemoryExhausted  = "WASM_HOST_MEMORY_EXHAUSTED"
)

// ToolFault is the structured error a sandboxed invocation returns.
type ToolFault struct {
	Reason string
	Module string
	Detail string
}

func (e *ToolFault) Error() string {
	return fmt.Sprintf("%s: module=%s: %s", e.Reason, e.Module, e.Detail)
}

// DefaultMemoryLimitPages is 160 pages = 10MB (each WASM page is 64KB).
const DefaultMemoryLimitPages = 160

// DefaultAggregateMemoryLimitPages bounds total memory across all loaded modules.
const DefaultAggregateMemoryLimitPages uint32 = 640

// DefaultInvokeTimeout is the wall-clock limit for a single tool invocation
// (spec.md §7's "a misbehaving tool must not stall the turn").
const DefaultInvokeTimeout = 10 * time.Second

// Config tunes the sandbox host.
type Config struct {
	Storage ports.Storage // optional, backs host.kv.set (namespace "wasmtool")
	Logger  *slog.Logger

	MemoryLimitPages          uint32
	AggregateMemoryLimitPages uint32
	InvokeTimeout             time.Duration
}

// Host owns the wazero runtime and the set of loaded WASM tool modules.
type Host struct {
	storage ports.Storage
	logger  *slog.Logger

	runtime       wazero.Runtime
	invokeTimeout time.Duration

	mu                   sync.Mutex
	modules              map[string]api.Module
	moduleMemoryPages    map[string]uint32
	aggregateMemoryLimit uint32
}

// New builds a Host, instantiating the host module ("host.log",
// "host.kv.set") every guest module can import.
func New(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	memPages := cfg.MemoryLimitPages
	if memPages == 0 {
		memPages = DefaultMemoryLimitPages
	}
	aggLimit := cfg.AggregateMemoryLimitPages
	if aggLimit == 0 {
		aggLimit = DefaultAggregateMemoryLimitPages
	}
	invokeTimeout := cfg.InvokeTimeout
	if invokeTimeout == 0 {
		invokeTimeout = DefaultInvokeTimeout
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memPages).
		WithCloseOnContextDone(true)

	h := &Host{
		storage:              cfg.Storage,
		logger:               cfg.Logger,
		runtime:              wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		invokeTimeout:        invokeTimeout,
		modules:              map[string]api.Module{},
		moduleMemoryPages:    map[string]uint32{},
		aggregateMemoryLimit: aggLimit,
	}

	builder := h.runtime.NewHostModuleBuilder("host")
	builder.NewFunctionBuilder().WithFunc(h.hostLog).Export("host.log")
	builder.NewFunctionBuilder().WithFunc(h.hostKVSet).Export("host.kv.set")
	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return h, nil
}

// Close tears down every loaded module and the runtime itself.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	for name, module := range h.modules {
		_ = module.Close(ctx)
		delete(h.modules, name)
		delete(h.moduleMemoryPages, name)
	}
	h.mu.Unlock()
	return h.runtime.Close(ctx)
}

// LoadModule compiles and instantiates wasmBytes under name, rejecting it
// if doing so would exceed the aggregate memory budget.
func (h *Host) LoadModule(ctx context.Context, name string, wasmBytes []byte) error {
	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("compile wasm module %s: %w", name, err)
	}

	var estimatedPages uint32
	for _, def := range compiled.ImportedMemories() {
		estimatedPages += def.Min()
	}
	for _, def := range compiled.ExportedMemories() {
		estimatedPages += def.Min()
	}
	if estimatedPages == 0 {
		estimatedPages = 1
	}

	h.mu.Lock()
	var currentAggregate uint32
	for n, pages := range h.moduleMemoryPages {
		if n != name {
			currentAggregate += pages
		}
	}
	if currentAggregate+estimatedPages > h.aggregateMemoryLimit {
		h.mu.Unlock()
		return &ToolFault{Reason: FaultMemoryExhausted, Module: name, Detail: fmt.Sprintf(
			"aggregate=%d pages, new=%d pages, limit=%d pages", currentAggregate, estimatedPages, h.aggregateMemoryLimit)}
	}
	if old, ok := h.modules[name]; ok {
		_ = old.Close(ctx)
		delete(h.modules, name)
		delete(h.moduleMemoryPages, name)
	}
	h.mu.Unlock()

	module, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return fmt.Errorf("instantiate wasm module %s: %w", name, err)
	}

	actualPages := estimatedPages
	func() {
		defer func() { recover() }()
		if mem := module.Memory(); mem != nil {
			if pages, ok := mem.Grow(0); ok {
				actualPages = pages
			}
		}
	}()
	if actualPages == 0 {
		actualPages = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules[name] = module
	h.moduleMemoryPages[name] = actualPages
	h.logger.Info("wasm tool module loaded", "module", name, "memory_pages", actualPages)
	return nil
}

// HasModule reports whether name has been loaded.
func (h *Host) HasModule(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.modules[name]
	return ok
}

// Tool builds a tool.Tool whose Execute runs moduleName's "invoke" export
// inside the sandbox, JSON-encoding args to guest memory via its "alloc"
// export and JSON-decoding the returned (ptr, len) pair as a tool.Result.
// A module that doesn't export alloc/invoke refuses invocation rather than
// guessing a calling convention (spec.md §7 fault isolation).
func (h *Host) Tool(id, description string, moduleName string, hasSideEffects bool) tool.Tool {
	return tool.Tool{
		ID:             id,
		Description:    description,
		HasSideEffects: hasSideEffects,
		Execute: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			return h.invoke(ctx, moduleName, args)
		},
	}
}

func (h *Host) invoke(ctx context.Context, moduleName string, args map[string]any) (tool.Result, error) {
	h.mu.Lock()
	module, ok := h.modules[moduleName]
	h.mu.Unlock()
	if !ok {
		return tool.Result{}, &ToolFault{Reason: FaultModuleNotFound, Module: moduleName, Detail: "module not loaded"}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, h.invokeTimeout)
	defer cancel()

	alloc := module.ExportedFunction("alloc")
	invoke := module.ExportedFunction("invoke")
	if alloc == nil || invoke == nil {
		return tool.Result{}, &ToolFault{Reason: FaultNoExport, Module: moduleName, Detail: "module must export alloc and invoke"}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return tool.Result{}, pulseerr.Wrap(pulseerr.KindMalformedSignal, false, "encode tool args", err)
	}

	allocResults, err := alloc.Call(invokeCtx, uint64(len(argsJSON)))
	if err != nil {
		return tool.Result{}, h.classifyFault(moduleName, "alloc", err)
	}
	argsPtr := uint32(allocResults[0])
	if !module.Memory().Write(argsPtr, argsJSON) {
		return tool.Result{}, &ToolFault{Reason: FaultExecError, Module: moduleName, Detail: "failed to write args to guest memory"}
	}

	results, err := invoke.Call(invokeCtx, uint64(argsPtr), uint64(len(argsJSON)))
	if err != nil {
		return tool.Result{}, h.classifyFault(moduleName, "invoke", err)
	}
	if len(results) < 2 {
		return tool.Result{}, &ToolFault{Reason: FaultNoExport, Module: moduleName, Detail: "invoke must return (ptr, len)"}
	}
	outPtr, outLen := uint32(results[0]), uint32(results[1])
	raw, ok := module.Memory().Read(outPtr, outLen)
	if !ok {
		return tool.Result{}, &ToolFault{Reason: FaultExecError, Module: moduleName, Detail: "failed to read result from guest memory"}
	}

	var res tool.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return tool.Result{}, pulseerr.Wrap(pulseerr.KindMalformedSignal, false, "decode tool result", err)
	}
	return res, nil
}

func (h *Host) classifyFault(moduleName, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ToolFault{Reason: FaultTimeout, Module: moduleName, Detail: step}
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &ToolFault{Reason: FaultTimeout, Module: moduleName, Detail: err.Error()}
	}
	msg := err.Error()
	if strings.Contains(msg, "memory") {
		return &ToolFault{Reason: FaultMemoryExceeded, Module: moduleName, Detail: msg}
	}
	return &ToolFault{Reason: FaultExecError, Module: moduleName, Detail: msg}
}

func readWASMString(module api.Module, ptr, length uint32) (string, bool) {
	data, ok := module.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

func (h *Host) hostLog(ctx context.Context, module api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
	level, ok := readWASMString(module, levelPtr, levelLen)
	if !ok {
		level = "info"
	}
	msg, ok := readWASMString(module, msgPtr, msgLen)
	if !ok {
		h.logger.Warn("host.log: failed to read message from wasm memory")
		return
	}
	switch strings.ToLower(level) {
	case "error":
		h.logger.Error("wasm guest log", "msg", msg)
	case "warn":
		h.logger.Warn("wasm guest log", "msg", msg)
	case "debug":
		h.logger.Debug("wasm guest log", "msg", msg)
	default:
		h.logger.Info("wasm guest log", "msg", msg)
	}
}

func (h *Host) hostKVSet(ctx context.Context, module api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
	if h.storage == nil {
		h.logger.Warn("host.kv.set: no storage configured, ignoring")
		return 0
	}
	key, ok := readWASMString(module, keyPtr, keyLen)
	if !ok {
		h.logger.Error("host.kv.set: failed to read key from wasm memory")
		return 0
	}
	val, ok := readWASMString(module, valPtr, valLen)
	if !ok {
		h.logger.Error("host.kv.set: failed to read value from wasm memory")
		return 0
	}
	if err := h.storage.Set(ctx, "wasmtool", key, []byte(val)); err != nil {
		h.logger.Error("host.kv.set failed", "key", key, "error", err)
		return 0
	}
	return 1
}
