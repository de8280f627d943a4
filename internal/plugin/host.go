// Package plugin implements the plugin host (spec component C14): loading,
// activating, and deactivating extension bundles that register neurons
// (C6), filters (C7), tools (C12), and schedules at boot. Grounded on the
// teacher's internal/mcp/manager.go (id-keyed connection registry, per-
// plugin lifecycle, policy-gated capability checks) and internal/skills
// /loader.go (manifest parsing, eligibility checks, collision detection by
// canonical id), generalized from "MCP servers" and "filesystem skills" to
// a single plugin lifecycle contract that can register any of C6/C7/C12.
//
// Per spec.md §9's redesign flag on dynamic plugin import at runtime,
// plugins are enumerated at build (Go values implementing Plugin,
// registered by the embedding binary) rather than dynamically loaded from
// arbitrary file URLs; internal/plugin/wasmtool supplies the one sanctioned
// narrow extension point (sandboxed WASM tool execution) for untrusted
// plugin-provided tool logic.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/basket/pulseagent/internal/filter"
	"github.com/basket/pulseagent/internal/neuron"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/tool"
)

// Manifest declares a plugin's identity, version, required primitives, and
// the components it provides. Grounded on the teacher's skill manifest
// (name/version/requires) and MCP ServerConfig (name/enabled) idioms,
// merged into one struct since this host's plugins can provide any
// component kind.
type Manifest struct {
	ID                 string
	Version            string
	RequiredPrimitives []string // subset of {"storage", "scheduler", "emitter", "logger", "timezone"}
	ProvidesNeurons    []string
	ProvidesFilters    []string
	ProvidesTools      []string
	ProvidesSchedules  []string
}

// Emitter lets an activated plugin push a signal onto the bus without
// holding a reference to the bus itself (scoped primitive, spec.md §4.12).
type Emitter func(signal.Signal)

// Primitives are the scoped capabilities supplied to a plugin at
// activation: namespaced storage, the scheduler handle, a signal emitter,
// a logger, and a timezone service (spec.md §4.12). A plugin that declares
// a RequiredPrimitives entry the host cannot supply is refused.
type Primitives struct {
	Storage   ports.Storage // namespaced to "plugin:<id>" by the host before being handed over
	Scheduler ports.SchedulerPrimitive
	Emit      Emitter
	Logger    *slog.Logger
	Location  *time.Location
}

// Plugin is the lifecycle contract every extension bundle implements.
type Plugin interface {
	Manifest() Manifest
	Activate(ctx context.Context, prims Primitives) error
	Deactivate(ctx context.Context) error
}

// HealthChecker is the optional capability segment for plugins that can
// report their own health (spec.md §9's capability-set redesign, same
// pattern as internal/ports.HealthReporter).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// hostMinVersion/hostMaxVersion bound the plugin API version this host
// accepts; a plugin declaring a version outside this range is refused at
// registration (spec.md §4.12 "unknown-version... plugins are refused").
const (
	hostMinVersion = "0.1.0"
	hostMaxVersion = "1.x"
)

var supportedPrimitives = map[string]bool{
	"storage": true, "scheduler": true, "emitter": true, "logger": true, "timezone": true,
}

type activated struct {
	plugin   Plugin
	manifest Manifest
}

// Host owns the registered plugin set and the shared registries plugins
// register components into.
type Host struct {
	mu      sync.Mutex
	active  map[string]*activated
	neurons *neuron.Registry
	filters *filter.Registry
	tools   *tool.Registry

	storage   ports.Storage
	scheduler ports.SchedulerPrimitive
	emit      Emitter
	logger    *slog.Logger
	location  *time.Location
}

// Config wires the host to the shared registries and the ambient
// primitives it scopes per plugin.
type Config struct {
	Neurons   *neuron.Registry
	Filters   *filter.Registry
	Tools     *tool.Registry
	Storage   ports.Storage
	Scheduler ports.SchedulerPrimitive
	Emit      Emitter
	Logger    *slog.Logger
	Location  *time.Location
}

// New builds a Host.
func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Host{
		active:    make(map[string]*activated),
		neurons:   cfg.Neurons,
		filters:   cfg.Filters,
		tools:     cfg.Tools,
		storage:   cfg.Storage,
		scheduler: cfg.Scheduler,
		emit:      cfg.Emit,
		logger:    cfg.Logger,
		location:  cfg.Location,
	}
}

// namespacedStorage wraps a Storage port so a plugin can only see its own
// "plugin:<id>/" namespace, regardless of the namespace it passes in
// (spec.md §5 "plugin storage access is serialized per plugin").
type namespacedStorage struct {
	inner ports.Storage
	mu    sync.Mutex
	ns    string
}

func (n *namespacedStorage) scope(_ string) string { return n.ns }

func (n *namespacedStorage) Get(ctx context.Context, _, key string) ([]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inner.Get(ctx, n.ns, key)
}
func (n *namespacedStorage) Set(ctx context.Context, _, key string, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inner.Set(ctx, n.ns, key, value)
}
func (n *namespacedStorage) Delete(ctx context.Context, _, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inner.Delete(ctx, n.ns, key)
}
func (n *namespacedStorage) Keys(ctx context.Context, _, prefix string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inner.Keys(ctx, n.ns, prefix)
}
func (n *namespacedStorage) Query(ctx context.Context, _, prefix string, filters []ports.QueryFilter, limit, offset int, orderBy string) ([]ports.StorageRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inner.Query(ctx, n.ns, prefix, filters, limit, offset, orderBy)
}

func versionSupported(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	// Minimal semver-major gate: refuse major version 0 pre-hostMinVersion
	// and anything 2.x+; a single supported major line matches spec.md
	// §4.12's "unknown-version... plugins are refused" without pulling in
	// a full semver comparator for a same-binary plugin set.
	if strings.HasPrefix(v, "0.0.") {
		return false
	}
	return strings.HasPrefix(v, "0.") || strings.HasPrefix(v, "1.")
}

// Register validates a plugin's manifest, scopes its primitives, activates
// it, and wires its declared components into the shared registries.
// Mis-bundled or unsupported-version plugins are refused without side
// effects (spec.md §4.12).
func (h *Host) Register(ctx context.Context, p Plugin, components ...any) error {
	m := p.Manifest()
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("plugin: manifest missing id")
	}
	if !versionSupported(m.Version) {
		return fmt.Errorf("plugin %q: unsupported version %q (host accepts %s-%s)", m.ID, m.Version, hostMinVersion, hostMaxVersion)
	}
	for _, req := range m.RequiredPrimitives {
		if !supportedPrimitives[req] {
			return fmt.Errorf("plugin %q: requires unknown primitive %q", m.ID, req)
		}
		if req == "storage" && h.storage == nil {
			return fmt.Errorf("plugin %q: requires storage primitive, none configured", m.ID)
		}
		if req == "scheduler" && h.scheduler == nil {
			return fmt.Errorf("plugin %q: requires scheduler primitive, none configured", m.ID)
		}
		if req == "emitter" && h.emit == nil {
			return fmt.Errorf("plugin %q: requires emitter primitive, none configured", m.ID)
		}
	}

	h.mu.Lock()
	if _, exists := h.active[m.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q: already registered", m.ID)
	}
	h.mu.Unlock()

	prims := Primitives{Logger: h.logger.With("plugin", m.ID), Location: h.location, Emit: h.emit, Scheduler: h.scheduler}
	if h.storage != nil {
		prims.Storage = &namespacedStorage{inner: h.storage, ns: "plugin:" + m.ID}
	}

	if err := p.Activate(ctx, prims); err != nil {
		return fmt.Errorf("plugin %q: activate: %w", m.ID, err)
	}

	for _, c := range components {
		h.wireComponent(m.ID, c)
	}

	h.mu.Lock()
	h.active[m.ID] = &activated{plugin: p, manifest: m}
	h.mu.Unlock()
	h.logger.Info("plugin activated", "id", m.ID, "version", m.Version)
	return nil
}

// wireComponent registers one neuron/filter/tool a plugin supplied at
// Register time. Unrecognized component types are ignored with a warning
// rather than failing activation (spec.md §7: one faulty registration must
// not abort startup).
func (h *Host) wireComponent(pluginID string, c any) {
	switch v := c.(type) {
	case neuronRegistration:
		if h.neurons != nil {
			h.neurons.Register(v.Neuron, v.Priority)
		}
	case filterRegistration:
		if h.filters != nil {
			h.filters.Register(v.ID, v.Priority, v.Handles, v.Filter)
		}
	case tool.Tool:
		if h.tools != nil {
			if err := h.tools.Register(v); err != nil {
				h.logger.Warn("plugin: tool registration rejected", "plugin", pluginID, "tool", v.ID, "error", err)
			}
		}
	default:
		h.logger.Warn("plugin: unrecognized component type, ignoring", "plugin", pluginID, "type", fmt.Sprintf("%T", c))
	}
}

// NeuronRegistration wraps a neuron.Neuron with its scheduling priority
// for passing to Register's variadic components list.
type neuronRegistration struct {
	Neuron   *neuron.Neuron
	Priority int
}

// FilterRegistration wraps a filter.Filter with the metadata
// filter.Registry.Register needs.
type filterRegistration struct {
	ID       string
	Priority int
	Handles  []signal.Type
	Filter   filter.Filter
}

// NeuronComponent builds the value Register expects for a neuron.
func NeuronComponent(n *neuron.Neuron, priority int) any {
	return neuronRegistration{Neuron: n, Priority: priority}
}

// FilterComponent builds the value Register expects for a filter.
func FilterComponent(id string, priority int, handles []signal.Type, fn filter.Filter) any {
	return filterRegistration{ID: id, Priority: priority, Handles: handles, Filter: fn}
}

// Deactivate calls a registered plugin's Deactivate hook and removes it
// from the active set, unregistering the neurons, filters and tools its
// manifest declares (ProvidesNeurons, ProvidesFilters, ProvidesTools).
// Components passed to Register under ids the manifest does not declare
// stay registered, since the neuron/filter/tool registries don't track
// plugin provenance.
func (h *Host) Deactivate(ctx context.Context, id string) error {
	h.mu.Lock()
	a, ok := h.active[id]
	delete(h.active, id)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q: not active", id)
	}
	for _, nID := range a.manifest.ProvidesNeurons {
		if h.neurons != nil {
			h.neurons.Unregister(nID)
		}
	}
	for _, fID := range a.manifest.ProvidesFilters {
		if h.filters != nil {
			h.filters.Unregister(fID)
		}
	}
	for _, tID := range a.manifest.ProvidesTools {
		if h.tools != nil {
			h.tools.Unregister(tID)
		}
	}
	return a.plugin.Deactivate(ctx)
}

// HealthCheck runs the optional HealthChecker capability for every active
// plugin that implements it, returning a per-plugin error map (nil entries
// for healthy plugins are omitted).
func (h *Host) HealthCheck(ctx context.Context) map[string]error {
	h.mu.Lock()
	snapshot := make([]*activated, 0, len(h.active))
	for _, a := range h.active {
		snapshot = append(snapshot, a)
	}
	h.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].manifest.ID < snapshot[j].manifest.ID })

	out := make(map[string]error)
	for _, a := range snapshot {
		hc, ok := a.plugin.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			out[a.manifest.ID] = err
		}
	}
	return out
}

// Active lists the ids of every currently-activated plugin.
func (h *Host) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.active))
	for id := range h.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
