// Package tool implements the registered-tool contract COGNITION's tool
// loop and MOTOR's CALL_TOOL intent both depend on. Grounded on the same
// id-keyed registry idiom as internal/neuron and internal/filter
// (ultimately the teacher's internal/agent/registry.go), specialized to
// request/response execution rather than sensing or transforming.
package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Result is a tool's structured outcome. EscalateToSmart marks the current
// COGNITION turn's metrics as escalated; the turn does not switch to the
// smart path, and no later tick reads the flag.
type Result struct {
	Content         string
	Data            map[string]any
	EscalateToSmart bool
}

// Tool is a single registered capability. ArgsSchema, when set, is a
// JSON Schema document Invoke compiles once and validates every call's
// args against before Execute runs — a plugin-provided tool's argument
// contract enforced at the registry boundary rather than inside each
// tool body.
type Tool struct {
	ID              string
	Description     string
	HasSideEffects  bool
	ArgsSchema      string
	Execute         func(ctx context.Context, args map[string]any) (Result, error)
}

// Registry is the keyed set of tools available to a cognition turn.
type Registry struct {
	mu      sync.Mutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register adds or replaces a tool. A non-empty ArgsSchema is compiled
// eagerly so a malformed schema is caught at registration, not on the
// tool's first invocation.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, t.ID)
	if strings.TrimSpace(t.ArgsSchema) != "" {
		schema, err := compileArgsSchema(t.ID, t.ArgsSchema)
		if err != nil {
			return err
		}
		r.schemas[t.ID] = schema
	}
	r.tools[t.ID] = t
	return nil
}

func compileArgsSchema(toolID, rawSchema string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rawSchema))
	if err != nil {
		return nil, fmt.Errorf("tool %q: parse args schema: %w", toolID, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://tool/" + toolID + "/args.schema.json"
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("tool %q: add args schema resource: %w", toolID, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile args schema: %w", toolID, err)
	}
	return schema, nil
}

// Unregister removes a tool by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
	delete(r.schemas, id)
}

func (r *Registry) schemaFor(id string) *jsonschema.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schemas[id]
}

// Get returns the tool registered under id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[id]
	return t, ok
}

// Invoke runs the named tool, recovering from panics so a broken tool
// cannot abort a cognition turn (spec.md §7 fault isolation). Args are
// validated against the tool's compiled ArgsSchema, if any, before
// Execute runs.
func (r *Registry) Invoke(ctx context.Context, id string, args map[string]any) (res Result, err error) {
	t, ok := r.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("tool %q not registered", id)
	}
	if schema := r.schemaFor(id); schema != nil {
		if verr := schema.Validate(argsToAny(args)); verr != nil {
			return Result{}, fmt.Errorf("tool %q: args failed schema validation: %w", id, verr)
		}
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %q panicked: %v", id, p)
		}
	}()
	return t.Execute(ctx, args)
}

// argsToAny converts a nil args map into the empty-object shape
// jsonschema.Schema.Validate expects rather than a nil interface, which
// the validator would otherwise reject as "not an object" for schemas
// that require one.
func argsToAny(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
