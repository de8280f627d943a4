// Package ports declares the external boundaries the core depends on but
// does not implement (spec.md §6): Channel, LLM, Storage, and the
// scheduler primitive the core exposes to plugins. Adapters for these
// live in their own packages (internal/channels/telegram, internal/llmport,
// internal/storage/sqlite, internal/cron) and are never imported by the
// pipeline packages directly — only through these interfaces. Grounded on
// the teacher's internal/channels and internal/gateway adapter-behind-an-
// interface idiom, generalized from "one hardcoded provider" to a named
// port contract.
package ports

import (
	"context"
	"time"
)

// MessageOptions mirrors signal.MessageOptions; duplicated here (rather
// than imported) so this package has no dependency on internal/signal,
// keeping the port contract importable by adapters without pulling in
// pipeline types.
type MessageOptions struct {
	ReplyTo            string
	ParseMode          string
	DisableLinkPreview bool
	Silent             bool
}

// SendResult is a Channel's outcome for one send.
type SendResult struct {
	Success   bool
	MessageID string
}

// Health is an optional capability a Channel may report.
type Health struct {
	Healthy bool
	Detail  string
}

// Channel is the outbound/inbound boundary to a messaging surface (e.g.
// Telegram). Start/Stop/GetHealth are optional capabilities, declared by the
// StartStopper and HealthReporter segments below; adapters that don't
// support them do not implement those interfaces.
type Channel interface {
	Name() string
	IsAvailable() bool
	SendMessage(ctx context.Context, target, text string, opts MessageOptions) (SendResult, error)
}

// StartStopper is the optional capability segment for channels with a
// managed lifecycle (spec.md §9's "dynamic dispatch via optional methods"
// redesign flag: split into required and optional interface segments
// rather than probing for method presence at runtime).
type StartStopper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthReporter is the optional capability segment for channels that can
// report their own health.
type HealthReporter interface {
	GetHealth(ctx context.Context) (Health, error)
}

// InboundHandler is how a Channel adapter hands normalized inbound
// messages back to the core; the core registers one handler per channel
// at boot.
type InboundHandler func(chatID, text, userID, messageID string)

// Role selects which reasoning tier an LLM call uses.
type Role string

const (
	RoleFast  Role = "fast"
	RoleSmart Role = "smart"
)

// ToolSpec describes a tool the LLM may call, in provider-agnostic form.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolCall is a single tool invocation the LLM requested.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// CompletionRequest is the provider-agnostic input to LLM.Complete.
type CompletionRequest struct {
	Messages       []Message
	Role           Role
	MaxTokens      int
	Temperature    float64
	ResponseFormat string
	Tools          []ToolSpec
	ToolChoice     string
}

// Message is one turn in a completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
}

// Usage reports token accounting for a completion, when the provider
// supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResult is the provider-agnostic output of LLM.Complete.
type CompletionResult struct {
	Content      string
	Model        string
	Usage        *Usage
	FinishReason string
	ToolCalls    []ToolCall
}

// LLM is the reasoning-port boundary. Implementations must fail fast with
// a provider-tagged retryable flag rather than hanging (spec.md §6).
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// QueryFilter narrows a Storage.Query call. Exact operator semantics are
// adapter-defined; the contract only requires prefix-scoped access.
type QueryFilter struct {
	Field string
	Op    string
	Value any
}

// Storage is the namespaced key/value boundary. Queries must be
// prefix-scoped; no full scans (spec.md §6).
type Storage interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace, prefix string) ([]string, error)
	Query(ctx context.Context, namespace, prefix string, filters []QueryFilter, limit, offset int, orderBy string) ([]StorageRecord, error)
}

// StorageRecord is one row returned by Storage.Query.
type StorageRecord struct {
	Key   string
	Value []byte
}

// Recurrence describes a SCHEDULE intent's repeat rule.
type Recurrence struct {
	Spec     string // e.g. a cron expression, or "daily"/"weekly"/"monthly"
	Timezone string
	// AnchorDay supports constraints like "first weekend after 10th";
	// adapters that don't need it leave it empty.
	AnchorDay string
}

// ScheduleRequest is the input to SchedulerPrimitive.Schedule.
type ScheduleRequest struct {
	FireAt     time.Time
	Recurrence *Recurrence
	Timezone   string
	Data       map[string]any
}

// ScheduleEntry describes a previously scheduled fire.
type ScheduleEntry struct {
	ID         string
	FireAt     time.Time
	Recurrence *Recurrence
	Data       map[string]any
}

// SchedulerPrimitive is the boundary the core exposes to plugins and to
// MOTOR's own SCHEDULE intent handling (spec.md §6). It is provided by
// core (internal/cron), not by an external adapter, but is still kept as
// an interface so COGNITION/MOTOR/plugins depend on the contract, not the
// concrete cron implementation.
type SchedulerPrimitive interface {
	Schedule(ctx context.Context, req ScheduleRequest) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	GetSchedules(ctx context.Context) ([]ScheduleEntry, error)
}
