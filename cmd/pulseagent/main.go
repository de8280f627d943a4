// Command pulseagent is the runtime's single entrypoint: load config, wire
// every port adapter and pipeline stage, then drive the heartbeat until
// interrupted. Grounded on the teacher's cmd/goclaw/main.go (the
// config→audit→logger→store→policy wiring sequence and its
// fatalStartup-on-init-failure discipline), trimmed to the single
// no-subcommand daemon surface this runtime exposes: no TUI, no
// daemon/skill/status/pull/doctor subcommands, no genesis wizard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/pulseagent/internal/ack"
	"github.com/basket/pulseagent/internal/audit"
	"github.com/basket/pulseagent/internal/bus"
	"github.com/basket/pulseagent/internal/channels/telegram"
	"github.com/basket/pulseagent/internal/config"
	"github.com/basket/pulseagent/internal/cron"
	"github.com/basket/pulseagent/internal/detect"
	"github.com/basket/pulseagent/internal/filter"
	"github.com/basket/pulseagent/internal/heartbeat"
	"github.com/basket/pulseagent/internal/llmport"
	"github.com/basket/pulseagent/internal/neuron"
	"github.com/basket/pulseagent/internal/otelmetrics"
	"github.com/basket/pulseagent/internal/pipeline/aggregation"
	"github.com/basket/pulseagent/internal/pipeline/autonomic"
	"github.com/basket/pulseagent/internal/pipeline/cognition"
	"github.com/basket/pulseagent/internal/pipeline/motor"
	"github.com/basket/pulseagent/internal/plugin"
	"github.com/basket/pulseagent/internal/plugin/wasmtool"
	"github.com/basket/pulseagent/internal/policy"
	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/safety"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
	"github.com/basket/pulseagent/internal/storage/sqlite"
	"github.com/basket/pulseagent/internal/telemetry"
	"github.com/basket/pulseagent/internal/tool"
)

const minConfidenceFilterDefault = 0.15

func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.DataPath, cfg.LogLevel, cfg.Quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "data_path", cfg.DataPath)

	trail, err := audit.Open(cfg.DataPath)
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer func() { _ = trail.Close() }()

	otelProvider, err := otelmetrics.Init(ctx, otelmetrics.Config{
		Enabled:      cfg.OTLPEndpoint != "",
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  "pulseagent",
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	store, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "storage_opened", "path", cfg.Storage.Path)

	pol := loadPolicy(logger, cfg.DataPath)
	logger.Info("startup phase", "phase", "policy_loaded", "policy_version", pol.PolicyVersion())
	if err := policy.WatchFile(ctx, filepath.Join(cfg.DataPath, "policy.yaml"), logger, pol); err != nil {
		logger.Warn("policy hot-reload disabled, file watch failed", "error", err)
	}

	eventBus := bus.New(logger)

	channels := map[string]ports.Channel{}
	if cfg.Channels.Telegram.Enabled {
		tgChannel := telegram.New(telegram.Config{
			Token:         cfg.Channels.Telegram.Token,
			AllowedIDs:    cfg.Channels.Telegram.AllowedIDs,
			PrimaryChatID: cfg.Channels.Telegram.PrimaryChatID,
		}, inboundHandler(eventBus, logger), logger)
		channels[tgChannel.Name()] = tgChannel
	}

	// APIKey is left empty here: llmport resolves each role's key from the
	// provider-specific environment variable (ANTHROPIC_API_KEY,
	// OPENROUTER_API_KEY, ...) rather than from a single config field, so
	// a provider switch doesn't silently reuse the wrong key.
	llm := llmport.New(ctx, llmport.Config{
		Fast:  llmport.RoleConfig{Provider: cfg.LLM.Provider, Model: cfg.LLM.FastModel},
		Smart: llmport.RoleConfig{Provider: cfg.LLM.Provider, Model: cfg.LLM.SmartModel},
	})

	neurons := neuron.NewRegistry()
	neuron.RegisterBuiltins(neurons)

	filters := filter.NewRegistry()
	filter.RegisterBuiltins(filters, minConfidenceFilterDefault)

	toolRegistry := tool.NewRegistry()

	wasmHost, err := wasmtool.New(ctx, wasmtool.Config{Storage: store, Logger: logger})
	if err != nil {
		fatalStartup(logger, "E_WASM_HOST_INIT", err)
	}
	defer wasmHost.Close(ctx)
	_ = wasmHost // the sandboxed extension point for plugin-provided tools; a plugin's Activate loads its own modules and registers them with toolRegistry via wasmHost.Tool

	scheduler := cron.New(cron.Config{
		Storage: store,
		Logger:  logger,
		OnFire: func(id string, data map[string]any, firedAt time.Time) {
			eventBus.Push(signal.New(signal.TypePluginEvent, "cron", signal.PriorityNormal, firedAt, id,
				signal.NewMetrics(1, 1), signal.PluginEventPayload{PluginID: "cron", Name: id, Data: data}))
		},
	})

	acks := ack.NewRegistry(24*time.Hour, 0)

	st := state.New(state.DefaultTickBounds())
	energy := state.NewEnergyModel(state.DefaultEnergyConfig())

	autonomicStage := autonomic.New(neurons, filters)
	aggregationStage := aggregation.New(
		detect.NewDetector(detect.DefaultChangeConfig()),
		detect.NewPatternDetector(detect.DefaultPatternConfig()),
		acks,
	)
	cognitionStage := cognition.New(cognition.DefaultConfig(), llm, toolRegistry)
	cognitionStage.SetPolicy(pol)

	motorStage := motor.New(channels, scheduler, acks, toolRegistry, motor.DefaultRetryConfig(), safety.Sanitizer())
	motorStage.SetAudit(trail)
	motorStage.SetPolicy(pol)

	pluginHost := plugin.New(plugin.Config{
		Neurons:   neurons,
		Filters:   filters,
		Tools:     toolRegistry,
		Storage:   store,
		Scheduler: scheduler,
		Emit:      func(s signal.Signal) { eventBus.Push(s) },
		Logger:    logger,
	})
	_ = pluginHost // registered plugins, if any, attach here at boot; none are built in yet

	for name, ch := range channels {
		startChannel(ctx, name, ch, logger)
	}
	scheduler.Start(ctx)

	heartbeatCfg := heartbeat.DefaultConfig()
	heartbeatCfg.Base = time.Duration(cfg.Heartbeat.BaseIntervalSeconds) * time.Second
	runner := heartbeat.New(heartbeatCfg,
		logger, eventBus, st, energy, autonomicStage, aggregationStage, cognitionStage, motorStage, acks)

	logger.Info("startup phase", "phase", "heartbeat_starting")
	runner.Run(ctx)
	logger.Info("pulseagent stopped")
}

// loadPolicy reads <dataPath>/policy.yaml if present, else falls back to
// policy.Default(), matching config.Load's own file-optional precedence.
func loadPolicy(logger *slog.Logger, dataPath string) *policy.LivePolicy {
	p := policy.Default()
	data, err := os.ReadFile(filepath.Join(dataPath, "policy.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("policy.yaml read failed, using defaults", "error", err)
		}
		return policy.NewLivePolicy(p)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		logger.Warn("policy.yaml parse failed, using defaults", "error", err)
		return policy.NewLivePolicy(policy.Default())
	}
	return policy.NewLivePolicy(p)
}

// inboundHandler adapts a Channel's raw callback into a TypeUserMessage
// signal pushed onto the bus, the glue AUTONOMIC's own neurons don't own
// since inbound ingestion is per-channel, not per-tick.
func inboundHandler(b *bus.Bus, logger *slog.Logger) ports.InboundHandler {
	return func(chatID, text, userID, messageID string) {
		sig := signal.New(signal.TypeUserMessage, "channel.inbound", signal.PriorityHigh, time.Now(), messageID,
			signal.NewMetrics(1, 1),
			signal.UserMessagePayload{ChatID: chatID, Text: text, UserID: userID, MessageID: messageID})
		if !b.Push(sig) {
			logger.Warn("inbound user message dropped, bus at capacity", "chat_id", chatID)
		}
	}
}

func startChannel(ctx context.Context, name string, ch ports.Channel, logger *slog.Logger) {
	starter, ok := ch.(ports.StartStopper)
	if !ok {
		return
	}
	go func() {
		if err := starter.Start(ctx); err != nil {
			logger.Error("channel start failed", "channel", name, "error", err)
		}
	}()
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":%q,"level":"ERROR","component":"pulseagent","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}
