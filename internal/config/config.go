// Package config loads the runtime's single versioned YAML configuration
// file, applies environment variable overrides, and fills in defaults.
// Grounded on the teacher's internal/config/config.go (defaults → read
// YAML → env overrides → normalize → validate sequencing), generalized
// from the teacher's multi-agent/multi-provider config surface down to
// the single-agent runtime spec.md §6 describes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current config schema version this build writes
// and expects. A file declaring a newer version is accepted with a
// warning (spec.md §6: "schema-version check, warn-not-fail on newer
// versions"); an older version is upgraded in place by normalize.
const SchemaVersion = 1

// HeartbeatConfig tunes the dynamic tick scheduler (C13).
type HeartbeatConfig struct {
	BaseIntervalSeconds int `yaml:"base_interval_seconds"`
}

// LLMConfig names the fast/smart model pair COGNITION routes between.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	FastModel  string `yaml:"fast_model"`
	SmartModel string `yaml:"smart_model"`
}

// TelegramConfig configures the reference Channel adapter.
type TelegramConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Token         string  `yaml:"token"`
	PrimaryChatID string  `yaml:"primary_chat_id"`
	AllowedIDs    []int64 `yaml:"allowed_ids"`
}

// ChannelsConfig groups every Channel adapter's settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// StorageConfig configures the reference Storage adapter.
type StorageConfig struct {
	Driver string `yaml:"driver"` // defaults to "sqlite"; cmd/pulseagent does not read it and always opens the SQLite store
	Path   string `yaml:"path"`
}

// Config is the complete runtime configuration, loaded once at boot.
type Config struct {
	SchemaVersion int `yaml:"schema_version"`

	DataPath string `yaml:"-"` // derived from DATA_PATH, not persisted

	LogLevel string `yaml:"log_level"`
	Quiet    bool   `yaml:"quiet"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	LLM       LLMConfig       `yaml:"llm"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Storage   StorageConfig   `yaml:"storage"`

	OTLPEndpoint string `yaml:"-"` // OTEL_EXPORTER_OTLP_ENDPOINT, env-only

	// OpenRouterAPIKey mirrors OPENROUTER_API_KEY; env-only, never persisted
	// to the config file so a checked-in config.yaml can't leak it. The
	// llmport adapter reads its provider key from the environment itself,
	// not from this field.
	OpenRouterAPIKey string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		SchemaVersion: SchemaVersion,
		LogLevel:      "info",
		Heartbeat:     HeartbeatConfig{BaseIntervalSeconds: 5},
		LLM: LLMConfig{
			Provider:   "openrouter",
			FastModel:  "anthropic/claude-haiku-4-5",
			SmartModel: "anthropic/claude-sonnet-4-5",
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "state.db"},
	}
}

// DataPath resolves the runtime's data directory: $DATA_PATH if set, else
// ~/.pulseagent (teacher precedent: config.HomeDir's GOCLAW_HOME override
// falling back to a dotdir under the user's home).
func DataPath() string {
	if override := os.Getenv("DATA_PATH"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".pulseagent")
}

// Load reads config.yaml from DataPath (if present), applies environment
// overrides, and normalizes defaults. A missing config.yaml is not an
// error — the runtime boots on defaults plus environment variables alone.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.DataPath = DataPath()

	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return cfg, fmt.Errorf("create data path: %w", err)
	}

	configPath := filepath.Join(cfg.DataPath, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
		if cfg.SchemaVersion > SchemaVersion {
			fmt.Fprintf(os.Stderr, "warning: config.yaml schema_version %d is newer than supported version %d; loading anyway\n", cfg.SchemaVersion, SchemaVersion)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Heartbeat.BaseIntervalSeconds <= 0 {
		cfg.Heartbeat.BaseIntervalSeconds = 5
	}
	if cfg.LLM.FastModel == "" {
		cfg.LLM.FastModel = defaultConfig().LLM.FastModel
	}
	if cfg.LLM.SmartModel == "" {
		cfg.LLM.SmartModel = defaultConfig().LLM.SmartModel
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "state.db"
	}
	if !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(cfg.DataPath, cfg.Storage.Path)
	}
}

// applyEnvOverrides maps spec.md §6's environment variable surface onto
// Config, mirroring the teacher's applyEnvOverrides precedence (env wins
// over file, file wins over default).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LLM_FAST_MODEL"); v != "" {
		cfg.LLM.FastModel = v
	}
	if v := os.Getenv("LLM_SMART_MODEL"); v != "" {
		cfg.LLM.SmartModel = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouterAPIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("PRIMARY_USER_CHAT_ID"); v != "" {
		cfg.Channels.Telegram.PrimaryChatID = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("PULSEAGENT_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Heartbeat.BaseIntervalSeconds = n
		}
	}
	if v := os.Getenv("PULSEAGENT_QUIET"); v != "" {
		cfg.Quiet = strings.EqualFold(v, "true") || v == "1"
	}
}
