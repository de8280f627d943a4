// Package telemetry builds the runtime's structured logger: one JSON log
// file under $DATA_PATH/logs, mirrored to stdout unless quiet, with
// key/value redaction applied before any attribute reaches the sink.
// Grounded on the teacher's internal/telemetry/logging.go (NewLogger,
// ReplaceAttr-based redaction, parseLevel), kept essentially unchanged
// since the logging shape spec.md's ambient stack asks for is the same
// one the teacher already built.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/pulseagent/internal/redact"
)

// NewLogger builds a JSON slog.Logger writing to
// dataPath/logs/runtime.jsonl, plus stdout unless quiet. The returned
// io.Closer must be closed at shutdown to flush and release the file.
func NewLogger(dataPath, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(dataPath, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "runtime.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	lvl := parseLevel(level)
	var w io.Writer
	if quiet {
		w = file
	} else {
		w = io.MultiWriter(os.Stdout, file)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString {
				if redacted := redact.String(a.Value.String()); redacted != a.Value.String() {
					return slog.String(a.Key, redacted)
				}
			}
			return a
		},
	})
	logger := slog.New(handler).With("component", "pulseagent")
	return logger, file, nil
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
