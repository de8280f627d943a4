package policy

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WatchFile watches path for writes and reloads live with the parsed
// Policy on every change, so an operator can tighten or loosen gating
// (confidence floor, side-effect kill switch, capability allowlist)
// without a process restart. Grounded on the teacher's
// internal/config/watcher.go (fsnotify.Watcher wrapping a fixed file
// list, Write/Create/Rename filtering), narrowed to the one file this
// runtime hot-reloads. A malformed or unreadable file on reload logs a
// warning and leaves the live policy unchanged rather than zeroing it
// out from under a running turn.
func WatchFile(ctx context.Context, path string, logger *slog.Logger, live *LivePolicy) error {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reload(path, logger, live)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}

func reload(path string, logger *slog.Logger, live *LivePolicy) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("policy reload: read failed, keeping current policy", "error", err)
		return
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		logger.Warn("policy reload: parse failed, keeping current policy", "error", err)
		return
	}
	live.Reload(p)
	logger.Info("policy reloaded", "policy_version", p.PolicyVersion())
}
