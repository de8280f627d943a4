// Package audit records every intent MOTOR executes to a durable trail
// keyed by correlation id. Grounded on the teacher's internal/audit/audit.go
// (the JSONL entry shape, the redact-before-persist rule, the deny
// counter), but redesigned as an explicitly constructed *Trail instead of
// the teacher's package-scope var/mutex/file globals: this runtime's
// heartbeat ticks must never depend on module-scope mutable state that
// outlives a single construction, so each run owns one *Trail instance
// instead of reaching through a package-level singleton.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/pulseagent/internal/redact"
)

// Entry is a single recorded decision.
type Entry struct {
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id"`
	Decision      string `json:"decision"`
	Capability    string `json:"capability"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policy_version"`
	Subject       string `json:"subject,omitempty"`
}

// Trail appends audit entries to a JSONL file and, optionally, a
// database table. A Trail is owned by whatever constructed it (normally
// the entrypoint's dependency graph) and passed down explicitly; it is
// never reached through a package-level variable.
type Trail struct {
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
}

// Open creates a Trail writing to <dataPath>/logs/audit.jsonl, creating
// the directory if needed.
func Open(dataPath string) (*Trail, error) {
	logDir := filepath.Join(dataPath, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Trail{file: f}, nil
}

// SetDB attaches a database for audit_log table writes, in addition to
// the JSONL file. Safe to call at any point in the Trail's lifetime.
func (t *Trail) SetDB(db *sql.DB) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db = db
}

// Close releases the underlying file handle. Safe to call once.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// DenyCount returns the total number of deny decisions recorded since
// this Trail was opened.
func (t *Trail) DenyCount() int64 {
	return t.denyCount.Load()
}

// Record appends one decision to the trail, keyed by correlationID.
// Reason and subject are redacted before persistence.
func (t *Trail) Record(ctx context.Context, correlationID, decision, capability, reason, policyVersion, subject string) {
	if decision == "deny" {
		t.denyCount.Add(1)
	}

	reason = redact.String(reason)
	subject = redact.String(subject)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		ev := Entry{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			CorrelationID: correlationID,
			Decision:      decision,
			Capability:    capability,
			Reason:        reason,
			PolicyVersion: policyVersion,
			Subject:       subject,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = t.file.Write(append(b, '\n'))
		}
	}

	if t.db != nil {
		_, _ = t.db.ExecContext(ctx, `
			INSERT INTO audit_log (correlation_id, subject, action, decision, reason, policy_version)
			VALUES (?, ?, ?, ?, ?, ?);
		`, correlationID, subject, capability, decision, reason, policyVersion)
	}
}
