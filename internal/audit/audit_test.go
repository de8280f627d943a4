package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/pulseagent/internal/audit"
)

func TestOpen_CreatesLogDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	trail, err := audit.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer trail.Close()

	if _, err := os.Stat(filepath.Join(dir, "logs", "audit.jsonl")); err != nil {
		t.Fatalf("expected audit.jsonl to exist: %v", err)
	}
}

func TestRecord_WritesJSONLEntry(t *testing.T) {
	dir := t.TempDir()
	trail, err := audit.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer trail.Close()

	trail.Record(context.Background(), "corr-1", "allow", "send_message", "confidence high", "v1", "user-123")
	trail.Close()

	f, err := os.Open(filepath.Join(dir, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one line in audit.jsonl")
	}
	var e audit.Entry
	if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if e.CorrelationID != "corr-1" || e.Decision != "allow" || e.Capability != "send_message" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestRecord_CountsDeniesOnly(t *testing.T) {
	dir := t.TempDir()
	trail, err := audit.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer trail.Close()

	trail.Record(context.Background(), "corr-1", "allow", "send_message", "ok", "v1", "")
	trail.Record(context.Background(), "corr-2", "deny", "call_tool", "low confidence", "v1", "")
	trail.Record(context.Background(), "corr-3", "deny", "call_tool", "side effects disabled", "v1", "")

	if got := trail.DenyCount(); got != 2 {
		t.Fatalf("DenyCount() = %d, want 2", got)
	}
}

func TestRecord_RedactsSubjectAndReason(t *testing.T) {
	dir := t.TempDir()
	trail, err := audit.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer trail.Close()

	trail.Record(context.Background(), "corr-1", "allow", "call_tool", "api_key: abcdefghijklmnopqrstuvwxyz1234567890", "v1", "")
	trail.Close()

	b, err := os.ReadFile(filepath.Join(dir, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected audit file to contain an entry")
	}
	var e audit.Entry
	lines := splitLines(b)
	if err := json.Unmarshal(lines[0], &e); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if containsSecret(e.Reason) {
		t.Fatalf("expected reason to be redacted, got %q", e.Reason)
	}
}

func TestTwoTrailsAreIndependent(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	a, err := audit.Open(dirA)
	if err != nil {
		t.Fatalf("Open(a) error = %v", err)
	}
	defer a.Close()
	b, err := audit.Open(dirB)
	if err != nil {
		t.Fatalf("Open(b) error = %v", err)
	}
	defer b.Close()

	a.Record(context.Background(), "corr-1", "deny", "call_tool", "x", "v1", "")

	if a.DenyCount() != 1 {
		t.Fatalf("a.DenyCount() = %d, want 1", a.DenyCount())
	}
	if b.DenyCount() != 0 {
		t.Fatalf("b.DenyCount() = %d, want 0 (trails must not share state)", b.DenyCount())
	}
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return out
}

func containsSecret(s string) bool {
	for i := 0; i+10 <= len(s); i++ {
		if s[i:i+10] == "1234567890" {
			return true
		}
	}
	return false
}
