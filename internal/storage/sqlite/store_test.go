package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/pulseagent/internal/ports"
	"github.com/basket/pulseagent/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.Get(context.Background(), "ns", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected ok = false for missing key")
	}
}

func TestSetThenGet_RoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "ns", "key1", []byte("hello")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "ns", "key1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || string(got) != "hello" {
		t.Fatalf("Get() = %q, %v, want %q, true", got, ok, "hello")
	}
}

func TestSet_OverwritesExistingValue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ns", "key1", []byte("v1"))
	_ = s.Set(ctx, "ns", "key1", []byte("v2"))
	got, _, _ := s.Get(ctx, "ns", "key1")
	if string(got) != "v2" {
		t.Fatalf("Get() = %q, want %q", got, "v2")
	}
}

func TestDelete_RemovesKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ns", "key1", []byte("v1"))
	if err := s.Delete(ctx, "ns", "key1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, ok, _ := s.Get(ctx, "ns", "key1")
	if ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestKeys_FiltersByNamespaceAndPrefix(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ns1", "task:1", []byte("a"))
	_ = s.Set(ctx, "ns1", "task:2", []byte("b"))
	_ = s.Set(ctx, "ns1", "note:1", []byte("c"))
	_ = s.Set(ctx, "ns2", "task:1", []byte("d"))

	keys, err := s.Keys(ctx, "ns1", "task:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}

func TestQuery_AppliesEqualityFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ns", "rec:1", []byte(`{"status":"open","priority":1}`))
	_ = s.Set(ctx, "ns", "rec:2", []byte(`{"status":"closed","priority":2}`))

	recs, err := s.Query(ctx, "ns", "rec:", []ports.QueryFilter{{Field: "status", Op: "=", Value: "open"}}, 0, 0, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "rec:1" {
		t.Fatalf("Query() = %+v, want only rec:1", recs)
	}
}

func TestQuery_AppliesNumericComparisonAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ns", "rec:1", []byte(`{"priority":1}`))
	_ = s.Set(ctx, "ns", "rec:2", []byte(`{"priority":5}`))
	_ = s.Set(ctx, "ns", "rec:3", []byte(`{"priority":9}`))

	recs, err := s.Query(ctx, "ns", "rec:", []ports.QueryFilter{{Field: "priority", Op: ">", Value: float64(2)}}, 1, 0, "key")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Query() = %d records, want 1 due to limit", len(recs))
	}
}
