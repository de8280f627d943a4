package otelmetrics_test

import (
	"context"
	"testing"

	"github.com/basket/pulseagent/internal/otelmetrics"
)

func TestInit_DisabledReturnsUsableNoopInstruments(t *testing.T) {
	p, err := otelmetrics.Init(context.Background(), otelmetrics.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Metrics == nil {
		t.Fatal("expected metrics to be non-nil even when disabled")
	}
	// Recording against a noop instrument must not panic.
	p.Metrics.BusDropsTotal.Add(context.Background(), 1)
	p.Metrics.TickDuration.Record(context.Background(), 0.01)
}

func TestInit_EnabledWithStdoutExporterSucceeds(t *testing.T) {
	p, err := otelmetrics.Init(context.Background(), otelmetrics.Config{Enabled: true, ServiceName: "pulseagent-test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Meter == nil {
		t.Fatal("expected a non-nil meter")
	}
	p.Metrics.MotorIntentsTotal.Add(context.Background(), 1)
}

func TestInit_ShutdownIsIdempotentSafe(t *testing.T) {
	p, err := otelmetrics.Init(context.Background(), otelmetrics.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
