// Package otelmetrics wires a meter provider and the runtime's metric
// instruments (bus drops, breaker trips, ack overrides, thought-budget
// rejections, tick duration). Grounded on the teacher's internal/otel
// package (otel.go's Init/Provider/Shutdown shape, metrics.go's
// meter.Float64Histogram/Int64Counter construction), generalized from a
// trace-exporter pair (otlptracehttp/stdouttrace) to the equivalent
// metric-exporter pair (otlpmetrichttp/stdoutmetric) spec.md's ambient
// stack calls for. When disabled, every instrument is a real no-op
// instrument from the SDK's own noop meter rather than a second
// hand-rolled no-op type.
package otelmetrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterName = "pulseagent"
	version   = "v0.1.0"
)

// Config tunes the meter provider. An empty OTLPEndpoint uses the stdout
// exporter; a non-empty one switches to OTLP-over-HTTP, matching the
// teacher's exporter-selection-by-endpoint-presence idiom.
type Config struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Provider wraps the meter provider with its instruments and a shutdown
// hook.
type Provider struct {
	meterProvider metric.MeterProvider
	Meter         metric.Meter
	Metrics       *Metrics
	shutdown      func(context.Context) error
}

// Metrics holds the runtime's metric instruments. Outside this package's
// own tests, no package in this repository records to them.
type Metrics struct {
	BusDropsTotal           metric.Int64Counter
	BreakerTripsTotal       metric.Int64Counter
	AckOverridesTotal       metric.Int64Counter
	ThoughtRejectionsTotal  metric.Int64Counter
	TickDuration            metric.Float64Histogram
	CognitionTurnDuration   metric.Float64Histogram
	MotorIntentsTotal       metric.Int64Counter
	LLMTokensUsed           metric.Int64Counter
}

// Init builds a Provider. A disabled config returns a Provider backed by
// the SDK's noop meter, so callers never need to branch on Enabled.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		m := mp.Meter(meterName)
		metrics, err := newMetrics(m)
		if err != nil {
			return nil, err
		}
		return &Provider{meterProvider: mp, Meter: m, Metrics: metrics, shutdown: func(context.Context) error { return nil }}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pulseagent"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("pulseagent.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reader, err := newReader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric reader: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	meter := mp.Meter(meterName)
	metrics, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Provider{
		meterProvider: mp,
		Meter:         meter,
		Metrics:       metrics,
		shutdown:      mp.Shutdown,
	}, nil
}

// Shutdown flushes and tears down the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func newReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	}
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.BusDropsTotal, err = meter.Int64Counter("pulseagent.bus.drops",
		metric.WithDescription("Signals dropped from the priority bus")); err != nil {
		return nil, err
	}
	if m.BreakerTripsTotal, err = meter.Int64Counter("pulseagent.breaker.trips",
		metric.WithDescription("Circuit breaker trips across all ports")); err != nil {
		return nil, err
	}
	if m.AckOverridesTotal, err = meter.Int64Counter("pulseagent.ack.overrides",
		metric.WithDescription("Value-delta overrides unblocking a deferred disposition")); err != nil {
		return nil, err
	}
	if m.ThoughtRejectionsTotal, err = meter.Int64Counter("pulseagent.thought.rejections",
		metric.WithDescription("Thought signals rejected by depth/budget/dedupe gating")); err != nil {
		return nil, err
	}
	if m.TickDuration, err = meter.Float64Histogram("pulseagent.tick.duration",
		metric.WithDescription("Heartbeat tick duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.CognitionTurnDuration, err = meter.Float64Histogram("pulseagent.cognition.turn_duration",
		metric.WithDescription("COGNITION turn duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.MotorIntentsTotal, err = meter.Int64Counter("pulseagent.motor.intents",
		metric.WithDescription("Intents applied by MOTOR, by kind")); err != nil {
		return nil, err
	}
	if m.LLMTokensUsed, err = meter.Int64Counter("pulseagent.llm.tokens",
		metric.WithDescription("Tokens consumed across LLM completions")); err != nil {
		return nil, err
	}
	return m, nil
}
