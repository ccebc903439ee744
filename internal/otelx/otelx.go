// Package otelx centralizes OpenTelemetry tracer and meter provider
// construction for the core. Every public service operation opens a
// span here and records warnings, dedup hits, and invariant violations
// as span events/attributes rather than ad-hoc logging.
package otelx

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/markmhendrickson/neotoma"

// Providers bundles the tracer and meter providers constructed for the
// process, plus a Shutdown that flushes both.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// NewStdout builds tracer and meter providers that export to w
// (typically os.Stderr or io.Discard in tests). This is the default
// posture; OTLP export is a deployment-time config concern left to the
// operator, not wired into the core.
func NewStdout(w io.Writer) (*Providers, error) {
	if w == nil {
		w = os.Stderr
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{TracerProvider: tp, MeterProvider: mp}, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.MeterProvider.Shutdown(ctx)
}

// Tracer returns the package tracer for core-operation spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the package meter for core-operation counters.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Counters bundles the counters recorded across every core operation.
type Counters struct {
	Ingests           metric.Int64Counter
	DedupHits         metric.Int64Counter
	Interpretations   metric.Int64Counter
	Reductions        metric.Int64Counter
	Merges            metric.Int64Counter
	SchemaPromotions  metric.Int64Counter
}

// NewCounters registers the shared counters against the package meter.
func NewCounters() (*Counters, error) {
	m := Meter()
	c := &Counters{}
	var err error
	if c.Ingests, err = m.Int64Counter("neotoma.ingests"); err != nil {
		return nil, err
	}
	if c.DedupHits, err = m.Int64Counter("neotoma.dedup_hits"); err != nil {
		return nil, err
	}
	if c.Interpretations, err = m.Int64Counter("neotoma.interpretations"); err != nil {
		return nil, err
	}
	if c.Reductions, err = m.Int64Counter("neotoma.reductions"); err != nil {
		return nil, err
	}
	if c.Merges, err = m.Int64Counter("neotoma.merges"); err != nil {
		return nil, err
	}
	if c.SchemaPromotions, err = m.Int64Counter("neotoma.schema_promotions"); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordInvariantBroken marks span as errored and attaches enough
// context to reproduce an `internal` kind failure as a span event
// rather than swallowing it.
func RecordInvariantBroken(span trace.Span, op string, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetAttributes(attribute.String("neotoma.op", op))
}
