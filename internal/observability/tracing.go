package observability

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the instrumentation scope of every embedcache span.
const TracerName = "github.com/blueberrycongee/embedcache"

// TracingConfig configures OTLP/gRPC trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Endpoint:    "localhost:4317",
		ServiceName: "embedcache",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// TracerProvider owns the SDK provider installed by InitTracing.
// When tracing is disabled it only hands out the global no-op tracer.
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
}

// InitTracing installs a global OTLP tracer provider and W3C propagators.
// Callers must Shutdown the result to flush pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(moduleVersion()),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{sdk: sdk}, nil
}

// sampler honours the caller's sampling decision and applies rate to new traces.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func moduleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// Tracer returns the tracer spans should be started from.
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp.sdk != nil {
		return tp.sdk.Tracer(TracerName)
	}
	return otel.Tracer(TracerName)
}

// Shutdown flushes and stops the exporter. It is a no-op when disabled.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// EmbeddingSpanAttributes describes one embedding call.
type EmbeddingSpanAttributes struct {
	Provider   string
	Model      string
	Dimensions int
	Inputs     int
}

// StartEmbeddingSpan starts a span on the global tracer. The request ID in
// ctx, if any, is attached so traces and logs can be joined.
func StartEmbeddingSpan(ctx context.Context, operation string, attrs EmbeddingSpanAttributes) (context.Context, trace.Span) {
	kv := []attribute.KeyValue{
		attribute.String("gen_ai.system", attrs.Provider),
		attribute.String("gen_ai.request.model", attrs.Model),
		attribute.Int("gen_ai.request.dimensions", attrs.Dimensions),
		attribute.Int("embedcache.inputs", attrs.Inputs),
	}
	if id := RequestIDFromContext(ctx); id != "" {
		kv = append(kv, attribute.String("embedcache.request_id", id))
	}
	return otel.Tracer(TracerName).Start(ctx, operation, trace.WithAttributes(kv...))
}

// RecordEmbeddingResult sets the cache outcome and token usage.
func RecordEmbeddingResult(span trace.Span, cached, generated, tokens int) {
	span.SetAttributes(
		attribute.Int("embedcache.cached", cached),
		attribute.Int("embedcache.generated", generated),
		attribute.Int("gen_ai.usage.input_tokens", tokens),
	)
}

// RecordError marks span failed with err.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
