// Package observability provides tracing, metrics and logging for stackflow.
package observability

import (
	"context"
	"fmt"

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

const (
	// TracerName is the instrumentation scope of every span we start.
	TracerName = "github.com/efebarandurmaz/stackflow"
)

// TracingConfig configures span export. An empty OTLPEndpoint keeps the
// global no-op provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector
	SampleRate     float64
}

// DefaultTracingConfig returns the stackflow service identity with full
// sampling and no exporter.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "stackflow",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider owns the SDK provider when export is enabled.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a batching OTLP provider as the global tracer
// provider, so the Start*Span helpers export through it.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter %s: %w", cfg.OTLPEndpoint, err)
	}
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func serviceResource(ctx context.Context, cfg *TracingConfig) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans. It is a no-op without an exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the stackflow tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded as the stackflow.span.kind attribute.
const (
	SpanKindExecution = "execution"
	SpanKindNode      = "node"
	SpanKindLLM       = "llm"
	SpanKindIngest    = "ingest"
	SpanKindRetrieve  = "retrieve"
	SpanKindSearch    = "web_search"
)

// StartExecutionSpan starts the root span of one stack execution.
func StartExecutionSpan(ctx context.Context, stackID string, nodeCount int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "stack.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindExecution),
			attribute.String("stack.id", stackID),
			attribute.Int("stack.node_count", nodeCount),
		),
	)
}

// StartNodeSpan starts a span for running one workflow node.
func StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("node.%s", nodeType),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindNode),
			attribute.String("node.id", nodeID),
			attribute.String("node.type", nodeType),
		),
	)
}

// StartLLMSpan starts a span for an LLM call.
func StartLLMSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindLLM),
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
}

// RecordLLMUsage records token usage on an LLM span.
func RecordLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int("llm.input_tokens", inputTokens),
		attribute.Int("llm.output_tokens", outputTokens),
		attribute.Int("llm.total_tokens", inputTokens+outputTokens),
	)
}

// StartIngestSpan starts a span for indexing an uploaded file.
func StartIngestSpan(ctx context.Context, fileName string, size int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "knowledge.ingest",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindIngest),
			attribute.String("file.name", fileName),
			attribute.Int("file.size", size),
		),
	)
}

// RecordIngestResult records the outcome of an ingestion.
func RecordIngestResult(span trace.Span, collection string, chunks int) {
	span.SetAttributes(
		attribute.String("knowledge.collection", collection),
		attribute.Int("knowledge.chunks", chunks),
	)
}

// StartRetrieveSpan starts a span for a similarity search.
func StartRetrieveSpan(ctx context.Context, collection string, topK int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "knowledge.retrieve",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindRetrieve),
			attribute.String("knowledge.collection", collection),
			attribute.Int("knowledge.top_k", topK),
		),
	)
}

// StartWebSearchSpan starts a span for a web search call.
func StartWebSearchSpan(ctx context.Context, engine string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "websearch.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stackflow.span.kind", SpanKindSearch),
			attribute.String("websearch.engine", engine),
		),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
