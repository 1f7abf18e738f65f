package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/deployer/pkg/faults"
)

// Tracer wraps the OpenTelemetry tracer with deployer-specific spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{
			provider: provider,
			tracer:   provider.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "none":
		// Spans are created for log correlation but not exported.
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// NewTracerWithProvider wraps an existing provider, typically one with an
// in-memory exporter in tests.
func NewTracerWithProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("deployer")),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(context.Background(), opts...)
}

// StartWorkflowSpan starts the root span of a workflow run.
func (t *Tracer) StartWorkflowSpan(ctx context.Context, environment, workflow, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "workflow."+workflow, trace.WithAttributes(
		AttrEnvironment.String(environment),
		AttrWorkflow.String(workflow),
		AttrRunID.String(runID),
	))
}

// StartStepSpan starts a span for one workflow step.
func (t *Tracer) StartStepSpan(ctx context.Context, step string, index, total int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "step."+step, trace.WithAttributes(
		AttrStep.String(step),
		AttrStepIndex.Int(index),
		AttrStepTotal.Int(total),
	))
}

// StartToolSpan starts a span for an external tool invocation.
func (t *Tracer) StartToolSpan(ctx context.Context, tool, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, tool+"."+operation, trace.WithAttributes(
		AttrTool.String(tool),
		AttrOperation.String(operation),
	))
}

// RecordError records an error on the span, with its fault class if any.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	if class, ok := faults.ClassOf(err); ok {
		span.SetAttributes(AttrErrorClass.String(string(class)))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown gracefully shuts down the tracer, flushing any pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush forces all pending spans to be exported immediately.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Attribute keys used on deployer spans.
var (
	AttrEnvironment = attribute.Key("deployer.environment")
	AttrWorkflow    = attribute.Key("deployer.workflow")
	AttrRunID       = attribute.Key("deployer.run_id")
	AttrStep        = attribute.Key("deployer.step")
	AttrStepIndex   = attribute.Key("deployer.step.index")
	AttrStepTotal   = attribute.Key("deployer.step.total")
	AttrTool        = attribute.Key("tool.name")
	AttrOperation   = attribute.Key("tool.operation")
	AttrErrorClass  = attribute.Key("error.class")
)
