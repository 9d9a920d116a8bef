// Package otelhelper provides distributed tracing for automation runs.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	AutomationIDKey   = "autoflow.automation.id"
	AutomationNameKey = "autoflow.automation.name"
	TriggerIDKey      = "autoflow.trigger.id"
	NodeIDKey         = "autoflow.node.id"
	NodeTypeKey       = "autoflow.node.type"
	ReferenceIDKey    = "autoflow.node.reference_id"
	ToolIDKey         = "autoflow.tool.id"
	ToolTypeKey       = "autoflow.tool.type"
	MCPIDKey          = "autoflow.mcp.id"
	ExecutionIDKey    = "autoflow.execution.id"
	EventTypeKey      = "autoflow.event.type"
	ErrorTypeKey      = "error.type"
)

// Provider wraps the SDK tracer provider so callers can flush on shutdown.
type Provider struct {
	provider *sdktrace.TracerProvider
}

// NewTracer installs a global OTLP/HTTP tracer provider configured from the
// standard OTEL_EXPORTER_OTLP_* environment.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, *Provider, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), &Provider{provider: provider}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}

	return p.provider.Shutdown(ctx)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
