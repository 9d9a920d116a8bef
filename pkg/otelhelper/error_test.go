package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(context.Background(), tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, "n1"))
	otelhelper.SetError(span, errors.New("boom"), attribute.String(otelhelper.AutomationIDKey, "a1"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.node", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(otelhelper.NodeIDKey, "n1"))
}

func TestSetError_RecordsErrorType(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	otelhelper.SetError(span, nil)
	otelhelper.SetError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 2)

	failure := spans[0].Events()[1]
	assert.Equal(t, "error_occurred", failure.Name)
	assert.Contains(t, failure.Attributes, attribute.String(otelhelper.ErrorTypeKey, "*errors.errorString"))
}
