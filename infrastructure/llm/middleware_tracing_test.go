package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-veritas/internal/ports"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, func() trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, func() trace.Tracer { return tp.Tracer("test") }
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestTracingMiddleware_RecordsSuccessfulSpan(t *testing.T) {
	// Given a tracer that records spans
	recorder, tracer := newRecordingTracer(t)
	mock := NewMockCoreLLM()
	mock.Model = "claude-3-5-sonnet-latest"
	mock.ProviderName = "anthropic"
	wrapped := TracingMiddleware(tracer())(mock)

	// When making a seeded request
	seed := 0
	out, err := wrapped.DoRequest(context.Background(), ports.GenerationRequest{
		Prompt:    "hello",
		MaxTokens: 50,
		Seed:      &seed,
	})

	// Then one span carries the request and usage attributes
	require.NoError(t, err)
	assert.Equal(t, "test response", out.Text)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "llm.generate", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "anthropic", attrs["llm.provider"].AsString())
	assert.Equal(t, "claude-3-5-sonnet-latest", attrs["llm.model"].AsString())
	assert.Equal(t, int64(5), attrs["llm.prompt.length"].AsInt64())
	assert.Equal(t, int64(0), attrs["llm.seed"].AsInt64())
	assert.Equal(t, int64(10), attrs["llm.tokens.input"].AsInt64())
	assert.Equal(t, int64(20), attrs["llm.tokens.output"].AsInt64())
}

func TestTracingMiddleware_RecordsErrors(t *testing.T) {
	recorder, tracer := newRecordingTracer(t)
	mock := NewMockCoreLLM()
	mock.Error = errors.New("service error")
	wrapped := TracingMiddleware(tracer())(mock)

	_, err := wrapped.DoRequest(context.Background(), testRequest)

	assert.EqualError(t, err, "service error", "should return original error")
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "error", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events(), "error should be recorded as an event")
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestTracingMiddleware_PropagatesSpanContext(t *testing.T) {
	_, tracer := newRecordingTracer(t)
	mock := NewMockCoreLLM()
	wrapped := TracingMiddleware(tracer())(mock)

	_, err := wrapped.DoRequest(context.Background(), testRequest)

	require.NoError(t, err)
	require.Len(t, mock.Contexts, 1)
	assert.True(t, trace.SpanContextFromContext(mock.Contexts[0]).IsValid(),
		"provider should receive the span context")
}

func TestTracingMiddleware_PassesThroughModelMethods(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := TracingMiddleware(nil)(mock)

	assert.Equal(t, "test-model", wrapped.GetModel())
	assert.Equal(t, "test", wrapped.Provider())
}
