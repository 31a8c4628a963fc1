package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-veritas/internal/ports"
)

const tracerName = "github.com/ahrav/go-veritas/infrastructure/llm"

// tracedLLM wraps each attempt in an OpenTelemetry span.
type tracedLLM struct {
	next   CoreLLM
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that records a span per attempt.
// A nil tracer uses the global tracer provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, tracer: tracer}
	}
}

// DoRequest executes the request within a span named "llm.generate".
func (t *tracedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", t.next.Provider()),
		attribute.String("llm.model", t.next.GetModel()),
		attribute.Int("llm.prompt.length", len(req.Prompt)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
		attribute.Float64("llm.temperature", req.Temperature),
	}
	if req.Seed != nil {
		attrs = append(attrs, attribute.Int("llm.seed", *req.Seed))
	}

	ctx, span := t.tracer.Start(ctx, "llm.generate", trace.WithAttributes(attrs...))
	defer span.End()

	out, err := t.next.DoRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorStatus(err))
		return out, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", out.TokensIn),
		attribute.Int("llm.tokens.output", out.TokensOut),
	)
	return out, nil
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedLLM) GetModel() string { return t.next.GetModel() }

// Provider returns the provider name from the wrapped implementation.
func (t *tracedLLM) Provider() string { return t.next.Provider() }
