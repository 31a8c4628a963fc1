package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricGenerationLatency  = ports.MetricGenerationLatency
	MetricGenerationRequests = ports.MetricGenerationRequests
	MetricGenerationTokens   = ports.MetricGenerationTokens
)

// metricsLLM records latency, outcome and token usage of each attempt.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
// A nil collector disables the middleware.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		if collector == nil {
			return next
		}
		return &metricsLLM{next: next, collector: collector}
	}
}

// DoRequest executes the request while collecting metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	start := time.Now()
	out, err := m.next.DoRequest(ctx, req)

	labels := map[string]string{
		"provider": m.next.Provider(),
		"model":    m.next.GetModel(),
		"status":   ErrorStatus(err),
	}

	m.collector.RecordHistogram(MetricGenerationLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricGenerationRequests, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricGenerationTokens, float64(out.TokensIn), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter(MetricGenerationTokens, float64(out.TokensOut), withLabel(labels, "token_type", "output"))
	}

	return out, err
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// Provider returns the provider name from the wrapped implementation.
func (m *metricsLLM) Provider() string { return m.next.Provider() }

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}
