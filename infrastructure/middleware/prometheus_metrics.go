// Package middleware provides cross-cutting concerns for the evaluation engine.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-veritas/internal/ports"
)

// namespace prefixes every metric exported by PrometheusMetrics.
const namespace = "veritas"

// unknownLabel fills label values the caller did not supply.
const unknownLabel = "unknown"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It exports generation traffic from the LLM clients and run progress from
// the orchestrator.
type PrometheusMetrics struct {
	generationLatency  *prometheus.HistogramVec
	generationRequests *prometheus.CounterVec
	generationTokens   *prometheus.CounterVec
	trialScores        *prometheus.HistogramVec
	executionLatency   *prometheus.HistogramVec
	operationCounter   *prometheus.CounterVec
	systemGauges       *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// its metrics with reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Generation metrics fed by the LLM client middleware.
		generationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      ports.MetricGenerationLatency,
				Help:      "Latency of individual generation attempts.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "model", "status"},
		),
		generationRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricGenerationRequests,
				Help:      "Total number of generation attempts by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		generationTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricGenerationTokens,
				Help:      "Total number of tokens sent and received.",
			},
			[]string{"provider", "model", "token_type"},
		),

		// Evaluation metrics fed by the orchestrator.
		trialScores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      ports.MetricTrialScore,
				Help:      "Distribution of trial scores normalized to 0-100.",
				Buckets:   prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"model", "variant"},
		),
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Execution time of evaluation operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "model"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of evaluation operations by status.",
			},
			[]string{"operation", "status", "model"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_state",
				Help:      "Current state values of running evaluations.",
			},
			[]string{"metric", "model"},
		),
	}
}

// label returns labels[k], or unknownLabel when it is missing.
func label(labels map[string]string, k string) string {
	if v, ok := labels[k]; ok && v != "" {
		return v
	}
	return unknownLabel
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(operation, label(labels, "model")).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricGenerationRequests:
		pm.generationRequests.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Add(value)
	case ports.MetricGenerationTokens:
		pm.generationTokens.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "token_type"),
		).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status, label(labels, "model")).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric, label(labels, "model")).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram. Unrecognized metrics are recorded as
// execution latency under the metric name.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricGenerationLatency:
		pm.generationLatency.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Observe(value)
	case ports.MetricTrialScore:
		pm.trialScores.WithLabelValues(label(labels, "model"), label(labels, "variant")).Observe(value)
	default:
		pm.executionLatency.WithLabelValues(metric, label(labels, "model")).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
