// Package ports defines the interfaces between the evaluation engine and
// its infrastructure: generation clients, graders, question sources, run
// stores, progress sinks and metrics collectors.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-veritas/internal/domain"
)

// GenerationRequest describes a single prompt completion.
type GenerationRequest struct {
	// Prompt is the user message sent to the model.
	Prompt string

	// MaxTokens caps the length of the completion.
	MaxTokens int

	// Temperature controls sampling randomness. Zero requests greedy
	// decoding.
	Temperature float64

	// System is an optional system message.
	System string

	// Seed requests deterministic sampling from providers that support it.
	// Nil omits the seed entirely.
	Seed *int
}

// GenerationClient defines the interface for interacting with Large
// Language Model providers.
// Implementations handle provider-specific details like authentication,
// request formatting, retries and response parsing.
type GenerationClient interface {
	// Generate sends a completion request and returns the generated text.
	// After exhausting retries it returns a *GenerationError.
	Generate(ctx context.Context, req GenerationRequest) (string, error)

	// Model returns the model identifier being used by this client.
	Model() string
}

// GradeRequest is one response to be graded against a rubric.
type GradeRequest struct {
	// Question is the prompt the response answers.
	Question string

	// Response is the text under evaluation.
	Response string

	// Rubric defines the criteria and the score scale.
	Rubric domain.Rubric

	// ReferenceAnswer optionally shows the judge a model answer.
	ReferenceAnswer string
}

// Grader scores responses against a rubric. Implementations recover from
// malformed judge output themselves and only return errors that prevent
// grading altogether, such as a failed judge model call.
type Grader interface {
	Grade(ctx context.Context, req GradeRequest) (domain.Grade, error)
}

// QuestionSource supplies the ordered, validated questions of a benchmark.
type QuestionSource interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}

// RunStore persists evaluation state. The orchestrator treats the store as
// the authoritative record of which question/variant pairs are complete.
// Implementations must be safe for concurrent use.
type RunStore interface {
	// ResolveModel returns the identity record for name, creating it when
	// it does not yet exist.
	ResolveModel(ctx context.Context, name, provider string) (domain.Model, error)

	// CreateRun stores a new run.
	CreateRun(ctx context.Context, run domain.EvaluationRun) error

	// GetRun loads a run. It returns domain.ErrNotFound when absent.
	GetRun(ctx context.Context, runID string) (domain.EvaluationRun, error)

	// UpdateRun replaces the stored run. It returns domain.ErrNotFound when
	// the run was never created.
	UpdateRun(ctx context.Context, run domain.EvaluationRun) error

	// SaveAggregatedResponse stores the summary of a completed pair,
	// replacing any previous summary for the same pair.
	SaveAggregatedResponse(ctx context.Context, resp domain.AggregatedResponse) error

	// ListAggregatedResponses returns every stored summary of a run.
	ListAggregatedResponses(ctx context.Context, runID string) ([]domain.AggregatedResponse, error)

	// SaveTrial stores a trial keyed by run, pair and trial number,
	// replacing any earlier write of the same trial.
	SaveTrial(ctx context.Context, trial domain.Trial) error

	// ListTrials returns every stored trial of a run.
	ListTrials(ctx context.Context, runID string) ([]domain.Trial, error)

	// SavePillarScore stores a run's aggregate for one pillar.
	SavePillarScore(ctx context.Context, score domain.PillarScore) error

	// ListPillarScores returns every pillar aggregate of a run.
	ListPillarScores(ctx context.Context, runID string) ([]domain.PillarScore, error)

	// SaveModelScore stores a run's overall aggregate.
	SaveModelScore(ctx context.Context, score domain.ModelScore) error

	// GetModelScore loads a run's overall aggregate. It returns
	// domain.ErrNotFound when absent.
	GetModelScore(ctx context.Context, runID string) (domain.ModelScore, error)
}

// ProgressSink consumes progress events emitted by the orchestrator.
// Report must not block for long; it is called on the orchestrator's
// goroutine between pairs.
type ProgressSink interface {
	Report(ctx context.Context, event domain.ProgressEvent)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(ctx context.Context, event domain.ProgressEvent)

// Report calls f(ctx, event).
func (f ProgressFunc) Report(ctx context.Context, event domain.ProgressEvent) { f(ctx, event) }

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like completed pairs, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like the running average score.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like trial scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
