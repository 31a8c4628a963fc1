// Package application runs benchmark evaluations: it drives the model under
// evaluation through every question/variant pair, grades each response,
// persists the results and aggregates them into run-level scores.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
	"github.com/ahrav/go-veritas/internal/stats"
)

// Sampling parameters. Trial 1 is the deterministic baseline; the others
// sample to expose response variance.
const (
	baselineTemperature = 0.0
	baselineSeed        = 0
	sampledTemperature  = 0.7
)

const tracerName = "github.com/ahrav/go-veritas/internal/application"

var (
	// ErrInvalidRunRequest is returned for a malformed RunRequest.
	ErrInvalidRunRequest = errors.New("invalid run request")

	// errMissingDependency is returned when a required collaborator is nil.
	errMissingDependency = errors.New("missing orchestrator dependency")
)

// Config wires an Orchestrator to its collaborators.
type Config struct {
	// Client generates responses from the model under evaluation.
	Client ports.GenerationClient

	// Grader scores each response.
	Grader ports.Grader

	// Questions supplies the benchmark.
	Questions ports.QuestionSource

	// Store persists run state. It is the authority on completed pairs.
	Store ports.RunStore

	// Progress receives an event after each pair and when the run ends.
	// Nil discards events.
	Progress ports.ProgressSink

	// Metrics receives pair and score metrics. Nil disables collection.
	Metrics ports.MetricsCollector

	// Tracer records run and pair spans. Nil uses the global provider.
	Tracer trace.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// MaxTokens caps generated responses. Zero uses DefaultMaxTokens.
	MaxTokens int

	// Statistics configures the bootstrap. Zero values use the stats
	// package defaults.
	Statistics StatisticsConfig

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// RunRequest starts or resumes an evaluation.
type RunRequest struct {
	// Model is the name of the model under evaluation.
	Model string

	// Provider serves Model.
	Provider string

	// BenchmarkVersion labels a new run. When resuming it must match the
	// stored run if set.
	BenchmarkVersion string

	// RunsPerQuestion is the number of trials per pair, 1 to 10. A resumed
	// run keeps its stored value.
	RunsPerQuestion int

	// ResumeRunID continues an interrupted run instead of starting one.
	ResumeRunID string
}

func (r RunRequest) validate() error {
	switch {
	case r.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRunRequest)
	case r.ResumeRunID == "" && (r.RunsPerQuestion < 1 || r.RunsPerQuestion > MaxRunsPerQuestion):
		return fmt.Errorf("%w: runs per question must be between 1 and %d, got %d",
			ErrInvalidRunRequest, MaxRunsPerQuestion, r.RunsPerQuestion)
	}
	return nil
}

// RunResult holds the final state and aggregates of a completed run.
type RunResult struct {
	Run          domain.EvaluationRun
	ModelScore   domain.ModelScore
	PillarScores []domain.PillarScore
}

// Orchestrator executes evaluation runs. Pairs are evaluated strictly in
// order; the trials of a pair run concurrently. One Orchestrator may run
// several evaluations, but each Run call must own its run ID.
type Orchestrator struct {
	client    ports.GenerationClient
	grader    ports.Grader
	questions ports.QuestionSource
	store     ports.RunStore
	progress  ports.ProgressSink
	metrics   ports.MetricsCollector
	tracer    trace.Tracer
	logger    *slog.Logger
	maxTokens int
	stats     StatisticsConfig
	now       func() time.Time
}

// NewOrchestrator validates cfg and returns an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Client == nil:
		return nil, fmt.Errorf("%w: generation client", errMissingDependency)
	case cfg.Grader == nil:
		return nil, fmt.Errorf("%w: grader", errMissingDependency)
	case cfg.Questions == nil:
		return nil, fmt.Errorf("%w: question source", errMissingDependency)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: run store", errMissingDependency)
	}

	o := &Orchestrator{
		client:    cfg.Client,
		grader:    cfg.Grader,
		questions: cfg.Questions,
		store:     cfg.Store,
		progress:  cfg.Progress,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		maxTokens: cfg.MaxTokens,
		stats:     cfg.Statistics,
		now:       cfg.Clock,
	}
	if o.progress == nil {
		o.progress = ports.ProgressFunc(func(context.Context, domain.ProgressEvent) {})
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxTokens <= 0 {
		o.maxTokens = DefaultMaxTokens
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// runState is the in-memory view of a run between persisted updates.
type runState struct {
	run       domain.EvaluationRun
	completed map[domain.PairKey]struct{}

	// sumMean and sumMax accumulate over completed pairs for the running
	// average.
	sumMean float64
	sumMax  float64
}

// Run evaluates every question/variant pair not yet completed for the run
// and aggregates the results. Questions whose rubrics cannot produce a score
// are rejected with a *domain.ValidationError before any model call.
//
// On error the persisted run stays in the running state so that it can be
// resumed with RunRequest.ResumeRunID; a failure progress event is emitted
// and the error returned. Resuming a completed run returns
// domain.ErrRunAlreadyCompleted and an unknown run domain.ErrRunNotFound.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "evaluation.run", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.String("provider", req.Provider),
		attribute.String("resume_run_id", req.ResumeRunID),
	))
	defer span.End()

	questions, err := o.questions.Questions(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to load questions: %w", err))
	}
	if len(questions) == 0 {
		return nil, recordSpanError(span, domain.ErrNoQuestions)
	}
	if err := domain.ValidateRubrics(questions); err != nil {
		return nil, recordSpanError(span, err)
	}
	o.warnRubricWeights(ctx, questions)

	model, err := o.store.ResolveModel(ctx, req.Model, req.Provider)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to resolve model: %w", err))
	}

	st, err := o.prepare(ctx, req, model, questions)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	span.SetAttributes(attribute.String("run_id", st.run.ID))

	o.logger.InfoContext(ctx, "evaluation started",
		slog.String("run_id", st.run.ID),
		slog.String("model", st.run.ModelName),
		slog.Int("questions", len(questions)),
		slog.Int("runs_per_question", st.run.RunsPerQuestion),
		slog.Int("completed_pairs", st.run.ResponsesCompleted),
	)

	if err := o.evaluate(ctx, st, questions); err != nil {
		return nil, recordSpanError(span, o.fail(ctx, st, err))
	}

	res, err := o.complete(ctx, st)
	if err != nil {
		return nil, recordSpanError(span, o.fail(ctx, st, err))
	}
	return res, nil
}

// prepare creates a new run or loads the one being resumed, seeding the
// running aggregate from the pairs already stored.
func (o *Orchestrator) prepare(
	ctx context.Context,
	req RunRequest,
	model domain.Model,
	questions []domain.Question,
) (*runState, error) {
	if req.ResumeRunID == "" {
		run := domain.EvaluationRun{
			ID:               uuid.NewString(),
			ModelID:          model.ID,
			ModelName:        model.Name,
			BenchmarkVersion: req.BenchmarkVersion,
			Status:           domain.RunStatusRunning,
			RunsPerQuestion:  req.RunsPerQuestion,
			TotalQuestions:   len(questions),
			StartedAt:        o.now().UTC(),
		}
		if err := o.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		return &runState{run: run, completed: make(map[domain.PairKey]struct{})}, nil
	}

	run, err := o.store.GetRun(ctx, req.ResumeRunID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, req.ResumeRunID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", req.ResumeRunID, err)
	}

	switch {
	case run.Status == domain.RunStatusCompleted:
		return nil, fmt.Errorf("%w: %s", domain.ErrRunAlreadyCompleted, run.ID)
	case run.Status != domain.RunStatusRunning:
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrRunNotResumable, run.ID, run.Status)
	case run.ModelID != model.ID:
		return nil, fmt.Errorf("%w: run %s evaluates %s, not %s",
			domain.ErrResumeMismatch, run.ID, run.ModelName, req.Model)
	case req.BenchmarkVersion != "" && run.BenchmarkVersion != req.BenchmarkVersion:
		return nil, fmt.Errorf("%w: run %s uses benchmark %s, not %s",
			domain.ErrResumeMismatch, run.ID, run.BenchmarkVersion, req.BenchmarkVersion)
	}
	if req.RunsPerQuestion > 0 && req.RunsPerQuestion != run.RunsPerQuestion {
		o.logger.WarnContext(ctx, "resumed run keeps its stored trial count",
			slog.String("run_id", run.ID),
			slog.Int("stored", run.RunsPerQuestion),
			slog.Int("requested", req.RunsPerQuestion),
		)
	}

	aggs, err := o.store.ListAggregatedResponses(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed pairs: %w", err)
	}

	st := &runState{run: run, completed: make(map[domain.PairKey]struct{}, len(aggs))}
	for _, a := range aggs {
		st.completed[a.Key()] = struct{}{}
		st.sumMean += a.Mean
		st.sumMax += a.MaxScore
	}
	st.run.TotalQuestions = len(questions)
	st.run.ResponsesCompleted = len(aggs)
	st.run.RunningAverageScore = runningAverage(st.sumMean, st.sumMax)

	o.logger.InfoContext(ctx, "resuming evaluation",
		slog.String("run_id", run.ID),
		slog.Int("completed_pairs", len(aggs)),
		slog.Int("total_pairs", st.run.TotalPairs()),
	)
	return st, nil
}

// evaluate runs every incomplete pair in question order, explicit variant
// first.
func (o *Orchestrator) evaluate(ctx context.Context, st *runState, questions []domain.Question) error {
	for i, q := range questions {
		for _, v := range domain.Variants {
			if _, done := st.completed[domain.PairKey{QuestionID: q.ID, Variant: v}]; done {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.evaluatePair(ctx, st, i, q, v); err != nil {
				return fmt.Errorf("question %s (%s): %w", q.ID, v, err)
			}
		}
	}
	return nil
}

// evaluatePair runs and grades every trial of one pair, then persists the
// trials, the pair summary and the updated run, in that order. The pair
// counts as completed only once its summary is stored.
func (o *Orchestrator) evaluatePair(
	ctx context.Context,
	st *runState,
	index int,
	q domain.Question,
	v domain.Variant,
) error {
	spec, err := q.Variant(v)
	if err != nil {
		return err
	}

	ctx, span := o.tracer.Start(ctx, "evaluation.pair", trace.WithAttributes(
		attribute.String("run_id", st.run.ID),
		attribute.String("question_id", q.ID),
		attribute.String("variant", v.String()),
		attribute.Int("trials", st.run.RunsPerQuestion),
	))
	defer span.End()

	start := o.now()

	trials := make([]domain.Trial, st.run.RunsPerQuestion)
	g, gctx := errgroup.WithContext(ctx)
	for i := range trials {
		g.Go(func() error {
			trial, err := o.runTrial(gctx, st.run.ID, q, v, spec, i+1)
			if err != nil {
				return fmt.Errorf("trial %d: %w", i+1, err)
			}
			trials[i] = trial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return recordSpanError(span, err)
	}

	scores := make([]float64, len(trials))
	for i, t := range trials {
		scores[i] = t.Score
	}
	d := stats.Describe(scores)

	for _, t := range trials {
		if err := o.store.SaveTrial(ctx, t); err != nil {
			return recordSpanError(span, fmt.Errorf("failed to save trial %d: %w", t.TrialNumber, err))
		}
	}

	agg := domain.AggregatedResponse{
		RunID:      st.run.ID,
		QuestionID: q.ID,
		Variant:    v,
		Pillar:     q.Pillar,
		Mean:       d.Mean,
		StdDev:     d.StdDev,
		Min:        d.Min,
		Max:        d.Max,
		CV:         d.CV,
		MaxScore:   spec.Rubric.MaxScore,
		TrialCount: d.N,
		Response:   trials[0].Response,
		Reasoning:  trials[0].Reasoning,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.SaveAggregatedResponse(ctx, agg); err != nil {
		return recordSpanError(span, fmt.Errorf("failed to save aggregated response: %w", err))
	}

	elapsed := o.now().Sub(start)
	st.completed[agg.Key()] = struct{}{}
	st.sumMean += agg.Mean
	st.sumMax += agg.MaxScore

	st.run.CurrentQuestion = index + 1
	st.run.CurrentQuestionID = q.ID
	st.run.CurrentVariant = v
	st.run.ResponsesCompleted = len(st.completed)
	st.run.RunningAverageScore = runningAverage(st.sumMean, st.sumMax)
	st.run.EstimatedSecondsRemaining = st.eta(o.now())

	if err := o.store.UpdateRun(ctx, st.run); err != nil {
		return recordSpanError(span, fmt.Errorf("failed to update run: %w", err))
	}

	o.recordPair(st, agg, trials, elapsed)
	o.logger.DebugContext(ctx, "pair completed",
		slog.String("run_id", st.run.ID),
		slog.String("question_id", q.ID),
		slog.String("variant", v.String()),
		slog.Float64("mean", agg.Mean),
		slog.Float64("std_dev", agg.StdDev),
		slog.Int("completed_pairs", st.run.ResponsesCompleted),
	)
	o.progress.Report(ctx, domain.ProgressFromRun(&st.run))
	return nil
}

// runTrial generates one response and grades it.
func (o *Orchestrator) runTrial(
	ctx context.Context,
	runID string,
	q domain.Question,
	v domain.Variant,
	spec domain.VariantSpec,
	number int,
) (domain.Trial, error) {
	req := ports.GenerationRequest{
		Prompt:      spec.Text,
		MaxTokens:   o.maxTokens,
		Temperature: sampledTemperature,
	}
	if number == 1 {
		seed := baselineSeed
		req.Temperature = baselineTemperature
		req.Seed = &seed
	}

	response, err := o.client.Generate(ctx, req)
	if err != nil {
		return domain.Trial{}, err
	}

	grade, err := o.grader.Grade(ctx, ports.GradeRequest{
		Question:        spec.Text,
		Response:        response,
		Rubric:          spec.Rubric,
		ReferenceAnswer: q.ReferenceAnswer,
	})
	if err != nil {
		return domain.Trial{}, err
	}

	return domain.Trial{
		RunID:          runID,
		QuestionID:     q.ID,
		Variant:        v,
		TrialNumber:    number,
		Response:       response,
		Score:          grade.Score,
		MaxScore:       spec.Rubric.MaxScore,
		Reasoning:      grade.Reasoning,
		CriteriaScores: grade.CriteriaScores,
		Temperature:    req.Temperature,
		Seed:           req.Seed,
		CreatedAt:      o.now().UTC(),
	}, nil
}

// complete aggregates the stored pair summaries into pillar and model
// scores and marks the run completed.
func (o *Orchestrator) complete(ctx context.Context, st *runState) (*RunResult, error) {
	aggs, err := o.store.ListAggregatedResponses(ctx, st.run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregated responses: %w", err)
	}

	rng := o.newRand()
	pillars := pillarScores(st.run.ID, aggs, o.stats, rng)
	for _, p := range pillars {
		if err := o.store.SavePillarScore(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save pillar %d score: %w", p.Pillar, err)
		}
	}

	score := modelScore(st.run, aggs, o.stats, rng)
	if err := o.store.SaveModelScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to save model score: %w", err)
	}

	completedAt := o.now().UTC()
	st.run.Status = domain.RunStatusCompleted
	st.run.CompletedAt = &completedAt
	st.run.EstimatedSecondsRemaining = 0
	if err := o.store.UpdateRun(ctx, st.run); err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	o.recordFinished(st, domain.RunStatusCompleted)
	o.logger.InfoContext(ctx, "evaluation completed",
		slog.String("run_id", st.run.ID),
		slog.String("model", st.run.ModelName),
		slog.Float64("overall_score", score.OverallScore),
		slog.Float64("ci_lower", score.CILower),
		slog.Float64("ci_upper", score.CIUpper),
		slog.Float64("consistency", score.ConsistencyScore),
		slog.Int("responses", score.ResponseCount),
	)
	o.progress.Report(ctx, domain.ProgressFromRun(&st.run))

	return &RunResult{Run: st.run, ModelScore: score, PillarScores: pillars}, nil
}

// fail reports err for the run. Only the in-memory copy is marked failed:
// the stored run stays running so that it can be resumed.
func (o *Orchestrator) fail(ctx context.Context, st *runState, err error) error {
	failed := st.run
	failed.Status = domain.RunStatusFailed

	o.recordFinished(st, domain.RunStatusFailed)
	o.logger.ErrorContext(ctx, "evaluation failed",
		slog.String("run_id", failed.ID),
		slog.Int("completed_pairs", failed.ResponsesCompleted),
		slog.Int("total_pairs", failed.TotalPairs()),
		slog.String("error", err.Error()),
	)
	o.progress.Report(context.WithoutCancel(ctx), domain.ProgressFromRun(&failed))
	return err
}

// warnRubricWeights logs every rubric whose weights do not sum to 1.0.
func (o *Orchestrator) warnRubricWeights(ctx context.Context, questions []domain.Question) {
	for _, w := range domain.CheckRubricWeights(questions) {
		o.logger.WarnContext(ctx, "rubric weights do not sum to 1.0",
			slog.String("question_id", w.QuestionID),
			slog.String("variant", w.Variant.String()),
			slog.Float64("sum", w.Sum),
		)
	}
}

func (o *Orchestrator) newRand() *rand.Rand {
	if o.stats.Seed == nil {
		return nil
	}
	return rand.New(rand.NewPCG(*o.stats.Seed, *o.stats.Seed))
}

func (o *Orchestrator) recordPair(st *runState, agg domain.AggregatedResponse, trials []domain.Trial, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	labels := map[string]string{"model": st.run.ModelName}
	o.metrics.RecordLatency(ports.MetricPairDuration, elapsed, labels)
	o.metrics.RecordCounter(ports.MetricPairsCompleted, 1, labels)
	o.metrics.RecordGauge(ports.MetricRunningAverage, st.run.RunningAverageScore, labels)

	scoreLabels := map[string]string{"model": st.run.ModelName, "variant": agg.Variant.String()}
	for _, t := range trials {
		o.metrics.RecordHistogram(ports.MetricTrialScore, normalize(t.Score, t.MaxScore), scoreLabels)
	}
}

func (o *Orchestrator) recordFinished(st *runState, status domain.RunStatus) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordCounter(ports.MetricRunsFinished, 1,
		map[string]string{"model": st.run.ModelName, "status": string(status)})
}

// eta extrapolates the remaining time from the average time per completed
// pair since the run started. A resumed run keeps its original StartedAt, so
// the average spans every session.
func (st *runState) eta(now time.Time) float64 {
	done := len(st.completed)
	remaining := st.run.TotalPairs() - done
	if done == 0 || remaining <= 0 {
		return 0
	}
	elapsed := now.Sub(st.run.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return elapsed / float64(done) * float64(remaining)
}

// runningAverage returns sumMean/sumMax as a percentage.
func runningAverage(sumMean, sumMax float64) float64 {
	if sumMax <= 0 {
		return 0
	}
	return sumMean / sumMax * 100
}

func normalize(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return score / maxScore * 100
}

// pillarScores aggregates normalized pair scores per pillar, in pillar
// order.
func pillarScores(runID string, aggs []domain.AggregatedResponse, cfg StatisticsConfig, rng *rand.Rand) []domain.PillarScore {
	byPillar := make(map[domain.Pillar][]float64)
	for _, a := range aggs {
		byPillar[a.Pillar] = append(byPillar[a.Pillar], a.NormalizedScore())
	}

	keys := make([]domain.Pillar, 0, len(byPillar))
	for p := range byPillar {
		keys = append(keys, p)
	}
	slices.Sort(keys)

	out := make([]domain.PillarScore, 0, len(keys))
	for _, p := range keys {
		scores := byPillar[p]
		ci := stats.BootstrapCI(scores, cfg.ConfidenceLevel, cfg.BootstrapIterations, rng)
		out = append(out, domain.PillarScore{
			RunID:         runID,
			Pillar:        p,
			Score:         ci.Mean,
			CILower:       ci.Lower,
			CIUpper:       ci.Upper,
			Variance:      stats.Variance(scores),
			ResponseCount: len(scores),
		})
	}
	return out
}

// modelScore aggregates every normalized pair score of the run. The
// weighted score equals the overall score: question weights are not
// applied.
func modelScore(run domain.EvaluationRun, aggs []domain.AggregatedResponse, cfg StatisticsConfig, rng *rand.Rand) domain.ModelScore {
	scores := make([]float64, len(aggs))
	cvs := make([]float64, len(aggs))
	for i, a := range aggs {
		scores[i] = a.NormalizedScore()
		cvs[i] = a.CV
	}

	ci := stats.BootstrapCI(scores, cfg.ConfidenceLevel, cfg.BootstrapIterations, rng)
	return domain.ModelScore{
		RunID:            run.ID,
		ModelID:          run.ModelID,
		OverallScore:     ci.Mean,
		WeightedScore:    ci.Mean,
		CILower:          ci.Lower,
		CIUpper:          ci.Upper,
		Variance:         stats.Variance(scores),
		ConsistencyScore: stats.AverageConsistencyScore(cvs),
		ResponseCount:    len(scores),
	}
}

// recordSpanError marks span as failed and returns err.
func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
