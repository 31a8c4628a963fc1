package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-veritas/infrastructure/judge"
	"github.com/ahrav/go-veritas/infrastructure/llm"
	"github.com/ahrav/go-veritas/infrastructure/middleware"
	"github.com/ahrav/go-veritas/infrastructure/questions"
	"github.com/ahrav/go-veritas/infrastructure/ratelimit"
	"github.com/ahrav/go-veritas/internal/application"
	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

// metricsShutdownTimeout bounds the graceful stop of the metrics server.
const metricsShutdownTimeout = 5 * time.Second

type runOptions struct {
	model       string
	judgeModel  string
	trials      int
	version     string
	questions   string
	timeout     time.Duration
	resume      string
	store       string
	metricsAddr string
	maxTokens   int
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a model against a question set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.run(cmd.Context(), cmd, cfg, opts.resume)
		},
	}

	defaults := application.DefaultEngineConfig()
	f := cmd.Flags()
	f.StringVar(&opts.model, "model", "", "Model to evaluate, as a name or provider/model")
	f.StringVar(&opts.judgeModel, "judge-model", defaults.JudgeModel, "Model that grades responses")
	f.IntVar(&opts.trials, "trials", defaults.RunsPerQuestion, "Trials per question and variant (1-10)")
	f.StringVar(&opts.version, "version", "", "Benchmark version label (defaults to the question file's)")
	f.StringVar(&opts.questions, "questions", "", "YAML question file")
	f.DurationVar(&opts.timeout, "timeout", defaults.Timeout, "Timeout for each generation attempt")
	f.StringVar(&opts.resume, "resume", "", "ID of an interrupted run to resume")
	f.StringVar(&opts.store, "store", defaults.Store, `Run store directory, or "memory"`)
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.IntVar(&opts.maxTokens, "max-tokens", defaults.MaxTokens, "Maximum tokens per response")

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (o runOptions) apply(cmd *cobra.Command, cfg *application.EngineConfig) {
	f := cmd.Flags()
	if f.Changed("model") {
		cfg.Model = o.model
	}
	if f.Changed("judge-model") {
		cfg.JudgeModel = o.judgeModel
	}
	if f.Changed("trials") {
		cfg.RunsPerQuestion = o.trials
	}
	if f.Changed("version") {
		cfg.BenchmarkVersion = o.version
	}
	if f.Changed("questions") {
		cfg.QuestionsFile = o.questions
	}
	if f.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if f.Changed("store") {
		cfg.Store = o.store
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if f.Changed("max-tokens") {
		cfg.MaxTokens = o.maxTokens
	}
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, cfg application.EngineConfig, resumeID string) error {
	reg := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(reg)

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:        a.providerTable(cfg),
		Limiter:          ratelimit.New(),
		Metrics:          metrics,
		Timeout:          cfg.Timeout,
		DefaultMaxTokens: cfg.MaxTokens,
		LookupEnv:        a.lookupEnv,
	})
	if err != nil {
		return err
	}

	// Fail on missing credentials before any work is done.
	if err := registry.CheckCredentials(cfg.Model, cfg.JudgeModel); err != nil {
		return err
	}
	provider, model, err := registry.ResolveModel(cfg.Model)
	if err != nil {
		return err
	}

	loader, err := questions.NewLoader(a.logger)
	if err != nil {
		return err
	}
	source := questions.NewFileSource(loader, cfg.QuestionsFile)
	bench, err := source.Benchmark(ctx)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	version := cfg.BenchmarkVersion
	if version == "" {
		version = bench.Version
	}

	runStore, err := a.openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := runStore.Close(); err != nil {
			a.logger.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}()

	client, err := registry.Client(cfg.Model)
	if err != nil {
		return err
	}
	judgeClient, err := registry.Client(cfg.JudgeModel)
	if err != nil {
		return err
	}
	grader, err := judge.New(judgeClient, judge.WithLogger(a.logger))
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		stop := a.serveMetrics(cfg.MetricsAddr, reg)
		defer stop()
	}

	tracker := &runTracker{next: application.NewLogProgressSink(a.logger)}
	orch, err := application.NewOrchestrator(application.Config{
		Client:     client,
		Grader:     grader,
		Questions:  source,
		Store:      runStore,
		Progress:   tracker,
		Metrics:    metrics,
		Logger:     a.logger,
		MaxTokens:  cfg.MaxTokens,
		Statistics: cfg.Statistics,
	})
	if err != nil {
		return err
	}

	res, err := orch.Run(ctx, application.RunRequest{
		Model:            model,
		Provider:         provider,
		BenchmarkVersion: version,
		RunsPerQuestion:  cfg.RunsPerQuestion,
		ResumeRunID:      resumeID,
	})
	if err != nil {
		if id := tracker.runID; id != "" && !cfg.UsesMemoryStore() {
			fmt.Fprintf(cmd.ErrOrStderr(), "Run %s stopped; resume with --resume %s\n", id, id)
		}
		return err
	}

	printRun(cmd.OutOrStdout(), res.Run)
	printScores(cmd.OutOrStdout(), &res.ModelScore, res.PillarScores)
	return nil
}

// providerTable applies the configured overrides to the provider table.
func (a *app) providerTable(cfg application.EngineConfig) map[string]llm.ProviderConfig {
	providers := maps.Clone(a.providers)
	for name, override := range cfg.Providers {
		pc, ok := providers[name]
		if !ok {
			a.logger.Warn("ignoring settings for unknown provider", slog.String("provider", name))
			continue
		}
		if override.RequestsPerMinute > 0 {
			pc.RequestsPerMinute = override.RequestsPerMinute
		}
		if override.BaseURL != "" {
			pc.BaseURL = override.BaseURL
		}
		providers[name] = pc
	}
	return providers
}

// serveMetrics exposes reg on addr until the returned function is called.
func (a *app) serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}
}

// runTracker remembers the run ID from progress events so a failed run can
// be named for resumption.
type runTracker struct {
	next  ports.ProgressSink
	runID string
}

func (t *runTracker) Report(ctx context.Context, event domain.ProgressEvent) {
	t.runID = event.RunID
	t.next.Report(ctx, event)
}
