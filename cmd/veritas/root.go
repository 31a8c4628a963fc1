package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-veritas/infrastructure/llm"
	"github.com/ahrav/go-veritas/infrastructure/store"
	"github.com/ahrav/go-veritas/internal/application"
	"github.com/ahrav/go-veritas/internal/ports"
)

// app holds process-wide dependencies shared by the subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// lookupEnv reads provider credentials.
	lookupEnv func(string) (string, bool)

	// providers is the provider table before configuration overrides.
	providers map[string]llm.ProviderConfig

	configPath string
	logLevel   string
	logFormat  string
	logger     *slog.Logger
}

func newApp() *app {
	return &app{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		lookupEnv: os.LookupEnv,
		providers: maps.Clone(llm.DefaultProviders),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "veritas",
		Short: "Benchmark language models with judge-graded questions",
		Long: `veritas evaluates a model against a YAML question set. Every question is
asked in an explicit and an implicit phrasing, several times each; a judge
model grades every response against the question's rubric, and the scores
are aggregated per pillar and overall with bootstrap confidence intervals.

Runs are persisted after every question/variant pair and can be resumed.

Examples:
  # Evaluate a model with three trials per question
  veritas run --model gpt-4o --questions bench.yaml

  # Resume an interrupted run
  veritas run --model gpt-4o --questions bench.yaml --resume <run-id>

  # Compare two completed runs
  veritas compare <run-a> <run-b>
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(a.stderr, a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML engine configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newShowCmd(a),
		newCompareCmd(a),
	)
	return root
}

// loadConfig reads --config, or the defaults when it is unset, and applies
// the persistent flags.
func (a *app) loadConfig() (application.EngineConfig, error) {
	cfg := application.DefaultEngineConfig()
	if a.configPath != "" {
		loaded, err := application.LoadEngineConfig(a.configPath)
		if err != nil {
			return cfg, ports.NewConfigError(a.configPath, err)
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	return cfg, nil
}

// storeCloser is a RunStore that must be closed.
type storeCloser interface {
	ports.RunStore
	Close() error
}

type memoryStore struct{ *store.MemoryStore }

func (memoryStore) Close() error { return nil }

// openStore opens the store named by location: "memory" or a BadgerDB
// directory.
func (a *app) openStore(location string) (storeCloser, error) {
	if location == application.MemoryStore {
		return memoryStore{store.NewMemoryStore()}, nil
	}

	cfg := store.DefaultConfig(location)
	cfg.Logger = a.logger.With(slog.String("component", "badger"))
	s, err := store.OpenBadger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", location, err)
	}
	return s, nil
}
