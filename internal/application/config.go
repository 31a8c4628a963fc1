package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/stats"
)

// Engine configuration defaults.
const (
	DefaultRunsPerQuestion = 3
	MaxRunsPerQuestion     = 10
	DefaultTimeout         = 300 * time.Second
	DefaultMaxTokens       = 1024
	DefaultJudgeModel      = "gpt-4o"
	DefaultStorePath       = ".veritas"
	MemoryStore            = "memory"
)

// EngineConfig is the complete configuration of an evaluation, loaded from
// a YAML file and overridden by command-line flags.
type EngineConfig struct {
	// Model is the model under evaluation, as a bare name or
	// "provider/model".
	Model string `yaml:"model" validate:"required,modelname"`

	// JudgeModel grades every response.
	JudgeModel string `yaml:"judge_model" validate:"required,modelname"`

	// RunsPerQuestion is the number of trials per question/variant pair.
	RunsPerQuestion int `yaml:"runs_per_question" validate:"min=1,max=10"`

	// BenchmarkVersion labels the run. Empty uses the question file's
	// version.
	BenchmarkVersion string `yaml:"benchmark_version" validate:"omitempty,semver"`

	// QuestionsFile is the YAML question set to evaluate.
	QuestionsFile string `yaml:"questions_file" validate:"required"`

	// Timeout bounds each generation attempt.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// MaxTokens caps responses from the model under evaluation.
	MaxTokens int `yaml:"max_tokens" validate:"min=1,max=200000"`

	// Store is a BadgerDB directory, or "memory" for a throwaway store.
	Store string `yaml:"store" validate:"required"`

	// Statistics configures the run-level aggregates.
	Statistics StatisticsConfig `yaml:"statistics"`

	// Providers overrides per-provider settings, keyed by provider name.
	Providers map[string]ProviderSettings `yaml:"providers" validate:"dive"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log"`
}

// StatisticsConfig configures bootstrap confidence intervals.
type StatisticsConfig struct {
	ConfidenceLevel     float64 `yaml:"confidence_level" validate:"gt=0,lt=1"`
	BootstrapIterations int     `yaml:"bootstrap_iterations" validate:"min=100,max=1000000"`

	// Seed makes bootstrap intervals reproducible. Nil seeds randomly.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// ProviderSettings overrides the built-in settings of one provider.
type ProviderSettings struct {
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"omitempty,min=1,max=100000"`
	BaseURL           string `yaml:"base_url" validate:"omitempty,url"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DefaultEngineConfig returns a configuration with every optional field set
// to its default.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		JudgeModel:      DefaultJudgeModel,
		RunsPerQuestion: DefaultRunsPerQuestion,
		Timeout:         DefaultTimeout,
		MaxTokens:       DefaultMaxTokens,
		Store:           DefaultStorePath,
		Statistics: StatisticsConfig{
			ConfidenceLevel:     stats.DefaultConfidenceLevel,
			BootstrapIterations: stats.DefaultIterations,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadEngineConfig reads the YAML file at path over DefaultEngineConfig.
// Unknown fields are rejected. The result is not validated so that flags
// can still fill required fields.
func LoadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	return DecodeEngineConfig(bytes.NewReader(data))
}

// DecodeEngineConfig decodes YAML from r over DefaultEngineConfig.
func DecodeEngineConfig(r io.Reader) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return EngineConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. Failures are reported together as a
// *domain.ValidationError wrapped with domain.ErrInvalidConfiguration.
func (c EngineConfig) Validate() error {
	v, err := newValidator()
	if err != nil {
		return err
	}

	err = v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	verr := domain.NewValidationError("EngineConfig")
	for _, fe := range fieldErrs {
		verr.AddError(fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, verr)
}

// UsesMemoryStore reports whether the run state is kept in memory only.
func (c EngineConfig) UsesMemoryStore() bool { return c.Store == MemoryStore }
