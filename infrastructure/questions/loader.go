// Package questions loads benchmark question sets from YAML files.
package questions

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.QuestionSource = (*FileSource)(nil)

// File is the on-disk layout of a question set.
type File struct {
	// Version is the benchmark version in X.Y.Z form.
	Version string `yaml:"version" validate:"required,semver"`

	// Questions are evaluated in file order.
	Questions []domain.Question `yaml:"questions" validate:"required,min=1,dive"`
}

// Benchmark is a validated question set.
// Benchmarks returned by a Loader are shared through its cache and must
// not be mutated.
type Benchmark struct {
	Version   string
	Questions []domain.Question

	// Warnings lists rubrics whose criteria weights do not sum to 1.0.
	// The loader does not log them.
	Warnings []*domain.WeightWarning
}

// Loader parses and validates question files, caching results by the
// SHA-256 of the normalized content.
// Loader is safe for concurrent use.
type Loader struct {
	validator *validator.Validate
	logger    *slog.Logger

	// cache maps content hash to a loaded benchmark.
	cache   map[string]*Benchmark
	cacheMu sync.RWMutex
	// sf prevents duplicate validation when multiple goroutines load the
	// same content simultaneously.
	sf singleflight.Group
}

// NewLoader creates a Loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return nil, fmt.Errorf("failed to register semver validator: %w", err)
	}

	return &Loader{
		validator: v,
		logger:    logger,
		cache:     make(map[string]*Benchmark),
	}, nil
}

// LoadFromFile loads the question set at path.
func (l *Loader) LoadFromFile(ctx context.Context, path string) (*Benchmark, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.load(ctx, data)
}

// LoadFromReader loads a question set from r.
func (l *Loader) LoadFromReader(ctx context.Context, r io.Reader) (*Benchmark, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return l.load(ctx, data)
}

func (l *Loader) load(ctx context.Context, data []byte) (*Benchmark, error) {
	file, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := contentHash(file)
	if err != nil {
		return nil, err
	}

	v, err, _ := l.sf.Do(hash, func() (any, error) {
		if b, ok := l.cached(hash); ok {
			return b, nil
		}

		if err := l.validate(file); err != nil {
			return nil, err
		}

		b := &Benchmark{
			Version:   file.Version,
			Questions: file.Questions,
			Warnings:  domain.CheckRubricWeights(file.Questions),
		}
		// Weight warnings are returned, not logged; the orchestrator logs
		// them once per run.
		l.logger.DebugContext(ctx, "question file loaded",
			slog.String("version", b.Version),
			slog.Int("questions", len(b.Questions)),
			slog.Int("weight_warnings", len(b.Warnings)),
		)

		l.store(hash, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Benchmark), nil
}

// parseYAML decodes strictly so that misspelled fields are reported.
func parseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty question file")
		}
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &f, nil
}

// validate checks struct tags and question ID uniqueness. Failures are
// reported together as a *domain.ValidationError.
func (l *Loader) validate(f *File) error {
	verr := domain.NewValidationError("QuestionFile")

	if err := l.validator.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("struct validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.AddError(fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	seen := make(map[string]int, len(f.Questions))
	for i, q := range f.Questions {
		if q.ID == "" {
			continue
		}
		if prev, ok := seen[q.ID]; ok {
			verr.AddError(fmt.Sprintf("duplicate question ID %q at positions %d and %d", q.ID, prev, i))
			continue
		}
		seen[q.ID] = i
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// contentHash hashes the re-encoded file so formatting differences do not
// defeat the cache.
func contentHash(f *File) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return "", fmt.Errorf("failed to encode questions for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (l *Loader) cached(hash string) (*Benchmark, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	b, ok := l.cache[hash]
	return b, ok
}

func (l *Loader) store(hash string, b *Benchmark) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache[hash] = b
}

// ClearCache drops every cached benchmark.
func (l *Loader) ClearCache() {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache = make(map[string]*Benchmark)
}

// validateSemver accepts X.Y.Z with non-negative integer parts.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(fl.Field().String(), "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

// FileSource serves the questions of one file as a ports.QuestionSource.
type FileSource struct {
	loader *Loader
	path   string
}

// NewFileSource returns a source for the file at path.
func NewFileSource(loader *Loader, path string) *FileSource {
	return &FileSource{loader: loader, path: path}
}

// Benchmark loads the full benchmark, including its version and warnings.
func (s *FileSource) Benchmark(ctx context.Context) (*Benchmark, error) {
	return s.loader.LoadFromFile(ctx, s.path)
}

// Questions returns the file's questions in order.
func (s *FileSource) Questions(ctx context.Context) ([]domain.Question, error) {
	b, err := s.Benchmark(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(b.Questions), nil
}

// StaticSource serves a fixed slice of questions.
type StaticSource []domain.Question

// Questions returns a copy of the slice.
func (s StaticSource) Questions(context.Context) ([]domain.Question, error) {
	return slices.Clone([]domain.Question(s)), nil
}
