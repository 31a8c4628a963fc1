// Package judge grades model responses against a rubric by asking a judge
// model for a structured verdict.
//
// The judge prompt lists the rubric criteria with their weights and, when
// available, a reference answer. The reply is parsed as JSON first; when the
// judge ignores the requested format a score is recovered from free text,
// and when nothing can be recovered the response scores zero. Parsing never
// fails a grade. Only errors from the judge model itself are returned.
package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

// Configuration defaults for the judge.
const (
	// DefaultMaxTokens bounds the judge's reply. Criteria breakdowns for
	// long rubrics need more room than a bare score.
	DefaultMaxTokens = 2048

	// excerptLength caps the raw reply kept as reasoning after a parse
	// failure.
	excerptLength = 500
)

// systemPrompt frames every grading request.
const systemPrompt = "You are a strict, impartial grader. You evaluate a response " +
	"against a rubric and reply only with the JSON object you are asked for."

const defaultPromptTemplate = `Grade the response below against the rubric.

Question:
{{.Question}}

Response:
{{.Response}}
{{if .ReferenceAnswer}}
Reference answer:
{{.ReferenceAnswer}}
{{end}}
Rubric (maximum score {{score .MaxScore}}):
{{range .Criteria}}- {{.Name}} (weight {{score .Weight}}{{if .Required}}, required{{end}}){{if .Description}}: {{.Description}}{{end}}
{{end}}
Evaluate every criterion, then give a final score between 0 and {{score .MaxScore}}.
Respond with valid JSON in exactly this format:
{"criteria_evaluations": [{"criterion": "<name>", "score": <number>, "max_score": <number>, "met": <true|false>, "reasoning": "<explanation>"}], "overall_reasoning": "<explanation>", "final_score": <number>}`

var (
	// ErrNilClient is returned when a judge is created without a client.
	ErrNilClient = errors.New("judge client cannot be nil")

	// ErrInvalidRubric is returned when a rubric cannot produce a score.
	ErrInvalidRubric = errors.New("rubric max score must be positive")
)

// GradeRequest is one response to be graded.
type GradeRequest = ports.GradeRequest

// promptData is the template input for a grading prompt.
type promptData struct {
	Question        string
	Response        string
	ReferenceAnswer string
	MaxScore        float64
	Criteria        []domain.Criterion
}

var _ ports.Grader = (*Judge)(nil)

// Judge grades responses through a judge model. A Judge holds no mutable
// state and is safe for concurrent use.
type Judge struct {
	client    ports.GenerationClient
	prompt    *template.Template
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Judge.
type Option func(*Judge) error

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) Option {
	return func(j *Judge) error {
		if n <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", n)
		}
		j.maxTokens = n
		return nil
	}
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(j *Judge) error {
		if l != nil {
			j.logger = l
		}
		return nil
	}
}

// WithPromptTemplate replaces the grading prompt. The template receives
// Question, Response, ReferenceAnswer, MaxScore and Criteria, and may use
// the score function to format numbers.
func WithPromptTemplate(text string) Option {
	return func(j *Judge) error {
		tmpl, err := parseTemplate(text)
		if err != nil {
			return err
		}
		j.prompt = tmpl
		return nil
	}
}

// New creates a Judge that grades through client.
func New(client ports.GenerationClient, opts ...Option) (*Judge, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	tmpl, err := parseTemplate(defaultPromptTemplate)
	if err != nil {
		return nil, err
	}

	j := &Judge{
		client:    client,
		prompt:    tmpl,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func parseTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("judge").
		Funcs(template.FuncMap{"score": formatScore}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse judge prompt template: %w", err)
	}
	return tmpl, nil
}

// Model returns the judge model identifier.
func (j *Judge) Model() string { return j.client.Model() }

// Grade asks the judge model to score req.Response. The judge runs at
// temperature 0. A reply that cannot be parsed yields a zero score rather
// than an error; errors from the judge model are returned unchanged.
func (j *Judge) Grade(ctx context.Context, req GradeRequest) (domain.Grade, error) {
	if req.Rubric.MaxScore <= 0 {
		return domain.Grade{}, ErrInvalidRubric
	}

	prompt, err := j.buildPrompt(req)
	if err != nil {
		return domain.Grade{}, err
	}

	reply, err := j.client.Generate(ctx, ports.GenerationRequest{
		Prompt:      prompt,
		System:      systemPrompt,
		MaxTokens:   j.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return domain.Grade{}, fmt.Errorf("judge %s: %w", j.client.Model(), err)
	}

	grade := Parse(reply, req.Rubric)
	if grade.Fallback {
		j.logger.DebugContext(ctx, "judge reply was not structured",
			slog.String("judge_model", j.client.Model()),
			slog.Float64("score", grade.Score),
			slog.Int("reply_length", len(reply)),
		)
	}
	return grade, nil
}

func (j *Judge) buildPrompt(req GradeRequest) (string, error) {
	var buf bytes.Buffer
	err := j.prompt.Execute(&buf, promptData{
		Question:        req.Question,
		Response:        req.Response,
		ReferenceAnswer: req.ReferenceAnswer,
		MaxScore:        req.Rubric.MaxScore,
		Criteria:        req.Rubric.Criteria,
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute judge prompt template: %w", err)
	}
	return buf.String(), nil
}

// formatScore prints a number without trailing zeros.
func formatScore(v float64) string {
	return fmt.Sprintf("%g", v)
}
