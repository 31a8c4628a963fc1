package domain

import "time"

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

const (
	// RunStatusRunning marks a run that is in progress or was interrupted
	// and can be resumed.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted marks a run whose aggregates have been persisted.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed marks a run that stopped on an unrecoverable error.
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Model is the identity record of a model under evaluation.
type Model struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluationRun is one execution of a model against a benchmark version.
// It is mutated after every completed question/variant pair.
type EvaluationRun struct {
	ID               string    `json:"id"`
	ModelID          string    `json:"model_id"`
	ModelName        string    `json:"model_name"`
	BenchmarkVersion string    `json:"benchmark_version"`
	Status           RunStatus `json:"status"`

	// RunsPerQuestion is the number of trials per question/variant pair.
	RunsPerQuestion int `json:"runs_per_question"`

	// TotalQuestions is the number of questions in the benchmark.
	TotalQuestions int `json:"total_questions"`

	// CurrentQuestion is the 1-based index of the question most recently
	// worked on.
	CurrentQuestion   int     `json:"current_question"`
	CurrentQuestionID string  `json:"current_question_id,omitempty"`
	CurrentVariant    Variant `json:"current_variant,omitempty"`

	// ResponsesCompleted counts completed question/variant pairs.
	ResponsesCompleted int `json:"responses_completed"`

	// RunningAverageScore is sum(mean)/sum(max) over completed pairs, as a
	// percentage.
	RunningAverageScore float64 `json:"running_average_score"`

	EstimatedSecondsRemaining float64 `json:"estimated_seconds_remaining"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TotalPairs returns the number of question/variant pairs in the run.
func (r *EvaluationRun) TotalPairs() int { return r.TotalQuestions * len(Variants) }

// CriterionScore is the judge's assessment of a single rubric criterion.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score,omitempty"`
	Met       bool    `json:"met"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Grade is the judge's verdict on one response.
type Grade struct {
	Score          float64          `json:"score"`
	MaxScore       float64          `json:"max_score"`
	Reasoning      string           `json:"reasoning"`
	CriteriaScores []CriterionScore `json:"criteria_scores,omitempty"`

	// Fallback is set when the score was recovered from free text instead
	// of structured judge output.
	Fallback bool `json:"fallback,omitempty"`
}

// Trial is one generation and grading attempt for a question/variant pair.
// Trial 1 is the deterministic baseline.
type Trial struct {
	RunID          string           `json:"run_id"`
	QuestionID     string           `json:"question_id"`
	Variant        Variant          `json:"variant"`
	TrialNumber    int              `json:"trial_number"`
	Response       string           `json:"response"`
	Score          float64          `json:"score"`
	MaxScore       float64          `json:"max_score"`
	Reasoning      string           `json:"reasoning"`
	CriteriaScores []CriterionScore `json:"criteria_scores,omitempty"`
	Temperature    float64          `json:"temperature"`
	Seed           *int             `json:"seed,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AggregatedResponse summarises all trials of a question/variant pair.
// Its presence in storage marks the pair as completed.
type AggregatedResponse struct {
	RunID      string  `json:"run_id"`
	QuestionID string  `json:"question_id"`
	Variant    Variant `json:"variant"`
	Pillar     Pillar  `json:"pillar"`

	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	CV         float64 `json:"cv"`
	MaxScore   float64 `json:"max_score"`
	TrialCount int     `json:"trial_count"`

	// Response and Reasoning come from trial 1.
	Response  string `json:"response"`
	Reasoning string `json:"reasoning"`

	CreatedAt time.Time `json:"created_at"`
}

// Key returns the pair key of the aggregated response.
func (a AggregatedResponse) Key() PairKey {
	return PairKey{QuestionID: a.QuestionID, Variant: a.Variant}
}

// NormalizedScore returns the mean expressed on a 0-100 scale.
func (a AggregatedResponse) NormalizedScore() float64 {
	if a.MaxScore <= 0 {
		return 0
	}
	return a.Mean / a.MaxScore * 100
}

// PillarScore is the run-level aggregate for one pillar.
type PillarScore struct {
	RunID         string  `json:"run_id"`
	Pillar        Pillar  `json:"pillar"`
	Score         float64 `json:"score"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
	Variance      float64 `json:"variance"`
	ResponseCount int     `json:"response_count"`
}

// ModelScore is the run-level aggregate across every pair.
type ModelScore struct {
	RunID   string `json:"run_id"`
	ModelID string `json:"model_id"`

	OverallScore float64 `json:"overall_score"`

	// WeightedScore currently equals OverallScore. Question hierarchy and
	// importance weights are not applied.
	WeightedScore float64 `json:"weighted_score"`

	CILower          float64 `json:"ci_lower"`
	CIUpper          float64 `json:"ci_upper"`
	Variance         float64 `json:"variance"`
	ConsistencyScore float64 `json:"consistency_score"`
	ResponseCount    int     `json:"response_count"`
}

// ProgressEvent is emitted after every completed pair and when a run ends.
type ProgressEvent struct {
	RunID                     string    `json:"run_id"`
	ModelID                   string    `json:"model_id"`
	Status                    RunStatus `json:"status"`
	CurrentQuestion           int       `json:"current_question"`
	TotalQuestions            int       `json:"total_questions"`
	CurrentQuestionID         string    `json:"current_question_id"`
	CurrentVariant            Variant   `json:"current_variant"`
	CompletedPairs            int       `json:"completed_pairs"`
	RunningAverageScore       float64   `json:"running_average_score"`
	EstimatedSecondsRemaining float64   `json:"estimated_seconds_remaining"`
	StartedAt                 time.Time `json:"started_at"`
}

// ProgressFromRun builds a progress event from the current run state.
func ProgressFromRun(run *EvaluationRun) ProgressEvent {
	return ProgressEvent{
		RunID:                     run.ID,
		ModelID:                   run.ModelID,
		Status:                    run.Status,
		CurrentQuestion:           run.CurrentQuestion,
		TotalQuestions:            run.TotalQuestions,
		CurrentQuestionID:         run.CurrentQuestionID,
		CurrentVariant:            run.CurrentVariant,
		CompletedPairs:            run.ResponsesCompleted,
		RunningAverageScore:       run.RunningAverageScore,
		EstimatedSecondsRemaining: run.EstimatedSecondsRemaining,
		StartedAt:                 run.StartedAt,
	}
}
