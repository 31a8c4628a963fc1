package domain

import (
	"errors"
	"fmt"
	"math"
)

// Common domain errors that can occur while configuring or resuming runs.
var (
	// ErrRunNotFound indicates that a run referenced for resumption does not
	// exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyCompleted indicates an attempt to resume a completed run.
	ErrRunAlreadyCompleted = errors.New("run already completed")

	// ErrRunNotResumable indicates an attempt to resume a run in a terminal
	// state other than completed.
	ErrRunNotResumable = errors.New("run is not resumable")

	// ErrResumeMismatch indicates that the resumed run belongs to a
	// different model or benchmark version than requested.
	ErrResumeMismatch = errors.New("resume target does not match request")

	// ErrNotFound indicates that a stored record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoQuestions indicates that the question source returned nothing.
	ErrNoQuestions = errors.New("no questions to evaluate")

	// ErrInvalidConfiguration indicates that configuration is invalid or
	// incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// WeightWarning reports a rubric whose criteria weights do not sum to 1.0.
// It is informational: rubrics with a warning are still evaluated.
type WeightWarning struct {
	// QuestionID and Variant locate the rubric when known.
	QuestionID string
	Variant    Variant

	// Sum is the observed criteria weight sum.
	Sum float64
}

// Error implements the error interface so warnings can be joined and logged
// like other diagnostics.
func (w *WeightWarning) Error() string {
	if w.QuestionID == "" {
		return fmt.Sprintf("rubric criteria weights sum to %.3f, expected 1.0", w.Sum)
	}
	return fmt.Sprintf("rubric for %s/%s: criteria weights sum to %.3f, expected 1.0",
		w.QuestionID, w.Variant, w.Sum)
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// CheckRubricWeights returns a warning for every rubric in questions whose
// criteria weights do not sum to 1.0.
func CheckRubricWeights(questions []Question) []*WeightWarning {
	var warnings []*WeightWarning
	for _, q := range questions {
		for _, v := range Variants {
			spec, err := q.Variant(v)
			if err != nil {
				continue
			}
			if w := spec.Rubric.CheckWeights(); w != nil {
				w.QuestionID = q.ID
				w.Variant = v
				warnings = append(warnings, w)
			}
		}
	}
	return warnings
}

// ValidateRubrics reports every rubric in questions that cannot produce a
// score: a non-positive or non-finite MaxScore, or no criteria. Failures are
// returned together as a *ValidationError.
func ValidateRubrics(questions []Question) error {
	verr := NewValidationError("Questions")
	for _, q := range questions {
		for _, v := range Variants {
			spec, err := q.Variant(v)
			if err != nil {
				continue
			}
			r := spec.Rubric
			if !(r.MaxScore > 0) || math.IsInf(r.MaxScore, 0) {
				verr.AddError(fmt.Sprintf("question %s (%s): max score must be positive, got %g", q.ID, v, r.MaxScore))
			}
			if len(r.Criteria) == 0 {
				verr.AddError(fmt.Sprintf("question %s (%s): rubric has no criteria", q.ID, v))
			}
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}
