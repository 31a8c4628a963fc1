package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightWarning(t *testing.T) {
	t.Run("without location", func(t *testing.T) {
		w := &WeightWarning{Sum: 1.1}
		assert.Equal(t, "rubric criteria weights sum to 1.100, expected 1.0", w.Error())
	})

	t.Run("with location", func(t *testing.T) {
		w := &WeightWarning{QuestionID: "q1", Variant: VariantImplicit, Sum: 0.9}
		assert.Equal(t, "rubric for q1/implicit: criteria weights sum to 0.900, expected 1.0", w.Error())
	})

	t.Run("matches with errors.As", func(t *testing.T) {
		var err error = &WeightWarning{Sum: 2}
		var target *WeightWarning
		require.True(t, errors.As(err, &target))
		assert.InDelta(t, 2.0, target.Sum, 1e-9)
	})
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Question")
		err.AddError("missing id")

		assert.Equal(t, "validation error for Question: missing id", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Question")
		err.AddError("missing id")
		err.AddError("invalid pillar")

		assert.Equal(t, "validation errors for Question: [missing id invalid pillar]", err.Error())
		assert.Len(t, err.Errors, 2)
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Question")
		assert.False(t, err.HasErrors(), "Should not have errors")
	})
}

func TestCheckRubricWeights(t *testing.T) {
	balanced := Rubric{MaxScore: 100, Criteria: []Criterion{{Name: "a", Weight: 0.5}, {Name: "b", Weight: 0.5}}}
	heavy := Rubric{MaxScore: 100, Criteria: []Criterion{{Name: "a", Weight: 0.5}, {Name: "b", Weight: 0.6}}}

	questions := []Question{
		{ID: "q1", Explicit: VariantSpec{Text: "x", Rubric: balanced}, Implicit: VariantSpec{Text: "y", Rubric: heavy}},
		{ID: "q2", Explicit: VariantSpec{Text: "x", Rubric: balanced}, Implicit: VariantSpec{Text: "y", Rubric: balanced}},
	}

	warnings := CheckRubricWeights(questions)

	require.Len(t, warnings, 1, "only the unbalanced rubric should warn")
	assert.Equal(t, "q1", warnings[0].QuestionID)
	assert.Equal(t, VariantImplicit, warnings[0].Variant)
	assert.InDelta(t, 1.1, warnings[0].Sum, 1e-9)
}

func TestValidateRubrics(t *testing.T) {
	valid := Rubric{MaxScore: 10, Criteria: []Criterion{{Name: "a", Weight: 1}}}

	tests := []struct {
		name     string
		rubric   Rubric
		wantErrs int
	}{
		{name: "valid rubric", rubric: valid, wantErrs: 0},
		{name: "zero max score", rubric: Rubric{MaxScore: 0, Criteria: valid.Criteria}, wantErrs: 1},
		{name: "negative max score", rubric: Rubric{MaxScore: -5, Criteria: valid.Criteria}, wantErrs: 1},
		{name: "NaN max score", rubric: Rubric{MaxScore: math.NaN(), Criteria: valid.Criteria}, wantErrs: 1},
		{name: "no criteria", rubric: Rubric{MaxScore: 10}, wantErrs: 1},
		{name: "empty rubric", rubric: Rubric{}, wantErrs: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a question whose implicit variant uses the rubric
			questions := []Question{{
				ID:       "q1",
				Explicit: VariantSpec{Text: "x", Rubric: valid},
				Implicit: VariantSpec{Text: "y", Rubric: tt.rubric},
			}}

			// When validating
			err := ValidateRubrics(questions)

			// Then only the broken rubric is reported
			if tt.wantErrs == 0 {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, verr.Errors, tt.wantErrs)
			assert.Contains(t, verr.Errors[0], "question q1 (implicit)")
		})
	}
}
