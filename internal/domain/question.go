// Package domain defines the benchmark model: questions and their rubrics,
// evaluation runs, trials and the aggregates computed from them.
package domain

import (
	"fmt"
	"math"
)

// Variant identifies one phrasing of a benchmark question.
type Variant string

const (
	// VariantExplicit is the direct phrasing of a question.
	VariantExplicit Variant = "explicit"
	// VariantImplicit is the indirect phrasing of the same question.
	VariantImplicit Variant = "implicit"
)

// Variants lists every variant in evaluation order. Explicit always runs
// before implicit.
var Variants = []Variant{VariantExplicit, VariantImplicit}

// String returns the string representation of the variant.
func (v Variant) String() string { return string(v) }

// Valid reports whether v is one of the known variants.
func (v Variant) Valid() bool {
	return v == VariantExplicit || v == VariantImplicit
}

// Order returns the position of v in the evaluation order, or -1 for an
// unknown variant.
func (v Variant) Order() int {
	for i, known := range Variants {
		if v == known {
			return i
		}
	}
	return -1
}

// Pillar is one of the four top-level subject categories a question belongs
// to.
type Pillar int

// MinPillar and MaxPillar bound the pillar classification.
const (
	MinPillar Pillar = 1
	MaxPillar Pillar = 4
)

// Valid reports whether the pillar is within [MinPillar, MaxPillar].
func (p Pillar) Valid() bool { return p >= MinPillar && p <= MaxPillar }

// WeightTolerance is the allowed deviation of a rubric's criteria weight sum
// from 1.0 before a warning is raised.
const WeightTolerance = 0.01

// Criterion is a single named grading dimension of a rubric.
type Criterion struct {
	// Name identifies the criterion in judge prompts and judge output.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Weight is the criterion's share of the total score in [0, 1].
	Weight float64 `json:"weight" yaml:"weight" validate:"min=0,max=1"`

	// Required marks criteria that an answer must satisfy to score well.
	Required bool `json:"required" yaml:"required"`

	// Description optionally explains what the judge should look for.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Rubric defines how a response to one question variant is graded.
type Rubric struct {
	// MaxScore is the highest score a response can receive.
	MaxScore float64 `json:"max_score" yaml:"max_score" validate:"gt=0"`

	// Criteria is the ordered set of grading criteria.
	Criteria []Criterion `json:"criteria" yaml:"criteria" validate:"required,min=1,dive"`
}

// WeightSum returns the sum of all criteria weights.
func (r Rubric) WeightSum() float64 {
	var sum float64
	for _, c := range r.Criteria {
		sum += c.Weight
	}
	return sum
}

// CheckWeights returns a *WeightWarning when the criteria weights do not sum
// to 1.0 within WeightTolerance. A mismatch never invalidates the rubric.
func (r Rubric) CheckWeights() *WeightWarning {
	sum := r.WeightSum()
	if math.Abs(sum-1.0) <= WeightTolerance {
		return nil
	}
	return &WeightWarning{Sum: sum}
}

// VariantSpec holds the text and rubric for one variant of a question.
type VariantSpec struct {
	// Text is the prompt sent to the model under evaluation.
	Text string `json:"text" yaml:"text" validate:"required"`

	// Rubric grades responses to Text.
	Rubric Rubric `json:"rubric" yaml:"rubric" validate:"required"`
}

// Question is an immutable benchmark item with one rubric per variant.
type Question struct {
	// ID uniquely identifies the question within a benchmark version.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Pillar is the subject category (1-4).
	Pillar Pillar `json:"pillar" yaml:"pillar" validate:"min=1,max=4"`

	// TruthHierarchy is the 1-4 authoritativeness class. It is carried for
	// reporting and is not applied when aggregating scores.
	TruthHierarchy int `json:"truth_hierarchy" yaml:"truth_hierarchy" validate:"min=1,max=4"`

	// ImportanceWeight is the relative importance of the question. Like
	// TruthHierarchy it is not applied when aggregating scores.
	ImportanceWeight float64 `json:"importance_weight" yaml:"importance_weight" validate:"gt=0"`

	// Explicit is the direct phrasing of the question.
	Explicit VariantSpec `json:"explicit" yaml:"explicit" validate:"required"`

	// Implicit is the indirect phrasing of the question.
	Implicit VariantSpec `json:"implicit" yaml:"implicit" validate:"required"`

	// ReferenceAnswer optionally guides the judge.
	ReferenceAnswer string `json:"reference_answer,omitempty" yaml:"reference_answer,omitempty"`
}

// Variant returns the specification for v.
func (q Question) Variant(v Variant) (VariantSpec, error) {
	switch v {
	case VariantExplicit:
		return q.Explicit, nil
	case VariantImplicit:
		return q.Implicit, nil
	default:
		return VariantSpec{}, fmt.Errorf("question %s: unknown variant %q", q.ID, v)
	}
}

// PairKey identifies a (question, variant) pair, the unit of resumability.
type PairKey struct {
	QuestionID string
	Variant    Variant
}

// String returns the key in "question/variant" form.
func (k PairKey) String() string { return k.QuestionID + "/" + string(k.Variant) }
