package testutils

import (
	"fmt"

	"github.com/ahrav/go-veritas/internal/domain"
)

// BalancedRubric returns a two-criterion rubric whose weights sum to 1.0.
func BalancedRubric(maxScore float64) domain.Rubric {
	return domain.Rubric{
		MaxScore: maxScore,
		Criteria: []domain.Criterion{
			{Name: "Accuracy", Weight: 0.6, Required: true},
			{Name: "Completeness", Weight: 0.4},
		},
	}
}

// Questions returns n valid questions cycling through the four pillars.
// Question i has ID "q<i>" and variant texts that contain the ID, so
// scripted clients can key replies on it.
func Questions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range n {
		id := fmt.Sprintf("q%d", i+1)
		qs[i] = domain.Question{
			ID:               id,
			Pillar:           domain.Pillar(i%4 + 1),
			TruthHierarchy:   i%4 + 1,
			ImportanceWeight: 1,
			Explicit: domain.VariantSpec{
				Text:   fmt.Sprintf("[%s explicit] State the facts about topic %d.", id, i+1),
				Rubric: BalancedRubric(100),
			},
			Implicit: domain.VariantSpec{
				Text:   fmt.Sprintf("[%s implicit] What would you say about topic %d?", id, i+1),
				Rubric: BalancedRubric(100),
			},
			ReferenceAnswer: fmt.Sprintf("Reference answer %d.", i+1),
		}
	}
	return qs
}
