package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
	"github.com/ahrav/go-veritas/internal/testutils"
)

func TestNew(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrNilClient)
	})

	t.Run("invalid max tokens", func(t *testing.T) {
		_, err := New(testutils.NewScriptedClient("judge", nil), WithMaxTokens(0))
		assert.ErrorContains(t, err, "max tokens must be positive")
	})

	t.Run("invalid template", func(t *testing.T) {
		_, err := New(testutils.NewScriptedClient("judge", nil), WithPromptTemplate("{{.Question"))
		assert.ErrorContains(t, err, "failed to parse judge prompt template")
	})

	t.Run("defaults", func(t *testing.T) {
		j, err := New(testutils.NewScriptedClient("judge-model", nil))
		require.NoError(t, err)
		assert.Equal(t, "judge-model", j.Model())
		assert.Equal(t, DefaultMaxTokens, j.maxTokens)
	})
}

func TestJudge_Grade(t *testing.T) {
	// Given a judge model that returns a structured verdict
	client := testutils.NewScriptedClient("judge", nil).AddResponse(testutils.MockResponse{
		Response: testutils.JudgeJSON(82, "accurate but brief",
			testutils.CriterionReply{Criterion: "accuracy", Score: 55, MaxScore: 60, Met: true},
			testutils.CriterionReply{Criterion: "Completness", Score: 27, MaxScore: 40},
		),
	})
	j, err := New(client)
	require.NoError(t, err)

	// When grading a response
	grade, err := j.Grade(context.Background(), GradeRequest{
		Question:        "Who wrote Hamlet?",
		Response:        "Shakespeare.",
		Rubric:          testutils.BalancedRubric(100),
		ReferenceAnswer: "William Shakespeare",
	})

	// Then the verdict is returned with criteria mapped onto the rubric
	require.NoError(t, err)
	assert.Equal(t, 82.0, grade.Score)
	assert.Equal(t, 100.0, grade.MaxScore)
	assert.Equal(t, "accurate but brief", grade.Reasoning)
	assert.False(t, grade.Fallback)
	require.Len(t, grade.CriteriaScores, 2)
	assert.Equal(t, "Accuracy", grade.CriteriaScores[0].Criterion)
	assert.Equal(t, "Completeness", grade.CriteriaScores[1].Criterion)

	// And the judge was called deterministically with the full prompt
	req := client.Requests()[0]
	assert.Zero(t, req.Temperature)
	assert.Nil(t, req.Seed)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, systemPrompt, req.System)
	assert.Contains(t, req.Prompt, "Who wrote Hamlet?")
	assert.Contains(t, req.Prompt, "Shakespeare.")
	assert.Contains(t, req.Prompt, "Reference answer:\nWilliam Shakespeare")
	assert.Contains(t, req.Prompt, "- Accuracy (weight 0.6, required)")
	assert.Contains(t, req.Prompt, "- Completeness (weight 0.4)")
	assert.Contains(t, req.Prompt, "maximum score 100")
}

func TestJudge_GradeWithoutReferenceAnswer(t *testing.T) {
	client := testutils.NewScriptedClient("judge", nil)
	j, err := New(client)
	require.NoError(t, err)

	_, err = j.Grade(context.Background(), GradeRequest{
		Question: "q",
		Response: "r",
		Rubric:   testutils.BalancedRubric(10),
	})

	require.NoError(t, err)
	assert.NotContains(t, client.Requests()[0].Prompt, "Reference answer")
}

func TestJudge_GradeParseFailureDegradesToZero(t *testing.T) {
	client := testutils.NewScriptedClient("judge", nil).AddResponse(testutils.MockResponse{
		Response: "I am unable to evaluate this.",
	})
	j, err := New(client)
	require.NoError(t, err)

	grade, err := j.Grade(context.Background(), GradeRequest{Question: "q", Response: "r", Rubric: testutils.BalancedRubric(100)})

	require.NoError(t, err, "parse failures must not fail the grade")
	assert.Zero(t, grade.Score)
	assert.True(t, grade.Fallback)
	assert.True(t, strings.HasPrefix(grade.Reasoning, "[parse failure] "))
	assert.Contains(t, grade.Reasoning, "unable to evaluate")
}

func TestJudge_GradePropagatesGenerationErrors(t *testing.T) {
	cause := ports.NewGenerationError("openai", "judge", 3, errors.New("overloaded"))
	client := testutils.NewScriptedClient("judge", nil).FailAfter(0, cause)
	j, err := New(client)
	require.NoError(t, err)

	_, err = j.Grade(context.Background(), GradeRequest{Question: "q", Response: "r", Rubric: testutils.BalancedRubric(100)})

	var genErr *ports.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 3, genErr.Attempts)
}

func TestJudge_GradeRejectsInvalidRubric(t *testing.T) {
	client := testutils.NewScriptedClient("judge", nil)
	j, err := New(client)
	require.NoError(t, err)

	_, err = j.Grade(context.Background(), GradeRequest{Rubric: domain.Rubric{}})

	assert.ErrorIs(t, err, ErrInvalidRubric)
	assert.Zero(t, client.CallCount(), "judge model should not be called")
}

func TestJudge_CustomTemplate(t *testing.T) {
	client := testutils.NewScriptedClient("judge", nil)
	j, err := New(client, WithPromptTemplate("Q={{.Question}} R={{.Response}} MAX={{score .MaxScore}}"), WithMaxTokens(64))
	require.NoError(t, err)

	_, err = j.Grade(context.Background(), GradeRequest{Question: "a", Response: "b", Rubric: testutils.BalancedRubric(7.5)})

	require.NoError(t, err)
	assert.Equal(t, "Q=a R=b MAX=7.5", client.Requests()[0].Prompt)
	assert.Equal(t, 64, client.Requests()[0].MaxTokens)
}
