package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func TestNormalizeStripsCaseAndPunctuation(t *testing.T) {
	assert.Equal(t, "the cell's powerhouse", Normalize("The Cell's Powerhouse!"))
	assert.Equal(t, "h2o  water", Normalize("H2O = Water."))
	assert.Equal(t, "", Normalize(".,;:!"))
}

func TestKeywordsDistinctAndMinLength(t *testing.T) {
	// "is" and "of" fall under the length floor; "the" repeats.
	kws := Keywords("The mitochondria is the powerhouse of the cell.")
	assert.Equal(t, []string{"the", "mitochondria", "powerhouse", "cell"}, kws)

	assert.Empty(t, Keywords("a an of"))
	assert.Empty(t, Keywords(""))
}

func TestScoreShortAnswerTiers(t *testing.T) {
	// 5 keywords: mitochondria, powerhouse, cell, organelle, energy.
	modelAnswer := "Mitochondria: powerhouse cell organelle, energy."

	cases := []struct {
		name      string
		submitted string
		want      int
	}{
		{"all five", "the mitochondria is the powerhouse organelle of the cell and makes energy", 10},
		{"four of five", "mitochondria powerhouse cell organelle", 10}, // 0.8 tier
		{"three of five", "mitochondria powerhouse cell", 8},           // 0.6 tier
		{"two of five", "mitochondria powerhouse", 5},                  // 0.4 tier
		{"one of five", "mitochondria!!", 3},                           // 0.2 tier
		{"no keywords", "no idea", 0},
		{"empty", "", 0},
		{"whitespace only", "   ", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ScoreShortAnswer(tc.submitted, modelAnswer, 10))
		})
	}
}

func TestScoreShortAnswerPartialCreditRounds(t *testing.T) {
	// 3 keywords, 2 matched: ratio 0.667 lands in the 0.75 tier, and
	// 0.75 * 4 points rounds to 3.
	got := ScoreShortAnswer("it was fast and loud", "fast furious loud", 4)
	assert.Equal(t, 3, got)
}

func TestScoreShortAnswerContainmentIsSubstring(t *testing.T) {
	// "cell" matches inside "cellular".
	assert.Equal(t, 10, ScoreShortAnswer("cellular", "cell", 10))
}

func TestScoreObjectiveExactIndexMatch(t *testing.T) {
	q, err := model.NewMultipleChoice("Pick one.", 5, []string{"a", "b", "c"}, 1)
	require.NoError(t, err)

	assert.Equal(t, 5, ScoreObjective("1", &q))
	assert.Equal(t, 0, ScoreObjective("0", &q))
	assert.Equal(t, 0, ScoreObjective("", &q))
	assert.Equal(t, 0, ScoreObjective("b", &q))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 80, Percentage(4, 5))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 0, Percentage(0, 10))
	assert.Equal(t, 100, Percentage(10, 10))
	assert.Equal(t, 0, Percentage(5, 0))
}

func testExam(t *testing.T) *model.Exam {
	t.Helper()
	mc, err := model.NewMultipleChoice("What is 2+2?", 1, []string{"3", "4"}, 1)
	require.NoError(t, err)
	sa, err := model.NewShortAnswer("Describe the car.", 4, "fast furious loud")
	require.NoError(t, err)
	return &model.Exam{
		ID:              uuid.New(),
		Title:           "Demo",
		DurationMinutes: 30,
		Questions:       []model.Question{mc, sa},
	}
}

func TestEvaluateMixedExam(t *testing.T) {
	exam := testExam(t)
	answers := map[string]string{
		exam.Questions[0].ID.String(): "1",
		exam.Questions[1].ID.String(): "it was fast and loud",
	}

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	sub := Evaluate(exam, 7, answers, nil, start, start.Add(22*time.Minute))

	assert.Equal(t, 4, sub.Score)
	assert.Equal(t, 5, sub.MaxScore)
	assert.Equal(t, 80, sub.Percentage)
	assert.True(t, sub.NeedsEvaluation)
	assert.False(t, sub.EvaluationComplete)
	assert.Equal(t, 22, sub.TimeTakenMinutes)
	assert.Equal(t, 7, sub.StudentID)
	assert.Equal(t, exam.ID, sub.ExamID)
}

func TestEvaluateObjectiveOnlyNeedsNoEvaluation(t *testing.T) {
	q, err := model.NewTrueFalse("Go has generics.", 2, 0)
	require.NoError(t, err)
	exam := &model.Exam{ID: uuid.New(), Title: "Quiz", DurationMinutes: 10, Questions: []model.Question{q}}

	sub := Evaluate(exam, 7, map[string]string{q.ID.String(): "0"}, nil, time.Now(), time.Now())
	assert.False(t, sub.NeedsEvaluation)
	assert.True(t, sub.EvaluationComplete)
	assert.Equal(t, 2, sub.Score)
	assert.Equal(t, 100, sub.Percentage)
}

func TestEvaluateCopiesWarnings(t *testing.T) {
	exam := testExam(t)
	warnings := []model.Warning{{Type: model.WarningTabSwitch, At: time.Now()}}

	sub := Evaluate(exam, 7, nil, warnings, time.Now(), time.Now())
	require.Len(t, sub.Warnings, 1)
	assert.Equal(t, 1, sub.WarningCount)

	warnings[0].Type = model.WarningNoFace
	assert.Equal(t, model.WarningTabSwitch, sub.Warnings[0].Type)
}

func TestApplyManualScoresReplacesHeuristic(t *testing.T) {
	exam := testExam(t)
	saID := exam.Questions[1].ID.String()
	answers := map[string]string{
		exam.Questions[0].ID.String(): "1",
		saID:                          "it was fast and loud",
	}
	sub := Evaluate(exam, 7, answers, nil, time.Now(), time.Now())
	require.Equal(t, 4, sub.Score)

	ApplyManualScores(sub, exam, map[string]int{saID: 2})
	assert.Equal(t, 3, sub.Score)
	assert.Equal(t, 60, sub.Percentage)
	assert.False(t, sub.NeedsEvaluation)
	assert.True(t, sub.EvaluationComplete)
}

func TestApplyManualScoresClampsToQuestionPoints(t *testing.T) {
	exam := testExam(t)
	saID := exam.Questions[1].ID.String()
	sub := Evaluate(exam, 7, map[string]string{saID: "fast"}, nil, time.Now(), time.Now())

	ApplyManualScores(sub, exam, map[string]int{saID: 99})
	assert.Equal(t, 4, sub.Score)

	ApplyManualScores(sub, exam, map[string]int{saID: -3})
	assert.Equal(t, 0, sub.Score)
}

func TestApplyManualScoresIgnoresObjectiveOverride(t *testing.T) {
	exam := testExam(t)
	mcID := exam.Questions[0].ID.String()
	saID := exam.Questions[1].ID.String()
	sub := Evaluate(exam, 7, map[string]string{mcID: "0"}, nil, time.Now(), time.Now())

	ApplyManualScores(sub, exam, map[string]int{mcID: 1, saID: 2})
	// The wrong multiple-choice answer stays at zero; only the manual
	// short-answer score counts.
	assert.Equal(t, 2, sub.Score)
}

func TestApplyManualScoresKeepsHeuristicForUnscored(t *testing.T) {
	exam := testExam(t)
	saID := exam.Questions[1].ID.String()
	sub := Evaluate(exam, 7, map[string]string{saID: "it was fast and loud"}, nil, time.Now(), time.Now())

	ApplyManualScores(sub, exam, map[string]int{})
	assert.Equal(t, 3, sub.Score)
	assert.True(t, sub.EvaluationComplete)
}
