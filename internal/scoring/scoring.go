// Package scoring computes submission scores: exact-match grading for
// objective questions and a deterministic keyword heuristic for free-text
// answers. The heuristic result stands until a teacher performs manual
// re-scoring.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// Punctuation stripped during normalization, applied to both the model
// answer and the submitted answer.
const punctuation = ".,/#!$%^&*;:{}=-_`~()"

// minKeywordLen is the minimum rune length for a model-answer token to
// count as a keyword.
const minKeywordLen = 3

// Normalize lowercases the text and strips the punctuation set.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, lower)
}

// Keywords extracts the distinct scoring keywords from a model answer:
// whitespace-split tokens of the normalized text with at least 3 runes.
func Keywords(modelAnswer string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(Normalize(modelAnswer)) {
		if utf8.RuneCountInString(tok) < minKeywordLen || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// matchTier maps the keyword match ratio onto the credit fraction.
func matchTier(ratio float64) float64 {
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio >= 0.6:
		return 0.75
	case ratio >= 0.4:
		return 0.5
	case ratio >= 0.2:
		return 0.25
	default:
		return 0
	}
}

// ScoreShortAnswer grades a free-text answer against the model answer by
// keyword containment. An empty answer or a model answer with no keywords
// scores zero.
func ScoreShortAnswer(submitted, modelAnswer string, points int) int {
	if strings.TrimSpace(submitted) == "" {
		return 0
	}

	keywords := Keywords(modelAnswer)
	if len(keywords) == 0 {
		return 0
	}

	normalized := Normalize(submitted)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(normalized, kw) {
			matched++
		}
	}

	ratio := float64(matched) / float64(len(keywords))
	return int(math.Round(float64(points) * matchTier(ratio)))
}

// ScoreObjective grades a choice question: full points iff the submitted
// answer string equals the stored correct-answer index string.
func ScoreObjective(submitted string, q *model.Question) int {
	if submitted == q.CorrectAnswer {
		return q.Points
	}
	return 0
}

// ScoreQuestion dispatches on the question type tag.
func ScoreQuestion(submitted string, q *model.Question) int {
	switch q.Type {
	case model.QuestionMultipleChoice, model.QuestionTrueFalse:
		return ScoreObjective(submitted, q)
	case model.QuestionShortAnswer:
		return ScoreShortAnswer(submitted, q.ModelAnswer, q.Points)
	default:
		return 0
	}
}

// Percentage computes round(score/maxScore*100), 0 when maxScore is 0.
func Percentage(score, maxScore int) int {
	if maxScore <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(maxScore) * 100))
}

// Evaluate builds a scored Submission from the attempt's answers. A
// submission containing short-answer questions is flagged as needing manual
// evaluation even though the heuristic score is already applied.
func Evaluate(exam *model.Exam, studentID int, answers map[string]string, warnings []model.Warning, startedAt, finishedAt time.Time) *model.Submission {
	score := 0
	hasSubjective := false

	for i := range exam.Questions {
		q := &exam.Questions[i]
		if q.Type == model.QuestionShortAnswer {
			hasSubjective = true
		}
		score += ScoreQuestion(answers[q.ID.String()], q)
	}

	maxScore := exam.MaxScore()

	// Warnings are copied so the submission owns an immutable list.
	warningsCopy := make([]model.Warning, len(warnings))
	copy(warningsCopy, warnings)

	return &model.Submission{
		ID:                 uuid.New(),
		ExamID:             exam.ID,
		StudentID:          studentID,
		Answers:            answers,
		StartedAt:          startedAt,
		FinishedAt:         finishedAt,
		TimeTakenMinutes:   int(math.Round(finishedAt.Sub(startedAt).Minutes())),
		Score:              score,
		MaxScore:           maxScore,
		Percentage:         Percentage(score, maxScore),
		WarningCount:       len(warnings),
		Warnings:           warningsCopy,
		NeedsEvaluation:    hasSubjective,
		EvaluationComplete: !hasSubjective,
	}
}

// ApplyManualScores merges a teacher's short-answer scores into a
// submission, fully replacing the heuristic short-answer contribution. The
// objective part is recomputed from the stored answers; manual scores are
// clamped to [0, points]. Unknown question ids are ignored; choice questions
// cannot be overridden.
func ApplyManualScores(sub *model.Submission, exam *model.Exam, scores map[string]int) {
	total := 0
	for i := range exam.Questions {
		q := &exam.Questions[i]
		qid := q.ID.String()

		if q.Objective() {
			total += ScoreObjective(sub.Answers[qid], q)
			continue
		}

		manual, ok := scores[qid]
		if !ok {
			// Not re-scored: the heuristic value stands.
			manual = ScoreShortAnswer(sub.Answers[qid], q.ModelAnswer, q.Points)
		}
		if manual < 0 {
			manual = 0
		}
		if manual > q.Points {
			manual = q.Points
		}
		total += manual
	}

	sub.Score = total
	sub.Percentage = Percentage(total, sub.MaxScore)
	sub.NeedsEvaluation = false
	sub.EvaluationComplete = true
}
