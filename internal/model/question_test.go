package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionValidateByType(t *testing.T) {
	cases := []struct {
		name    string
		q       Question
		wantErr string
	}{
		{
			name:    "missing prompt",
			q:       Question{Type: QuestionTrueFalse, Points: 1, Options: []string{"True", "False"}, CorrectAnswer: "0"},
			wantErr: "prompt is required",
		},
		{
			name:    "zero points",
			q:       Question{Type: QuestionShortAnswer, Prompt: "Explain.", ModelAnswer: "because"},
			wantErr: "points must be a positive integer",
		},
		{
			name:    "multiple choice needs two options",
			q:       Question{Type: QuestionMultipleChoice, Prompt: "Pick.", Points: 1, Options: []string{"only"}, CorrectAnswer: "0"},
			wantErr: "at least 2 options",
		},
		{
			name:    "correct index out of range",
			q:       Question{Type: QuestionMultipleChoice, Prompt: "Pick.", Points: 1, Options: []string{"a", "b"}, CorrectAnswer: "2"},
			wantErr: "out of range",
		},
		{
			name:    "correct index not numeric",
			q:       Question{Type: QuestionMultipleChoice, Prompt: "Pick.", Points: 1, Options: []string{"a", "b"}, CorrectAnswer: "b"},
			wantErr: "not a valid index",
		},
		{
			name:    "short answer with options",
			q:       Question{Type: QuestionShortAnswer, Prompt: "Explain.", Points: 2, ModelAnswer: "x", Options: []string{"a"}},
			wantErr: "must not carry options",
		},
		{
			name:    "short answer without model answer",
			q:       Question{Type: QuestionShortAnswer, Prompt: "Explain.", Points: 2},
			wantErr: "requires a model answer",
		},
		{
			name:    "unknown type",
			q:       Question{Type: "essay", Prompt: "Write.", Points: 2},
			wantErr: "unknown question type",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestQuestionConstructors(t *testing.T) {
	mc, err := NewMultipleChoice("Pick.", 2, []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "2", mc.CorrectAnswer)
	assert.True(t, mc.Objective())

	tf, err := NewTrueFalse("True?", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"True", "False"}, tf.Options)

	sa, err := NewShortAnswer("Explain.", 4, "keyword answer")
	require.NoError(t, err)
	assert.False(t, sa.Objective())

	_, err = NewMultipleChoice("Pick.", 2, []string{"a", "b"}, 5)
	assert.Error(t, err)
}

func TestForStudentStripsGradingFields(t *testing.T) {
	q, err := NewMultipleChoice("Pick.", 2, []string{"a", "b"}, 0)
	require.NoError(t, err)

	public := q.ForStudent()
	assert.Equal(t, q.ID, public.ID)
	assert.Equal(t, q.Options, public.Options)
}

func validExam(t *testing.T) *Exam {
	t.Helper()
	q1, err := NewTrueFalse("True?", 1, 0)
	require.NoError(t, err)
	q2, err := NewShortAnswer("Explain.", 4, "because reasons")
	require.NoError(t, err)
	return &Exam{Title: "Exam", DurationMinutes: 30, Questions: []Question{q1, q2}}
}

func TestExamValidate(t *testing.T) {
	assert.NoError(t, validExam(t).Validate())

	empty := &Exam{Title: "Exam", DurationMinutes: 30}
	assert.ErrorContains(t, empty.Validate(), "no questions")

	noDuration := validExam(t)
	noDuration.DurationMinutes = 0
	assert.ErrorContains(t, noDuration.Validate(), "duration")
}

func TestExamValidateSectionPartition(t *testing.T) {
	exam := validExam(t)
	exam.Sections = []Section{{Name: "A", TimeLimitMinutes: 10}}
	// Questions not tagged to a section on a sectioned exam.
	assert.ErrorContains(t, exam.Validate(), "missing section tag")

	exam.Questions[0].Section = "A"
	exam.Questions[1].Section = "B"
	assert.ErrorContains(t, exam.Validate(), `unknown section "B"`)

	exam.Questions[1].Section = "A"
	assert.NoError(t, exam.Validate())

	exam.Sections = append(exam.Sections, Section{Name: "C", TimeLimitMinutes: 5})
	assert.ErrorContains(t, exam.Validate(), `section "C" has no questions`)
}

func TestExamValidateRejectsSectionTagOnUnsectioned(t *testing.T) {
	exam := validExam(t)
	exam.Questions[0].Section = "Ghost"
	assert.ErrorContains(t, exam.Validate(), "section tag on unsectioned exam")
}

func TestExamMaxScore(t *testing.T) {
	exam := validExam(t)
	assert.Equal(t, 5, exam.MaxScore())
}

func TestSectionQuestionsOrdered(t *testing.T) {
	q1, err := NewTrueFalse("First?", 1, 0)
	require.NoError(t, err)
	q2, err := NewTrueFalse("Second?", 1, 0)
	require.NoError(t, err)
	q1.Section, q1.OrderNum = "A", 1
	q2.Section, q2.OrderNum = "A", 0

	exam := &Exam{
		Title:           "Exam",
		DurationMinutes: 10,
		Sections:        []Section{{Name: "A", TimeLimitMinutes: 5}},
		Questions:       []Question{q1, q2},
	}

	got := exam.SectionQuestions("A")
	require.Len(t, got, 2)
	assert.Equal(t, "Second?", got[0].Prompt)
	assert.Equal(t, "First?", got[1].Prompt)
}
