package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// QuestionType is the tagged-union discriminator for exam questions.
// Adding a type means extending the switch in Validate and in the scoring
// package; both match exhaustively.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Question represents a single exam question. Choice types carry Options
// and CorrectAnswer (a string-encoded option index); short-answer carries
// a free-text ModelAnswer used for keyword scoring.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	Points        int          `json:"points"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	ModelAnswer   string       `json:"model_answer,omitempty"`
	Section       string       `json:"section,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// Objective reports whether the question is auto-gradable by answer index.
func (q *Question) Objective() bool {
	return q.Type == QuestionMultipleChoice || q.Type == QuestionTrueFalse
}

// Validate enforces the type-specific required fields at construction time
// rather than at point of use.
func (q *Question) Validate() error {
	if q.Prompt == "" {
		return errors.New("prompt is required")
	}
	if q.Points <= 0 {
		return errors.New("points must be a positive integer")
	}

	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return errors.New("multiple-choice requires at least 2 options")
		}
		return q.validateCorrectIndex()
	case QuestionTrueFalse:
		if len(q.Options) != 2 {
			return errors.New("true-false requires exactly 2 options")
		}
		return q.validateCorrectIndex()
	case QuestionShortAnswer:
		if len(q.Options) > 0 || q.CorrectAnswer != "" {
			return errors.New("short-answer must not carry options or a correct index")
		}
		if q.ModelAnswer == "" {
			return errors.New("short-answer requires a model answer")
		}
		return nil
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
}

func (q *Question) validateCorrectIndex() error {
	if q.CorrectAnswer == "" {
		return errors.New("correct answer index is required")
	}
	idx, err := strconv.Atoi(q.CorrectAnswer)
	if err != nil {
		return fmt.Errorf("correct answer %q is not a valid index", q.CorrectAnswer)
	}
	if idx < 0 || idx >= len(q.Options) {
		return fmt.Errorf("correct answer index %d out of range [0,%d)", idx, len(q.Options))
	}
	return nil
}

// NewMultipleChoice constructs a validated multiple-choice question.
func NewMultipleChoice(prompt string, points int, options []string, correctIndex int) (Question, error) {
	q := Question{
		ID:            uuid.New(),
		Type:          QuestionMultipleChoice,
		Prompt:        prompt,
		Points:        points,
		Options:       options,
		CorrectAnswer: strconv.Itoa(correctIndex),
	}
	return q, q.Validate()
}

// NewTrueFalse constructs a validated true-false question.
func NewTrueFalse(prompt string, points int, correctIndex int) (Question, error) {
	q := Question{
		ID:            uuid.New(),
		Type:          QuestionTrueFalse,
		Prompt:        prompt,
		Points:        points,
		Options:       []string{"True", "False"},
		CorrectAnswer: strconv.Itoa(correctIndex),
	}
	return q, q.Validate()
}

// NewShortAnswer constructs a validated short-answer question.
func NewShortAnswer(prompt string, points int, modelAnswer string) (Question, error) {
	q := Question{
		ID:          uuid.New(),
		Type:        QuestionShortAnswer,
		Prompt:      prompt,
		Points:      points,
		ModelAnswer: modelAnswer,
	}
	return q, q.Validate()
}

// QuestionForStudent is a question stripped of grading fields, safe to send
// to an exam taker.
type QuestionForStudent struct {
	ID       uuid.UUID    `json:"id"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Points   int          `json:"points"`
	Options  []string     `json:"options,omitempty"`
	Section  string       `json:"section,omitempty"`
	OrderNum int          `json:"order_num"`
}

// ForStudent strips the correct answer and model answer.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:       q.ID,
		Type:     q.Type,
		Prompt:   q.Prompt,
		Points:   q.Points,
		Options:  q.Options,
		Section:  q.Section,
		OrderNum: q.OrderNum,
	}
}

// CreateQuestionRequest is the payload for one question of a new exam.
type CreateQuestionRequest struct {
	Type          QuestionType `json:"type" binding:"required,oneof=multiple-choice true-false short-answer"`
	Prompt        string       `json:"prompt" binding:"required,min=1,max=4000"`
	Points        int          `json:"points" binding:"required,min=1,max=100"`
	Options       []string     `json:"options" binding:"omitempty,max=10"`
	CorrectAnswer string       `json:"correct_answer" binding:"omitempty,max=10"`
	ModelAnswer   string       `json:"model_answer" binding:"omitempty,max=4000"`
	Section       string       `json:"section" binding:"omitempty,max=100"`
}
