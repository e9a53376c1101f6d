package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the lifecycle states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "draft"
	ExamStatusScheduled ExamStatus = "scheduled"
	ExamStatusActive    ExamStatus = "active"
	ExamStatusCompleted ExamStatus = "completed"
	ExamStatusExpired   ExamStatus = "expired"
)

// Section is a time-boxed, strictly-ordered subdivision of an exam's
// questions. Once a student advances past a section it cannot be revisited.
type Section struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
}

// Exam represents an exam definition owned by a teacher.
type Exam struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Subject           string     `json:"subject"`
	Semester          string     `json:"semester"`
	TeacherID         int        `json:"teacher_id"`
	Department        string     `json:"department"`
	StartsAt          time.Time  `json:"starts_at"`
	EndsAt            time.Time  `json:"ends_at"`
	DurationMinutes   int        `json:"duration_minutes"`
	Status            ExamStatus `json:"status"`
	WarningsThreshold int        `json:"warnings_threshold"`
	PassScore         int        `json:"pass_score"`
	Sections          []Section  `json:"sections,omitempty"`
	Questions         []Question `json:"questions"`
	AssignedStudents  []int      `json:"assigned_students,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MaxScore is the sum of all question points.
func (e *Exam) MaxScore() int {
	total := 0
	for i := range e.Questions {
		total += e.Questions[i].Points
	}
	return total
}

// Sectioned reports whether the exam partitions its questions into sections.
func (e *Exam) Sectioned() bool {
	return len(e.Sections) > 0
}

// SectionQuestions returns the questions tagged to the named section,
// ordered by OrderNum.
func (e *Exam) SectionQuestions(name string) []Question {
	var out []Question
	for i := range e.Questions {
		if e.Questions[i].Section == name {
			out = append(out, e.Questions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out
}

// QuestionByID finds a question by id, nil if absent.
func (e *Exam) QuestionByID(id uuid.UUID) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// AssignedTo reports whether a student is on the exam's roster.
func (e *Exam) AssignedTo(studentID int) bool {
	for _, id := range e.AssignedStudents {
		if id == studentID {
			return true
		}
	}
	return false
}

// EffectiveStatus resolves the scheduled/active/expired window against now.
// Draft and completed are sticky; a scheduled exam becomes active inside its
// window and expired past it.
func (e *Exam) EffectiveStatus(now time.Time) ExamStatus {
	switch e.Status {
	case ExamStatusDraft, ExamStatusCompleted, ExamStatusExpired:
		return e.Status
	}
	if now.Before(e.StartsAt) {
		return ExamStatusScheduled
	}
	if now.After(e.EndsAt) {
		return ExamStatusExpired
	}
	return ExamStatusActive
}

// Validate enforces the structural invariants of an exam definition:
// every question valid, sectioned exams partition their questions by
// section name, and no question references an unknown section.
func (e *Exam) Validate() error {
	if len(e.Questions) == 0 {
		return errors.New("exam has no questions")
	}
	if e.DurationMinutes <= 0 {
		return errors.New("exam duration must be positive")
	}

	names := make(map[string]bool, len(e.Sections))
	for _, s := range e.Sections {
		if s.Name == "" {
			return errors.New("section name is required")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate section %q", s.Name)
		}
		if s.TimeLimitMinutes <= 0 {
			return fmt.Errorf("section %q time limit must be positive", s.Name)
		}
		names[s.Name] = true
	}

	for i := range e.Questions {
		q := &e.Questions[i]
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if e.Sectioned() {
			if q.Section == "" {
				return fmt.Errorf("question %d: missing section tag", i+1)
			}
			if !names[q.Section] {
				return fmt.Errorf("question %d: unknown section %q", i+1, q.Section)
			}
		} else if q.Section != "" {
			return fmt.Errorf("question %d: section tag on unsectioned exam", i+1)
		}
	}

	if e.Sectioned() {
		for _, s := range e.Sections {
			if len(e.SectionQuestions(s.Name)) == 0 {
				return fmt.Errorf("section %q has no questions", s.Name)
			}
		}
	}

	return nil
}

// ExamPaper is the student-facing rendition of an exam: schedule, sections,
// and questions with all grading fields stripped. This is what gets cached
// in Redis and served to exam takers.
type ExamPaper struct {
	ExamID            uuid.UUID            `json:"exam_id"`
	Title             string               `json:"title"`
	Subject           string               `json:"subject"`
	DurationMinutes   int                  `json:"duration_minutes"`
	WarningsThreshold int                  `json:"warnings_threshold"`
	Sections          []Section            `json:"sections,omitempty"`
	Questions         []QuestionForStudent `json:"questions"`
}

// Paper builds the student-facing paper for this exam.
func (e *Exam) Paper() *ExamPaper {
	questions := make([]QuestionForStudent, len(e.Questions))
	for i := range e.Questions {
		questions[i] = e.Questions[i].ForStudent()
	}
	return &ExamPaper{
		ExamID:            e.ID,
		Title:             e.Title,
		Subject:           e.Subject,
		DurationMinutes:   e.DurationMinutes,
		WarningsThreshold: e.WarningsThreshold,
		Sections:          e.Sections,
		Questions:         questions,
	}
}

// ─── Request payloads ───────────────────────────────────────────────

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title             string                  `json:"title" binding:"required,min=3,max=255"`
	Subject           string                  `json:"subject" binding:"required,min=2,max=100"`
	Semester          string                  `json:"semester" binding:"omitempty,max=20"`
	Department        string                  `json:"department" binding:"omitempty,max=100"`
	StartsAt          time.Time               `json:"starts_at" binding:"required"`
	EndsAt            time.Time               `json:"ends_at" binding:"required,gtfield=StartsAt"`
	DurationMinutes   int                     `json:"duration_minutes" binding:"required,min=1,max=480"`
	WarningsThreshold int                     `json:"warnings_threshold" binding:"required,min=1,max=50"`
	PassScore         int                     `json:"pass_score" binding:"min=0"`
	Sections          []CreateSectionRequest  `json:"sections" binding:"omitempty,dive"`
	Questions         []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
	AssignedStudents  []int                   `json:"assigned_students" binding:"omitempty"`
}

// CreateSectionRequest declares one section of a new exam.
type CreateSectionRequest struct {
	Name             string `json:"name" binding:"required,min=1,max=100"`
	TimeLimitMinutes int    `json:"time_limit_minutes" binding:"required,min=1,max=480"`
}

// ToExam materializes the request as a draft exam owned by teacherID.
func (r *CreateExamRequest) ToExam(teacherID int) *Exam {
	exam := &Exam{
		ID:                uuid.New(),
		Title:             r.Title,
		Subject:           r.Subject,
		Semester:          r.Semester,
		TeacherID:         teacherID,
		Department:        r.Department,
		StartsAt:          r.StartsAt,
		EndsAt:            r.EndsAt,
		DurationMinutes:   r.DurationMinutes,
		Status:            ExamStatusDraft,
		WarningsThreshold: r.WarningsThreshold,
		PassScore:         r.PassScore,
		AssignedStudents:  r.AssignedStudents,
	}

	for _, sec := range r.Sections {
		exam.Sections = append(exam.Sections, Section{
			ID:               uuid.New(),
			Name:             sec.Name,
			TimeLimitMinutes: sec.TimeLimitMinutes,
		})
	}

	for i, q := range r.Questions {
		exam.Questions = append(exam.Questions, Question{
			ID:            uuid.New(),
			Type:          q.Type,
			Prompt:        q.Prompt,
			Points:        q.Points,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			ModelAnswer:   q.ModelAnswer,
			Section:       q.Section,
			OrderNum:      i + 1,
		})
	}

	return exam
}
