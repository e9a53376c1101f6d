package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/scoring"
)

// Grading errors.
var (
	ErrEvaluationInvalid = errors.New("scores reference questions that are not short-answer questions of this exam")
	ErrNothingToEvaluate = errors.New("submission has no short-answer questions")
)

// GradingService applies teacher re-scoring to short-answer questions and
// assembles the results view for an exam.
type GradingService struct {
	examRepo *repository.ExamRepository
	subRepo  *repository.SubmissionRepository
	warnRepo *repository.WarningRepository
	log      zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	examRepo *repository.ExamRepository,
	subRepo *repository.SubmissionRepository,
	warnRepo *repository.WarningRepository,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		examRepo: examRepo,
		subRepo:  subRepo,
		warnRepo: warnRepo,
		log:      log.With().Str("component", "grading_service").Logger(),
	}
}

// Evaluate applies a teacher's short-answer scores to a submission. The
// objective portion is recomputed from stored answers, manual scores are
// clamped to each question's points, and the submission is marked
// evaluation-complete.
func (s *GradingService) Evaluate(ctx context.Context, teacherID int, submissionID uuid.UUID, scores map[string]int) (*model.Submission, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.TeacherID != teacherID {
		return nil, ErrNotExamOwner
	}

	shortAnswer := make(map[string]bool)
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if !q.Objective() {
			shortAnswer[q.ID.String()] = true
		}
	}
	if len(shortAnswer) == 0 {
		return nil, ErrNothingToEvaluate
	}
	for qid := range scores {
		if !shortAnswer[qid] {
			return nil, ErrEvaluationInvalid
		}
	}

	scoring.ApplyManualScores(sub, exam, scores)

	if err := s.subRepo.UpdateEvaluation(ctx, sub.ID, sub.Score, sub.Percentage); err != nil {
		return nil, fmt.Errorf("update evaluation: %w", err)
	}

	s.log.Info().
		Stringer("submission_id", sub.ID).
		Int("score", sub.Score).
		Msg("Submission manually evaluated")
	return sub, nil
}

// SubmissionDetail is one submission enriched with its warning evidence.
type SubmissionDetail struct {
	model.Submission
	WarningLog []repository.WarningRecord `json:"warning_log"`
}

// Results returns an exam's submissions for the owning teacher.
func (s *GradingService) Results(ctx context.Context, teacherID int, examID uuid.UUID) ([]model.Submission, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.TeacherID != teacherID {
		return nil, ErrNotExamOwner
	}

	subs, err := s.subRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	return subs, nil
}

// SubmissionDetail returns one submission with its persisted warning log.
func (s *GradingService) SubmissionDetail(ctx context.Context, teacherID int, submissionID uuid.UUID) (*SubmissionDetail, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.TeacherID != teacherID {
		return nil, ErrNotExamOwner
	}

	warnings, err := s.warnRepo.ListByExamAndStudent(ctx, sub.ExamID, sub.StudentID)
	if err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}

	return &SubmissionDetail{Submission: *sub, WarningLog: warnings}, nil
}
