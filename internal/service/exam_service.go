package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/response"
)

// Domain errors.
var (
	ErrNotExamOwner     = errors.New("not the owner of this exam")
	ErrNoQuestions      = errors.New("exam has no questions, cannot schedule")
	ErrExamNotDraft     = errors.New("exam is not a draft")
	ErrExamNotAssigned  = errors.New("student is not assigned to this exam")
	ErrExamNotOpen      = errors.New("exam is not open for taking")
	ErrAlreadySubmitted = errors.New("exam already submitted")
)

// ExamService handles exam lifecycle and the Redis fast lane: the
// student-facing paper and the objective answer key are cached so the
// session hot path never touches PostgreSQL.
type ExamService struct {
	examRepo *repository.ExamRepository
	subRepo  *repository.SubmissionRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	subRepo *repository.SubmissionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		subRepo:  subRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// ListByTeacher retrieves a teacher's exams with pagination.
func (s *ExamService) ListByTeacher(ctx context.Context, teacherID, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	exams, total, err := s.examRepo.ListByTeacherPaginated(ctx, teacherID, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if exams == nil {
		exams = []model.Exam{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}

	return exams, pagination, nil
}

// Create inserts a new exam as a draft after structural validation.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam) error {
	exam.Status = model.ExamStatusDraft
	if err := exam.Validate(); err != nil {
		return err
	}
	return s.examRepo.Create(ctx, exam)
}

// Schedule moves a draft exam into its scheduled window and warms the
// Redis fast lane. Only the owning teacher may schedule.
func (s *ExamService) Schedule(ctx context.Context, examID uuid.UUID, teacherID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if exam.TeacherID != teacherID {
		return ErrNotExamOwner
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusScheduled); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Stringer("exam_id", examID).Msg("Exam scheduled")
	return nil
}

// WarmExamCache loads an exam's student paper and answer key from
// PostgreSQL into Redis. Used by Schedule and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}

	paperJSON, err := json.Marshal(exam.Paper())
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}

	// Answer key: correct index for objective questions, model answer for
	// short answers. Teachers use it in the results view; it never leaves
	// the server.
	answerKey := make(map[string]interface{}, len(exam.Questions))
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if q.Objective() {
			answerKey[q.ID.String()] = q.CorrectAnswer
		} else {
			answerKey[q.ID.String()] = q.ModelAnswer
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPaperKey(exam.ID.String()), paperJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKeyKey(exam.ID.String()))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKeyKey(exam.ID.String()), answerKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Stringer("exam_id", exam.ID).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads every scheduled or active exam into Redis on
// application startup, ahead of the exam-start thundering herd.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No scheduled exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		full, err := s.examRepo.GetByID(ctx, exams[i].ID)
		if err != nil {
			s.log.Warn().Err(err).Stringer("exam_id", exams[i].ID).Msg("Failed to load exam, skipping")
			continue
		}
		if err := s.WarmExamCache(ctx, full); err != nil {
			s.log.Warn().Err(err).Stringer("exam_id", full.ID).Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("Prewarming complete")
	return nil
}

// GetPaper retrieves the cached student paper, falling back to PostgreSQL
// on a cache miss.
func (s *ExamService) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if err == nil {
		var paper model.ExamPaper
		if err := json.Unmarshal(data, &paper); err == nil {
			return &paper, nil
		}
		s.log.Warn().Stringer("exam_id", examID).Msg("Corrupt cached paper, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Stringer("exam_id", examID).Msg("Cache backfill failed")
	}
	return exam.Paper(), nil
}

// CheckEligibility verifies that a student may enter an exam right now:
// assigned, inside the scheduled window, and not already submitted.
func (s *ExamService) CheckEligibility(ctx context.Context, exam *model.Exam, studentID int, now time.Time) error {
	if !exam.AssignedTo(studentID) {
		return ErrExamNotAssigned
	}
	if exam.EffectiveStatus(now) != model.ExamStatusActive {
		return ErrExamNotOpen
	}

	if _, err := s.subRepo.GetByExamAndStudent(ctx, exam.ID, studentID); err == nil {
		return ErrAlreadySubmitted
	}
	return nil
}

// LobbyStatus is the concrete state of an exam in the student lobby.
type LobbyStatus string

const (
	LobbyStatusUpcoming  LobbyStatus = "upcoming"
	LobbyStatusAvailable LobbyStatus = "available"
	LobbyStatusCompleted LobbyStatus = "completed"
	LobbyStatusExpired   LobbyStatus = "expired"
)

// LobbyExam is an exam as displayed in the student lobby.
type LobbyExam struct {
	ExamID          uuid.UUID   `json:"exam_id"`
	Title           string      `json:"title"`
	Subject         string      `json:"subject"`
	StartsAt        time.Time   `json:"starts_at"`
	EndsAt          time.Time   `json:"ends_at"`
	DurationMinutes int         `json:"duration_minutes"`
	LobbyStatus     LobbyStatus `json:"lobby_status"`
	Score           *int        `json:"score,omitempty"`
	Percentage      *int        `json:"percentage,omitempty"`
	Passed          *bool       `json:"passed,omitempty"`
}

// GetLobby returns the exams on a student's roster with their lobby state.
// Finished exams show the score unless they still await manual evaluation.
func (s *ExamService) GetLobby(ctx context.Context, studentID int) ([]LobbyExam, error) {
	exams, err := s.examRepo.ListAssignedToStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list assigned exams: %w", err)
	}

	now := time.Now()
	lobby := make([]LobbyExam, 0, len(exams))

	for i := range exams {
		exam := &exams[i]
		entry := LobbyExam{
			ExamID:          exam.ID,
			Title:           exam.Title,
			Subject:         exam.Subject,
			StartsAt:        exam.StartsAt,
			EndsAt:          exam.EndsAt,
			DurationMinutes: exam.DurationMinutes,
		}

		if sub, err := s.subRepo.GetByExamAndStudent(ctx, exam.ID, studentID); err == nil {
			entry.LobbyStatus = LobbyStatusCompleted
			if !sub.NeedsEvaluation {
				score, pct := sub.Score, sub.Percentage
				passed := sub.Passed(exam.PassScore)
				entry.Score = &score
				entry.Percentage = &pct
				entry.Passed = &passed
			}
			lobby = append(lobby, entry)
			continue
		}

		switch exam.EffectiveStatus(now) {
		case model.ExamStatusScheduled:
			entry.LobbyStatus = LobbyStatusUpcoming
		case model.ExamStatusActive:
			entry.LobbyStatus = LobbyStatusAvailable
		default:
			entry.LobbyStatus = LobbyStatusExpired
		}
		lobby = append(lobby, entry)
	}

	return lobby, nil
}
