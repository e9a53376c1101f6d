package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Upsert writes a finished submission wholesale. One submission per
// (exam, student); redelivery of the same attempt overwrites identically,
// so the persistence queue may deliver more than once.
func (r *SubmissionRepository) Upsert(ctx context.Context, s *model.Submission) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (id, exam_id, student_id, answers, started_at,
		                          finished_at, time_taken_minutes, score, max_score,
		                          percentage, warning_count, needs_evaluation,
		                          evaluation_complete)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (exam_id, student_id) DO UPDATE SET
		   answers = EXCLUDED.answers,
		   started_at = EXCLUDED.started_at,
		   finished_at = EXCLUDED.finished_at,
		   time_taken_minutes = EXCLUDED.time_taken_minutes,
		   score = EXCLUDED.score,
		   max_score = EXCLUDED.max_score,
		   percentage = EXCLUDED.percentage,
		   warning_count = EXCLUDED.warning_count,
		   needs_evaluation = EXCLUDED.needs_evaluation,
		   evaluation_complete = EXCLUDED.evaluation_complete
		 RETURNING id`,
		s.ID, s.ExamID, s.StudentID, s.Answers, s.StartedAt,
		s.FinishedAt, s.TimeTakenMinutes, s.Score, s.MaxScore,
		s.Percentage, s.WarningCount, s.NeedsEvaluation,
		s.EvaluationComplete,
	).Scan(&s.ID)
}

// GetByExamAndStudent retrieves a student's submission for an exam.
func (r *SubmissionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, answers, started_at, finished_at,
		        time_taken_minutes, score, max_score, percentage, warning_count,
		        needs_evaluation, evaluation_complete
		 FROM submissions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Answers, &s.StartedAt, &s.FinishedAt,
		&s.TimeTakenMinutes, &s.Score, &s.MaxScore, &s.Percentage, &s.WarningCount,
		&s.NeedsEvaluation, &s.EvaluationComplete)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a submission by its id.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, answers, started_at, finished_at,
		        time_taken_minutes, score, max_score, percentage, warning_count,
		        needs_evaluation, evaluation_complete
		 FROM submissions WHERE id = $1`, id,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Answers, &s.StartedAt, &s.FinishedAt,
		&s.TimeTakenMinutes, &s.Score, &s.MaxScore, &s.Percentage, &s.WarningCount,
		&s.NeedsEvaluation, &s.EvaluationComplete)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListByExam returns all submissions for an exam, for the teacher's results
// view.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, answers, started_at, finished_at,
		        time_taken_minutes, score, max_score, percentage, warning_count,
		        needs_evaluation, evaluation_complete
		 FROM submissions WHERE exam_id = $1 ORDER BY finished_at`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Answers, &s.StartedAt,
			&s.FinishedAt, &s.TimeTakenMinutes, &s.Score, &s.MaxScore, &s.Percentage,
			&s.WarningCount, &s.NeedsEvaluation, &s.EvaluationComplete); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// UpdateEvaluation stores a manually re-scored submission.
func (r *SubmissionRepository) UpdateEvaluation(ctx context.Context, id uuid.UUID, score, percentage int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET score = $1, percentage = $2,
		     needs_evaluation = FALSE, evaluation_complete = TRUE
		 WHERE id = $3`,
		score, percentage, id)
	return err
}

// CountByExam returns how many submissions an exam has received.
func (r *SubmissionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}
