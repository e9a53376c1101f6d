package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// ExamRepository handles exam data access. An exam row owns its sections,
// questions, and roster rows; they are written and read together.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// Create inserts an exam with its sections, questions, and assigned
// students in one transaction.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, subject, semester, teacher_id, department,
		                    starts_at, ends_at, duration_minutes, status,
		                    warnings_threshold, pass_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.Semester, e.TeacherID, e.Department,
		e.StartsAt, e.EndsAt, e.DurationMinutes, e.Status,
		e.WarningsThreshold, e.PassScore,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	for i := range e.Sections {
		s := &e.Sections[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO exam_sections (exam_id, name, time_limit_minutes, order_num)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			e.ID, s.Name, s.TimeLimitMinutes, i,
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("insert section %q: %w", s.Name, err)
		}
	}

	for i := range e.Questions {
		q := &e.Questions[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO exam_questions (exam_id, type, prompt, points, options,
			                             correct_answer, model_answer, section, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			e.ID, q.Type, q.Prompt, q.Points, q.Options,
			q.CorrectAnswer, q.ModelAnswer, q.Section, q.OrderNum,
		).Scan(&q.ID)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}

	for _, studentID := range e.AssignedStudents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exam_assignments (exam_id, student_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			e.ID, studentID); err != nil {
			return fmt.Errorf("assign student %d: %w", studentID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves an exam with its sections, questions, and roster.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject, semester, teacher_id, department,
		        starts_at, ends_at, duration_minutes, status,
		        warnings_threshold, pass_score, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Subject, &e.Semester, &e.TeacherID, &e.Department,
		&e.StartsAt, &e.EndsAt, &e.DurationMinutes, &e.Status,
		&e.WarningsThreshold, &e.PassScore, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := r.loadSections(ctx, e); err != nil {
		return nil, err
	}
	if err := r.loadQuestions(ctx, e); err != nil {
		return nil, err
	}
	if err := r.loadRoster(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ExamRepository) loadSections(ctx context.Context, e *model.Exam) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, time_limit_minutes
		 FROM exam_sections WHERE exam_id = $1 ORDER BY order_num`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.TimeLimitMinutes); err != nil {
			return err
		}
		e.Sections = append(e.Sections, s)
	}
	return rows.Err()
}

func (r *ExamRepository) loadQuestions(ctx context.Context, e *model.Exam) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, prompt, points, options, correct_answer, model_answer,
		        COALESCE(section, ''), order_num
		 FROM exam_questions WHERE exam_id = $1 ORDER BY order_num`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Prompt, &q.Points, &q.Options,
			&q.CorrectAnswer, &q.ModelAnswer, &q.Section, &q.OrderNum); err != nil {
			return err
		}
		e.Questions = append(e.Questions, q)
	}
	return rows.Err()
}

func (r *ExamRepository) loadRoster(ctx context.Context, e *model.Exam) error {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id FROM exam_assignments WHERE exam_id = $1 ORDER BY student_id`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		e.AssignedStudents = append(e.AssignedStudents, id)
	}
	return rows.Err()
}

// ListByTeacherPaginated retrieves exams owned by a teacher with pagination.
func (r *ExamRepository) ListByTeacherPaginated(ctx context.Context, teacherID, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE teacher_id = $1`, teacherID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, semester, teacher_id, department,
		        starts_at, ends_at, duration_minutes, status,
		        warnings_threshold, pass_score, created_at, updated_at
		 FROM exams WHERE teacher_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		teacherID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams, err := scanExams(rows)
	return exams, total, err
}

// ListAssignedToStudent returns the exams on a student's roster, newest
// first. Used by the lobby.
func (r *ExamRepository) ListAssignedToStudent(ctx context.Context, studentID int) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.subject, e.semester, e.teacher_id, e.department,
		        e.starts_at, e.ends_at, e.duration_minutes, e.status,
		        e.warnings_threshold, e.pass_score, e.created_at, e.updated_at
		 FROM exams e
		 JOIN exam_assignments a ON a.exam_id = e.id
		 WHERE a.student_id = $1 AND e.status <> $2
		 ORDER BY e.starts_at DESC`,
		studentID, model.ExamStatusDraft)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExams(rows)
}

// ListActive returns all non-draft exams inside their scheduled window.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, semester, teacher_id, department,
		        starts_at, ends_at, duration_minutes, status,
		        warnings_threshold, pass_score, created_at, updated_at
		 FROM exams
		 WHERE status IN ($1, $2) AND ends_at > NOW()
		 ORDER BY starts_at`,
		model.ExamStatusScheduled, model.ExamStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExams(rows)
}

// UpdateStatus updates an exam's lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

func scanExams(rows pgx.Rows) ([]model.Exam, error) {
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.Semester, &e.TeacherID, &e.Department,
			&e.StartsAt, &e.EndsAt, &e.DurationMinutes, &e.Status,
			&e.WarningsThreshold, &e.PassScore, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
