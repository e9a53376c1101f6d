package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// WarningRecord is one persisted integrity warning, keyed to its exam and
// student rather than a submission id so warnings can land before the
// submission row exists.
type WarningRecord struct {
	ExamID      uuid.UUID         `json:"exam_id"`
	StudentID   int               `json:"student_id"`
	Type        model.WarningType `json:"type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	SnapshotURL *string           `json:"snapshot_url,omitempty"`
}

// WarningRepository handles integrity warning persistence.
type WarningRepository struct {
	pool *pgxpool.Pool
}

// NewWarningRepository creates a new WarningRepository.
func NewWarningRepository(pool *pgxpool.Pool) *WarningRepository {
	return &WarningRepository{pool: pool}
}

// BulkInsert copies a batch of warnings into submission_warnings.
func (r *WarningRepository) BulkInsert(ctx context.Context, batch []WarningRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, w := range batch {
		rows = append(rows, []interface{}{
			w.ExamID, w.StudentID, w.Type, w.OccurredAt, w.SnapshotURL,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"submission_warnings"},
		[]string{"exam_id", "student_id", "type", "occurred_at", "snapshot_url"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertOne inserts a single warning. Fallback path when a bulk copy fails.
func (r *WarningRepository) InsertOne(ctx context.Context, w WarningRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submission_warnings (exam_id, student_id, type, occurred_at, snapshot_url)
		 VALUES ($1, $2, $3, $4, $5)`,
		w.ExamID, w.StudentID, w.Type, w.OccurredAt, w.SnapshotURL)
	return err
}

// ListByExamAndStudent returns a student's warnings for an exam in time
// order.
func (r *WarningRepository) ListByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) ([]WarningRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, student_id, type, occurred_at, snapshot_url
		 FROM submission_warnings
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY occurred_at`, examID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WarningRecord
	for rows.Next() {
		var w WarningRecord
		if err := rows.Scan(&w.ExamID, &w.StudentID, &w.Type, &w.OccurredAt, &w.SnapshotURL); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CountsByExam returns the per-student warning totals for an exam. Used by
// the proctor monitor.
func (r *WarningRepository) CountsByExam(ctx context.Context, examID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM submission_warnings WHERE exam_id = $1
		 GROUP BY student_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var studentID, n int
		if err := rows.Scan(&studentID, &n); err != nil {
			return nil, err
		}
		counts[studentID] = n
	}
	return counts, rows.Err()
}
