package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/invigilo/invigilo-backend/internal/config"
)

// MonitorRepository provides data access for live exam monitoring. It
// combines Redis (live answer mirrors) and PostgreSQL (persisted warning
// counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// GetAnsweredCounts returns how many questions each of the given students
// has answered so far, read from the Redis answer mirrors in one pipeline.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, examID uuid.UUID, studentIDs []int) (map[int]int64, error) {
	counts := make(map[int]int64, len(studentIDs))
	if len(studentIDs) == 0 {
		return counts, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make(map[int]*redis.IntCmd, len(studentIDs))
	for _, sid := range studentIDs {
		cmds[sid] = pipe.HLen(ctx, config.CacheKey.StudentAnswersKey(examID.String(), sid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for sid, cmd := range cmds {
		counts[sid] = cmd.Val()
	}
	return counts, nil
}

// GetWarningCounts returns the number of persisted integrity warnings per
// student for the given exam.
func (r *MonitorRepository) GetWarningCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM submission_warnings
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}

	return counts, rows.Err()
}
